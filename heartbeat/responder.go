package heartbeat

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"github.com/vinayprograms/agentbeat/errors"
	"github.com/vinayprograms/agentbeat/logging"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

// Routes served by a Responder.
const (
	PathHeartbeat = "/heartbeat"
	PathHealth    = "/health"
	PathRoot      = "/"
)

// Payload markers.
const (
	StatusAlive   = "alive"
	StatusHealthy = "healthy"
	StatusRunning = "running"
)

// HeaderRequestID carries a caller-supplied or generated request ID.
const HeaderRequestID = "X-Request-ID"

// DefaultHost binds all IPv4 interfaces.
const DefaultHost = "0.0.0.0"

const defaultReadHeaderTimeout = 5 * time.Second

// HeartbeatResponse is the /heartbeat body: liveness fields with the
// identity flattened on top. Identity fields win on overlap, so status
// carries the identity marker ("running") once an identity is set.
type HeartbeatResponse struct {
	Status        string   `json:"status"`
	Timestamp     float64  `json:"timestamp"`
	UptimeSeconds float64  `json:"uptime_seconds"`
	AgentID       string   `json:"agent_id"`
	Name          string   `json:"name"`
	Capabilities  []string `json:"capabilities"`
	StartTime     float64  `json:"start_time"`
}

// HealthResponse is the /health and / body.
type HealthResponse struct {
	Status        string  `json:"status"`
	Timestamp     float64 `json:"timestamp"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// ResponderConfig configures a Responder.
type ResponderConfig struct {
	// Host to bind. Default: "0.0.0.0"
	Host string

	// Port to bind. Zero lets the OS pick; Port() reports the result.
	Port int

	// Logger for lifecycle and request logs. Default: discard.
	Logger *logging.Logger

	// TracerProvider instruments served requests. Nil disables tracing.
	TracerProvider trace.TracerProvider

	// CORSOrigins enables CORS for browser dashboards when non-empty.
	CORSOrigins []string

	// ReadHeaderTimeout bounds slow clients. Default: 5s
	ReadHeaderTimeout time.Duration
}

// Responder serves heartbeat and health endpoints for one agent.
type Responder struct {
	host              string
	port              atomic.Int32
	startTime         time.Time
	now               func() time.Time
	logger            *logging.Logger
	readHeaderTimeout time.Duration
	handler           http.Handler

	identity atomic.Pointer[Identity]
	running  atomic.Bool

	mu     sync.Mutex // serializes Start/Stop
	server *http.Server
	done   chan struct{}
}

// NewResponder creates a stopped responder. The start time used for uptime
// is captured here.
func NewResponder(cfg ResponderConfig) (*Responder, error) {
	if cfg.Port < 0 || cfg.Port > maxPort {
		return nil, errors.InvalidInput("port " + strconv.Itoa(cfg.Port) + " out of range")
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = defaultReadHeaderTimeout
	}

	r := &Responder{
		host:              cfg.Host,
		startTime:         time.Now(),
		now:               time.Now,
		logger:            cfg.Logger,
		readHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	r.port.Store(int32(cfg.Port))
	id := NewIdentity("", "", nil, r.startTime)
	r.identity.Store(&id)
	r.handler = r.buildHandler(cfg.TracerProvider, cfg.CORSOrigins)
	return r, nil
}

// Configure replaces the identity served by /heartbeat. It is safe to call
// while serving; each response sees either the old or the new identity.
func (r *Responder) Configure(agentID, name string, capabilities []string) {
	id := NewIdentity(agentID, name, capabilities, r.startTime)
	r.identity.Store(&id)
}

// Identity returns a copy of the current identity.
func (r *Responder) Identity() Identity {
	return r.identity.Load().clone()
}

// Handler returns the routed HTTP handler, for mounting elsewhere or testing.
func (r *Responder) Handler() http.Handler {
	return r.handler
}

// Host returns the bind host.
func (r *Responder) Host() string {
	return r.host
}

// Port returns the configured port, or the bound port once started.
func (r *Responder) Port() int {
	return int(r.port.Load())
}

// Addr returns host:port.
func (r *Responder) Addr() string {
	return net.JoinHostPort(r.host, strconv.Itoa(r.Port()))
}

// HeartbeatURL returns http://host:port/heartbeat.
func (r *Responder) HeartbeatURL() string {
	return "http://" + r.Addr() + PathHeartbeat
}

// Running reports whether the listener is accepting connections.
func (r *Responder) Running() bool {
	return r.running.Load()
}

// Start binds the listener and serves in a background goroutine. It returns
// once the socket is bound. Calling Start on a running responder is a no-op.
func (r *Responder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.server != nil && r.running.Load() {
		return nil
	}
	if r.server != nil {
		// Serve exited on its own; release what is left before rebinding.
		r.server.Close()
		<-r.done
		r.server, r.done = nil, nil
	}

	agentID := r.identity.Load().AgentID
	addr := r.Addr()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return errors.BindFailed(addr, err, errors.WithAgentID(agentID))
	}
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		r.port.Store(int32(tcp.Port))
	}

	srv := &http.Server{
		Handler:           r.handler,
		ReadHeaderTimeout: r.readHeaderTimeout,
	}
	done := make(chan struct{})
	r.server, r.done = srv, done
	r.running.Store(true)

	go func() {
		defer close(done)
		err := srv.Serve(ln)
		r.running.Store(false)
		if err != nil && err != http.ErrServerClosed {
			r.logger.Error("heartbeat_serve_failed", map[string]interface{}{
				"agent_id": agentID,
				"error":    err.Error(),
			})
		}
	}()

	r.logger.ServerStarted(agentID, r.HeartbeatURL())
	return nil
}

// Stop shuts the server down gracefully within ctx, then forcibly. It
// returns after the listener is released. Stopping a stopped responder is a
// no-op.
func (r *Responder) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.server == nil {
		return nil
	}
	srv, done := r.server, r.done
	r.server, r.done = nil, nil
	r.running.Store(false)

	var stopErr error
	if err := srv.Shutdown(ctx); err != nil {
		srv.Close()
		stopErr = errors.Wrap(err, "heartbeat server shutdown")
	}
	<-done

	r.logger.ServerStopped(r.identity.Load().AgentID, r.uptime(r.now()))
	return stopErr
}

func (r *Responder) uptime(now time.Time) time.Duration {
	if d := now.Sub(r.startTime); d > 0 {
		return d
	}
	return 0
}

func (r *Responder) heartbeat() HeartbeatResponse {
	now := r.now()
	id := r.identity.Load()
	resp := HeartbeatResponse{
		Status:        StatusAlive,
		Timestamp:     epochSeconds(now),
		UptimeSeconds: r.uptime(now).Seconds(),
		AgentID:       id.AgentID,
		Name:          id.Name,
		Capabilities:  id.Capabilities,
		StartTime:     epochSeconds(id.StartTime),
	}
	if id.Status != "" {
		resp.Status = id.Status
	}
	return resp
}

func (r *Responder) health() HealthResponse {
	now := r.now()
	return HealthResponse{
		Status:        StatusHealthy,
		Timestamp:     epochSeconds(now),
		UptimeSeconds: r.uptime(now).Seconds(),
	}
}

// --- HTTP plumbing ---

func (r *Responder) buildHandler(tp trace.TracerProvider, origins []string) http.Handler {
	router := httprouter.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.HandleOPTIONS = false
	router.HandleMethodNotAllowed = true

	router.GET(PathHeartbeat, r.handleHeartbeat)
	router.GET(PathHealth, r.handleHealth)
	router.GET(PathRoot, r.handleHealth)

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusNotFound, errors.New(errors.ErrCodeNotFound, "no route for "+req.URL.Path))
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusMethodNotAllowed,
			errors.New(errors.ErrCodeMethodNotAllowed, req.Method+" not allowed on "+req.URL.Path))
	})
	router.PanicHandler = func(w http.ResponseWriter, req *http.Request, rcv interface{}) {
		err := errors.RecoverPanic(rcv)
		r.logger.Error("handler_panic", map[string]interface{}{
			"path":  req.URL.Path,
			"error": err.Error(),
		})
		writeError(w, http.StatusInternalServerError, err)
	}

	var h http.Handler = router
	if len(origins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet},
		}).Handler(h)
	}
	h = r.withRequestLog(h)

	if tp != nil {
		h = otelhttp.NewHandler(h, "heartbeat",
			otelhttp.WithTracerProvider(tp),
			otelhttp.WithMeterProvider(metricnoop.NewMeterProvider()),
			otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
				return req.Method + " " + req.URL.Path
			}),
		)
	}
	return h
}

func (r *Responder) handleHeartbeat(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, r.heartbeat())
}

func (r *Responder) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, r.health())
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (r *Responder) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requestID := req.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, requestID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		r.logger.RequestServed(req.Method, req.URL.Path, rec.status, time.Since(start), requestID)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err *errors.Error) {
	writeJSON(w, status, map[string]interface{}{"error": err})
}
