package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/agentbeat/errors"
	"github.com/vinayprograms/agentbeat/logging"
	"github.com/vinayprograms/agentbeat/registry"
	"github.com/vinayprograms/agentbeat/telemetry"
)

// DefaultAnnounceInterval is how often a running manager refreshes its
// registry entry.
const DefaultAnnounceInterval = 10 * time.Second

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// AgentID identifies the agent. Required.
	AgentID string

	// Name is the display name. Default: AgentID
	Name string

	// Capabilities are advertised verbatim.
	Capabilities []string

	// Scan controls port resolution when Start is called without WithPort.
	Scan PortScanConfig

	// Logger for lifecycle events. Default: discard.
	Logger *logging.Logger

	// Tracer for lifecycle spans. Its provider also instruments HTTP.
	// Default: no-op.
	Tracer *telemetry.Tracer

	// Events receives lifecycle events. Default: no-op.
	Events telemetry.Exporter

	// Registry, when set, receives an entry on start that is refreshed
	// every AnnounceInterval and removed on stop.
	Registry registry.Registry

	// AnnounceInterval between registry refreshes. Default: 10s
	AnnounceInterval time.Duration

	// CORSOrigins is passed to the responder.
	CORSOrigins []string

	// ReadHeaderTimeout is passed to the responder.
	ReadHeaderTimeout time.Duration
}

// Validate checks the configuration.
func (c ManagerConfig) Validate() error {
	if c.AgentID == "" {
		return errors.InvalidInput("agent ID is required")
	}
	if c.AnnounceInterval < 0 {
		return errors.InvalidInput("announce interval must not be negative")
	}
	return nil
}

// StartOption customizes a single Start call.
type StartOption func(*startOptions)

type startOptions struct {
	host    string
	port    int
	hasPort bool
}

// WithPort binds exactly port instead of scanning. Zero lets the OS pick.
func WithPort(port int) StartOption {
	return func(o *startOptions) {
		o.port = port
		o.hasPort = true
	}
}

// WithHost overrides the bind host (default "0.0.0.0").
func WithHost(host string) StartOption {
	return func(o *startOptions) {
		o.host = host
	}
}

// Manager owns at most one running Responder for an agent.
//
// Start and Stop are serialized. Status queries read atomics and never wait
// for a Start or Stop in progress.
type Manager struct {
	agentID      string
	name         string
	capabilities []string
	cfg          ManagerConfig
	scanner      *PortScanner
	logger       *logging.Logger
	tracer       *telemetry.Tracer
	events       telemetry.Exporter

	mu        sync.Mutex // serializes Start and Stop
	responder atomic.Pointer[Responder]
	port      atomic.Int32

	announceStop chan struct{}
	announceDone chan struct{}
}

// NewManager creates a stopped manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.NoopTracer()
	}
	if cfg.Events == nil {
		cfg.Events = telemetry.NewNoopExporter()
	}
	if cfg.AnnounceInterval == 0 {
		cfg.AnnounceInterval = DefaultAnnounceInterval
	}

	scanner, err := NewPortScanner(cfg.Scan, cfg.Logger, cfg.Tracer)
	if err != nil {
		return nil, err
	}

	name := cfg.Name
	if name == "" {
		name = cfg.AgentID
	}

	return &Manager{
		agentID:      cfg.AgentID,
		name:         name,
		capabilities: append([]string{}, cfg.Capabilities...),
		cfg:          cfg,
		scanner:      scanner,
		logger:       cfg.Logger,
		tracer:       cfg.Tracer,
		events:       cfg.Events,
	}, nil
}

// AgentID returns the managed agent's ID.
func (m *Manager) AgentID() string {
	return m.agentID
}

// Start runs the responder and returns its heartbeat URL. Without WithPort
// a free port is resolved first. If a responder is already running its URL
// is returned and nothing else happens, whatever options are passed.
//
// On failure no responder is retained and a later Start may be retried.
func (m *Manager) Start(ctx context.Context, opts ...StartOption) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r := m.responder.Load(); r != nil {
		if r.Running() {
			return r.HeartbeatURL(), nil
		}
		// The serve loop died underneath us; clear it so state matches reality.
		m.teardown(ctx)
	}

	o := startOptions{host: DefaultHost}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := m.tracer.StartSpan(ctx, telemetry.SpanStart,
		telemetry.AgentAttributes(m.agentID, m.capabilities)...)
	url, err := m.start(ctx, o)
	m.tracer.EndSpan(span, err, telemetry.AddrAttributes(o.host, int(m.port.Load()))...)

	if err != nil {
		m.logger.StartFailed(m.agentID, err)
		m.events.LogEvent(telemetry.EventStartFailed, map[string]interface{}{
			"agent_id":  m.agentID,
			"code":      string(errors.Code(err)),
			"retryable": errors.IsRetryable(err),
			"error":     err.Error(),
		})
		return "", err
	}
	return url, nil
}

func (m *Manager) start(ctx context.Context, o startOptions) (string, error) {
	port := o.port
	if !o.hasPort {
		res, err := m.scanner.Resolve(ctx)
		if err != nil {
			return "", err
		}
		port = res.Port
		m.events.LogEvent(telemetry.EventPortResolved, map[string]interface{}{
			"agent_id": m.agentID,
			"port":     res.Port,
			"probes":   res.Probes,
		})
	}

	responder, err := NewResponder(ResponderConfig{
		Host:              o.host,
		Port:              port,
		Logger:            m.logger,
		TracerProvider:    m.tracer.Provider(),
		CORSOrigins:       m.cfg.CORSOrigins,
		ReadHeaderTimeout: m.cfg.ReadHeaderTimeout,
	})
	if err != nil {
		return "", err
	}
	responder.Configure(m.agentID, m.name, m.capabilities)

	if err := responder.Start(ctx); err != nil {
		return "", err
	}

	url := responder.HeartbeatURL()
	m.port.Store(int32(responder.Port()))
	m.responder.Store(responder)

	m.events.LogEvent(telemetry.EventStarted, map[string]interface{}{
		"agent_id": m.agentID,
		"url":      url,
		"port":     responder.Port(),
	})

	if m.cfg.Registry != nil {
		entry := m.entry(registry.StatusRunning, url)
		m.announce(ctx, entry)
		m.announceStop = make(chan struct{})
		m.announceDone = make(chan struct{})
		go m.runAnnouncer(entry, m.announceStop, m.announceDone)
	}
	return url, nil
}

// Stop shuts the responder down and forgets it. It never fails; problems
// releasing the listener or withdrawing the registry entry are logged.
// Stopping a stopped manager does nothing.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.responder.Load()
	if r == nil {
		return
	}
	port := int(m.port.Load())

	ctx, span := m.tracer.StartSpan(ctx, telemetry.SpanStop,
		telemetry.AgentAttributes(m.agentID, m.capabilities)...)
	uptime := r.uptime(time.Now())
	err := m.teardown(ctx)
	m.tracer.EndSpan(span, err, telemetry.AddrAttributes(r.Host(), port)...)

	m.events.LogEvent(telemetry.EventStopped, map[string]interface{}{
		"agent_id":       m.agentID,
		"port":           port,
		"uptime_seconds": uptime.Seconds(),
	})
}

// OnShutdown adapts Stop to shutdown.ShutdownHandler.
func (m *Manager) OnShutdown(ctx context.Context) error {
	m.Stop(ctx)
	return nil
}

// teardown stops announcing, withdraws the entry and releases the responder.
// Must be called with m.mu held.
func (m *Manager) teardown(ctx context.Context) error {
	if m.announceStop != nil {
		close(m.announceStop)
		<-m.announceDone
		m.announceStop, m.announceDone = nil, nil
	}
	if m.cfg.Registry != nil {
		m.withdraw(ctx)
	}

	// Unpublish first so status queries report stopped during the drain.
	r := m.responder.Swap(nil)
	err := r.Stop(ctx)
	if err != nil {
		m.logger.StopFailed(m.agentID, err)
	}
	return err
}

// HeartbeatURL returns the current URL and true while running.
func (m *Manager) HeartbeatURL() (string, bool) {
	r := m.responder.Load()
	if r == nil || !r.Running() {
		return "", false
	}
	return r.HeartbeatURL(), true
}

// IsRunning reports whether a responder is running.
func (m *Manager) IsRunning() bool {
	r := m.responder.Load()
	return r != nil && r.Running()
}

// Port returns the most recently bound port, or 0 if none was ever bound.
// It is kept after Stop.
func (m *Manager) Port() int {
	return int(m.port.Load())
}

// --- Registry announcement ---

func (m *Manager) entry(status registry.Status, url string) registry.Entry {
	return registry.Entry{
		ID:           m.agentID,
		Name:         m.name,
		Capabilities: m.capabilities,
		Status:       status,
		HeartbeatURL: url,
	}
}

// announce registers the running entry. Failures are logged, never returned:
// the platform can still poll the URL directly.
func (m *Manager) announce(ctx context.Context, entry registry.Entry) {
	ctx, span := m.tracer.StartSpan(ctx, telemetry.SpanAnnounce,
		telemetry.AgentAttributes(m.agentID, m.capabilities)...)
	err := m.cfg.Registry.Register(ctx, entry)
	m.tracer.EndSpan(span, err)
	if err != nil {
		m.logger.AnnounceFailed(m.agentID, "register", err)
	}
}

func (m *Manager) withdraw(ctx context.Context) {
	err := m.cfg.Registry.Deregister(ctx, m.agentID)
	if err != nil && err != registry.ErrNotFound {
		m.logger.AnnounceFailed(m.agentID, "deregister", err)
	}
}

// runAnnouncer refreshes the registry entry until stop is closed.
func (m *Manager) runAnnouncer(entry registry.Entry, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.AnnounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.AnnounceInterval)
			if err := m.cfg.Registry.Register(ctx, entry); err != nil {
				m.logger.AnnounceFailed(m.agentID, "refresh", err)
			}
			cancel()
		}
	}
}

// StartAgentHeartbeat builds a Manager from cfg and starts it.
// The manager is returned even when Start fails so the caller can retry.
func StartAgentHeartbeat(ctx context.Context, cfg ManagerConfig, opts ...StartOption) (*Manager, string, error) {
	m, err := NewManager(cfg)
	if err != nil {
		return nil, "", err
	}
	url, err := m.Start(ctx, opts...)
	if err != nil {
		return m, "", err
	}
	return m, url, nil
}
