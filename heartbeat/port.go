package heartbeat

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strconv"
	"syscall"

	"github.com/vinayprograms/agentbeat/errors"
	"github.com/vinayprograms/agentbeat/logging"
	"github.com/vinayprograms/agentbeat/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Port scan defaults.
const (
	DefaultStartPort   = 8080
	DefaultMaxAttempts = 100
	maxPort            = 65535
)

// ProbeStatus classifies a single port probe.
type ProbeStatus int

const (
	// ProbeFree means the port could be bound and was released again.
	ProbeFree ProbeStatus = iota
	// ProbeOccupied means the bind failed with "address in use".
	ProbeOccupied
	// ProbeError means the bind failed for any other reason.
	ProbeError
)

func (s ProbeStatus) String() string {
	switch s {
	case ProbeFree:
		return "free"
	case ProbeOccupied:
		return "occupied"
	case ProbeError:
		return "error"
	default:
		return fmt.Sprintf("ProbeStatus(%d)", int(s))
	}
}

// ProbeResult is the outcome of probing one port.
type ProbeResult struct {
	Port   int
	Status ProbeStatus
	Err    error
}

// ProbeFunc checks whether host:port can be bound right now.
type ProbeFunc func(ctx context.Context, host string, port int) ProbeResult

// ProbePort binds host:port, releases it immediately and classifies the
// outcome. An empty host probes all interfaces.
func ProbePort(ctx context.Context, host string, port int) ProbeResult {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err == nil {
		ln.Close()
		return ProbeResult{Port: port, Status: ProbeFree}
	}
	if stderrors.Is(err, syscall.EADDRINUSE) {
		return ProbeResult{Port: port, Status: ProbeOccupied, Err: err}
	}
	return ProbeResult{Port: port, Status: ProbeError, Err: err}
}

// PortScanConfig configures sequential port resolution.
type PortScanConfig struct {
	// StartPort is the first candidate. Default: 8080
	StartPort int

	// MaxAttempts is the number of consecutive candidates tried. Default: 100
	MaxAttempts int

	// Host is the interface probed. Empty means all interfaces.
	Host string

	// Probe replaces ProbePort, mainly for tests.
	Probe ProbeFunc
}

// DefaultPortScanConfig returns the standard scan window [8080, 8180).
func DefaultPortScanConfig() PortScanConfig {
	return PortScanConfig{
		StartPort:   DefaultStartPort,
		MaxAttempts: DefaultMaxAttempts,
	}
}

func (c *PortScanConfig) applyDefaults() {
	if c.StartPort == 0 {
		c.StartPort = DefaultStartPort
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Probe == nil {
		c.Probe = ProbePort
	}
}

// Validate checks the scan window.
func (c PortScanConfig) Validate() error {
	if c.StartPort < 1 || c.StartPort > maxPort {
		return errors.InvalidInput(fmt.Sprintf("start port %d out of range", c.StartPort))
	}
	if c.MaxAttempts < 1 {
		return errors.InvalidInput(fmt.Sprintf("max attempts must be positive, got %d", c.MaxAttempts))
	}
	return nil
}

// ScanResult reports a successful resolution.
type ScanResult struct {
	Port     int
	Probes   int
	Occupied int
	Failed   int
}

// PortScanner finds the first bindable port in a window.
type PortScanner struct {
	cfg    PortScanConfig
	logger *logging.Logger
	tracer *telemetry.Tracer
}

// NewPortScanner creates a scanner. Zero StartPort and MaxAttempts take the
// defaults.
func NewPortScanner(cfg PortScanConfig, logger *logging.Logger, tracer *telemetry.Tracer) (*PortScanner, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if tracer == nil {
		tracer = telemetry.NoopTracer()
	}
	return &PortScanner{cfg: cfg, logger: logger, tracer: tracer}, nil
}

// Config returns the effective scan configuration.
func (s *PortScanner) Config() PortScanConfig {
	return s.cfg
}

// Resolve probes StartPort, StartPort+1, ... and returns the first free one.
// Occupied ports and probe errors both advance the scan. Candidates above
// 65535 are never probed. When nothing is free the error carries
// errors.ErrCodePortExhausted and the range [StartPort, StartPort+MaxAttempts).
func (s *PortScanner) Resolve(ctx context.Context) (ScanResult, error) {
	ctx, span := s.tracer.StartSpan(ctx, telemetry.SpanResolvePort,
		attribute.Int("scan.start_port", s.cfg.StartPort),
		attribute.Int("scan.max_attempts", s.cfg.MaxAttempts),
	)

	res, err := s.resolve(ctx)
	s.tracer.EndSpan(span, err,
		attribute.Int("scan.probes", res.Probes),
		attribute.Int("scan.port", res.Port),
	)
	if err != nil {
		return res, err
	}
	s.logger.PortResolved(res.Port, res.Probes)
	return res, nil
}

func (s *PortScanner) resolve(ctx context.Context) (ScanResult, error) {
	var (
		res     ScanResult
		lastErr error
	)
	start, end := s.cfg.StartPort, s.cfg.StartPort+s.cfg.MaxAttempts

	for port := start; port < end && port <= maxPort; port++ {
		if err := ctx.Err(); err != nil {
			return ScanResult{Probes: res.Probes}, errors.Wrap(err, "port scan interrupted")
		}

		probe := s.cfg.Probe(ctx, s.cfg.Host, port)
		res.Probes++

		switch probe.Status {
		case ProbeFree:
			res.Port = port
			return res, nil
		case ProbeOccupied:
			res.Occupied++
		default:
			res.Failed++
			s.logger.Debug("port_probe_failed", map[string]interface{}{
				"port":  port,
				"error": fmt.Sprint(probe.Err),
			})
		}
		if probe.Err != nil {
			lastErr = probe.Err
		}
	}

	return ScanResult{Probes: res.Probes, Occupied: res.Occupied, Failed: res.Failed},
		errors.PortExhausted(start, end,
			errors.WithCause(lastErr),
			errors.WithMetadata("occupied", strconv.Itoa(res.Occupied)),
			errors.WithMetadata("failed", strconv.Itoa(res.Failed)),
		)
}

// FindFreePort scans [startPort, startPort+maxAttempts) on all interfaces.
func FindFreePort(ctx context.Context, startPort, maxAttempts int) (int, error) {
	scanner, err := NewPortScanner(PortScanConfig{
		StartPort:   startPort,
		MaxAttempts: maxAttempts,
	}, nil, nil)
	if err != nil {
		return 0, err
	}
	res, err := scanner.Resolve(ctx)
	if err != nil {
		return 0, err
	}
	return res.Port, nil
}

// ExhaustedRange extracts the scanned range from a port exhaustion error.
func ExhaustedRange(err error) (start, end int, ok bool) {
	if !errors.Is(err, errors.ErrCodePortExhausted) {
		return 0, 0, false
	}
	md := errors.GetMetadata(err)
	start, err1 := strconv.Atoi(md["range_start"])
	end, err2 := strconv.Atoi(md["range_end"])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return start, end, true
}
