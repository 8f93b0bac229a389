package shutdown

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/vinayprograms/agentbeat/logging"
)

// Phases used by the sidecar. Lower runs first.
const (
	PhaseResponder = 10
	PhaseAnnounce  = 20
	PhaseTelemetry = 30
)

// Common errors.
var (
	// ErrAlreadyShutdown is returned by Shutdown while another call is running.
	ErrAlreadyShutdown = errors.New("shutdown already in progress")

	// ErrTimeout means the context expired before every phase ran.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHandlerFailed wraps the errors of failed handlers.
	ErrHandlerFailed = errors.New("one or more handlers failed")
)

// ShutdownHandler is implemented by components that need graceful teardown.
// The context expires at the shutdown deadline.
type ShutdownHandler interface {
	OnShutdown(ctx context.Context) error
}

// ShutdownFunc adapts a function to ShutdownHandler.
type ShutdownFunc func(ctx context.Context) error

// OnShutdown implements ShutdownHandler.
func (f ShutdownFunc) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// HandlerResult is the outcome of one handler.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result is the outcome of a whole shutdown.
type Result struct {
	TotalDuration time.Duration
	Handlers      []HandlerResult
	Err           error
}

// Failed lists the names of handlers that returned an error.
func (r *Result) Failed() []string {
	var failed []string
	for _, hr := range r.Handlers {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Config configures a Coordinator.
type Config struct {
	// Timeout bounds signal-triggered and ShutdownWithTimeout shutdowns.
	// Default: 10s
	Timeout time.Duration

	// StopOnError skips later phases once a handler fails.
	StopOnError bool

	// Signals that trigger shutdown. Default: SIGTERM, SIGINT
	Signals []os.Signal

	// Logger receives one line per handler. Default: discard.
	Logger *logging.Logger
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
		Signals: []os.Signal{syscall.SIGTERM, syscall.SIGINT},
	}
}
