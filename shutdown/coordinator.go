package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"time"

	"github.com/vinayprograms/agentbeat/logging"
)

type registration struct {
	name    string
	handler ShutdownHandler
	phase   int
}

// Coordinator runs registered handlers phase by phase, once.
type Coordinator struct {
	config Config
	logger *logging.Logger

	mu       sync.Mutex
	handlers []registration
	started  bool
	done     chan struct{}
	result   *Result
	signals  chan os.Signal
}

// NewCoordinator creates a coordinator. Zero config fields take defaults.
func NewCoordinator(config Config) *Coordinator {
	def := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if len(config.Signals) == 0 {
		config.Signals = def.Signals
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Coordinator{
		config:  config,
		logger:  logger,
		done:    make(chan struct{}),
		signals: make(chan os.Signal, 1),
	}
}

// Register adds a handler under phase.
func (c *Coordinator) Register(name string, handler ShutdownHandler, phase int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, registration{name: name, handler: handler, phase: phase})
}

// RegisterFunc registers fn under phase.
func (c *Coordinator) RegisterFunc(name string, phase int, fn func(ctx context.Context) error) {
	c.Register(name, ShutdownFunc(fn), phase)
}

// Shutdown runs every phase in order. Only the first call does work; later
// calls wait for it and return its error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		select {
		case <-c.done:
			return c.result.Err
		case <-ctx.Done():
			return ErrAlreadyShutdown
		}
	}
	c.started = true
	handlers := append([]registration(nil), c.handlers...)
	c.mu.Unlock()

	result := c.run(ctx, handlers)

	c.mu.Lock()
	c.result = result
	c.mu.Unlock()
	close(c.done)
	return result.Err
}

// ShutdownWithTimeout calls Shutdown with the configured timeout.
func (c *Coordinator) ShutdownWithTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals starts shutdown on the first configured signal. The returned
// function stops listening.
func (c *Coordinator) HandleSignals() (stop func()) {
	signal.Notify(c.signals, c.config.Signals...)
	quit := make(chan struct{})

	go func() {
		select {
		case sig := <-c.signals:
			c.logger.Info("shutdown_signal", map[string]interface{}{"signal": sig.String()})
			if err := c.ShutdownWithTimeout(); err != nil {
				c.logger.Warn("shutdown_incomplete", map[string]interface{}{"error": err.Error()})
			}
		case <-quit:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(c.signals)
			close(quit)
		})
	}
}

// Trigger behaves as if the first configured signal was received.
func (c *Coordinator) Trigger() {
	select {
	case c.signals <- c.config.Signals[0]:
	default:
	}
}

// Done is closed when shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Result returns the shutdown outcome, or nil before Done is closed.
func (c *Coordinator) Result() *Result {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.result
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context, handlers []registration) *Result {
	start := time.Now()
	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	result := &Result{Handlers: make([]HandlerResult, 0, len(handlers))}
	var failures []error

	for _, group := range groupByPhase(handlers) {
		if ctx.Err() != nil {
			failures = append(failures, ErrTimeout)
			break
		}

		phaseResults := c.runPhase(ctx, group)
		result.Handlers = append(result.Handlers, phaseResults...)

		phaseFailed := false
		for _, hr := range phaseResults {
			if hr.Err != nil {
				phaseFailed = true
				failures = append(failures, fmt.Errorf("%s: %w", hr.Name, hr.Err))
			}
		}
		if phaseFailed && c.config.StopOnError {
			break
		}
	}

	result.TotalDuration = time.Since(start)
	switch {
	case len(failures) == 1 && failures[0] == ErrTimeout:
		result.Err = ErrTimeout
	case len(failures) > 0:
		result.Err = fmt.Errorf("%w: %w", ErrHandlerFailed, errors.Join(failures...))
	}
	c.logger.Info("shutdown_complete", map[string]interface{}{
		"duration": result.TotalDuration.Round(time.Millisecond).String(),
		"failed":   len(result.Failed()),
	})
	return result
}

// runPhase runs one phase's handlers concurrently.
func (c *Coordinator) runPhase(ctx context.Context, handlers []registration) []HandlerResult {
	results := make([]HandlerResult, len(handlers))
	var wg sync.WaitGroup

	for i, reg := range handlers {
		wg.Add(1)
		go func(idx int, r registration) {
			defer wg.Done()

			start := time.Now()
			err := r.handler.OnShutdown(ctx)
			hr := HandlerResult{Name: r.name, Phase: r.phase, Duration: time.Since(start), Err: err}
			results[idx] = hr

			fields := map[string]interface{}{
				"handler":  hr.Name,
				"phase":    hr.Phase,
				"duration": hr.Duration.Round(time.Millisecond).String(),
			}
			if err != nil {
				fields["error"] = err.Error()
				c.logger.Warn("shutdown_handler_failed", fields)
			} else {
				c.logger.Debug("shutdown_handler_done", fields)
			}
		}(i, reg)
	}

	wg.Wait()
	return results
}

// groupByPhase splits phase-sorted handlers into consecutive groups.
func groupByPhase(handlers []registration) [][]registration {
	var groups [][]registration
	for i, h := range handlers {
		if i == 0 || h.phase != handlers[i-1].phase {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], h)
	}
	return groups
}
