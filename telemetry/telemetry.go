// Package telemetry exports heartbeat lifecycle events and provides
// OpenTelemetry tracing for the responder and manager.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

// Lifecycle event names emitted by the heartbeat manager.
const (
	EventStarted      = "heartbeat.started"
	EventStartFailed  = "heartbeat.start_failed"
	EventStopped      = "heartbeat.stopped"
	EventPortResolved = "heartbeat.port_resolved"
)

// Exporter is the interface for lifecycle event sinks.
type Exporter interface {
	// LogEvent records an event with the given name and data.
	LogEvent(name string, data map[string]interface{})
	// Flush sends any buffered data.
	Flush() error
	// Close closes the exporter.
	Close() error
}

// Event represents a telemetry event.
type Event struct {
	Name      string                 `json:"name"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewExporter creates a new exporter based on protocol.
func NewExporter(protocol, endpoint string) (Exporter, error) {
	switch protocol {
	case "http":
		return NewHTTPExporter(endpoint), nil
	case "file":
		return NewFileExporter(endpoint)
	case "noop", "":
		return NewNoopExporter(), nil
	default:
		return nil, fmt.Errorf("unknown telemetry protocol: %s", protocol)
	}
}

// --- HTTP Exporter ---

const (
	// httpBatchSize is the buffered event count that triggers a background flush.
	httpBatchSize = 100

	// httpMaxBuffered caps the buffer while the endpoint is slow; the oldest
	// events are dropped beyond it.
	httpMaxBuffered = 10 * httpBatchSize
)

// HTTPExporter posts batches of events as a JSON array to an endpoint.
// LogEvent never performs I/O: full batches are posted by a background
// goroutine and a batch that fails to post is dropped.
type HTTPExporter struct {
	endpoint string
	client   *http.Client

	mu      sync.Mutex
	buffer  []Event
	dropped int

	sendMu    sync.Mutex // one POST at a time
	kick      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewHTTPExporter creates a new HTTP exporter and starts its flush loop.
func NewHTTPExporter(endpoint string) *HTTPExporter {
	e := &HTTPExporter{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		buffer: make([]Event, 0, httpBatchSize),
		kick:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *HTTPExporter) LogEvent(name string, data map[string]interface{}) {
	e.mu.Lock()
	e.buffer = append(e.buffer, Event{
		Name:      name,
		Timestamp: time.Now(),
		Data:      data,
	})
	if over := len(e.buffer) - httpMaxBuffered; over > 0 {
		e.buffer = append(e.buffer[:0], e.buffer[over:]...)
		e.dropped += over
	}
	full := len(e.buffer) >= httpBatchSize
	e.mu.Unlock()

	if full {
		select {
		case e.kick <- struct{}{}:
		default:
		}
	}
}

// Dropped returns how many events were discarded because the buffer
// overflowed or a post failed.
func (e *HTTPExporter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

func (e *HTTPExporter) run() {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			return
		case <-e.kick:
			e.Flush()
		}
	}
}

// Flush posts everything buffered so far and waits for the result.
func (e *HTTPExporter) Flush() error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	e.mu.Lock()
	batch := e.buffer
	e.buffer = make([]Event, 0, httpBatchSize)
	e.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := e.post(batch); err != nil {
		e.mu.Lock()
		e.dropped += len(batch)
		e.mu.Unlock()
		return err
	}
	return nil
}

func (e *HTTPExporter) post(batch []Event) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("telemetry endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Close stops the flush loop and posts what is left.
func (e *HTTPExporter) Close() error {
	e.closeOnce.Do(func() {
		close(e.stop)
		<-e.done
	})
	return e.Flush()
}

// --- File Exporter ---

// FileExporter appends events to a file, one JSON object per line.
type FileExporter struct {
	file *os.File
	mu   sync.Mutex
}

// NewFileExporter creates a new file exporter.
func NewFileExporter(path string) (*FileExporter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry file: %w", err)
	}
	return &FileExporter{file: file}, nil
}

func (e *FileExporter) LogEvent(name string, data map[string]interface{}) {
	line, err := json.Marshal(Event{
		Name:      name,
		Timestamp: time.Now(),
		Data:      data,
	})
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.file.Write(append(line, '\n'))
}

func (e *FileExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Sync()
}

func (e *FileExporter) Close() error {
	e.Flush()
	return e.file.Close()
}

// --- Memory Exporter ---

// MemoryExporter keeps events in memory. Used by tests.
type MemoryExporter struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryExporter creates an empty memory exporter.
func NewMemoryExporter() *MemoryExporter {
	return &MemoryExporter{}
}

func (e *MemoryExporter) LogEvent(name string, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, Event{Name: name, Timestamp: time.Now(), Data: data})
}

// Events returns a copy of the recorded events.
func (e *MemoryExporter) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Event, len(e.events))
	copy(out, e.events)
	return out
}

// Names returns recorded event names in order.
func (e *MemoryExporter) Names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, len(e.events))
	for i, ev := range e.events {
		names[i] = ev.Name
	}
	return names
}

func (e *MemoryExporter) Flush() error { return nil }
func (e *MemoryExporter) Close() error { return nil }

// --- Noop Exporter ---

// NoopExporter discards all events.
type NoopExporter struct{}

// NewNoopExporter creates a new noop exporter.
func NewNoopExporter() *NoopExporter {
	return &NoopExporter{}
}

func (e *NoopExporter) LogEvent(name string, data map[string]interface{}) {}
func (e *NoopExporter) Flush() error                                      { return nil }
func (e *NoopExporter) Close() error                                      { return nil }
