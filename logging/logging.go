// Package logging provides leveled, component-scoped log output for the
// heartbeat responder, its manager and the sidecar that hosts them.
//
// Loggers are values handed to components at construction time. Nothing in
// this package is initialized on import.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a case-insensitive level name ("debug", "warning", ...)
// into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO", "":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

// sink is shared by a logger and every logger derived from it so that
// lines from different components never interleave.
type sink struct {
	mu       sync.Mutex
	output   io.Writer
	minLevel Level
}

// Logger writes one line per entry:
//
//	LEVEL TIMESTAMP [component] message key=value ...
type Logger struct {
	sink      *sink
	component string
}

// New creates a Logger writing INFO and above to stdout.
func New() *Logger {
	return &Logger{sink: &sink{output: os.Stdout, minLevel: LevelInfo}}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return &Logger{sink: &sink{output: io.Discard, minLevel: LevelError}}
}

// WithComponent returns a logger sharing this logger's output and level,
// tagged with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{sink: l.sink, component: component}
}

// Component returns the component tag.
func (l *Logger) Component() string {
	return l.component
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	l.sink.minLevel = level
	l.sink.mu.Unlock()
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.output = w
	l.sink.mu.Unlock()
}

// Enabled reports whether entries at level would be written.
func (l *Logger) Enabled(level Level) bool {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return levelPriority[level] >= levelPriority[l.sink.minLevel]
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields renders fields as key=value pairs in key order.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if !l.Enabled(level) {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.output.Write([]byte(line))
}

// --- Heartbeat lifecycle events ---

// ServerStarted logs that a responder is accepting requests.
func (l *Logger) ServerStarted(agentID, url string) {
	l.Info("heartbeat_started", map[string]interface{}{
		"agent_id": agentID,
		"url":      url,
	})
}

// ServerStopped logs that a responder released its listener.
func (l *Logger) ServerStopped(agentID string, uptime time.Duration) {
	l.Info("heartbeat_stopped", map[string]interface{}{
		"agent_id": agentID,
		"uptime":   uptime.Round(time.Millisecond).String(),
	})
}

// PortResolved logs the outcome of a port scan.
func (l *Logger) PortResolved(port, probes int) {
	l.Debug("port_resolved", map[string]interface{}{
		"port":   port,
		"probes": probes,
	})
}

// StartFailed logs a failed start. The agent keeps running but the platform
// will see it as unreachable, hence ERROR.
func (l *Logger) StartFailed(agentID string, err error) {
	l.Error("heartbeat_start_failed", map[string]interface{}{
		"agent_id": agentID,
		"error":    err.Error(),
	})
}

// StopFailed logs a listener release failure during teardown.
func (l *Logger) StopFailed(agentID string, err error) {
	l.Warn("heartbeat_stop_failed", map[string]interface{}{
		"agent_id": agentID,
		"error":    err.Error(),
	})
}

// AnnounceFailed logs a registry announcement failure.
func (l *Logger) AnnounceFailed(agentID, op string, err error) {
	l.Warn("announce_failed", map[string]interface{}{
		"agent_id": agentID,
		"op":       op,
		"error":    err.Error(),
	})
}

// RequestServed logs one answered heartbeat/health request.
func (l *Logger) RequestServed(method, path string, status int, duration time.Duration, requestID string) {
	l.Debug("request", map[string]interface{}{
		"method":     method,
		"path":       path,
		"status":     status,
		"duration":   duration.String(),
		"request_id": requestID,
	})
}
