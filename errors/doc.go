// Package errors provides the structured error taxonomy used across agentbeat.
//
// Every failure surfaced by the heartbeat responder and manager carries an
// ErrorCode and an ErrorCategory so callers can decide what to do without
// parsing messages.
//
// # Error Codes
//
//   - BIND_FAILED: the responder could not acquire its socket
//   - PORT_EXHAUSTED: no free port in the scanned range
//   - INVALID_INPUT / INVALID_CONFIG: rejected construction arguments
//   - UNAVAILABLE: an announcement backend could not be reached
//   - TIMEOUT / CANCELED: context expiry during a blocking call
//   - INTERNAL / PANIC: unexpected failures
//
// # Usage
//
//	err := errors.New(errors.ErrCodeBindFailed, "bind 0.0.0.0:8080",
//	    errors.WithCause(cause),
//	    errors.WithMetadata("addr", "0.0.0.0:8080"))
//
//	if errors.Is(err, errors.ErrCodePortExhausted) {
//	    // give up on auto port selection
//	}
//
// Errors serialize to JSON, which is how the responder reports 404/405:
//
//	data, _ := json.Marshal(errors.New(errors.ErrCodeNotFound, "no route"))
package errors
