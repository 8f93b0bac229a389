package registry

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	ErrNotFound  = errors.New("agent not found")
	ErrClosed    = errors.New("registry closed")
	ErrInvalidID = errors.New("invalid agent ID")
)

// Status represents an agent's operational state as announced.
type Status string

const (
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// Entry is what an agent announces about its heartbeat endpoint.
type Entry struct {
	// ID uniquely identifies the agent.
	ID string `json:"id"`

	// Name is a human-readable name for the agent.
	Name string `json:"name"`

	// Capabilities lists what the agent can do.
	Capabilities []string `json:"capabilities"`

	// Status is the agent's current operational state.
	Status Status `json:"status"`

	// HeartbeatURL is where the platform polls for liveness.
	HeartbeatURL string `json:"heartbeat_url"`

	// Metadata contains additional key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`

	// LastSeen is set by the registry on every Register.
	LastSeen time.Time `json:"last_seen"`
}

// Filter specifies criteria for listing entries. Zero fields match everything.
type Filter struct {
	Status     Status
	Capability string
}

// Registry stores heartbeat announcements.
type Registry interface {
	// Register adds or refreshes an entry. LastSeen is set to now.
	Register(ctx context.Context, entry Entry) error

	// Deregister removes an entry.
	// Returns ErrNotFound if the agent isn't registered.
	Deregister(ctx context.Context, id string) error

	// Get retrieves a single entry.
	Get(ctx context.Context, id string) (*Entry, error)

	// List returns entries matching the optional filter, sorted by ID.
	List(ctx context.Context, filter *Filter) ([]Entry, error)

	// Close releases the registry client. The backing store is untouched.
	Close() error
}

// ValidateEntry checks that an entry can be registered.
func ValidateEntry(entry Entry) error {
	if entry.ID == "" {
		return ErrInvalidID
	}
	return nil
}

// HasCapability checks if an entry lists a specific capability.
func HasCapability(entry Entry, capability string) bool {
	for _, c := range entry.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// MatchesFilter checks if an entry matches the filter criteria.
func MatchesFilter(entry Entry, filter *Filter) bool {
	if filter == nil {
		return true
	}
	if filter.Status != "" && entry.Status != filter.Status {
		return false
	}
	if filter.Capability != "" && !HasCapability(entry, filter.Capability) {
		return false
	}
	return true
}
