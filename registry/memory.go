package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry is an in-memory implementation of Registry.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	closed  bool

	// ttl hides entries not refreshed within this window. Zero disables expiry.
	ttl time.Duration
	now func() time.Time
}

// MemoryConfig configures the in-memory registry.
type MemoryConfig struct {
	// TTL specifies how long an entry stays visible without a refresh.
	// Zero means entries never expire.
	TTL time.Duration
}

// NewMemoryRegistry creates a new in-memory registry.
func NewMemoryRegistry(cfg MemoryConfig) *MemoryRegistry {
	return &MemoryRegistry{
		entries: make(map[string]Entry),
		ttl:     cfg.TTL,
		now:     time.Now,
	}
}

// Register adds or refreshes an entry.
func (r *MemoryRegistry) Register(ctx context.Context, entry Entry) error {
	if err := ValidateEntry(entry); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	entry.LastSeen = r.now()
	entry.Capabilities = append([]string(nil), entry.Capabilities...)
	r.entries[entry.ID] = entry
	return nil
}

// Deregister removes an entry.
func (r *MemoryRegistry) Deregister(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if _, ok := r.entries[id]; !ok {
		return ErrNotFound
	}
	delete(r.entries, id)
	return nil
}

// Get retrieves a specific entry.
func (r *MemoryRegistry) Get(ctx context.Context, id string) (*Entry, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	entry, ok := r.entries[id]
	if !ok || r.stale(entry) {
		return nil, ErrNotFound
	}
	return &entry, nil
}

// List returns all live entries matching the filter.
func (r *MemoryRegistry) List(ctx context.Context, filter *Filter) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	result := []Entry{}
	for _, entry := range r.entries {
		if r.stale(entry) {
			continue
		}
		if MatchesFilter(entry, filter) {
			result = append(result, entry)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Close shuts down the registry.
func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// stale reports whether entry outlived the TTL. Caller holds the lock.
func (r *MemoryRegistry) stale(entry Entry) bool {
	return r.ttl > 0 && r.now().Sub(entry.LastSeen) > r.ttl
}
