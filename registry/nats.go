package registry

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/vinayprograms/agentbeat/errors"
)

// kvKey matches the key alphabet accepted by JetStream KV buckets.
var kvKey = regexp.MustCompile(`^[-/_=a-zA-Z0-9]+(\.[-/_=a-zA-Z0-9]+)*$`)

// NATSRegistry implements Registry on a NATS JetStream KV bucket.
// Entries expire after the bucket TTL unless refreshed.
type NATSRegistry struct {
	conn   *nats.Conn
	kv     jetstream.KeyValue
	config NATSRegistryConfig

	mu     sync.RWMutex
	closed bool
}

// NATSRegistryConfig configures the NATS registry.
type NATSRegistryConfig struct {
	// BucketName is the KV bucket name. Default: "agent-heartbeats"
	BucketName string

	// TTL for entries. Zero means no expiry.
	TTL time.Duration

	// Replicas for the KV store (1-5). Default: 1
	Replicas int
}

// DefaultNATSRegistryConfig returns configuration with sensible defaults.
func DefaultNATSRegistryConfig() NATSRegistryConfig {
	return NATSRegistryConfig{
		BucketName: "agent-heartbeats",
		TTL:        30 * time.Second,
		Replicas:   1,
	}
}

// NewNATSRegistry creates or binds the KV bucket on an existing connection.
func NewNATSRegistry(ctx context.Context, conn *nats.Conn, cfg NATSRegistryConfig) (*NATSRegistry, error) {
	if conn == nil {
		return nil, errors.InvalidInput("nil connection")
	}

	if cfg.BucketName == "" {
		cfg.BucketName = DefaultNATSRegistryConfig().BucketName
	}
	if cfg.Replicas < 1 {
		cfg.Replicas = 1
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, unavailable("create jetstream context", err)
	}

	kvCfg := jetstream.KeyValueConfig{
		Bucket:      cfg.BucketName,
		Description: "agent heartbeat announcements",
		Replicas:    cfg.Replicas,
	}
	if cfg.TTL > 0 {
		kvCfg.TTL = cfg.TTL
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, kvCfg)
	if err != nil {
		return nil, unavailable("create kv bucket", err)
	}

	return &NATSRegistry{
		conn:   conn,
		kv:     kv,
		config: cfg,
	}, nil
}

func (r *NATSRegistry) checkOpen() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	return nil
}

// unavailable tags a JetStream failure with ErrCodeUnavailable.
func unavailable(op string, err error) error {
	return errors.WrapWithCode(err, errors.ErrCodeUnavailable, op)
}

func validKey(id string) error {
	if id == "" || !kvKey.MatchString(id) {
		return ErrInvalidID
	}
	return nil
}

// Register puts the entry under its ID, resetting the TTL.
func (r *NATSRegistry) Register(ctx context.Context, entry Entry) error {
	if err := ValidateEntry(entry); err != nil {
		return err
	}
	if err := validKey(entry.ID); err != nil {
		return err
	}
	if err := r.checkOpen(); err != nil {
		return err
	}

	entry.LastSeen = time.Now()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	if _, err := r.kv.Put(ctx, entry.ID, data); err != nil {
		return unavailable("put to kv", err)
	}
	return nil
}

// Deregister deletes the entry.
func (r *NATSRegistry) Deregister(ctx context.Context, id string) error {
	if err := validKey(id); err != nil {
		return err
	}
	if err := r.checkOpen(); err != nil {
		return err
	}

	if _, err := r.kv.Get(ctx, id); err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return ErrNotFound
		}
		return unavailable("get from kv", err)
	}

	if err := r.kv.Delete(ctx, id); err != nil {
		return unavailable("delete from kv", err)
	}
	return nil
}

// Get retrieves a specific entry.
func (r *NATSRegistry) Get(ctx context.Context, id string) (*Entry, error) {
	if err := validKey(id); err != nil {
		return nil, err
	}
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	kvEntry, err := r.kv.Get(ctx, id)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get from kv", err)
	}

	var entry Entry
	if err := json.Unmarshal(kvEntry.Value(), &entry); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	return &entry, nil
}

// List returns all entries matching the filter.
func (r *NATSRegistry) List(ctx context.Context, filter *Filter) ([]Entry, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	keys, err := r.kv.Keys(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return []Entry{}, nil
		}
		return nil, unavailable("list keys", err)
	}

	result := []Entry{}
	for _, key := range keys {
		kvEntry, err := r.kv.Get(ctx, key)
		if err != nil {
			continue // deleted or expired since Keys
		}

		var entry Entry
		if err := json.Unmarshal(kvEntry.Value(), &entry); err != nil {
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

// Close marks the registry closed. The connection belongs to the caller.
func (r *NATSRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Conn returns the underlying NATS connection.
func (r *NATSRegistry) Conn() *nats.Conn {
	return r.conn
}

// Bucket returns the KV bucket name in use.
func (r *NATSRegistry) Bucket() string {
	return r.config.BucketName
}
