// Package registry announces where an agent's heartbeat endpoint can be
// polled.
//
// When a heartbeat manager starts its responder it registers an Entry
// carrying the agent identity and heartbeat URL; it refreshes the entry
// periodically and deregisters it on stop. Platforms read the registry to
// learn which URLs to poll.
//
// # Available Implementations
//
//   - MemoryRegistry: in-process, for tests and single-node setups
//   - NATSRegistry: NATS JetStream KV bucket, entries expire after the bucket TTL
//
// # Usage
//
//	reg := registry.NewMemoryRegistry(registry.MemoryConfig{TTL: 30 * time.Second})
//	err := reg.Register(ctx, registry.Entry{
//	    ID:           "agent-1",
//	    Name:         "Code Review Agent",
//	    Capabilities: []string{"code-review"},
//	    Status:       registry.StatusRunning,
//	    HeartbeatURL: "http://10.0.0.5:8080/heartbeat",
//	})
//
//	entries, _ := reg.List(ctx, &registry.Filter{Capability: "code-review"})
//
// # Recommendations
//
//   - Refresh entries at a third of the TTL
//   - Treat registry failures as non-fatal: the responder still answers polls
package registry
