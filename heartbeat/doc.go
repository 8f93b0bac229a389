// Package heartbeat lets a long-running agent advertise liveness to an
// orchestrating platform over HTTP.
//
// # Overview
//
// A Responder serves two read-only JSON endpoints for one agent identity:
// /heartbeat (liveness plus identity) and /health (generic probe, also
// served at /). A Manager owns at most one Responder, picks a free port when
// none is given and exposes idempotent Start/Stop.
//
// # Architecture
//
//	┌──────────────┐  Start(ctx)   ┌──────────────┐   GET /heartbeat   ┌──────────┐
//	│ owning agent │ ────────────> │   Manager    │ <───────────────── │ platform │
//	└──────────────┘               │  ┌────────┐  │   GET /health      └──────────┘
//	                               │  │Responder│ │
//	                               │  └────────┘  │
//	                               └──────────────┘
//	                                      │ Register/Deregister (optional)
//	                                      v
//	                                   registry
//
// # Usage
//
//	mgr, err := heartbeat.NewManager(heartbeat.ManagerConfig{
//	    AgentID:      "agent-1",
//	    Name:         "Code Review Agent",
//	    Capabilities: []string{"code-review"},
//	    Logger:       logger,
//	})
//	url, err := mgr.Start(ctx)                       // scans from 8080
//	url, err = mgr.Start(ctx, heartbeat.WithPort(9000)) // no-op: already running
//	defer mgr.Stop(context.Background())
//
// # Port Resolution
//
// Without WithPort the manager probes StartPort, StartPort+1, ... up to
// MaxAttempts candidates and takes the first one it can bind. The probe is
// released before the responder binds, so another process can win the port
// in between; the responder's own bind error is then returned and a later
// Start scans again.
//
// # Errors
//
// Bind failures carry errors.ErrCodeBindFailed, an empty scan carries
// errors.ErrCodePortExhausted. Stop never returns an error; release
// failures are logged at WARN.
package heartbeat
