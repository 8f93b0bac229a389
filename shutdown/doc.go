// Package shutdown runs ordered, phased teardown for the heartbeat sidecar.
//
// Handlers register under a phase; lower phases run first and handlers in
// the same phase run concurrently. A SIGTERM or SIGINT, or a direct call to
// Shutdown, starts the sequence exactly once.
//
//	coord := shutdown.NewCoordinator(shutdown.Config{Timeout: 10 * time.Second, Logger: logger})
//	coord.Register("heartbeat", manager, shutdown.PhaseResponder)
//	coord.RegisterFunc("registry", shutdown.PhaseAnnounce, reg.Close)
//	coord.RegisterFunc("telemetry", shutdown.PhaseTelemetry, provider.Shutdown)
//	stop := coord.HandleSignals()
//	defer stop()
//	<-coord.Done()
//
// The responder goes first so the platform stops seeing the agent as alive
// before its registry entry and trace exporters are torn down.
package shutdown
