// Package telemetry provides observability instrumentation for LabForge.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and event publishing into a
// unified system for monitoring workshop provisioning.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Publishing - Async push-notification fan-out to subscribers
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "labforge"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Structured Logging
//
// The logger provides component-specific logging with field helpers for the
// domain identifiers:
//
//	logger := tel.Logger.NewComponentLogger("lifecycle")
//	logger = logger.WithWorkshopID("ws-123").WithAttendeeID("att-456")
//	logger.Info("Starting attendee deployment")
//	logger.WithError(err).Error("Deployment failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Event Publishing
//
// The EventPublisher is the push-notification boundary of the orchestrator.
// Status transitions and progress steps are published to it and fanned out
// asynchronously to registered subscribers:
//
//	tel.Events.SubscribeToWorkshop(workshopID, func(ev telemetry.Event) {
//	    // forward to a websocket, CLI watcher, ...
//	})
package telemetry
