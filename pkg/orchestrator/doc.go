// Package orchestrator contains the workshop provisioning core: the
// per-attendee lifecycle state machine, the sequential whole-workshop
// deployment coordinator, the workshop status aggregation rule, and the
// reconciliation sweeps that correct drift between the persisted model
// and the real cloud resources.
//
// The package defines the contracts it consumes (Store, Provisioner,
// EventSink, Notifier, JobQueue) and leaves their implementations to
// pkg/stores, pkg/provisioner, pkg/telemetry, pkg/notify and pkg/jobs.
package orchestrator
