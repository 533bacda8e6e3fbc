package orchestrator

import "fmt"

// WorkshopStatus represents the aggregate status of a workshop.
type WorkshopStatus string

const (
	// WorkshopStatusPlanning indicates the workshop has no deployed attendees yet.
	WorkshopStatusPlanning WorkshopStatus = "planning"

	// WorkshopStatusDeploying indicates at least one attendee deployment is in flight.
	WorkshopStatusDeploying WorkshopStatus = "deploying"

	// WorkshopStatusActive indicates the workshop environments are usable.
	WorkshopStatusActive WorkshopStatus = "active"

	// WorkshopStatusCompleted indicates the workshop has ended and all attendee
	// environments are gone or scheduled for removal.
	WorkshopStatusCompleted WorkshopStatus = "completed"

	// WorkshopStatusDeleting indicates attendee environments are being torn down.
	WorkshopStatusDeleting WorkshopStatus = "deleting"

	// WorkshopStatusFailed indicates at least one attendee is in a failed state.
	WorkshopStatusFailed WorkshopStatus = "failed"
)

// Validate checks if the workshop status is valid.
func (s WorkshopStatus) Validate() error {
	switch s {
	case WorkshopStatusPlanning, WorkshopStatusDeploying, WorkshopStatusActive,
		WorkshopStatusCompleted, WorkshopStatusDeleting, WorkshopStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid workshop status: %s", s)
	}
}

// AttendeeStatus represents the lifecycle state of a single attendee environment.
type AttendeeStatus string

const (
	// AttendeeStatusPlanning indicates the attendee exists but nothing has been provisioned.
	AttendeeStatusPlanning AttendeeStatus = "planning"

	// AttendeeStatusDeploying indicates a deploy operation is in flight.
	AttendeeStatusDeploying AttendeeStatus = "deploying"

	// AttendeeStatusActive indicates the cloud environment is provisioned and usable.
	AttendeeStatusActive AttendeeStatus = "active"

	// AttendeeStatusDeleting indicates a destroy operation is in flight.
	AttendeeStatusDeleting AttendeeStatus = "deleting"

	// AttendeeStatusFailed indicates the last deploy or destroy operation failed.
	AttendeeStatusFailed AttendeeStatus = "failed"

	// AttendeeStatusDeleted indicates the environment is gone. Terminal.
	AttendeeStatusDeleted AttendeeStatus = "deleted"
)

// IsTerminal returns true if no further transitions are expected.
func (s AttendeeStatus) IsTerminal() bool {
	return s == AttendeeStatusDeleted
}

// IsTransitional returns true if an operation is currently in flight.
func (s AttendeeStatus) IsTransitional() bool {
	return s == AttendeeStatusDeploying || s == AttendeeStatusDeleting
}

// Validate checks if the attendee status is valid.
func (s AttendeeStatus) Validate() error {
	switch s {
	case AttendeeStatusPlanning, AttendeeStatusDeploying, AttendeeStatusActive,
		AttendeeStatusDeleting, AttendeeStatusFailed, AttendeeStatusDeleted:
		return nil
	default:
		return fmt.Errorf("invalid attendee status: %s", s)
	}
}

// statusRank orders attendee statuses from worst to best. Lower rank is worse.
// Deleted attendees are excluded from aggregation before ranking applies.
var statusRank = map[AttendeeStatus]int{
	AttendeeStatusFailed:    1,
	AttendeeStatusDeleting:  2,
	AttendeeStatusDeploying: 3,
	AttendeeStatusPlanning:  4,
	AttendeeStatusActive:    5,
}

// workshopStatusFor maps an attendee status to the identically named workshop status.
var workshopStatusFor = map[AttendeeStatus]WorkshopStatus{
	AttendeeStatusFailed:    WorkshopStatusFailed,
	AttendeeStatusDeleting:  WorkshopStatusDeleting,
	AttendeeStatusDeploying: WorkshopStatusDeploying,
	AttendeeStatusPlanning:  WorkshopStatusPlanning,
	AttendeeStatusActive:    WorkshopStatusActive,
}

// AggregateWorkshopStatus derives a workshop's status from its attendee
// statuses using the least-sane rule: the workshop is only as healthy as its
// worst member, so any failure or in-flight destructive operation dominates.
//
// An empty set aggregates to planning. A set where every attendee is deleted
// aggregates to completed. Otherwise the worst remaining status wins.
func AggregateWorkshopStatus(statuses []AttendeeStatus) WorkshopStatus {
	if len(statuses) == 0 {
		return WorkshopStatusPlanning
	}

	worst := AttendeeStatus("")
	worstRank := 0
	for _, s := range statuses {
		if s == AttendeeStatusDeleted {
			continue
		}
		rank, ok := statusRank[s]
		if !ok {
			// Unknown statuses rank best so they never mask a real problem.
			rank = len(statusRank) + 1
		}
		if worst == "" || rank < worstRank {
			worst = s
			worstRank = rank
		}
	}

	if worst == "" {
		return WorkshopStatusCompleted
	}

	if ws, ok := workshopStatusFor[worst]; ok {
		return ws
	}
	return WorkshopStatusPlanning
}

// LogAction identifies the operation a deployment log entry records.
type LogAction string

const (
	// LogActionDeploy records a provisioning attempt.
	LogActionDeploy LogAction = "deploy"

	// LogActionDestroy records a teardown attempt.
	LogActionDestroy LogAction = "destroy"
)

// LogStatus tracks the progress of a logged operation.
type LogStatus string

const (
	// LogStatusStarted is set when the log entry is first written.
	LogStatusStarted LogStatus = "started"

	// LogStatusRunning is set once the provisioner is invoked.
	LogStatusRunning LogStatus = "running"

	// LogStatusCompleted is set when the operation finished successfully.
	LogStatusCompleted LogStatus = "completed"

	// LogStatusFailed is set when the operation failed.
	LogStatusFailed LogStatus = "failed"
)

// IsFinal returns true once the log entry will no longer change.
func (s LogStatus) IsFinal() bool {
	return s == LogStatusCompleted || s == LogStatusFailed
}
