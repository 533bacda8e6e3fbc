package orchestrator

import (
	"context"
	"time"
)

// Store is the persistence contract the orchestration core depends on.
// Implementations are expected to be transactional per call; the core never
// holds a session across provisioner invocations.
type Store interface {
	// CreateWorkshop persists a new workshop.
	CreateWorkshop(ctx context.Context, workshop *Workshop) error

	// GetWorkshop retrieves a workshop by ID.
	GetWorkshop(ctx context.Context, id string) (*Workshop, error)

	// UpdateWorkshop persists changes to a workshop's descriptive fields,
	// dates and deletion schedule.
	UpdateWorkshop(ctx context.Context, workshop *Workshop) error

	// UpdateWorkshopStatus sets a workshop's status and bumps its updated_at.
	UpdateWorkshopStatus(ctx context.Context, id string, status WorkshopStatus) error

	// ScheduleWorkshopDeletion records the teardown deadline and sets the
	// given status in the same write.
	ScheduleWorkshopDeletion(ctx context.Context, id string, at time.Time, status WorkshopStatus) error

	// ListWorkshopsByStatus returns workshops in any of the given statuses.
	ListWorkshopsByStatus(ctx context.Context, statuses ...WorkshopStatus) ([]*Workshop, error)

	// ListEndedWorkshops returns workshops still in active whose end date
	// has passed.
	ListEndedWorkshops(ctx context.Context, now time.Time) ([]*Workshop, error)

	// ListExpiredWorkshops returns active/completed workshops whose deletion
	// schedule has passed.
	ListExpiredWorkshops(ctx context.Context, now time.Time) ([]*Workshop, error)

	// ListStuckDeploying returns workshops that have been in deploying with no
	// update since before the cutoff.
	ListStuckDeploying(ctx context.Context, cutoff time.Time) ([]*Workshop, error)

	// DeleteWorkshop removes a workshop row. Attendee rows cascade.
	DeleteWorkshop(ctx context.Context, id string) error

	// CreateAttendee persists a new attendee.
	CreateAttendee(ctx context.Context, attendee *Attendee) error

	// GetAttendee retrieves an attendee by ID.
	GetAttendee(ctx context.Context, id string) (*Attendee, error)

	// ListAttendeesByWorkshop returns a workshop's attendees in creation order.
	ListAttendeesByWorkshop(ctx context.Context, workshopID string) ([]*Attendee, error)

	// ListAttendeesInStatus returns attendees in any of the given statuses.
	// An empty workshopID matches attendees of every workshop.
	ListAttendeesInStatus(ctx context.Context, workshopID string, statuses ...AttendeeStatus) ([]*Attendee, error)

	// UpdateAttendeeStatus sets an attendee's status and bumps its updated_at.
	UpdateAttendeeStatus(ctx context.Context, id string, status AttendeeStatus) error

	// SetAttendeeResources records or clears the attendee's external resource
	// identifiers. Nil values clear.
	SetAttendeeResources(ctx context.Context, id string, projectID, userURN *string) error

	// CreateDeploymentLog appends a new deployment log entry.
	CreateDeploymentLog(ctx context.Context, log *DeploymentLog) error

	// UpdateDeploymentLogStatus advances a log entry to a non-final status.
	UpdateDeploymentLogStatus(ctx context.Context, id string, status LogStatus) error

	// CompleteDeploymentLog finalizes a log entry with its captured output or
	// error message and stamps the completion time.
	CompleteDeploymentLog(ctx context.Context, id string, status LogStatus, output, errorMessage string) error

	// ListDeploymentLogsByAttendee returns an attendee's log entries, newest first.
	ListDeploymentLogsByAttendee(ctx context.Context, attendeeID string) ([]*DeploymentLog, error)
}

// OutputValue is a single provisioner output.
type OutputValue struct {
	// Value is the output value as decoded from the provisioner.
	Value interface{} `json:"value"`

	// Sensitive marks values that must not be logged.
	Sensitive bool `json:"sensitive"`
}

// String returns the output value as a string, or "" for non-string values.
func (o OutputValue) String() string {
	s, _ := o.Value.(string)
	return s
}

// Provisioner wraps the external infrastructure-as-code tool. All operations
// report failure as a boolean plus diagnostic text; none of them panic or
// return Go errors, so callers always branch on the boolean.
type Provisioner interface {
	// CreateWorkspace materializes a workspace directory with generated
	// configuration and initializes the provisioner in it.
	CreateWorkspace(ctx context.Context, name string, cfg WorkspaceConfig) bool

	// Plan computes the change set and serializes it into the workspace.
	Plan(ctx context.Context, name string) (bool, string)

	// Apply applies exactly the previously planned change set.
	Apply(ctx context.Context, name string) (bool, string)

	// Destroy tears down every resource tracked by the workspace.
	Destroy(ctx context.Context, name string) (bool, string)

	// Outputs returns the provisioner's structured outputs. Malformed output
	// yields an empty map, never a failure.
	Outputs(ctx context.Context, name string) map[string]OutputValue

	// CleanupWorkspace removes the workspace directory. Idempotent: removing
	// an absent workspace is a success.
	CleanupWorkspace(name string) bool

	// WorkspaceExists reports whether the workspace directory is present.
	WorkspaceExists(name string) bool

	// ListWorkspaces returns the names of every on-disk workspace.
	ListWorkspaces() ([]string, error)
}

// EventSink receives status and progress events for near-real-time delivery
// to clients. Publishing is fire-and-forget; the core never waits on it.
type EventSink interface {
	// PublishStatus announces a status transition for a workshop or attendee.
	// Scope is the workshop ID the event belongs to.
	PublishStatus(scope, entityType, entityID, status string, detail map[string]string)

	// PublishProgress announces progress within a long-running operation.
	PublishProgress(scope string, current, total int, label string)
}

// Notifier delivers best-effort email notifications. Failures are logged by
// callers, never propagated.
type Notifier interface {
	// SendCredentials mails freshly provisioned credentials to an attendee.
	SendCredentials(ctx context.Context, email, name, workshopName string, credentials map[string]string) error

	// SendCompletionNotice mails the end-of-workshop teardown warning.
	SendCompletionNotice(ctx context.Context, email, name, workshopName string) error
}

// JobQueue dispatches named background jobs. Delivery is at-least-once with
// no ordering guarantee across job types.
type JobQueue interface {
	// Enqueue schedules the named job with the given arguments.
	Enqueue(name string, args ...string) error
}

// ProgressReporter is the write-only progress handle a job runtime grants to
// a running job. It is injected, not ambient.
type ProgressReporter interface {
	// Report records progress toward completing the current job.
	Report(current, total int, label string)
}

// Job names understood by the job queue. The reconciliation sweeps enqueue
// these rather than calling into the lifecycle driver directly.
const (
	JobDeployAttendee  = "deploy_attendee"
	JobDestroyAttendee = "destroy_attendee"
	JobDeployWorkshop  = "deploy_workshop"
)
