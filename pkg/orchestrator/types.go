package orchestrator

import (
	"fmt"
	"strings"
	"time"
)

// Workshop represents a time-boxed cohort of attendee environments.
type Workshop struct {
	// ID is the unique identifier for this workshop.
	ID string `json:"id"`

	// Name is the human-readable workshop name.
	Name string `json:"name" validate:"required"`

	// Description is an optional free-text description.
	Description string `json:"description,omitempty"`

	// StartDate is when the workshop begins.
	StartDate time.Time `json:"start_date" validate:"required"`

	// EndDate is when the workshop ends. Must be strictly after StartDate.
	EndDate time.Time `json:"end_date" validate:"required"`

	// Timezone is the IANA timezone the workshop is held in (e.g. "Europe/Paris").
	Timezone string `json:"timezone"`

	// Status is the aggregate status derived from the attendees.
	Status WorkshopStatus `json:"status"`

	// DeletionScheduledAt is when attendee environments become eligible for
	// teardown: end date plus the retention window, stored in UTC. Nil until
	// scheduled, and never recomputed once set.
	DeletionScheduledAt *time.Time `json:"deletion_scheduled_at,omitempty"`

	// CreatedAt is when the workshop was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the workshop was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the workshop's date invariant.
func (w *Workshop) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("workshop name is required")
	}
	if !w.EndDate.After(w.StartDate) {
		return fmt.Errorf("end date must be after start date")
	}
	return nil
}

// Location resolves the workshop's timezone, falling back to UTC when the
// timezone is unset or unknown.
func (w *Workshop) Location() *time.Location {
	if w.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Attendee represents one person's cloud environment within a workshop.
type Attendee struct {
	// ID is the unique identifier for this attendee.
	ID string `json:"id"`

	// WorkshopID references the owning workshop.
	WorkshopID string `json:"workshop_id" validate:"required"`

	// Username is the login provisioned for the attendee.
	Username string `json:"username" validate:"required"`

	// Email is where credentials and notices are sent.
	Email string `json:"email" validate:"required,email"`

	// Status is the lifecycle state, driven exclusively by the lifecycle driver.
	Status AttendeeStatus `json:"status"`

	// ProviderProjectID is the cloud project created for this attendee.
	// Non-nil only while the attendee is active; cleared on destroy.
	ProviderProjectID *string `json:"provider_project_id,omitempty"`

	// ProviderUserURN is the cloud IAM user created for this attendee.
	// Non-nil only while the attendee is active; cleared on destroy.
	ProviderUserURN *string `json:"provider_user_urn,omitempty"`

	// CreatedAt is when the attendee was registered.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the attendee was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// DeploymentLog is an append-only record of one deploy or destroy attempt.
// Orchestration logic writes it for audit purposes and never reads it back.
type DeploymentLog struct {
	// ID is the unique identifier for this log entry.
	ID string `json:"id"`

	// AttendeeID references the attendee the operation targeted.
	AttendeeID string `json:"attendee_id"`

	// Action is the operation attempted.
	Action LogAction `json:"action"`

	// Status tracks the operation's progress.
	Status LogStatus `json:"status"`

	// Output is the captured provisioner output, set on completion.
	Output string `json:"output,omitempty"`

	// ErrorMessage is the diagnostic text of the failing step, set on failure.
	ErrorMessage string `json:"error_message,omitempty"`

	// StartedAt is when the operation began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the operation reached a final status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// WorkspaceConfig is the input to the generated provisioner configuration.
/// It is deliberately small: everything else in the generated files is fixed.
type WorkspaceConfig struct {
	// ProjectDescription labels the cloud project.
	ProjectDescription string `json:"project_description"`

	// Username is the login for the provisioned IAM user.
	Username string `json:"username"`

	// Email is the IAM user's contact address.
	Email string `json:"email"`
}

// DeployReport summarizes a sequential workshop deployment.
type DeployReport struct {
	// Deployed is the number of attendees that reached active.
	Deployed int `json:"deployed"`

	// Failed is the number of attendees that failed.
	Failed int `json:"failed"`

	// WorkshopStatus is the workshop's final status after the run.
	WorkshopStatus WorkshopStatus `json:"workshop_status"`

	// Message is a human-readable summary of the run.
	Message string `json:"message"`
}

// workspacePrefix keys provisioner workspaces to attendees.
const workspacePrefix = "attendee-"

// WorkspaceName returns the stable provisioner workspace name for an attendee.
func WorkspaceName(attendeeID string) string {
	return workspacePrefix + attendeeID
}

// AttendeeIDFromWorkspace extracts the attendee ID from a workspace name.
// The second return value is false for names outside the naming convention.
func AttendeeIDFromWorkspace(workspace string) (string, bool) {
	if !strings.HasPrefix(workspace, workspacePrefix) {
		return "", false
	}
	id := strings.TrimPrefix(workspace, workspacePrefix)
	if id == "" {
		return "", false
	}
	return id, true
}

// DeletionDeadline computes when a workshop's environments become eligible
// for teardown: the end date plus the retention window, stored in UTC.
// Retention is pure duration arithmetic on the instant, so the workshop's
// timezone cannot shift the result; the zone matters for display only. This
// is the single canonical computation, used both at workshop creation and by
// the end-date sweep.
func DeletionDeadline(endDate time.Time, retention time.Duration) time.Time {
	return endDate.Add(retention).UTC()
}
