package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/techlabs/labforge/pkg/telemetry"
)

// Progress milestones emitted during an attendee deployment. The sink
// receives them as (current, 100, label) so clients can render a bar.
const (
	progressWorkspace = 10
	progressPlan      = 40
	progressApply     = 70
	progressOutputs   = 90
	progressDone      = 100
)

// Provisioner output names the generated configuration exports.
const (
	outputProjectID = "project_id"
	outputUserURN   = "user_urn"
	outputUsername  = "username"
	outputPassword  = "password"
)

// LifecycleDriver sequences deploy and destroy operations for a single
// attendee. Every state transition is persisted before the next step starts,
// so a crash mid-sequence leaves an inspectable record of where it stopped.
type LifecycleDriver struct {
	store       Store
	provisioner Provisioner
	sink        EventSink
	notifier    Notifier
	logger      *telemetry.Logger
	metrics     *telemetry.Metrics
	loginPrefix string
}

// NewLifecycleDriver creates a lifecycle driver. The notifier, logger and
// metrics may be nil; notifications and instrumentation are then skipped.
func NewLifecycleDriver(
	store Store,
	provisioner Provisioner,
	sink EventSink,
	notifier Notifier,
	logger *telemetry.Logger,
	metrics *telemetry.Metrics,
) *LifecycleDriver {
	if logger == nil {
		logger = telemetry.FromContext(context.Background())
	}
	return &LifecycleDriver{
		store:       store,
		provisioner: provisioner,
		sink:        sink,
		notifier:    notifier,
		logger:      logger.NewComponentLogger("lifecycle"),
		metrics:     metrics,
	}
}

// SetLoginPrefix sets the tenant prefix prepended to usernames in
// credentials notifications. An empty prefix is a passthrough.
func (d *LifecycleDriver) SetLoginPrefix(prefix string) {
	d.loginPrefix = prefix
}

// DeployAttendee provisions the attendee's cloud environment end to end:
// workspace creation, plan, apply, output capture. On success the attendee is
// active and carries its cloud resource identifiers; on any step failure the
// attendee is failed and the deployment log records the diagnostic text.
func (d *LifecycleDriver) DeployAttendee(ctx context.Context, attendeeID string) error {
	attendee, err := d.store.GetAttendee(ctx, attendeeID)
	if err != nil {
		d.logger.WithAttendeeID(attendeeID).WithError(err).Error("deploy aborted, attendee lookup failed")
		return err
	}

	logger := d.logger.WithWorkshopID(attendee.WorkshopID).WithAttendeeID(attendee.ID)
	logger.Info("starting attendee deployment")
	d.metrics.RecordDeployStarted(attendee.WorkshopID)
	timer := telemetry.NewTimer()

	depLog := &DeploymentLog{
		ID:         uuid.New().String(),
		AttendeeID: attendee.ID,
		Action:     LogActionDeploy,
		Status:     LogStatusStarted,
		StartedAt:  time.Now().UTC(),
	}
	if err := d.store.CreateDeploymentLog(ctx, depLog); err != nil {
		d.metrics.RecordDeployCompleted("failed", timer.Duration())
		return NewInternalError("failed to record deployment start", err).WithEntity(attendee.ID)
	}

	if err := d.store.UpdateAttendeeStatus(ctx, attendee.ID, AttendeeStatusDeploying); err != nil {
		d.metrics.RecordDeployCompleted("failed", timer.Duration())
		return NewInternalError("failed to mark attendee deploying", err).WithEntity(attendee.ID)
	}
	d.sink.PublishStatus(attendee.WorkshopID, "attendee", attendee.ID, string(AttendeeStatusDeploying), nil)

	if err := d.store.UpdateDeploymentLogStatus(ctx, depLog.ID, LogStatusRunning); err != nil {
		logger.WithError(err).Warn("failed to advance deployment log to running")
	}

	workspace := WorkspaceName(attendee.ID)

	d.sink.PublishProgress(attendee.WorkshopID, progressWorkspace, progressDone, "Preparing workspace")
	cfg := WorkspaceConfig{
		ProjectDescription: fmt.Sprintf("Workshop environment for %s", attendee.Username),
		Username:           attendee.Username,
		Email:              attendee.Email,
	}
	if ok := d.provisioner.CreateWorkspace(ctx, workspace, cfg); !ok {
		return d.failDeploy(ctx, attendee, depLog.ID, timer, "create_workspace", "workspace initialization failed")
	}

	d.sink.PublishProgress(attendee.WorkshopID, progressPlan, progressDone, "Planning infrastructure")
	if ok, out := d.provisioner.Plan(ctx, workspace); !ok {
		return d.failDeploy(ctx, attendee, depLog.ID, timer, "plan", out)
	}

	d.sink.PublishProgress(attendee.WorkshopID, progressApply, progressDone, "Applying infrastructure plan")
	ok, applyOut := d.provisioner.Apply(ctx, workspace)
	if !ok {
		return d.failDeploy(ctx, attendee, depLog.ID, timer, "apply", applyOut)
	}

	d.sink.PublishProgress(attendee.WorkshopID, progressOutputs, progressDone, "Collecting environment details")
	outputs := d.provisioner.Outputs(ctx, workspace)
	projectID := stringOutput(outputs, outputProjectID)
	userURN := stringOutput(outputs, outputUserURN)
	if err := d.store.SetAttendeeResources(ctx, attendee.ID, projectID, userURN); err != nil {
		logger.WithError(err).Error("failed to record attendee resource identifiers")
	}

	if err := d.store.UpdateAttendeeStatus(ctx, attendee.ID, AttendeeStatusActive); err != nil {
		d.metrics.RecordDeployCompleted("failed", timer.Duration())
		return NewInternalError("failed to mark attendee active", err).WithEntity(attendee.ID)
	}
	if err := d.store.CompleteDeploymentLog(ctx, depLog.ID, LogStatusCompleted, applyOut, ""); err != nil {
		logger.WithError(err).Warn("failed to finalize deployment log")
	}

	d.sink.PublishProgress(attendee.WorkshopID, progressDone, progressDone, "Deployment complete")
	d.sink.PublishStatus(attendee.WorkshopID, "attendee", attendee.ID, string(AttendeeStatusActive), nil)
	d.syncWorkshopStatus(ctx, attendee.WorkshopID)

	d.sendCredentials(ctx, attendee, outputs, projectID)

	d.metrics.RecordDeployCompleted("completed", timer.Duration())
	logger.Info("attendee deployment completed")
	return nil
}

// DestroyAttendee tears down the attendee's cloud environment and removes its
// workspace. A failed destroy leaves the workspace intact for a later retry
// and marks the attendee failed, not deleted.
func (d *LifecycleDriver) DestroyAttendee(ctx context.Context, attendeeID string) error {
	attendee, err := d.store.GetAttendee(ctx, attendeeID)
	if err != nil {
		d.logger.WithAttendeeID(attendeeID).WithError(err).Error("destroy aborted, attendee lookup failed")
		return err
	}

	logger := d.logger.WithWorkshopID(attendee.WorkshopID).WithAttendeeID(attendee.ID)
	logger.Info("starting attendee teardown")
	d.metrics.RecordDestroyStarted(attendee.WorkshopID)
	timer := telemetry.NewTimer()

	depLog := &DeploymentLog{
		ID:         uuid.New().String(),
		AttendeeID: attendee.ID,
		Action:     LogActionDestroy,
		Status:     LogStatusStarted,
		StartedAt:  time.Now().UTC(),
	}
	if err := d.store.CreateDeploymentLog(ctx, depLog); err != nil {
		d.metrics.RecordDestroyCompleted("failed", timer.Duration())
		return NewInternalError("failed to record teardown start", err).WithEntity(attendee.ID)
	}

	if err := d.store.UpdateAttendeeStatus(ctx, attendee.ID, AttendeeStatusDeleting); err != nil {
		d.metrics.RecordDestroyCompleted("failed", timer.Duration())
		return NewInternalError("failed to mark attendee deleting", err).WithEntity(attendee.ID)
	}
	d.sink.PublishStatus(attendee.WorkshopID, "attendee", attendee.ID, string(AttendeeStatusDeleting), nil)

	if err := d.store.UpdateDeploymentLogStatus(ctx, depLog.ID, LogStatusRunning); err != nil {
		logger.WithError(err).Warn("failed to advance deployment log to running")
	}

	workspace := WorkspaceName(attendee.ID)

	ok, out := d.provisioner.Destroy(ctx, workspace)
	if !ok {
		if err := d.store.UpdateAttendeeStatus(ctx, attendee.ID, AttendeeStatusFailed); err != nil {
			logger.WithError(err).Error("failed to mark attendee failed after destroy failure")
		}
		if err := d.store.CompleteDeploymentLog(ctx, depLog.ID, LogStatusFailed, "", out); err != nil {
			logger.WithError(err).Warn("failed to finalize deployment log")
		}
		d.sink.PublishStatus(attendee.WorkshopID, "attendee", attendee.ID, string(AttendeeStatusFailed),
			map[string]string{"step": "destroy", "error": truncateDiagnostic(out)})
		d.syncWorkshopStatus(ctx, attendee.WorkshopID)
		d.metrics.RecordDestroyCompleted("failed", timer.Duration())
		return NewProvisionerError(fmt.Sprintf("destroy failed: %s", truncateDiagnostic(out))).WithEntity(attendee.ID)
	}

	if ok := d.provisioner.CleanupWorkspace(workspace); !ok {
		// The cloud resources are gone; a leftover directory is the orphan
		// sweep's problem, not a teardown failure.
		logger.WithWorkspace(workspace).Warn("workspace cleanup failed after destroy")
	}

	if err := d.store.UpdateAttendeeStatus(ctx, attendee.ID, AttendeeStatusDeleted); err != nil {
		d.metrics.RecordDestroyCompleted("failed", timer.Duration())
		return NewInternalError("failed to mark attendee deleted", err).WithEntity(attendee.ID)
	}
	if err := d.store.SetAttendeeResources(ctx, attendee.ID, nil, nil); err != nil {
		logger.WithError(err).Error("failed to clear attendee resource identifiers")
	}
	if err := d.store.CompleteDeploymentLog(ctx, depLog.ID, LogStatusCompleted, out, ""); err != nil {
		logger.WithError(err).Warn("failed to finalize deployment log")
	}

	d.sink.PublishStatus(attendee.WorkshopID, "attendee", attendee.ID, string(AttendeeStatusDeleted), nil)
	d.syncWorkshopStatus(ctx, attendee.WorkshopID)

	d.metrics.RecordDestroyCompleted("completed", timer.Duration())
	logger.Info("attendee teardown completed")
	return nil
}

// failDeploy persists the failure outcome of a deploy step and builds the
// error returned to the trigger. No automatic retry happens here.
func (d *LifecycleDriver) failDeploy(
	ctx context.Context,
	attendee *Attendee,
	logID string,
	timer *telemetry.Timer,
	step, diagnostic string,
) error {
	logger := d.logger.WithWorkshopID(attendee.WorkshopID).WithAttendeeID(attendee.ID)
	logger.Errorf("deployment step %s failed: %s", step, truncateDiagnostic(diagnostic))

	if err := d.store.UpdateAttendeeStatus(ctx, attendee.ID, AttendeeStatusFailed); err != nil {
		logger.WithError(err).Error("failed to mark attendee failed")
	}
	if err := d.store.CompleteDeploymentLog(ctx, logID, LogStatusFailed, "", diagnostic); err != nil {
		logger.WithError(err).Warn("failed to finalize deployment log")
	}
	d.sink.PublishStatus(attendee.WorkshopID, "attendee", attendee.ID, string(AttendeeStatusFailed),
		map[string]string{"step": step, "error": truncateDiagnostic(diagnostic)})
	d.syncWorkshopStatus(ctx, attendee.WorkshopID)
	d.metrics.RecordDeployCompleted("failed", timer.Duration())

	return NewProvisionerError(fmt.Sprintf("%s failed: %s", step, truncateDiagnostic(diagnostic))).
		WithEntity(attendee.ID)
}

// syncWorkshopStatus recomputes the owning workshop's aggregate status and
// persists it only when it changed.
func (d *LifecycleDriver) syncWorkshopStatus(ctx context.Context, workshopID string) {
	logger := d.logger.WithWorkshopID(workshopID)

	workshop, err := d.store.GetWorkshop(ctx, workshopID)
	if err != nil {
		logger.WithError(err).Error("workshop status sync skipped, lookup failed")
		return
	}

	attendees, err := d.store.ListAttendeesByWorkshop(ctx, workshopID)
	if err != nil {
		logger.WithError(err).Error("workshop status sync skipped, attendee listing failed")
		return
	}

	statuses := make([]AttendeeStatus, 0, len(attendees))
	for _, a := range attendees {
		statuses = append(statuses, a.Status)
	}

	next := AggregateWorkshopStatus(statuses)
	if next == workshop.Status {
		return
	}

	if err := d.store.UpdateWorkshopStatus(ctx, workshopID, next); err != nil {
		logger.WithError(err).Error("failed to persist workshop status")
		return
	}
	d.sink.PublishStatus(workshopID, "workshop", workshopID, string(next), nil)
	logger.Infof("workshop status changed to %s", next)
}

// sendCredentials dispatches the credentials email for a freshly deployed
// attendee. Best effort: failures and missing configuration are logged only.
func (d *LifecycleDriver) sendCredentials(ctx context.Context, attendee *Attendee, outputs map[string]OutputValue, projectID *string) {
	if d.notifier == nil {
		return
	}
	logger := d.logger.WithWorkshopID(attendee.WorkshopID).WithAttendeeID(attendee.ID)

	workshopName := attendee.WorkshopID
	if workshop, err := d.store.GetWorkshop(ctx, attendee.WorkshopID); err == nil {
		workshopName = workshop.Name
	}

	username := attendee.Username
	if login := outputs[outputUsername].String(); login != "" {
		username = login
	}
	credentials := map[string]string{
		"username": d.loginPrefix + username,
	}
	if password := outputs[outputPassword].String(); password != "" {
		credentials["password"] = password
	}
	if projectID != nil {
		credentials["project_id"] = *projectID
	}

	if err := d.notifier.SendCredentials(ctx, attendee.Email, attendee.Username, workshopName, credentials); err != nil {
		d.metrics.RecordNotification("credentials", "failed")
		logger.WithError(err).Warn("credentials notification failed")
		return
	}
	d.metrics.RecordNotification("credentials", "sent")
}

// stringOutput plucks a string-valued output, returning nil when absent or
// not a string.
func stringOutput(outputs map[string]OutputValue, name string) *string {
	v, ok := outputs[name]
	if !ok {
		return nil
	}
	s, ok := v.Value.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

// truncateDiagnostic bounds diagnostic text carried in events and errors.
// Full output stays in the deployment log.
func truncateDiagnostic(s string) string {
	const max = 500
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
