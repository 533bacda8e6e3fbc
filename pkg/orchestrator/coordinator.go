package orchestrator

import (
	"context"
	"fmt"

	"github.com/techlabs/labforge/pkg/telemetry"
)

// Coordinator deploys every attendee of a workshop in strict creation order.
// Sequencing is deliberate admission control: the cloud provider rate-limits
// account creation, so attendee deployments for one workshop never overlap.
type Coordinator struct {
	store     Store
	lifecycle *LifecycleDriver
	sink      EventSink
	logger    *telemetry.Logger
}

// NewCoordinator creates a sequential deployment coordinator.
func NewCoordinator(store Store, lifecycle *LifecycleDriver, sink EventSink, logger *telemetry.Logger) *Coordinator {
	if logger == nil {
		logger = telemetry.FromContext(context.Background())
	}
	return &Coordinator{
		store:     store,
		lifecycle: lifecycle,
		sink:      sink,
		logger:    logger.NewComponentLogger("coordinator"),
	}
}

// DeploySequential deploys all attendees of the workshop one at a time. A
// failing attendee never aborts the run; the remaining attendees still get
// their turn. The returned report carries the per-attendee counts and the
// workshop's final status.
//
// The optional progress reporter receives the same per-attendee progress the
// event sink does; pass nil when no job runtime is attached.
func (c *Coordinator) DeploySequential(ctx context.Context, workshopID string, progress ProgressReporter) (*DeployReport, error) {
	logger := c.logger.WithWorkshopID(workshopID)

	if _, err := c.store.GetWorkshop(ctx, workshopID); err != nil {
		logger.WithError(err).Error("sequential deploy aborted, workshop lookup failed")
		return nil, err
	}

	attendees, err := c.store.ListAttendeesByWorkshop(ctx, workshopID)
	if err != nil {
		logger.WithError(err).Error("sequential deploy aborted, attendee listing failed")
		return nil, NewInternalError("failed to list attendees", err).WithEntity(workshopID)
	}

	if err := c.store.UpdateWorkshopStatus(ctx, workshopID, WorkshopStatusDeploying); err != nil {
		return nil, NewInternalError("failed to mark workshop deploying", err).WithEntity(workshopID)
	}
	c.sink.PublishStatus(workshopID, "workshop", workshopID, string(WorkshopStatusDeploying), nil)
	logger.Infof("starting sequential deployment of %d attendees", len(attendees))

	deployed := 0
	failed := 0
	total := len(attendees)

	for i, attendee := range attendees {
		label := fmt.Sprintf("Deploying %s...", attendee.Username)
		c.sink.PublishProgress(workshopID, i+1, total, label)
		if progress != nil {
			progress.Report(i+1, total, label)
		}

		if err := c.deployOne(ctx, attendee); err != nil {
			failed++
			logger.WithAttendeeID(attendee.ID).WithError(err).Error("attendee deployment failed")
			continue
		}
		deployed++
	}

	finalStatus := WorkshopStatusActive
	message := fmt.Sprintf("Deployed %d of %d attendees", deployed, total)
	switch {
	case total == 0:
		message = "No attendees to deploy"
	case failed == 0:
		// Full success
	case deployed > 0:
		message = fmt.Sprintf("Deployed %d of %d attendees (%d failed)", deployed, total, failed)
	default:
		finalStatus = WorkshopStatusFailed
		message = fmt.Sprintf("All %d attendee deployments failed", total)
	}

	if err := c.store.UpdateWorkshopStatus(ctx, workshopID, finalStatus); err != nil {
		return nil, NewInternalError("failed to persist final workshop status", err).WithEntity(workshopID)
	}
	c.sink.PublishStatus(workshopID, "workshop", workshopID, string(finalStatus),
		map[string]string{"summary": message})
	logger.WithField("deployed", deployed).WithField("failed", failed).Info(message)

	return &DeployReport{
		Deployed:       deployed,
		Failed:         failed,
		WorkshopStatus: finalStatus,
		Message:        message,
	}, nil
}

// deployOne runs a single attendee deployment, converting panics into errors
// and guaranteeing the attendee leaves in a terminal state. The lifecycle
// driver already persists failed on its own failure paths; the force here
// covers crashes between its writes.
func (c *Coordinator) deployOne(ctx context.Context, attendee *Attendee) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewInternalError(fmt.Sprintf("deployment panicked: %v", r), nil).WithEntity(attendee.ID)
		}
		if err != nil {
			c.forceFailed(ctx, attendee)
		}
	}()

	return c.lifecycle.DeployAttendee(ctx, attendee.ID)
}

// forceFailed pins the attendee to failed after an unsuccessful turn so the
// coordinator never leaves a non-terminal state behind.
func (c *Coordinator) forceFailed(ctx context.Context, attendee *Attendee) {
	current, err := c.store.GetAttendee(ctx, attendee.ID)
	if err == nil && current.Status == AttendeeStatusFailed {
		return
	}
	if err := c.store.UpdateAttendeeStatus(ctx, attendee.ID, AttendeeStatusFailed); err != nil {
		c.logger.WithAttendeeID(attendee.ID).WithError(err).Error("failed to force attendee to failed")
	}
}
