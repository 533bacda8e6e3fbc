package orchestrator

import (
	"context"
	"time"

	"github.com/techlabs/labforge/pkg/telemetry"
)

const (
	// DefaultRetention is how long attendee environments outlive the
	// workshop's end date before becoming eligible for teardown.
	DefaultRetention = 72 * time.Hour

	// DefaultStuckThreshold is how long a workshop may sit in deploying
	// without an update before the stuck sweep forces it to failed.
	DefaultStuckThreshold = 30 * time.Minute
)

// Reconciler owns the periodic sweeps that correct drift between the
// persisted model and the real cloud resources. Each sweep is idempotent,
// opens its own store calls, and is safe to run concurrently with the others.
// One bad record never blocks the rest of a batch.
type Reconciler struct {
	store          Store
	provisioner    Provisioner
	lifecycle      *LifecycleDriver
	queue          JobQueue
	sink           EventSink
	notifier       Notifier
	logger         *telemetry.Logger
	metrics        *telemetry.Metrics
	retention      time.Duration
	stuckThreshold time.Duration

	// now is the clock; tests override it.
	now func() time.Time
}

// NewReconciler creates a reconciler with the default retention and stuck
// thresholds. The notifier and metrics may be nil.
func NewReconciler(
	store Store,
	provisioner Provisioner,
	lifecycle *LifecycleDriver,
	queue JobQueue,
	sink EventSink,
	notifier Notifier,
	logger *telemetry.Logger,
	metrics *telemetry.Metrics,
) *Reconciler {
	if logger == nil {
		logger = telemetry.FromContext(context.Background())
	}
	return &Reconciler{
		store:          store,
		provisioner:    provisioner,
		lifecycle:      lifecycle,
		queue:          queue,
		sink:           sink,
		notifier:       notifier,
		logger:         logger.NewComponentLogger("reconciler"),
		metrics:        metrics,
		retention:      DefaultRetention,
		stuckThreshold: DefaultStuckThreshold,
		now:            time.Now,
	}
}

// SetRetention overrides the teardown retention window.
func (r *Reconciler) SetRetention(d time.Duration) {
	if d > 0 {
		r.retention = d
	}
}

// SetStuckThreshold overrides the stuck-deployment staleness threshold.
func (r *Reconciler) SetStuckThreshold(d time.Duration) {
	if d > 0 {
		r.stuckThreshold = d
	}
}

// SweepEndedWorkshops completes workshops past their end date. The teardown
// deadline is normally written at workshop creation; the sweep backfills it
// when unset and never recomputes an existing one. Attendees receive a
// best-effort notice that their environment will be removed.
func (r *Reconciler) SweepEndedWorkshops(ctx context.Context) (int, error) {
	timer := telemetry.NewTimer()
	touched := 0

	workshops, err := r.store.ListEndedWorkshops(ctx, r.now().UTC())
	if err != nil {
		r.metrics.RecordSweepRun("end_date", "failed", 0, timer.Duration())
		return 0, NewInternalError("failed to list ended workshops", err)
	}

	for _, w := range workshops {
		logger := r.logger.WithWorkshopID(w.ID)

		deadline := DeletionDeadline(w.EndDate, r.retention)
		if w.DeletionScheduledAt != nil {
			deadline = *w.DeletionScheduledAt
		}
		if err := r.store.ScheduleWorkshopDeletion(ctx, w.ID, deadline, WorkshopStatusCompleted); err != nil {
			logger.WithError(err).Error("failed to schedule workshop deletion")
			continue
		}
		r.sink.PublishStatus(w.ID, "workshop", w.ID, string(WorkshopStatusCompleted),
			map[string]string{"deletion_scheduled_at": deadline.Format(time.RFC3339)})
		logger.Infof("workshop ended, environments scheduled for removal at %s", deadline.Format(time.RFC3339))
		touched++

		r.notifyCompletion(ctx, w)
	}

	r.metrics.RecordSweepRun("end_date", "completed", touched, timer.Duration())
	return touched, nil
}

// SweepExpiredWorkshops tears down workshops whose retention window has
// passed: the workshop moves to deleting and a destroy job is enqueued for
// every attendee still holding resources.
func (r *Reconciler) SweepExpiredWorkshops(ctx context.Context) (int, error) {
	timer := telemetry.NewTimer()
	touched := 0

	workshops, err := r.store.ListExpiredWorkshops(ctx, r.now().UTC())
	if err != nil {
		r.metrics.RecordSweepRun("expiry", "failed", 0, timer.Duration())
		return 0, NewInternalError("failed to list expired workshops", err)
	}

	for _, w := range workshops {
		if _, err := r.teardownWorkshop(ctx, w.ID); err != nil {
			r.logger.WithWorkshopID(w.ID).WithError(err).Error("failed to tear down expired workshop")
			continue
		}
		touched++
	}

	r.metrics.RecordSweepRun("expiry", "completed", touched, timer.Duration())
	return touched, nil
}

// SweepStuckDeployments force-fails workshops that have sat in deploying
// beyond the staleness threshold. This is a circuit breaker: the hung worker,
// if any, still runs until its own provisioner timeout fires.
func (r *Reconciler) SweepStuckDeployments(ctx context.Context) (int, error) {
	timer := telemetry.NewTimer()
	touched := 0

	cutoff := r.now().UTC().Add(-r.stuckThreshold)
	workshops, err := r.store.ListStuckDeploying(ctx, cutoff)
	if err != nil {
		r.metrics.RecordSweepRun("stuck", "failed", 0, timer.Duration())
		return 0, NewInternalError("failed to list stuck workshops", err)
	}

	for _, w := range workshops {
		logger := r.logger.WithWorkshopID(w.ID)
		if err := r.store.UpdateWorkshopStatus(ctx, w.ID, WorkshopStatusFailed); err != nil {
			logger.WithError(err).Error("failed to fail stuck workshop")
			continue
		}
		r.sink.PublishStatus(w.ID, "workshop", w.ID, string(WorkshopStatusFailed),
			map[string]string{"reason": "deployment stalled"})
		logger.Warnf("workshop stuck in deploying since %s, forced to failed", w.UpdatedAt.Format(time.RFC3339))
		touched++
	}

	r.metrics.RecordSweepRun("stuck", "completed", touched, timer.Duration())
	return touched, nil
}

// SweepOrphanWorkspaces removes on-disk workspaces with no live attendee:
// directories outside the naming convention, attendees that no longer exist,
// and attendees already deleted.
func (r *Reconciler) SweepOrphanWorkspaces(ctx context.Context) (int, error) {
	timer := telemetry.NewTimer()
	touched := 0

	workspaces, err := r.provisioner.ListWorkspaces()
	if err != nil {
		r.metrics.RecordSweepRun("orphan", "failed", 0, timer.Duration())
		return 0, NewInternalError("failed to list workspaces", err)
	}

	for _, name := range workspaces {
		logger := r.logger.WithWorkspace(name)

		attendeeID, ok := AttendeeIDFromWorkspace(name)
		if ok {
			attendee, err := r.store.GetAttendee(ctx, attendeeID)
			switch {
			case err == nil && attendee.Status != AttendeeStatusDeleted:
				continue // live attendee, workspace is legitimate
			case err != nil && !IsNotFound(err):
				logger.WithError(err).Error("orphan check failed, workspace kept")
				continue
			}
		}

		if ok := r.provisioner.CleanupWorkspace(name); !ok {
			logger.Error("failed to remove orphaned workspace")
			continue
		}
		logger.Info("removed orphaned workspace")
		touched++
	}

	r.metrics.RecordSweepRun("orphan", "completed", touched, timer.Duration())
	return touched, nil
}

// SweepUnhealthyAttendees force-fails active attendees whose environment has
// evaporated: the workspace directory is gone or the provisioner no longer
// reports any outputs for it.
func (r *Reconciler) SweepUnhealthyAttendees(ctx context.Context) (int, error) {
	timer := telemetry.NewTimer()
	touched := 0

	attendees, err := r.store.ListAttendeesInStatus(ctx, "", AttendeeStatusActive)
	if err != nil {
		r.metrics.RecordSweepRun("health", "failed", 0, timer.Duration())
		return 0, NewInternalError("failed to list active attendees", err)
	}

	for _, a := range attendees {
		logger := r.logger.WithWorkshopID(a.WorkshopID).WithAttendeeID(a.ID)
		workspace := WorkspaceName(a.ID)

		healthy := r.provisioner.WorkspaceExists(workspace)
		if healthy {
			healthy = len(r.provisioner.Outputs(ctx, workspace)) > 0
		}
		if healthy {
			continue
		}

		if err := r.store.UpdateAttendeeStatus(ctx, a.ID, AttendeeStatusFailed); err != nil {
			logger.WithError(err).Error("failed to fail unhealthy attendee")
			continue
		}
		r.sink.PublishStatus(a.WorkshopID, "attendee", a.ID, string(AttendeeStatusFailed),
			map[string]string{"reason": "environment health check failed"})
		r.lifecycle.syncWorkshopStatus(ctx, a.WorkshopID)
		logger.Warn("attendee environment failed health check")
		touched++
	}

	r.metrics.RecordSweepRun("health", "completed", touched, timer.Duration())
	return touched, nil
}

// SweepSettledWorkshops re-aggregates workshops still marked deploying whose
// attendees have all left deploying, closing the gap left by a coordinator
// that never got to write the final status.
func (r *Reconciler) SweepSettledWorkshops(ctx context.Context) (int, error) {
	timer := telemetry.NewTimer()
	touched := 0

	workshops, err := r.store.ListWorkshopsByStatus(ctx, WorkshopStatusDeploying)
	if err != nil {
		r.metrics.RecordSweepRun("settled", "failed", 0, timer.Duration())
		return 0, NewInternalError("failed to list deploying workshops", err)
	}

	for _, w := range workshops {
		logger := r.logger.WithWorkshopID(w.ID)

		inFlight, err := r.store.ListAttendeesInStatus(ctx, w.ID, AttendeeStatusDeploying)
		if err != nil {
			logger.WithError(err).Error("settled check failed")
			continue
		}
		if len(inFlight) > 0 {
			continue
		}

		r.lifecycle.syncWorkshopStatus(ctx, w.ID)
		touched++
	}

	r.metrics.RecordSweepRun("settled", "completed", touched, timer.Duration())
	return touched, nil
}

// TeardownWorkshop is the manual cleanup entry point: the workshop moves to
// deleting and destroy jobs are enqueued for every attendee still holding
// resources. Returns the number of destroy jobs enqueued.
func (r *Reconciler) TeardownWorkshop(ctx context.Context, workshopID string) (int, error) {
	if _, err := r.store.GetWorkshop(ctx, workshopID); err != nil {
		return 0, err
	}
	return r.teardownWorkshop(ctx, workshopID)
}

func (r *Reconciler) teardownWorkshop(ctx context.Context, workshopID string) (int, error) {
	logger := r.logger.WithWorkshopID(workshopID)

	if err := r.store.UpdateWorkshopStatus(ctx, workshopID, WorkshopStatusDeleting); err != nil {
		return 0, NewInternalError("failed to mark workshop deleting", err).WithEntity(workshopID)
	}
	r.sink.PublishStatus(workshopID, "workshop", workshopID, string(WorkshopStatusDeleting), nil)

	attendees, err := r.store.ListAttendeesInStatus(ctx, workshopID,
		AttendeeStatusActive, AttendeeStatusFailed)
	if err != nil {
		return 0, NewInternalError("failed to list attendees for teardown", err).WithEntity(workshopID)
	}

	enqueued := 0
	for _, a := range attendees {
		if err := r.queue.Enqueue(JobDestroyAttendee, a.ID); err != nil {
			logger.WithAttendeeID(a.ID).WithError(err).Error("failed to enqueue destroy job")
			continue
		}
		enqueued++
	}

	logger.Infof("workshop teardown started, %d destroy jobs enqueued", enqueued)
	return enqueued, nil
}

// notifyCompletion mails every attendee of an ended workshop. Best effort.
func (r *Reconciler) notifyCompletion(ctx context.Context, w *Workshop) {
	if r.notifier == nil {
		return
	}
	attendees, err := r.store.ListAttendeesByWorkshop(ctx, w.ID)
	if err != nil {
		r.logger.WithWorkshopID(w.ID).WithError(err).Warn("completion notices skipped")
		return
	}
	for _, a := range attendees {
		if a.Status == AttendeeStatusDeleted || a.Email == "" {
			continue
		}
		if err := r.notifier.SendCompletionNotice(ctx, a.Email, a.Username, w.Name); err != nil {
			r.metrics.RecordNotification("completion", "failed")
			r.logger.WithAttendeeID(a.ID).WithError(err).Warn("completion notice failed")
			continue
		}
		r.metrics.RecordNotification("completion", "sent")
	}
}

// RunAll executes every sweep once, logging failures. Intended for the
// periodic ticker; individual sweeps remain independently invocable.
func (r *Reconciler) RunAll(ctx context.Context) {
	sweeps := []struct {
		name string
		fn   func(context.Context) (int, error)
	}{
		{"end_date", r.SweepEndedWorkshops},
		{"expiry", r.SweepExpiredWorkshops},
		{"stuck", r.SweepStuckDeployments},
		{"settled", r.SweepSettledWorkshops},
		{"health", r.SweepUnhealthyAttendees},
		{"orphan", r.SweepOrphanWorkspaces},
	}
	for _, sweep := range sweeps {
		if _, err := sweep.fn(ctx); err != nil {
			r.logger.WithField("sweep", sweep.name).WithError(err).Error("sweep failed")
		}
	}
}
