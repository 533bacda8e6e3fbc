package orchestrator

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/techlabs/labforge/pkg/telemetry"
)

var validate = validator.New()

// Service offers the workshop and attendee management operations that sit in
// front of the lifecycle machinery: creation, updates, registration, and the
// guarded delete.
type Service struct {
	store     Store
	sink      EventSink
	logger    *telemetry.Logger
	retention time.Duration
}

// NewService creates a workshop management service.
func NewService(store Store, sink EventSink, logger *telemetry.Logger) *Service {
	if logger == nil {
		logger = telemetry.FromContext(context.Background())
	}
	return &Service{
		store:     store,
		sink:      sink,
		logger:    logger.NewComponentLogger("service"),
		retention: DefaultRetention,
	}
}

// SetRetention overrides the retention window used to derive teardown
// deadlines for new and updated workshops.
func (s *Service) SetRetention(d time.Duration) {
	if d > 0 {
		s.retention = d
	}
}

// CreateWorkshop validates and persists a new workshop in planning. The
// teardown deadline is derived from the end date immediately, so it is
// visible from day one.
func (s *Service) CreateWorkshop(ctx context.Context, workshop *Workshop) (*Workshop, error) {
	if err := validate.Struct(workshop); err != nil {
		return nil, NewConflictError("invalid workshop: " + err.Error())
	}
	if err := workshop.Validate(); err != nil {
		return nil, NewConflictError(err.Error())
	}
	if workshop.Timezone != "" {
		if _, err := time.LoadLocation(workshop.Timezone); err != nil {
			return nil, NewConflictError("unknown timezone: " + workshop.Timezone)
		}
	}

	now := time.Now().UTC()
	workshop.ID = uuid.New().String()
	workshop.Status = WorkshopStatusPlanning
	workshop.CreatedAt = now
	workshop.UpdatedAt = now
	deadline := DeletionDeadline(workshop.EndDate, s.retention)
	workshop.DeletionScheduledAt = &deadline

	if err := s.store.CreateWorkshop(ctx, workshop); err != nil {
		return nil, NewInternalError("failed to create workshop", err)
	}

	s.logger.WithWorkshopID(workshop.ID).Infof("workshop %q created", workshop.Name)
	return workshop, nil
}

// UpdateWorkshop applies changes to a workshop's descriptive fields and
// dates. A changed end date re-derives the teardown deadline.
func (s *Service) UpdateWorkshop(ctx context.Context, workshop *Workshop) (*Workshop, error) {
	current, err := s.store.GetWorkshop(ctx, workshop.ID)
	if err != nil {
		return nil, err
	}

	if err := workshop.Validate(); err != nil {
		return nil, NewConflictError(err.Error())
	}
	if workshop.Timezone != "" {
		if _, err := time.LoadLocation(workshop.Timezone); err != nil {
			return nil, NewConflictError("unknown timezone: " + workshop.Timezone)
		}
	}

	workshop.Status = current.Status
	workshop.CreatedAt = current.CreatedAt
	workshop.UpdatedAt = time.Now().UTC()
	workshop.DeletionScheduledAt = current.DeletionScheduledAt
	if !workshop.EndDate.Equal(current.EndDate) {
		deadline := DeletionDeadline(workshop.EndDate, s.retention)
		workshop.DeletionScheduledAt = &deadline
	}

	if err := s.store.UpdateWorkshop(ctx, workshop); err != nil {
		return nil, NewInternalError("failed to update workshop", err).WithEntity(workshop.ID)
	}
	return workshop, nil
}

// DeleteWorkshop removes a workshop and its attendee records. Refused while
// any attendee still holds or is acquiring resources.
func (s *Service) DeleteWorkshop(ctx context.Context, workshopID string) error {
	if _, err := s.store.GetWorkshop(ctx, workshopID); err != nil {
		return err
	}

	busy, err := s.store.ListAttendeesInStatus(ctx, workshopID,
		AttendeeStatusActive, AttendeeStatusDeploying, AttendeeStatusDeleting)
	if err != nil {
		return NewInternalError("failed to check attendee states", err).WithEntity(workshopID)
	}
	if len(busy) > 0 {
		return NewConflictError("workshop has attendees with live or in-flight environments").
			WithEntity(workshopID)
	}

	if err := s.store.DeleteWorkshop(ctx, workshopID); err != nil {
		return NewInternalError("failed to delete workshop", err).WithEntity(workshopID)
	}
	s.logger.WithWorkshopID(workshopID).Info("workshop deleted")
	return nil
}

// GetWorkshop returns a workshop by ID.
func (s *Service) GetWorkshop(ctx context.Context, workshopID string) (*Workshop, error) {
	return s.store.GetWorkshop(ctx, workshopID)
}

// RegisterAttendee validates and persists a new attendee in planning.
func (s *Service) RegisterAttendee(ctx context.Context, attendee *Attendee) (*Attendee, error) {
	if _, err := s.store.GetWorkshop(ctx, attendee.WorkshopID); err != nil {
		return nil, err
	}
	if err := validate.Struct(attendee); err != nil {
		return nil, NewConflictError("invalid attendee: " + err.Error())
	}

	now := time.Now().UTC()
	attendee.ID = uuid.New().String()
	attendee.Status = AttendeeStatusPlanning
	attendee.ProviderProjectID = nil
	attendee.ProviderUserURN = nil
	attendee.CreatedAt = now
	attendee.UpdatedAt = now

	if err := s.store.CreateAttendee(ctx, attendee); err != nil {
		return nil, NewInternalError("failed to create attendee", err)
	}

	s.logger.WithWorkshopID(attendee.WorkshopID).WithAttendeeID(attendee.ID).
		Infof("attendee %q registered", attendee.Username)
	return attendee, nil
}

// ListAttendees returns a workshop's attendees in creation order.
func (s *Service) ListAttendees(ctx context.Context, workshopID string) ([]*Attendee, error) {
	return s.store.ListAttendeesByWorkshop(ctx, workshopID)
}
