package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/techlabs/labforge/pkg/orchestrator"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements orchestrator.Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Workshop operations

const workshopColumns = `id, name, description, start_date, end_date, timezone, status, deletion_scheduled_at, created_at, updated_at`

// CreateWorkshop creates a new workshop record.
func (s *SQLiteStore) CreateWorkshop(ctx context.Context, workshop *orchestrator.Workshop) error {
	query := `
		INSERT INTO workshops (` + workshopColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		workshop.ID,
		workshop.Name,
		workshop.Description,
		workshop.StartDate,
		workshop.EndDate,
		workshop.Timezone,
		workshop.Status,
		workshop.DeletionScheduledAt,
		workshop.CreatedAt,
		workshop.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create workshop: %w", err)
	}

	return nil
}

// GetWorkshop retrieves a workshop by ID.
func (s *SQLiteStore) GetWorkshop(ctx context.Context, id string) (*orchestrator.Workshop, error) {
	query := `SELECT ` + workshopColumns + ` FROM workshops WHERE id = ?`

	workshop, err := scanWorkshop(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, orchestrator.NewNotFoundError(fmt.Sprintf("workshop not found: %s", id), nil).WithEntity(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workshop: %w", err)
	}

	return workshop, nil
}

// UpdateWorkshop persists a workshop's descriptive fields, dates, timezone
// and deletion schedule.
func (s *SQLiteStore) UpdateWorkshop(ctx context.Context, workshop *orchestrator.Workshop) error {
	query := `
		UPDATE workshops
		SET name = ?, description = ?, start_date = ?, end_date = ?, timezone = ?,
		    deletion_scheduled_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		workshop.Name,
		workshop.Description,
		workshop.StartDate,
		workshop.EndDate,
		workshop.Timezone,
		workshop.DeletionScheduledAt,
		workshop.UpdatedAt,
		workshop.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update workshop: %w", err)
	}

	return requireRow(result, "workshop", workshop.ID)
}

// UpdateWorkshopStatus sets a workshop's status and bumps updated_at.
func (s *SQLiteStore) UpdateWorkshopStatus(ctx context.Context, id string, status orchestrator.WorkshopStatus) error {
	query := `UPDATE workshops SET status = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update workshop status: %w", err)
	}

	return requireRow(result, "workshop", id)
}

// ScheduleWorkshopDeletion records the teardown deadline and status in one write.
func (s *SQLiteStore) ScheduleWorkshopDeletion(ctx context.Context, id string, at time.Time, status orchestrator.WorkshopStatus) error {
	query := `UPDATE workshops SET deletion_scheduled_at = ?, status = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, at, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to schedule workshop deletion: %w", err)
	}

	return requireRow(result, "workshop", id)
}

// ListWorkshopsByStatus returns workshops in any of the given statuses.
func (s *SQLiteStore) ListWorkshopsByStatus(ctx context.Context, statuses ...orchestrator.WorkshopStatus) ([]*orchestrator.Workshop, error) {
	if len(statuses) == 0 {
		return []*orchestrator.Workshop{}, nil
	}

	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}
	query := `SELECT ` + workshopColumns + ` FROM workshops WHERE status IN (` +
		placeholders(len(statuses)) + `) ORDER BY created_at`

	return s.queryWorkshops(ctx, query, args...)
}

// ListEndedWorkshops returns active workshops whose end date has passed.
// Completed workshops are excluded on purpose: completion always records a
// teardown deadline, so the end-date sweep has nothing left to do for them.
func (s *SQLiteStore) ListEndedWorkshops(ctx context.Context, now time.Time) ([]*orchestrator.Workshop, error) {
	query := `SELECT ` + workshopColumns + ` FROM workshops
		WHERE status = ? AND end_date <= ? ORDER BY end_date`

	return s.queryWorkshops(ctx, query, orchestrator.WorkshopStatusActive, now)
}

// ListExpiredWorkshops returns active/completed workshops whose teardown
// deadline has passed.
func (s *SQLiteStore) ListExpiredWorkshops(ctx context.Context, now time.Time) ([]*orchestrator.Workshop, error) {
	query := `SELECT ` + workshopColumns + ` FROM workshops
		WHERE status IN (?, ?) AND deletion_scheduled_at IS NOT NULL AND deletion_scheduled_at <= ?
		ORDER BY deletion_scheduled_at`

	return s.queryWorkshops(ctx, query,
		orchestrator.WorkshopStatusActive, orchestrator.WorkshopStatusCompleted, now)
}

// ListStuckDeploying returns deploying workshops untouched since the cutoff.
func (s *SQLiteStore) ListStuckDeploying(ctx context.Context, cutoff time.Time) ([]*orchestrator.Workshop, error) {
	query := `SELECT ` + workshopColumns + ` FROM workshops
		WHERE status = ? AND updated_at < ? ORDER BY updated_at`

	return s.queryWorkshops(ctx, query, orchestrator.WorkshopStatusDeploying, cutoff)
}

// DeleteWorkshop deletes a workshop; attendee and log rows cascade.
func (s *SQLiteStore) DeleteWorkshop(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM workshops WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workshop: %w", err)
	}

	return requireRow(result, "workshop", id)
}

// Attendee operations

const attendeeColumns = `id, workshop_id, username, email, status, provider_project_id, provider_user_urn, created_at, updated_at`

// CreateAttendee creates a new attendee record.
func (s *SQLiteStore) CreateAttendee(ctx context.Context, attendee *orchestrator.Attendee) error {
	query := `
		INSERT INTO attendees (` + attendeeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		attendee.ID,
		attendee.WorkshopID,
		attendee.Username,
		attendee.Email,
		attendee.Status,
		attendee.ProviderProjectID,
		attendee.ProviderUserURN,
		attendee.CreatedAt,
		attendee.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create attendee: %w", err)
	}

	return nil
}

// GetAttendee retrieves an attendee by ID.
func (s *SQLiteStore) GetAttendee(ctx context.Context, id string) (*orchestrator.Attendee, error) {
	query := `SELECT ` + attendeeColumns + ` FROM attendees WHERE id = ?`

	attendee, err := scanAttendee(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, orchestrator.NewNotFoundError(fmt.Sprintf("attendee not found: %s", id), nil).WithEntity(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attendee: %w", err)
	}

	return attendee, nil
}

// ListAttendeesByWorkshop returns a workshop's attendees in creation order.
func (s *SQLiteStore) ListAttendeesByWorkshop(ctx context.Context, workshopID string) ([]*orchestrator.Attendee, error) {
	query := `SELECT ` + attendeeColumns + ` FROM attendees
		WHERE workshop_id = ? ORDER BY created_at, id`

	return s.queryAttendees(ctx, query, workshopID)
}

// ListAttendeesInStatus returns attendees in any of the given statuses,
// optionally restricted to one workshop.
func (s *SQLiteStore) ListAttendeesInStatus(ctx context.Context, workshopID string, statuses ...orchestrator.AttendeeStatus) ([]*orchestrator.Attendee, error) {
	if len(statuses) == 0 {
		return []*orchestrator.Attendee{}, nil
	}

	args := make([]interface{}, 0, len(statuses)+1)
	query := `SELECT ` + attendeeColumns + ` FROM attendees WHERE `
	if workshopID != "" {
		query += `workshop_id = ? AND `
		args = append(args, workshopID)
	}
	query += `status IN (` + placeholders(len(statuses)) + `) ORDER BY created_at, id`
	for _, st := range statuses {
		args = append(args, st)
	}

	return s.queryAttendees(ctx, query, args...)
}

// UpdateAttendeeStatus sets an attendee's status and bumps updated_at.
func (s *SQLiteStore) UpdateAttendeeStatus(ctx context.Context, id string, status orchestrator.AttendeeStatus) error {
	query := `UPDATE attendees SET status = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update attendee status: %w", err)
	}

	return requireRow(result, "attendee", id)
}

// SetAttendeeResources records or clears the attendee's cloud resource identifiers.
func (s *SQLiteStore) SetAttendeeResources(ctx context.Context, id string, projectID, userURN *string) error {
	query := `UPDATE attendees SET provider_project_id = ?, provider_user_urn = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, projectID, userURN, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set attendee resources: %w", err)
	}

	return requireRow(result, "attendee", id)
}

// Deployment log operations

const logColumns = `id, attendee_id, action, status, output, error_message, started_at, completed_at`

// CreateDeploymentLog appends a new deployment log entry.
func (s *SQLiteStore) CreateDeploymentLog(ctx context.Context, log *orchestrator.DeploymentLog) error {
	query := `
		INSERT INTO deployment_logs (` + logColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		log.ID,
		log.AttendeeID,
		log.Action,
		log.Status,
		log.Output,
		log.ErrorMessage,
		log.StartedAt,
		log.CompletedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create deployment log: %w", err)
	}

	return nil
}

// UpdateDeploymentLogStatus advances a log entry to a non-final status.
func (s *SQLiteStore) UpdateDeploymentLogStatus(ctx context.Context, id string, status orchestrator.LogStatus) error {
	query := `UPDATE deployment_logs SET status = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update deployment log status: %w", err)
	}

	return requireRow(result, "deployment log", id)
}

// CompleteDeploymentLog finalizes a log entry with its captured output or
// error message and stamps the completion time.
func (s *SQLiteStore) CompleteDeploymentLog(ctx context.Context, id string, status orchestrator.LogStatus, output, errorMessage string) error {
	query := `
		UPDATE deployment_logs
		SET status = ?, output = ?, error_message = ?, completed_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, status, output, errorMessage, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to complete deployment log: %w", err)
	}

	return requireRow(result, "deployment log", id)
}

// ListDeploymentLogsByAttendee returns an attendee's log entries, newest first.
func (s *SQLiteStore) ListDeploymentLogsByAttendee(ctx context.Context, attendeeID string) ([]*orchestrator.DeploymentLog, error) {
	query := `SELECT ` + logColumns + ` FROM deployment_logs
		WHERE attendee_id = ? ORDER BY started_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, attendeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployment logs: %w", err)
	}
	defer rows.Close()

	logs := []*orchestrator.DeploymentLog{}
	for rows.Next() {
		log := &orchestrator.DeploymentLog{}
		err := rows.Scan(
			&log.ID,
			&log.AttendeeID,
			&log.Action,
			&log.Status,
			&log.Output,
			&log.ErrorMessage,
			&log.StartedAt,
			&log.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deployment logs: %w", err)
	}

	return logs, nil
}

// Helpers

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkshop(row rowScanner) (*orchestrator.Workshop, error) {
	workshop := &orchestrator.Workshop{}
	err := row.Scan(
		&workshop.ID,
		&workshop.Name,
		&workshop.Description,
		&workshop.StartDate,
		&workshop.EndDate,
		&workshop.Timezone,
		&workshop.Status,
		&workshop.DeletionScheduledAt,
		&workshop.CreatedAt,
		&workshop.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return workshop, nil
}

func scanAttendee(row rowScanner) (*orchestrator.Attendee, error) {
	attendee := &orchestrator.Attendee{}
	err := row.Scan(
		&attendee.ID,
		&attendee.WorkshopID,
		&attendee.Username,
		&attendee.Email,
		&attendee.Status,
		&attendee.ProviderProjectID,
		&attendee.ProviderUserURN,
		&attendee.CreatedAt,
		&attendee.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return attendee, nil
}

func (s *SQLiteStore) queryWorkshops(ctx context.Context, query string, args ...interface{}) ([]*orchestrator.Workshop, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workshops: %w", err)
	}
	defer rows.Close()

	workshops := []*orchestrator.Workshop{}
	for rows.Next() {
		workshop, err := scanWorkshop(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workshop: %w", err)
		}
		workshops = append(workshops, workshop)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workshops: %w", err)
	}

	return workshops, nil
}

func (s *SQLiteStore) queryAttendees(ctx context.Context, query string, args ...interface{}) ([]*orchestrator.Attendee, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendees: %w", err)
	}
	defer rows.Close()

	attendees := []*orchestrator.Attendee{}
	for rows.Next() {
		attendee, err := scanAttendee(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attendee: %w", err)
		}
		attendees = append(attendees, attendee)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attendees: %w", err)
	}

	return attendees, nil
}

// requireRow converts a zero-row update into a classified not-found error.
func requireRow(result sql.Result, entity, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return orchestrator.NewNotFoundError(fmt.Sprintf("%s not found: %s", entity, id), nil).WithEntity(id)
	}
	return nil
}

// placeholders returns n comma-separated SQL placeholders.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
