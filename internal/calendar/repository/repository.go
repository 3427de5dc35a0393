// Package repository provides persistence for calendar events.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crm_automation_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Calendar event statuses. Canceled and completed events no longer block
// their time window.
const (
	StatusScheduled = "scheduled"
	StatusCompleted = "completed"
	StatusCanceled  = "canceled"
	StatusNoShow    = "no_show"
)

// blockingStatuses are the statuses that still occupy an assignee's calendar.
var blockingStatuses = []string{StatusScheduled, StatusNoShow}

// Event is a booked time window on an assignee's calendar.
type Event struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	LeadID           uuid.UUID
	AssigneeID       uuid.UUID
	Title            string
	StartTime        time.Time
	EndTime          time.Time
	Status           string
	Automated        bool
	SentimentTrigger *float64
	FollowUpType     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const eventColumns = `id, tenant_id, lead_id, assignee_id, title, start_time, end_time,
	status, automated, sentiment_trigger, follow_up_type, created_at, updated_at`

// Repository provides calendar event persistence backed by Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new calendar repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanEvent(row pgx.Row) (Event, error) {
	var e Event
	err := row.Scan(
		&e.ID,
		&e.TenantID,
		&e.LeadID,
		&e.AssigneeID,
		&e.Title,
		&e.StartTime,
		&e.EndTime,
		&e.Status,
		&e.Automated,
		&e.SentimentTrigger,
		&e.FollowUpType,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	return e, err
}

// GetByID fetches a single event.
func (r *Repository) GetByID(ctx context.Context, eventID uuid.UUID) (Event, error) {
	query := `SELECT ` + eventColumns + ` FROM calendar_events WHERE id = $1`

	event, err := scanEvent(r.pool.QueryRow(ctx, query, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Event{}, apperr.NotFound("calendar event not found")
	}
	if err != nil {
		return Event{}, fmt.Errorf("failed to get calendar event: %w", err)
	}
	return event, nil
}

// ListBlockingForAssignee returns the assignee's events that still occupy
// calendar time inside [from, to), ordered by start time.
func (r *Repository) ListBlockingForAssignee(ctx context.Context, assigneeID uuid.UUID, from, to time.Time) ([]Event, error) {
	query := `SELECT ` + eventColumns + ` FROM calendar_events
		WHERE assignee_id = $1
		  AND status = ANY($2)
		  AND start_time < $4
		  AND end_time > $3
		ORDER BY start_time ASC`

	rows, err := r.pool.Query(ctx, query, assigneeID, blockingStatuses, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendar events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan calendar event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate calendar events: %w", err)
	}
	return events, nil
}

// HasUpcomingForLead reports whether the lead has a scheduled event in the future.
func (r *Repository) HasUpcomingForLead(ctx context.Context, leadID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (
		SELECT 1 FROM calendar_events
		WHERE lead_id = $1 AND status = $2 AND start_time > NOW()
	)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, leadID, StatusScheduled).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check upcoming events: %w", err)
	}
	return exists, nil
}

// Create inserts a new calendar event.
func (r *Repository) Create(ctx context.Context, event Event) (Event, error) {
	query := `INSERT INTO calendar_events
			(id, tenant_id, lead_id, assignee_id, title, start_time, end_time,
			 status, automated, sentiment_trigger, follow_up_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = StatusScheduled
	}

	err := r.pool.QueryRow(ctx, query,
		event.ID,
		event.TenantID,
		event.LeadID,
		event.AssigneeID,
		event.Title,
		event.StartTime,
		event.EndTime,
		event.Status,
		event.Automated,
		event.SentimentTrigger,
		event.FollowUpType,
	).Scan(&event.CreatedAt, &event.UpdatedAt)
	if err != nil {
		return Event{}, fmt.Errorf("failed to create calendar event: %w", err)
	}
	return event, nil
}

// UpdateStatus transitions an event to a new status.
func (r *Repository) UpdateStatus(ctx context.Context, eventID uuid.UUID, status string) error {
	query := `UPDATE calendar_events SET status = $1, updated_at = NOW() WHERE id = $2`

	tag, err := r.pool.Exec(ctx, query, status, eventID)
	if err != nil {
		return fmt.Errorf("failed to update calendar event status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("calendar event not found")
	}
	return nil
}
