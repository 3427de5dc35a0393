// Package repository provides persistence for leads and their
// engagement history (call logs, conversation moments, tasks, scripts).
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

// Pipeline statuses. Won, lost and cold are terminal: automation never
// moves a lead out of them.
const (
	StatusNew             = "new"
	StatusInterested      = "interested"
	StatusFollowUp        = "follow_up"
	StatusQualified       = "qualified"
	StatusProposalCurrent = "proposal_current"
	StatusNegotiation     = "negotiation"
	StatusWon             = "won"
	StatusLost            = "lost"
	StatusCold            = "cold"
)

// TerminalStatuses are the pipeline states automation never acts on.
var TerminalStatuses = []string{StatusWon, StatusLost, StatusCold}

// IsTerminalStatus reports whether the status ends the pipeline.
func IsTerminalStatus(status string) bool {
	for _, s := range TerminalStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// IsValidStatus reports whether the status is a known pipeline state.
func IsValidStatus(status string) bool {
	switch status {
	case StatusNew, StatusInterested, StatusFollowUp, StatusQualified,
		StatusProposalCurrent, StatusNegotiation, StatusWon, StatusLost, StatusCold:
		return true
	}
	return false
}

// Lead is a prospective customer record moving through the pipeline.
// Mutations go through the field-level update methods below; the version
// column backs optimistic concurrency for automation writes.
type Lead struct {
	ID                     uuid.UUID
	TenantID               uuid.UUID
	Name                   string
	Email                  *string
	Phone                  *string
	Company                *string
	Position               *string
	Status                 string
	SentimentScore         *float64
	EngagementScore        *int
	PriorEngagementScore   *int
	ResponseRate           *float64
	LastContactedAt        *time.Time
	AssignedTo             *uuid.UUID
	AutoProgressionEnabled bool
	LastAutoProgressionAt  *time.Time
	NextFollowUpDate       *time.Time
	StatusChangedAt        time.Time
	Version                int
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// CallLog records one outbound or inbound call with a lead.
type CallLog struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	LeadID          uuid.UUID
	Outcome         string
	DurationSeconds int
	OccurredAt      time.Time
	CreatedAt       time.Time
}

// Conversation moment types. Buying signals and interest peaks count as
// qualification evidence.
const (
	MomentBuyingSignal  = "buying_signal"
	MomentInterestPeak  = "interest_peak"
	MomentObjection     = "objection"
	MomentPriceQuestion = "price_question"
)

// ConversationMoment is a timestamped, conversation-derived event used as
// qualification evidence.
type ConversationMoment struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	LeadID     uuid.UUID
	MomentType string
	Summary    string
	OccurredAt time.Time
	CreatedAt  time.Time
}

// QualificationFilter narrows the candidate fetch for the detector.
type QualificationFilter struct {
	MinSentimentScore    float64
	MinEngagementScore   int
	DaysSinceLastContact int
	ExcludedStatuses     []string
}

const leadColumns = `id, tenant_id, name, email, phone, company, position, status,
	sentiment_score, engagement_score, prior_engagement_score, response_rate,
	last_contacted_at, assigned_to, auto_progression_enabled,
	last_auto_progression_at, next_follow_up_date, status_changed_at,
	version, created_at, updated_at`

// Repository provides lead persistence backed by Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new leads repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanLead(row pgx.Row) (Lead, error) {
	var l Lead
	err := row.Scan(
		&l.ID,
		&l.TenantID,
		&l.Name,
		&l.Email,
		&l.Phone,
		&l.Company,
		&l.Position,
		&l.Status,
		&l.SentimentScore,
		&l.EngagementScore,
		&l.PriorEngagementScore,
		&l.ResponseRate,
		&l.LastContactedAt,
		&l.AssignedTo,
		&l.AutoProgressionEnabled,
		&l.LastAutoProgressionAt,
		&l.NextFollowUpDate,
		&l.StatusChangedAt,
		&l.Version,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	return l, err
}

// GetByID fetches a single lead scoped to a tenant.
func (r *Repository) GetByID(ctx context.Context, leadID, tenantID uuid.UUID) (Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1 AND tenant_id = $2`

	lead, err := scanLead(r.pool.QueryRow(ctx, query, leadID, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, apperr.NotFound("lead not found")
	}
	if err != nil {
		return Lead{}, fmt.Errorf("failed to get lead: %w", err)
	}
	return lead, nil
}

// ListEligibleForProgression returns leads the rule engine may act on:
// auto-progression enabled and not in a terminal status.
func (r *Repository) ListEligibleForProgression(ctx context.Context, tenantID uuid.UUID) ([]Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads
		WHERE tenant_id = $1
		  AND auto_progression_enabled = TRUE
		  AND NOT (status = ANY($2))
		ORDER BY updated_at DESC`

	rows, err := r.pool.Query(ctx, query, tenantID, TerminalStatuses)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible leads: %w", err)
	}
	defer rows.Close()

	return collectLeads(rows)
}

// ListAutomationTenants returns the tenants that currently have leads the
// engine could act on. The engine fans out per tenant from this list.
func (r *Repository) ListAutomationTenants(ctx context.Context) ([]uuid.UUID, error) {
	query := `SELECT DISTINCT tenant_id FROM leads
		WHERE auto_progression_enabled = TRUE
		  AND NOT (status = ANY($1))`

	rows, err := r.pool.Query(ctx, query, TerminalStatuses)
	if err != nil {
		return nil, fmt.Errorf("failed to list automation tenants: %w", err)
	}
	defer rows.Close()

	tenants := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tenant id: %w", err)
		}
		tenants = append(tenants, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate automation tenants: %w", err)
	}
	return tenants, nil
}

// ListQualificationCandidates returns leads passing the detector's
// pre-filters: sentiment and engagement floors, excluded statuses, and a
// last-contact window (never-contacted leads always pass the window).
func (r *Repository) ListQualificationCandidates(ctx context.Context, tenantID uuid.UUID, filter QualificationFilter) ([]Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads
		WHERE tenant_id = $1
		  AND NOT (status = ANY($2))
		  AND sentiment_score >= $3
		  AND engagement_score >= $4
		  AND (last_contacted_at IS NULL OR last_contacted_at >= $5)
		ORDER BY engagement_score DESC`

	cutoff := time.Now().UTC().AddDate(0, 0, -filter.DaysSinceLastContact)
	rows, err := r.pool.Query(ctx, query,
		tenantID,
		filter.ExcludedStatuses,
		filter.MinSentimentScore,
		filter.MinEngagementScore,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list qualification candidates: %w", err)
	}
	defer rows.Close()

	return collectLeads(rows)
}

func collectLeads(rows pgx.Rows) ([]Lead, error) {
	leads := make([]Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate leads: %w", err)
	}
	return leads, nil
}

// UpdateStatus moves a lead to a new pipeline status with an optimistic
// version check. Returns apperr.Conflict when the version is stale.
func (r *Repository) UpdateStatus(ctx context.Context, leadID, tenantID uuid.UUID, newStatus string, version int) error {
	query := `UPDATE leads
		SET status = $1, status_changed_at = NOW(), version = version + 1, updated_at = NOW()
		WHERE id = $2 AND tenant_id = $3 AND version = $4`

	tag, err := r.pool.Exec(ctx, query, newStatus, leadID, tenantID, version)
	if err != nil {
		return fmt.Errorf("failed to update lead status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("lead was modified concurrently")
	}
	return nil
}

// AssignTo sets the lead's assignee with an optimistic version check.
func (r *Repository) AssignTo(ctx context.Context, leadID, tenantID, userID uuid.UUID, version int) error {
	query := `UPDATE leads
		SET assigned_to = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND tenant_id = $3 AND version = $4`

	tag, err := r.pool.Exec(ctx, query, userID, leadID, tenantID, version)
	if err != nil {
		return fmt.Errorf("failed to assign lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("lead was modified concurrently")
	}
	return nil
}

// SetNextFollowUp records the next follow-up date after a booking.
func (r *Repository) SetNextFollowUp(ctx context.Context, leadID, tenantID uuid.UUID, at time.Time) error {
	query := `UPDATE leads
		SET next_follow_up_date = $1, updated_at = NOW()
		WHERE id = $2 AND tenant_id = $3`

	if _, err := r.pool.Exec(ctx, query, at, leadID, tenantID); err != nil {
		return fmt.Errorf("failed to set next follow-up: %w", err)
	}
	return nil
}

// MarkAutoProgression records when the engine last acted on a lead.
func (r *Repository) MarkAutoProgression(ctx context.Context, leadID, tenantID uuid.UUID, at time.Time) error {
	query := `UPDATE leads
		SET last_auto_progression_at = $1, updated_at = NOW()
		WHERE id = $2 AND tenant_id = $3`

	if _, err := r.pool.Exec(ctx, query, at, leadID, tenantID); err != nil {
		return fmt.Errorf("failed to mark auto progression: %w", err)
	}
	return nil
}

// CallStats summarizes a lead's call history for scoring.
type CallStats struct {
	Total  int
	Recent int // calls in the last 30 days
}

// GetCallStats returns call history counts for a lead.
func (r *Repository) GetCallStats(ctx context.Context, leadID uuid.UUID) (CallStats, error) {
	query := `SELECT COUNT(*),
		COUNT(*) FILTER (WHERE occurred_at >= NOW() - INTERVAL '30 days')
		FROM lead_call_logs WHERE lead_id = $1`

	var stats CallStats
	if err := r.pool.QueryRow(ctx, query, leadID).Scan(&stats.Total, &stats.Recent); err != nil {
		return CallStats{}, fmt.Errorf("failed to get call stats: %w", err)
	}
	return stats, nil
}

// ListConversationMoments returns a lead's conversation moments since the
// given time, newest first.
func (r *Repository) ListConversationMoments(ctx context.Context, leadID uuid.UUID, since time.Time) ([]ConversationMoment, error) {
	query := `SELECT id, tenant_id, lead_id, moment_type, summary, occurred_at, created_at
		FROM lead_conversation_moments
		WHERE lead_id = $1 AND occurred_at >= $2
		ORDER BY occurred_at DESC`

	rows, err := r.pool.Query(ctx, query, leadID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation moments: %w", err)
	}
	defer rows.Close()

	moments := make([]ConversationMoment, 0)
	for rows.Next() {
		var m ConversationMoment
		if err := rows.Scan(&m.ID, &m.TenantID, &m.LeadID, &m.MomentType, &m.Summary, &m.OccurredAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation moment: %w", err)
		}
		moments = append(moments, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation moments: %w", err)
	}
	return moments, nil
}
