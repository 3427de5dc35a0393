// Package repository persists progression rules in Postgres.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crm_automation_backend/internal/progression"
	"crm_automation_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ruleColumns = `id, tenant_id, name, is_active, triggers, actions,
	min_score, required_statuses, excluded_statuses, max_days_since_last_touch,
	times_triggered, successful_executions, success_rate, last_executed_at,
	created_at, updated_at`

// Repository provides progression rule persistence backed by Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new rule repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanRule(row pgx.Row) (progression.Rule, error) {
	var r progression.Rule
	var triggers, actions []byte

	err := row.Scan(
		&r.ID, &r.TenantID, &r.Name, &r.IsActive, &triggers, &actions,
		&r.MinScore, &r.RequiredStatuses, &r.ExcludedStatuses, &r.MaxDaysSinceLastTouch,
		&r.TimesTriggered, &r.SuccessfulExecutions, &r.SuccessRate, &r.LastExecutedAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return progression.Rule{}, err
	}

	if err := json.Unmarshal(triggers, &r.Triggers); err != nil {
		return progression.Rule{}, fmt.Errorf("rule %s has invalid triggers: %w", r.ID, err)
	}
	if err := json.Unmarshal(actions, &r.Actions); err != nil {
		return progression.Rule{}, fmt.Errorf("rule %s has invalid actions: %w", r.ID, err)
	}
	return r, nil
}

// GetByID fetches one rule, tenant scoped.
func (r *Repository) GetByID(ctx context.Context, ruleID, tenantID uuid.UUID) (progression.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM progression_rules WHERE id = $1 AND tenant_id = $2`

	rule, err := scanRule(r.pool.QueryRow(ctx, query, ruleID, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return progression.Rule{}, apperr.NotFound("progression rule not found")
	}
	if err != nil {
		return progression.Rule{}, fmt.Errorf("failed to get progression rule: %w", err)
	}
	return rule, nil
}

// ListActive returns the tenant's active rules in creation order, so action
// ordering between rules stays stable across passes.
func (r *Repository) ListActive(ctx context.Context, tenantID uuid.UUID) ([]progression.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM progression_rules
		WHERE tenant_id = $1 AND is_active = TRUE
		ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active rules: %w", err)
	}
	defer rows.Close()

	rules := make([]progression.Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return rules, nil
}

// HasAny reports whether the tenant has any rules at all, active or not.
func (r *Repository) HasAny(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM progression_rules WHERE tenant_id = $1)`, tenantID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check for rules: %w", err)
	}
	return exists, nil
}

// Create inserts a rule.
func (r *Repository) Create(ctx context.Context, rule progression.Rule) (progression.Rule, error) {
	triggers, err := json.Marshal(rule.Triggers)
	if err != nil {
		return progression.Rule{}, fmt.Errorf("failed to encode triggers: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return progression.Rule{}, fmt.Errorf("failed to encode actions: %w", err)
	}

	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	if rule.RequiredStatuses == nil {
		rule.RequiredStatuses = []string{}
	}
	if rule.ExcludedStatuses == nil {
		rule.ExcludedStatuses = []string{}
	}

	query := `INSERT INTO progression_rules
			(id, tenant_id, name, is_active, triggers, actions, min_score,
			 required_statuses, excluded_statuses, max_days_since_last_touch)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	err = r.pool.QueryRow(ctx, query,
		rule.ID, rule.TenantID, rule.Name, rule.IsActive, triggers, actions,
		rule.MinScore, rule.RequiredStatuses, rule.ExcludedStatuses, rule.MaxDaysSinceLastTouch,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return progression.Rule{}, fmt.Errorf("failed to create rule: %w", err)
	}
	return rule, nil
}

// RecordExecution updates a rule's statistics in one atomic statement, so
// concurrent evaluations never lose counts.
func (r *Repository) RecordExecution(ctx context.Context, ruleID uuid.UUID, success bool, executedAt time.Time) error {
	query := `UPDATE progression_rules SET
			times_triggered = times_triggered + 1,
			successful_executions = successful_executions + CASE WHEN $2 THEN 1 ELSE 0 END,
			success_rate = (successful_executions + CASE WHEN $2 THEN 1 ELSE 0 END)::double precision
				/ (times_triggered + 1) * 100,
			last_executed_at = $3,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, ruleID, success, executedAt)
	if err != nil {
		return fmt.Errorf("failed to record rule execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("progression rule not found")
	}
	return nil
}

// AggregateStats sums execution counters across all rules.
func (r *Repository) AggregateStats(ctx context.Context) (triggered, successes int, err error) {
	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(times_triggered), 0), COALESCE(SUM(successful_executions), 0)
		 FROM progression_rules`,
	).Scan(&triggered, &successes)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate rule stats: %w", err)
	}
	return triggered, successes, nil
}
