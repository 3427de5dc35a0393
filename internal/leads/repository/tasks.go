package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task is a follow-up work item created by an automation action.
type Task struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	LeadID      uuid.UUID
	Title       string
	Description string
	DueDate     *time.Time
	Status      string
	CreatedBy   string
	CreatedAt   time.Time
}

// CreateTask inserts a follow-up task for a lead.
func (r *Repository) CreateTask(ctx context.Context, task Task) (Task, error) {
	query := `INSERT INTO tasks (id, tenant_id, lead_id, title, description, due_date, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Status == "" {
		task.Status = "open"
	}
	if task.CreatedBy == "" {
		task.CreatedBy = "automation"
	}

	err := r.pool.QueryRow(ctx, query,
		task.ID,
		task.TenantID,
		task.LeadID,
		task.Title,
		task.Description,
		task.DueDate,
		task.Status,
		task.CreatedBy,
	).Scan(&task.CreatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("failed to create task: %w", err)
	}
	return task, nil
}

// Script is a personalized call script generated for a lead.
type Script struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	LeadID    uuid.UUID
	Content   string
	Tone      string
	CreatedAt time.Time
}

// CreateScript stores a generated call script for a lead.
func (r *Repository) CreateScript(ctx context.Context, script Script) (Script, error) {
	query := `INSERT INTO lead_scripts (id, tenant_id, lead_id, content, tone)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	if script.ID == uuid.Nil {
		script.ID = uuid.New()
	}

	err := r.pool.QueryRow(ctx, query,
		script.ID,
		script.TenantID,
		script.LeadID,
		script.Content,
		script.Tone,
	).Scan(&script.CreatedAt)
	if err != nil {
		return Script{}, fmt.Errorf("failed to create lead script: %w", err)
	}
	return script, nil
}
