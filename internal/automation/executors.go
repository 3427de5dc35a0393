// Package automation wires the progression engine's rule actions to the
// rest of the system and exposes the automation HTTP surface.
package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crm_automation_backend/internal/events"
	"crm_automation_backend/internal/leads/repository"
	"crm_automation_backend/internal/progression"
	"crm_automation_backend/internal/scheduling"
	"crm_automation_backend/platform/apperr"
	"crm_automation_backend/platform/logger"

	"github.com/google/uuid"
)

const defaultScriptTone = "consultative"

// LeadWriter is the subset of the leads repository the executor mutates.
type LeadWriter interface {
	UpdateStatus(ctx context.Context, leadID, tenantID uuid.UUID, newStatus string, version int) error
	AssignTo(ctx context.Context, leadID, tenantID, userID uuid.UUID, version int) error
	CreateTask(ctx context.Context, task repository.Task) (repository.Task, error)
	CreateScript(ctx context.Context, script repository.Script) (repository.Script, error)
}

// CallScheduler books automated follow-up calls.
type CallScheduler interface {
	AutoSchedule(ctx context.Context, leadID, tenantID uuid.UUID) (scheduling.ScheduleResult, error)
}

// EmailSender delivers outreach emails to leads.
type EmailSender interface {
	SendOutreachEmail(ctx context.Context, toEmail, leadName, subject, body string) error
}

// ScriptWriter generates personalized call scripts. May be unavailable when
// no AI backend is configured.
type ScriptWriter interface {
	GenerateScript(ctx context.Context, leadContext, tone string) (string, error)
}

// Executor carries out progression rule actions. It implements the engine's
// ActionExecutor interface; each action type maps to one collaborator.
type Executor struct {
	leads     LeadWriter
	scheduler CallScheduler
	sender    EmailSender
	scripts   ScriptWriter
	bus       events.Bus
	log       *logger.Logger
	now       func() time.Time
}

// NewExecutor creates the action executor. scripts may be nil; the
// personalize_script action then fails with a typed error instead of
// panicking mid-batch.
func NewExecutor(leads LeadWriter, scheduler CallScheduler, sender EmailSender, scripts ScriptWriter, bus events.Bus, log *logger.Logger) *Executor {
	return &Executor{
		leads:     leads,
		scheduler: scheduler,
		sender:    sender,
		scripts:   scripts,
		bus:       bus,
		log:       log,
		now:       time.Now,
	}
}

// Execute dispatches a single rule action against a lead. Errors are
// returned to the engine, which records them per action without aborting
// the rest of the rule.
func (e *Executor) Execute(ctx context.Context, action progression.Action, lead repository.Lead, rule progression.Rule) error {
	switch params := action.Params.(type) {
	case progression.StatusChangeParams:
		return e.changeStatus(ctx, params, lead, rule)
	case progression.ScheduleCallParams:
		return e.scheduleCall(ctx, lead)
	case progression.SendEmailParams:
		return e.sendEmail(ctx, params, lead)
	case progression.CreateTaskParams:
		return e.createTask(ctx, params, lead, rule)
	case progression.AssignToUserParams:
		return e.assignToUser(ctx, params, lead, rule)
	case progression.PersonalizeScriptParams:
		return e.personalizeScript(ctx, params, lead)
	default:
		return apperr.Validation(fmt.Sprintf("unsupported action type %q", action.Type))
	}
}

func (e *Executor) changeStatus(ctx context.Context, params progression.StatusChangeParams, lead repository.Lead, rule progression.Rule) error {
	if !repository.IsValidStatus(params.NewStatus) {
		return apperr.Validation(fmt.Sprintf("unknown lead status %q", params.NewStatus))
	}
	if lead.Status == params.NewStatus {
		return nil
	}

	if err := e.leads.UpdateStatus(ctx, lead.ID, lead.TenantID, params.NewStatus, lead.Version); err != nil {
		return fmt.Errorf("failed to change lead status: %w", err)
	}

	e.bus.Publish(ctx, events.LeadStatusChanged{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		TenantID:  lead.TenantID,
		OldStatus: lead.Status,
		NewStatus: params.NewStatus,
		RuleID:    rule.ID,
	})
	return nil
}

func (e *Executor) scheduleCall(ctx context.Context, lead repository.Lead) error {
	result, err := e.scheduler.AutoSchedule(ctx, lead.ID, lead.TenantID)
	if err != nil {
		return fmt.Errorf("failed to auto-schedule call: %w", err)
	}
	if !result.Success {
		return apperr.New(apperr.KindConflict, "call not scheduled: "+result.Reason)
	}
	return nil
}

func (e *Executor) sendEmail(ctx context.Context, params progression.SendEmailParams, lead repository.Lead) error {
	if lead.Email == nil || *lead.Email == "" {
		return apperr.Validation("lead has no email address")
	}

	subject := expandPlaceholders(params.Subject, lead)
	body := expandPlaceholders(params.Body, lead)
	if err := e.sender.SendOutreachEmail(ctx, *lead.Email, lead.Name, subject, body); err != nil {
		return fmt.Errorf("failed to send outreach email: %w", err)
	}
	return nil
}

func (e *Executor) createTask(ctx context.Context, params progression.CreateTaskParams, lead repository.Lead, rule progression.Rule) error {
	task := repository.Task{
		TenantID:    lead.TenantID,
		LeadID:      lead.ID,
		Title:       expandPlaceholders(params.Title, lead),
		Description: expandPlaceholders(params.Description, lead),
	}
	if params.DueInDays > 0 {
		due := e.now().AddDate(0, 0, params.DueInDays)
		task.DueDate = &due
	}

	created, err := e.leads.CreateTask(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to create follow-up task: %w", err)
	}

	e.bus.Publish(ctx, events.TaskCreated{
		BaseEvent: events.NewBaseEvent(),
		TaskID:    created.ID,
		LeadID:    lead.ID,
		TenantID:  lead.TenantID,
		Title:     created.Title,
		RuleID:    rule.ID,
	})
	return nil
}

func (e *Executor) assignToUser(ctx context.Context, params progression.AssignToUserParams, lead repository.Lead, rule progression.Rule) error {
	if lead.AssignedTo != nil && *lead.AssignedTo == params.UserID {
		return nil
	}

	if err := e.leads.AssignTo(ctx, lead.ID, lead.TenantID, params.UserID, lead.Version); err != nil {
		return fmt.Errorf("failed to assign lead: %w", err)
	}

	e.bus.Publish(ctx, events.LeadAssigned{
		BaseEvent:     events.NewBaseEvent(),
		LeadID:        lead.ID,
		TenantID:      lead.TenantID,
		PreviousAgent: lead.AssignedTo,
		NewAgent:      params.UserID,
		RuleID:        rule.ID,
	})
	return nil
}

func (e *Executor) personalizeScript(ctx context.Context, params progression.PersonalizeScriptParams, lead repository.Lead) error {
	if e.scripts == nil {
		return apperr.New(apperr.KindUnavailable, "script generation is not configured")
	}

	tone := params.Tone
	if tone == "" {
		tone = defaultScriptTone
	}

	content, err := e.scripts.GenerateScript(ctx, describeLead(lead), tone)
	if err != nil {
		return fmt.Errorf("failed to generate call script: %w", err)
	}

	if _, err := e.leads.CreateScript(ctx, repository.Script{
		TenantID: lead.TenantID,
		LeadID:   lead.ID,
		Content:  content,
		Tone:     tone,
	}); err != nil {
		return fmt.Errorf("failed to store call script: %w", err)
	}
	return nil
}

// expandPlaceholders substitutes lead fields into rule-authored text.
// Supported placeholders: {{name}}, {{company}}, {{status}}.
func expandPlaceholders(text string, lead repository.Lead) string {
	company := ""
	if lead.Company != nil {
		company = *lead.Company
	}
	replacer := strings.NewReplacer(
		"{{name}}", lead.Name,
		"{{company}}", company,
		"{{status}}", lead.Status,
	)
	return replacer.Replace(text)
}

// describeLead builds the prose context handed to the script generator.
func describeLead(lead repository.Lead) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Lead %s is in status %s.", lead.Name, lead.Status)
	if lead.Company != nil {
		fmt.Fprintf(&b, " They work at %s", *lead.Company)
		if lead.Position != nil {
			fmt.Fprintf(&b, " as %s", *lead.Position)
		}
		b.WriteString(".")
	}
	if lead.SentimentScore != nil {
		fmt.Fprintf(&b, " Average call sentiment is %.2f.", *lead.SentimentScore)
	}
	if lead.EngagementScore != nil {
		fmt.Fprintf(&b, " Engagement score is %d.", *lead.EngagementScore)
	}
	if lead.LastContactedAt != nil {
		fmt.Fprintf(&b, " Last contacted on %s.", lead.LastContactedAt.Format("2006-01-02"))
	}
	return b.String()
}
