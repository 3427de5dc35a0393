// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"crm_automation_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Lead Domain Events
// =============================================================================

// LeadStatusChanged is published when an automated action moves a lead to a
// new pipeline status.
type LeadStatusChanged struct {
	BaseEvent
	LeadID    uuid.UUID `json:"leadId"`
	TenantID  uuid.UUID `json:"tenantId"`
	OldStatus string    `json:"oldStatus"`
	NewStatus string    `json:"newStatus"`
	RuleID    uuid.UUID `json:"ruleId"`
}

func (e LeadStatusChanged) EventName() string { return "leads.status.changed" }

// LeadQualified is published when the qualification detector marks a lead as
// ready for accelerated follow-up.
type LeadQualified struct {
	BaseEvent
	LeadID          uuid.UUID `json:"leadId"`
	TenantID        uuid.UUID `json:"tenantId"`
	Score           int       `json:"score"`
	FollowUpType    string    `json:"followUpType"`
	Priority        string    `json:"priority"`
	SentimentScore  float64   `json:"sentimentScore"`
	EngagementScore int       `json:"engagementScore"`
}

func (e LeadQualified) EventName() string { return "leads.qualified" }

// LeadAssigned is published when an automated action reassigns a lead.
type LeadAssigned struct {
	BaseEvent
	LeadID        uuid.UUID  `json:"leadId"`
	TenantID      uuid.UUID  `json:"tenantId"`
	PreviousAgent *uuid.UUID `json:"previousAgent,omitempty"`
	NewAgent      uuid.UUID  `json:"newAgent"`
	RuleID        uuid.UUID  `json:"ruleId"`
}

func (e LeadAssigned) EventName() string { return "leads.assigned" }

// =============================================================================
// Automation Domain Events
// =============================================================================

// RuleFired is published after a progression rule's weighted trigger
// consensus is reached and its actions have run.
type RuleFired struct {
	BaseEvent
	RuleID         uuid.UUID `json:"ruleId"`
	LeadID         uuid.UUID `json:"leadId"`
	TenantID       uuid.UUID `json:"tenantId"`
	WeightRatio    float64   `json:"weightRatio"`
	ActionsRun     int       `json:"actionsRun"`
	ActionsOK      int       `json:"actionsOk"`
	OverallSuccess bool      `json:"overallSuccess"`
	ScoreImpact    int       `json:"scoreImpact"`
}

func (e RuleFired) EventName() string { return "automation.rule.fired" }

// CallScheduled is published when the auto-scheduler books a calendar event.
type CallScheduled struct {
	BaseEvent
	EventID      uuid.UUID `json:"eventId"`
	LeadID       uuid.UUID `json:"leadId"`
	TenantID     uuid.UUID `json:"tenantId"`
	AssigneeID   uuid.UUID `json:"assigneeId"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	FollowUpType string    `json:"followUpType"`
	Automated    bool      `json:"automated"`
}

func (e CallScheduled) EventName() string { return "automation.call.scheduled" }

// CallReminderDue is published when a scheduled call's reminder fires.
type CallReminderDue struct {
	BaseEvent
	EventID   uuid.UUID `json:"eventId"`
	LeadID    uuid.UUID `json:"leadId"`
	TenantID  uuid.UUID `json:"tenantId"`
	StartTime time.Time `json:"startTime"`
}

func (e CallReminderDue) EventName() string { return "automation.call.reminder" }

// TaskCreated is published when a rule action creates a follow-up task.
type TaskCreated struct {
	BaseEvent
	TaskID   uuid.UUID `json:"taskId"`
	LeadID   uuid.UUID `json:"leadId"`
	TenantID uuid.UUID `json:"tenantId"`
	Title    string    `json:"title"`
	RuleID   uuid.UUID `json:"ruleId"`
}

func (e TaskCreated) EventName() string { return "automation.task.created" }
