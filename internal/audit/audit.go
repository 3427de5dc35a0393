// Package audit logs automation domain events as a structured audit trail.
package audit

import (
	"context"

	"crm_automation_backend/internal/events"
	"crm_automation_backend/platform/logger"
)

// Subscriber consumes automation events and writes them to the log. It is
// the only consumer that sees every event, so the log doubles as the audit
// trail for automated decisions.
type Subscriber struct {
	log *logger.Logger
}

// NewSubscriber creates the audit subscriber.
func NewSubscriber(log *logger.Logger) *Subscriber {
	return &Subscriber{log: log}
}

// Register subscribes to all audited event types.
func (s *Subscriber) Register(bus events.Bus) {
	bus.Subscribe(events.RuleFired{}.EventName(), s)
	bus.Subscribe(events.LeadQualified{}.EventName(), s)
	bus.Subscribe(events.LeadStatusChanged{}.EventName(), s)
	bus.Subscribe(events.LeadAssigned{}.EventName(), s)
	bus.Subscribe(events.CallScheduled{}.EventName(), s)
	bus.Subscribe(events.CallReminderDue{}.EventName(), s)
	bus.Subscribe(events.TaskCreated{}.EventName(), s)
}

// Handle routes events to the audit log.
func (s *Subscriber) Handle(_ context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.RuleFired:
		s.log.Info("audit: rule fired",
			"ruleId", e.RuleID, "leadId", e.LeadID, "tenantId", e.TenantID,
			"weightRatio", e.WeightRatio, "actionsRun", e.ActionsRun,
			"actionsOk", e.ActionsOK, "success", e.OverallSuccess,
			"scoreImpact", e.ScoreImpact)
	case events.LeadQualified:
		s.log.Info("audit: lead qualified",
			"leadId", e.LeadID, "tenantId", e.TenantID, "score", e.Score,
			"followUpType", e.FollowUpType, "priority", e.Priority)
	case events.LeadStatusChanged:
		s.log.Info("audit: lead status changed",
			"leadId", e.LeadID, "tenantId", e.TenantID,
			"from", e.OldStatus, "to", e.NewStatus, "ruleId", e.RuleID)
	case events.LeadAssigned:
		s.log.Info("audit: lead assigned",
			"leadId", e.LeadID, "tenantId", e.TenantID, "newAgent", e.NewAgent,
			"ruleId", e.RuleID)
	case events.CallScheduled:
		s.log.Info("audit: call scheduled",
			"eventId", e.EventID, "leadId", e.LeadID, "tenantId", e.TenantID,
			"assigneeId", e.AssigneeID, "startTime", e.StartTime,
			"followUpType", e.FollowUpType, "automated", e.Automated)
	case events.CallReminderDue:
		s.log.Info("audit: call reminder due",
			"eventId", e.EventID, "leadId", e.LeadID, "tenantId", e.TenantID,
			"startTime", e.StartTime)
	case events.TaskCreated:
		s.log.Info("audit: task created",
			"taskId", e.TaskID, "leadId", e.LeadID, "tenantId", e.TenantID,
			"title", e.Title, "ruleId", e.RuleID)
	}
	return nil
}
