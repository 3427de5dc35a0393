package email

import (
	"context"
	"fmt"
	"time"

	"crm_automation_backend/internal/events"
	"crm_automation_backend/internal/leads/repository"
	"crm_automation_backend/platform/logger"

	"github.com/google/uuid"
)

// LeadReader is the lead lookup the reminder notifier needs.
type LeadReader interface {
	GetByID(ctx context.Context, leadID, tenantID uuid.UUID) (repository.Lead, error)
}

// ReminderNotifier emails the lead when a call reminder fires. Leads
// without an email address are skipped, not failed; the reminder event
// itself is already on the audit log.
type ReminderNotifier struct {
	leads  LeadReader
	sender Sender
	log    *logger.Logger
}

// NewReminderNotifier creates the reminder notifier.
func NewReminderNotifier(leads LeadReader, sender Sender, log *logger.Logger) *ReminderNotifier {
	return &ReminderNotifier{leads: leads, sender: sender, log: log}
}

// Register subscribes the notifier to call reminder events.
func (n *ReminderNotifier) Register(bus events.Bus) {
	bus.Subscribe(events.CallReminderDue{}.EventName(), n)
}

// Handle sends the reminder email for a due call.
func (n *ReminderNotifier) Handle(ctx context.Context, event events.Event) error {
	due, ok := event.(events.CallReminderDue)
	if !ok {
		return nil
	}

	lead, err := n.leads.GetByID(ctx, due.LeadID, due.TenantID)
	if err != nil {
		return fmt.Errorf("failed to load lead for reminder: %w", err)
	}
	if lead.Email == nil || *lead.Email == "" {
		n.log.Info("lead has no email, skipping call reminder",
			"lead_id", due.LeadID.String(), "event_id", due.EventID.String())
		return nil
	}

	subject := "Reminder: upcoming call"
	body := fmt.Sprintf("This is a reminder of your call scheduled for %s.",
		due.StartTime.Format(time.RFC1123))
	return n.sender.SendOutreachEmail(ctx, *lead.Email, lead.Name, subject, body)
}
