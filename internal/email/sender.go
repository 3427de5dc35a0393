// Package email delivers automation-generated outreach mail.
package email

import (
	"context"

	"crm_automation_backend/platform/config"
	"crm_automation_backend/platform/logger"
)

// Sender delivers outreach email to leads.
type Sender interface {
	SendOutreachEmail(ctx context.Context, toEmail, leadName, subject, body string) error
}

// NewSender returns the SMTP sender when email is enabled, otherwise a
// logging no-op so rule actions keep working in local setups.
func NewSender(cfg config.EmailConfig, log *logger.Logger) Sender {
	if !cfg.GetEmailEnabled() {
		return NewNoopSender(log)
	}
	return NewSMTPSender(
		cfg.GetSMTPHost(),
		cfg.GetSMTPPort(),
		cfg.GetSMTPUsername(),
		cfg.GetSMTPPassword(),
		cfg.GetEmailFromAddress(),
		cfg.GetEmailFromName(),
	)
}

// NoopSender is used when email delivery is disabled. Sends are logged and
// reported as successful so rule actions do not fail on configuration.
type NoopSender struct {
	log *logger.Logger
}

// NewNoopSender creates a sender that only logs.
func NewNoopSender(log *logger.Logger) *NoopSender {
	return &NoopSender{log: log}
}

func (n *NoopSender) SendOutreachEmail(_ context.Context, toEmail, _, subject, _ string) error {
	n.log.Info("email delivery disabled, skipping send",
		"to", toEmail, "subject", subject)
	return nil
}
