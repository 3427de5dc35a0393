package automation

import (
	"context"

	"crm_automation_backend/internal/automation/handler"
	calrepo "crm_automation_backend/internal/calendar/repository"
	"crm_automation_backend/internal/classifier"
	"crm_automation_backend/internal/email"
	"crm_automation_backend/internal/events"
	apphttp "crm_automation_backend/internal/http"
	leadrepo "crm_automation_backend/internal/leads/repository"
	"crm_automation_backend/internal/leads/scoring"
	"crm_automation_backend/internal/progression"
	progrepo "crm_automation_backend/internal/progression/repository"
	"crm_automation_backend/internal/qualification"
	"crm_automation_backend/internal/scheduling"
	"crm_automation_backend/platform/config"
	"crm_automation_backend/platform/logger"
	"crm_automation_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AI bundles the two model-backed capabilities the module consumes. A nil
// provider degrades behavior_pattern triggers and personalize_script actions
// instead of failing startup.
type AI interface {
	classifier.Classifier
	classifier.ScriptGenerator
}

// Module is the automation bounded context implementing http.Module. It owns
// the progression engine, the qualification detector, and the auto-scheduler.
type Module struct {
	engine    *progression.Engine
	scheduler *scheduling.Service
	qualifier *qualification.Service
	leads     *leadrepo.Repository
	rules     *progrepo.Repository
	handler   *handler.Handler
}

// NewModule wires the automation services. runCtx bounds the lifetime of an
// engine started over HTTP; sender, reminders, and ai may be nil for
// degraded configurations.
func NewModule(runCtx context.Context, pool *pgxpool.Pool, bus events.Bus, val *validator.Validator, cfg *config.Config, log *logger.Logger, sender EmailSender, reminders scheduling.ReminderScheduler, ai AI) (*Module, error) {
	leads := leadrepo.New(pool)
	calendar := calrepo.New(pool)
	rules := progrepo.New(pool)

	scorer := scoring.New(leads, calendar, log)
	qualifier := qualification.New(leads, bus, log)

	scheduler, err := scheduling.New(calendar, leads, qualifier, reminders, bus, cfg, log)
	if err != nil {
		return nil, err
	}

	if sender == nil {
		sender = email.NewNoopSender(log)
	}

	var classify classifier.Classifier
	var scripts ScriptWriter
	if ai != nil {
		classify = ai
		scripts = ai
	}

	executor := NewExecutor(leads, scheduler, sender, scripts, bus, log)
	evaluator := progression.NewEvaluator(classify, log)
	engine := progression.NewEngine(leads, rules, scorer, evaluator, executor, bus, cfg, log)

	h := handler.New(runCtx, engine, qualifier, scheduler, scorer, rules, val, log)

	return &Module{
		engine:    engine,
		scheduler: scheduler,
		qualifier: qualifier,
		leads:     leads,
		rules:     rules,
		handler:   h,
	}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "automation"
}

// Engine returns the progression engine for lifecycle control by the
// composition root.
func (m *Module) Engine() *progression.Engine {
	return m.engine
}

// Scheduler returns the auto-scheduling service.
func (m *Module) Scheduler() *scheduling.Service {
	return m.scheduler
}

// SeedDefaultRules installs the default rule set for every tenant that has
// automation enabled but no rules yet.
func (m *Module) SeedDefaultRules(ctx context.Context, log *logger.Logger) error {
	tenants, err := m.leads.ListAutomationTenants(ctx)
	if err != nil {
		return err
	}
	for _, tenantID := range tenants {
		if _, err := progression.SeedDefaults(ctx, m.rules, tenantID, log); err != nil {
			return err
		}
	}
	return nil
}

// RegisterRoutes mounts the automation routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	engineGroup := ctx.V1.Group("/automation/engine")
	engineGroup.POST("/start", m.handler.StartEngine)
	engineGroup.POST("/stop", m.handler.StopEngine)
	engineGroup.POST("/run", m.handler.RunOnce)
	engineGroup.GET("/stats", m.handler.EngineStats)

	group := ctx.Tenant.Group("/automation")
	group.POST("/qualification/detect", m.handler.Detect)
	group.GET("/leads/:id/score", m.handler.Score)
	group.GET("/leads/:id/recommendation", m.handler.Recommend)
	group.GET("/calendar/slots", m.handler.Slots)
	group.POST("/leads/:id/auto-schedule", m.handler.AutoSchedule)
	group.POST("/schedule/batch", m.handler.AutoScheduleBatch)
	group.GET("/rules", m.handler.ListRules)
	group.POST("/rules/seed", m.handler.SeedRules)
}
