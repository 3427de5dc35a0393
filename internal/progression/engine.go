package progression

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crm_automation_backend/internal/events"
	"crm_automation_backend/internal/leads/repository"
	"crm_automation_backend/internal/leads/scoring"
	"crm_automation_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// consensusThreshold is the satisfied-weight ratio at which a rule fires.
const consensusThreshold = 0.6

// momentLookback bounds the conversation history fed to trigger evaluation.
const momentLookback = 7 * 24 * time.Hour

// LeadStore is the lead access the engine needs.
type LeadStore interface {
	ListAutomationTenants(ctx context.Context) ([]uuid.UUID, error)
	ListEligibleForProgression(ctx context.Context, tenantID uuid.UUID) ([]repository.Lead, error)
	GetByID(ctx context.Context, leadID, tenantID uuid.UUID) (repository.Lead, error)
	GetCallStats(ctx context.Context, leadID uuid.UUID) (repository.CallStats, error)
	ListConversationMoments(ctx context.Context, leadID uuid.UUID, since time.Time) ([]repository.ConversationMoment, error)
	MarkAutoProgression(ctx context.Context, leadID, tenantID uuid.UUID, at time.Time) error
}

// RuleStore is the rule access the engine needs.
type RuleStore interface {
	ListActive(ctx context.Context, tenantID uuid.UUID) ([]Rule, error)
	RecordExecution(ctx context.Context, ruleID uuid.UUID, success bool, executedAt time.Time) error
	AggregateStats(ctx context.Context) (triggered, successes int, err error)
}

// Scorer recomputes a lead's composite score for impact measurement.
type Scorer interface {
	ScoreSnapshot(ctx context.Context, lead repository.Lead) scoring.Breakdown
}

// ActionExecutor carries out one rule action against one lead.
type ActionExecutor interface {
	Execute(ctx context.Context, action Action, lead repository.Lead, rule Rule) error
}

// Config carries the engine's runtime settings.
type Config interface {
	GetEngineInterval() time.Duration
	GetEngineMaxConcurrency() int
}

// Evaluation is the outcome of one (lead, rule) pair.
type Evaluation struct {
	RuleID         uuid.UUID
	LeadID         uuid.UUID
	Fired          bool
	WeightRatio    float64
	Reason         string
	ActionsRun     int
	ActionsOK      int
	OverallSuccess bool
	ScoreImpact    int
}

// BatchStats aggregates one ProcessAllLeads pass.
type BatchStats struct {
	Tenants   int `json:"tenants"`
	Leads     int `json:"leads"`
	Rules     int `json:"rules"`
	Evaluated int `json:"evaluated"`
	Fired     int `json:"fired"`
	Failed    int `json:"failed"`
}

// Stats is the engine's control-surface snapshot.
type Stats struct {
	IsRunning          bool    `json:"isRunning"`
	TotalRulesExecuted int     `json:"totalRulesExecuted"`
	SuccessRate        float64 `json:"successRate"`
	AverageImpact      float64 `json:"averageImpact"`
}

// Engine is the timer-driven control loop evaluating rules against leads.
// One instance owns its own timer; there is no process-wide singleton.
type Engine struct {
	leads     LeadStore
	rules     RuleStore
	scorer    Scorer
	evaluator *Evaluator
	executor  ActionExecutor
	bus       events.Bus
	log       *logger.Logger

	interval       time.Duration
	maxConcurrency int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	// impact accumulators feed AverageImpact in GetStats.
	impactMu    sync.Mutex
	impactSum   float64
	impactCount int

	// leadLocks serializes actions touching the same lead within a pass.
	leadLocks keyedMutex
}

// NewEngine creates a rule engine.
func NewEngine(leads LeadStore, rules RuleStore, scorer Scorer, evaluator *Evaluator, executor ActionExecutor, bus events.Bus, cfg Config, log *logger.Logger) *Engine {
	maxConcurrency := cfg.GetEngineMaxConcurrency()
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Engine{
		leads:          leads,
		rules:          rules,
		scorer:         scorer,
		evaluator:      evaluator,
		executor:       executor,
		bus:            bus,
		log:            log,
		interval:       cfg.GetEngineInterval(),
		maxConcurrency: maxConcurrency,
	}
}

// Start launches the control loop: one immediate pass, then one per
// interval. Calling Start on a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})

	go e.loop(loopCtx)
	e.log.Info("progression engine started", "interval", e.interval.String())
}

// Stop halts the timer. In-flight evaluations run to completion; Stop
// returns once the loop has exited. Stopping a stopped engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	<-done
	e.log.Info("progression engine stopped")
}

// IsRunning reports whether the control loop is active.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)

	if _, err := e.ProcessAllLeads(ctx); err != nil {
		e.log.Error("engine pass failed", "error", err.Error())
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.ProcessAllLeads(ctx); err != nil {
				// A failed pass only skips this tick.
				e.log.Error("engine pass failed", "error", err.Error())
			}
		}
	}
}

// ProcessAllLeads runs one full pass over every tenant's eligible leads and
// active rules. Individual evaluation failures are counted, never raised.
func (e *Engine) ProcessAllLeads(ctx context.Context) (BatchStats, error) {
	started := time.Now()

	tenants, err := e.leads.ListAutomationTenants(ctx)
	if err != nil {
		return BatchStats{}, fmt.Errorf("failed to list automation tenants: %w", err)
	}

	var stats BatchStats
	stats.Tenants = len(tenants)

	for _, tenantID := range tenants {
		tenantStats, err := e.processTenant(ctx, tenantID)
		if err != nil {
			// One tenant's fetch failing should not starve the rest.
			e.log.Error("tenant pass failed",
				"tenant_id", tenantID.String(), "error", err.Error())
			stats.Failed++
			continue
		}
		stats.Leads += tenantStats.Leads
		stats.Rules += tenantStats.Rules
		stats.Evaluated += tenantStats.Evaluated
		stats.Fired += tenantStats.Fired
		stats.Failed += tenantStats.Failed
	}

	e.log.BatchSummary(stats.Leads, stats.Rules, stats.Evaluated, stats.Fired, stats.Failed, time.Since(started))
	return stats, nil
}

// validRules drops rules whose parameters fail validation. A bad rule is
// logged and never evaluated; it cannot poison the rest of the batch.
func (e *Engine) validRules(rules []Rule) []Rule {
	valid := rules[:0]
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			e.log.Warn("skipping invalid rule",
				"rule_id", rule.ID.String(), "rule", rule.Name, "error", err.Error())
			continue
		}
		valid = append(valid, rule)
	}
	return valid
}

func (e *Engine) processTenant(ctx context.Context, tenantID uuid.UUID) (BatchStats, error) {
	rules, err := e.rules.ListActive(ctx, tenantID)
	if err != nil {
		return BatchStats{}, err
	}
	rules = e.validRules(rules)
	leads, err := e.leads.ListEligibleForProgression(ctx, tenantID)
	if err != nil {
		return BatchStats{}, err
	}

	stats := BatchStats{Leads: len(leads), Rules: len(rules)}
	if len(rules) == 0 || len(leads) == 0 {
		return stats, nil
	}

	var statsMu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.maxConcurrency)

	for _, lead := range leads {
		group.Go(func() error {
			lc, score, err := e.loadLeadContext(groupCtx, lead)
			if err != nil {
				statsMu.Lock()
				stats.Failed += len(rules)
				statsMu.Unlock()
				return nil
			}

			for _, rule := range rules {
				eval, err := e.safeEvaluate(groupCtx, rule, lc, score)

				statsMu.Lock()
				stats.Evaluated++
				if err != nil {
					stats.Failed++
				} else if eval.Fired {
					stats.Fired++
				}
				statsMu.Unlock()
			}
			return nil
		})
	}

	// Workers swallow their own failures; Wait only orders completion.
	_ = group.Wait()
	return stats, nil
}

// loadLeadContext fetches one lead's history and score for the pass.
func (e *Engine) loadLeadContext(ctx context.Context, lead repository.Lead) (LeadContext, int, error) {
	calls, err := e.leads.GetCallStats(ctx, lead.ID)
	if err != nil {
		e.log.DatabaseError("lead call stats", err)
		return LeadContext{}, 0, err
	}
	moments, err := e.leads.ListConversationMoments(ctx, lead.ID, time.Now().UTC().Add(-momentLookback))
	if err != nil {
		e.log.DatabaseError("conversation moments", err)
		return LeadContext{}, 0, err
	}

	lc := LeadContext{Lead: lead, RecentMoments: moments, Calls: calls}
	score := e.scorer.ScoreSnapshot(ctx, lead).Total
	return lc, score, nil
}

// safeEvaluate shields the batch from a panicking evaluation.
func (e *Engine) safeEvaluate(ctx context.Context, rule Rule, lc LeadContext, score int) (eval Evaluation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluation panicked: %v", r)
			e.log.Error("rule evaluation panicked",
				"rule_id", rule.ID.String(), "lead_id", lc.Lead.ID.String(), "panic", fmt.Sprint(r))
		}
	}()
	return e.evaluate(ctx, rule, lc, score), nil
}

// evaluate runs the full pipeline for one (lead, rule) pair: constraint
// gate, weighted trigger consensus, ordered actions, impact, statistics.
func (e *Engine) evaluate(ctx context.Context, rule Rule, lc LeadContext, score int) Evaluation {
	eval := Evaluation{RuleID: rule.ID, LeadID: lc.Lead.ID}

	if reason, ok := checkConstraints(rule, lc.Lead, score, time.Now().UTC()); !ok {
		eval.Reason = reason
		e.log.RuleEvaluated(rule.ID.String(), lc.Lead.ID.String(), false, 0, reason)
		return eval
	}

	eval.WeightRatio = e.consensus(ctx, rule, lc)
	if eval.WeightRatio < consensusThreshold {
		eval.Reason = fmt.Sprintf("trigger consensus %.3f below %.2f", eval.WeightRatio, consensusThreshold)
		e.log.RuleEvaluated(rule.ID.String(), lc.Lead.ID.String(), false, eval.WeightRatio, eval.Reason)
		return eval
	}

	eval.Fired = true
	e.log.RuleEvaluated(rule.ID.String(), lc.Lead.ID.String(), true, eval.WeightRatio, "")

	e.runActions(ctx, rule, lc.Lead, &eval)

	if eval.OverallSuccess {
		eval.ScoreImpact = e.measureImpact(ctx, lc.Lead, score)
		e.recordImpact(eval.ScoreImpact)

		if err := e.leads.MarkAutoProgression(ctx, lc.Lead.ID, lc.Lead.TenantID, time.Now().UTC()); err != nil {
			e.log.DatabaseError("mark auto progression", err)
		}
	}

	if err := e.rules.RecordExecution(ctx, rule.ID, eval.OverallSuccess, time.Now().UTC()); err != nil {
		e.log.DatabaseError("record rule execution", err)
	}

	e.bus.Publish(ctx, events.RuleFired{
		BaseEvent:      events.NewBaseEvent(),
		RuleID:         rule.ID,
		LeadID:         lc.Lead.ID,
		TenantID:       lc.Lead.TenantID,
		WeightRatio:    eval.WeightRatio,
		ActionsRun:     eval.ActionsRun,
		ActionsOK:      eval.ActionsOK,
		OverallSuccess: eval.OverallSuccess,
		ScoreImpact:    eval.ScoreImpact,
	})

	return eval
}

// checkConstraints applies the rule's gate. A rejection is expected
// behavior, reported with a reason and no statistics update.
func checkConstraints(rule Rule, lead repository.Lead, score int, now time.Time) (string, bool) {
	if rule.MinScore != nil && score < *rule.MinScore {
		return fmt.Sprintf("score %d below minimum %d", score, *rule.MinScore), false
	}
	if len(rule.RequiredStatuses) > 0 && !containsString(rule.RequiredStatuses, lead.Status) {
		return fmt.Sprintf("status %s not in required set", lead.Status), false
	}
	if containsString(rule.ExcludedStatuses, lead.Status) {
		return fmt.Sprintf("status %s is excluded", lead.Status), false
	}
	if rule.MaxDaysSinceLastTouch != nil {
		if lead.LastContactedAt == nil {
			return "lead has never been contacted", false
		}
		days := now.Sub(*lead.LastContactedAt).Hours() / 24
		if days > float64(*rule.MaxDaysSinceLastTouch) {
			return fmt.Sprintf("last touch %.0f days ago exceeds %d", days, *rule.MaxDaysSinceLastTouch), false
		}
	}
	return "", true
}

// consensus returns the satisfied-weight ratio across the rule's triggers.
func (e *Engine) consensus(ctx context.Context, rule Rule, lc LeadContext) float64 {
	total := rule.TotalWeight()
	if total <= 0 {
		return 0
	}

	satisfied := 0.0
	for _, trigger := range rule.Triggers {
		if e.evaluator.Evaluate(ctx, trigger, lc).Satisfied {
			satisfied += trigger.Weight
		}
	}
	return satisfied / total
}

// runActions executes the rule's actions in declared order. Failures are
// isolated per action; writes to the lead are serialized per lead.
func (e *Engine) runActions(ctx context.Context, rule Rule, lead repository.Lead, eval *Evaluation) {
	unlock := e.leadLocks.lock(lead.ID.String())
	defer unlock()

	for _, action := range rule.Actions {
		eval.ActionsRun++
		if err := e.safeExecute(ctx, action, lead, rule); err != nil {
			e.log.ActionFailed(action.Type, rule.ID.String(), lead.ID.String(), err)
			continue
		}
		eval.ActionsOK++
	}
	eval.OverallSuccess = eval.ActionsOK > 0
}

func (e *Engine) safeExecute(ctx context.Context, action Action, lead repository.Lead, rule Rule) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return e.executor.Execute(ctx, action, lead, rule)
}

// measureImpact rescores the lead after its actions ran and returns the
// score delta.
func (e *Engine) measureImpact(ctx context.Context, lead repository.Lead, before int) int {
	fresh, err := e.leads.GetByID(ctx, lead.ID, lead.TenantID)
	if err != nil {
		e.log.DatabaseError("reload lead for impact", err)
		return 0
	}
	after := e.scorer.ScoreSnapshot(ctx, fresh).Total
	return after - before
}

func (e *Engine) recordImpact(impact int) {
	e.impactMu.Lock()
	e.impactSum += float64(impact)
	e.impactCount++
	e.impactMu.Unlock()
}

// GetStats reports the engine's control-surface snapshot. Execution totals
// come from the rule store; average impact covers this process's lifetime.
func (e *Engine) GetStats(ctx context.Context) (Stats, error) {
	triggered, successes, err := e.rules.AggregateStats(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		IsRunning:          e.IsRunning(),
		TotalRulesExecuted: triggered,
	}
	if triggered > 0 {
		stats.SuccessRate = float64(successes) / float64(triggered) * 100
	}

	e.impactMu.Lock()
	if e.impactCount > 0 {
		stats.AverageImpact = e.impactSum / float64(e.impactCount)
	}
	e.impactMu.Unlock()

	return stats, nil
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// keyedMutex provides one mutex per string key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
