package progression

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crm_automation_backend/internal/leads/repository"
	"crm_automation_backend/internal/leads/scoring"
	"crm_automation_backend/platform/events"
	"crm_automation_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeLeadStore struct {
	tenants []uuid.UUID
	leads   map[uuid.UUID][]repository.Lead

	mu             sync.Mutex
	progressionIDs []uuid.UUID
}

func (f *fakeLeadStore) ListAutomationTenants(context.Context) ([]uuid.UUID, error) {
	return f.tenants, nil
}

func (f *fakeLeadStore) ListEligibleForProgression(_ context.Context, tenantID uuid.UUID) ([]repository.Lead, error) {
	return f.leads[tenantID], nil
}

func (f *fakeLeadStore) GetByID(_ context.Context, leadID, tenantID uuid.UUID) (repository.Lead, error) {
	for _, lead := range f.leads[tenantID] {
		if lead.ID == leadID {
			return lead, nil
		}
	}
	return repository.Lead{}, errors.New("lead not found")
}

func (f *fakeLeadStore) GetCallStats(context.Context, uuid.UUID) (repository.CallStats, error) {
	return repository.CallStats{}, nil
}

func (f *fakeLeadStore) ListConversationMoments(context.Context, uuid.UUID, time.Time) ([]repository.ConversationMoment, error) {
	return nil, nil
}

func (f *fakeLeadStore) MarkAutoProgression(_ context.Context, leadID, _ uuid.UUID, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progressionIDs = append(f.progressionIDs, leadID)
	return nil
}

type fakeRuleStore struct {
	mu         sync.Mutex
	rules      map[uuid.UUID][]Rule
	executions []bool
}

func (f *fakeRuleStore) ListActive(_ context.Context, tenantID uuid.UUID) ([]Rule, error) {
	return f.rules[tenantID], nil
}

func (f *fakeRuleStore) RecordExecution(_ context.Context, _ uuid.UUID, success bool, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executions = append(f.executions, success)
	return nil
}

func (f *fakeRuleStore) AggregateStats(context.Context) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	successes := 0
	for _, ok := range f.executions {
		if ok {
			successes++
		}
	}
	return len(f.executions), successes, nil
}

type fakeScorer struct {
	total int
}

func (f fakeScorer) ScoreSnapshot(context.Context, repository.Lead) scoring.Breakdown {
	return scoring.Breakdown{Total: f.total}
}

type fakeExecutor struct {
	mu       sync.Mutex
	executed []string
	failOn   map[string]error
	panicOn  string
}

func (f *fakeExecutor) Execute(_ context.Context, action Action, _ repository.Lead, _ Rule) error {
	f.mu.Lock()
	f.executed = append(f.executed, action.Type)
	f.mu.Unlock()

	if action.Type == f.panicOn {
		panic("executor exploded")
	}
	if err, ok := f.failOn[action.Type]; ok {
		return err
	}
	return nil
}

func newTestEngine(leads *fakeLeadStore, rules *fakeRuleStore, executor *fakeExecutor, score int) *Engine {
	log := logger.New("test")
	return NewEngine(
		leads, rules, fakeScorer{total: score},
		NewEvaluator(nil, log), executor,
		events.NewInMemoryBus(log),
		staticEngineConfig{}, log,
	)
}

type staticEngineConfig struct{}

func (staticEngineConfig) GetEngineInterval() time.Duration { return time.Hour }
func (staticEngineConfig) GetEngineMaxConcurrency() int     { return 2 }

func eligibleLead(tenantID uuid.UUID, sentiment float64) repository.Lead {
	return repository.Lead{
		ID:              uuid.New(),
		TenantID:        tenantID,
		Name:            "Test Lead",
		Status:          repository.StatusInterested,
		SentimentScore:  &sentiment,
		StatusChangedAt: time.Now().UTC().AddDate(0, 0, -5),
	}
}

func sentimentRule(tenantID uuid.UUID, threshold, weight float64, actions ...Action) Rule {
	return Rule{
		ID:       uuid.New(),
		TenantID: tenantID,
		Name:     "test rule",
		IsActive: true,
		Triggers: []Trigger{{
			Type:   TriggerSentimentThreshold,
			Weight: weight,
			Params: SentimentThresholdParams{Threshold: threshold},
		}},
		Actions: actions,
	}
}

func statusAction() Action {
	return Action{Type: ActionStatusChange, Params: StatusChangeParams{NewStatus: repository.StatusQualified}}
}

func TestConsensusBoundary(t *testing.T) {
	tenant := uuid.New()
	lead := eligibleLead(tenant, 0.9) // satisfies threshold 0.5, not 2.0

	satisfied := Trigger{Type: TriggerSentimentThreshold, Weight: 0, Params: SentimentThresholdParams{Threshold: 0.5}}
	unsatisfied := Trigger{Type: TriggerSentimentThreshold, Weight: 0, Params: SentimentThresholdParams{Threshold: 2.0}}

	tests := []struct {
		name            string
		satisfiedWeight float64
		totalWeight     float64
		wantFired       bool
	}{
		{"exactly at threshold fires", 0.6, 1.0, true},
		{"just below does not fire", 0.599, 1.0, false},
		{"dominant trigger carries", 0.8, 1.2, true}, // ratio 0.667
		{"minority trigger does not", 0.4, 1.2, false},
		{"all satisfied", 1.0, 1.0, true},
		{"none satisfied", 0, 1.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sat := satisfied
			sat.Weight = tt.satisfiedWeight
			unsat := unsatisfied
			unsat.Weight = tt.totalWeight - tt.satisfiedWeight

			rule := Rule{
				ID: uuid.New(), TenantID: tenant, Name: "boundary", IsActive: true,
				Actions: []Action{statusAction()},
			}
			if sat.Weight > 0 {
				rule.Triggers = append(rule.Triggers, sat)
			}
			if unsat.Weight > 0 {
				rule.Triggers = append(rule.Triggers, unsat)
			}

			executor := &fakeExecutor{}
			engine := newTestEngine(&fakeLeadStore{}, &fakeRuleStore{}, executor, 50)

			eval := engine.evaluate(context.Background(), rule, LeadContext{Lead: lead}, 50)
			if eval.Fired != tt.wantFired {
				t.Errorf("fired = %v (ratio %.3f), want %v", eval.Fired, eval.WeightRatio, tt.wantFired)
			}
			if tt.wantFired && len(executor.executed) == 0 {
				t.Error("fired rule should run its actions")
			}
			if !tt.wantFired && len(executor.executed) != 0 {
				t.Error("unfired rule must not run actions")
			}
		})
	}
}

func TestConstraintGateShortCircuits(t *testing.T) {
	tenant := uuid.New()
	lead := eligibleLead(tenant, 0.9)

	tests := []struct {
		name   string
		mutate func(*Rule)
	}{
		{"min score unmet", func(r *Rule) { r.MinScore = iptr(80) }},
		{"status not required", func(r *Rule) { r.RequiredStatuses = []string{repository.StatusNegotiation} }},
		{"status excluded", func(r *Rule) { r.ExcludedStatuses = []string{repository.StatusInterested} }},
		{"never contacted with touch limit", func(r *Rule) { r.MaxDaysSinceLastTouch = iptr(7) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := sentimentRule(tenant, 0.5, 1.0, statusAction())
			tt.mutate(&rule)

			store := &fakeRuleStore{}
			engine := newTestEngine(&fakeLeadStore{}, store, &fakeExecutor{}, 50)

			eval := engine.evaluate(context.Background(), rule, LeadContext{Lead: lead}, 50)
			if eval.Fired {
				t.Error("gated rule must not fire")
			}
			if eval.Reason == "" {
				t.Error("gate rejection must carry a reason")
			}
			if len(store.executions) != 0 {
				t.Error("gate rejection must not touch statistics")
			}
		})
	}
}

func TestActionFailuresAreIsolated(t *testing.T) {
	tenant := uuid.New()
	lead := eligibleLead(tenant, 0.9)
	rule := sentimentRule(tenant, 0.5, 1.0,
		Action{Type: ActionSendEmail, Params: SendEmailParams{Subject: "s", Body: "b"}},
		statusAction(),
		Action{Type: ActionCreateTask, Params: CreateTaskParams{Title: "t"}},
	)

	executor := &fakeExecutor{
		failOn:  map[string]error{ActionSendEmail: errors.New("smtp down")},
		panicOn: ActionCreateTask,
	}
	store := &fakeRuleStore{}
	engine := newTestEngine(&fakeLeadStore{leads: map[uuid.UUID][]repository.Lead{tenant: {lead}}}, store, executor, 50)

	eval := engine.evaluate(context.Background(), rule, LeadContext{Lead: lead}, 50)

	if eval.ActionsRun != 3 {
		t.Errorf("actions run = %d, want 3 (failures must not block siblings)", eval.ActionsRun)
	}
	if eval.ActionsOK != 1 {
		t.Errorf("actions ok = %d, want 1", eval.ActionsOK)
	}
	if !eval.OverallSuccess {
		t.Error("one successful action makes the execution successful")
	}
	if len(store.executions) != 1 || !store.executions[0] {
		t.Errorf("statistics = %v, want one successful execution", store.executions)
	}
}

func TestAllActionsFailing(t *testing.T) {
	tenant := uuid.New()
	lead := eligibleLead(tenant, 0.9)
	rule := sentimentRule(tenant, 0.5, 1.0, statusAction())

	executor := &fakeExecutor{failOn: map[string]error{ActionStatusChange: errors.New("conflict")}}
	store := &fakeRuleStore{}
	engine := newTestEngine(&fakeLeadStore{}, store, executor, 50)

	eval := engine.evaluate(context.Background(), rule, LeadContext{Lead: lead}, 50)

	if eval.OverallSuccess {
		t.Error("execution with zero successful actions must not count as success")
	}
	if len(store.executions) != 1 || store.executions[0] {
		t.Errorf("statistics = %v, want one failed execution", store.executions)
	}
}

func TestSuccessfulExecutionMarksAutoProgression(t *testing.T) {
	tenant := uuid.New()
	lead := eligibleLead(tenant, 0.9)
	rule := sentimentRule(tenant, 0.5, 1.0, statusAction())

	leads := &fakeLeadStore{leads: map[uuid.UUID][]repository.Lead{tenant: {lead}}}
	engine := newTestEngine(leads, &fakeRuleStore{}, &fakeExecutor{}, 50)

	eval := engine.evaluate(context.Background(), rule, LeadContext{Lead: lead}, 50)
	if !eval.OverallSuccess {
		t.Fatal("expected a successful execution")
	}
	if len(leads.progressionIDs) != 1 || leads.progressionIDs[0] != lead.ID {
		t.Errorf("marked leads = %v, want [%v]", leads.progressionIDs, lead.ID)
	}
}

func TestFailedExecutionDoesNotMarkAutoProgression(t *testing.T) {
	tenant := uuid.New()
	lead := eligibleLead(tenant, 0.9)
	rule := sentimentRule(tenant, 0.5, 1.0, statusAction())

	leads := &fakeLeadStore{}
	executor := &fakeExecutor{failOn: map[string]error{ActionStatusChange: errors.New("conflict")}}
	engine := newTestEngine(leads, &fakeRuleStore{}, executor, 50)

	engine.evaluate(context.Background(), rule, LeadContext{Lead: lead}, 50)
	if len(leads.progressionIDs) != 0 {
		t.Errorf("failed execution marked leads %v, want none", leads.progressionIDs)
	}
}

func TestProcessAllLeadsNeverRaises(t *testing.T) {
	tenant := uuid.New()
	leads := []repository.Lead{eligibleLead(tenant, 0.9), eligibleLead(tenant, 0.8), eligibleLead(tenant, 0.7)}
	rules := []Rule{
		sentimentRule(tenant, 0.5, 1.0, statusAction()),
		sentimentRule(tenant, 0.5, 1.0, statusAction()),
	}

	executor := &fakeExecutor{panicOn: ActionStatusChange}
	engine := newTestEngine(
		&fakeLeadStore{tenants: []uuid.UUID{tenant}, leads: map[uuid.UUID][]repository.Lead{tenant: leads}},
		&fakeRuleStore{rules: map[uuid.UUID][]Rule{tenant: rules}},
		executor, 50,
	)

	stats, err := engine.ProcessAllLeads(context.Background())
	if err != nil {
		t.Fatalf("ProcessAllLeads() error: %v", err)
	}
	if want := len(leads) * len(rules); stats.Evaluated != want {
		t.Errorf("evaluated = %d, want %d", stats.Evaluated, want)
	}
	if stats.Fired != 6 {
		t.Errorf("fired = %d, want 6", stats.Fired)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	engine := newTestEngine(&fakeLeadStore{}, &fakeRuleStore{}, &fakeExecutor{}, 50)

	engine.Start(context.Background())
	engine.Start(context.Background())
	if !engine.IsRunning() {
		t.Fatal("engine should be running after Start")
	}

	engine.Stop()
	engine.Stop()
	if engine.IsRunning() {
		t.Fatal("engine should be stopped after Stop")
	}

	// A stopped engine can be started again.
	engine.Start(context.Background())
	if !engine.IsRunning() {
		t.Fatal("engine should restart after Stop")
	}
	engine.Stop()
}

func TestGetStats(t *testing.T) {
	store := &fakeRuleStore{executions: []bool{true, true, false, true}}
	engine := newTestEngine(&fakeLeadStore{}, store, &fakeExecutor{}, 50)
	engine.recordImpact(10)
	engine.recordImpact(20)

	stats, err := engine.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats() error: %v", err)
	}
	if stats.IsRunning {
		t.Error("engine is not running")
	}
	if stats.TotalRulesExecuted != 4 {
		t.Errorf("total executed = %d, want 4", stats.TotalRulesExecuted)
	}
	if stats.SuccessRate != 75 {
		t.Errorf("success rate = %v, want 75", stats.SuccessRate)
	}
	if stats.AverageImpact != 15 {
		t.Errorf("average impact = %v, want 15", stats.AverageImpact)
	}
}
