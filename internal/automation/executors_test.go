package automation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"crm_automation_backend/internal/events"
	"crm_automation_backend/internal/leads/repository"
	"crm_automation_backend/internal/progression"
	"crm_automation_backend/internal/scheduling"
	"crm_automation_backend/platform/apperr"
	"crm_automation_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeLeadWriter struct {
	mu            sync.Mutex
	statusUpdates []string
	assignments   []uuid.UUID
	tasks         []repository.Task
	scripts       []repository.Script
	updateErr     error
}

func (f *fakeLeadWriter) UpdateStatus(_ context.Context, _, _ uuid.UUID, newStatus string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.statusUpdates = append(f.statusUpdates, newStatus)
	return nil
}

func (f *fakeLeadWriter) AssignTo(_ context.Context, _, _, userID uuid.UUID, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assignments = append(f.assignments, userID)
	return nil
}

func (f *fakeLeadWriter) CreateTask(_ context.Context, task repository.Task) (repository.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	f.tasks = append(f.tasks, task)
	return task, nil
}

func (f *fakeLeadWriter) CreateScript(_ context.Context, script repository.Script) (repository.Script, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, script)
	return script, nil
}

type fakeScheduler struct {
	result scheduling.ScheduleResult
	err    error
	calls  int
}

func (f *fakeScheduler) AutoSchedule(_ context.Context, leadID, _ uuid.UUID) (scheduling.ScheduleResult, error) {
	f.calls++
	f.result.LeadID = leadID
	return f.result, f.err
}

type fakeEmailSender struct {
	sent []string
	err  error
}

func (f *fakeEmailSender) SendOutreachEmail(_ context.Context, toEmail, _, subject, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, toEmail+": "+subject)
	return nil
}

type fakeScriptWriter struct {
	script string
	err    error
	tone   string
}

func (f *fakeScriptWriter) GenerateScript(_ context.Context, _, tone string) (string, error) {
	f.tone = tone
	return f.script, f.err
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, ev events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordingBus) PublishSync(_ context.Context, ev events.Event) error {
	b.Publish(context.Background(), ev)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) named(name string) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, ev := range b.events {
		if ev.EventName() == name {
			out = append(out, ev)
		}
	}
	return out
}

func testLead() repository.Lead {
	email := "ana@example.com"
	company := "Acme BV"
	return repository.Lead{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Name:     "Ana Prins",
		Email:    &email,
		Company:  &company,
		Status:   repository.StatusInterested,
		Version:  3,
	}
}

func newTestExecutor(leads *fakeLeadWriter, sched *fakeScheduler, sender *fakeEmailSender, scripts ScriptWriter, bus *recordingBus) *Executor {
	exec := NewExecutor(leads, sched, sender, scripts, bus, logger.New("test"))
	exec.now = func() time.Time { return time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC) }
	return exec
}

func TestExecuteStatusChange(t *testing.T) {
	leads := &fakeLeadWriter{}
	bus := &recordingBus{}
	exec := newTestExecutor(leads, &fakeScheduler{}, &fakeEmailSender{}, nil, bus)
	lead := testLead()
	rule := progression.Rule{ID: uuid.New()}

	action := progression.Action{Type: progression.ActionStatusChange, Params: progression.StatusChangeParams{NewStatus: repository.StatusQualified}}
	if err := exec.Execute(context.Background(), action, lead, rule); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(leads.statusUpdates) != 1 || leads.statusUpdates[0] != repository.StatusQualified {
		t.Fatalf("status updates = %v, want [qualified]", leads.statusUpdates)
	}
	published := bus.named("leads.status.changed")
	if len(published) != 1 {
		t.Fatalf("published %d status events, want 1", len(published))
	}
	ev := published[0].(events.LeadStatusChanged)
	if ev.OldStatus != repository.StatusInterested || ev.NewStatus != repository.StatusQualified {
		t.Fatalf("event transition %s -> %s", ev.OldStatus, ev.NewStatus)
	}
}

func TestExecuteStatusChangeRejectsUnknownStatus(t *testing.T) {
	leads := &fakeLeadWriter{}
	exec := newTestExecutor(leads, &fakeScheduler{}, &fakeEmailSender{}, nil, &recordingBus{})

	action := progression.Action{Type: progression.ActionStatusChange, Params: progression.StatusChangeParams{NewStatus: "escalated"}}
	err := exec.Execute(context.Background(), action, testLead(), progression.Rule{})
	if err == nil {
		t.Fatal("expected error for unknown status")
	}
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("kind = %v, want validation", apperr.GetKind(err))
	}
	if len(leads.statusUpdates) != 0 {
		t.Fatal("status must not be written")
	}
}

func TestExecuteStatusChangeNoopWhenAlreadyThere(t *testing.T) {
	leads := &fakeLeadWriter{}
	bus := &recordingBus{}
	exec := newTestExecutor(leads, &fakeScheduler{}, &fakeEmailSender{}, nil, bus)
	lead := testLead()

	action := progression.Action{Type: progression.ActionStatusChange, Params: progression.StatusChangeParams{NewStatus: lead.Status}}
	if err := exec.Execute(context.Background(), action, lead, progression.Rule{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(leads.statusUpdates) != 0 || len(bus.events) != 0 {
		t.Fatal("same-status change must be a no-op")
	}
}

func TestExecuteScheduleCall(t *testing.T) {
	eventID := uuid.New()
	sched := &fakeScheduler{result: scheduling.ScheduleResult{Success: true, EventID: &eventID}}
	exec := newTestExecutor(&fakeLeadWriter{}, sched, &fakeEmailSender{}, nil, &recordingBus{})

	action := progression.Action{Type: progression.ActionScheduleCall, Params: progression.ScheduleCallParams{}}
	if err := exec.Execute(context.Background(), action, testLead(), progression.Rule{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if sched.calls != 1 {
		t.Fatalf("scheduler called %d times, want 1", sched.calls)
	}
}

func TestExecuteScheduleCallSoftFailureBecomesError(t *testing.T) {
	sched := &fakeScheduler{result: scheduling.ScheduleResult{Success: false, Reason: "lead has no assignee"}}
	exec := newTestExecutor(&fakeLeadWriter{}, sched, &fakeEmailSender{}, nil, &recordingBus{})

	action := progression.Action{Type: progression.ActionScheduleCall, Params: progression.ScheduleCallParams{}}
	err := exec.Execute(context.Background(), action, testLead(), progression.Rule{})
	if err == nil {
		t.Fatal("expected error when scheduling soft-fails")
	}
	if !strings.Contains(err.Error(), "lead has no assignee") {
		t.Fatalf("error %q should carry the reason", err)
	}
}

func TestExecuteSendEmailExpandsPlaceholders(t *testing.T) {
	sender := &fakeEmailSender{}
	exec := newTestExecutor(&fakeLeadWriter{}, &fakeScheduler{}, sender, nil, &recordingBus{})

	action := progression.Action{Type: progression.ActionSendEmail, Params: progression.SendEmailParams{
		Subject: "Checking in, {{name}}",
		Body:    "How are things at {{company}}?",
	}}
	if err := exec.Execute(context.Background(), action, testLead(), progression.Rule{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0] != "ana@example.com: Checking in, Ana Prins" {
		t.Fatalf("sent = %v", sender.sent)
	}
}

func TestExecuteSendEmailRequiresAddress(t *testing.T) {
	exec := newTestExecutor(&fakeLeadWriter{}, &fakeScheduler{}, &fakeEmailSender{}, nil, &recordingBus{})
	lead := testLead()
	lead.Email = nil

	action := progression.Action{Type: progression.ActionSendEmail, Params: progression.SendEmailParams{Subject: "s", Body: "b"}}
	err := exec.Execute(context.Background(), action, lead, progression.Rule{})
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("kind = %v, want validation", apperr.GetKind(err))
	}
}

func TestExecuteCreateTaskSetsDueDate(t *testing.T) {
	leads := &fakeLeadWriter{}
	bus := &recordingBus{}
	exec := newTestExecutor(leads, &fakeScheduler{}, &fakeEmailSender{}, nil, bus)

	action := progression.Action{Type: progression.ActionCreateTask, Params: progression.CreateTaskParams{
		Title:     "Call {{name}} back",
		DueInDays: 3,
	}}
	if err := exec.Execute(context.Background(), action, testLead(), progression.Rule{ID: uuid.New()}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(leads.tasks) != 1 {
		t.Fatalf("created %d tasks, want 1", len(leads.tasks))
	}
	task := leads.tasks[0]
	if task.Title != "Call Ana Prins back" {
		t.Fatalf("title = %q", task.Title)
	}
	wantDue := time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC)
	if task.DueDate == nil || !task.DueDate.Equal(wantDue) {
		t.Fatalf("due date = %v, want %v", task.DueDate, wantDue)
	}
	if len(bus.named("automation.task.created")) != 1 {
		t.Fatal("expected a task created event")
	}
}

func TestExecuteAssignToUser(t *testing.T) {
	leads := &fakeLeadWriter{}
	bus := &recordingBus{}
	exec := newTestExecutor(leads, &fakeScheduler{}, &fakeEmailSender{}, nil, bus)
	userID := uuid.New()

	action := progression.Action{Type: progression.ActionAssignToUser, Params: progression.AssignToUserParams{UserID: userID}}
	if err := exec.Execute(context.Background(), action, testLead(), progression.Rule{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(leads.assignments) != 1 || leads.assignments[0] != userID {
		t.Fatalf("assignments = %v", leads.assignments)
	}

	// Re-running against a lead already owned by the user is a no-op.
	lead := testLead()
	lead.AssignedTo = &userID
	if err := exec.Execute(context.Background(), action, lead, progression.Rule{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(leads.assignments) != 1 {
		t.Fatal("reassignment to same user must be skipped")
	}
}

func TestExecutePersonalizeScript(t *testing.T) {
	leads := &fakeLeadWriter{}
	scripts := &fakeScriptWriter{script: "Opening: ask about the Acme rollout."}
	exec := newTestExecutor(leads, &fakeScheduler{}, &fakeEmailSender{}, scripts, &recordingBus{})

	action := progression.Action{Type: progression.ActionPersonalizeScript, Params: progression.PersonalizeScriptParams{}}
	if err := exec.Execute(context.Background(), action, testLead(), progression.Rule{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if scripts.tone != defaultScriptTone {
		t.Fatalf("tone = %q, want default", scripts.tone)
	}
	if len(leads.scripts) != 1 || leads.scripts[0].Content != scripts.script {
		t.Fatalf("stored scripts = %v", leads.scripts)
	}
}

func TestExecutePersonalizeScriptWithoutGenerator(t *testing.T) {
	exec := newTestExecutor(&fakeLeadWriter{}, &fakeScheduler{}, &fakeEmailSender{}, nil, &recordingBus{})

	action := progression.Action{Type: progression.ActionPersonalizeScript, Params: progression.PersonalizeScriptParams{Tone: "direct"}}
	err := exec.Execute(context.Background(), action, testLead(), progression.Rule{})
	if apperr.GetKind(err) != apperr.KindUnavailable {
		t.Fatalf("kind = %v, want unavailable", apperr.GetKind(err))
	}
}

func TestExecuteWrapsRepositoryErrors(t *testing.T) {
	leads := &fakeLeadWriter{updateErr: errors.New("stale version")}
	exec := newTestExecutor(leads, &fakeScheduler{}, &fakeEmailSender{}, nil, &recordingBus{})

	action := progression.Action{Type: progression.ActionStatusChange, Params: progression.StatusChangeParams{NewStatus: repository.StatusQualified}}
	err := exec.Execute(context.Background(), action, testLead(), progression.Rule{})
	if err == nil || !strings.Contains(err.Error(), "stale version") {
		t.Fatalf("err = %v, want wrapped repository error", err)
	}
}
