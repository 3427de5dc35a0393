package qualification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crm_automation_backend/internal/events"
	"crm_automation_backend/internal/leads/repository"
	"crm_automation_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeLeadStore struct {
	leads      map[uuid.UUID]repository.Lead
	candidates []repository.Lead
	calls      map[uuid.UUID]repository.CallStats
	moments    map[uuid.UUID][]repository.ConversationMoment
	momentsErr error
}

func (f *fakeLeadStore) GetByID(_ context.Context, leadID, _ uuid.UUID) (repository.Lead, error) {
	lead, ok := f.leads[leadID]
	if !ok {
		return repository.Lead{}, errors.New("lead not found")
	}
	return lead, nil
}

func (f *fakeLeadStore) ListQualificationCandidates(_ context.Context, _ uuid.UUID, _ repository.QualificationFilter) ([]repository.Lead, error) {
	return f.candidates, nil
}

func (f *fakeLeadStore) GetCallStats(_ context.Context, leadID uuid.UUID) (repository.CallStats, error) {
	return f.calls[leadID], nil
}

func (f *fakeLeadStore) ListConversationMoments(_ context.Context, leadID uuid.UUID, _ time.Time) ([]repository.ConversationMoment, error) {
	if f.momentsErr != nil {
		return nil, f.momentsErr
	}
	return f.moments[leadID], nil
}

type recordingBus struct {
	mu        sync.Mutex
	published []events.Event
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func newTestService(store *fakeLeadStore) *Service {
	return New(store, &recordingBus{}, logger.New("test"))
}

func makeLead(status string, sentiment float64, engagement int) repository.Lead {
	return repository.Lead{
		ID:              uuid.New(),
		Name:            "Test Lead",
		Status:          status,
		SentimentScore:  &sentiment,
		EngagementScore: &engagement,
	}
}

func momentAt(leadID uuid.UUID, momentType string, occurredAt time.Time) repository.ConversationMoment {
	return repository.ConversationMoment{
		ID:         uuid.New(),
		LeadID:     leadID,
		MomentType: momentType,
		OccurredAt: occurredAt,
	}
}

func TestDetectNeverReturnsBelowCutoff(t *testing.T) {
	weak := makeLead(repository.StatusNew, 0.41, 61)
	strong := makeLead(repository.StatusNegotiation, 0.8, 90)

	store := &fakeLeadStore{
		candidates: []repository.Lead{weak, strong},
		calls:      map[uuid.UUID]repository.CallStats{strong.ID: {Recent: 3}},
	}

	results, err := newTestService(store).Detect(context.Background(), uuid.New(), Criteria{})
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}

	for _, r := range results {
		if r.Score < qualificationCutoff {
			t.Errorf("result %s scored %d, below cutoff %d", r.LeadID, r.Score, qualificationCutoff)
		}
	}
	// weak: 25 sentiment + 20 engagement + 5 status = 50, filtered out.
	// strong: 25 + 20 + 10 calls + 25 status = 80, kept.
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].LeadID != strong.ID {
		t.Errorf("got lead %s, want %s", results[0].LeadID, strong.ID)
	}
	if results[0].Score != 80 {
		t.Errorf("strong lead scored %d, want 80", results[0].Score)
	}
}

func TestDetectPublishesQualifiedEvents(t *testing.T) {
	weak := makeLead(repository.StatusNew, 0.41, 61)
	strong := makeLead(repository.StatusNegotiation, 0.8, 90)

	store := &fakeLeadStore{
		candidates: []repository.Lead{weak, strong},
		calls:      map[uuid.UUID]repository.CallStats{strong.ID: {Recent: 3}},
	}
	bus := &recordingBus{}
	svc := New(store, bus, logger.New("test"))

	tenantID := uuid.New()
	results, err := svc.Detect(context.Background(), tenantID, Criteria{})
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}

	if len(bus.published) != 1 {
		t.Fatalf("published %d events, want one per qualified lead", len(bus.published))
	}
	qualified, ok := bus.published[0].(events.LeadQualified)
	if !ok {
		t.Fatalf("published %T, want LeadQualified", bus.published[0])
	}
	if qualified.LeadID != strong.ID || qualified.TenantID != tenantID {
		t.Errorf("event ids = %v/%v, want %v/%v", qualified.LeadID, qualified.TenantID, strong.ID, tenantID)
	}
	if qualified.Score != results[0].Score {
		t.Errorf("event score = %d, want %d", qualified.Score, results[0].Score)
	}
	if qualified.FollowUpType != results[0].SuggestedFollowUpType || qualified.Priority != results[0].SuggestedPriority {
		t.Errorf("event follow-up = %s/%s, want %s/%s",
			qualified.FollowUpType, qualified.Priority,
			results[0].SuggestedFollowUpType, results[0].SuggestedPriority)
	}
}

func TestDetectSortsByScoreDescending(t *testing.T) {
	mid := makeLead(repository.StatusQualified, 0.6, 75)
	top := makeLead(repository.StatusNegotiation, 0.8, 90)

	now := time.Now().UTC()
	store := &fakeLeadStore{
		candidates: []repository.Lead{mid, top},
		// mid: 25 + 20 + 10 calls + 15 status = 70; top: 25 + 20 + 15 + 10 + 25 = 95.
		calls: map[uuid.UUID]repository.CallStats{
			mid.ID: {Recent: 2},
			top.ID: {Recent: 2},
		},
		moments: map[uuid.UUID][]repository.ConversationMoment{
			top.ID: {momentAt(top.ID, repository.MomentBuyingSignal, now.Add(-time.Hour))},
		},
	}

	results, err := newTestService(store).Detect(context.Background(), uuid.New(), Criteria{})
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results out of order: %d before %d", results[i-1].Score, results[i].Score)
		}
	}
	if results[0].LeadID != top.ID {
		t.Errorf("top result is %s, want %s", results[0].LeadID, top.ID)
	}
	if results[0].LastCriticalMoment == nil {
		t.Error("top result missing last critical moment")
	}
}

func TestDetectHotInterestedLead(t *testing.T) {
	lead := makeLead(repository.StatusInterested, 0.8, 85)
	now := time.Now().UTC()

	store := &fakeLeadStore{
		candidates: []repository.Lead{lead},
		calls:      map[uuid.UUID]repository.CallStats{lead.ID: {Total: 3, Recent: 2}},
		moments: map[uuid.UUID][]repository.ConversationMoment{
			lead.ID: {
				momentAt(lead.ID, repository.MomentBuyingSignal, now.Add(-time.Hour)),
				momentAt(lead.ID, repository.MomentInterestPeak, now.Add(-2*time.Hour)),
			},
		},
	}

	results, err := newTestService(store).Detect(context.Background(), uuid.New(), Criteria{})
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}

	got := results[0]
	// 25 sentiment + 20 engagement + 30 moments + 10 calls + 10 status = 95.
	if got.Score != 95 {
		t.Errorf("score = %d, want 95", got.Score)
	}
	if got.SuggestedFollowUpType != FollowUpDemo {
		t.Errorf("follow-up = %s, want %s", got.SuggestedFollowUpType, FollowUpDemo)
	}
	if got.SuggestedPriority != PriorityUrgent {
		t.Errorf("priority = %s, want %s", got.SuggestedPriority, PriorityUrgent)
	}
}

func TestSuggestFollowUpCascade(t *testing.T) {
	now := time.Now().UTC()
	buying := []repository.ConversationMoment{momentAt(uuid.New(), repository.MomentBuyingSignal, now)}
	peak := []repository.ConversationMoment{momentAt(uuid.New(), repository.MomentInterestPeak, now)}

	tests := []struct {
		name      string
		status    string
		sentiment float64
		critical  []repository.ConversationMoment
		want      string
	}{
		{"buying signal in negotiation", repository.StatusNegotiation, 0.8, buying, FollowUpClosing},
		{"buying signal elsewhere", repository.StatusInterested, 0.8, buying, FollowUpDemo},
		{"buying signal with weak sentiment falls through", repository.StatusInterested, 0.3, buying, FollowUpNurturing},
		{"interest peak on new lead", repository.StatusNew, 0.5, peak, FollowUpDiscovery},
		{"interest peak on interested lead", repository.StatusInterested, 0.5, peak, FollowUpDiscovery},
		{"interest peak deeper in pipeline", repository.StatusQualified, 0.5, peak, FollowUpProposal},
		{"open proposal", repository.StatusProposalCurrent, 0.3, nil, FollowUpFollowUp},
		{"qualified gets a demo", repository.StatusQualified, 0.3, nil, FollowUpDemo},
		{"positive sentiment alone", repository.StatusInterested, 0.6, nil, FollowUpFollowUp},
		{"nothing special", repository.StatusInterested, 0.2, nil, FollowUpNurturing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := suggestFollowUp(tt.status, tt.sentiment, tt.critical); got != tt.want {
				t.Errorf("suggestFollowUp() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSuggestPriority(t *testing.T) {
	tests := []struct {
		name      string
		score     int
		sentiment float64
		moments   int
		want      string
	}{
		{"urgent needs both score and sentiment", 90, 0.71, 0, PriorityUrgent},
		{"high score but flat sentiment", 90, 0.5, 0, PriorityMedium},
		{"high on moments", 80, 0.5, 2, PriorityHigh},
		{"at cutoff", 70, 0.5, 0, PriorityMedium},
		{"below cutoff", 60, 0.9, 0, PriorityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := suggestPriority(tt.score, tt.sentiment, tt.moments); got != tt.want {
				t.Errorf("suggestPriority(%d, %v, %d) = %s, want %s",
					tt.score, tt.sentiment, tt.moments, got, tt.want)
			}
		})
	}
}

func TestRecommend(t *testing.T) {
	tests := []struct {
		name        string
		sentiment   float64
		momentType  string
		wantAction  string
		wantUrgency string
	}{
		{"very positive", 0.8, "", ActionImmediateCall, PriorityHigh},
		{"positive", 0.5, "", ActionFollowUpCall, PriorityMedium},
		{"mildly positive", 0.2, "", ActionNurtureCall, PriorityLow},
		{"neutral", 0, "", ActionNoAction, PriorityLow},
		{"negative", -0.5, "", ActionNoAction, PriorityLow},
		{"buying signal overrides low sentiment", 0.1, repository.MomentBuyingSignal, ActionImmediateCall, PriorityUrgent},
		{"interest peak does not override", 0.1, repository.MomentInterestPeak, ActionNurtureCall, PriorityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lead := makeLead(repository.StatusInterested, tt.sentiment, 70)
			store := &fakeLeadStore{leads: map[uuid.UUID]repository.Lead{lead.ID: lead}}
			if tt.momentType != "" {
				store.moments = map[uuid.UUID][]repository.ConversationMoment{
					lead.ID: {momentAt(lead.ID, tt.momentType, time.Now().UTC())},
				}
			}

			got, err := newTestService(store).Recommend(context.Background(), lead.ID, uuid.New())
			if err != nil {
				t.Fatalf("Recommend() error: %v", err)
			}
			if got.Action != tt.wantAction {
				t.Errorf("action = %s, want %s", got.Action, tt.wantAction)
			}
			if got.Urgency != tt.wantUrgency {
				t.Errorf("urgency = %s, want %s", got.Urgency, tt.wantUrgency)
			}
			if got.Reasoning == "" {
				t.Error("reasoning should not be empty")
			}
		})
	}
}

func TestRecommendDegradesWhenMomentsUnavailable(t *testing.T) {
	lead := makeLead(repository.StatusInterested, 0.5, 70)
	store := &fakeLeadStore{
		leads:      map[uuid.UUID]repository.Lead{lead.ID: lead},
		momentsErr: errors.New("store down"),
	}

	got, err := newTestService(store).Recommend(context.Background(), lead.ID, uuid.New())
	if err != nil {
		t.Fatalf("Recommend() error: %v", err)
	}
	if got.Action != ActionFollowUpCall {
		t.Errorf("action = %s, want %s", got.Action, ActionFollowUpCall)
	}
}
