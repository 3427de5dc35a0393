// Package qualification decides which leads are ready for accelerated
// follow-up and what that follow-up should look like.
package qualification

import (
	"context"
	"fmt"
	"sort"
	"time"

	"crm_automation_backend/internal/events"
	"crm_automation_backend/internal/leads/repository"
	"crm_automation_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	// qualificationCutoff is the minimum score for a lead to qualify.
	qualificationCutoff = 70

	// momentWindow bounds how far back a conversation moment still counts
	// as "recent" evidence.
	momentWindow = 7 * 24 * time.Hour

	// Defaults applied when the caller supplies no criteria.
	defaultMinSentiment         = 0.4
	defaultMinEngagement        = 60
	defaultDaysSinceLastContact = 30
)

// Follow-up types, ordered roughly by pipeline depth.
const (
	FollowUpClosing   = "closing"
	FollowUpDemo      = "demo"
	FollowUpProposal  = "proposal"
	FollowUpDiscovery = "discovery"
	FollowUpFollowUp  = "follow_up"
	FollowUpNurturing = "nurturing"
)

// Priorities attached to qualification results.
const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Recommended single-lead actions.
const (
	ActionImmediateCall = "immediate_call"
	ActionFollowUpCall  = "follow_up_call"
	ActionNurtureCall   = "nurture_call"
	ActionNoAction      = "no_action"
)

// statusBonus rewards pipeline depth during qualification. Terminal
// statuses earn nothing.
var statusBonus = map[string]int{
	repository.StatusNew:             5,
	repository.StatusInterested:      10,
	repository.StatusFollowUp:        12,
	repository.StatusQualified:       15,
	repository.StatusProposalCurrent: 20,
	repository.StatusNegotiation:     25,
}

// Criteria tunes the candidate pre-filter. Zero values fall back to the
// package defaults.
type Criteria struct {
	MinSentimentScore    float64 `json:"minSentimentScore" validate:"omitempty,gte=-1,lte=1"`
	MinEngagementScore   int     `json:"minEngagementScore" validate:"omitempty,gte=0,lte=100"`
	DaysSinceLastContact int     `json:"daysSinceLastContact" validate:"omitempty,gte=1"`
}

func (c Criteria) withDefaults() Criteria {
	if c.MinSentimentScore == 0 {
		c.MinSentimentScore = defaultMinSentiment
	}
	if c.MinEngagementScore == 0 {
		c.MinEngagementScore = defaultMinEngagement
	}
	if c.DaysSinceLastContact == 0 {
		c.DaysSinceLastContact = defaultDaysSinceLastContact
	}
	return c
}

// Result is one qualified lead with the evidence that qualified it.
type Result struct {
	LeadID                uuid.UUID  `json:"leadId"`
	LeadName              string     `json:"leadName"`
	Score                 int        `json:"score"`
	Reasons               []string   `json:"reasons"`
	SuggestedFollowUpType string     `json:"suggestedFollowUpType"`
	SuggestedPriority     string     `json:"suggestedPriority"`
	SentimentScore        float64    `json:"sentimentScore"`
	EngagementScore       int        `json:"engagementScore"`
	LastCriticalMoment    *time.Time `json:"lastCriticalMoment,omitempty"`
}

// Recommendation is the single-lead call advice. FollowUpType drives the
// scheduler's call duration when the recommendation is acted on.
type Recommendation struct {
	LeadID       uuid.UUID `json:"leadId"`
	Action       string    `json:"action"`
	Urgency      string    `json:"urgency"`
	FollowUpType string    `json:"followUpType"`
	Reasoning    string    `json:"reasoning"`
}

// LeadStore is the lead access the detector needs.
type LeadStore interface {
	GetByID(ctx context.Context, leadID, tenantID uuid.UUID) (repository.Lead, error)
	ListQualificationCandidates(ctx context.Context, tenantID uuid.UUID, filter repository.QualificationFilter) ([]repository.Lead, error)
	GetCallStats(ctx context.Context, leadID uuid.UUID) (repository.CallStats, error)
	ListConversationMoments(ctx context.Context, leadID uuid.UUID, since time.Time) ([]repository.ConversationMoment, error)
}

// Service detects qualified leads and recommends follow-up calls.
type Service struct {
	leads LeadStore
	bus   events.Bus
	log   *logger.Logger
	now   func() time.Time
}

// New creates a new qualification service.
func New(leads LeadStore, bus events.Bus, log *logger.Logger) *Service {
	return &Service{leads: leads, bus: bus, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Detect returns all leads in the tenant scoring at or above the
// qualification cutoff, sorted by score descending.
func (s *Service) Detect(ctx context.Context, tenantID uuid.UUID, criteria Criteria) ([]Result, error) {
	criteria = criteria.withDefaults()

	candidates, err := s.leads.ListQualificationCandidates(ctx, tenantID, repository.QualificationFilter{
		MinSentimentScore:    criteria.MinSentimentScore,
		MinEngagementScore:   criteria.MinEngagementScore,
		DaysSinceLastContact: criteria.DaysSinceLastContact,
		ExcludedStatuses:     repository.TerminalStatuses,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list qualification candidates: %w", err)
	}

	results := make([]Result, 0, len(candidates))
	for _, lead := range candidates {
		evidence, err := s.gatherEvidence(ctx, lead)
		if err != nil {
			// One lead's history failing should not hide the others.
			s.log.DatabaseError("qualification evidence", err)
			continue
		}

		result := qualify(lead, evidence, criteria)
		if result.Score < qualificationCutoff {
			continue
		}
		results = append(results, result)

		s.bus.Publish(ctx, events.LeadQualified{
			BaseEvent:       events.NewBaseEvent(),
			LeadID:          result.LeadID,
			TenantID:        tenantID,
			Score:           result.Score,
			FollowUpType:    result.SuggestedFollowUpType,
			Priority:        result.SuggestedPriority,
			SentimentScore:  result.SentimentScore,
			EngagementScore: result.EngagementScore,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// Recommend maps a single lead's sentiment and recent moments to a call
// recommendation.
func (s *Service) Recommend(ctx context.Context, leadID, tenantID uuid.UUID) (Recommendation, error) {
	lead, err := s.leads.GetByID(ctx, leadID, tenantID)
	if err != nil {
		return Recommendation{}, err
	}

	moments, err := s.leads.ListConversationMoments(ctx, leadID, s.now().Add(-momentWindow))
	if err != nil {
		s.log.DatabaseError("conversation moments", err)
		moments = nil
	}

	return recommend(lead, moments), nil
}

// evidence is the call and conversation history feeding qualification.
type evidence struct {
	calls   repository.CallStats
	moments []repository.ConversationMoment
}

func (s *Service) gatherEvidence(ctx context.Context, lead repository.Lead) (evidence, error) {
	calls, err := s.leads.GetCallStats(ctx, lead.ID)
	if err != nil {
		return evidence{}, err
	}
	moments, err := s.leads.ListConversationMoments(ctx, lead.ID, s.now().Add(-momentWindow))
	if err != nil {
		return evidence{}, err
	}
	return evidence{calls: calls, moments: moments}, nil
}

// qualify scores one candidate and derives its follow-up suggestion.
// Candidates already passed the pre-filter, so threshold reasons reflect
// the criteria actually used.
func qualify(lead repository.Lead, ev evidence, criteria Criteria) Result {
	sentiment := 0.0
	if lead.SentimentScore != nil {
		sentiment = *lead.SentimentScore
	}
	engagement := 0
	if lead.EngagementScore != nil {
		engagement = *lead.EngagementScore
	}

	score := 0
	reasons := make([]string, 0, 5)

	if sentiment >= criteria.MinSentimentScore {
		score += 25
		reasons = append(reasons, fmt.Sprintf("positive sentiment (%.2f)", sentiment))
	}
	if engagement >= criteria.MinEngagementScore {
		score += 20
		reasons = append(reasons, fmt.Sprintf("high engagement (%d)", engagement))
	}

	critical := criticalMoments(ev.moments)
	if len(critical) > 0 {
		score += 15 * len(critical)
		reasons = append(reasons, fmt.Sprintf("%d critical conversation moments", len(critical)))
	}
	if ev.calls.Recent > 1 {
		score += 10
		reasons = append(reasons, fmt.Sprintf("%d recent calls", ev.calls.Recent))
	}
	if bonus := statusBonus[lead.Status]; bonus > 0 {
		score += bonus
		reasons = append(reasons, fmt.Sprintf("pipeline stage %s", lead.Status))
	}

	result := Result{
		LeadID:                lead.ID,
		LeadName:              lead.Name,
		Score:                 score,
		Reasons:               reasons,
		SuggestedFollowUpType: suggestFollowUp(lead.Status, sentiment, critical),
		SuggestedPriority:     suggestPriority(score, sentiment, len(critical)),
		SentimentScore:        sentiment,
		EngagementScore:       engagement,
	}
	if len(critical) > 0 {
		// Moments arrive newest first.
		last := critical[0].OccurredAt
		result.LastCriticalMoment = &last
	}
	return result
}

// criticalMoments keeps only the moment types that count as qualification
// evidence.
func criticalMoments(moments []repository.ConversationMoment) []repository.ConversationMoment {
	critical := make([]repository.ConversationMoment, 0, len(moments))
	for _, m := range moments {
		if m.MomentType == repository.MomentBuyingSignal || m.MomentType == repository.MomentInterestPeak {
			critical = append(critical, m)
		}
	}
	return critical
}

func hasMoment(moments []repository.ConversationMoment, momentType string) bool {
	for _, m := range moments {
		if m.MomentType == momentType {
			return true
		}
	}
	return false
}

// suggestFollowUp picks a follow-up type via a priority-ordered cascade.
// Earlier rules represent stronger signals and win outright.
func suggestFollowUp(status string, sentiment float64, critical []repository.ConversationMoment) string {
	if hasMoment(critical, repository.MomentBuyingSignal) && sentiment > 0.6 {
		if status == repository.StatusNegotiation {
			return FollowUpClosing
		}
		return FollowUpDemo
	}
	if hasMoment(critical, repository.MomentInterestPeak) {
		if status == repository.StatusNew || status == repository.StatusInterested {
			return FollowUpDiscovery
		}
		return FollowUpProposal
	}
	switch status {
	case repository.StatusProposalCurrent:
		return FollowUpFollowUp
	case repository.StatusQualified:
		return FollowUpDemo
	}
	if sentiment > 0.5 {
		return FollowUpFollowUp
	}
	return FollowUpNurturing
}

func suggestPriority(score int, sentiment float64, criticalCount int) string {
	switch {
	case score >= 90 && sentiment > 0.7:
		return PriorityUrgent
	case score >= 80 && criticalCount >= 2:
		return PriorityHigh
	case score >= qualificationCutoff:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// recommend maps sentiment to a call recommendation. A recent buying
// signal escalates to an immediate call regardless of sentiment.
func recommend(lead repository.Lead, moments []repository.ConversationMoment) Recommendation {
	sentiment := 0.0
	if lead.SentimentScore != nil {
		sentiment = *lead.SentimentScore
	}

	critical := criticalMoments(moments)
	rec := Recommendation{
		LeadID:       lead.ID,
		FollowUpType: suggestFollowUp(lead.Status, sentiment, critical),
	}
	switch {
	case sentiment > 0.7:
		rec.Action = ActionImmediateCall
		rec.Urgency = PriorityHigh
		rec.Reasoning = fmt.Sprintf("strongly positive sentiment (%.2f), strike while interest is high", sentiment)
	case sentiment > 0.4:
		rec.Action = ActionFollowUpCall
		rec.Urgency = PriorityMedium
		rec.Reasoning = fmt.Sprintf("positive sentiment (%.2f), schedule a follow-up", sentiment)
	case sentiment > 0:
		rec.Action = ActionNurtureCall
		rec.Urgency = PriorityLow
		rec.Reasoning = fmt.Sprintf("mildly positive sentiment (%.2f), keep the relationship warm", sentiment)
	default:
		rec.Action = ActionNoAction
		rec.Urgency = PriorityLow
		rec.Reasoning = fmt.Sprintf("sentiment too low for outreach (%.2f)", sentiment)
	}

	if hasMoment(moments, repository.MomentBuyingSignal) {
		rec.Action = ActionImmediateCall
		rec.Urgency = PriorityUrgent
		rec.Reasoning = "recent buying signal detected, call immediately"
	}

	return rec
}
