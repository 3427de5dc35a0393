// Package scoring computes composite lead scores from a lead snapshot.
package scoring

import (
	"context"
	"math"
	"time"

	"crm_automation_backend/internal/leads/repository"
	"crm_automation_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	// scoreVersion tracks the scoring model for debugging and analysis.
	// Bump this when changing scoring logic significantly.
	scoreVersion = "2026-v1"

	// Each factor contributes at most a quarter of the 0-100 total.
	maxFactorPoints = 25.0

	// baseDealValue is the reference deal size used for value estimates.
	baseDealValue = 5000.0

	// closeProbabilityFloor is the minimum probability at which a close
	// date estimate is produced.
	closeProbabilityFloor = 0.5
)

// Snapshot is the lead state the scorer reads. Assembling it is the only
// I/O in this package; scoring itself is a pure transform.
type Snapshot struct {
	Lead             repository.Lead
	Calls            repository.CallStats
	HasUpcomingEvent bool
	Now              time.Time
}

// Breakdown is the scoring output. Each factor is clamped to [0,25] before
// summing, so Total (the rounded mean of the four factors on their
// 0-100-equivalent scales) stays in [0,100].
type Breakdown struct {
	Total              int        `json:"total"`
	Engagement         int        `json:"engagement"`
	Sentiment          int        `json:"sentiment"`
	Behavioral         int        `json:"behavioral"`
	Firmographic       int        `json:"firmographic"`
	EstimatedValue     int        `json:"estimatedValue"`
	ProbabilityToClose float64    `json:"probabilityToClose"`
	EstimatedCloseDate *time.Time `json:"estimatedCloseDate,omitempty"`
	Version            string     `json:"version"`
}

// statusDelta adjusts the firmographic factor by pipeline position.
// Later stages indicate firmer intent; lost and cold subtract.
var statusDelta = map[string]float64{
	repository.StatusNew:             0,
	repository.StatusInterested:      3,
	repository.StatusFollowUp:        2,
	repository.StatusQualified:       5,
	repository.StatusProposalCurrent: 7,
	repository.StatusNegotiation:     9,
	repository.StatusWon:             10,
	repository.StatusLost:            -5,
	repository.StatusCold:            -2,
}

// Score computes the composite score for a lead snapshot. No side effects.
func Score(snap Snapshot) Breakdown {
	now := snap.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	engagement := engagementFactor(snap.Lead, now)
	sentiment := sentimentFactor(snap.Lead)
	behavioral := behavioralFactor(snap.Lead, snap.Calls, snap.HasUpcomingEvent)
	firmographic := firmographicFactor(snap.Lead)

	total := engagement + sentiment + behavioral + firmographic
	probability := float64(total) / 100

	breakdown := Breakdown{
		Total:              total,
		Engagement:         engagement,
		Sentiment:          sentiment,
		Behavioral:         behavioral,
		Firmographic:       firmographic,
		EstimatedValue:     int(math.Round(baseDealValue * float64(total) / 100)),
		ProbabilityToClose: probability,
		Version:            scoreVersion,
	}

	if probability >= closeProbabilityFloor {
		days := (1-probability)*60 + 7
		closeDate := now.Add(time.Duration(days * 24 * float64(time.Hour)))
		breakdown.EstimatedCloseDate = &closeDate
	}

	return breakdown
}

// engagementFactor scores engagement level plus contact recency bonuses.
func engagementFactor(lead repository.Lead, now time.Time) int {
	score := 0.0
	if lead.EngagementScore != nil {
		score = math.Min(float64(*lead.EngagementScore)*0.25, maxFactorPoints)
	}

	if lead.LastContactedAt != nil {
		sinceContact := now.Sub(*lead.LastContactedAt)
		switch {
		case sinceContact < 7*24*time.Hour:
			score += 5
		case sinceContact < 30*24*time.Hour:
			score += 2
		}
	}

	return clampFactor(score)
}

// sentimentFactor maps sentiment [-1,1] onto [0,25]. Unknown sentiment is
// treated as neutral.
func sentimentFactor(lead repository.Lead) int {
	if lead.SentimentScore == nil {
		return 10
	}
	score := math.Round((*lead.SentimentScore + 1) / 2 * maxFactorPoints)
	return clampFactor(score)
}

// behavioralFactor scores responsiveness and call activity.
func behavioralFactor(lead repository.Lead, calls repository.CallStats, hasUpcoming bool) int {
	score := 10.0

	if lead.ResponseRate != nil {
		score += clampFloat(*lead.ResponseRate, 0, 1) * 5
	}

	switch {
	case calls.Total > 3:
		score += 5
	case calls.Total >= 2:
		score += 2
	}

	if hasUpcoming {
		score += 5
	}

	return clampFactor(score)
}

// firmographicFactor scores profile completeness and pipeline position.
func firmographicFactor(lead repository.Lead) int {
	score := 15.0

	if lead.Company != nil && *lead.Company != "" {
		score += 3
	}
	if lead.Position != nil && *lead.Position != "" {
		score += 2
	}

	score += statusDelta[lead.Status]

	return clampFactor(score)
}

func clampFactor(value float64) int {
	return int(math.Round(clampFloat(value, 0, maxFactorPoints)))
}

func clampFloat(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// LeadStore is the lead access the scoring service needs.
type LeadStore interface {
	GetByID(ctx context.Context, leadID, tenantID uuid.UUID) (repository.Lead, error)
	GetCallStats(ctx context.Context, leadID uuid.UUID) (repository.CallStats, error)
}

// EventStore is the calendar access the scoring service needs.
type EventStore interface {
	HasUpcomingForLead(ctx context.Context, leadID uuid.UUID) (bool, error)
}

// Service assembles lead snapshots and scores them.
type Service struct {
	leads    LeadStore
	calendar EventStore
	log      *logger.Logger
}

// New creates a new scoring service.
func New(leads LeadStore, calendar EventStore, log *logger.Logger) *Service {
	return &Service{leads: leads, calendar: calendar, log: log}
}

// ScoreLead loads a lead's snapshot and computes its score.
// History fetch failures degrade to empty history rather than failing the score.
func (s *Service) ScoreLead(ctx context.Context, leadID, tenantID uuid.UUID) (Breakdown, error) {
	lead, err := s.leads.GetByID(ctx, leadID, tenantID)
	if err != nil {
		return Breakdown{}, err
	}
	return s.ScoreSnapshot(ctx, lead), nil
}

// ScoreSnapshot scores an already-loaded lead, fetching its history.
func (s *Service) ScoreSnapshot(ctx context.Context, lead repository.Lead) Breakdown {
	calls, err := s.leads.GetCallStats(ctx, lead.ID)
	if err != nil {
		if s.log != nil {
			s.log.DatabaseError("lead call stats", err)
		}
		calls = repository.CallStats{}
	}

	hasUpcoming, err := s.calendar.HasUpcomingForLead(ctx, lead.ID)
	if err != nil {
		if s.log != nil {
			s.log.DatabaseError("upcoming events check", err)
		}
		hasUpcoming = false
	}

	return Score(Snapshot{
		Lead:             lead,
		Calls:            calls,
		HasUpcomingEvent: hasUpcoming,
		Now:              time.Now().UTC(),
	})
}
