package progression

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crm_automation_backend/internal/classifier"
	"crm_automation_backend/internal/leads/repository"
	"crm_automation_backend/platform/logger"
)

// TriggerResult is one trigger's verdict for one lead.
type TriggerResult struct {
	Satisfied  bool
	Confidence float64
}

// LeadContext bundles a lead with the history the evaluators read, fetched
// once per lead per pass.
type LeadContext struct {
	Lead          repository.Lead
	RecentMoments []repository.ConversationMoment
	Calls         repository.CallStats
}

// Evaluator evaluates individual triggers against a lead. A nil classifier
// turns behavior_pattern triggers into non-matches.
type Evaluator struct {
	classifier classifier.Classifier
	log        *logger.Logger
	now        func() time.Time
}

// NewEvaluator creates a trigger evaluator. classify may be nil.
func NewEvaluator(classify classifier.Classifier, log *logger.Logger) *Evaluator {
	return &Evaluator{
		classifier: classify,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate runs one trigger. Evaluation never returns an error; anything
// that goes wrong counts as unsatisfied with zero confidence.
func (e *Evaluator) Evaluate(ctx context.Context, trigger Trigger, lc LeadContext) TriggerResult {
	switch params := trigger.Params.(type) {
	case SentimentThresholdParams:
		return evalSentiment(lc.Lead, params)
	case EngagementIncreaseParams:
		return evalEngagementIncrease(lc.Lead, params)
	case TimeBasedParams:
		return evalTimeBased(lc.Lead, params, e.now())
	case BehaviorPatternParams:
		return e.evalBehaviorPattern(ctx, lc, params)
	case ExternalSignalParams:
		// Reserved extension point, no signal source exists.
		return TriggerResult{}
	default:
		e.log.Warn("trigger with unexpected params", "type", trigger.Type)
		return TriggerResult{}
	}
}

func evalSentiment(lead repository.Lead, params SentimentThresholdParams) TriggerResult {
	sentiment := 0.0
	if lead.SentimentScore != nil {
		sentiment = *lead.SentimentScore
	}
	satisfied := sentiment >= params.Threshold

	confidence := 1.0
	if params.Threshold > 0 {
		confidence = clamp01(sentiment / params.Threshold)
	}
	if !satisfied && params.Threshold <= 0 {
		confidence = 0
	}
	return TriggerResult{Satisfied: satisfied, Confidence: confidence}
}

func evalEngagementIncrease(lead repository.Lead, params EngagementIncreaseParams) TriggerResult {
	if lead.EngagementScore == nil || lead.PriorEngagementScore == nil {
		return TriggerResult{}
	}
	increase := *lead.EngagementScore - *lead.PriorEngagementScore
	if increase <= 0 {
		return TriggerResult{}
	}
	return TriggerResult{
		Satisfied:  increase >= params.MinIncrease,
		Confidence: clamp01(float64(increase) / float64(params.MinIncrease)),
	}
}

func evalTimeBased(lead repository.Lead, params TimeBasedParams, now time.Time) TriggerResult {
	days := now.Sub(lead.StatusChangedAt).Hours() / 24
	return TriggerResult{
		Satisfied:  days >= float64(params.DaysInStatus),
		Confidence: clamp01(days / float64(params.DaysInStatus)),
	}
}

func (e *Evaluator) evalBehaviorPattern(ctx context.Context, lc LeadContext, params BehaviorPatternParams) TriggerResult {
	if e.classifier == nil {
		return TriggerResult{}
	}

	match, err := e.classifier.MatchesPattern(ctx, behaviorSummary(lc), params.Pattern)
	if err != nil {
		e.log.Warn("behavior pattern classification failed",
			"lead_id", lc.Lead.ID.String(), "pattern", params.Pattern, "error", err.Error())
		match = classifier.DegradedMatch()
	}
	return TriggerResult{Satisfied: match.MatchesPattern, Confidence: clamp01(match.Confidence)}
}

// behaviorSummary renders the lead's state and recent history as prose for
// the classifier.
func behaviorSummary(lc LeadContext) string {
	lead := lc.Lead
	var b strings.Builder

	fmt.Fprintf(&b, "Lead %q, pipeline status %s.", lead.Name, lead.Status)
	if lead.SentimentScore != nil {
		fmt.Fprintf(&b, " Sentiment %.2f.", *lead.SentimentScore)
	}
	if lead.EngagementScore != nil {
		fmt.Fprintf(&b, " Engagement %d/100.", *lead.EngagementScore)
	}
	if lead.ResponseRate != nil {
		fmt.Fprintf(&b, " Responds to %.0f%% of outreach.", *lead.ResponseRate*100)
	}
	fmt.Fprintf(&b, " %d calls total, %d in the last month.", lc.Calls.Total, lc.Calls.Recent)
	if lead.LastContactedAt != nil {
		fmt.Fprintf(&b, " Last contacted %s.", lead.LastContactedAt.Format("2006-01-02"))
	}

	for _, m := range lc.RecentMoments {
		fmt.Fprintf(&b, " Recent %s: %s.", m.MomentType, m.Summary)
	}
	return b.String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
