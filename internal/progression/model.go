// Package progression implements the rule engine that moves leads through
// the pipeline: weighted triggers decide whether a rule fires, ordered
// actions carry out the move.
package progression

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"crm_automation_backend/platform/validator"

	"github.com/google/uuid"
)

// paramValidator checks the validate tags on trigger and action parameter
// payloads. Safe for concurrent use.
var paramValidator = validator.New()

// Trigger types.
const (
	TriggerSentimentThreshold = "sentiment_threshold"
	TriggerEngagementIncrease = "engagement_increase"
	TriggerTimeBased          = "time_based"
	TriggerBehaviorPattern    = "behavior_pattern"
	TriggerExternalSignal     = "external_signal"
)

// Action types.
const (
	ActionStatusChange      = "status_change"
	ActionScheduleCall      = "schedule_call"
	ActionSendEmail         = "send_email"
	ActionCreateTask        = "create_task"
	ActionAssignToUser      = "assign_to_user"
	ActionPersonalizeScript = "personalize_script"
)

// Rule is a configured progression rule. Statistics fields are mutated by
// the engine after every firing; everything else is configuration.
type Rule struct {
	ID                    uuid.UUID  `json:"id"`
	TenantID              uuid.UUID  `json:"tenantId"`
	Name                  string     `json:"name"`
	IsActive              bool       `json:"isActive"`
	Triggers              []Trigger  `json:"triggers"`
	Actions               []Action   `json:"actions"`
	MinScore              *int       `json:"minScore,omitempty"`
	RequiredStatuses      []string   `json:"requiredStatuses,omitempty"`
	ExcludedStatuses      []string   `json:"excludedStatuses,omitempty"`
	MaxDaysSinceLastTouch *int       `json:"maxDaysSinceLastTouch,omitempty"`
	TimesTriggered        int        `json:"timesTriggered"`
	SuccessfulExecutions  int        `json:"successfulExecutions"`
	SuccessRate           float64    `json:"successRate"`
	LastExecutedAt        *time.Time `json:"lastExecutedAt,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// Validate checks every trigger and action parameter payload against its
// declared constraints. The engine skips rules that fail validation.
func (r Rule) Validate() error {
	if len(r.Triggers) == 0 {
		return fmt.Errorf("rule %q has no triggers", r.Name)
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("rule %q has no actions", r.Name)
	}
	for i, t := range r.Triggers {
		if err := paramValidator.Struct(t.Params); err != nil {
			return fmt.Errorf("trigger %d (%s): %w", i, t.Type, err)
		}
	}
	for i, a := range r.Actions {
		if err := paramValidator.Struct(a.Params); err != nil {
			return fmt.Errorf("action %d (%s): %w", i, a.Type, err)
		}
	}
	return nil
}

// TotalWeight sums all declared trigger weights.
func (r Rule) TotalWeight() float64 {
	total := 0.0
	for _, t := range r.Triggers {
		total += t.Weight
	}
	return total
}

// TriggerParams is implemented by each trigger type's payload.
type TriggerParams interface {
	triggerParams()
}

// SentimentThresholdParams fires when sentiment reaches a floor.
type SentimentThresholdParams struct {
	Threshold float64 `json:"threshold" validate:"gte=-1,lte=1"`
}

// EngagementIncreaseParams fires when engagement grew enough since the last
// snapshot.
type EngagementIncreaseParams struct {
	MinIncrease int `json:"minIncrease" validate:"gt=0"`
}

// TimeBasedParams fires when a lead has sat in its status long enough.
type TimeBasedParams struct {
	DaysInStatus int `json:"daysInStatus" validate:"gt=0"`
}

// BehaviorPatternParams fires when the AI classifier sees the pattern in
// the lead's recent behavior.
type BehaviorPatternParams struct {
	Pattern string `json:"pattern" validate:"required"`
}

// ExternalSignalParams is a reserved extension point. No signal source is
// wired up, so these triggers never satisfy.
type ExternalSignalParams struct {
	Source string `json:"source"`
}

func (SentimentThresholdParams) triggerParams() {}
func (EngagementIncreaseParams) triggerParams() {}
func (TimeBasedParams) triggerParams()          {}
func (BehaviorPatternParams) triggerParams()    {}
func (ExternalSignalParams) triggerParams()     {}

// Trigger is one weighted condition of a rule.
type Trigger struct {
	Type   string
	Weight float64
	Params TriggerParams
}

type triggerEnvelope struct {
	Type       string          `json:"type"`
	Weight     float64         `json:"weight"`
	Parameters json.RawMessage `json:"parameters"`
}

// UnmarshalJSON decodes the envelope and dispatches the parameters to the
// payload type matching the trigger type. Unknown types and malformed
// payloads are rejected outright.
func (t *Trigger) UnmarshalJSON(data []byte) error {
	var env triggerEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode trigger: %w", err)
	}
	if env.Weight <= 0 {
		return fmt.Errorf("trigger %q has non-positive weight %v", env.Type, env.Weight)
	}

	params, err := decodeTriggerParams(env.Type, env.Parameters)
	if err != nil {
		return err
	}

	t.Type = env.Type
	t.Weight = env.Weight
	t.Params = params
	return nil
}

// MarshalJSON re-wraps the typed payload in the storage envelope.
func (t Trigger) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(t.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode trigger parameters: %w", err)
	}
	return json.Marshal(triggerEnvelope{Type: t.Type, Weight: t.Weight, Parameters: raw})
}

func decodeTriggerParams(triggerType string, raw json.RawMessage) (TriggerParams, error) {
	var params TriggerParams
	var err error
	switch triggerType {
	case TriggerSentimentThreshold:
		var p SentimentThresholdParams
		err = strictDecode(raw, &p, triggerType)
		params = p
	case TriggerEngagementIncrease:
		var p EngagementIncreaseParams
		err = strictDecode(raw, &p, triggerType)
		params = p
	case TriggerTimeBased:
		var p TimeBasedParams
		err = strictDecode(raw, &p, triggerType)
		params = p
	case TriggerBehaviorPattern:
		var p BehaviorPatternParams
		err = strictDecode(raw, &p, triggerType)
		params = p
	case TriggerExternalSignal:
		var p ExternalSignalParams
		err = strictDecode(raw, &p, triggerType)
		params = p
	default:
		return nil, fmt.Errorf("unknown trigger type %q", triggerType)
	}
	if err != nil {
		return nil, err
	}
	return params, nil
}

// ActionParams is implemented by each action type's payload.
type ActionParams interface {
	actionParams()
}

// StatusChangeParams moves the lead to a new pipeline status.
type StatusChangeParams struct {
	NewStatus string `json:"newStatus" validate:"required"`
}

// ScheduleCallParams books a follow-up call through the auto-scheduler.
type ScheduleCallParams struct{}

// SendEmailParams sends a templated email to the lead.
type SendEmailParams struct {
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body" validate:"required"`
}

// CreateTaskParams opens a follow-up task for the assignee.
type CreateTaskParams struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description,omitempty"`
	DueInDays   int    `json:"dueInDays,omitempty" validate:"gte=0"`
}

// AssignToUserParams reassigns the lead.
type AssignToUserParams struct {
	UserID uuid.UUID `json:"userId" validate:"required"`
}

// PersonalizeScriptParams generates a call script tuned to the lead.
type PersonalizeScriptParams struct {
	Tone string `json:"tone,omitempty"`
}

func (StatusChangeParams) actionParams()      {}
func (ScheduleCallParams) actionParams()      {}
func (SendEmailParams) actionParams()         {}
func (CreateTaskParams) actionParams()        {}
func (AssignToUserParams) actionParams()      {}
func (PersonalizeScriptParams) actionParams() {}

// Action is one side effect a firing rule performs.
type Action struct {
	Type   string
	Params ActionParams
}

type actionEnvelope struct {
	Type       string          `json:"type"`
	Parameters json.RawMessage `json:"parameters"`
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var env actionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode action: %w", err)
	}

	params, err := decodeActionParams(env.Type, env.Parameters)
	if err != nil {
		return err
	}

	a.Type = env.Type
	a.Params = params
	return nil
}

func (a Action) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(a.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode action parameters: %w", err)
	}
	return json.Marshal(actionEnvelope{Type: a.Type, Parameters: raw})
}

func decodeActionParams(actionType string, raw json.RawMessage) (ActionParams, error) {
	var params ActionParams
	var err error
	switch actionType {
	case ActionStatusChange:
		var p StatusChangeParams
		err = strictDecode(raw, &p, actionType)
		params = p
	case ActionScheduleCall:
		var p ScheduleCallParams
		err = strictDecode(raw, &p, actionType)
		params = p
	case ActionSendEmail:
		var p SendEmailParams
		err = strictDecode(raw, &p, actionType)
		params = p
	case ActionCreateTask:
		var p CreateTaskParams
		err = strictDecode(raw, &p, actionType)
		params = p
	case ActionAssignToUser:
		var p AssignToUserParams
		err = strictDecode(raw, &p, actionType)
		params = p
	case ActionPersonalizeScript:
		var p PersonalizeScriptParams
		err = strictDecode(raw, &p, actionType)
		params = p
	default:
		return nil, fmt.Errorf("unknown action type %q", actionType)
	}
	if err != nil {
		return nil, err
	}
	return params, nil
}

// strictDecode rejects unknown fields so a typoed parameter name fails
// loudly at load time instead of silently defaulting.
func strictDecode(raw json.RawMessage, target any, kind string) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("failed to decode %s parameters: %w", kind, err)
	}
	return nil
}
