package progression

import (
	"encoding/json"
	"testing"
)

func TestTriggerUnmarshalDispatchesByType(t *testing.T) {
	raw := `[
		{"type": "sentiment_threshold", "weight": 1.0, "parameters": {"threshold": 0.7}},
		{"type": "engagement_increase", "weight": 0.5, "parameters": {"minIncrease": 10}},
		{"type": "time_based", "weight": 0.8, "parameters": {"daysInStatus": 14}},
		{"type": "behavior_pattern", "weight": 1.2, "parameters": {"pattern": "pricing questions"}},
		{"type": "external_signal", "weight": 0.3, "parameters": {"source": "webhook"}}
	]`

	var triggers []Trigger
	if err := json.Unmarshal([]byte(raw), &triggers); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(triggers) != 5 {
		t.Fatalf("got %d triggers, want 5", len(triggers))
	}

	if p, ok := triggers[0].Params.(SentimentThresholdParams); !ok || p.Threshold != 0.7 {
		t.Errorf("trigger 0 params = %#v", triggers[0].Params)
	}
	if p, ok := triggers[1].Params.(EngagementIncreaseParams); !ok || p.MinIncrease != 10 {
		t.Errorf("trigger 1 params = %#v", triggers[1].Params)
	}
	if p, ok := triggers[2].Params.(TimeBasedParams); !ok || p.DaysInStatus != 14 {
		t.Errorf("trigger 2 params = %#v", triggers[2].Params)
	}
	if p, ok := triggers[3].Params.(BehaviorPatternParams); !ok || p.Pattern != "pricing questions" {
		t.Errorf("trigger 3 params = %#v", triggers[3].Params)
	}
	if p, ok := triggers[4].Params.(ExternalSignalParams); !ok || p.Source != "webhook" {
		t.Errorf("trigger 4 params = %#v", triggers[4].Params)
	}
}

func TestTriggerUnmarshalRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown type", `{"type": "phase_of_moon", "weight": 1, "parameters": {}}`},
		{"zero weight", `{"type": "sentiment_threshold", "weight": 0, "parameters": {"threshold": 0.5}}`},
		{"negative weight", `{"type": "sentiment_threshold", "weight": -1, "parameters": {"threshold": 0.5}}`},
		{"unknown parameter field", `{"type": "time_based", "weight": 1, "parameters": {"daysInStatus": 7, "bogus": true}}`},
		{"wrong parameter type", `{"type": "time_based", "weight": 1, "parameters": {"daysInStatus": "soon"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var trigger Trigger
			if err := json.Unmarshal([]byte(tt.raw), &trigger); err == nil {
				t.Errorf("expected error for %s", tt.raw)
			}
		})
	}
}

func TestActionUnmarshalDispatchesByType(t *testing.T) {
	raw := `[
		{"type": "status_change", "parameters": {"newStatus": "qualified"}},
		{"type": "schedule_call", "parameters": {}},
		{"type": "send_email", "parameters": {"subject": "hi", "body": "there"}},
		{"type": "create_task", "parameters": {"title": "call back", "dueInDays": 2}},
		{"type": "assign_to_user", "parameters": {"userId": "8a7a387f-56c1-4f34-9119-585db0e5a96c"}},
		{"type": "personalize_script", "parameters": {"tone": "warm"}}
	]`

	var actions []Action
	if err := json.Unmarshal([]byte(raw), &actions); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(actions) != 6 {
		t.Fatalf("got %d actions, want 6", len(actions))
	}
	if p, ok := actions[0].Params.(StatusChangeParams); !ok || p.NewStatus != "qualified" {
		t.Errorf("action 0 params = %#v", actions[0].Params)
	}
	if _, ok := actions[1].Params.(ScheduleCallParams); !ok {
		t.Errorf("action 1 params = %#v", actions[1].Params)
	}
	if p, ok := actions[3].Params.(CreateTaskParams); !ok || p.Title != "call back" || p.DueInDays != 2 {
		t.Errorf("action 3 params = %#v", actions[3].Params)
	}
}

func TestActionUnmarshalRejectsUnknownType(t *testing.T) {
	var action Action
	err := json.Unmarshal([]byte(`{"type": "launch_rocket", "parameters": {}}`), &action)
	if err == nil {
		t.Error("expected error for unknown action type")
	}
}

func TestTriggerRoundTrip(t *testing.T) {
	original := Trigger{
		Type:   TriggerSentimentThreshold,
		Weight: 0.75,
		Params: SentimentThresholdParams{Threshold: 0.6},
	}

	encoded, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	var decoded Trigger
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if decoded != original {
		t.Errorf("round trip changed trigger: %#v -> %#v", original, decoded)
	}
}

func TestRuleTotalWeight(t *testing.T) {
	rule := Rule{Triggers: []Trigger{
		{Type: TriggerSentimentThreshold, Weight: 0.5},
		{Type: TriggerTimeBased, Weight: 0.25},
	}}
	if got := rule.TotalWeight(); got != 0.75 {
		t.Errorf("TotalWeight() = %v, want 0.75", got)
	}
}

func TestRuleValidate(t *testing.T) {
	valid := Rule{
		Name: "ok",
		Triggers: []Trigger{{
			Type:   TriggerSentimentThreshold,
			Weight: 1.0,
			Params: SentimentThresholdParams{Threshold: 0.5},
		}},
		Actions: []Action{{
			Type:   ActionStatusChange,
			Params: StatusChangeParams{NewStatus: "qualified"},
		}},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() = %v for a valid rule", err)
	}

	tests := []struct {
		name   string
		mutate func(*Rule)
	}{
		{"no triggers", func(r *Rule) { r.Triggers = nil }},
		{"no actions", func(r *Rule) { r.Actions = nil }},
		{"threshold out of range", func(r *Rule) {
			r.Triggers[0].Params = SentimentThresholdParams{Threshold: 2.0}
		}},
		{"empty new status", func(r *Rule) {
			r.Actions[0].Params = StatusChangeParams{}
		}},
		{"non-positive days in status", func(r *Rule) {
			r.Triggers[0] = Trigger{Type: TriggerTimeBased, Weight: 1, Params: TimeBasedParams{DaysInStatus: 0}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := valid
			rule.Triggers = append([]Trigger(nil), valid.Triggers...)
			rule.Actions = append([]Action(nil), valid.Actions...)
			tt.mutate(&rule)
			if err := rule.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
