// Package classifier answers behavior-pattern questions about leads using
// Gemini. All responses are schema-validated; anything malformed degrades
// to a non-match so rule evaluation can fail closed.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Match is the structured verdict of a pattern classification.
type Match struct {
	MatchesPattern bool    `json:"matchesPattern"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

// DegradedMatch is the fail-closed verdict used when classification is
// unavailable or its response cannot be trusted.
func DegradedMatch() Match {
	return Match{MatchesPattern: false, Confidence: 0, Reasoning: "analysis failed"}
}

// Classifier decides whether a lead's behavior matches a pattern.
type Classifier interface {
	MatchesPattern(ctx context.Context, behaviorSummary, pattern string) (Match, error)
}

// ScriptGenerator writes personalized call scripts.
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, leadContext, tone string) (string, error)
}

// decodeMatch parses a model response into a Match. Unknown fields,
// trailing garbage, and out-of-range confidence all reject the response;
// the model does not get the benefit of the doubt.
func decodeMatch(raw string) (Match, error) {
	raw = strings.TrimSpace(raw)

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()

	var m Match
	if err := dec.Decode(&m); err != nil {
		return Match{}, fmt.Errorf("failed to decode classification response: %w", err)
	}
	if dec.More() {
		return Match{}, fmt.Errorf("classification response has trailing content")
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return Match{}, fmt.Errorf("classification confidence %v out of range [0,1]", m.Confidence)
	}
	return m, nil
}
