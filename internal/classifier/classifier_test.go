package classifier

import "testing"

func TestDecodeMatch(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Match
		wantErr bool
	}{
		{
			name: "valid response",
			raw:  `{"matchesPattern": true, "confidence": 0.85, "reasoning": "repeated pricing questions"}`,
			want: Match{MatchesPattern: true, Confidence: 0.85, Reasoning: "repeated pricing questions"},
		},
		{
			name: "valid with surrounding whitespace",
			raw:  "\n  {\"matchesPattern\": false, \"confidence\": 0, \"reasoning\": \"no signal\"}  \n",
			want: Match{MatchesPattern: false, Confidence: 0, Reasoning: "no signal"},
		},
		{
			name:    "unknown field rejected",
			raw:     `{"matchesPattern": true, "confidence": 0.5, "reasoning": "x", "extra": 1}`,
			wantErr: true,
		},
		{
			name:    "trailing content rejected",
			raw:     `{"matchesPattern": true, "confidence": 0.5, "reasoning": "x"} trailing`,
			wantErr: true,
		},
		{
			name:    "confidence above one rejected",
			raw:     `{"matchesPattern": true, "confidence": 1.5, "reasoning": "x"}`,
			wantErr: true,
		},
		{
			name:    "negative confidence rejected",
			raw:     `{"matchesPattern": true, "confidence": -0.1, "reasoning": "x"}`,
			wantErr: true,
		},
		{
			name:    "prose instead of json",
			raw:     `The lead clearly matches the pattern.`,
			wantErr: true,
		},
		{
			name:    "empty response",
			raw:     ``,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeMatch(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("decodeMatch(%q) expected error, got %+v", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeMatch(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("decodeMatch() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDegradedMatchFailsClosed(t *testing.T) {
	got := DegradedMatch()
	if got.MatchesPattern {
		t.Error("degraded match must not match")
	}
	if got.Confidence != 0 {
		t.Errorf("degraded confidence = %v, want 0", got.Confidence)
	}
	if got.Reasoning != "analysis failed" {
		t.Errorf("degraded reasoning = %q", got.Reasoning)
	}
}
