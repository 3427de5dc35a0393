package classifier

import (
	"context"
	"fmt"
	"time"

	"crm_automation_backend/platform/logger"

	"google.golang.org/genai"
)

// Config carries Gemini client settings.
type Config interface {
	GetGeminiAPIKey() string
	GetGeminiModel() string
	GetAITimeout() time.Duration
}

// matchSchema constrains the model to the Match shape.
var matchSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"matchesPattern": {Type: genai.TypeBoolean},
		"confidence":     {Type: genai.TypeNumber},
		"reasoning":      {Type: genai.TypeString},
	},
	Required: []string{"matchesPattern", "confidence", "reasoning"},
}

// Gemini classifies lead behavior through the Gemini API.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	log     *logger.Logger
}

// NewGemini creates a Gemini-backed classifier.
func NewGemini(ctx context.Context, cfg Config, log *logger.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GetGeminiAPIKey(),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Gemini{
		client:  client,
		model:   cfg.GetGeminiModel(),
		timeout: cfg.GetAITimeout(),
		log:     log,
	}, nil
}

// MatchesPattern asks the model whether the behavior summary exhibits the
// target pattern. The response is forced into JSON matching matchSchema and
// strictly decoded.
func (g *Gemini) MatchesPattern(ctx context.Context, behaviorSummary, pattern string) (Match, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	prompt := fmt.Sprintf(`You analyze CRM lead behavior.

Lead behavior summary:
%s

Does this behavior match the pattern %q?
Answer with matchesPattern (boolean), confidence (0 to 1) and a one-sentence reasoning.`,
		behaviorSummary, pattern)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   matchSchema,
		Temperature:      genai.Ptr[float32](0),
	})
	if err != nil {
		return Match{}, fmt.Errorf("failed to classify behavior pattern: %w", err)
	}

	match, err := decodeMatch(resp.Text())
	if err != nil {
		g.log.Warn("classification response rejected", "pattern", pattern, "error", err.Error())
		return Match{}, err
	}
	return match, nil
}

// GenerateScript writes a short personalized call script for a lead.
func (g *Gemini) GenerateScript(ctx context.Context, leadContext, tone string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	prompt := fmt.Sprintf(`Write a short call script for a sales agent. Tone: %s.

Lead context:
%s

Keep it under 150 words, plain text, no placeholders left unfilled.`,
		tone, leadContext)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate call script: %w", err)
	}

	script := resp.Text()
	if script == "" {
		return "", fmt.Errorf("model returned an empty script")
	}
	return script, nil
}
