package progression

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"crm_automation_backend/platform/logger"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

type seedFile struct {
	Rules []seedRule `yaml:"rules"`
}

type seedRule struct {
	Name                  string           `yaml:"name"`
	MinScore              *int             `yaml:"minScore"`
	RequiredStatuses      []string         `yaml:"requiredStatuses"`
	ExcludedStatuses      []string         `yaml:"excludedStatuses"`
	MaxDaysSinceLastTouch *int             `yaml:"maxDaysSinceLastTouch"`
	Triggers              []map[string]any `yaml:"triggers"`
	Actions               []map[string]any `yaml:"actions"`
}

// DefaultRules parses the embedded rule set for a tenant. Triggers and
// actions go through the same strict decoding as stored rules.
func DefaultRules(tenantID uuid.UUID) ([]Rule, error) {
	var file seedFile
	if err := yaml.Unmarshal(defaultRulesYAML, &file); err != nil {
		return nil, fmt.Errorf("failed to parse default rules: %w", err)
	}

	rules := make([]Rule, 0, len(file.Rules))
	for _, seed := range file.Rules {
		triggers, err := decodeSeedTriggers(seed.Triggers)
		if err != nil {
			return nil, fmt.Errorf("default rule %q: %w", seed.Name, err)
		}
		actions, err := decodeSeedActions(seed.Actions)
		if err != nil {
			return nil, fmt.Errorf("default rule %q: %w", seed.Name, err)
		}

		rules = append(rules, Rule{
			ID:                    uuid.New(),
			TenantID:              tenantID,
			Name:                  seed.Name,
			IsActive:              true,
			Triggers:              triggers,
			Actions:               actions,
			MinScore:              seed.MinScore,
			RequiredStatuses:      seed.RequiredStatuses,
			ExcludedStatuses:      seed.ExcludedStatuses,
			MaxDaysSinceLastTouch: seed.MaxDaysSinceLastTouch,
		})
	}
	return rules, nil
}

func decodeSeedTriggers(raw []map[string]any) ([]Trigger, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode triggers: %w", err)
	}
	var triggers []Trigger
	if err := json.Unmarshal(encoded, &triggers); err != nil {
		return nil, err
	}
	return triggers, nil
}

func decodeSeedActions(raw []map[string]any) ([]Action, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode actions: %w", err)
	}
	var actions []Action
	if err := json.Unmarshal(encoded, &actions); err != nil {
		return nil, err
	}
	return actions, nil
}

// SeedStore is the rule persistence seeding needs.
type SeedStore interface {
	HasAny(ctx context.Context, tenantID uuid.UUID) (bool, error)
	Create(ctx context.Context, rule Rule) (Rule, error)
}

// SeedDefaults installs the default rule set for a tenant that has no
// rules yet. Returns how many rules were created.
func SeedDefaults(ctx context.Context, store SeedStore, tenantID uuid.UUID, log *logger.Logger) (int, error) {
	exists, err := store.HasAny(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, nil
	}

	rules, err := DefaultRules(tenantID)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return created, fmt.Errorf("invalid seed rule %q: %w", rule.Name, err)
		}
		if _, err := store.Create(ctx, rule); err != nil {
			return created, fmt.Errorf("failed to seed rule %q: %w", rule.Name, err)
		}
		created++
	}

	log.Info("seeded default progression rules",
		"tenant_id", tenantID.String(), "rules", created)
	return created, nil
}
