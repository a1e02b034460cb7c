// Package config loads the business configuration for the concierge:
// the intent catalog, routing table, cascade thresholds, rate limits
// and feedback policy. The file is YAML; an unparsable or invalid file
// is a startup failure, everything downstream degrades gracefully.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "45s" or "6h" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Intent describes one entry of the intent catalog.
type Intent struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Examples []string `yaml:"examples"`
}

// Route maps a classified intent to a configured action.
type Route struct {
	Action   string            `yaml:"action"`
	Metadata map[string]string `yaml:"metadata,omitempty"`
}

// Thresholds holds the cascade tuning knobs.
type Thresholds struct {
	FuzzyMinScore     float64 `yaml:"fuzzy_min_score"`
	SemanticThreshold float64 `yaml:"semantic_threshold"`
	Layer2Cutoff      float64 `yaml:"layer2_cutoff"`
	EnableEmergency   *bool   `yaml:"enable_emergency,omitempty"`
	EnableFuzzy       *bool   `yaml:"enable_fuzzy,omitempty"`
	EnableSemantic    *bool   `yaml:"enable_semantic,omitempty"`
	EnableLLM         *bool   `yaml:"enable_llm,omitempty"`
}

// RateLimit holds per-sender admission ceilings.
type RateLimit struct {
	PerMinute     int      `yaml:"per_minute"`
	PerHour       int      `yaml:"per_hour"`
	Staff         []string `yaml:"staff,omitempty"`
	SweepInterval Duration `yaml:"sweep_interval,omitempty"`
}

// Feedback holds the feedback-solicitation policy.
type Feedback struct {
	Enabled      bool     `yaml:"enabled"`
	Cooldown     Duration `yaml:"cooldown"`
	AwaitTimeout Duration `yaml:"await_timeout"`
	SkipIntents  []string `yaml:"skip_intents,omitempty"`
}

// Config is the full business configuration.
type Config struct {
	Intents    []Intent            `yaml:"intents"`
	Routing    map[string]Route    `yaml:"routing"`
	Thresholds Thresholds          `yaml:"thresholds"`
	RateLimit  RateLimit           `yaml:"rate_limit"`
	Feedback   Feedback            `yaml:"feedback"`
	Languages  []string            `yaml:"languages,omitempty"`
	Emergency  map[string][]string `yaml:"emergency,omitempty"`
}

// Default returns a configuration with sensible defaults applied.
func Default() *Config {
	return &Config{
		Thresholds: Thresholds{
			FuzzyMinScore:     0.5,
			SemanticThreshold: 0.62,
			Layer2Cutoff:      0.6,
		},
		RateLimit: RateLimit{
			PerMinute:     10,
			PerHour:       60,
			SweepInterval: Duration(5 * time.Minute),
		},
		Feedback: Feedback{
			Enabled:      true,
			Cooldown:     Duration(6 * time.Hour),
			AwaitTimeout: Duration(10 * time.Minute),
			SkipIntents:  []string{"greeting", "thanks", "goodbye"},
		},
		Languages: []string{"en", "ms", "zh"},
	}
}

// Load reads and validates the YAML configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// behavior deep inside the cascade.
func (c *Config) Validate() error {
	if len(c.Intents) == 0 {
		return fmt.Errorf("no intents configured")
	}
	seen := make(map[string]bool, len(c.Intents))
	for _, in := range c.Intents {
		if in.Name == "" {
			return fmt.Errorf("intent with empty name")
		}
		if seen[in.Name] {
			return fmt.Errorf("duplicate intent %q", in.Name)
		}
		seen[in.Name] = true
	}
	if c.Thresholds.Layer2Cutoff < 0 || c.Thresholds.Layer2Cutoff > 1 {
		return fmt.Errorf("layer2_cutoff %.2f out of [0,1]", c.Thresholds.Layer2Cutoff)
	}
	if c.Thresholds.SemanticThreshold < 0 || c.Thresholds.SemanticThreshold > 1 {
		return fmt.Errorf("semantic_threshold %.2f out of [0,1]", c.Thresholds.SemanticThreshold)
	}
	if c.RateLimit.PerMinute <= 0 || c.RateLimit.PerHour <= 0 {
		return fmt.Errorf("rate ceilings must be positive")
	}
	for intent := range c.Routing {
		if !seen[intent] {
			return fmt.Errorf("routing entry for unknown intent %q", intent)
		}
	}
	return nil
}

// IntentNames returns the catalog names in declaration order.
func (c *Config) IntentNames() []string {
	names := make([]string, 0, len(c.Intents))
	for _, in := range c.Intents {
		names = append(names, in.Name)
	}
	return names
}

// TierEnabled reports whether a tier toggle is on; nil means enabled.
func TierEnabled(flag *bool) bool {
	return flag == nil || *flag
}
