package modelmux

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads and parses a config file from the given path.
// Supported formats: JSON (.json), YAML (.yaml, .yml).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// knownProviders is the set of provider names ValidateConfig accepts.
var knownProviders = map[string]bool{
	"openai":     true,
	"anthropic":  true,
	"groq":       true,
	"deepseek":   true,
	"xai":        true,
	"openrouter": true,
	"google":     true,
	"ollama":     true,
	"bedrock":    true,
}

// ValidateConfig validates a Config for correctness.
func ValidateConfig(cfg Config) error {
	if cfg.Budget.DefaultLimitUSD < 0 {
		return fmt.Errorf("budget default_limit_usd must not be negative")
	}
	if t := cfg.Budget.AlertThreshold; t < 0 || t > 1 {
		return fmt.Errorf("budget alert_threshold must be within [0, 1]")
	}
	if cfg.Retry.Attempts < 0 {
		return fmt.Errorf("retry attempts must not be negative")
	}
	if cfg.Router.TopK < 0 {
		return fmt.Errorf("router top_k must not be negative")
	}
	if cfg.RateLimit.RatePerSecond < 0 {
		return fmt.Errorf("rate_limit rate_per_second must not be negative")
	}
	seen := map[string]bool{}
	for _, p := range cfg.Providers {
		if !knownProviders[p.Name] {
			return fmt.Errorf("unknown provider %q", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("provider %q configured twice", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}
