// Package config loads and eagerly validates pipeline deployment
// configuration files. Validation happens once at load time; a configuration
// that survives Load is safe to use for the whole run.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/surveyline-labs/surveyline-go/internal/domain"
)

// Load reads and validates one deployment configuration from a JSON file.
func Load(path string) (domain.PipelineConfiguration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.PipelineConfiguration{}, fmt.Errorf("read configuration: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a deployment configuration.
func Parse(raw []byte) (domain.PipelineConfiguration, error) {
	var cfg domain.PipelineConfiguration
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return domain.PipelineConfiguration{}, fmt.Errorf("decode configuration: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return domain.PipelineConfiguration{}, err
	}
	return cfg, nil
}

// Validate checks the whole configuration and reports every issue found.
func Validate(cfg domain.PipelineConfiguration) error {
	verr := &ConfigError{}

	if err := cfg.Validate(); err != nil {
		verr.Add(err.Error())
	}

	if len(cfg.KeyRemappings) == 0 {
		verr.Add("at least one key remapping is required")
	}
	seen := make(map[string]struct{}, len(cfg.KeyRemappings))
	for i, rule := range cfg.KeyRemappings {
		if err := rule.Validate(); err != nil {
			verr.Add(fmt.Sprintf("remapping %d: %v", i, err))
			continue
		}
		key := strings.TrimSpace(rule.SourceKey)
		if _, dup := seen[key]; dup {
			verr.Add(fmt.Sprintf("remapping %d: duplicate source key %q", i, key))
		}
		seen[key] = struct{}{}
	}

	return verr.OrNil()
}
