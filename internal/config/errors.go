package config

import "strings"

// ConfigError aggregates every issue found while validating a pipeline
// configuration, so one load reports all problems at once.
type ConfigError struct {
	Issues []string
}

func (e *ConfigError) Error() string {
	if len(e.Issues) == 0 {
		return "configuration validation failed"
	}
	return "configuration validation failed: " + strings.Join(e.Issues, "; ")
}

func (e *ConfigError) Add(issue string) {
	if strings.TrimSpace(issue) == "" {
		return
	}
	e.Issues = append(e.Issues, issue)
}

func (e *ConfigError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}
