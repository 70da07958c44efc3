package domain

import (
	"errors"
	"strings"
)

// RemappingRule renames one externally-observed field to its pipeline name.
type RemappingRule struct {
	SourceKey           string `json:"RapidProKey" yaml:"rapid_pro_key"`
	PipelineKey         string `json:"PipelineKey" yaml:"pipeline_key"`
	IsActivationMessage bool   `json:"IsActivationMessage,omitempty" yaml:"is_activation_message,omitempty"`
}

func (r RemappingRule) Validate() error {
	if strings.TrimSpace(r.SourceKey) == "" {
		return errors.New("source key is required")
	}
	if strings.TrimSpace(r.PipelineKey) == "" {
		return errors.New("pipeline key is required")
	}
	return nil
}
