// Package analysis computes the automated-analysis outputs: engagement
// counts per episode and demographic distributions over the generated
// individuals dataset. Chart rendering stays with downstream tooling; this
// package produces the CSVs those tools read.
package analysis

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const PlanSchemaV1 = "surveyline.analysis.v1"

// Plan names the datasets and demographic fields the analysis stage reports
// on. YAML on disk; JSON tags kept so plans can travel inside configuration
// payloads.
type Plan struct {
	Schema       string        `json:"schema" yaml:"schema"`
	Datasets     []DatasetPlan `json:"datasets" yaml:"datasets"`
	Demographics []string      `json:"demographics,omitempty" yaml:"demographics,omitempty"`
}

// DatasetPlan is one scored episode: the raw response column and the coded
// column human coders fill in.
type DatasetPlan struct {
	Name       string `json:"name" yaml:"name"`
	RawField   string `json:"raw_field" yaml:"raw_field"`
	CodedField string `json:"coded_field" yaml:"coded_field"`
}

func ParsePlan(input []byte) (Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(input, &plan); err != nil {
		return Plan{}, fmt.Errorf("decode analysis plan: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

func (p Plan) Validate() error {
	if strings.TrimSpace(p.Schema) != PlanSchemaV1 {
		return fmt.Errorf("plan.schema must be %q", PlanSchemaV1)
	}
	if len(p.Datasets) == 0 {
		return errors.New("plan.datasets must be non-empty")
	}
	seen := make(map[string]struct{}, len(p.Datasets))
	for i, dataset := range p.Datasets {
		name := strings.TrimSpace(dataset.Name)
		if name == "" {
			return fmt.Errorf("plan.datasets[%d].name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("plan.datasets[%d].name must be unique (duplicate %q)", i, name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(dataset.RawField) == "" {
			return fmt.Errorf("plan.datasets[%d].raw_field is required", i)
		}
		if strings.TrimSpace(dataset.CodedField) == "" {
			return fmt.Errorf("plan.datasets[%d].coded_field is required", i)
		}
	}
	for i, field := range p.Demographics {
		if strings.TrimSpace(field) == "" {
			return fmt.Errorf("plan.demographics[%d] is required", i)
		}
	}
	return nil
}
