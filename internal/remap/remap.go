// Package remap translates externally-named survey fields into normalized
// pipeline field names. The table is an immutable value built once from a
// validated configuration; field names with no rule are dropped, never
// errored.
package remap

import (
	"fmt"
	"strings"

	"github.com/surveyline-labs/surveyline-go/internal/domain"
)

// Mapping is one resolved rename.
type Mapping struct {
	PipelineKey         string
	IsActivationMessage bool
}

// Table is a total function from observed external field names to pipeline
// field names. Several source keys may collapse into one pipeline key; each
// source key appears at most once.
type Table struct {
	rules   []domain.RemappingRule
	byKey   map[string]Mapping
	ruleIdx map[string]int
}

// NewTable builds a table from an ordered rule list. Two rules sharing a
// source key fail construction; this is validated here as well as at
// configuration load so a table can never exist in an ambiguous state.
func NewTable(rules []domain.RemappingRule) (*Table, error) {
	byKey := make(map[string]Mapping, len(rules))
	ruleIdx := make(map[string]int, len(rules))
	kept := make([]domain.RemappingRule, 0, len(rules))
	for i, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		key := strings.TrimSpace(rule.SourceKey)
		if _, dup := byKey[key]; dup {
			return nil, fmt.Errorf("rule %d: duplicate source key %q", i, key)
		}
		byKey[key] = Mapping{
			PipelineKey:         strings.TrimSpace(rule.PipelineKey),
			IsActivationMessage: rule.IsActivationMessage,
		}
		ruleIdx[key] = i
		kept = append(kept, rule)
	}
	return &Table{rules: kept, byKey: byKey, ruleIdx: ruleIdx}, nil
}

// Resolve looks up one external field name. ok is false when no rule matches,
// which callers treat as "drop the field".
func (t *Table) Resolve(sourceKey string) (Mapping, bool) {
	if t == nil {
		return Mapping{}, false
	}
	m, ok := t.byKey[strings.TrimSpace(sourceKey)]
	return m, ok
}

// Rules returns the table's rules in declaration order.
func (t *Table) Rules() []domain.RemappingRule {
	if t == nil {
		return nil
	}
	out := make([]domain.RemappingRule, len(t.rules))
	copy(out, t.rules)
	return out
}

// ActivationKeys returns the pipeline keys flagged as activation messages, in
// declaration order.
func (t *Table) ActivationKeys() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0)
	seen := make(map[string]struct{})
	for _, rule := range t.rules {
		if !rule.IsActivationMessage {
			continue
		}
		key := strings.TrimSpace(rule.PipelineKey)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// Apply remaps a raw record's field names. Unmapped fields are dropped. When
// several present source keys collapse into the same pipeline key, the value
// from the earliest rule in the table wins, so collapsed columns are
// deterministic regardless of map iteration order.
func (t *Table) Apply(raw map[string]string) map[string]string {
	if t == nil {
		return map[string]string{}
	}
	winner := make(map[string]int, len(raw))
	out := make(map[string]string, len(raw))
	for sourceKey, value := range raw {
		key := strings.TrimSpace(sourceKey)
		mapping, ok := t.byKey[key]
		if !ok {
			continue
		}
		idx := t.ruleIdx[key]
		if prev, taken := winner[mapping.PipelineKey]; taken && prev <= idx {
			continue
		}
		winner[mapping.PipelineKey] = idx
		out[mapping.PipelineKey] = value
	}
	return out
}
