package remap

import (
	"strings"
	"testing"

	"github.com/surveyline-labs/surveyline-go/internal/domain"
)

func TestResolveDemographicRule(t *testing.T) {
	table, err := NewTable([]domain.RemappingRule{
		{SourceKey: "Age (Text) - worldvision_s01_demog", PipelineKey: "age_raw"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mapping, ok := table.Resolve("Age (Text) - worldvision_s01_demog")
	if !ok {
		t.Fatalf("expected rule to resolve")
	}
	if mapping.PipelineKey != "age_raw" {
		t.Fatalf("expected pipeline key age_raw, got %q", mapping.PipelineKey)
	}
	if mapping.IsActivationMessage {
		t.Fatalf("demographic field must not be an activation message")
	}
}

func TestResolveActivationRule(t *testing.T) {
	table, err := NewTable([]domain.RemappingRule{
		{
			SourceKey:           "Rqa_S01E01 (Text) - worldvision_s01e01_activation",
			PipelineKey:         "rqa_s01e01_raw",
			IsActivationMessage: true,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mapping, ok := table.Resolve("Rqa_S01E01 (Text) - worldvision_s01e01_activation")
	if !ok {
		t.Fatalf("expected rule to resolve")
	}
	if mapping.PipelineKey != "rqa_s01e01_raw" || !mapping.IsActivationMessage {
		t.Fatalf("unexpected mapping: %+v", mapping)
	}
}

func TestUnknownSourceKeyIsDropped(t *testing.T) {
	table, err := NewTable([]domain.RemappingRule{
		{SourceKey: "Age (Text) - worldvision_s01_demog", PipelineKey: "age_raw"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := table.Resolve("never-declared"); ok {
		t.Fatalf("expected unknown source key to resolve to nothing")
	}
}

func TestDuplicateSourceKeyFailsConstruction(t *testing.T) {
	_, err := NewTable([]domain.RemappingRule{
		{SourceKey: "Age (Text) - worldvision_s01_demog", PipelineKey: "age_raw"},
		{SourceKey: "Age (Text) - worldvision_s01_demog", PipelineKey: "age_again_raw"},
	})
	if err == nil {
		t.Fatalf("expected duplicate source key to fail construction")
	}
	if !strings.Contains(err.Error(), "duplicate source key") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestManySourceKeysCollapseToOnePipelineKey(t *testing.T) {
	table, err := NewTable([]domain.RemappingRule{
		{SourceKey: "Rqa_S01E01 (Time) - worldvision_s01e01_activation", PipelineKey: "sent_on"},
		{SourceKey: "Rqa_S01E02 (Time) - worldvision_s01e02_activation", PipelineKey: "sent_on"},
		{SourceKey: "Rqa_S01E03 (Time) - worldvision_s01e03_activation", PipelineKey: "sent_on"},
	})
	if err != nil {
		t.Fatalf("collapsing rules must be valid: %v", err)
	}

	for _, key := range []string{
		"Rqa_S01E01 (Time) - worldvision_s01e01_activation",
		"Rqa_S01E02 (Time) - worldvision_s01e02_activation",
		"Rqa_S01E03 (Time) - worldvision_s01e03_activation",
	} {
		mapping, ok := table.Resolve(key)
		if !ok || mapping.PipelineKey != "sent_on" {
			t.Fatalf("expected %q to resolve to sent_on, got %+v ok=%v", key, mapping, ok)
		}
	}
}

func TestApplyFirstRulePrecedenceOnCollapse(t *testing.T) {
	table, err := NewTable([]domain.RemappingRule{
		{SourceKey: "Rqa_S01E01 (Time) - worldvision_s01e01_activation", PipelineKey: "sent_on"},
		{SourceKey: "Rqa_S01E02 (Time) - worldvision_s01e02_activation", PipelineKey: "sent_on"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw := map[string]string{
		"Rqa_S01E02 (Time) - worldvision_s01e02_activation": "2020-03-01T19:00:00Z",
		"Rqa_S01E01 (Time) - worldvision_s01e01_activation": "2020-02-23T19:00:00Z",
		"unmapped-field": "dropped",
	}
	got := table.Apply(raw)
	if len(got) != 1 {
		t.Fatalf("expected one remapped field, got %v", got)
	}
	if got["sent_on"] != "2020-02-23T19:00:00Z" {
		t.Fatalf("expected earliest-declared rule to win, got %q", got["sent_on"])
	}
}

func TestActivationKeys(t *testing.T) {
	table, err := NewTable([]domain.RemappingRule{
		{SourceKey: "a", PipelineKey: "rqa_s01e01_raw", IsActivationMessage: true},
		{SourceKey: "b", PipelineKey: "rqa_s01e02_raw", IsActivationMessage: true},
		{SourceKey: "c", PipelineKey: "age_raw"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	keys := table.ActivationKeys()
	if len(keys) != 2 || keys[0] != "rqa_s01e01_raw" || keys[1] != "rqa_s01e02_raw" {
		t.Fatalf("unexpected activation keys: %v", keys)
	}
}
