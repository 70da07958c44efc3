package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/surveyline-labs/surveyline-go/internal/coding"
	"github.com/surveyline-labs/surveyline-go/internal/sequencer"
)

// CodingClient is the slice of the coding tool the fetch and push stages use.
type CodingClient interface {
	FetchDataset(ctx context.Context, datasetName string) ([]coding.Message, error)
	PushDataset(ctx context.Context, datasetName string, messages []coding.Message) error
}

// FetchCoded downloads each dataset's coded messages from the coding tool.
type FetchCoded struct {
	Client   CodingClient
	Datasets []string
}

func (s *FetchCoded) Name() string     { return "fetch-coded" }
func (s *FetchCoded) Inputs() []string { return nil }

func (s *FetchCoded) Outputs() []string {
	out := make([]string, 0, len(s.Datasets))
	for _, dataset := range s.Datasets {
		out = append(out, codedDatasetFile(dataset))
	}
	return out
}

func (s *FetchCoded) Run(ctx context.Context, env sequencer.Env) error {
	if s.Client == nil {
		return fmt.Errorf("coding client is required")
	}
	if err := os.MkdirAll(filepath.Join(env.DataRoot, CodedDataDir), 0o755); err != nil {
		return fmt.Errorf("create coded data dir: %w", err)
	}
	for _, dataset := range s.Datasets {
		messages, err := s.Client.FetchDataset(ctx, dataset)
		if err != nil {
			return err
		}
		env.Logger.Info("fetched coded dataset", "dataset", dataset, "messages", len(messages))
		if err := writeJSON(filepath.Join(env.DataRoot, codedDatasetFile(dataset)), messages); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, value any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, value); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
