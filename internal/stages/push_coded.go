package stages

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/surveyline-labs/surveyline-go/internal/coding"
	"github.com/surveyline-labs/surveyline-go/internal/sequencer"
)

// PushCoded uploads the freshly generated per-dataset message files to the
// coding tool so new messages show up for labelling.
type PushCoded struct {
	Client   CodingClient
	Datasets []string
}

func (s *PushCoded) Name() string { return "push-coded" }

func (s *PushCoded) Inputs() []string {
	in := make([]string, 0, len(s.Datasets))
	for _, dataset := range s.Datasets {
		in = append(in, codaOutputFile(dataset))
	}
	return in
}

func (s *PushCoded) Outputs() []string { return nil }

func (s *PushCoded) Run(ctx context.Context, env sequencer.Env) error {
	for _, dataset := range s.Datasets {
		var msgs []coding.Message
		if err := readJSON(filepath.Join(env.DataRoot, codaOutputFile(dataset)), &msgs); err != nil {
			return err
		}
		if err := s.Client.PushDataset(ctx, dataset, msgs); err != nil {
			return fmt.Errorf("push dataset %s: %w", dataset, err)
		}
		env.Logger.Info("pushed dataset", "dataset", dataset, "messages", len(msgs))
	}
	return nil
}
