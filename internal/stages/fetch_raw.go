package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/surveyline-labs/surveyline-go/internal/domain"
	"github.com/surveyline-labs/surveyline-go/internal/messaging"
	"github.com/surveyline-labs/surveyline-go/internal/sequencer"
)

// MessagingClient is the slice of the messaging platform the fetch stage uses.
type MessagingClient interface {
	FetchRuns(ctx context.Context, flowName string, after, before time.Time) ([]messaging.Run, error)
}

// FetchRaw pulls every configured flow's runs into the raw data directory.
// The platform is asked only for the project window; stricter in-window
// filtering happens again at generate time so reruns over old raw files stay
// correct.
type FetchRaw struct {
	Client MessagingClient
	Config domain.PipelineConfiguration
}

func (s *FetchRaw) Name() string     { return "fetch-raw" }
func (s *FetchRaw) Inputs() []string { return nil }

func (s *FetchRaw) Outputs() []string {
	flows := s.Config.FlowNames()
	out := make([]string, 0, len(flows))
	for _, flow := range flows {
		out = append(out, rawFlowFile(flow))
	}
	return out
}

func (s *FetchRaw) Run(ctx context.Context, env sequencer.Env) error {
	if s.Client == nil {
		return fmt.Errorf("messaging client is required")
	}
	if err := os.MkdirAll(filepath.Join(env.DataRoot, RawDataDir), 0o755); err != nil {
		return fmt.Errorf("create raw data dir: %w", err)
	}
	for _, flow := range s.Config.FlowNames() {
		runs, err := s.Client.FetchRuns(ctx, flow, s.Config.ProjectStartDate, s.Config.ProjectEndDate)
		if err != nil {
			return err
		}
		env.Logger.Info("fetched raw runs", "flow", flow, "runs", len(runs))
		if err := writeJSON(filepath.Join(env.DataRoot, rawFlowFile(flow)), runs); err != nil {
			return err
		}
	}
	return nil
}
