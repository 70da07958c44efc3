package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/surveyline-labs/surveyline-go/internal/analysis"
	"github.com/surveyline-labs/surveyline-go/internal/sequencer"
	"github.com/surveyline-labs/surveyline-go/internal/traced"
)

// AutomatedAnalysis computes engagement counts and demographic distributions
// from the traced datasets, per the analysis plan.
type AutomatedAnalysis struct {
	Plan analysis.Plan
}

func (s *AutomatedAnalysis) Name() string { return "automated-analysis" }

func (s *AutomatedAnalysis) Inputs() []string {
	return []string{MessagesTracedJSONL, IndividualsTracedJSONL}
}

func (s *AutomatedAnalysis) Outputs() []string {
	out := []string{filepath.Join(AnalysisDir, "engagement.csv")}
	for _, field := range s.Plan.Demographics {
		out = append(out, distributionFile(field))
	}
	return out
}

func distributionFile(field string) string {
	return filepath.Join(AnalysisDir, field+"_distribution.csv")
}

func (s *AutomatedAnalysis) Run(ctx context.Context, env sequencer.Env) error {
	messages, err := traced.ReadFile(filepath.Join(env.DataRoot, MessagesTracedJSONL))
	if err != nil {
		return err
	}
	individuals, err := traced.ReadFile(filepath.Join(env.DataRoot, IndividualsTracedJSONL))
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(env.DataRoot, AnalysisDir), 0o755); err != nil {
		return fmt.Errorf("create analysis dir: %w", err)
	}

	rows := analysis.EngagementCounts(messages, individuals, s.Plan)
	if err := analysis.WriteEngagementCSV(filepath.Join(env.DataRoot, AnalysisDir, "engagement.csv"), rows); err != nil {
		return err
	}
	env.Logger.Info("wrote engagement analysis", "datasets", len(rows))

	for _, field := range s.Plan.Demographics {
		values, counts := analysis.DemographicDistribution(individuals, field)
		path := filepath.Join(env.DataRoot, distributionFile(field))
		if err := analysis.WriteDistributionCSV(path, field, values, counts); err != nil {
			return err
		}
	}
	return nil
}
