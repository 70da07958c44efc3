package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/surveyline-labs/surveyline-go/internal/domain"
	"github.com/surveyline-labs/surveyline-go/internal/platform/postgres"
	"github.com/surveyline-labs/surveyline-go/internal/repo"
	repopg "github.com/surveyline-labs/surveyline-go/internal/repo/postgres"
	"github.com/surveyline-labs/surveyline-go/internal/runid"
)

var (
	runsStatus string
	runsLimit  int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded pipeline runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listRuns(cmd.Context())
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one recorded run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showRun(cmd.Context(), args[0])
	},
}

func init() {
	runsListCmd.Flags().StringVar(&runsStatus, "status", "", "filter by run status (pending, running, failed, completed)")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs to list")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
}

func openRunStore(ctx context.Context) (*repopg.RunStore, func() error, string, error) {
	cfg, _, err := loadPipeline()
	if err != nil {
		return nil, nil, "", err
	}
	pgCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, nil, "", err
	}
	db, err := postgres.Open(ctx, pgCfg)
	if err != nil {
		return nil, nil, "", err
	}
	return repopg.NewRunStore(db), db.Close, cfg.PipelineName, nil
}

func listRuns(ctx context.Context) error {
	filter := repo.RunFilter{Limit: runsLimit}
	if runsStatus != "" {
		state := domain.NormalizeRunState(runsStatus)
		if state == "" {
			return fmt.Errorf("unknown run status %q", runsStatus)
		}
		filter.Status = string(state)
	}

	store, closeDB, pipelineName, err := openRunStore(ctx)
	if err != nil {
		return err
	}
	defer closeDB()
	filter.PipelineName = pipelineName

	runs, err := store.ListRuns(ctx, filter)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSTATUS\tSTARTED\tENDED\tFAILED STAGE")
	for _, run := range runs {
		ended := ""
		if run.EndedAt != nil {
			ended = run.EndedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			run.RunID, run.Status, run.StartedAt.UTC().Format(time.RFC3339), ended, run.FailedStage)
	}
	return w.Flush()
}

func showRun(ctx context.Context, runID string) error {
	// Validate the id shape before touching the database.
	stamp, codeVersion, err := runid.Parse(runID)
	if err != nil {
		return err
	}

	store, closeDB, pipelineName, err := openRunStore(ctx)
	if err != nil {
		return err
	}
	defer closeDB()

	run, err := store.GetRun(ctx, pipelineName, runID)
	if err != nil {
		return err
	}

	fmt.Printf("Run:          %s\n", run.RunID)
	fmt.Printf("Pipeline:     %s\n", pipelineName)
	fmt.Printf("Timestamp:    %s\n", stamp.Format(time.RFC3339))
	fmt.Printf("Code version: %s\n", codeVersion)
	fmt.Printf("Status:       %s\n", run.Status)
	fmt.Printf("Started:      %s\n", run.StartedAt.UTC().Format(time.RFC3339))
	if run.EndedAt != nil {
		fmt.Printf("Ended:        %s\n", run.EndedAt.UTC().Format(time.RFC3339))
	}
	if run.FailedStage != "" {
		fmt.Printf("Failed stage: %s\n", run.FailedStage)
	}
	return nil
}
