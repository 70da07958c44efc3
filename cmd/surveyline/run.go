package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/surveyline-labs/surveyline-go/internal/analysis"
	"github.com/surveyline-labs/surveyline-go/internal/coding"
	"github.com/surveyline-labs/surveyline-go/internal/domain"
	"github.com/surveyline-labs/surveyline-go/internal/identity"
	"github.com/surveyline-labs/surveyline-go/internal/messaging"
	platformstore "github.com/surveyline-labs/surveyline-go/internal/platform/objectstore"
	"github.com/surveyline-labs/surveyline-go/internal/platform/postgres"
	"github.com/surveyline-labs/surveyline-go/internal/remap"
	repopg "github.com/surveyline-labs/surveyline-go/internal/repo/postgres"
	"github.com/surveyline-labs/surveyline-go/internal/runid"
	"github.com/surveyline-labs/surveyline-go/internal/sequencer"
	"github.com/surveyline-labs/surveyline-go/internal/stages"
	"github.com/surveyline-labs/surveyline-go/internal/storage/objectstore"
)

var analysisPlanPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one full pipeline run",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return executeRun(ctx)
	},
}

func init() {
	runCmd.Flags().StringVar(&analysisPlanPath, "analysis-plan", "analysis-plan.yaml", "path to the automated analysis plan")
}

func executeRun(ctx context.Context) error {
	cfg, table, err := loadPipeline()
	if err != nil {
		return err
	}

	run, err := runid.New(time.Now(), version)
	if err != nil {
		return err
	}

	logger, closeLog, err := runLogger(run.RunID)
	if err != nil {
		return err
	}
	defer closeLog()
	logger.Info("starting pipeline run",
		"run_id", run.RunID, "pipeline", cfg.PipelineName, "code_version", version)

	planRaw, err := os.ReadFile(analysisPlanPath)
	if err != nil {
		return fmt.Errorf("read analysis plan: %w", err)
	}
	plan, err := analysis.ParsePlan(planRaw)
	if err != nil {
		return err
	}

	pgCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return err
	}
	db, err := postgres.Open(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer db.Close()

	uidStore := repopg.NewUIDStore(db)
	runStore := repopg.NewRunStore(db)
	resolver, err := identity.NewTableResolver(uidStore, cfg.UIDTable.TableName, cfg.UIDTable.UIDPrefix)
	if err != nil {
		return err
	}

	messagingCfg, err := messaging.ConfigFromEnv()
	if err != nil {
		return err
	}
	messagingClient, err := messaging.NewClient(messagingCfg)
	if err != nil {
		return err
	}
	codingCfg, err := coding.ConfigFromEnv()
	if err != nil {
		return err
	}
	codingClient, err := coding.NewClient(codingCfg)
	if err != nil {
		return err
	}

	storeCfg, err := platformstore.ConfigFromEnv()
	if err != nil {
		return err
	}
	minioClient, err := platformstore.NewMinIOClient(storeCfg)
	if err != nil {
		return err
	}
	if err := platformstore.EnsureBuckets(ctx, minioClient, storeCfg); err != nil {
		return err
	}
	store, err := objectstore.NewMinioStoreWithClient(minioClient)
	if err != nil {
		return err
	}

	seq, err := sequencer.New(pipelineStages(cfg, table, resolver, plan, messagingClient, codingClient, store, storeCfg)...)
	if err != nil {
		return err
	}

	run.Status = string(domain.RunStateRunning)
	if err := runStore.CreateRun(ctx, cfg.PipelineName, run); err != nil {
		return fmt.Errorf("record run start: %w", err)
	}

	env := sequencer.Env{DataRoot: dataRoot, Run: run, Logger: logger}
	results, runErr := seq.Run(ctx, env)
	for _, result := range results {
		logger.Info("stage finished", "stage", result.Name, "state", result.State)
	}

	ended := time.Now().UTC()
	if runErr != nil {
		failedStage := ""
		var stageErr *sequencer.StageError
		if errors.As(runErr, &stageErr) {
			failedStage = stageErr.Stage
		}
		if updateErr := runStore.UpdateRunStatus(ctx, cfg.PipelineName, run.RunID,
			string(domain.RunStateFailed), failedStage, &ended); updateErr != nil {
			logger.Error("failed to record run failure", "error", updateErr)
		}
		logger.Error("pipeline run failed", "run_id", run.RunID, "error", runErr)
		return runErr
	}

	if err := runStore.UpdateRunStatus(ctx, cfg.PipelineName, run.RunID,
		string(domain.RunStateCompleted), "", &ended); err != nil {
		return fmt.Errorf("record run completion: %w", err)
	}
	logger.Info("pipeline run completed", "run_id", run.RunID)
	return nil
}

// pipelineStages assembles the fixed stage order of one run.
func pipelineStages(
	cfg domain.PipelineConfiguration,
	table *remap.Table,
	resolver identity.Resolver,
	plan analysis.Plan,
	messagingClient stages.MessagingClient,
	codingClient stages.CodingClient,
	store objectstore.Store,
	storeCfg platformstore.Config,
) []sequencer.Stage {
	datasets := make([]string, 0)
	for _, key := range table.ActivationKeys() {
		datasets = append(datasets, stages.DatasetName(key))
	}
	return []sequencer.Stage{
		&stages.FetchCoded{Client: codingClient, Datasets: datasets},
		&stages.FetchRaw{Client: messagingClient, Config: cfg},
		&stages.GenerateOutputs{Config: cfg, Table: table, Resolver: resolver},
		&stages.PushCoded{Client: codingClient, Datasets: datasets},
		&stages.AutomatedAnalysis{Plan: plan},
		&stages.Backup{},
		&stages.UploadFiles{
			Store:         store,
			UploadsBucket: storeCfg.BucketUploads,
			UploadsPrefix: cfg.UploadTargets.UploadsPrefix,
			ArchiveBucket: storeCfg.BucketArchives,
			ArchivePrefix: cfg.UploadTargets.ArchivePrefix,
		},
		&stages.UploadLogs{Store: store, LogsBucket: storeCfg.BucketLogs, LogsPrefix: cfg.UploadTargets.LogsPrefix},
	}
}
