package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/surveyline-labs/surveyline-go/internal/config"
	"github.com/surveyline-labs/surveyline-go/internal/domain"
	"github.com/surveyline-labs/surveyline-go/internal/remap"
	"github.com/surveyline-labs/surveyline-go/internal/stages"
)

// version is stamped at build time via -ldflags.
var version = "dev"

var (
	configPath string
	dataRoot   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "surveyline",
	Short: "surveyline runs the survey response data pipeline",
	Long: `surveyline orchestrates the survey response pipeline: raw flow runs are
fetched from the messaging platform, contacts are pseudonymised through the
uid table, answers are remapped onto pipeline keys, and the resulting message
and individual datasets are coded, analysed, backed up and uploaded.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "pipeline.json", "path to the pipeline configuration file")
	rootCmd.PersistentFlags().StringVarP(&dataRoot, "data-root", "d", "data", "root directory for pipeline data")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(exportContactsCmd)
	rootCmd.AddCommand(exportWeeklyContactsCmd)
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// runLogger logs to stderr and to the run's log file under Logs.
func runLogger(runID string) (*slog.Logger, func() error, error) {
	logsDir := filepath.Join(dataRoot, stages.LogsDir)
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create logs dir: %w", err)
	}
	f, err := os.Create(filepath.Join(logsDir, runID+".log"))
	if err != nil {
		return nil, nil, fmt.Errorf("create run log: %w", err)
	}
	return newLogger(io.MultiWriter(os.Stderr, f)), f.Close, nil
}

func loadPipeline() (domain.PipelineConfiguration, *remap.Table, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return domain.PipelineConfiguration{}, nil, err
	}
	table, err := remap.NewTable(cfg.KeyRemappings)
	if err != nil {
		return domain.PipelineConfiguration{}, nil, fmt.Errorf("build remapping table: %w", err)
	}
	return cfg, table, nil
}
