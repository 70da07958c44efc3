package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/spf13/cobra"
)

var scheduleCron string

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the pipeline repeatedly on a cron schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runScheduler(ctx)
	},
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleCron, "cron", "0 6 * * *", "cron expression for pipeline runs, in UTC")
}

func runScheduler(ctx context.Context) error {
	logger := newLogger(os.Stderr)
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()

	_, err := scheduler.Cron(scheduleCron).Do(func() {
		logger.Info("scheduled pipeline run starting", "cron", scheduleCron)
		if err := executeRun(ctx); err != nil {
			logger.Error("scheduled pipeline run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("register schedule %q: %w", scheduleCron, err)
	}

	logger.Info("scheduler started", "cron", scheduleCron)
	scheduler.StartAsync()
	<-ctx.Done()
	scheduler.Stop()
	logger.Info("scheduler stopped")
	return nil
}
