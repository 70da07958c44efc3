package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/surveyline-labs/surveyline-go/internal/archive"
	"github.com/surveyline-labs/surveyline-go/internal/sequencer"
)

// Backup snapshots the data root into a snappy-compressed tar under Backups,
// named after the current run. The Backups and Logs directories are excluded
// so the archive never contains itself or the in-progress run log.
type Backup struct{}

func (s *Backup) Name() string { return "backup" }

func (s *Backup) Inputs() []string { return []string{OutputsDir} }

func (s *Backup) Outputs() []string { return []string{BackupsDir} }

func backupFile(runID string) string {
	return filepath.Join(BackupsDir, runID+".tar.snappy")
}

func (s *Backup) Run(ctx context.Context, env sequencer.Env) error {
	if err := os.MkdirAll(filepath.Join(env.DataRoot, BackupsDir), 0o755); err != nil {
		return fmt.Errorf("create backups dir: %w", err)
	}
	path := filepath.Join(env.DataRoot, backupFile(env.Run.RunID))
	if err := archive.CreateFile(path, env.DataRoot, BackupsDir, LogsDir); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	env.Logger.Info("wrote backup", "path", path, "bytes", info.Size())
	return nil
}
