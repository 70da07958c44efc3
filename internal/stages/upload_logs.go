package stages

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/surveyline-labs/surveyline-go/internal/sequencer"
	"github.com/surveyline-labs/surveyline-go/internal/storage/objectstore"
)

// UploadLogs pushes the run's log file to the logs bucket. It runs last so
// the uploaded log covers every preceding stage.
type UploadLogs struct {
	Store      objectstore.Store
	LogsBucket string
	LogsPrefix string
}

func (s *UploadLogs) Name() string { return "upload-logs" }

func (s *UploadLogs) Inputs() []string { return []string{LogsDir} }

func (s *UploadLogs) Outputs() []string { return nil }

func (s *UploadLogs) Run(ctx context.Context, env sequencer.Env) error {
	logFile := filepath.Join(env.DataRoot, LogsDir, env.Run.RunID+".log")
	if _, err := os.Stat(logFile); err != nil {
		return fmt.Errorf("run log missing: %w", err)
	}
	key := path.Join(s.LogsPrefix, env.Run.RunID, env.Run.RunID+".log")
	if err := s.Store.PutFile(ctx, s.LogsBucket, key, logFile, "text/plain"); err != nil {
		return fmt.Errorf("upload log: %w", err)
	}
	env.Logger.Info("uploaded run log", "run_id", env.Run.RunID)
	return nil
}
