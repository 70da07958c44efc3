package stages

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"

	"github.com/surveyline-labs/surveyline-go/internal/sequencer"
	"github.com/surveyline-labs/surveyline-go/internal/storage/objectstore"
)

// UploadFiles pushes the Outputs tree and the run's backup archive to object
// storage, keyed by run id so every run's artifacts remain addressable. The
// optional prefixes come from the pipeline configuration's upload targets.
type UploadFiles struct {
	Store         objectstore.Store
	UploadsBucket string
	UploadsPrefix string
	ArchiveBucket string
	ArchivePrefix string
}

func (s *UploadFiles) Name() string { return "upload-files" }

func (s *UploadFiles) Inputs() []string { return []string{OutputsDir, BackupsDir} }

func (s *UploadFiles) Outputs() []string { return nil }

func (s *UploadFiles) Run(ctx context.Context, env sequencer.Env) error {
	uploaded := 0
	root := filepath.Join(env.DataRoot, OutputsDir)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(env.DataRoot, p)
		if err != nil {
			return err
		}
		key := path.Join(s.UploadsPrefix, env.Run.RunID, filepath.ToSlash(rel))
		if err := s.Store.PutFile(ctx, s.UploadsBucket, key, p, contentTypeFor(p)); err != nil {
			return fmt.Errorf("upload %s: %w", rel, err)
		}
		uploaded++
		return nil
	})
	if err != nil {
		return err
	}

	backup := filepath.Join(env.DataRoot, backupFile(env.Run.RunID))
	key := path.Join(s.ArchivePrefix, env.Run.RunID, filepath.ToSlash(backupFile(env.Run.RunID)))
	if err := s.Store.PutFile(ctx, s.ArchiveBucket, key, backup, "application/x-tar"); err != nil {
		return fmt.Errorf("upload backup: %w", err)
	}

	env.Logger.Info("uploaded run artifacts", "files", uploaded+1, "run_id", env.Run.RunID)
	return nil
}

func contentTypeFor(p string) string {
	switch filepath.Ext(p) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".jsonl":
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}
