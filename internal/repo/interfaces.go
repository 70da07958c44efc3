package repo

import (
	"context"
	"errors"
	"time"

	"github.com/surveyline-labs/surveyline-go/internal/domain"
)

var ErrNotFound = errors.New("not found")

// UIDEntry is one persisted raw-contact-id to uid pair.
type UIDEntry struct {
	TableName    string
	RawContactID string
	UID          string
	CreatedAt    time.Time
}

type RunFilter struct {
	PipelineName string
	Status       string
	Limit        int
}

// UIDRepository manages the contact identity table. The table is a bijection
// per table name: a raw contact id maps to exactly one uid, forever.
type UIDRepository interface {
	// Allocate persists the candidate uid for a raw contact id unless one
	// already exists, and returns the persisted uid either way. The
	// check-allocate-write must be atomic with respect to concurrent callers.
	Allocate(ctx context.Context, tableName, rawContactID, candidateUID string) (uid string, created bool, err error)
	GetUID(ctx context.Context, tableName, rawContactID string) (string, error)
	ListEntries(ctx context.Context, tableName string) ([]UIDEntry, error)
}

// RunRepository records pipeline invocations and their outcomes.
type RunRepository interface {
	CreateRun(ctx context.Context, pipelineName string, run domain.RunRecord) error
	GetRun(ctx context.Context, pipelineName, runID string) (domain.RunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.RunRecord, error)
	UpdateRunStatus(ctx context.Context, pipelineName, runID, status, failedStage string, endedAt *time.Time) error
}
