package domain

import (
	"errors"
	"strings"
	"time"
)

// RunRecord identifies one pipeline invocation.
type RunRecord struct {
	RunID       string
	Timestamp   time.Time
	CodeVersion string
	Status      string
	StartedAt   time.Time
	EndedAt     *time.Time
	FailedStage string
}

func (r RunRecord) Validate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return errors.New("run id is required")
	}
	if r.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if strings.TrimSpace(r.CodeVersion) == "" {
		return errors.New("code version is required")
	}
	if strings.TrimSpace(r.Status) == "" {
		return errors.New("status is required")
	}
	return nil
}

// RunState is the sequencer's run-level state.
type RunState string

const (
	RunStatePending   RunState = "pending"
	RunStateRunning   RunState = "running"
	RunStateFailed    RunState = "failed"
	RunStateCompleted RunState = "completed"
)

// StageState is a single stage's terminal or in-flight state.
type StageState string

const (
	StageStatePending   StageState = "pending"
	StageStateRunning   StageState = "running"
	StageStateSucceeded StageState = "succeeded"
	StageStateFailed    StageState = "failed"
	StageStateSkipped   StageState = "skipped"
)

func NormalizeRunState(raw string) RunState {
	switch RunState(strings.ToLower(strings.TrimSpace(raw))) {
	case RunStatePending, RunStateRunning, RunStateFailed, RunStateCompleted:
		return RunState(strings.ToLower(strings.TrimSpace(raw)))
	default:
		return ""
	}
}
