// Package sequencer runs a fixed ordered list of pipeline stages with
// fail-fast semantics. Stages communicate only through files under the data
// root; the sequencer's job is ordering, input checking, and surfacing the
// first failure.
package sequencer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/surveyline-labs/surveyline-go/internal/domain"
)

// Env is the shared execution environment handed to every stage.
type Env struct {
	DataRoot string
	Run      domain.RunRecord
	Logger   *slog.Logger
}

// Stage is one step of the pipeline. Inputs and outputs are paths relative to
// the data root; inputs must exist before the stage runs.
type Stage interface {
	Name() string
	Inputs() []string
	Outputs() []string
	Run(ctx context.Context, env Env) error
}

// StageError reports the first stage failure. The sequencer halts as soon as
// one occurs; outputs of stages that already completed stay on disk.
type StageError struct {
	Stage string
	Index int
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d (%s) failed: %v", e.Index+1, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageResult is the typed outcome of one stage.
type StageResult struct {
	Name      string
	State     domain.StageState
	StartedAt time.Time
	EndedAt   time.Time
	Outputs   []string
	Err       error
}

type Sequencer struct {
	stages []Stage
	now    func() time.Time
	state  domain.RunState
}

func New(stages ...Stage) (*Sequencer, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}
	seen := make(map[string]struct{}, len(stages))
	for i, stage := range stages {
		if stage == nil {
			return nil, fmt.Errorf("stage %d is nil", i)
		}
		name := stage.Name()
		if name == "" {
			return nil, fmt.Errorf("stage %d has no name", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate stage name %q", name)
		}
		seen[name] = struct{}{}
	}
	return &Sequencer{stages: stages, now: time.Now, state: domain.RunStatePending}, nil
}

// State returns the sequencer's current run-level state.
func (s *Sequencer) State() domain.RunState {
	if s == nil {
		return ""
	}
	return s.state
}

// Run executes every stage in order. It returns a result per stage; stages
// after the first failure are reported as skipped. The returned error is nil
// only when every stage succeeded.
func (s *Sequencer) Run(ctx context.Context, env Env) ([]StageResult, error) {
	if s == nil || len(s.stages) == 0 {
		return nil, fmt.Errorf("sequencer not initialized")
	}
	if env.DataRoot == "" {
		return nil, fmt.Errorf("data root is required")
	}
	logger := env.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
		env.Logger = logger
	}

	s.state = domain.RunStateRunning
	results := make([]StageResult, 0, len(s.stages))
	var failure *StageError

	for i, stage := range s.stages {
		if failure != nil {
			results = append(results, StageResult{Name: stage.Name(), State: domain.StageStateSkipped})
			continue
		}

		result := StageResult{
			Name:      stage.Name(),
			State:     domain.StageStateRunning,
			StartedAt: s.now().UTC(),
		}
		logger.Info("stage starting", "stage", stage.Name(), "index", i+1, "run_id", env.Run.RunID)

		err := ctx.Err()
		if err == nil {
			err = s.checkInputs(env.DataRoot, stage)
		}
		if err == nil {
			err = stage.Run(ctx, env)
		}

		result.EndedAt = s.now().UTC()
		if err != nil {
			result.State = domain.StageStateFailed
			result.Err = err
			failure = &StageError{Stage: stage.Name(), Index: i, Err: err}
			logger.Error("stage failed", "stage", stage.Name(), "index", i+1, "error", err)
		} else {
			result.State = domain.StageStateSucceeded
			result.Outputs = stage.Outputs()
			logger.Info("stage succeeded", "stage", stage.Name(), "index", i+1,
				"duration", result.EndedAt.Sub(result.StartedAt).String())
		}
		results = append(results, result)
	}

	if failure != nil {
		s.state = domain.RunStateFailed
		return results, failure
	}
	s.state = domain.RunStateCompleted
	return results, nil
}

func (s *Sequencer) checkInputs(dataRoot string, stage Stage) error {
	for _, input := range stage.Inputs() {
		path := filepath.Join(dataRoot, input)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("required input %q: %w", input, err)
		}
	}
	return nil
}
