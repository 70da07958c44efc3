package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/surveyline-labs/surveyline-go/internal/domain"
	"github.com/surveyline-labs/surveyline-go/internal/repo"
)

type RunStore struct {
	db DB
}

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

func (s *RunStore) CreateRun(ctx context.Context, pipelineName string, run domain.RunRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	pipelineName = strings.TrimSpace(pipelineName)
	if pipelineName == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	startedAt := normalizeTime(run.StartedAt)
	var endedAt sql.NullTime
	if run.EndedAt != nil {
		endedAt = sql.NullTime{Time: run.EndedAt.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO pipeline_runs (
			run_id,
			pipeline_name,
			run_timestamp,
			code_version,
			status,
			started_at,
			ended_at,
			failed_stage
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		strings.TrimSpace(run.RunID),
		pipelineName,
		run.Timestamp.UTC(),
		strings.TrimSpace(run.CodeVersion),
		strings.TrimSpace(run.Status),
		startedAt,
		endedAt,
		nullIfEmpty(run.FailedStage),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, pipelineName, runID string) (domain.RunRecord, error) {
	if s == nil || s.db == nil {
		return domain.RunRecord{}, fmt.Errorf("run store not initialized")
	}
	pipelineName = strings.TrimSpace(pipelineName)
	runID = strings.TrimSpace(runID)
	if pipelineName == "" {
		return domain.RunRecord{}, fmt.Errorf("pipeline name is required")
	}
	if runID == "" {
		return domain.RunRecord{}, fmt.Errorf("run id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT run_id, run_timestamp, code_version, status, started_at, ended_at, failed_stage
		 FROM pipeline_runs
		 WHERE pipeline_name = $1 AND run_id = $2`,
		pipelineName,
		runID,
	)
	return scanRun(row.Scan)
}

func (s *RunStore) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	if strings.TrimSpace(filter.PipelineName) == "" {
		return nil, fmt.Errorf("pipeline name is required")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)

	args = append(args, strings.TrimSpace(filter.PipelineName))
	clauses = append(clauses, fmt.Sprintf("pipeline_name = $%d", len(args)))
	if strings.TrimSpace(filter.Status) != "" {
		args = append(args, strings.TrimSpace(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT run_id, run_timestamp, code_version, status, started_at, ended_at, failed_stage
		FROM pipeline_runs
		WHERE ` + strings.Join(clauses, " AND ") + `
		ORDER BY started_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.RunRecord, 0)
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (s *RunStore) UpdateRunStatus(ctx context.Context, pipelineName, runID, status, failedStage string, endedAt *time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	pipelineName = strings.TrimSpace(pipelineName)
	runID = strings.TrimSpace(runID)
	status = strings.TrimSpace(status)
	if pipelineName == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	if status == "" {
		return fmt.Errorf("status is required")
	}
	var ended sql.NullTime
	if endedAt != nil {
		ended = sql.NullTime{Time: endedAt.UTC(), Valid: true}
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE pipeline_runs SET status = $1, ended_at = $2, failed_stage = $3
		 WHERE pipeline_name = $4 AND run_id = $5`,
		status,
		ended,
		nullIfEmpty(failedStage),
		pipelineName,
		runID,
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func scanRun(scan func(dest ...any) error) (domain.RunRecord, error) {
	var run domain.RunRecord
	var endedAt sql.NullTime
	var failedStage sql.NullString
	if err := scan(&run.RunID, &run.Timestamp, &run.CodeVersion, &run.Status, &run.StartedAt, &endedAt, &failedStage); err != nil {
		return domain.RunRecord{}, handleNotFound(err)
	}
	if endedAt.Valid {
		ended := endedAt.Time.UTC()
		run.EndedAt = &ended
	}
	if failedStage.Valid {
		run.FailedStage = failedStage.String
	}
	return run, nil
}
