package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/louisbranch/prepared.space/internal/services/lab/storage"
)

// PutRunResult inserts one finished run. Results are immutable once stored.
func (s *Store) PutRunResult(ctx context.Context, result storage.RunResultRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	runID := strings.TrimSpace(result.RunID)
	moduleID := strings.TrimSpace(result.ModuleID)
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	if moduleID == "" {
		return fmt.Errorf("module id is required")
	}
	if result.Score < 0 || result.Score > 100 {
		return fmt.Errorf("score must be between 0 and 100")
	}
	completedAt := result.CompletedAt.UTC()
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}
	startedAt := result.StartedAt.UTC()
	if startedAt.IsZero() {
		startedAt = completedAt
	}
	steps := result.Steps
	if steps == nil {
		steps = []storage.StepRecord{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	curtailed := 0
	if result.Curtailed {
		curtailed = 1
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO run_results (
		   run_id,
		   module_id,
		   score,
		   curtailed,
		   failure,
		   steps_json,
		   started_at,
		   completed_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		moduleID,
		result.Score,
		curtailed,
		strings.TrimSpace(result.Failure),
		string(stepsJSON),
		toMillis(startedAt),
		toMillis(completedAt),
	)
	if err != nil {
		if isPrimaryKeyViolation(err, "run_results") {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("put run result: %w", err)
	}
	return nil
}

// GetRunResult returns one run result by run ID.
func (s *Store) GetRunResult(ctx context.Context, runID string) (storage.RunResultRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.RunResultRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.RunResultRecord{}, fmt.Errorf("storage is not configured")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return storage.RunResultRecord{}, fmt.Errorf("run id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT run_id, module_id, score, curtailed, failure, steps_json, started_at, completed_at
		   FROM run_results
		  WHERE run_id = ?`,
		runID,
	)
	result, err := scanRunResult(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.RunResultRecord{}, storage.ErrNotFound
		}
		return storage.RunResultRecord{}, fmt.Errorf("get run result: %w", err)
	}
	return result, nil
}

// ListRunResultsByModule returns one page of a module's results, newest first.
func (s *Store) ListRunResultsByModule(ctx context.Context, moduleID string, pageSize int, pageToken string) (storage.RunResultPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.RunResultPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.RunResultPage{}, fmt.Errorf("storage is not configured")
	}
	moduleID = strings.TrimSpace(moduleID)
	if moduleID == "" {
		return storage.RunResultPage{}, fmt.Errorf("module id is required")
	}
	if pageSize <= 0 {
		return storage.RunResultPage{}, fmt.Errorf("page size must be greater than zero")
	}

	var (
		rows *sql.Rows
		err  error
	)
	pageToken = strings.TrimSpace(pageToken)
	if pageToken == "" {
		rows, err = s.sqlDB.QueryContext(
			ctx,
			`SELECT run_id, module_id, score, curtailed, failure, steps_json, started_at, completed_at
			   FROM run_results
			  WHERE module_id = ?
			  ORDER BY completed_at DESC, run_id DESC
			  LIMIT ?`,
			moduleID,
			pageSize+1,
		)
	} else {
		completedAt, runID, parseErr := parsePageToken(pageToken)
		if parseErr != nil {
			return storage.RunResultPage{}, parseErr
		}
		rows, err = s.sqlDB.QueryContext(
			ctx,
			`SELECT run_id, module_id, score, curtailed, failure, steps_json, started_at, completed_at
			   FROM run_results
			  WHERE module_id = ?
			    AND (completed_at < ? OR (completed_at = ? AND run_id < ?))
			  ORDER BY completed_at DESC, run_id DESC
			  LIMIT ?`,
			moduleID,
			completedAt,
			completedAt,
			runID,
			pageSize+1,
		)
	}
	if err != nil {
		return storage.RunResultPage{}, fmt.Errorf("list run results: %w", err)
	}
	defer rows.Close()

	page := storage.RunResultPage{
		Results: make([]storage.RunResultRecord, 0, pageSize),
	}
	for rows.Next() {
		result, err := scanRunResult(rows)
		if err != nil {
			return storage.RunResultPage{}, fmt.Errorf("list run results: %w", err)
		}
		page.Results = append(page.Results, result)
	}
	if err := rows.Err(); err != nil {
		return storage.RunResultPage{}, fmt.Errorf("list run results: %w", err)
	}
	if len(page.Results) > pageSize {
		last := page.Results[pageSize-1]
		page.NextPageToken = pageTokenFor(last)
		page.Results = page.Results[:pageSize]
	}
	return page, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRunResult(row rowScanner) (storage.RunResultRecord, error) {
	var (
		result      storage.RunResultRecord
		curtailed   int
		stepsJSON   string
		startedAt   int64
		completedAt int64
	)
	if err := row.Scan(
		&result.RunID,
		&result.ModuleID,
		&result.Score,
		&curtailed,
		&result.Failure,
		&stepsJSON,
		&startedAt,
		&completedAt,
	); err != nil {
		return storage.RunResultRecord{}, err
	}
	if err := json.Unmarshal([]byte(stepsJSON), &result.Steps); err != nil {
		return storage.RunResultRecord{}, fmt.Errorf("decode steps for %s: %w", result.RunID, err)
	}
	result.Curtailed = curtailed != 0
	result.StartedAt = fromMillis(startedAt)
	result.CompletedAt = fromMillis(completedAt)
	return result, nil
}

func pageTokenFor(result storage.RunResultRecord) string {
	return strconv.FormatInt(toMillis(result.CompletedAt), 10) + ":" + result.RunID
}

func parsePageToken(token string) (int64, string, error) {
	millis, runID, ok := strings.Cut(token, ":")
	if !ok || runID == "" {
		return 0, "", fmt.Errorf("invalid page token")
	}
	completedAt, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid page token: %w", err)
	}
	return completedAt, runID, nil
}

var _ storage.ResultStore = (*Store)(nil)
