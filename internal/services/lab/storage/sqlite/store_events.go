package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/prepared.space/internal/services/lab/storage"
)

// PutRunEvent appends one progress event. Seq must be unique per run.
func (s *Store) PutRunEvent(ctx context.Context, event storage.RunEventRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	runID := strings.TrimSpace(event.RunID)
	kind := strings.TrimSpace(event.Kind)
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	if kind == "" {
		return fmt.Errorf("event kind is required")
	}
	createdAt := event.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO run_events (run_id, seq, kind, step_index, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID,
		int64(event.Seq),
		kind,
		event.StepIndex,
		event.Detail,
		toMillis(createdAt),
	)
	if err != nil {
		if isPrimaryKeyViolation(err, "run_events") {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("put run event: %w", err)
	}
	return nil
}

// ListRunEvents returns a run's events in sequence order.
func (s *Store) ListRunEvents(ctx context.Context, runID string) ([]storage.RunEventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT run_id, seq, kind, step_index, detail, created_at
		   FROM run_events
		  WHERE run_id = ?
		  ORDER BY seq ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close()

	events := make([]storage.RunEventRecord, 0)
	for rows.Next() {
		var (
			event     storage.RunEventRecord
			seq       int64
			createdAt int64
		)
		if err := rows.Scan(&event.RunID, &seq, &event.Kind, &event.StepIndex, &event.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("list run events: %w", err)
		}
		event.Seq = uint64(seq)
		event.CreatedAt = fromMillis(createdAt)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	return events, nil
}

var _ storage.EventStore = (*Store)(nil)
