// Package storage defines persistence contracts for finished drill runs and
// their progress events.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested run record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a run result or event was already stored.
	ErrAlreadyExists = errors.New("record already exists")
)

// StepRecord stores one scenario cycle of a finished run.
type StepRecord struct {
	StepType string   `json:"step_type"`
	Scenario string   `json:"scenario"`
	Choices  []string `json:"choices,omitempty"`
	Response string   `json:"response,omitempty"`
	TimedOut bool     `json:"timed_out,omitempty"`
	Feedback string   `json:"feedback,omitempty"`
	Score    int      `json:"score"`
	Hint     string   `json:"hint,omitempty"`
	Failed   bool     `json:"failed,omitempty"`
}

// RunResultRecord stores the outcome of one finished run.
type RunResultRecord struct {
	RunID       string
	ModuleID    string
	Score       int
	Curtailed   bool
	Failure     string
	Steps       []StepRecord
	StartedAt   time.Time
	CompletedAt time.Time
}

// RunResultPage stores one page of run results.
type RunResultPage struct {
	Results       []RunResultRecord
	NextPageToken string
}

// RunEventRecord stores one observed progress change of a run.
type RunEventRecord struct {
	RunID     string
	Seq       uint64
	Kind      string
	StepIndex int
	Detail    string
	CreatedAt time.Time
}

// ResultStore persists finished run results.
type ResultStore interface {
	PutRunResult(ctx context.Context, result RunResultRecord) error
	GetRunResult(ctx context.Context, runID string) (RunResultRecord, error)
	// ListRunResultsByModule returns results newest first.
	ListRunResultsByModule(ctx context.Context, moduleID string, pageSize int, pageToken string) (RunResultPage, error)
}

// EventStore persists run progress events.
type EventStore interface {
	PutRunEvent(ctx context.Context, event RunEventRecord) error
	ListRunEvents(ctx context.Context, runID string) ([]RunEventRecord, error)
}
