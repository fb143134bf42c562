// Package drill hosts concurrent drill runs, records their progress, and
// persists each result when the run is finalized.
package drill

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	apperrors "github.com/louisbranch/prepared.space/internal/platform/errors"
	"github.com/louisbranch/prepared.space/internal/platform/id"
	"github.com/louisbranch/prepared.space/internal/services/lab/engine"
	"github.com/louisbranch/prepared.space/internal/services/lab/oracle"
	"github.com/louisbranch/prepared.space/internal/services/lab/storage"
)

var (
	// ErrRunNotFound indicates no live run has the requested id.
	ErrRunNotFound = apperrors.New(apperrors.CodeNotFound, "run not found")
	// ErrMissingResultStore indicates the service cannot persist results.
	ErrMissingResultStore = errors.New("result store is required")
	// ErrServiceClosed indicates the service no longer accepts runs.
	ErrServiceClosed = errors.New("drill service is closed")
)

// Config wires a Service.
type Config struct {
	Oracles       oracle.Set
	Policy        engine.Policy
	OracleTimeout time.Duration
	Results       storage.ResultStore
	// Events is optional; progress is not recorded without it.
	Events      storage.EventStore
	Clock       engine.Clock
	Logger      *log.Logger
	IDGenerator func() (string, error)
}

// StartInput describes a new run.
type StartInput struct {
	ModuleID      string
	ModuleContext string
	// Observer, when set, receives every snapshot after it is recorded.
	Observer func(engine.Snapshot)
}

// Service owns the live runs. Each run exclusively owns its engine.
type Service struct {
	cfg Config

	mu     sync.Mutex
	runs   map[string]*engine.Engine
	closed bool
}

// NewService validates cfg and builds an empty Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Results == nil {
		return nil, ErrMissingResultStore
	}
	if err := cfg.Oracles.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = engine.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = id.NewID
	}
	return &Service{cfg: cfg, runs: make(map[string]*engine.Engine)}, nil
}

// Start creates a run and requests its first scenario. The run outlives ctx
// cancellation; call Abandon or Finalize to end it.
func (s *Service) Start(ctx context.Context, in StartInput) (*engine.Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	runID, err := s.cfg.IDGenerator()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	moduleID := strings.TrimSpace(in.ModuleID)

	recorder := newRecorder(runID, s.cfg.Events, s.cfg.Clock, s.cfg.Logger)
	observer := func(snapshot engine.Snapshot) {
		recorder.observe(snapshot)
		if in.Observer != nil {
			in.Observer(snapshot)
		}
	}
	run, err := engine.New(engine.Config{
		RunID:         runID,
		ModuleID:      moduleID,
		ModuleContext: in.ModuleContext,
		Policy:        s.cfg.Policy,
		Oracles:       s.cfg.Oracles,
		OracleTimeout: s.cfg.OracleTimeout,
		Clock:         s.cfg.Clock,
		Logger:        s.cfg.Logger,
		Observer:      observer,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrServiceClosed
	}
	s.runs[runID] = run
	s.mu.Unlock()

	if err := run.Start(context.WithoutCancel(ctx)); err != nil {
		s.drop(runID)
		return nil, err
	}
	s.cfg.Logger.Printf("lab run %s started for module %s", runID, moduleID)
	return run, nil
}

// Get returns the live run with runID.
func (s *Service) Get(runID string) (*engine.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[strings.TrimSpace(runID)]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// Finalize persists the result of a finished run and releases it. A run that
// is still in progress is left untouched.
func (s *Service) Finalize(ctx context.Context, runID string) (engine.RunResult, error) {
	run, err := s.Get(runID)
	if err != nil {
		return engine.RunResult{}, err
	}
	result, err := run.Finalize()
	if err != nil {
		return engine.RunResult{}, err
	}
	if err := s.cfg.Results.PutRunResult(ctx, ToRecord(result)); err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		return engine.RunResult{}, fmt.Errorf("persist run %s: %w", result.RunID, err)
	}
	s.drop(result.RunID)
	run.Close()
	s.cfg.Logger.Printf("lab run %s finalized with score %d", result.RunID, result.Score)
	return result, nil
}

// Abandon closes a run without persisting anything.
func (s *Service) Abandon(runID string) error {
	run, err := s.Get(runID)
	if err != nil {
		return err
	}
	s.drop(run.RunID())
	run.Close()
	s.cfg.Logger.Printf("lab run %s abandoned", run.RunID())
	return nil
}

// Result returns a persisted result.
func (s *Service) Result(ctx context.Context, runID string) (storage.RunResultRecord, error) {
	record, err := s.cfg.Results.GetRunResult(ctx, runID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.RunResultRecord{}, apperrors.Wrap(apperrors.CodeNotFound, "result not found", err)
	}
	return record, err
}

// Results lists persisted results for a module, newest first.
func (s *Service) Results(ctx context.Context, moduleID string, pageSize int, pageToken string) (storage.RunResultPage, error) {
	return s.cfg.Results.ListRunResultsByModule(ctx, moduleID, pageSize, pageToken)
}

// Events lists the recorded progress of a run.
func (s *Service) Events(ctx context.Context, runID string) ([]storage.RunEventRecord, error) {
	if s.cfg.Events == nil {
		return []storage.RunEventRecord{}, nil
	}
	return s.cfg.Events.ListRunEvents(ctx, runID)
}

// Active returns the number of live runs.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// Close abandons every live run and rejects new ones.
func (s *Service) Close() {
	s.mu.Lock()
	runs := s.runs
	s.runs = make(map[string]*engine.Engine)
	s.closed = true
	s.mu.Unlock()

	for _, run := range runs {
		run.Close()
	}
}

func (s *Service) drop(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
}

// ToRecord converts an engine result into its storage form.
func ToRecord(result engine.RunResult) storage.RunResultRecord {
	steps := make([]storage.StepRecord, 0, len(result.Steps))
	for _, step := range result.Steps {
		steps = append(steps, storage.StepRecord{
			StepType: string(step.Scenario.StepType),
			Scenario: step.Scenario.Text,
			Choices:  step.Scenario.Choices,
			Response: step.Response,
			TimedOut: step.TimedOut,
			Feedback: step.Feedback,
			Score:    step.Score,
			Hint:     step.Hint,
			Failed:   step.Failed,
		})
	}
	return storage.RunResultRecord{
		RunID:       result.RunID,
		ModuleID:    result.ModuleID,
		Score:       result.Score,
		Curtailed:   result.Curtailed,
		Failure:     result.Failure,
		Steps:       steps,
		StartedAt:   result.StartedAt,
		CompletedAt: result.CompletedAt,
	}
}
