package drill

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/prepared.space/internal/platform/errors"
	"github.com/louisbranch/prepared.space/internal/services/lab/engine"
	"github.com/louisbranch/prepared.space/internal/services/lab/oracle"
	"github.com/louisbranch/prepared.space/internal/services/lab/storage"
	"github.com/louisbranch/prepared.space/internal/services/lab/storage/sqlite"
)

type scriptedOracle struct {
	mu       sync.Mutex
	calls    int
	scoreFor func(response string) int
	failEval bool
}

func (o *scriptedOracle) RequestScenario(_ context.Context, req oracle.ScenarioRequest) (oracle.Scenario, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	return oracle.Scenario{
		Text:     fmt.Sprintf("scenario %d", len(req.PriorScenarios)+1),
		Choices:  []string{"shelter", "evacuate"},
		StepType: req.StepType,
	}, nil
}

func (o *scriptedOracle) EvaluateResponse(_ context.Context, req oracle.EvaluationRequest) (oracle.Evaluation, error) {
	if o.failEval {
		return oracle.Evaluation{}, errors.New("evaluator offline")
	}
	score := 5
	if o.scoreFor != nil {
		score = o.scoreFor(req.Response)
	}
	return oracle.Evaluation{Feedback: "noted", Score: score}, nil
}

func (o *scriptedOracle) RequestHint(context.Context, oracle.HintRequest) (string, error) {
	return "look for high ground", nil
}

type sequenceIDs struct {
	mu   sync.Mutex
	next int
}

func (g *sequenceIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("run-%d", g.next), nil
}

func newTestService(t *testing.T, fake *scriptedOracle, policy engine.Policy) (*Service, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "lab.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ids := &sequenceIDs{}
	service, err := NewService(Config{
		Oracles:     oracle.SetFrom(fake),
		Policy:      policy,
		Results:     store,
		Events:      store,
		Logger:      log.New(&bytes.Buffer{}, "", 0),
		IDGenerator: ids.NewID,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(service.Close)
	return service, store
}

func shortPolicy() engine.Policy {
	return engine.Policy{MaxSteps: 2, LeadingChoiceSteps: 1, StepDuration: time.Hour}
}

func playThrough(t *testing.T, run *engine.Engine) {
	t.Helper()
	run.Wait()
	for !run.IsFinished() {
		snapshot := run.Snapshot()
		step, ok := snapshot.Current()
		if !ok {
			t.Fatalf("expected open step, got state %s", snapshot.State)
		}
		if step.Scenario.StepType == oracle.StepTypeMultipleChoice {
			run.SelectChoice(step.Scenario.Choices[0])
		} else {
			run.SubmitResponse("move to the attic and call for help")
		}
		run.Wait()
	}
}

func TestNewServiceValidates(t *testing.T) {
	if _, err := NewService(Config{}); !errors.Is(err, ErrMissingResultStore) {
		t.Fatalf("expected missing store error, got %v", err)
	}
}

func TestStartRequiresModule(t *testing.T) {
	service, _ := newTestService(t, &scriptedOracle{}, shortPolicy())
	if _, err := service.Start(context.Background(), StartInput{}); !errors.Is(err, engine.ErrEmptyModuleID) {
		t.Fatalf("expected empty module error, got %v", err)
	}
	if service.Active() != 0 {
		t.Fatalf("expected no live runs, got %d", service.Active())
	}
}

func TestRunLifecyclePersistsResult(t *testing.T) {
	fake := &scriptedOracle{scoreFor: func(response string) int {
		if response == "shelter" {
			return 8
		}
		return 6
	}}
	service, store := newTestService(t, fake, shortPolicy())
	ctx := context.Background()

	var observed int
	var mu sync.Mutex
	run, err := service.Start(ctx, StartInput{
		ModuleID:      "floods",
		ModuleContext: "Flood preparedness",
		Observer: func(engine.Snapshot) {
			mu.Lock()
			observed++
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got, err := service.Get(run.RunID()); err != nil || got != run {
		t.Fatalf("expected live run, got %v, %v", got, err)
	}

	if _, err := service.Finalize(ctx, run.RunID()); !apperrors.HasCode(err, apperrors.CodeRunNotFinished) {
		t.Fatalf("expected not finished, got %v", err)
	}

	run.Wait()
	run.RequestHint()
	playThrough(t, run)

	result, err := service.Finalize(ctx, run.RunID())
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if result.Score != 70 {
		t.Fatalf("expected score 70, got %d", result.Score)
	}
	if _, err := service.Get(run.RunID()); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected run to be released, got %v", err)
	}

	record, err := store.GetRunResult(ctx, run.RunID())
	if err != nil {
		t.Fatalf("get persisted result: %v", err)
	}
	if record.ModuleID != "floods" || record.Score != 70 || len(record.Steps) != 2 {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.Steps[0].Hint != "look for high ground" {
		t.Fatalf("expected hint persisted, got %+v", record.Steps[0])
	}

	page, err := service.Results(ctx, "floods", 10, "")
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	if len(page.Results) != 1 {
		t.Fatalf("expected one result, got %d", len(page.Results))
	}

	events, err := service.Events(ctx, run.RunID())
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	kinds := make([]string, 0, len(events))
	for _, event := range events {
		kinds = append(kinds, event.Kind)
	}
	want := []string{
		EventStepOpened, EventHintGranted, EventStepAnswered, EventStepEvaluated,
		EventStepOpened, EventStepAnswered, EventStepEvaluated, EventRunFinished,
	}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}

	mu.Lock()
	defer mu.Unlock()
	if observed == 0 {
		t.Fatal("expected caller observer to see snapshots")
	}
}

func TestFailedRunRecordsFailure(t *testing.T) {
	service, store := newTestService(t, &scriptedOracle{failEval: true}, shortPolicy())
	ctx := context.Background()

	run, err := service.Start(ctx, StartInput{ModuleID: "floods"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	playThrough(t, run)

	result, err := service.Finalize(ctx, run.RunID())
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !result.Curtailed || len(result.Steps) != 1 {
		t.Fatalf("expected curtailed single step, got %+v", result)
	}
	record, err := store.GetRunResult(ctx, run.RunID())
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if !record.Curtailed || record.Failure == "" || !record.Steps[0].Failed {
		t.Fatalf("unexpected record: %+v", record)
	}

	events, err := service.Events(ctx, run.RunID())
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if last := events[len(events)-1]; last.Kind != EventRunFailed {
		t.Fatalf("expected run_failed last, got %+v", last)
	}
}

func TestAbandonDropsRun(t *testing.T) {
	service, store := newTestService(t, &scriptedOracle{}, shortPolicy())
	ctx := context.Background()

	run, err := service.Start(ctx, StartInput{ModuleID: "floods"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	run.Wait()
	if err := service.Abandon(run.RunID()); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if err := service.Abandon(run.RunID()); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected not found on second abandon, got %v", err)
	}
	if run.SelectChoice("shelter") {
		t.Fatal("expected abandoned run to ignore input")
	}
	if _, err := store.GetRunResult(ctx, run.RunID()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected nothing persisted, got %v", err)
	}
	if _, err := service.Result(ctx, run.RunID()); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected not found code, got %v", err)
	}
}

func TestConcurrentRunsAreIndependent(t *testing.T) {
	service, _ := newTestService(t, &scriptedOracle{}, shortPolicy())
	ctx := context.Background()

	var wg sync.WaitGroup
	runs := make([]*engine.Engine, 4)
	for i := range runs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run, err := service.Start(ctx, StartInput{ModuleID: "floods"})
			if err != nil {
				t.Errorf("start %d: %v", i, err)
				return
			}
			runs[i] = run
		}(i)
	}
	wg.Wait()
	if service.Active() != 4 {
		t.Fatalf("expected 4 live runs, got %d", service.Active())
	}

	playThrough(t, runs[0])
	if _, err := service.Finalize(ctx, runs[0].RunID()); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	for _, run := range runs[1:] {
		run.Wait()
		if run.IsFinished() || len(run.Steps()) != 1 {
			t.Fatalf("expected other runs untouched, got %s with %d steps", run.State(), len(run.Steps()))
		}
	}

	service.Close()
	if service.Active() != 0 {
		t.Fatalf("expected no live runs after close, got %d", service.Active())
	}
	if _, err := service.Start(ctx, StartInput{ModuleID: "floods"}); !errors.Is(err, ErrServiceClosed) {
		t.Fatalf("expected closed service, got %v", err)
	}
}

func TestStartSurvivesRequestCancellation(t *testing.T) {
	service, _ := newTestService(t, &scriptedOracle{}, shortPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	run, err := service.Start(ctx, StartInput{ModuleID: "floods"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()
	run.Wait()
	if !run.IsAwaitingResponse() {
		t.Fatalf("expected run to keep going after request ctx ends, got %s", run.State())
	}
}

func TestDiffSnapshotsTimeout(t *testing.T) {
	prev := engine.Snapshot{Steps: []engine.Step{{}}}
	cur := engine.Snapshot{Steps: []engine.Step{{Responded: true, TimedOut: true}}}
	events := diffSnapshots(prev, cur)
	if len(events) != 1 || events[0].Kind != EventStepAnswered || events[0].Detail != "timeout" {
		t.Fatalf("unexpected events: %+v", events)
	}
}
