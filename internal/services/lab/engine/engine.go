package engine

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
	"github.com/louisbranch/prepared.space/internal/services/lab/oracle"
)

var (
	// ErrEmptyModuleID indicates the run has no originating module.
	ErrEmptyModuleID = errors.New("module id is required")
	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("run already started")
	// ErrClosed indicates the run was abandoned.
	ErrClosed = errors.New("run is closed")
	// ErrNotFinished indicates Finalize was called before the run ended.
	ErrNotFinished = apperrors.New(apperrors.CodeRunNotFinished, "run is not finished")
)

// Config wires an Engine.
type Config struct {
	RunID         string
	ModuleID      string
	ModuleContext string
	Policy        Policy
	Oracles       oracle.Set
	// OracleTimeout bounds each oracle call; zero leaves calls unbounded.
	OracleTimeout time.Duration
	Clock         Clock
	Logger        *log.Logger
	// Observer receives a snapshot after every mutation, in order. It may
	// call engine methods.
	Observer func(Snapshot)
	// IDGenerator supplies RunID when it is empty.
	IDGenerator func() (string, error)
}

// Engine drives one drill run.
type Engine struct {
	runID         string
	moduleID      string
	moduleContext string
	policy        Policy
	oracles       oracle.Set
	oracleTimeout time.Duration
	clock         Clock
	logger        *log.Logger
	observer      func(Snapshot)

	mu        sync.Mutex
	state     State
	started   bool
	closed    bool
	steps     []Step
	draft     string
	failure   error
	timer     *stepTimer
	hints     hintGate
	startedAt time.Time
	endedAt   time.Time
	seq       uint64

	pending    []Snapshot
	delivering bool

	ctx    context.Context
	cancel context.CancelFunc
	// inflight counts running oracle goroutines; idle is signalled on e.mu
	// whenever it drops to zero.
	inflight int
	idle     *sync.Cond
}

// New validates cfg and builds an idle Engine. Call Start to request the
// first scenario.
func New(cfg Config) (*Engine, error) {
	moduleID := strings.TrimSpace(cfg.ModuleID)
	if moduleID == "" {
		return nil, ErrEmptyModuleID
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Oracles.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = id.NewID
	}
	runID := strings.TrimSpace(cfg.RunID)
	if runID == "" {
		generated, err := cfg.IDGenerator()
		if err != nil {
			return nil, fmt.Errorf("generate run id: %w", err)
		}
		runID = generated
	}

	e := &Engine{
		runID:         runID,
		moduleID:      moduleID,
		moduleContext: strings.TrimSpace(cfg.ModuleContext),
		policy:        cfg.Policy,
		oracles:       cfg.Oracles,
		oracleTimeout: cfg.OracleTimeout,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
		observer:      cfg.Observer,
		state:         StateInitializing,
		timer:         newStepTimer(cfg.Clock, cfg.Policy.StepDuration),
		hints:         hintGate{step: -1},
	}
	e.idle = sync.NewCond(&e.mu)
	return e, nil
}

// RunID returns the run identifier.
func (e *Engine) RunID() string {
	return e.runID
}

// ModuleID returns the originating module identifier.
func (e *Engine) ModuleID() string {
	return e.moduleID
}

// Policy returns the run policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Start requests the first scenario. Oracle calls inherit ctx; cancelling it
// or calling Close abandons the run.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.startedAt = e.clock.Now().UTC()
	req := e.scenarioRequestLocked(0)
	e.enqueueLocked()
	e.launchLocked(func(ctx context.Context) {
		e.fetchScenario(ctx, 0, req)
	})
	e.mu.Unlock()

	e.deliver()
	return nil
}

// Close abandons the run. In-flight oracle calls are cancelled and their
// completions, along with any pending deadline, are discarded.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	if e.cancel != nil {
		e.cancel()
	}
	e.timer.cancel()
	e.pending = nil
}

// Wait blocks until no oracle call is in flight. Calls launched later, for
// example by an expiring deadline, are not waited for once Wait returns.
func (e *Engine) Wait() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.inflight > 0 {
		e.idle.Wait()
	}
}

// SubmitResponse accepts typed text for a short-answer step. On a
// multiple-choice step the text only updates the draft. It reports whether
// the text was accepted as the step's response.
func (e *Engine) SubmitResponse(text string) bool {
	e.mu.Lock()
	accepted := false
	if step, ok := e.openStepLocked(); ok {
		switch step.Scenario.StepType {
		case oracle.StepTypeMultipleChoice:
			e.draft = text
			e.enqueueLocked()
		case oracle.StepTypeShortAnswer:
			if trimmed := strings.TrimSpace(text); trimmed != "" {
				accepted = e.acceptLocked(trimmed, false)
			}
		}
	}
	e.mu.Unlock()

	e.deliver()
	return accepted
}

// SelectChoice accepts one of the offered choices on a multiple-choice step.
// It reports whether the choice was accepted.
func (e *Engine) SelectChoice(choice string) bool {
	e.mu.Lock()
	accepted := false
	if step, ok := e.openStepLocked(); ok && step.Scenario.StepType == oracle.StepTypeMultipleChoice {
		choice = strings.TrimSpace(choice)
		for _, offered := range step.Scenario.Choices {
			if offered == choice {
				accepted = e.acceptLocked(offered, false)
				break
			}
		}
	}
	e.mu.Unlock()

	e.deliver()
	return accepted
}

// SetDraft records in-progress typing for the open step. Drafts are never
// submitted implicitly and are discarded when the step is answered.
func (e *Engine) SetDraft(text string) bool {
	e.mu.Lock()
	_, ok := e.openStepLocked()
	if ok && e.draft != text {
		e.draft = text
		e.enqueueLocked()
	}
	e.mu.Unlock()

	e.deliver()
	return ok
}

// RequestHint asks the hint oracle for guidance on the open step. Only the
// first request per step reaches the oracle; it reports whether this call
// was that request.
func (e *Engine) RequestHint() bool {
	e.mu.Lock()
	step, ok := e.openStepLocked()
	index := len(e.steps) - 1
	if !ok || !e.hints.acquire(index, step.Responded) {
		e.mu.Unlock()
		return false
	}
	req := oracle.HintRequest{
		ModuleContext: e.moduleContext,
		ScenarioText:  step.Scenario.Text,
	}
	e.enqueueLocked()
	e.launchLocked(func(ctx context.Context) {
		e.fetchHint(ctx, index, req)
	})
	e.mu.Unlock()

	e.deliver()
	return true
}

// Finalize assembles the RunResult of a terminal run. Steps are deep copies;
// the engine keeps no reference to the result.
func (e *Engine) Finalize() (RunResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.Terminal() {
		return RunResult{}, ErrNotFinished
	}
	steps := cloneSteps(e.steps)
	result := RunResult{
		RunID:       e.runID,
		ModuleID:    e.moduleID,
		Score:       AggregateScore(steps),
		Steps:       steps,
		StartedAt:   e.startedAt,
		CompletedAt: e.endedAt,
	}
	if e.failure != nil {
		result.Curtailed = true
		result.Failure = apperrors.UserMessage(e.failure)
	}
	return result, nil
}

// Steps returns a copy of the ordered steps.
func (e *Engine) Steps() []Step {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneSteps(e.steps)
}

// CurrentIndex returns the index of the newest step, or -1 before the first
// scenario arrives.
func (e *Engine) CurrentIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.steps) - 1
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// IsFinished reports whether the run is terminal.
func (e *Engine) IsFinished() bool {
	return e.State().Terminal()
}

// IsFailed reports whether an oracle failure curtailed the run.
func (e *Engine) IsFailed() bool {
	return e.State() == StateFailed
}

// IsAwaitingResponse reports whether the open step accepts a response.
func (e *Engine) IsAwaitingResponse() bool {
	return e.State() == StateAwaitingResponse
}

// Remaining returns the time left on the step deadline. It is frozen once the
// step is answered.
func (e *Engine) Remaining() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timer.remaining()
}

// Draft returns the scratch text of the open step.
func (e *Engine) Draft() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draft
}

// Snapshot returns the current read-only projection.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) fetchScenario(ctx context.Context, index int, req oracle.ScenarioRequest) {
	callCtx, cancel := e.callContext(ctx)
	scenario, err := e.oracles.Scenarios.RequestScenario(callCtx, req)
	cancel()
	if err == nil {
		scenario, err = e.enforceScenario(index, scenario)
	}

	e.mu.Lock()
	if e.closed || len(e.steps) != index || !e.expectingScenarioLocked(index) {
		e.mu.Unlock()
		return
	}
	if err != nil {
		err = oracle.Classify(err)
		if index == 0 {
			e.steps = append(e.steps, Step{
				Scenario: oracle.Scenario{
					Text:     apperrors.UserMessage(err),
					StepType: e.policy.StepTypeAt(0),
				},
				Failed: true,
			})
		}
		e.finishLocked(index, err)
	} else {
		e.steps = append(e.steps, Step{Scenario: scenario})
		e.state = StateAwaitingResponse
		e.draft = ""
		e.hints.reset(index)
		e.timer.arm(e.expire)
	}
	e.enqueueLocked()
	e.mu.Unlock()

	e.deliver()
}

func (e *Engine) expectingScenarioLocked(index int) bool {
	if index == 0 {
		return e.state == StateInitializing
	}
	return e.state == StateEvaluating
}

func (e *Engine) evaluate(ctx context.Context, index int, req oracle.EvaluationRequest) {
	callCtx, cancel := e.callContext(ctx)
	evaluation, err := e.oracles.Evaluator.EvaluateResponse(callCtx, req)
	cancel()
	if err == nil {
		evaluation = e.enforceEvaluation(index, evaluation)
	}

	e.mu.Lock()
	if e.closed || e.state != StateEvaluating || len(e.steps)-1 != index {
		e.mu.Unlock()
		return
	}
	step := &e.steps[index]
	if err != nil {
		err = oracle.Classify(err)
		step.Feedback = apperrors.UserMessage(err)
		step.Score = 0
		step.Evaluated = true
		step.Failed = true
		e.finishLocked(index, err)
		e.enqueueLocked()
		e.mu.Unlock()
		e.deliver()
		return
	}
	step.Feedback = evaluation.Feedback
	step.Score = evaluation.Score
	step.Evaluated = true

	next := index + 1
	if next >= e.policy.MaxSteps {
		e.finishLocked(index, nil)
		e.enqueueLocked()
		e.mu.Unlock()
		e.deliver()
		return
	}
	nextReq := e.scenarioRequestLocked(next)
	e.enqueueLocked()
	e.mu.Unlock()
	e.deliver()

	e.fetchScenario(ctx, next, nextReq)
}

func (e *Engine) fetchHint(ctx context.Context, index int, req oracle.HintRequest) {
	callCtx, cancel := e.callContext(ctx)
	hint, err := e.oracles.Hints.RequestHint(callCtx, req)
	cancel()
	hint = strings.TrimSpace(hint)
	switch {
	case err != nil:
		err = oracle.Classify(err)
		e.logger.Printf("lab run %s step %d: hint failed: %v", e.runID, index, err)
		hint = "Hint unavailable. " + apperrors.UserMessage(err)
	case hint == "":
		hint = "No hint is available for this scenario."
	}

	e.mu.Lock()
	if e.closed || !e.hints.release(index) || index >= len(e.steps) {
		e.mu.Unlock()
		return
	}
	e.steps[index].Hint = hint
	e.enqueueLocked()
	e.mu.Unlock()

	e.deliver()
}

// expire is the deadline callback for the timer generation it was armed with.
func (e *Engine) expire(generation uint64) {
	e.mu.Lock()
	if e.closed || !e.timer.current(generation) {
		e.mu.Unlock()
		return
	}
	e.acceptLocked(oracle.TimeoutResponse, true)
	e.mu.Unlock()

	e.deliver()
}

// acceptLocked records the response for the open step and starts evaluation.
// A second acceptance for an answered step is a no-op.
func (e *Engine) acceptLocked(response string, timedOut bool) bool {
	if e.closed || e.state != StateAwaitingResponse || len(e.steps) == 0 {
		return false
	}
	index := len(e.steps) - 1
	step := &e.steps[index]
	if step.Responded {
		return false
	}
	step.Response = response
	step.Responded = true
	step.TimedOut = timedOut
	step.RespondedAt = e.clock.Now().UTC()
	e.timer.cancel()
	e.state = StateEvaluating
	e.draft = ""

	req := oracle.EvaluationRequest{
		ModuleContext: e.moduleContext,
		ScenarioText:  step.Scenario.Text,
		Response:      response,
	}
	e.enqueueLocked()
	e.launchLocked(func(ctx context.Context) {
		e.evaluate(ctx, index, req)
	})
	return true
}

func (e *Engine) finishLocked(index int, err error) {
	e.timer.cancel()
	e.endedAt = e.clock.Now().UTC()
	if err == nil {
		e.state = StateFinished
		return
	}
	e.failure = err
	e.state = StateFailed
	e.logger.Printf("lab run %s step %d: run curtailed: %v", e.runID, index, err)
}

func (e *Engine) openStepLocked() (Step, bool) {
	if e.closed || e.state != StateAwaitingResponse || len(e.steps) == 0 {
		return Step{}, false
	}
	step := e.steps[len(e.steps)-1]
	if step.Responded {
		return Step{}, false
	}
	return step, true
}

func (e *Engine) scenarioRequestLocked(index int) oracle.ScenarioRequest {
	prior := make([]string, 0, len(e.steps))
	for _, step := range e.steps {
		prior = append(prior, step.Scenario.Text)
	}
	return oracle.ScenarioRequest{
		ModuleContext:  e.moduleContext,
		StepType:       e.policy.StepTypeAt(index),
		PriorScenarios: prior,
	}
}

// enforceScenario applies the position-based step type to whatever the oracle
// declared. Overrides are corrected silently but logged.
func (e *Engine) enforceScenario(index int, scenario oracle.Scenario) (oracle.Scenario, error) {
	forced := e.policy.StepTypeAt(index)
	text := strings.TrimSpace(scenario.Text)
	if text == "" {
		return oracle.Scenario{}, oracle.InvalidResponse("scenario text is empty", nil)
	}
	if scenario.StepType != forced {
		e.logger.Printf("lab run %s step %d: oracle declared step type %q, enforcing %q", e.runID, index, scenario.StepType, forced)
	}
	choices := normalizeChoices(scenario.Choices)
	switch forced {
	case oracle.StepTypeShortAnswer:
		if len(choices) > 0 {
			e.logger.Printf("lab run %s step %d: discarding %d choices on short-answer step", e.runID, index, len(choices))
		}
		choices = nil
	case oracle.StepTypeMultipleChoice:
		if len(choices) == 0 {
			return oracle.Scenario{}, oracle.InvalidResponse("multiple-choice scenario has no choices", nil)
		}
	}
	return oracle.Scenario{Text: text, Choices: choices, StepType: forced}, nil
}

func (e *Engine) enforceEvaluation(index int, evaluation oracle.Evaluation) oracle.Evaluation {
	if clamped := clampScore(evaluation.Score); clamped != evaluation.Score {
		e.logger.Printf("lab run %s step %d: oracle score %d out of range, clamping to %d", e.runID, index, evaluation.Score, clamped)
		evaluation.Score = clamped
	}
	evaluation.Feedback = strings.TrimSpace(evaluation.Feedback)
	return evaluation
}

func normalizeChoices(choices []string) []string {
	seen := make(map[string]struct{}, len(choices))
	out := make([]string, 0, len(choices))
	for _, choice := range choices {
		choice = strings.TrimSpace(choice)
		if choice == "" {
			continue
		}
		if _, ok := seen[choice]; ok {
			continue
		}
		seen[choice] = struct{}{}
		out = append(out, choice)
	}
	return out
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.oracleTimeout > 0 {
		return context.WithTimeout(ctx, e.oracleTimeout)
	}
	return context.WithCancel(ctx)
}

func (e *Engine) launchLocked(fn func(ctx context.Context)) {
	ctx := e.ctx
	e.inflight++
	go func() {
		defer e.callDone()
		fn(ctx)
	}()
}

func (e *Engine) callDone() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inflight--
	if e.inflight == 0 {
		e.idle.Broadcast()
	}
}

func (e *Engine) snapshotLocked() Snapshot {
	index := len(e.steps) - 1
	answered := index >= 0 && e.steps[index].Responded
	return Snapshot{
		RunID:            e.runID,
		Seq:              e.seq,
		State:            e.state,
		Steps:            cloneSteps(e.steps),
		CurrentIndex:     index,
		Finished:         e.state.Terminal(),
		Failed:           e.state == StateFailed,
		AwaitingResponse: e.state == StateAwaitingResponse,
		Remaining:        e.timer.remaining(),
		HintAvailable:    e.state == StateAwaitingResponse && e.hints.available(index, answered),
		HintPending:      e.hints.step == index && e.hints.inFlight,
		Draft:            e.draft,
	}
}

// enqueueLocked records a mutation and queues a snapshot for the observer.
func (e *Engine) enqueueLocked() {
	e.seq++
	if e.observer == nil || e.closed {
		return
	}
	e.pending = append(e.pending, e.snapshotLocked())
}

// deliver drains queued snapshots to the observer without holding the lock.
// Only one goroutine drains at a time, which keeps delivery in mutation order.
func (e *Engine) deliver() {
	if e.observer == nil {
		return
	}
	e.mu.Lock()
	if e.delivering {
		e.mu.Unlock()
		return
	}
	e.delivering = true
	for len(e.pending) > 0 && !e.closed {
		snapshot := e.pending[0]
		e.pending = e.pending[1:]
		e.mu.Unlock()
		e.observer(snapshot)
		e.mu.Lock()
	}
	e.pending = nil
	e.delivering = false
	e.mu.Unlock()
}
