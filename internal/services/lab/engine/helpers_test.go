package engine

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/prepared.space/internal/services/lab/oracle"
)

type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &manualTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, timer)
	return timer
}

// Advance moves time forward and fires due timers on the caller's goroutine.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	for _, timer := range c.timers {
		if !timer.stopped && !timer.fired && !timer.at.After(c.now) {
			timer.fired = true
			due = append(due, timer)
		}
	}
	c.mu.Unlock()
	for _, timer := range due {
		timer.fn()
	}
}

func (c *manualClock) timer(i int) *manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[i]
}

func (c *manualClock) timerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type scenarioReply struct {
	scenario oracle.Scenario
	err      error
}

type evaluationReply struct {
	evaluation oracle.Evaluation
	err        error
}

// fakeOracle replays scripted replies in call order.
type fakeOracle struct {
	mu sync.Mutex

	scenarios   []scenarioReply
	evaluations []evaluationReply
	hint        string
	hintErr     error
	// hintDelay, when set, sleeps before RequestHint replies.
	hintDelay time.Duration

	// evaluateGate, when set, blocks EvaluateResponse until it is closed.
	evaluateGate chan struct{}
	// scenarioGate, when set, blocks RequestScenario until it is closed.
	scenarioGate chan struct{}

	scenarioCalls   []oracle.ScenarioRequest
	evaluationCalls []oracle.EvaluationRequest
	hintCalls       int
}

func (f *fakeOracle) RequestScenario(ctx context.Context, req oracle.ScenarioRequest) (oracle.Scenario, error) {
	f.mu.Lock()
	gate := f.scenarioGate
	f.scenarioCalls = append(f.scenarioCalls, req)
	call := len(f.scenarioCalls) - 1
	var reply scenarioReply
	if call < len(f.scenarios) {
		reply = f.scenarios[call]
	} else {
		reply = scenarioReply{scenario: oracle.Scenario{
			Text:     fmt.Sprintf("generated scenario %d", call),
			Choices:  []string{"shelter", "evacuate"},
			StepType: req.StepType,
		}}
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return oracle.Scenario{}, ctx.Err()
		}
	}
	return reply.scenario, reply.err
}

func (f *fakeOracle) EvaluateResponse(ctx context.Context, req oracle.EvaluationRequest) (oracle.Evaluation, error) {
	f.mu.Lock()
	gate := f.evaluateGate
	f.evaluationCalls = append(f.evaluationCalls, req)
	call := len(f.evaluationCalls) - 1
	reply := evaluationReply{evaluation: oracle.Evaluation{Feedback: "noted", Score: 5}}
	if call < len(f.evaluations) {
		reply = f.evaluations[call]
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return oracle.Evaluation{}, ctx.Err()
		}
	}
	return reply.evaluation, reply.err
}

func (f *fakeOracle) RequestHint(_ context.Context, _ oracle.HintRequest) (string, error) {
	f.mu.Lock()
	f.hintCalls++
	delay, hint, err := f.hintDelay, f.hint, f.hintErr
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return hint, err
}

func (f *fakeOracle) evaluationCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.evaluationCalls)
}

func (f *fakeOracle) hintCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hintCalls
}

func (f *fakeOracle) evaluationCall(i int) oracle.EvaluationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.evaluationCalls[i]
}

func (f *fakeOracle) scenarioCall(i int) oracle.ScenarioRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scenarioCalls[i]
}

type testRun struct {
	engine *Engine
	clock  *manualClock
	oracle *fakeOracle
	logs   *bytes.Buffer
}

func newTestRun(t *testing.T, policy Policy, fake *fakeOracle, observer func(Snapshot)) testRun {
	t.Helper()
	clock := newManualClock()
	logs := &bytes.Buffer{}
	engine, err := New(Config{
		RunID:         "run-1",
		ModuleID:      "module-floods",
		ModuleContext: "Flood preparedness",
		Policy:        policy,
		Oracles:       oracle.SetFrom(fake),
		Clock:         clock,
		Logger:        log.New(&lockedWriter{buf: logs}, "", 0),
		Observer:      observer,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return testRun{engine: engine, clock: clock, oracle: fake, logs: logs}
}

func (r testRun) start(t *testing.T) {
	t.Helper()
	if err := r.engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.engine.Wait()
}

type lockedWriter struct {
	mu  sync.Mutex
	buf *bytes.Buffer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func choiceScenario(text string, choices ...string) scenarioReply {
	return scenarioReply{scenario: oracle.Scenario{Text: text, Choices: choices, StepType: oracle.StepTypeMultipleChoice}}
}

func answerScenario(text string) scenarioReply {
	return scenarioReply{scenario: oracle.Scenario{Text: text, StepType: oracle.StepTypeShortAnswer}}
}

func scored(feedback string, score int) evaluationReply {
	return evaluationReply{evaluation: oracle.Evaluation{Feedback: feedback, Score: score}}
}

// answer responds to the open step with whatever its type accepts.
func answer(t *testing.T, e *Engine, text string) {
	t.Helper()
	snapshot := e.Snapshot()
	step, ok := snapshot.Current()
	if !ok || !snapshot.AwaitingResponse {
		t.Fatalf("expected open step, got state %s", snapshot.State)
	}
	var accepted bool
	if step.Scenario.StepType == oracle.StepTypeMultipleChoice {
		accepted = e.SelectChoice(step.Scenario.Choices[0])
	} else {
		accepted = e.SubmitResponse(text)
	}
	if !accepted {
		t.Fatalf("expected response to be accepted on step %d", snapshot.CurrentIndex)
	}
	e.Wait()
}
