package engine

import (
	"time"

	"github.com/louisbranch/prepared.space/internal/services/lab/oracle"
)

// State is the lifecycle position of a run.
type State int

const (
	// StateInitializing waits for the first scenario.
	StateInitializing State = iota
	// StateAwaitingResponse has a live step deadline.
	StateAwaitingResponse
	// StateEvaluating waits on the evaluator and, when steps remain, the next scenario.
	StateEvaluating
	// StateFinished is terminal for a completed run.
	StateFinished
	// StateFailed is terminal for a run curtailed by an oracle failure.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateEvaluating:
		return "evaluating"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed
}

// Step is one scenario cycle. Feedback and Score are only meaningful when
// Evaluated is set, and a step is never evaluated before it is Responded,
// except the synthetic failed first step which is neither.
type Step struct {
	Scenario oracle.Scenario

	Response    string
	Responded   bool
	TimedOut    bool
	RespondedAt time.Time

	Feedback  string
	Score     int
	Evaluated bool

	// Hint is the granted hint text, empty when none was requested.
	Hint string
	// Failed marks a step that carries an oracle failure message.
	Failed bool
}

// Snapshot is a read-only projection of a run for narration and UI.
type Snapshot struct {
	RunID string
	// Seq increases with every mutation.
	Seq              uint64
	State            State
	Steps            []Step
	CurrentIndex     int
	Finished         bool
	Failed           bool
	AwaitingResponse bool
	Remaining        time.Duration
	HintAvailable    bool
	HintPending      bool
	Draft            string
}

// Current returns the step at CurrentIndex.
func (s Snapshot) Current() (Step, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Steps) {
		return Step{}, false
	}
	return s.Steps[s.CurrentIndex], true
}

// RunResult is produced once a run is terminal and handed to the caller by
// value.
type RunResult struct {
	RunID    string
	ModuleID string
	// Score is the aggregate percentage, 0-100.
	Score int
	Steps []Step
	// Curtailed is set when an oracle failure ended the run early.
	Curtailed   bool
	Failure     string
	StartedAt   time.Time
	CompletedAt time.Time
}

func cloneSteps(steps []Step) []Step {
	if len(steps) == 0 {
		return []Step{}
	}
	out := make([]Step, len(steps))
	for i, step := range steps {
		out[i] = step
		if step.Scenario.Choices != nil {
			out[i].Scenario.Choices = append([]string(nil), step.Scenario.Choices...)
		}
	}
	return out
}
