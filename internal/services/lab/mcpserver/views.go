package mcpserver

import (
	"time"

	"github.com/louisbranch/prepared.space/internal/services/lab/engine"
	"github.com/louisbranch/prepared.space/internal/services/lab/storage"
)

// StepView is one step as shown to an MCP client.
type StepView struct {
	Index     int      `json:"index" jsonschema:"zero-based step position"`
	StepType  string   `json:"step_type" jsonschema:"multiple_choice or short_answer"`
	Scenario  string   `json:"scenario" jsonschema:"scenario text"`
	Choices   []string `json:"choices,omitempty" jsonschema:"choices offered on multiple-choice steps"`
	Response  string   `json:"response,omitempty" jsonschema:"accepted response"`
	Responded bool     `json:"responded" jsonschema:"whether a response was accepted"`
	TimedOut  bool     `json:"timed_out,omitempty" jsonschema:"whether the deadline supplied the response"`
	Feedback  string   `json:"feedback,omitempty" jsonschema:"evaluator feedback"`
	Score     int      `json:"score" jsonschema:"step score from 0 to 10"`
	Evaluated bool     `json:"evaluated" jsonschema:"whether feedback and score are final"`
	Hint      string   `json:"hint,omitempty" jsonschema:"granted hint"`
	Failed    bool     `json:"failed,omitempty" jsonschema:"whether the step carries a service failure"`
}

// RunView is the live state of a run.
type RunView struct {
	RunID            string     `json:"run_id" jsonschema:"run identifier"`
	ModuleID         string     `json:"module_id" jsonschema:"originating module identifier"`
	State            string     `json:"state" jsonschema:"initializing, awaiting_response, evaluating, finished, or failed"`
	MaxSteps         int        `json:"max_steps" jsonschema:"number of steps in a complete run"`
	CurrentIndex     int        `json:"current_index" jsonschema:"index of the newest step, -1 before the first"`
	RemainingSeconds int        `json:"remaining_seconds" jsonschema:"seconds left on the step deadline"`
	HintAvailable    bool       `json:"hint_available" jsonschema:"whether a hint may still be requested"`
	HintPending      bool       `json:"hint_pending" jsonschema:"whether a hint request is in flight"`
	Finished         bool       `json:"finished" jsonschema:"whether the run is terminal"`
	Steps            []StepView `json:"steps" jsonschema:"steps in order"`
}

// ResultView is a finished run.
type ResultView struct {
	RunID       string     `json:"run_id" jsonschema:"run identifier"`
	ModuleID    string     `json:"module_id" jsonschema:"originating module identifier"`
	Score       int        `json:"score" jsonschema:"aggregate score from 0 to 100"`
	Curtailed   bool       `json:"curtailed" jsonschema:"whether a service failure ended the run early"`
	Failure     string     `json:"failure,omitempty" jsonschema:"failure message for curtailed runs"`
	StartedAt   string     `json:"started_at" jsonschema:"RFC3339 timestamp when the run started"`
	CompletedAt string     `json:"completed_at" jsonschema:"RFC3339 timestamp when the run ended"`
	Steps       []StepView `json:"steps" jsonschema:"steps in order"`
}

func runView(moduleID string, maxSteps int, snapshot engine.Snapshot) RunView {
	view := RunView{
		RunID:            snapshot.RunID,
		ModuleID:         moduleID,
		State:            snapshot.State.String(),
		MaxSteps:         maxSteps,
		CurrentIndex:     snapshot.CurrentIndex,
		RemainingSeconds: int(snapshot.Remaining.Round(time.Second) / time.Second),
		HintAvailable:    snapshot.HintAvailable,
		HintPending:      snapshot.HintPending,
		Finished:         snapshot.Finished,
		Steps:            make([]StepView, 0, len(snapshot.Steps)),
	}
	for i, step := range snapshot.Steps {
		view.Steps = append(view.Steps, stepView(i, step))
	}
	return view
}

func stepView(index int, step engine.Step) StepView {
	return StepView{
		Index:     index,
		StepType:  string(step.Scenario.StepType),
		Scenario:  step.Scenario.Text,
		Choices:   step.Scenario.Choices,
		Response:  step.Response,
		Responded: step.Responded,
		TimedOut:  step.TimedOut,
		Feedback:  step.Feedback,
		Score:     step.Score,
		Evaluated: step.Evaluated,
		Hint:      step.Hint,
		Failed:    step.Failed,
	}
}

func resultView(record storage.RunResultRecord) ResultView {
	view := ResultView{
		RunID:       record.RunID,
		ModuleID:    record.ModuleID,
		Score:       record.Score,
		Curtailed:   record.Curtailed,
		Failure:     record.Failure,
		StartedAt:   formatTime(record.StartedAt),
		CompletedAt: formatTime(record.CompletedAt),
		Steps:       make([]StepView, 0, len(record.Steps)),
	}
	for i, step := range record.Steps {
		view.Steps = append(view.Steps, StepView{
			Index:     i,
			StepType:  step.StepType,
			Scenario:  step.Scenario,
			Choices:   step.Choices,
			Response:  step.Response,
			Responded: step.Response != "",
			TimedOut:  step.TimedOut,
			Feedback:  step.Feedback,
			Score:     step.Score,
			Evaluated: step.Feedback != "",
			Hint:      step.Hint,
			Failed:    step.Failed,
		})
	}
	return view
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}
