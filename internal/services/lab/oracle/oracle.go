// Package oracle defines the contracts between the drill engine and the
// external content providers that generate scenarios, judge responses, and
// offer hints.
package oracle

import (
	"context"
	"errors"
	"strings"
)

// StepType identifies how a learner answers a scenario.
type StepType string

const (
	// StepTypeMultipleChoice is answered by selecting one of the offered choices.
	StepTypeMultipleChoice StepType = "multiple_choice"
	// StepTypeShortAnswer is answered with free text.
	StepTypeShortAnswer StepType = "short_answer"
)

// TimeoutResponse is the response recorded when a step deadline expires
// before the learner answers.
const TimeoutResponse = "(time ran out)"

// MaxScore is the highest score an evaluation may award a single step.
const MaxScore = 10

// ParseStepType maps the loose spellings providers use onto a StepType.
func ParseStepType(value string) (StepType, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	switch normalized {
	case "multiple_choice", "multiplechoice", "mcq", "choice":
		return StepTypeMultipleChoice, true
	case "short_answer", "shortanswer", "short", "text", "free_text":
		return StepTypeShortAnswer, true
	default:
		return "", false
	}
}

// ScenarioRequest asks for the scenario at one position of a run.
type ScenarioRequest struct {
	ModuleContext string
	// StepType is the type the engine will enforce for this position.
	StepType StepType
	// PriorScenarios lists earlier scenario texts so providers avoid repeats.
	PriorScenarios []string
}

// Scenario is a provider's answer to a ScenarioRequest. StepType is advisory.
type Scenario struct {
	Text     string
	Choices  []string
	StepType StepType
}

// EvaluationRequest submits one accepted response for judgement.
type EvaluationRequest struct {
	ModuleContext string
	ScenarioText  string
	Response      string
}

// Evaluation is a provider's judgement of a response.
type Evaluation struct {
	Feedback string
	Score    int
}

// HintRequest asks for guidance on the current scenario.
type HintRequest struct {
	ModuleContext string
	ScenarioText  string
}

// ScenarioOracle generates scenarios.
type ScenarioOracle interface {
	RequestScenario(ctx context.Context, req ScenarioRequest) (Scenario, error)
}

// EvaluatorOracle judges responses.
type EvaluatorOracle interface {
	EvaluateResponse(ctx context.Context, req EvaluationRequest) (Evaluation, error)
}

// HintOracle produces a short hint that must not disclose the answer.
type HintOracle interface {
	RequestHint(ctx context.Context, req HintRequest) (string, error)
}

// ScenarioFunc adapts a function to ScenarioOracle.
type ScenarioFunc func(ctx context.Context, req ScenarioRequest) (Scenario, error)

// RequestScenario calls f.
func (f ScenarioFunc) RequestScenario(ctx context.Context, req ScenarioRequest) (Scenario, error) {
	return f(ctx, req)
}

// EvaluatorFunc adapts a function to EvaluatorOracle.
type EvaluatorFunc func(ctx context.Context, req EvaluationRequest) (Evaluation, error)

// EvaluateResponse calls f.
func (f EvaluatorFunc) EvaluateResponse(ctx context.Context, req EvaluationRequest) (Evaluation, error) {
	return f(ctx, req)
}

// HintFunc adapts a function to HintOracle.
type HintFunc func(ctx context.Context, req HintRequest) (string, error)

// RequestHint calls f.
func (f HintFunc) RequestHint(ctx context.Context, req HintRequest) (string, error) {
	return f(ctx, req)
}

// Set bundles the three oracles a run consumes.
type Set struct {
	Scenarios ScenarioOracle
	Evaluator EvaluatorOracle
	Hints     HintOracle
}

var (
	// ErrMissingScenarioOracle indicates the set has no scenario oracle.
	ErrMissingScenarioOracle = errors.New("scenario oracle is required")
	// ErrMissingEvaluatorOracle indicates the set has no evaluator oracle.
	ErrMissingEvaluatorOracle = errors.New("evaluator oracle is required")
	// ErrMissingHintOracle indicates the set has no hint oracle.
	ErrMissingHintOracle = errors.New("hint oracle is required")
)

// Validate reports the first missing oracle.
func (s Set) Validate() error {
	if s.Scenarios == nil {
		return ErrMissingScenarioOracle
	}
	if s.Evaluator == nil {
		return ErrMissingEvaluatorOracle
	}
	if s.Hints == nil {
		return ErrMissingHintOracle
	}
	return nil
}

// Provider is implemented by adapters that serve all three roles.
type Provider interface {
	ScenarioOracle
	EvaluatorOracle
	HintOracle
}

// SetFrom builds a Set served entirely by p.
func SetFrom(p Provider) Set {
	return Set{Scenarios: p, Evaluator: p, Hints: p}
}
