package oracle

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestParseStepType(t *testing.T) {
	tests := []struct {
		input string
		want  StepType
		ok    bool
	}{
		{input: "multiple_choice", want: StepTypeMultipleChoice, ok: true},
		{input: "Multiple-Choice", want: StepTypeMultipleChoice, ok: true},
		{input: "MCQ", want: StepTypeMultipleChoice, ok: true},
		{input: "short answer", want: StepTypeShortAnswer, ok: true},
		{input: "text", want: StepTypeShortAnswer, ok: true},
		{input: "essay", ok: false},
		{input: "", ok: false},
	}
	for _, tt := range tests {
		got, ok := ParseStepType(tt.input)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("ParseStepType(%q) = %q, %v; expected %q, %v", tt.input, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSetValidate(t *testing.T) {
	scenarios := ScenarioFunc(func(context.Context, ScenarioRequest) (Scenario, error) { return Scenario{}, nil })
	evaluator := EvaluatorFunc(func(context.Context, EvaluationRequest) (Evaluation, error) { return Evaluation{}, nil })
	hints := HintFunc(func(context.Context, HintRequest) (string, error) { return "", nil })

	if err := (Set{}).Validate(); !errors.Is(err, ErrMissingScenarioOracle) {
		t.Fatalf("expected missing scenario oracle, got %v", err)
	}
	if err := (Set{Scenarios: scenarios}).Validate(); !errors.Is(err, ErrMissingEvaluatorOracle) {
		t.Fatalf("expected missing evaluator oracle, got %v", err)
	}
	if err := (Set{Scenarios: scenarios, Evaluator: evaluator}).Validate(); !errors.Is(err, ErrMissingHintOracle) {
		t.Fatalf("expected missing hint oracle, got %v", err)
	}
	if err := (Set{Scenarios: scenarios, Evaluator: evaluator, Hints: hints}).Validate(); err != nil {
		t.Fatalf("expected valid set, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	if Classify(nil) != nil {
		t.Fatal("expected nil to stay nil")
	}
	invalid := InvalidResponse("missing text", nil)
	if got := Classify(invalid); got != invalid {
		t.Fatalf("expected invalid response to pass through, got %v", got)
	}
	if !IsUnavailable(Classify(fmt.Errorf("call: %w", context.DeadlineExceeded))) {
		t.Fatal("expected deadline to classify as unavailable")
	}
	if !IsUnavailable(Classify(errors.New("connection reset"))) {
		t.Fatal("expected plain error to classify as unavailable")
	}
	if IsInvalidResponse(Classify(errors.New("connection reset"))) {
		t.Fatal("expected plain error not to be invalid response")
	}
}

func TestWithTracingRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	set := WithTracing(Set{
		Scenarios: ScenarioFunc(func(context.Context, ScenarioRequest) (Scenario, error) {
			return Scenario{Text: "flood", StepType: StepTypeShortAnswer}, nil
		}),
		Evaluator: EvaluatorFunc(func(context.Context, EvaluationRequest) (Evaluation, error) {
			return Evaluation{}, Unavailable("provider down", nil)
		}),
		Hints: HintFunc(func(context.Context, HintRequest) (string, error) {
			return "look up", nil
		}),
	}, provider)

	ctx := context.Background()
	if _, err := set.Scenarios.RequestScenario(ctx, ScenarioRequest{StepType: StepTypeShortAnswer}); err != nil {
		t.Fatalf("request scenario: %v", err)
	}
	if _, err := set.Evaluator.EvaluateResponse(ctx, EvaluationRequest{Response: TimeoutResponse}); err == nil {
		t.Fatal("expected evaluator error to propagate")
	}
	if _, err := set.Hints.RequestHint(ctx, HintRequest{}); err != nil {
		t.Fatalf("request hint: %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	names := []string{"oracle.RequestScenario", "oracle.EvaluateResponse", "oracle.RequestHint"}
	for i, span := range spans {
		if span.Name() != names[i] {
			t.Fatalf("span %d: expected %s, got %s", i, names[i], span.Name())
		}
	}
	if len(spans[1].Events()) == 0 {
		t.Fatal("expected evaluator span to record the error")
	}
}
