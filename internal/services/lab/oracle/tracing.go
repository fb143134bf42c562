package oracle

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/louisbranch/prepared.space/internal/services/lab/oracle"

// WithTracing wraps every oracle in set with spans from provider. A nil
// provider uses the global one.
func WithTracing(set Set, provider trace.TracerProvider) Set {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	tracer := provider.Tracer(tracerName)
	if set.Scenarios != nil {
		set.Scenarios = tracedScenarios{next: set.Scenarios, tracer: tracer}
	}
	if set.Evaluator != nil {
		set.Evaluator = tracedEvaluator{next: set.Evaluator, tracer: tracer}
	}
	if set.Hints != nil {
		set.Hints = tracedHints{next: set.Hints, tracer: tracer}
	}
	return set
}

type tracedScenarios struct {
	next   ScenarioOracle
	tracer trace.Tracer
}

func (t tracedScenarios) RequestScenario(ctx context.Context, req ScenarioRequest) (Scenario, error) {
	ctx, span := t.tracer.Start(ctx, "oracle.RequestScenario", trace.WithAttributes(
		attribute.String("lab.step_type", string(req.StepType)),
		attribute.Int("lab.prior_scenarios", len(req.PriorScenarios)),
	))
	defer span.End()

	scenario, err := t.next.RequestScenario(ctx, req)
	if err != nil {
		recordError(span, err)
		return Scenario{}, err
	}
	span.SetAttributes(
		attribute.String("lab.declared_step_type", string(scenario.StepType)),
		attribute.Int("lab.choices", len(scenario.Choices)),
	)
	return scenario, nil
}

type tracedEvaluator struct {
	next   EvaluatorOracle
	tracer trace.Tracer
}

func (t tracedEvaluator) EvaluateResponse(ctx context.Context, req EvaluationRequest) (Evaluation, error) {
	ctx, span := t.tracer.Start(ctx, "oracle.EvaluateResponse", trace.WithAttributes(
		attribute.Bool("lab.timed_out", req.Response == TimeoutResponse),
	))
	defer span.End()

	evaluation, err := t.next.EvaluateResponse(ctx, req)
	if err != nil {
		recordError(span, err)
		return Evaluation{}, err
	}
	span.SetAttributes(attribute.Int("lab.score", evaluation.Score))
	return evaluation, nil
}

type tracedHints struct {
	next   HintOracle
	tracer trace.Tracer
}

func (t tracedHints) RequestHint(ctx context.Context, req HintRequest) (string, error) {
	ctx, span := t.tracer.Start(ctx, "oracle.RequestHint")
	defer span.End()

	hint, err := t.next.RequestHint(ctx, req)
	if err != nil {
		recordError(span, err)
		return "", err
	}
	return hint, nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
