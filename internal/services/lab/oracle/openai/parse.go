package openai

import (
	"math"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/louisbranch/prepared.space/internal/services/lab/oracle"
)

// extractJSON strips markdown fences and surrounding prose from model output.
func extractJSON(output string) (string, bool) {
	output = strings.TrimSpace(output)
	if strings.HasPrefix(output, "```") {
		output = strings.TrimPrefix(output, "```")
		if newline := strings.IndexByte(output, '\n'); newline >= 0 {
			output = output[newline+1:]
		}
		output = strings.TrimSuffix(strings.TrimSpace(output), "```")
	}
	start := strings.IndexByte(output, '{')
	end := strings.LastIndexByte(output, '}')
	if start < 0 || end < start {
		return "", false
	}
	candidate := output[start : end+1]
	if !gjson.Valid(candidate) {
		return "", false
	}
	return candidate, true
}

func parseScenario(output string) (oracle.Scenario, error) {
	payload, ok := extractJSON(output)
	if !ok {
		return oracle.Scenario{}, oracle.InvalidResponse("scenario is not json", nil)
	}
	text := gjson.Get(payload, "scenario")
	if !text.Exists() || strings.TrimSpace(text.String()) == "" {
		return oracle.Scenario{}, oracle.InvalidResponse("scenario text is missing", nil)
	}
	scenario := oracle.Scenario{Text: strings.TrimSpace(text.String())}
	for _, choice := range gjson.Get(payload, "choices").Array() {
		if value := strings.TrimSpace(choice.String()); value != "" {
			scenario.Choices = append(scenario.Choices, value)
		}
	}
	if stepType, ok := oracle.ParseStepType(gjson.Get(payload, "step_type").String()); ok {
		scenario.StepType = stepType
	}
	return scenario, nil
}

func parseEvaluation(output string) (oracle.Evaluation, error) {
	payload, ok := extractJSON(output)
	if !ok {
		return oracle.Evaluation{}, oracle.InvalidResponse("evaluation is not json", nil)
	}
	feedback := gjson.Get(payload, "feedback")
	if !feedback.Exists() || strings.TrimSpace(feedback.String()) == "" {
		return oracle.Evaluation{}, oracle.InvalidResponse("evaluation feedback is missing", nil)
	}
	score := gjson.Get(payload, "score")
	if !score.Exists() {
		return oracle.Evaluation{}, oracle.InvalidResponse("evaluation score is missing", nil)
	}
	var value float64
	switch score.Type {
	case gjson.Number:
		value = score.Num
	case gjson.String:
		parsed := gjson.Parse(strings.TrimSpace(score.Str))
		if parsed.Type != gjson.Number {
			return oracle.Evaluation{}, oracle.InvalidResponse("evaluation score is not a number", nil)
		}
		value = parsed.Num
	default:
		return oracle.Evaluation{}, oracle.InvalidResponse("evaluation score is not a number", nil)
	}
	if math.IsNaN(value) {
		return oracle.Evaluation{}, oracle.InvalidResponse("evaluation score is not a number", nil)
	}
	// Bound to the score range before converting to int.
	value = math.Max(0, math.Min(float64(oracle.MaxScore), value))
	return oracle.Evaluation{
		Feedback: strings.TrimSpace(feedback.String()),
		Score:    int(math.Round(value)),
	}, nil
}

// parseHint accepts either the JSON contract or bare prose.
func parseHint(output string) (string, error) {
	if payload, ok := extractJSON(output); ok {
		hint := gjson.Get(payload, "hint")
		if !hint.Exists() {
			return "", oracle.InvalidResponse("hint is missing", nil)
		}
		return strings.TrimSpace(hint.String()), nil
	}
	return strings.TrimSpace(output), nil
}
