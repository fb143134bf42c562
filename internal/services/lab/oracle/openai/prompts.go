package openai

import (
	"fmt"
	"strings"

	"github.com/louisbranch/prepared.space/internal/services/lab/oracle"
)

func moduleLine(moduleContext string) string {
	moduleContext = strings.TrimSpace(moduleContext)
	if moduleContext == "" {
		return "The learner is practising general emergency preparedness."
	}
	return "The learner just studied this preparedness module:\n" + moduleContext
}

func scenarioPrompt(req oracle.ScenarioRequest) string {
	var b strings.Builder
	b.WriteString("You write short, realistic emergency drill scenarios.\n")
	b.WriteString(moduleLine(req.ModuleContext))
	b.WriteString("\n\n")
	switch req.StepType {
	case oracle.StepTypeMultipleChoice:
		b.WriteString("Write one scenario that ends with a decision, and offer between 2 and 4 distinct choices. Exactly one choice should be the safest action.\n")
	default:
		b.WriteString("Write one scenario that asks the learner to describe, in their own words, what they would do. Do not offer choices.\n")
	}
	if len(req.PriorScenarios) > 0 {
		b.WriteString("\nDo not repeat these earlier scenarios:\n")
		for i, prior := range req.PriorScenarios {
			fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(prior))
		}
	}
	fmt.Fprintf(&b, "\nReply with JSON only: {\"scenario\": string, \"choices\": [string], \"step_type\": %q}\n", req.StepType)
	return b.String()
}

func evaluationPrompt(req oracle.EvaluationRequest) string {
	var b strings.Builder
	b.WriteString("You grade answers to emergency drill scenarios.\n")
	b.WriteString(moduleLine(req.ModuleContext))
	fmt.Fprintf(&b, "\n\nScenario:\n%s\n\nLearner response:\n%s\n", strings.TrimSpace(req.ScenarioText), strings.TrimSpace(req.Response))
	if req.Response == oracle.TimeoutResponse {
		b.WriteString("\nThe learner ran out of time and did not answer.\n")
	}
	fmt.Fprintf(&b, "\nGive one or two sentences of constructive feedback and an integer score from 0 to %d.\n", oracle.MaxScore)
	b.WriteString("Reply with JSON only: {\"feedback\": string, \"score\": integer}\n")
	return b.String()
}

func hintPrompt(req oracle.HintRequest) string {
	var b strings.Builder
	b.WriteString("You coach learners through emergency drill scenarios.\n")
	b.WriteString(moduleLine(req.ModuleContext))
	fmt.Fprintf(&b, "\n\nScenario:\n%s\n", strings.TrimSpace(req.ScenarioText))
	b.WriteString("\nGive one short hint that nudges the learner toward a safe decision without revealing the answer.\n")
	b.WriteString("Reply with JSON only: {\"hint\": string}\n")
	return b.String()
}
