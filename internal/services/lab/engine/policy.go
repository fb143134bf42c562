package engine

import (
	"errors"
	"time"

	"github.com/louisbranch/prepared.space/internal/platform/timeouts"
	"github.com/louisbranch/prepared.space/internal/services/lab/oracle"
)

var (
	// ErrInvalidMaxSteps indicates a run must allow at least one step.
	ErrInvalidMaxSteps = errors.New("max steps must be at least 1")
	// ErrInvalidLeadingChoiceSteps indicates the multiple-choice prefix is out of range.
	ErrInvalidLeadingChoiceSteps = errors.New("leading choice steps must be between 0 and max steps")
	// ErrInvalidStepDuration indicates the response deadline is not positive.
	ErrInvalidStepDuration = errors.New("step duration must be positive")
)

// Policy fixes the shape of a run.
type Policy struct {
	// MaxSteps bounds the number of scenarios in one run.
	MaxSteps int
	// LeadingChoiceSteps is how many leading steps are multiple choice; the
	// rest are short answer.
	LeadingChoiceSteps int
	// StepDuration is the response deadline armed for every step.
	StepDuration time.Duration
}

// DefaultPolicy returns the reference policy: five steps, two leading
// multiple-choice steps, ninety seconds each.
func DefaultPolicy() Policy {
	return Policy{
		MaxSteps:           5,
		LeadingChoiceSteps: 2,
		StepDuration:       timeouts.StepResponse,
	}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.MaxSteps < 1 {
		return ErrInvalidMaxSteps
	}
	if p.LeadingChoiceSteps < 0 || p.LeadingChoiceSteps > p.MaxSteps {
		return ErrInvalidLeadingChoiceSteps
	}
	if p.StepDuration <= 0 {
		return ErrInvalidStepDuration
	}
	return nil
}

// StepTypeAt returns the step type enforced at index. It depends on position
// only.
func (p Policy) StepTypeAt(index int) oracle.StepType {
	if index < p.LeadingChoiceSteps {
		return oracle.StepTypeMultipleChoice
	}
	return oracle.StepTypeShortAnswer
}
