// Package console plays a drill run in an interactive terminal.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/louisbranch/prepared.space/internal/services/lab/drill"
	"github.com/louisbranch/prepared.space/internal/services/lab/engine"
	"github.com/louisbranch/prepared.space/internal/services/lab/oracle"
)

// HintCommand requests a hint for the open step.
const HintCommand = "?"

// ErrInputClosed indicates the input ended before the run finished.
var ErrInputClosed = errors.New("input closed before the drill finished")

// Config configures a Console.
type Config struct {
	In  io.Reader
	Out io.Writer
	// NoColor disables ANSI styling regardless of the terminal.
	NoColor bool
}

// Console renders one run at a time and forwards learner input to it.
type Console struct {
	service *drill.Service
	in      io.Reader
	out     io.Writer
	styles  palette
}

type palette struct {
	heading *color.Color
	choice  *color.Color
	hint    *color.Color
	good    *color.Color
	bad     *color.Color
	muted   *color.Color
}

func newPalette(noColor bool) palette {
	p := palette{
		heading: color.New(color.FgCyan, color.Bold),
		choice:  color.New(color.FgYellow),
		hint:    color.New(color.FgMagenta),
		good:    color.New(color.FgGreen, color.Bold),
		bad:     color.New(color.FgRed, color.Bold),
		muted:   color.New(color.Faint),
	}
	if noColor {
		for _, c := range []*color.Color{p.heading, p.choice, p.hint, p.good, p.bad, p.muted} {
			c.DisableColor()
		}
	}
	return p
}

// New builds a Console over service.
func New(service *drill.Service, cfg Config) (*Console, error) {
	if service == nil {
		return nil, errors.New("drill service is required")
	}
	if cfg.In == nil || cfg.Out == nil {
		return nil, errors.New("console input and output are required")
	}
	return &Console{
		service: service,
		in:      cfg.In,
		out:     cfg.Out,
		styles:  newPalette(cfg.NoColor),
	}, nil
}

// Play runs one drill for the module to completion and returns its
// persisted result. When ctx ends or input closes first the run is
// abandoned.
func (c *Console) Play(ctx context.Context, moduleID, moduleContext string) (engine.RunResult, error) {
	updates := newLatest()
	run, err := c.service.Start(ctx, drill.StartInput{
		ModuleID:      moduleID,
		ModuleContext: moduleContext,
		Observer:      updates.push,
	})
	if err != nil {
		return engine.RunResult{}, fmt.Errorf("start drill: %w", err)
	}

	v := &view{styles: c.styles, out: c.out, maxSteps: run.Policy().MaxSteps}
	c.styles.heading.Fprintf(c.out, "Drill: %s\n", moduleID)
	c.styles.muted.Fprintf(c.out, "Type a number to choose, %s for a hint, or your answer.\n", HintCommand)

	run.Wait()
	v.render(run.Snapshot())

	done := make(chan struct{})
	defer close(done)
	lines := readLines(c.in, done)
	for !run.IsFinished() {
		select {
		case <-ctx.Done():
			_ = c.service.Abandon(run.RunID())
			return engine.RunResult{}, ctx.Err()
		case <-updates.ready:
			v.render(updates.take())
		case line, ok := <-lines:
			if !ok {
				_ = c.service.Abandon(run.RunID())
				return engine.RunResult{}, ErrInputClosed
			}
			run.Wait()
			v.render(run.Snapshot())
			c.handle(run, line)
			run.Wait()
			v.render(run.Snapshot())
		}
	}
	v.render(run.Snapshot())

	result, err := c.service.Finalize(ctx, run.RunID())
	if err != nil {
		return engine.RunResult{}, fmt.Errorf("finalize drill: %w", err)
	}
	c.printResult(result)
	return result, nil
}

func (c *Console) handle(run *engine.Engine, line string) {
	input := strings.TrimSpace(line)
	snapshot := run.Snapshot()
	step, ok := snapshot.Current()
	if !snapshot.AwaitingResponse || !ok {
		c.styles.muted.Fprintln(c.out, "Please wait for the next scenario.")
		return
	}
	if input == HintCommand {
		if !run.RequestHint() {
			c.styles.muted.Fprintln(c.out, "No hint is available for this step.")
		}
		return
	}

	if step.Scenario.StepType == oracle.StepTypeMultipleChoice {
		n, err := strconv.Atoi(input)
		if err != nil {
			run.SetDraft(input)
			c.styles.muted.Fprintln(c.out, "Noted. Pick one of the numbered choices to answer.")
			return
		}
		if n < 1 || n > len(step.Scenario.Choices) {
			c.styles.muted.Fprintf(c.out, "Pick a number from 1 to %d.\n", len(step.Scenario.Choices))
			return
		}
		run.SelectChoice(step.Scenario.Choices[n-1])
		return
	}

	if !run.SubmitResponse(input) {
		c.styles.muted.Fprintln(c.out, "Type an answer before pressing enter.")
	}
}

func (c *Console) printResult(result engine.RunResult) {
	fmt.Fprintln(c.out)
	if result.Curtailed {
		c.styles.bad.Fprintf(c.out, "Drill ended early: %s\n", result.Failure)
	}
	style := c.styles.good
	if result.Score < 50 {
		style = c.styles.bad
	}
	style.Fprintf(c.out, "Final score: %d%%\n", result.Score)
}

// view prints the parts of each snapshot not yet shown.
type view struct {
	styles   palette
	out      io.Writer
	maxSteps int
	seq      uint64
	shown    []engine.Step
}

func (v *view) render(snapshot engine.Snapshot) {
	if snapshot.Seq <= v.seq && v.shown != nil {
		return
	}
	v.seq = snapshot.Seq
	for i, step := range snapshot.Steps {
		var prev engine.Step
		seen := i < len(v.shown)
		if seen {
			prev = v.shown[i]
		} else {
			v.renderStep(i, step, snapshot.Remaining)
		}
		if step.Hint != "" && (!seen || prev.Hint == "") {
			v.styles.hint.Fprintf(v.out, "Hint: %s\n", step.Hint)
		}
		if step.TimedOut && (!seen || !prev.TimedOut) {
			v.styles.bad.Fprintln(v.out, "Time ran out.")
		}
		if step.Evaluated && (!seen || !prev.Evaluated) {
			v.renderFeedback(step)
		}
	}
	v.shown = snapshot.Steps
}

func (v *view) renderStep(index int, step engine.Step, remaining time.Duration) {
	fmt.Fprintln(v.out)
	if step.Failed && !step.Responded {
		v.styles.bad.Fprintf(v.out, "Service problem: %s\n", step.Scenario.Text)
		return
	}
	v.styles.heading.Fprintf(v.out, "Step %d of %d", index+1, v.maxSteps)
	v.styles.muted.Fprintf(v.out, " (%s left)\n", remaining.Round(time.Second))
	fmt.Fprintln(v.out, step.Scenario.Text)
	for i, choice := range step.Scenario.Choices {
		v.styles.choice.Fprintf(v.out, "  %d) %s\n", i+1, choice)
	}
}

func (v *view) renderFeedback(step engine.Step) {
	if step.Failed {
		v.styles.bad.Fprintf(v.out, "Service problem: %s\n", step.Feedback)
		return
	}
	style := v.styles.good
	if step.Score < oracle.MaxScore/2 {
		style = v.styles.bad
	}
	style.Fprintf(v.out, "Score %d/%d. ", step.Score, oracle.MaxScore)
	fmt.Fprintln(v.out, step.Feedback)
}

// latest keeps only the newest snapshot for the render loop.
type latest struct {
	mu       sync.Mutex
	snapshot engine.Snapshot
	ready    chan struct{}
}

func newLatest() *latest {
	return &latest{ready: make(chan struct{}, 1)}
}

func (l *latest) push(snapshot engine.Snapshot) {
	l.mu.Lock()
	l.snapshot = snapshot
	l.mu.Unlock()
	select {
	case l.ready <- struct{}{}:
	default:
	}
}

func (l *latest) take() engine.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot
}

func readLines(r io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()
	return lines
}
