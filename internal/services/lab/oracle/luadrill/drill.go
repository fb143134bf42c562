// Package luadrill serves the lab oracles from a Lua drill script.
//
// A script defines the globals scenario(ctx), evaluate(ctx), and optionally
// hint(ctx). The helpers choice_step, answer_step, and the lab table are
// installed before the script runs.
package luadrill

import (
	"context"
	"embed"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"

	"github.com/louisbranch/prepared.space/internal/services/lab/oracle"
)

//go:embed drills/*.lua
var drillFS embed.FS

// DefaultDrill names the embedded drill used when no script is configured.
const DefaultDrill = "flood"

// Drill is a loaded script. Calls are serialized because a Lua state is not
// safe for concurrent use.
type Drill struct {
	mu     sync.Mutex
	state  *lua.State
	name   string
	logger *log.Logger
}

var _ oracle.Provider = (*Drill)(nil)

// Load reads and runs the script at path.
func Load(path string, logger *log.Logger) (*Drill, error) {
	d := newDrill(path, logger)
	if err := lua.LoadFile(d.state, path, ""); err != nil {
		return nil, fmt.Errorf("load drill %s: %w", path, err)
	}
	return d.init()
}

// LoadString runs source as a drill named name.
func LoadString(name, source string, logger *log.Logger) (*Drill, error) {
	d := newDrill(name, logger)
	if err := lua.LoadBuffer(d.state, source, name, ""); err != nil {
		return nil, fmt.Errorf("load drill %s: %w", name, err)
	}
	return d.init()
}

// LoadEmbedded runs one of the drills bundled with the binary.
func LoadEmbedded(name string, logger *log.Logger) (*Drill, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultDrill
	}
	source, err := drillFS.ReadFile("drills/" + name + ".lua")
	if err != nil {
		return nil, fmt.Errorf("read embedded drill %s: %w", name, err)
	}
	return LoadString(name, string(source), logger)
}

func newDrill(name string, logger *log.Logger) *Drill {
	if logger == nil {
		logger = log.Default()
	}
	state := lua.NewState()
	lua.OpenLibraries(state)
	registerHelpers(state)
	return &Drill{state: state, name: name, logger: logger}
}

func (d *Drill) init() (*Drill, error) {
	if err := d.state.ProtectedCall(0, 0, 0); err != nil {
		return nil, fmt.Errorf("run drill %s: %w", d.name, err)
	}
	for _, required := range []string{"scenario", "evaluate"} {
		d.state.Global(required)
		ok := d.state.IsFunction(-1)
		d.state.Pop(1)
		if !ok {
			return nil, fmt.Errorf("drill %s does not define %s(ctx)", d.name, required)
		}
	}
	return d, nil
}

// Name returns the drill name.
func (d *Drill) Name() string {
	return d.name
}

// RequestScenario calls scenario(ctx).
func (d *Drill) RequestScenario(ctx context.Context, req oracle.ScenarioRequest) (oracle.Scenario, error) {
	var scenario oracle.Scenario
	err := d.call(ctx, "scenario", func(l *lua.State) {
		pushString(l, "module_context", req.ModuleContext)
		pushString(l, "step_type", string(req.StepType))
		l.PushInteger(len(req.PriorScenarios) + 1)
		l.SetField(-2, "index")
		l.NewTable()
		for i, prior := range req.PriorScenarios {
			l.PushString(prior)
			l.RawSetInt(-2, i+1)
		}
		l.SetField(-2, "prior")
	}, func(l *lua.State) error {
		if l.TypeOf(-1) != lua.TypeTable {
			return oracle.InvalidResponse("scenario(ctx) must return a table", nil)
		}
		fields := tableToMap(l, -1)
		text, _ := fields["scenario"].(string)
		if strings.TrimSpace(text) == "" {
			return oracle.InvalidResponse("scenario(ctx) returned no scenario text", nil)
		}
		scenario.Text = text
		if choices, ok := fields["choices"].([]any); ok {
			for _, choice := range choices {
				if value, ok := choice.(string); ok {
					scenario.Choices = append(scenario.Choices, value)
				}
			}
		}
		if raw, ok := fields["step_type"].(string); ok {
			scenario.StepType, _ = oracle.ParseStepType(raw)
		}
		return nil
	})
	return scenario, err
}

// EvaluateResponse calls evaluate(ctx).
func (d *Drill) EvaluateResponse(ctx context.Context, req oracle.EvaluationRequest) (oracle.Evaluation, error) {
	var evaluation oracle.Evaluation
	err := d.call(ctx, "evaluate", func(l *lua.State) {
		pushString(l, "module_context", req.ModuleContext)
		pushString(l, "scenario", req.ScenarioText)
		pushString(l, "response", req.Response)
		l.PushBoolean(req.Response == oracle.TimeoutResponse)
		l.SetField(-2, "timed_out")
	}, func(l *lua.State) error {
		if l.TypeOf(-1) != lua.TypeTable {
			return oracle.InvalidResponse("evaluate(ctx) must return a table", nil)
		}
		fields := tableToMap(l, -1)
		feedback, _ := fields["feedback"].(string)
		if strings.TrimSpace(feedback) == "" {
			return oracle.InvalidResponse("evaluate(ctx) returned no feedback", nil)
		}
		switch score := fields["score"].(type) {
		case int:
			evaluation.Score = score
		case float64:
			evaluation.Score = int(score + 0.5)
		default:
			return oracle.InvalidResponse("evaluate(ctx) returned no numeric score", nil)
		}
		evaluation.Feedback = feedback
		return nil
	})
	return evaluation, err
}

// RequestHint calls hint(ctx). Drills without a hint function offer none.
func (d *Drill) RequestHint(ctx context.Context, req oracle.HintRequest) (string, error) {
	d.mu.Lock()
	d.state.Global("hint")
	defined := d.state.IsFunction(-1)
	d.state.Pop(1)
	d.mu.Unlock()
	if !defined {
		return "", nil
	}

	var hint string
	err := d.call(ctx, "hint", func(l *lua.State) {
		pushString(l, "module_context", req.ModuleContext)
		pushString(l, "scenario", req.ScenarioText)
	}, func(l *lua.State) error {
		switch l.TypeOf(-1) {
		case lua.TypeNil:
		case lua.TypeString:
			hint, _ = l.ToString(-1)
		default:
			return oracle.InvalidResponse("hint(ctx) must return a string", nil)
		}
		return nil
	})
	return hint, err
}

// call invokes the global fn with a context table built by push and hands
// the single result to read. The stack is restored afterwards.
func (d *Drill) call(ctx context.Context, fn string, push func(*lua.State), read func(*lua.State) error) error {
	if err := ctx.Err(); err != nil {
		return oracle.Classify(err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	l := d.state
	top := l.Top()
	defer l.SetTop(top)

	l.Global(fn)
	if !l.IsFunction(-1) {
		return oracle.Unavailable(fmt.Sprintf("drill %s does not define %s(ctx)", d.name, fn), nil)
	}
	l.NewTable()
	push(l)
	if err := l.ProtectedCall(1, 1, 0); err != nil {
		d.logger.Printf("lua drill %s: %s(ctx) failed: %v", d.name, fn, err)
		return oracle.Unavailable(fmt.Sprintf("drill %s: %s(ctx) failed", d.name, fn), err)
	}
	return read(l)
}

func pushString(l *lua.State, field, value string) {
	l.PushString(value)
	l.SetField(-2, field)
}
