package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/prepared.space/internal/services/lab/drill"
	"github.com/louisbranch/prepared.space/internal/services/lab/engine"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const defaultResultsPageSize = 10

// DrillStartInput represents the MCP tool input for starting a drill run.
type DrillStartInput struct {
	ModuleID      string `json:"module_id,omitempty" jsonschema:"module identifier (defaults to the server module)"`
	ModuleContext string `json:"module_context,omitempty" jsonschema:"module summary used to ground scenarios (defaults to the server module)"`
}

// DrillRunInput identifies a live run.
type DrillRunInput struct {
	RunID string `json:"run_id" jsonschema:"run identifier"`
}

// DrillSelectChoiceInput represents the MCP tool input for answering a multiple-choice step.
type DrillSelectChoiceInput struct {
	RunID  string `json:"run_id" jsonschema:"run identifier"`
	Choice string `json:"choice" jsonschema:"exact text of one offered choice"`
}

// DrillSubmitResponseInput represents the MCP tool input for answering a short-answer step.
type DrillSubmitResponseInput struct {
	RunID    string `json:"run_id" jsonschema:"run identifier"`
	Response string `json:"response" jsonschema:"free-text response"`
}

// DrillActionResult reports whether an action took effect and the run state after it.
type DrillActionResult struct {
	Accepted bool    `json:"accepted" jsonschema:"whether the action took effect"`
	Run      RunView `json:"run" jsonschema:"run state after the action settled"`
}

// DrillResultsInput represents the MCP tool input for listing finished runs.
type DrillResultsInput struct {
	ModuleID  string `json:"module_id,omitempty" jsonschema:"module identifier (defaults to the server module)"`
	PageSize  int    `json:"page_size,omitempty" jsonschema:"maximum results to return (default 10)"`
	PageToken string `json:"page_token,omitempty" jsonschema:"token from a previous page"`
}

// DrillResultsResult lists finished runs, newest first.
type DrillResultsResult struct {
	Results       []ResultView `json:"results" jsonschema:"finished runs"`
	NextPageToken string       `json:"next_page_token,omitempty" jsonschema:"token for the next page"`
}

// Defaults supplies the module used when a tool input omits it.
type Defaults struct {
	ModuleID      string
	ModuleContext string
}

type handlers struct {
	service  *drill.Service
	defaults Defaults
	maxSteps int
}

// DrillStartTool defines the MCP tool schema for starting a run.
func DrillStartTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "drill_start",
		Description: "Starts a timed preparedness drill and returns the first scenario.",
	}
}

// DrillStateTool defines the MCP tool schema for reading a run.
func DrillStateTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "drill_state",
		Description: "Returns the live state of a drill run, including remaining time on the current step.",
	}
}

// DrillSelectChoiceTool defines the MCP tool schema for answering a multiple-choice step.
func DrillSelectChoiceTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "drill_select_choice",
		Description: "Answers the current multiple-choice step with one of its offered choices.",
	}
}

// DrillSubmitResponseTool defines the MCP tool schema for answering a short-answer step.
func DrillSubmitResponseTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "drill_submit_response",
		Description: "Answers the current short-answer step. On a multiple-choice step the text is kept as a draft only.",
	}
}

// DrillRequestHintTool defines the MCP tool schema for requesting a hint.
func DrillRequestHintTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "drill_request_hint",
		Description: "Requests the single hint allowed for the current unanswered step.",
	}
}

// DrillFinalizeTool defines the MCP tool schema for finalizing a run.
func DrillFinalizeTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "drill_finalize",
		Description: "Stores the result of a finished run and releases it.",
	}
}

// DrillResultsTool defines the MCP tool schema for listing results.
func DrillResultsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "drill_results",
		Description: "Lists stored drill results for a module, newest first.",
	}
}

func (h handlers) start() mcp.ToolHandlerFor[DrillStartInput, RunView] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DrillStartInput) (*mcp.CallToolResult, RunView, error) {
		moduleID := firstNonEmpty(input.ModuleID, h.defaults.ModuleID)
		moduleContext := firstNonEmpty(input.ModuleContext, h.defaults.ModuleContext)
		run, err := h.service.Start(ctx, drill.StartInput{ModuleID: moduleID, ModuleContext: moduleContext})
		if err != nil {
			return nil, RunView{}, fmt.Errorf("drill start failed: %w", err)
		}
		run.Wait()
		return nil, h.view(run), nil
	}
}

func (h handlers) state() mcp.ToolHandlerFor[DrillRunInput, RunView] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input DrillRunInput) (*mcp.CallToolResult, RunView, error) {
		run, err := h.service.Get(input.RunID)
		if err != nil {
			return nil, RunView{}, fmt.Errorf("drill state failed: %w", err)
		}
		return nil, h.view(run), nil
	}
}

func (h handlers) selectChoice() mcp.ToolHandlerFor[DrillSelectChoiceInput, DrillActionResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input DrillSelectChoiceInput) (*mcp.CallToolResult, DrillActionResult, error) {
		return h.act(input.RunID, "drill select choice", func(run *engine.Engine) bool {
			return run.SelectChoice(input.Choice)
		})
	}
}

func (h handlers) submitResponse() mcp.ToolHandlerFor[DrillSubmitResponseInput, DrillActionResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input DrillSubmitResponseInput) (*mcp.CallToolResult, DrillActionResult, error) {
		return h.act(input.RunID, "drill submit response", func(run *engine.Engine) bool {
			return run.SubmitResponse(input.Response)
		})
	}
}

func (h handlers) requestHint() mcp.ToolHandlerFor[DrillRunInput, DrillActionResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input DrillRunInput) (*mcp.CallToolResult, DrillActionResult, error) {
		return h.act(input.RunID, "drill request hint", func(run *engine.Engine) bool {
			return run.RequestHint()
		})
	}
}

func (h handlers) finalize() mcp.ToolHandlerFor[DrillRunInput, ResultView] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DrillRunInput) (*mcp.CallToolResult, ResultView, error) {
		result, err := h.service.Finalize(ctx, input.RunID)
		if err != nil {
			return nil, ResultView{}, fmt.Errorf("drill finalize failed: %w", err)
		}
		return nil, resultView(drill.ToRecord(result)), nil
	}
}

func (h handlers) results() mcp.ToolHandlerFor[DrillResultsInput, DrillResultsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DrillResultsInput) (*mcp.CallToolResult, DrillResultsResult, error) {
		pageSize := input.PageSize
		if pageSize <= 0 {
			pageSize = defaultResultsPageSize
		}
		page, err := h.service.Results(ctx, firstNonEmpty(input.ModuleID, h.defaults.ModuleID), pageSize, input.PageToken)
		if err != nil {
			return nil, DrillResultsResult{}, fmt.Errorf("drill results failed: %w", err)
		}
		out := DrillResultsResult{
			Results:       make([]ResultView, 0, len(page.Results)),
			NextPageToken: page.NextPageToken,
		}
		for _, record := range page.Results {
			out.Results = append(out.Results, resultView(record))
		}
		return nil, out, nil
	}
}

// act applies fn to a live run and waits for any oracle call it started.
func (h handlers) act(runID, name string, fn func(*engine.Engine) bool) (*mcp.CallToolResult, DrillActionResult, error) {
	run, err := h.service.Get(runID)
	if err != nil {
		return nil, DrillActionResult{}, fmt.Errorf("%s failed: %w", name, err)
	}
	accepted := fn(run)
	run.Wait()
	return nil, DrillActionResult{Accepted: accepted, Run: h.view(run)}, nil
}

func (h handlers) view(run *engine.Engine) RunView {
	return runView(run.ModuleID(), h.maxSteps, run.Snapshot())
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
