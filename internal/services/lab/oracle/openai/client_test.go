package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/louisbranch/prepared.space/internal/services/lab/oracle"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func outputBody(t *testing.T, text string) string {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"output_text": text})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return string(payload)
}

func newTestClient(t *testing.T, fn roundTripFunc) *Client {
	t.Helper()
	client, err := New(Config{
		ResponsesURL: "https://example.test/v1/responses",
		APIKey:       "sk-test",
		Model:        "test-model",
		HTTPClient:   &http.Client{Transport: fn},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewDefaults(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected missing api key error")
	}
	client, err := New(Config{APIKey: "sk"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.cfg.ResponsesURL != DefaultResponsesURL {
		t.Fatalf("responses_url = %q", client.cfg.ResponsesURL)
	}
	if client.cfg.Model != DefaultModel {
		t.Fatalf("model = %q", client.cfg.Model)
	}
	if client.cfg.HTTPClient == nil || client.cfg.Logger == nil {
		t.Fatal("expected http client and logger defaults")
	}
}

func TestRequestScenarioSendsPrompt(t *testing.T) {
	var captured struct {
		Model string `json:"model"`
		Input string `json:"input"`
	}
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost {
			t.Fatalf("method = %s", req.Method)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Fatalf("authorization = %q", got)
		}
		if err := json.NewDecoder(req.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		return response(http.StatusOK, outputBody(t, "```json\n{\"scenario\": \"Water is entering the basement.\", \"choices\": [\"Cut power at the panel\", \" \", \"Wade in to rescue boxes\"], \"step_type\": \"multiple-choice\"}\n```")), nil
	})

	scenario, err := client.RequestScenario(context.Background(), oracle.ScenarioRequest{
		ModuleContext:  "Home flooding",
		StepType:       oracle.StepTypeMultipleChoice,
		PriorScenarios: []string{"Rain is forecast for the weekend."},
	})
	if err != nil {
		t.Fatalf("request scenario: %v", err)
	}
	if scenario.Text != "Water is entering the basement." {
		t.Fatalf("text = %q", scenario.Text)
	}
	if len(scenario.Choices) != 2 || scenario.Choices[1] != "Wade in to rescue boxes" {
		t.Fatalf("choices = %v", scenario.Choices)
	}
	if scenario.StepType != oracle.StepTypeMultipleChoice {
		t.Fatalf("step type = %q", scenario.StepType)
	}
	if captured.Model != "test-model" {
		t.Fatalf("model = %q", captured.Model)
	}
	for _, want := range []string{"Home flooding", "Rain is forecast for the weekend.", "choices"} {
		if !strings.Contains(captured.Input, want) {
			t.Fatalf("expected prompt to contain %q, got %q", want, captured.Input)
		}
	}
}

func TestEvaluateResponseParsesScore(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   int
	}{
		{name: "integer", output: `{"feedback": "Good call.", "score": 8}`, want: 8},
		{name: "float rounds", output: `{"feedback": "Mostly right.", "score": 6.6}`, want: 7},
		{name: "string number", output: `Here you go: {"feedback": "Fine.", "score": "4"}`, want: 4},
		{name: "above range", output: `{"feedback": "Wow.", "score": 12}`, want: oracle.MaxScore},
		{name: "huge", output: `{"feedback": "Wow.", "score": 1e30}`, want: oracle.MaxScore},
		{name: "huge string", output: `{"feedback": "Wow.", "score": "1e30"}`, want: oracle.MaxScore},
		{name: "negative", output: `{"feedback": "No.", "score": -1e30}`, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(*http.Request) (*http.Response, error) {
				return response(http.StatusOK, outputBody(t, tt.output)), nil
			})
			evaluation, err := client.EvaluateResponse(context.Background(), oracle.EvaluationRequest{ScenarioText: "s", Response: "r"})
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if evaluation.Score != tt.want {
				t.Fatalf("score = %d, want %d", evaluation.Score, tt.want)
			}
		})
	}
}

func TestEvaluateResponseRejectsMissingFields(t *testing.T) {
	outputs := []string{
		`{"score": 5}`,
		`{"feedback": "ok"}`,
		`{"feedback": "ok", "score": "high"}`,
		`no json here`,
	}
	for _, output := range outputs {
		client := newTestClient(t, func(*http.Request) (*http.Response, error) {
			return response(http.StatusOK, outputBody(t, output)), nil
		})
		_, err := client.EvaluateResponse(context.Background(), oracle.EvaluationRequest{})
		if !oracle.IsInvalidResponse(err) {
			t.Fatalf("output %q: expected invalid response, got %v", output, err)
		}
	}
}

func TestRequestHintAcceptsProse(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return response(http.StatusOK, `{"output":[{"content":[{"type":"output_text","text":""},{"type":"output_text","text":"Think about where water flows."}]}]}`), nil
	})
	hint, err := client.RequestHint(context.Background(), oracle.HintRequest{ScenarioText: "s"})
	if err != nil {
		t.Fatalf("hint: %v", err)
	}
	if hint != "Think about where water flows." {
		t.Fatalf("hint = %q", hint)
	}
}

func TestRequestHintPrompt(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		if !strings.Contains(string(body), "without revealing the answer") {
			t.Fatalf("unexpected hint prompt: %s", body)
		}
		return response(http.StatusOK, outputBody(t, `{"hint": "Look up."}`)), nil
	})
	hint, err := client.RequestHint(context.Background(), oracle.HintRequest{ScenarioText: "s"})
	if err != nil {
		t.Fatalf("hint: %v", err)
	}
	if hint != "Look up." {
		t.Fatalf("hint = %q", hint)
	}
}

func TestInvokeFailuresAreClassified(t *testing.T) {
	tests := []struct {
		name        string
		fn          roundTripFunc
		unavailable bool
		contains    string
	}{
		{
			name: "transport error",
			fn: func(*http.Request) (*http.Response, error) {
				return nil, errors.New("dial tcp: connection refused")
			},
			unavailable: true,
			contains:    "connection refused",
		},
		{
			name: "non-2xx status",
			fn: func(*http.Request) (*http.Response, error) {
				return response(http.StatusTooManyRequests, `{"error":"rate limited"}`), nil
			},
			unavailable: true,
			contains:    "status 429",
		},
		{
			name: "invalid json",
			fn: func(*http.Request) (*http.Response, error) {
				return response(http.StatusOK, `{not json`), nil
			},
			contains: "invalid json",
		},
		{
			name: "missing output",
			fn: func(*http.Request) (*http.Response, error) {
				return response(http.StatusOK, `{"output":[]}`), nil
			},
			contains: "missing output text",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.fn)
			_, err := client.RequestScenario(context.Background(), oracle.ScenarioRequest{StepType: oracle.StepTypeShortAnswer})
			if err == nil {
				t.Fatal("expected error")
			}
			if oracle.IsUnavailable(err) != tt.unavailable {
				t.Fatalf("unavailable = %v for %v", oracle.IsUnavailable(err), err)
			}
			if !tt.unavailable && !oracle.IsInvalidResponse(err) {
				t.Fatalf("expected invalid response, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Fatalf("expected %q in %v", tt.contains, err)
			}
			if strings.Contains(err.Error(), "sk-test") {
				t.Fatalf("api key leaked into error: %v", err)
			}
		})
	}
}

func TestParseScenarioRequiresText(t *testing.T) {
	if _, err := parseScenario(`{"choices": ["a"]}`); !oracle.IsInvalidResponse(err) {
		t.Fatalf("expected invalid response, got %v", err)
	}
	scenario, err := parseScenario(`{"scenario": "Describe your plan.", "step_type": "essay"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if scenario.StepType != "" {
		t.Fatalf("expected unknown step type to be dropped, got %q", scenario.StepType)
	}
}
