// Package openai serves the lab oracles from the OpenAI Responses API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/louisbranch/prepared.space/internal/services/lab/oracle"
)

// DefaultResponsesURL is the public Responses endpoint.
const DefaultResponsesURL = "https://api.openai.com/v1/responses"

// DefaultModel is used when Config.Model is blank.
const DefaultModel = "gpt-4o-mini"

// Config configures the Responses endpoint, credentials, and HTTP behavior.
type Config struct {
	ResponsesURL string
	APIKey       string
	Model        string
	HTTPClient   *http.Client
	Logger       *log.Logger
}

// Client implements oracle.Provider over the Responses API.
type Client struct {
	cfg Config
}

var _ oracle.Provider = (*Client)(nil)

// New builds a Client. An API key is required.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if strings.TrimSpace(cfg.ResponsesURL) == "" {
		cfg.ResponsesURL = DefaultResponsesURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Client{cfg: cfg}, nil
}

// RequestScenario asks the model for a scenario of the requested type.
func (c *Client) RequestScenario(ctx context.Context, req oracle.ScenarioRequest) (oracle.Scenario, error) {
	output, err := c.invoke(ctx, scenarioPrompt(req))
	if err != nil {
		return oracle.Scenario{}, err
	}
	return parseScenario(output)
}

// EvaluateResponse asks the model to judge a learner response.
func (c *Client) EvaluateResponse(ctx context.Context, req oracle.EvaluationRequest) (oracle.Evaluation, error) {
	output, err := c.invoke(ctx, evaluationPrompt(req))
	if err != nil {
		return oracle.Evaluation{}, err
	}
	return parseEvaluation(output)
}

// RequestHint asks the model for a hint that does not reveal the answer.
func (c *Client) RequestHint(ctx context.Context, req oracle.HintRequest) (string, error) {
	output, err := c.invoke(ctx, hintPrompt(req))
	if err != nil {
		return "", err
	}
	return parseHint(output)
}

// invoke posts prompt and returns the model's output text.
func (c *Client) invoke(ctx context.Context, prompt string) (string, error) {
	requestBody, err := json.Marshal(map[string]any{
		"model": strings.TrimSpace(c.cfg.Model),
		"input": prompt,
	})
	if err != nil {
		return "", fmt.Errorf("marshal invoke request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSpace(c.cfg.ResponsesURL), bytes.NewReader(requestBody))
	if err != nil {
		return "", fmt.Errorf("build invoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// The key is only ever sent as a header and never echoed into errors.
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.cfg.APIKey))

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", oracle.Unavailable("invoke request failed", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, err := io.ReadAll(io.LimitReader(res.Body, 4096))
		if err != nil {
			return "", oracle.Unavailable("read invoke error body", err)
		}
		c.cfg.Logger.Printf("openai oracle: responses status %d", res.StatusCode)
		return "", oracle.Unavailable(fmt.Sprintf("invoke request status %d: %s", res.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", oracle.Unavailable("read invoke response", err)
	}
	if !gjson.ValidBytes(body) {
		return "", oracle.InvalidResponse("decode invoke response: invalid json", nil)
	}
	outputText := outputText(body)
	if outputText == "" {
		return "", oracle.InvalidResponse("invoke response missing output text", nil)
	}
	return outputText, nil
}

// outputText prefers the aggregated output_text and falls back to the first
// non-empty content part.
func outputText(body []byte) string {
	if text := strings.TrimSpace(gjson.GetBytes(body, "output_text").String()); text != "" {
		return text
	}
	var text string
	gjson.GetBytes(body, "output").ForEach(func(_, item gjson.Result) bool {
		item.Get("content").ForEach(func(_, content gjson.Result) bool {
			text = strings.TrimSpace(content.Get("text").String())
			return text == ""
		})
		return text == ""
	})
	return text
}
