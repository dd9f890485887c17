// Package compat provides an LLM provider for OpenAI-compatible gateways
// whose responses cannot be trusted to follow the schema.
//
// Unlike the SDK-backed providers, this one speaks raw HTTP and routes every
// response body through the normalize package, so gateways that answer with
// bare JSON objects or plain text still produce usable replies. Use it for
// self-hosted or proxied endpoints; use the openai package for the real API.
package compat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tealdrake/mantle/internal/llm"
	"github.com/tealdrake/mantle/internal/llm/normalize"
)

// maxErrorBody caps how much of an error response body is included in error
// messages.
const maxErrorBody = 2048

// Provider implements llm.Provider against any endpoint that accepts
// OpenAI-style chat-completion requests at {baseURL}/chat/completions.
type Provider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	heuristic  normalize.Heuristic
	logger     *slog.Logger
}

var _ llm.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	heuristic  normalize.Heuristic
	logger     *slog.Logger
}

// Option is a functional option for Provider.
type Option func(*config)

// WithAPIKey sets the bearer token sent on all requests. Without it requests
// are unauthenticated, which local inference servers typically accept.
func WithAPIKey(key string) Option {
	return func(c *config) {
		c.apiKey = key
	}
}

// WithTimeout sets a per-request HTTP timeout. Ignored when WithHTTPClient is
// also given.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithHTTPClient overrides the HTTP client used for all requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) {
		c.httpClient = client
	}
}

// WithHeuristic sets the fallback used when the endpoint returns a body that
// is not valid JSON. Without it such bodies become plain assistant content.
func WithHeuristic(h normalize.Heuristic) Option {
	return func(c *config) {
		c.heuristic = h
	}
}

// WithLogger sets the logger for degraded-parse warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// New constructs a Provider for the given base URL, e.g.
// "http://localhost:11434/v1".
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("compat: baseURL must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.timeout}
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.apiKey,
		httpClient: httpClient,
		heuristic:  cfg.heuristic,
		logger:     logger,
	}, nil
}

// wireRequest is the chat-completion request body.
type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

type wireMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []wireCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type wireCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireCallFunction `json:"function"`
}

type wireCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string           `json:"type"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	body, err := p.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("compat: read response body: %w", err)
	}

	reply := normalize.Normalize(raw, req.Messages, p.heuristic)
	if reply.Source != normalize.SourceStandard {
		p.logger.Warn("completion response required tolerant parsing",
			"source", reply.Source.String(),
			"model", req.Model)
	}

	return &llm.CompletionResponse{
		Content:   reply.Content,
		Role:      reply.Role,
		ToolCalls: reply.ToolCalls,
		Usage:     parseUsage(raw),
	}, nil
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	body, err := p.post(ctx, req, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			out, done := parseStreamLine(line)
			if done {
				return
			}
			if out == (llm.Chunk{}) {
				continue
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
			if out.FinishReason != "" {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// parseStreamLine converts one line of the response stream into a chunk.
// done is true on the terminating [DONE] sentinel.
//
// Lines without a data: prefix are tolerated: some gateways stream raw token
// text instead of server-sent events.
func parseStreamLine(line string) (out llm.Chunk, done bool) {
	payload, isEvent := strings.CutPrefix(line, "data:")
	if !isEvent {
		return llm.Chunk{Text: line}, false
	}

	payload = strings.TrimSpace(payload)
	if payload == "[DONE]" {
		return llm.Chunk{}, true
	}
	if !gjson.Valid(payload) {
		return llm.Chunk{Text: payload}, false
	}

	choice := gjson.Get(payload, "choices.0")
	return llm.Chunk{
		Text:         choice.Get("delta.content").String(),
		FinishReason: choice.Get("finish_reason").String(),
	}, false
}

// post sends a chat-completion request and returns the response body on any
// 2xx status.
func (p *Provider) post(ctx context.Context, req llm.CompletionRequest, stream bool) (io.ReadCloser, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("compat: model must not be empty")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("compat: messages must not be empty")
	}

	payload, err := json.Marshal(buildWireRequest(req, stream))
	if err != nil {
		return nil, fmt.Errorf("compat: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("compat: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("compat: completion request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, fmt.Errorf("compat: endpoint returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return resp.Body, nil
}

// buildWireRequest converts a CompletionRequest to the wire shape.
func buildWireRequest(req llm.CompletionRequest, stream bool) wireRequest {
	wire := wireRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	for _, m := range req.Messages {
		wm := wireMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireCallFunction{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		wire.Messages = append(wire.Messages, wm)
	}
	for _, td := range req.Tools {
		wire.Tools = append(wire.Tools, wireTool{
			Type: "function",
			Function: wireToolFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}
	return wire
}

// parseUsage extracts token accounting when the body reports it.
func parseUsage(raw []byte) llm.Usage {
	usage := gjson.GetBytes(raw, "usage")
	return llm.Usage{
		PromptTokens:     int(usage.Get("prompt_tokens").Int()),
		CompletionTokens: int(usage.Get("completion_tokens").Int()),
		TotalTokens:      int(usage.Get("total_tokens").Int()),
	}
}
