// Package orchestrator implements the conversation turn loop that ties the
// completion backend and the MCP tool broker together.
//
// A turn proceeds in at most two completion rounds:
//
//  1. The agent's system prompt is prepended to the history and the request is
//     sent with the agent's filtered tool catalogue attached.
//  2. If the model requests tool calls, each is dispatched in order and its
//     result appended to the conversation as a tool-role message. A follow-up
//     completion — with no tools attached — then produces the final reply.
//
// A reply without tool calls ends the turn after the first round. Tool
// failures never abort the turn: the failure text is handed back to the model
// so it can explain or recover. Stray tool calls in the follow-up reply are
// ignored.
//
// [Orchestrator.StreamTurn] runs the same loop but reports progress through a
// typed [Event] channel and streams the final reply token by token.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tealdrake/mantle/internal/llm"
	"github.com/tealdrake/mantle/internal/mcp"
	"github.com/tealdrake/mantle/internal/observe"
	"github.com/tealdrake/mantle/internal/store"
)

// ToolInvocation records one dispatched tool call within a turn.
type ToolInvocation struct {
	// ID is the call identifier assigned by the model (or synthesised by a
	// tolerant backend).
	ID string

	// Name is the qualified tool name the model requested.
	Name string

	// Arguments is the raw JSON argument payload.
	Arguments string

	// Result is the dispatch outcome. Failed invocations carry OK=false and
	// an Error message; they are still fed back to the model.
	Result mcp.CallResult

	// Duration is the wall-clock time the dispatch took.
	Duration time.Duration
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	// Content is the assistant's final reply text.
	Content string

	// ToolInvocations lists the tool calls executed during the turn, in the
	// order the model requested them. Empty when the model answered directly.
	ToolInvocations []ToolInvocation

	// Usage aggregates token accounting across both completion rounds.
	Usage llm.Usage
}

// EventKind discriminates the values emitted by [Orchestrator.StreamTurn].
type EventKind string

const (
	// EventDiscovery reports the number of tools offered to the model.
	EventDiscovery EventKind = "discovery"

	// EventToolStart announces a tool dispatch about to run.
	EventToolStart EventKind = "tool_start"

	// EventToolResult carries the outcome of a finished tool dispatch.
	EventToolResult EventKind = "tool_result"

	// EventGenerating announces that the tool round is over and the final
	// reply is being generated. Only emitted on turns that dispatched tools.
	EventGenerating EventKind = "generating"

	// EventToken carries one fragment of the final reply text.
	EventToken EventKind = "token"

	// EventDone is the terminal event of a successful stream.
	EventDone EventKind = "done"

	// EventError is the terminal event of a failed stream.
	EventError EventKind = "error"
)

// Event is one progress notification from a streaming turn. Which fields are
// populated depends on Kind.
type Event struct {
	Kind EventKind

	// ToolCount and Tools are set on EventDiscovery. Tools lists the
	// qualified names offered to the model, in catalogue order.
	ToolCount int
	Tools     []string

	// Tool and Arguments are set on EventToolStart and EventToolResult.
	Tool      string
	Arguments string

	// Result is set on EventToolResult.
	Result mcp.CallResult

	// Text is set on EventToken and carries the error message on EventError.
	Text string

	// Usage is set on EventDone.
	Usage llm.Usage
}

// Orchestrator drives conversation turns. It is safe for concurrent use; all
// per-turn state lives on the stack of RunTurn / StreamTurn.
type Orchestrator struct {
	provider   llm.Provider
	registry   mcp.Registry
	dispatcher mcp.Dispatcher

	defaults store.ModelSettings
	metrics  *observe.Metrics
	logger   *slog.Logger
}

// Option configures an Orchestrator during construction.
type Option func(*Orchestrator)

// WithDefaults sets the service-wide model settings used when an agent
// definition leaves a field unset.
func WithDefaults(d store.ModelSettings) Option {
	return func(o *Orchestrator) { o.defaults = d }
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger overrides the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New constructs an Orchestrator over the given completion backend and tool
// broker halves.
func New(provider llm.Provider, registry mcp.Registry, dispatcher mcp.Dispatcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:   provider,
		registry:   registry,
		dispatcher: dispatcher,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// RunTurn executes one blocking conversation turn for agent with the given
// history. The history must end with the message that drives the reply,
// normally a user message.
func (o *Orchestrator) RunTurn(ctx context.Context, agent *store.AgentDefinition, history []llm.Message) (*TurnResult, error) {
	turnStart := time.Now()
	defer func() {
		o.metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())
	}()

	settings := o.resolveSettings(agent)
	if settings.Model == "" {
		return nil, fmt.Errorf("orchestrator: no model configured for agent %q", agent.Name)
	}

	messages := withSystemPrompt(agent.Prompt, history)
	tools := o.discoverTools(ctx, agent)

	// Round one: tools attached.
	first, err := o.complete(ctx, llm.CompletionRequest{
		Model:       settings.Model,
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   settings.MaxTokens,
		Temperature: settings.Temperature,
	})
	if err != nil {
		return nil, err
	}

	result := &TurnResult{Usage: first.Usage}
	o.metrics.RecordAgentTurn(ctx, agent.ID)

	if len(first.ToolCalls) == 0 {
		result.Content = first.Content
		return result, nil
	}

	// Tool round: dispatch every call in request order.
	messages = append(messages, assistantToolMessage(first))
	for _, call := range first.ToolCalls {
		inv := o.invoke(ctx, call)
		result.ToolInvocations = append(result.ToolInvocations, inv)
		messages = append(messages, toolResultMessage(inv))
	}

	// Round two: no tools, so the model must answer in text.
	second, err := o.complete(ctx, llm.CompletionRequest{
		Model:       settings.Model,
		Messages:    messages,
		MaxTokens:   settings.MaxTokens,
		Temperature: settings.Temperature,
	})
	if err != nil {
		return nil, err
	}
	if len(second.ToolCalls) > 0 {
		o.logger.Warn("model requested tools in a tool-free follow-up; ignoring",
			"agent", agent.Name,
			"count", len(second.ToolCalls),
		)
	}

	result.Content = second.Content
	result.Usage = addUsage(result.Usage, second.Usage)
	return result, nil
}

// StreamTurn executes one conversation turn, reporting progress on the
// returned channel. The channel is closed after a terminal EventDone or
// EventError. The caller must drain it.
func (o *Orchestrator) StreamTurn(ctx context.Context, agent *store.AgentDefinition, history []llm.Message) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)
		turnStart := time.Now()
		defer func() {
			o.metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())
		}()

		settings := o.resolveSettings(agent)
		if settings.Model == "" {
			emit(ctx, events, Event{Kind: EventError, Text: fmt.Sprintf("no model configured for agent %q", agent.Name)})
			return
		}

		messages := withSystemPrompt(agent.Prompt, history)
		tools := o.discoverTools(ctx, agent)

		if !emit(ctx, events, Event{Kind: EventDiscovery, ToolCount: len(tools), Tools: toolNames(tools)}) {
			return
		}

		var usage llm.Usage

		if len(tools) > 0 {
			// Tool decisions need the full structured response, so the first
			// round is a blocking call even in streaming mode.
			first, err := o.complete(ctx, llm.CompletionRequest{
				Model:       settings.Model,
				Messages:    messages,
				Tools:       tools,
				MaxTokens:   settings.MaxTokens,
				Temperature: settings.Temperature,
			})
			if err != nil {
				emit(ctx, events, Event{Kind: EventError, Text: err.Error()})
				return
			}
			usage = first.Usage

			if len(first.ToolCalls) == 0 {
				// Direct answer: forward it as a single token.
				o.metrics.RecordAgentTurn(ctx, agent.ID)
				if first.Content != "" && !emit(ctx, events, Event{Kind: EventToken, Text: first.Content}) {
					return
				}
				emit(ctx, events, Event{Kind: EventDone, Usage: usage})
				return
			}

			messages = append(messages, assistantToolMessage(first))
			for _, call := range first.ToolCalls {
				if !emit(ctx, events, Event{Kind: EventToolStart, Tool: call.Name, Arguments: call.Arguments}) {
					return
				}
				inv := o.invoke(ctx, call)
				messages = append(messages, toolResultMessage(inv))
				if !emit(ctx, events, Event{Kind: EventToolResult, Tool: call.Name, Arguments: call.Arguments, Result: inv.Result}) {
					return
				}
			}

			if !emit(ctx, events, Event{Kind: EventGenerating}) {
				return
			}
		}

		// Final reply streams token by token with no tools attached.
		llmStart := time.Now()
		ch, err := o.provider.StreamCompletion(ctx, llm.CompletionRequest{
			Model:       settings.Model,
			Messages:    messages,
			MaxTokens:   settings.MaxTokens,
			Temperature: settings.Temperature,
		})
		if err != nil {
			o.metrics.RecordCompletionRequest(ctx, settings.Model, "error")
			emit(ctx, events, Event{Kind: EventError, Text: err.Error()})
			return
		}
		o.metrics.ActiveStreams.Add(ctx, 1)
		defer o.metrics.ActiveStreams.Add(ctx, -1)

		for chunk := range ch {
			if chunk.FinishReason == "error" {
				o.metrics.RecordCompletionRequest(ctx, settings.Model, "error")
				emit(ctx, events, Event{Kind: EventError, Text: chunk.Text})
				return
			}
			if chunk.Text != "" {
				if !emit(ctx, events, Event{Kind: EventToken, Text: chunk.Text}) {
					return
				}
			}
		}
		o.metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds())
		o.metrics.RecordCompletionRequest(ctx, settings.Model, "ok")
		o.metrics.RecordAgentTurn(ctx, agent.ID)

		emit(ctx, events, Event{Kind: EventDone, Usage: usage})
	}()

	return events
}

// resolveSettings overlays the agent's model settings onto the service
// defaults, field by field.
func (o *Orchestrator) resolveSettings(agent *store.AgentDefinition) store.ModelSettings {
	s := o.defaults
	if agent.Model.Model != "" {
		s.Model = agent.Model.Model
	}
	if agent.Model.Temperature != 0 {
		s.Temperature = agent.Model.Temperature
	}
	if agent.Model.MaxTokens != 0 {
		s.MaxTokens = agent.Model.MaxTokens
	}
	return s
}

// discoverTools refreshes the tool catalogue and filters it through the
// agent's allow-list. Discovery failures degrade to an empty catalogue so the
// turn can still produce a text answer.
func (o *Orchestrator) discoverTools(ctx context.Context, agent *store.AgentDefinition) []llm.ToolDefinition {
	start := time.Now()
	defer func() {
		o.metrics.ToolDiscoveryDuration.Record(ctx, time.Since(start).Seconds())
	}()

	if err := o.registry.Refresh(ctx); err != nil {
		o.logger.Warn("tool registry refresh failed; continuing without tools", "err", err)
		return nil
	}
	descriptors, err := o.registry.ListTools(ctx)
	if err != nil {
		o.logger.Warn("tool discovery failed; continuing without tools", "err", err)
		return nil
	}

	var defs []llm.ToolDefinition
	for _, d := range descriptors {
		if !allowed(agent.ToolNames, d.Name) {
			continue
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.InputSchema,
		})
	}
	return defs
}

// complete wraps a blocking completion call with latency and usage metrics.
func (o *Orchestrator) complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()
	resp, err := o.provider.Complete(ctx, req)
	o.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		o.metrics.RecordCompletionRequest(ctx, req.Model, "error")
		return nil, fmt.Errorf("orchestrator: completion failed: %w", err)
	}
	if resp == nil {
		o.metrics.RecordCompletionRequest(ctx, req.Model, "error")
		return nil, fmt.Errorf("orchestrator: completion backend returned no response")
	}
	o.metrics.RecordCompletionRequest(ctx, req.Model, "ok")
	o.metrics.RecordTokenUsage(ctx, req.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp, nil
}

// invoke dispatches one tool call and records its outcome.
func (o *Orchestrator) invoke(ctx context.Context, call llm.ToolCall) ToolInvocation {
	start := time.Now()
	result := o.dispatcher.Invoke(ctx, call.Name, call.Arguments)
	elapsed := time.Since(start)

	o.metrics.ToolExecutionDuration.Record(ctx, elapsed.Seconds())
	status := "ok"
	if !result.OK {
		status = "error"
		o.logger.Warn("tool invocation failed", "tool", call.Name, "err", result.Error)
	}
	o.metrics.RecordToolCall(ctx, call.Name, status)

	return ToolInvocation{
		ID:        call.ID,
		Name:      call.Name,
		Arguments: call.Arguments,
		Result:    result,
		Duration:  elapsed,
	}
}

// emit sends ev unless ctx is done. Reports whether the send happened.
func emit(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// withSystemPrompt returns history with prompt prepended as a system message.
// An empty prompt returns a copy of history unchanged.
func withSystemPrompt(prompt string, history []llm.Message) []llm.Message {
	if prompt == "" {
		msgs := make([]llm.Message, len(history))
		copy(msgs, history)
		return msgs
	}
	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: prompt})
	return append(msgs, history...)
}

// assistantToolMessage converts the model's tool-call response into the
// assistant message that precedes the tool results in the conversation.
func assistantToolMessage(resp *llm.CompletionResponse) llm.Message {
	return llm.Message{
		Role:      llm.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	}
}

// toolResultMessage converts a finished invocation into the tool-role message
// handed back to the model. Failures are phrased as error text so the model
// can react instead of the turn aborting.
func toolResultMessage(inv ToolInvocation) llm.Message {
	content := inv.Result.Content
	if !inv.Result.OK {
		content = "Error: " + inv.Result.Error
	}
	return llm.Message{
		Role:       llm.RoleTool,
		Content:    content,
		ToolCallID: inv.ID,
	}
}

// allowed reports whether the qualified tool name passes the agent's
// allow-list. An empty list allows everything; otherwise the name must
// contain at least one entry as a substring.
func allowed(allowList []string, name string) bool {
	if len(allowList) == 0 {
		return true
	}
	for _, entry := range allowList {
		if entry != "" && strings.Contains(name, entry) {
			return true
		}
	}
	return false
}

// toolNames extracts the qualified names from a tool catalogue.
func toolNames(tools []llm.ToolDefinition) []string {
	if len(tools) == 0 {
		return nil
	}
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

// addUsage sums two usage reports field by field.
func addUsage(a, b llm.Usage) llm.Usage {
	return llm.Usage{
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
		TotalTokens:      a.TotalTokens + b.TotalTokens,
	}
}
