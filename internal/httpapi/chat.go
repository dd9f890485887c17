package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tealdrake/mantle/internal/llm"
	"github.com/tealdrake/mantle/internal/orchestrator"
	"github.com/tealdrake/mantle/internal/store"
)

// chatRequest is the body of both chat endpoints.
type chatRequest struct {
	AgentID  string        `json:"agent_id"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// turnResponse is the data payload of a blocking turn.
type turnResponse struct {
	Content   string             `json:"content"`
	ToolCalls []toolCallResponse `json:"tool_calls,omitempty"`
	Usage     usageResponse      `json:"usage"`
}

type toolCallResponse struct {
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	OK         bool   `json:"ok"`
	Content    string `json:"content,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type usageResponse struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// resolveChatRequest decodes and validates the request, returning the agent
// definition and converted history. A nil agent means a response has already
// been written.
func (s *Server) resolveChatRequest(w http.ResponseWriter, r *http.Request) (*store.AgentDefinition, []llm.Message) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return nil, nil
	}
	if req.AgentID == "" {
		fail(w, http.StatusBadRequest, "agent_id is required")
		return nil, nil
	}
	if len(req.Messages) == 0 {
		fail(w, http.StatusBadRequest, "messages must not be empty")
		return nil, nil
	}

	agent, err := s.store.GetAgent(r.Context(), req.AgentID)
	if err != nil {
		storeError(w, err)
		return nil, nil
	}
	if agent == nil {
		fail(w, http.StatusNotFound, "agent not found")
		return nil, nil
	}

	history := make([]llm.Message, len(req.Messages))
	for i, m := range req.Messages {
		role := m.Role
		if role == "" {
			role = llm.RoleUser
		}
		switch role {
		case llm.RoleUser, llm.RoleAssistant:
		default:
			fail(w, http.StatusBadRequest, "message role must be user or assistant")
			return nil, nil
		}
		history[i] = llm.Message{Role: role, Content: m.Content}
	}
	return agent, history
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	agent, history := s.resolveChatRequest(w, r)
	if agent == nil {
		return
	}

	result, err := s.runner.RunTurn(r.Context(), agent, history)
	if err != nil {
		s.logger.Error("turn failed", "agent", agent.Name, "err", err)
		fail(w, http.StatusBadGateway, "turn failed: "+err.Error())
		return
	}

	resp := turnResponse{
		Content: result.Content,
		Usage: usageResponse{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
	}
	for _, inv := range result.ToolInvocations {
		resp.ToolCalls = append(resp.ToolCalls, toolCallResponse{
			Name:       inv.Name,
			Arguments:  inv.Arguments,
			OK:         inv.Result.OK,
			Content:    inv.Result.Content,
			Error:      inv.Result.Error,
			DurationMS: inv.Duration.Milliseconds(),
		})
	}
	respond(w, http.StatusOK, resp)
}

// mcpEvent is the JSON body of a tool lifecycle line in the stream. Lines are
// wrapped in <mcp>…</mcp> markers so clients can separate them from reply
// tokens.
type mcpEvent struct {
	Event     string   `json:"event"`
	ToolCount int      `json:"tool_count,omitempty"`
	Tools     []string `json:"tools,omitempty"`
	Tool      string   `json:"tool,omitempty"`
	Arguments string   `json:"arguments,omitempty"`
	OK        bool     `json:"ok,omitempty"`
	Content   string   `json:"content,omitempty"`
	Message   string   `json:"message,omitempty"`
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	agent, history := s.resolveChatRequest(w, r)
	if agent == nil {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		fail(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	writeMarked := func(ev mcpEvent) {
		body, err := json.Marshal(ev)
		if err != nil {
			return
		}
		_, _ = w.Write([]byte("<mcp>" + string(body) + "</mcp>\n"))
		flusher.Flush()
	}

	start := time.Now()
	for ev := range s.runner.StreamTurn(r.Context(), agent, history) {
		switch ev.Kind {
		case orchestrator.EventDiscovery:
			// A tool-less turn degrades to passthrough streaming; the token
			// stream is forwarded without any markers.
			if ev.ToolCount > 0 {
				writeMarked(mcpEvent{Event: "discovery", ToolCount: ev.ToolCount, Tools: ev.Tools})
			}
		case orchestrator.EventToolStart:
			writeMarked(mcpEvent{Event: "tool_start", Tool: ev.Tool, Arguments: ev.Arguments})
		case orchestrator.EventToolResult:
			e := mcpEvent{Event: "tool_result", Tool: ev.Tool, OK: ev.Result.OK, Content: ev.Result.Content}
			if !ev.Result.OK {
				e.Message = ev.Result.Error
			}
			writeMarked(e)
		case orchestrator.EventGenerating:
			writeMarked(mcpEvent{Event: "generating"})
		case orchestrator.EventToken:
			_, _ = w.Write([]byte(ev.Text))
			flusher.Flush()
		case orchestrator.EventError:
			s.logger.Error("streaming turn failed", "agent", agent.Name, "err", ev.Text)
			writeMarked(mcpEvent{Event: "error", Message: ev.Text})
		case orchestrator.EventDone:
			s.logger.Debug("streaming turn finished",
				"agent", agent.Name,
				"duration", time.Since(start),
			)
		}
	}
}
