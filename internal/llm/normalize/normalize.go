// Package normalize converts raw chat-completion response bodies into a
// canonical reply shape.
//
// Completion gateways in the wild are not reliably schema-compliant: some
// return the standard OpenAI `choices[0].message` envelope, some return a
// bare `{content: ...}` object with tool calls under a non-standard key, and
// some return plain text that is not JSON at all. [Normalize] tolerates all
// three, tagging each reply with the path that produced it so callers can
// log or gate on the degraded paths.
//
// Normalize never fails. The worst case — an unparseable body and no
// heuristic match — degrades to the entire raw text as assistant content.
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/tealdrake/mantle/internal/llm"
)

// Source identifies which parsing path produced a [Reply].
type Source int

const (
	// SourceStandard means the body matched the `choices[0].message` schema.
	SourceStandard Source = iota

	// SourceAlternate means the body was valid JSON in a non-standard shape.
	SourceAlternate

	// SourceHeuristic means the body was not valid JSON and the reply was
	// produced by text heuristics.
	SourceHeuristic
)

// String returns the human-readable name of the source.
func (s Source) String() string {
	switch s {
	case SourceStandard:
		return "standard"
	case SourceAlternate:
		return "alternate"
	case SourceHeuristic:
		return "heuristic"
	default:
		return "unknown"
	}
}

// Reply is the canonical form of one completion response.
type Reply struct {
	Content   string
	Role      string
	ToolCalls []llm.ToolCall
	Source    Source
}

// Heuristic inspects a non-JSON response body and may synthesize a reply,
// typically by recognising that a well-known tool should have been called.
// Implementations return ok=false to decline, in which case the raw text
// becomes plain assistant content.
//
// Heuristics are inherently fragile string matching over model output; they
// are kept behind this interface so deployments can swap or disable them.
type Heuristic interface {
	Synthesize(raw string, history []llm.Message) (Reply, bool)
}

// standardBody mirrors the OpenAI chat-completion response envelope, reduced
// to the fields the orchestrator consumes.
type standardBody struct {
	Choices []struct {
		Message struct {
			Role      string         `json:"role"`
			Content   string         `json:"content"`
			ToolCalls []standardCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

type standardCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// Normalize converts a raw completion response body into a [Reply].
//
// The body is tried against three paths in order: the standard
// `choices[0].message` schema, a set of known alternate JSON shapes, and —
// for bodies that are not valid JSON — the supplied heuristic. h may be nil
// to disable heuristic synthesis.
func Normalize(raw []byte, history []llm.Message, h Heuristic) Reply {
	if reply, ok := parseStandard(raw); ok {
		return reply
	}
	if gjson.ValidBytes(raw) {
		return parseAlternate(raw)
	}

	text := string(raw)
	if h != nil {
		if reply, ok := h.Synthesize(text, history); ok {
			reply.Source = SourceHeuristic
			if reply.Role == "" {
				reply.Role = llm.RoleAssistant
			}
			return reply
		}
	}
	return Reply{Content: text, Role: llm.RoleAssistant, Source: SourceHeuristic}
}

// parseStandard decodes the standard envelope. ok is false when the body is
// not valid JSON or lacks a `choices[0].message` object.
func parseStandard(raw []byte) (Reply, bool) {
	var body standardBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return Reply{}, false
	}
	if len(body.Choices) == 0 {
		return Reply{}, false
	}

	msg := body.Choices[0].Message
	reply := Reply{
		Content: msg.Content,
		Role:    msg.Role,
		Source:  SourceStandard,
	}
	if reply.Role == "" {
		reply.Role = llm.RoleAssistant
	}
	for _, tc := range msg.ToolCalls {
		reply.ToolCalls = append(reply.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return reply, true
}

// alternateContentKeys are tried in order to find reply text in a
// non-standard JSON body.
var alternateContentKeys = []string{"content", "text", "response"}

// alternateCallKeys are tried in order to find tool-call arrays in a
// non-standard JSON body.
var alternateCallKeys = []string{"tool_calls", "tools", "function_calls", "functions"}

// parseAlternate extracts a best-effort reply from valid JSON that does not
// match the standard envelope.
func parseAlternate(raw []byte) Reply {
	doc := gjson.ParseBytes(raw)

	reply := Reply{Role: llm.RoleAssistant, Source: SourceAlternate}
	for _, key := range alternateContentKeys {
		if v := doc.Get(key); v.Exists() {
			reply.Content = v.String()
			break
		}
	}
	if reply.Content == "" {
		reply.Content = doc.Raw
	}

	for _, key := range alternateCallKeys {
		calls := doc.Get(key)
		if !calls.Exists() || !calls.IsArray() {
			continue
		}
		calls.ForEach(func(_, call gjson.Result) bool {
			reply.ToolCalls = append(reply.ToolCalls, alternateCall(call, len(reply.ToolCalls)))
			return true
		})
		if len(reply.ToolCalls) > 0 {
			break
		}
	}
	return reply
}

// alternateCall normalizes one entry of a non-standard tool-call array.
// Arguments are re-serialized to text, never pre-parsed: the argument parser
// is the dispatcher's caller.
func alternateCall(call gjson.Result, index int) llm.ToolCall {
	tc := llm.ToolCall{
		ID:   call.Get("id").String(),
		Name: call.Get("name").String(),
	}
	if tc.ID == "" {
		tc.ID = fmt.Sprintf("call_%d", index)
	}
	if tc.Name == "" {
		tc.Name = call.Get("function.name").String()
	}

	args := call.Get("arguments")
	if !args.Exists() {
		args = call.Get("parameters")
	}
	switch {
	case !args.Exists():
		tc.Arguments = "{}"
	case args.Type == gjson.String:
		tc.Arguments = args.String()
	default:
		tc.Arguments = args.Raw
	}
	if strings.TrimSpace(tc.Arguments) == "" {
		tc.Arguments = "{}"
	}
	return tc
}
