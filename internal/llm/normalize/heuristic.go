package normalize

import (
	"strings"

	"github.com/google/uuid"

	"github.com/tealdrake/mantle/internal/llm"
)

// KeywordHeuristic synthesizes a parameter-less tool call when the user's
// last message contains one of a set of trigger keywords and the model's raw
// reply does not contain a veto phrase (a refusal such as "cannot").
//
// This exists for gateways that answer tool-enabled requests with plain text
// instead of a structured tool call. It is deliberately narrow: one tool,
// exact substring matching, no argument synthesis.
type KeywordHeuristic struct {
	// ToolName is the qualified name of the tool to synthesize.
	ToolName string

	// Keywords trigger synthesis when found (case-insensitively) in the last
	// user message.
	Keywords []string

	// Vetoes suppress synthesis when found in the raw reply text. Used to
	// respect explicit refusals.
	Vetoes []string

	// Notice replaces the reply content when a call is synthesized, telling
	// the user a lookup is in progress.
	Notice string
}

// TimeHeuristic returns the default heuristic: a current-time lookup against
// the given tool, triggered by common time-related phrasings.
func TimeHeuristic(toolName string) *KeywordHeuristic {
	return &KeywordHeuristic{
		ToolName: toolName,
		Keywords: []string{"time", "clock", "时间", "几点", "现在", "当前时间"},
		Vetoes:   []string{"cannot", "unable", "无法", "不能"},
		Notice:   "Let me look up the current time for you.",
	}
}

var _ Heuristic = (*KeywordHeuristic)(nil)

// Synthesize implements [Heuristic].
func (k *KeywordHeuristic) Synthesize(raw string, history []llm.Message) (Reply, bool) {
	if k.ToolName == "" {
		return Reply{}, false
	}

	userText := strings.ToLower(lastUserContent(history))
	triggered := false
	for _, kw := range k.Keywords {
		if strings.Contains(userText, strings.ToLower(kw)) {
			triggered = true
			break
		}
	}
	if !triggered {
		return Reply{}, false
	}
	for _, veto := range k.Vetoes {
		if strings.Contains(raw, veto) {
			return Reply{}, false
		}
	}

	return Reply{
		Content: k.Notice,
		Role:    llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{{
			ID:        "call_" + uuid.NewString(),
			Name:      k.ToolName,
			Arguments: "{}",
		}},
	}, true
}

// lastUserContent returns the content of the most recent user message in
// history, or "" when there is none.
func lastUserContent(history []llm.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == llm.RoleUser {
			return history[i].Content
		}
	}
	return ""
}
