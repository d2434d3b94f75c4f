// Package generate adapts a streaming language-model backend into the
// generation capability: normalized conversations, a token-budgeted history,
// interruption between stream steps, and per-turn reset.
package generate

import (
	"strings"
)

// Turn roles. The conversation always starts with a system turn.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one role-attributed utterance in a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is an ordered list of turns.
type Conversation []Turn

// Normalize returns the conversation with a leading system turn. When the
// caller already supplied one it is kept as-is; otherwise systemPrompt is
// injected at the front.
func Normalize(turns Conversation, systemPrompt string) Conversation {
	if len(turns) > 0 && turns[0].Role == RoleSystem {
		return turns
	}
	out := make(Conversation, 0, len(turns)+1)
	out = append(out, Turn{Role: RoleSystem, Content: systemPrompt})
	out = append(out, turns...)
	return out
}

// System returns the content of the leading system turn, or "".
func (c Conversation) System() string {
	if len(c) > 0 && c[0].Role == RoleSystem {
		return c[0].Content
	}
	return ""
}

// Prompt flattens the non-system turns into a plain chat transcript ending
// with an assistant cue. The system turn travels separately in the request.
func (c Conversation) Prompt() string {
	var b strings.Builder
	for _, t := range c {
		if t.Role == RoleSystem {
			continue
		}
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	b.WriteString(RoleAssistant)
	b.WriteString(": ")
	return b.String()
}

// TokenCounter reports how many model tokens a string costs.
type TokenCounter interface {
	Count(text string) (int, error)
}

// TrimToBudget drops the oldest non-system turns until the conversation fits
// within budget tokens. The system turn is never dropped. A nil counter or
// non-positive budget leaves the conversation untouched.
func TrimToBudget(c Conversation, budget int, counter TokenCounter) (Conversation, error) {
	if counter == nil || budget <= 0 || len(c) == 0 {
		return c, nil
	}

	costs := make([]int, len(c))
	total := 0
	for i, t := range c {
		n, err := counter.Count(t.Content)
		if err != nil {
			return nil, err
		}
		costs[i] = n
		total += n
	}

	start := 0
	if c[0].Role == RoleSystem {
		start = 1
	}

	drop := start
	for total > budget && drop < len(c)-1 {
		total -= costs[drop]
		drop++
	}

	if drop == start {
		return c, nil
	}

	out := make(Conversation, 0, len(c)-(drop-start))
	out = append(out, c[:start]...)
	out = append(out, c[drop:]...)
	return out, nil
}
