// Package llm talks to the language model that turns statistics into
// advice. Providers sit behind Completer; Handler adds the conversation
// housekeeping and turns failures into a polite reply.
package llm

import (
	"context"
	"strings"
)

// Role tags a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Completer is implemented by every model provider.
type Completer interface {
	// Complete sends messages to the model. With stream set the returned
	// Response yields chunks as the provider produces them.
	Complete(ctx context.Context, messages []Message, stream bool) (*Response, error)
}

// JoinPrompt flattens messages into "role: content" lines for providers that
// take a single prompt.
func JoinPrompt(messages []Message) string {
	lines := make([]string, len(messages))
	for i, m := range messages {
		lines[i] = string(m.Role) + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}
