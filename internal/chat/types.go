// Package chat implements the conversation pipeline: prompt assembly over the
// knowledge excerpt and the per-request flow from raw input to final answer.
package chat

import "context"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Message is one turn of a conversation in upstream wire shape.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Completer produces an assistant answer for an assembled prompt. Implemented
// by the upstream completion client; faked in tests.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// KnowledgeSource selects business facts relevant to a user message.
type KnowledgeSource interface {
	Excerpt(userMessage string) string
}
