// Package llm contains the completion backends the support responder can use.
package llm

import (
	"context"
	"errors"
)

var (
	ErrNoAPIKey    = errors.New("llm: API key is required")
	ErrEmptyReply  = errors.New("llm: completion service returned no text")
	ErrBadResponse = errors.New("llm: completion service returned an error")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r may appear in conversation history.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// Completer turns a conversation into the next assistant message.
type Completer interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}
