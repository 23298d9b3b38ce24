// Package llm is the text-generation collaborator used by the post-session
// pipeline.
package llm

import (
	"context"
	"errors"
)

// ErrNoContent is returned when the backend answers with no choices.
var ErrNoContent = errors.New("llm returned no content")

// Role is a chat message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    Role
	Content string
}

// Complexity hints which model tier should serve a request.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityComplex Complexity = "complex"
)

// Options tune a single completion.
type Options struct {
	MaxTokens   int
	Temperature float32
}

// Usage is the token accounting reported by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is a finished completion.
type Response struct {
	Content  string
	Provider string
	Model    string
	Usage    Usage
}

// Generator is the interface all text-generation backends implement
type Generator interface {
	Complete(ctx context.Context, messages []Message, complexity Complexity, opts Options) (*Response, error)
}
