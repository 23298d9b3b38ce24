package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/joss/copilot/internal/config"
)

// OpenAI implements Generator against the OpenAI chat completions API or any
// compatible endpoint.
type OpenAI struct {
	cfg    config.AIConfig
	client *openai.Client
}

// NewOpenAI creates an OpenAI generator.
func NewOpenAI(cfg config.AIConfig) (*OpenAI, error) {
	if !cfg.Enabled() {
		return nil, errors.New("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	return &OpenAI{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientConfig),
	}, nil
}

// Model returns the model serving a complexity tier.
func (p *OpenAI) Model(c Complexity) string {
	if c == ComplexityComplex && p.cfg.ComplexModel != "" {
		return p.cfg.ComplexModel
	}
	if p.cfg.SimpleModel != "" {
		return p.cfg.SimpleModel
	}
	return "gpt-4o-mini"
}

// Complete performs a non-streaming completion
func (p *OpenAI) Complete(ctx context.Context, messages []Message, complexity Complexity, opts Options) (*Response, error) {
	req := openai.ChatCompletionRequest{
		Model:       p.Model(complexity),
		Messages:    convertMessages(messages),
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoContent
	}

	return &Response{
		Content:  resp.Choices[0].Message.Content,
		Provider: "openai",
		Model:    resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}
