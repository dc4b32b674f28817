package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic summarizes prompts with the Claude Messages API.
type Anthropic struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropic creates a Claude-backed Summarizer. Extra request options
// (base URL, retries) are passed through to the SDK client.
func NewAnthropic(apiKey, model string, maxTokens int, opts ...option.RequestOption) *Anthropic {
	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &Anthropic{client: &client, model: model, maxTokens: int64(maxTokens)}
}

// Model returns the configured model name.
func (a *Anthropic) Model() string { return a.model }

// Summarize sends prompt as a single user message and concatenates the text
// blocks of the reply.
func (a *Anthropic) Summarize(ctx context.Context, prompt string) (Completion, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Completion{}, fmt.Errorf("claude messages: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return Completion{
		Text:         text.String(),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}
