// Package anthropicmodel adapts the Anthropic Claude Messages API to
// llmplanner.TextGenerator, following the narrow-client-interface pattern of
// the runtime's features/model/anthropic adapter (a MessagesClient interface
// satisfied by *anthropic-sdk-go's MessageService or a test double, plus an
// Options struct carrying the model identifier and generation defaults).
package anthropicmodel

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// MessagesClient captures the subset of the Anthropic SDK used here, so
// tests can substitute a mock instead of a live client.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the adapter.
type Options struct {
	// Model is the Claude model identifier used for every request.
	Model string
	// MaxTokens bounds the completion length. Defaults to 4096.
	MaxTokens int
}

// Client implements llmplanner.TextGenerator on top of Anthropic Messages.
type Client struct {
	msg       MessagesClient
	model     string
	maxTokens int
}

// New builds a Client from an Anthropic Messages client and options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropicmodel: messages client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("anthropicmodel: model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{msg: msg, model: opts.Model, maxTokens: maxTokens}, nil
}

// NewFromAPIKey constructs a Client using the default Anthropic HTTP client
// authenticated with apiKey. An empty apiKey is an error.
func NewFromAPIKey(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropicmodel: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{Model: model})
}

// Generate issues a single-turn Messages.New request and returns the
// concatenated text of every text content block in the reply.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(userPrompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: systemPrompt}}
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropicmodel: messages.new: %w", err)
	}
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}
