// Package openaimodel adapts the OpenAI Chat Completions API to
// llmplanner.TextGenerator, mirroring the narrow-client-interface pattern of
// the runtime's features/model/openai adapter but built on
// github.com/openai/openai-go, the SDK this module actually depends on.
package openaimodel

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ChatCompletionsClient captures the subset of the OpenAI SDK used here.
type ChatCompletionsClient interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Options configures the adapter.
type Options struct {
	// Model is the model identifier used for every request.
	Model string
}

// Client implements llmplanner.TextGenerator on top of OpenAI Chat
// Completions.
type Client struct {
	chat  ChatCompletionsClient
	model string
}

// New builds a Client from an OpenAI chat completions client and options.
func New(chat ChatCompletionsClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openaimodel: chat completions client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("openaimodel: model is required")
	}
	return &Client{chat: chat, model: opts.Model}, nil
}

// NewFromAPIKey constructs a Client using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openaimodel: api key is required")
	}
	oc := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&oc.Chat.Completions, Options{Model: model})
}

// Generate issues a single-turn chat completion and returns the first
// choice's message content.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(userPrompt))

	completion, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("openaimodel: chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("openaimodel: no completion choices returned")
	}
	return completion.Choices[0].Message.Content, nil
}
