// Package openai wires github.com/openai/openai-go into the core
// memory engine's opaque ExtractFn/ConsolidateFn signatures. Deliberately
// outside pkg/memory: the core package never imports openai-go types,
// only the string->string function shape it defines.
//
// Grounded on pkg/ai/openai.go's Service (client construction, a single
// Completions call taking messages+model). Each prompt is sent as a
// single user message; no system prompt and no tool definitions.
package openai

import (
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Client drives chat completions for the Fact Extractor and
// Consolidator. One Client instance may back both memory.ExtractFn and
// memory.ConsolidateFn via its Extract/Consolidate methods.
type Client struct {
	client oai.Client
	model  string
}

// NewClient constructs a Client against the given API base URL, key,
// and chat model.
func NewClient(apiKey, baseURL, model string) *Client {
	c := oai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(baseURL))
	return &Client{client: c, model: model}
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	completion, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

// Extract satisfies memory.ExtractFn: it drives the Extractor LLM with
// the Fact Extractor's JSON-envelope prompt built by extractor.BuildPrompt.
func (c *Client) Extract(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, prompt)
}

// Consolidate satisfies memory.ConsolidateFn: it drives the
// Consolidation LLM with the plain-text prompt built by
// consolidator.BuildPrompt.
func (c *Client) Consolidate(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, prompt)
}
