// Package llmclient wraps anthropic-sdk-go behind the three black-box LLM
// contracts the pipeline depends on: Captioner, Grouper, and EdgeArbiter.
// Each contract is a single request/response round trip at temperature 0
// with a fixed system prompt; the model is asked to answer with nothing but
// a JSON object, which the caller parses.
package llmclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Client is a thin wrapper around the Anthropic Messages API used by every
// contract in this package.
type Client struct {
	sdk   anthropic.Client
	model anthropic.Model
}

// New constructs a Client bound to one model, authenticated with apiKey.
func New(apiKey, model string) *Client {
	return &Client{
		sdk:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model: anthropic.Model(model),
	}
}

// textImageMessage sends one user message carrying text plus a list of JPEG
// images, with the given system prompt and temperature 0, and returns the
// concatenated text of the response.
func (c *Client) textImageMessage(ctx context.Context, systemPrompt, text string, jpegs [][]byte, maxTokens int64) (string, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(jpegs)+1)
	for _, img := range jpegs {
		encoded := base64.StdEncoding.EncodeToString(img)
		blocks = append(blocks, anthropic.NewImageBlockBase64("image/jpeg", encoded))
	}
	if text != "" {
		blocks = append(blocks, anthropic.NewTextBlock(text))
	}

	message, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages.new: %w", err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if text := block.Text; text != "" {
			sb.WriteString(text)
		}
	}
	return sb.String(), nil
}

// extractJSON returns the span of s from its first '{' to its last '}',
// tolerating prose the model wrote around the object despite being asked
// not to.
func extractJSON(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", fmt.Errorf("no JSON object found in response")
	}
	return s[start : end+1], nil
}

func decodeJSON(s string, out any) error {
	raw, err := extractJSON(s)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode json response: %w", err)
	}
	return nil
}
