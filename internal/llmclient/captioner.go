package llmclient

import (
	"context"
	"fmt"
)

const captionSystemPrompt = `You are scoring a short video clip for highlight-reel potential.
Given the clip's transcript and a small set of representative frames, respond
with nothing but a single JSON object: {"caption": string, "highlight_score": number}.
highlight_score must be a number between 0 and 1, where 1 means this clip is an
unmissable highlight and 0 means it is unremarkable. Do not include any text
before or after the JSON object.`

// Captioner is the §6 contract: (system prompt, images, transcript text) ->
// {caption, highlight_score}.
type Captioner struct {
	client *Client
}

// NewCaptioner constructs a Captioner over client.
func NewCaptioner(client *Client) *Captioner {
	return &Captioner{client: client}
}

type captionResponse struct {
	Caption        string  `json:"caption"`
	HighlightScore float64 `json:"highlight_score"`
}

// Caption asks the model to caption a clip and score its highlight
// potential given its transcript and sampled frames.
func (c *Captioner) Caption(ctx context.Context, transcript string, jpegs [][]byte) (caption string, highlightScore float64, err error) {
	text, err := c.client.textImageMessage(ctx, captionSystemPrompt, transcript, jpegs, 1024)
	if err != nil {
		return "", 0, err
	}

	var resp captionResponse
	if err := decodeJSON(text, &resp); err != nil {
		return "", 0, fmt.Errorf("parse caption response: %w", err)
	}
	if resp.HighlightScore < 0 {
		resp.HighlightScore = 0
	}
	if resp.HighlightScore > 1 {
		resp.HighlightScore = 1
	}
	return resp.Caption, resp.HighlightScore, nil
}
