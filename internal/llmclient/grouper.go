package llmclient

import (
	"context"
	"fmt"
	"strings"
)

const groupingSystemPrompt = `You are an AI assistant that groups sentences describing the same event.
You will be given a sequence of sentences in order describing the scenes from a video. Follow these steps:
1. Read the full list of sentences.
2. Compare adjacent sentences and decide whether each pair belongs to the same event.
3. Merge contiguous sentences into a group when they describe the same event.
4. Each group must be contiguous (consecutive indexes).
5. Give each group a short descriptive title (3-6 words). Do not give generic titles; name the highlight itself.
6. Return only a valid JSON object with a top-level key "groups" whose value is a list of groups. Each group is an object with "title" and "indexes" (0-based list of integers).
7. Do not output any reasoning, explanations, or extra text — only the JSON.
8. If a sentence is unique, it becomes a single-item group.`

// Group is one titled, contiguous run of caption indexes the grouping LLM
// proposed.
type Group struct {
	Title   string `json:"title"`
	Indexes []int  `json:"indexes"`
}

// Grouper is the §6 contract: (system prompt, captions) -> ordered groups.
type Grouper struct {
	client *Client
}

// NewGrouper constructs a Grouper over client.
func NewGrouper(client *Client) *Grouper {
	return &Grouper{client: client}
}

type groupResponse struct {
	Groups []Group `json:"groups"`
}

// Group asks the model to partition captions into titled contiguous groups.
func (g *Grouper) Group(ctx context.Context, captions []string) ([]Group, error) {
	numbered := make([]string, len(captions))
	for i, c := range captions {
		numbered[i] = fmt.Sprintf("%d: %s", i, c)
	}
	text := strings.Join(numbered, "\n")

	responseText, err := g.client.textImageMessage(ctx, groupingSystemPrompt, text, nil, 500)
	if err != nil {
		return nil, err
	}

	var resp groupResponse
	if err := decodeJSON(responseText, &resp); err != nil {
		return nil, fmt.Errorf("parse group response: %w", err)
	}
	return resp.Groups, nil
}
