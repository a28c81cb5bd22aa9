package store

import (
	"encoding/json"

	"github.com/zsiec/reel/internal/model"
)

func marshalHighlights(highlights []model.Highlight) ([]byte, error) {
	if highlights == nil {
		highlights = []model.Highlight{}
	}
	return json.Marshal(highlights)
}

func unmarshalHighlights(raw []byte, out *[]model.Highlight) error {
	return json.Unmarshal(raw, out)
}
