package boundary

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/internal/model"
)

func wordsFromText(topicA, topicB []string, step float64) []model.WordItem {
	var words []model.WordItem
	t := 0.0
	for _, content := range append(append([]string{}, topicA...), topicB...) {
		words = append(words, model.WordItem{Content: content, StartTime: t, EndTime: t + step, Type: "pronunciation"})
		t += step
	}
	return words
}

func TestDetectTopicBoundaries_TooFewTokensReturnsEmpty(t *testing.T) {
	words := wordsFromText([]string{"a", "b", "c"}, nil, 1.0)
	require.Empty(t, DetectTopicBoundaries(words, 20, 10, 2, 0.5))
}

func TestDetectTopicBoundaries_FindsShiftBetweenDistinctVocabularies(t *testing.T) {
	topicA := make([]string, 30)
	for i := range topicA {
		topicA[i] = "ocean"
	}
	topicB := make([]string, 30)
	for i := range topicB {
		topicB[i] = "rocket"
	}
	words := wordsFromText(topicA, topicB, 0.5)

	boundaries := DetectTopicBoundaries(words, 20, 5, 2, 0.5)
	require.NotEmpty(t, boundaries)
	for i := 1; i < len(boundaries); i++ {
		require.Greater(t, boundaries[i], boundaries[i-1])
	}
}

func TestDetectTopicBoundaries_IgnoresNonPronunciationTokens(t *testing.T) {
	words := wordsFromText([]string{"word"}, nil, 1.0)
	for i := range words {
		words[i].Type = "punctuation"
	}
	require.Empty(t, DetectTopicBoundaries(words, 1, 1, 1, 0.5))
}
