package assembler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/internal/latch"
	"github.com/zsiec/reel/internal/llmclient"
	"github.com/zsiec/reel/internal/model"
	"github.com/zsiec/reel/internal/refine"
)

type fakeScoreReader struct {
	rows []model.ScoreRow

	// hidden rows beyond this index are invisible to the first fetch only,
	// simulating a read that races the scorer's inserts. 0 means all visible.
	hidden int

	maxCount int
}

func (f *fakeScoreReader) ScoresByOffset(ctx context.Context, streamID string, offset, count int) ([]model.ScoreRow, error) {
	if count > f.maxCount {
		f.maxCount = count
	}
	visible := len(f.rows)
	if f.hidden > 0 {
		visible = f.hidden
		f.hidden = 0
	}
	if offset >= visible {
		return nil, nil
	}
	end := offset + count
	if end > visible {
		end = visible
	}
	return f.rows[offset:end], nil
}

func (f *fakeScoreReader) HasMoreScoresAfter(ctx context.Context, streamID string, afterStartTime float64) (bool, error) {
	for _, row := range f.rows {
		if row.StartTime > afterStartTime {
			return true, nil
		}
	}
	return false, nil
}

type fakeStreamStore struct {
	mu         sync.Mutex
	highlights []model.Highlight
	replaces   int
}

func (f *fakeStreamStore) GetStream(ctx context.Context, streamID string) (model.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return model.Stream{StreamID: streamID, Highlights: f.highlights}, nil
}

func (f *fakeStreamStore) ReplaceHighlights(ctx context.Context, streamID string, highlights []model.Highlight) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.highlights = highlights
	f.replaces++
	return nil
}

type fakeWordSource struct {
	chunks []model.AudioChunkRow
}

func (f *fakeWordSource) AudioChunksAll(ctx context.Context, streamID string) ([]model.AudioChunkRow, error) {
	return f.chunks, nil
}

type fakeGrouper struct {
	groups map[string][]llmclient.Group // keyed by first caption of the block
	err    error
}

func (f *fakeGrouper) Group(ctx context.Context, captions []string) ([]llmclient.Group, error) {
	if f.err != nil {
		return nil, f.err
	}
	if g, ok := f.groups[captions[0]]; ok {
		return g, nil
	}
	all := make([]int, len(captions))
	for i := range all {
		all[i] = i
	}
	return []llmclient.Group{{Title: "whole block", Indexes: all}}, nil
}

// keepRefiner always answers with the snapped window unchanged.
type keepRefiner struct{}

func (keepRefiner) Refine(ctx context.Context, in refine.Input) (float64, float64) {
	return in.SnappedStart, in.SnappedEnd
}

func testConfig(streamID, baseDir string) Config {
	return Config{
		StreamID:            streamID,
		BaseDir:             baseDir,
		HighlightChunk:      35,
		CandidateSlice:      5.0,
		MinLen:              4.0,
		MaxLen:              12.0,
		MaxEdgeShiftSeconds: 3.0,
		FPS:                 1.0,
		TextTilingBlock:     20,
		TextTilingStep:      10,
		TextTilingSmooth:    2,
		CutoffStd:           0.5,
	}
}

// scoreRows builds rows at 5s slices whose mask matches the given bits.
func scoreRows(bits []int) []model.ScoreRow {
	rows := make([]model.ScoreRow, len(bits))
	for i, b := range bits {
		score := 0.1
		if b == 1 {
			score = 0.9
		}
		rows[i] = model.ScoreRow{
			StreamID:       "s1",
			StartTime:      float64(i) * 5.0,
			EndTime:        float64(i+1) * 5.0,
			HighlightScore: score,
			Caption:        fmt.Sprintf("caption %d", i),
		}
	}
	return rows
}

func TestAssembler_EmitsGroupedHighlightsWithoutRefinement(t *testing.T) {
	rows := scoreRows([]int{1, 1, 0, 1, 0, 0, 1})
	grouper := &fakeGrouper{groups: map[string][]llmclient.Group{
		// Block (0,3) after consolidation: split into two titled subgroups.
		"caption 0": {
			{Title: "Opening rally", Indexes: []int{0, 1}},
			{Title: "Counterattack", Indexes: []int{2, 3}},
		},
	}}
	streams := &fakeStreamStore{}
	scorerDone := latch.New()
	scorerDone.Set()

	a := New(testConfig("s1", t.TempDir()), &fakeScoreReader{rows: rows}, streams,
		&fakeWordSource{}, grouper, nil, scorerDone, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx))

	require.Len(t, streams.highlights, 3)

	first := streams.highlights[0]
	require.Equal(t, "Opening rally", first.Title)
	require.Equal(t, 0.0, first.StartTime)
	require.Equal(t, 10.0, first.EndTime)
	require.Equal(t, "caption 0 caption 1", first.Caption)
	require.Equal(t, "frame_000000000.jpg", first.Thumbnail)

	second := streams.highlights[1]
	require.Equal(t, "Counterattack", second.Title)
	require.Equal(t, 10.0, second.StartTime)
	require.Equal(t, 20.0, second.EndTime)

	third := streams.highlights[2]
	require.Equal(t, "whole block", third.Title)
	require.Equal(t, 30.0, third.StartTime)
	require.Equal(t, 35.0, third.EndTime)
	require.Equal(t, "frame_000000030.jpg", third.Thumbnail)
}

func TestAssembler_FetchesOneBlockOfRowsPerIteration(t *testing.T) {
	// 10 rows against a 35s chunk (7 rows per block): the first iteration
	// must fetch exactly one block's worth, leaving rows 7..9 for a second
	// iteration rather than pulling the whole backlog at once.
	rows := scoreRows([]int{1, 1, 0, 0, 0, 0, 0, 1, 1, 1})
	reader := &fakeScoreReader{rows: rows}
	streams := &fakeStreamStore{}
	scorerDone := latch.New()
	scorerDone.Set()

	a := New(testConfig("s1", t.TempDir()), reader, streams,
		&fakeWordSource{}, &fakeGrouper{}, nil, scorerDone, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx))

	require.Equal(t, 7, reader.maxCount)
	require.Len(t, streams.highlights, 2)
	require.Equal(t, 0.0, streams.highlights[0].StartTime)
	require.Equal(t, 10.0, streams.highlights[0].EndTime)
	require.Equal(t, 35.0, streams.highlights[1].StartTime)
	require.Equal(t, 50.0, streams.highlights[1].EndTime)
}

func TestAssembler_RetriesShortBlockWhenMoreRowsPending(t *testing.T) {
	// The first fetch races the scorer and sees only 5 of 8 rows. Since more
	// rows already exist past the short block, the assembler must refetch
	// instead of processing and advancing past it.
	rows := scoreRows([]int{1, 1, 1, 1, 1, 1, 1, 1})
	reader := &fakeScoreReader{rows: rows, hidden: 5}
	streams := &fakeStreamStore{}
	scorerDone := latch.New()
	scorerDone.Set()

	a := New(testConfig("s1", t.TempDir()), reader, streams,
		&fakeWordSource{}, &fakeGrouper{}, nil, scorerDone, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx))

	// A processed 5-row block would have produced a (0, 25) highlight.
	require.Len(t, streams.highlights, 2)
	require.Equal(t, 0.0, streams.highlights[0].StartTime)
	require.Equal(t, 35.0, streams.highlights[0].EndTime)
	require.Equal(t, 35.0, streams.highlights[1].StartTime)
	require.Equal(t, 40.0, streams.highlights[1].EndTime)
}

func TestAssembler_KeepBaselineWithEmptyBoundaries(t *testing.T) {
	// Scenario: no scene or topic boundaries exist and the refiner keeps the
	// snapped window; the highlight equals the original group bounds.
	rows := scoreRows([]int{1, 1})
	streams := &fakeStreamStore{}
	scorerDone := latch.New()
	scorerDone.Set()

	cfg := testConfig("s1", t.TempDir())
	cfg.AgenticRefinement = true
	a := New(cfg, &fakeScoreReader{rows: rows}, streams,
		&fakeWordSource{}, &fakeGrouper{}, keepRefiner{}, scorerDone, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx))

	require.Len(t, streams.highlights, 1)
	h := streams.highlights[0]
	require.Equal(t, 0.0, h.StartTime)
	require.Equal(t, 10.0, h.EndTime)
	require.Equal(t, model.EdgeOriginal, h.StartSource)
	require.Equal(t, model.EdgeOriginal, h.EndSource)
}

func TestAssembler_GrouperFailureFallsBackToWholeBlock(t *testing.T) {
	rows := scoreRows([]int{1, 1, 1})
	streams := &fakeStreamStore{}
	scorerDone := latch.New()
	scorerDone.Set()

	a := New(testConfig("s1", t.TempDir()), &fakeScoreReader{rows: rows}, streams,
		&fakeWordSource{}, &fakeGrouper{err: fmt.Errorf("bad gateway")}, nil, scorerDone, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx))

	require.Len(t, streams.highlights, 1)
	require.Equal(t, 0.0, streams.highlights[0].StartTime)
	require.Equal(t, 15.0, streams.highlights[0].EndTime)
	require.Equal(t, "caption 0", streams.highlights[0].Title)
}

func TestAssembler_NoMaskedRowsPersistsNothing(t *testing.T) {
	rows := scoreRows([]int{0, 0, 0})
	streams := &fakeStreamStore{}
	scorerDone := latch.New()
	scorerDone.Set()

	a := New(testConfig("s1", t.TempDir()), &fakeScoreReader{rows: rows}, streams,
		&fakeWordSource{}, &fakeGrouper{}, nil, scorerDone, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx))

	require.Zero(t, streams.replaces)
	require.Empty(t, streams.highlights)
}

func TestFinalize_RevertsInvalidWindows(t *testing.T) {
	cfg := testConfig("s1", t.TempDir())
	a := New(cfg, nil, nil, nil, nil, nil, latch.New(), nil, nil)

	// Refined window too short: revert to snapped.
	start, end, refined := a.finalize(10, 20, 9.5, 20.5, 12, 13)
	require.Equal(t, 9.5, start)
	require.Equal(t, 20.5, end)
	require.True(t, refined)

	// Snapped also invalid (shifted past the clamp): revert to original.
	start, end, refined = a.finalize(10, 20, 2, 30, 12, 13)
	require.Equal(t, 10.0, start)
	require.Equal(t, 20.0, end)
	require.False(t, refined)

	// Valid refined window passes through.
	start, end, refined = a.finalize(10, 20, 10, 20, 9.5, 20.5)
	require.Equal(t, 9.5, start)
	require.Equal(t, 20.5, end)
	require.True(t, refined)
}

func TestTranscriptExcerpt_FiltersByWindowAndType(t *testing.T) {
	words := []model.WordItem{
		{Content: "before", StartTime: 4.0, Type: "pronunciation"},
		{Content: "hello", StartTime: 10.5, Type: "pronunciation"},
		{Content: ",", StartTime: 10.6, Type: "punctuation"},
		{Content: "world", StartTime: 11.0, Type: "pronunciation"},
		{Content: "after", StartTime: 25.0, Type: "pronunciation"},
	}
	require.Equal(t, "hello world", transcriptExcerpt(words, 10.0, 20.0))
	require.Equal(t, "", transcriptExcerpt(nil, 0, 100))
}

func TestFallbackTitle(t *testing.T) {
	require.Equal(t, "a b c d e f", fallbackTitle([]string{"a b c d e f g h"}))
	require.Equal(t, "short one", fallbackTitle([]string{"", "short one"}))
	require.Equal(t, "Untitled highlight", fallbackTitle([]string{"", "  "}))
}
