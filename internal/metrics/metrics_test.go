package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountersAccumulate(t *testing.T) {
	m := New()

	m.WindowScored()
	m.WindowScored()
	m.HighlightsEmitted(3)
	m.LLMCall("captioner", "ok")
	m.LLMCall("captioner", "error")
	m.StageDone("clip_scorer")

	require.Equal(t, 2.0, testutil.ToFloat64(m.windowsScored))
	require.Equal(t, 3.0, testutil.ToFloat64(m.highlightsEmitted))
	require.Equal(t, 1.0, testutil.ToFloat64(m.llmCalls.WithLabelValues("captioner", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.stageDone.WithLabelValues("clip_scorer")))
}

func TestMetrics_NilIsInert(t *testing.T) {
	var m *Metrics
	m.WindowScored()
	m.HighlightsEmitted(1)
	m.LLMCall("grouper", "ok")
	m.StageDone("audio_processor")
}

func TestMetrics_HandlerServesRegistry(t *testing.T) {
	m := New()
	m.WindowScored()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "reel_windows_scored_total 1")
}
