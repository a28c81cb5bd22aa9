// Command reel runs the highlight-extraction pipeline for one stream. The
// job arrives as a JSON message in the REEL_JOB environment variable; a
// missing or malformed message is a no-op exit without error, matching the
// batch orchestrator's retry-safe contract.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/reel/internal/config"
	"github.com/zsiec/reel/internal/container"
	"github.com/zsiec/reel/internal/lifecycle"
	"github.com/zsiec/reel/internal/llmclient"
	"github.com/zsiec/reel/internal/metrics"
	"github.com/zsiec/reel/internal/store"
)

type job struct {
	StreamID  string `json:"stream_id"`
	StreamURL string `json:"stream_url"`
}

func main() {
	os.Exit(run())
}

func run() int {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	j, ok := parseJob(cfg.Job)
	if !ok {
		slog.Warn("no usable job message, nothing to do")
		return 0
	}
	if j.StreamID == "" {
		j.StreamID = uuid.NewString()
	}
	slog.Info("job accepted", "stream_id", j.StreamID, "stream_url", j.StreamURL)

	if strings.HasPrefix(j.StreamURL, "http://") || strings.HasPrefix(j.StreamURL, "https://") {
		sniffVideoURL(ctx, j.StreamURL)
	}

	st, err := store.Connect(ctx, cfg.DatabaseDSN, cfg.DBRetries)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		return 1
	}
	if err := st.Migrate(ctx); err != nil {
		slog.Error("failed to apply migrations", "error", err)
		st.Close()
		return 1
	}
	if err := st.CreateStream(ctx, j.StreamID, j.StreamURL); err != nil {
		slog.Error("failed to create stream row", "error", err)
		st.Close()
		return 1
	}

	src, err := openSource(ctx, j.StreamURL)
	if err != nil {
		slog.Error("failed to open stream source", "error", err)
		st.Close()
		return 1
	}

	llm := llmclient.New(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	met := metrics.New()
	serveMetrics(cfg.MetricsAddr, met)

	ctrl := lifecycle.New(cfg, j.StreamID, lifecycle.Services{
		Store:     st,
		Source:    src,
		Captioner: llmclient.NewCaptioner(llm),
		Grouper:   llmclient.NewGrouper(llm),
		Arbiter:   llmclient.NewEdgeArbiter(llm),
		Metrics:   met,
	}, nil)

	if err := ctrl.Run(ctx); err != nil {
		slog.Error("run failed", "stream_id", j.StreamID, "error", err)
		return 1
	}
	return 0
}

// parseJob decodes the REEL_JOB message. Anything unusable is reported as
// not-ok so the process can exit cleanly without touching the store.
func parseJob(raw string) (job, bool) {
	if strings.TrimSpace(raw) == "" {
		return job{}, false
	}
	var j job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		slog.Warn("malformed job message", "error", err)
		return job{}, false
	}
	if j.StreamURL == "" {
		slog.Warn("job message missing stream_url")
		return job{}, false
	}
	return j, true
}

// sniffVideoURL does a best-effort content-type check on an HTTP(S) source.
// The result is logged only; an unreachable or oddly-typed URL still gets a
// full pipeline attempt.
func sniffVideoURL(ctx context.Context, url string) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, url, nil)
	if err != nil {
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		slog.Warn("could not probe stream url", "error", err)
		return
	}
	resp.Body.Close()

	ct := resp.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "video/") || ct == "application/octet-stream" {
		slog.Info("stream url looks like video", "content_type", ct)
	} else {
		slog.Warn("stream url content type is unexpected", "content_type", ct)
	}
}

// openSource wraps the stream URL (file path or HTTP(S) URL) as an unopened
// container.Source; the lifecycle controller opens it.
func openSource(ctx context.Context, url string) (container.Source, error) {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, &container.StreamOpenError{Reason: "unexpected status " + resp.Status}
		}
		return container.NewFileSource(resp.Body), nil
	}

	f, err := os.Open(url)
	if err != nil {
		return nil, err
	}
	return container.NewFileSource(f), nil
}

// serveMetrics exposes the Prometheus registry when METRICS_ADDR is set.
func serveMetrics(addr string, met *metrics.Metrics) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", met.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Warn("metrics server stopped", "error", err)
		}
	}()
}
