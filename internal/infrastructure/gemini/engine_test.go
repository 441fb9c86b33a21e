package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Leyaaaan1/saas-apify/internal/config"
	"github.com/Leyaaaan1/saas-apify/internal/domain"
	"github.com/Leyaaaan1/saas-apify/internal/ratelimit"
)

func testConfig(endpoint string) config.GeminiConfig {
	return config.GeminiConfig{
		Endpoint:        endpoint,
		Model:           "test-model",
		APIKey:          "test-key",
		CallsPerSecond:  1000,
		WindowCalls:     100,
		Window:          config.Duration(time.Minute),
		RetryBudget:     1,
		ThrottleBackoff: config.Duration(10 * time.Millisecond),
	}
}

func newTestEngine(endpoint string) *Engine {
	cfg := testConfig(endpoint)
	quota := ratelimit.NewQuota(cfg.CallsPerSecond, cfg.WindowCalls, cfg.Window.Std())
	return New(cfg, quota, nil)
}

func modelResponse(text string) string {
	payload := map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]string{{"text": text}}}},
		},
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

func TestAnalyzePrimaryPath(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		fmt.Fprint(w, modelResponse(`{"sentiment":"positive","summary":"A launch went well.","keywords":["launch","growth","release"]}`))
	}))
	defer srv.Close()

	engine := newTestEngine(srv.URL)
	result := engine.Analyze(context.Background(), "Launch day", "Everything shipped.")

	if result.Sentiment != domain.SentimentPositive {
		t.Fatalf("expected positive, got %s", result.Sentiment)
	}
	if result.Engine != domain.EngineAIModel {
		t.Fatalf("expected ai-model provenance, got %q", result.Engine)
	}
	if result.Model != "test-model" {
		t.Fatalf("expected model identifier, got %q", result.Model)
	}
	if len(result.Keywords) != 3 {
		t.Fatalf("expected 3 keywords, got %v", result.Keywords)
	}
}

func TestAnalyzeStripsCodeFences(t *testing.T) {
	t.Parallel()

	fenced := "```json\n{\"sentiment\":\"neutral\",\"summary\":\"A report.\",\"keywords\":[\"report\",\"metrics\",\"quarter\"]}\n```"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, modelResponse(fenced))
	}))
	defer srv.Close()

	engine := newTestEngine(srv.URL)
	result := engine.Analyze(context.Background(), "Q3 report", "numbers")

	if result.Engine != domain.EngineAIModel {
		t.Fatalf("fenced JSON should still parse, got provenance %q", result.Engine)
	}
	if result.Sentiment != domain.SentimentNeutral {
		t.Fatalf("expected neutral, got %s", result.Sentiment)
	}
}

func TestAnalyzeInvalidStructureFallsBackPerCall(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		// Only two keywords: fails validation.
		fmt.Fprint(w, modelResponse(`{"sentiment":"positive","summary":"ok","keywords":["one","two"]}`))
	}))
	defer srv.Close()

	engine := newTestEngine(srv.URL)

	result := engine.Analyze(context.Background(), "Some title here", "")
	if result.Engine != domain.EngineFallback {
		t.Fatalf("invalid structure should fall back, got %q", result.Engine)
	}
	if engine.Degraded() {
		t.Fatal("non-throttle failure must not degrade the engine")
	}

	// The next call still attempts the remote path.
	engine.Analyze(context.Background(), "Another title", "")
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 remote attempts, got %d", got)
	}
}

func TestAnalyzeThrottleDegradesPermanently(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	engine := newTestEngine(srv.URL)

	result := engine.Analyze(context.Background(), "Throttled post", "content")
	if result.Engine != domain.EngineFallback {
		t.Fatalf("expected fallback result, got %q", result.Engine)
	}
	if !engine.Degraded() {
		t.Fatal("engine should be degraded after exhausting the retry budget")
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected initial call plus one retry, got %d", got)
	}

	// Degraded: no further remote calls, fallback provenance always.
	for i := 0; i < 3; i++ {
		next := engine.Analyze(context.Background(), fmt.Sprintf("post %d", i), "")
		if next.Engine != domain.EngineFallback {
			t.Fatalf("degraded engine must stay on fallback, got %q", next.Engine)
		}
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("degraded engine made a remote call: %d total", got)
	}
}

func TestResetDegradationRestoresPrimary(t *testing.T) {
	t.Parallel()

	var throttle atomic.Bool
	throttle.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if throttle.Load() {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, modelResponse(`{"sentiment":"negative","summary":"A complaint.","keywords":["refund","support","delay"]}`))
	}))
	defer srv.Close()

	engine := newTestEngine(srv.URL)
	engine.Analyze(context.Background(), "first", "")
	if !engine.Degraded() {
		t.Fatal("expected degraded engine")
	}

	throttle.Store(false)
	engine.ResetDegradation()

	result := engine.Analyze(context.Background(), "second", "")
	if result.Engine != domain.EngineAIModel {
		t.Fatalf("after reset the remote path should be used, got %q", result.Engine)
	}
}

func TestAnalyzeServerErrorFallsBackPerCall(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	engine := newTestEngine(srv.URL)
	result := engine.Analyze(context.Background(), "title", "content")

	if result.Engine != domain.EngineFallback {
		t.Fatalf("expected fallback, got %q", result.Engine)
	}
	if engine.Degraded() {
		t.Fatal("4xx must not degrade the engine")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		a       domain.Analysis
		wantErr bool
	}{
		{"valid", domain.Analysis{Sentiment: domain.SentimentPositive, Summary: "ok", Keywords: []string{"a", "b", "c"}}, false},
		{"bad sentiment", domain.Analysis{Sentiment: "excited", Summary: "ok", Keywords: []string{"a", "b", "c"}}, true},
		{"empty summary", domain.Analysis{Sentiment: domain.SentimentNeutral, Summary: "", Keywords: []string{"a", "b", "c"}}, true},
		{"too few keywords", domain.Analysis{Sentiment: domain.SentimentNeutral, Summary: "ok", Keywords: []string{"a", "b"}}, true},
		{"empty keyword", domain.Analysis{Sentiment: domain.SentimentNeutral, Summary: "ok", Keywords: []string{"a", "", "c"}}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validate(tc.a)
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	raw := "Here you go:\n```json\n{\"sentiment\":\"neutral\"}\n```\nHope that helps."
	got := extractJSON(raw)
	if got != `{"sentiment":"neutral"}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}
