package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Leyaaaan1/saas-apify/internal/config"
	"github.com/Leyaaaan1/saas-apify/internal/domain"
	"github.com/Leyaaaan1/saas-apify/internal/fallback"
	"github.com/Leyaaaan1/saas-apify/internal/ports"
	"github.com/Leyaaaan1/saas-apify/internal/ratelimit"
)

const (
	requestTimeout  = 30 * time.Second
	maxSummaryChars = 500
	minKeywords     = 3
	maxKeywords     = 10
)

var errThrottled = errors.New("throttled by inference service")

const analyzePrompt = `You are an expert AI analyzer. Analyze the following post and provide a structured JSON response.

Your analysis should include:
1. Sentiment Analysis: Determine if the overall tone is positive, neutral, or negative
2. Summary Generation: Create a concise 1-2 sentence summary capturing the main point
3. Keyword Extraction: Extract 3-5 most relevant and meaningful keywords

Post:
Title: %s

Content: %s

Respond with ONLY a valid JSON object in this exact format (no markdown, no explanations):
{
  "sentiment": "positive" | "neutral" | "negative",
  "summary": "your concise summary here",
  "keywords": ["keyword1", "keyword2", "keyword3", "keyword4", "keyword5"]
}`

// Engine wraps the remote inference API with rate limiting, response
// validation, and a permanent fallback once throttling exhausts the
// retry budget. One instance is shared across runs: the degradation
// flag and quota window belong to the upstream relationship, not to a
// single run.
type Engine struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
	limiter  *ratelimit.QuotaLimiter
	logger   *slog.Logger

	retryBudget int
	backoff     time.Duration

	mu             sync.Mutex
	degraded       bool
	throttleStreak int
}

var _ ports.Analyzer = (*Engine)(nil)

// New builds an Engine from configuration. The limiter is injected so
// callers can share or inspect its quota window.
func New(cfg config.GeminiConfig, limiter *ratelimit.QuotaLimiter, logger *slog.Logger) *Engine {
	retryBudget := cfg.RetryBudget
	if retryBudget < 0 {
		retryBudget = 0
	}
	backoff := cfg.ThrottleBackoff.Std()
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &Engine{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		client:      &http.Client{Timeout: requestTimeout},
		limiter:     limiter,
		logger:      logger,
		retryBudget: retryBudget,
		backoff:     backoff,
	}
}

// Analyze classifies one post. It never fails: remote errors degrade
// to the local heuristic, per call or permanently depending on cause.
func (e *Engine) Analyze(ctx context.Context, title, content string) domain.Analysis {
	if e.Degraded() {
		return fallback.Analyze(title, content)
	}

	for attempt := 0; ; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			e.warn("rate limiter interrupted", "error", err)
			return fallback.Analyze(title, content)
		}

		analysis, err := e.call(ctx, title, content)
		if err == nil {
			e.clearThrottleStreak()
			analysis.Engine = domain.EngineAIModel
			analysis.Model = e.model
			return analysis
		}

		if errors.Is(err, errThrottled) {
			streak := e.noteThrottle()
			if attempt < e.retryBudget {
				e.warn("inference throttled, backing off", "attempt", attempt+1, "streak", streak)
				if sErr := sleep(ctx, e.backoff); sErr != nil {
					return fallback.Analyze(title, content)
				}
				e.limiter.ResetWindow()
				continue
			}
			e.degrade()
			e.warn("throttle retry budget exhausted, degrading to heuristic engine")
			return fallback.Analyze(title, content)
		}

		// Non-throttle failure: heuristic for this call only.
		e.warn("inference failed, using heuristic for this post", "error", err)
		return fallback.Analyze(title, content)
	}
}

// Degraded reports whether the engine has permanently fallen back.
func (e *Engine) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}

// ResetDegradation re-enables the remote engine. This is the only way
// back from the degraded state.
func (e *Engine) ResetDegradation() {
	e.mu.Lock()
	e.degraded = false
	e.throttleStreak = 0
	e.mu.Unlock()
}

func (e *Engine) degrade() {
	e.mu.Lock()
	e.degraded = true
	e.mu.Unlock()
}

func (e *Engine) noteThrottle() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.throttleStreak++
	return e.throttleStreak
}

func (e *Engine) clearThrottleStreak() {
	e.mu.Lock()
	e.throttleStreak = 0
	e.mu.Unlock()
}

type generateRequest struct {
	Contents         []promptContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type promptContent struct {
	Parts []promptPart `json:"parts"`
}

type promptPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	TopK             int     `json:"topK"`
	TopP             float64 `json:"topP"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	ResponseMIMEType string  `json:"responseMimeType"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (e *Engine) call(ctx context.Context, title, content string) (domain.Analysis, error) {
	if content == "" {
		content = "No additional content"
	}

	body, err := json.Marshal(generateRequest{
		Contents: []promptContent{{Parts: []promptPart{{Text: fmt.Sprintf(analyzePrompt, title, content)}}}},
		GenerationConfig: generationConfig{
			Temperature:      0.4,
			TopK:             40,
			TopP:             0.95,
			MaxOutputTokens:  512,
			ResponseMIMEType: "application/json",
		},
	})
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", e.endpoint, e.model, e.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.Analysis{}, errThrottled
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.Analysis{}, fmt.Errorf("inference error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return domain.Analysis{}, fmt.Errorf("decode response: %w", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return domain.Analysis{}, fmt.Errorf("empty inference response")
	}

	raw := gr.Candidates[0].Content.Parts[0].Text
	var analysis domain.Analysis
	if err := json.Unmarshal([]byte(extractJSON(raw)), &analysis); err != nil {
		return domain.Analysis{}, fmt.Errorf("parse analysis payload: %w", err)
	}
	if err := validate(analysis); err != nil {
		return domain.Analysis{}, fmt.Errorf("invalid analysis structure: %w", err)
	}

	return analysis, nil
}

// extractJSON recovers a single JSON object from model output that may
// be wrapped in code fences or surrounding prose.
func extractJSON(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")

	first := strings.Index(cleaned, "{")
	last := strings.LastIndex(cleaned, "}")
	if first != -1 && last > first {
		cleaned = cleaned[first : last+1]
	}
	return cleaned
}

func validate(a domain.Analysis) error {
	if !domain.ValidSentiment(a.Sentiment) {
		return fmt.Errorf("sentiment %q is not one of positive/neutral/negative", a.Sentiment)
	}
	if a.Summary == "" || len(a.Summary) >= maxSummaryChars {
		return fmt.Errorf("summary must be non-empty and under %d characters", maxSummaryChars)
	}
	if len(a.Keywords) < minKeywords || len(a.Keywords) > maxKeywords {
		return fmt.Errorf("expected %d-%d keywords, got %d", minKeywords, maxKeywords, len(a.Keywords))
	}
	for _, k := range a.Keywords {
		if k == "" {
			return fmt.Errorf("keywords must be non-empty strings")
		}
	}
	return nil
}

func (e *Engine) warn(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, args...)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
