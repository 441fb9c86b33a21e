package domain

import "time"

// Post is the canonical record ingested from any upstream source.
// PostID is source-scoped but globally unique because each fetcher
// prefixes it with its origin (e.g. "reddit_abc12", "feed_<uuid>").
type Post struct {
	PostID      string    `json:"post_id"`
	Source      string    `json:"source"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Author      string    `json:"author"`
	Score       int       `json:"score"`
	NumComments int       `json:"num_comments"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
	ScrapedAt   time.Time `json:"scraped_at"`
	Analysis    *Analysis `json:"analysis,omitempty"`
}

// Sentiment is the fixed 3-valued classification emitted by analysis.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ValidSentiment reports whether s is one of the allowed values.
func ValidSentiment(s Sentiment) bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// Engine provenance values for an Analysis.
const (
	EngineAIModel  = "ai-model"
	EngineFallback = "keyword-fallback"
)

// Analysis is the structured enrichment attached to a Post. A Post
// carries at most one Analysis; re-analysis is not supported.
type Analysis struct {
	Sentiment Sentiment `json:"sentiment"`
	Summary   string    `json:"summary"`
	Keywords  []string  `json:"keywords"`
	Engine    string    `json:"engine,omitempty"`
	Model     string    `json:"model,omitempty"`
}

// ItemError records a single post-level failure inside a run.
type ItemError struct {
	PostID string `json:"post_id"`
	Reason string `json:"reason"`
}

// RunResult aggregates one pipeline run. Per-item failures are listed
// in Errors; Success is false only when the run could not start at all
// (e.g. no source produced any data).
type RunResult struct {
	Success  bool        `json:"success"`
	Message  string      `json:"message"`
	Fetched  int         `json:"fetched"`
	Stored   int         `json:"stored"`
	Analyzed int         `json:"analyzed"`
	Errors   []ItemError `json:"errors,omitempty"`
}
