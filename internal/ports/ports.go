package ports

import (
	"context"

	"github.com/Leyaaaan1/saas-apify/internal/domain"
)

// PostSource gathers posts from the configured upstream sources.
// Implementations are best-effort: a failing source is skipped, never
// surfaced as an error for the whole fetch.
type PostSource interface {
	FetchTop(ctx context.Context, sources []string, perSourceLimit int) []domain.Post
}

// PostRepository persists ingested posts and their analysis.
// Operations do not retry; callers decide what a failure means.
type PostRepository interface {
	Exists(ctx context.Context, postID string) (bool, error)
	Insert(ctx context.Context, post domain.Post) error
	UpdateAnalysis(ctx context.Context, postID string, analysis domain.Analysis) error
	QueryPending(ctx context.Context) ([]domain.Post, error)
	QueryCompleted(ctx context.Context) ([]domain.Post, error)
}

// Analyzer produces a structured classification for one post. It never
// fails: implementations degrade to a local heuristic instead of
// returning an error.
type Analyzer interface {
	Analyze(ctx context.Context, title, content string) domain.Analysis
}

// Waiter gates calls on a rate limit.
type Waiter interface {
	Wait(ctx context.Context) error
}
