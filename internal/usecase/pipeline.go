package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Leyaaaan1/saas-apify/internal/domain"
	"github.com/Leyaaaan1/saas-apify/internal/ports"
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source     ports.PostSource
	Repository ports.PostRepository
	Analyzer   ports.Analyzer
	Limiter    ports.Waiter
	StoreDelay time.Duration
	// DefaultPerSourceLimit is used when a run does not specify one.
	DefaultPerSourceLimit int
	Logger                *slog.Logger
}

// Pipeline sequences fetch, dedupe, persist, and rate-limited analysis.
// Runs never raise on a single item's failure; they always return a
// RunResult, with Success=false reserved for runs that could not start.
type Pipeline struct {
	source       ports.PostSource
	repository   ports.PostRepository
	analyzer     ports.Analyzer
	limiter      ports.Waiter
	storeDelay   time.Duration
	defaultLimit int
	logger       *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	defaultLimit := deps.DefaultPerSourceLimit
	if defaultLimit <= 0 {
		defaultLimit = 5
	}
	return &Pipeline{
		source:       deps.Source,
		repository:   deps.Repository,
		analyzer:     deps.Analyzer,
		limiter:      deps.Limiter,
		storeDelay:   deps.StoreDelay,
		defaultLimit: defaultLimit,
		logger:       deps.Logger,
	}
}

// RunScrapeAndAnalyze fetches from the requested sources, persists
// posts the store has not seen, and analyzes the newly stored ones.
// An empty sources slice means every configured source.
func (p *Pipeline) RunScrapeAndAnalyze(ctx context.Context, sources []string, perSourceLimit int) domain.RunResult {
	if perSourceLimit <= 0 {
		perSourceLimit = p.defaultLimit
	}
	posts := p.source.FetchTop(ctx, sources, perSourceLimit)

	result := domain.RunResult{Fetched: len(posts)}
	if len(posts) == 0 {
		result.Message = "no posts fetched from any source"
		return result
	}

	var stored []domain.Post
	for _, post := range posts {
		exists, err := p.repository.Exists(ctx, post.PostID)
		if err != nil {
			result.Errors = append(result.Errors, itemError(post.PostID, "existence check", err))
			continue
		}
		if exists {
			p.logger.Debug("post already stored, skipping", "post_id", post.PostID)
			continue
		}

		if err := p.repository.Insert(ctx, post); err != nil {
			result.Errors = append(result.Errors, itemError(post.PostID, "insert", err))
			continue
		}
		stored = append(stored, post)

		// Brief spacing between store writes.
		if err := sleep(ctx, p.storeDelay); err != nil {
			break
		}
	}
	result.Stored = len(stored)
	p.logger.Info("stored new posts", "fetched", result.Fetched, "stored", result.Stored)

	result.Analyzed = p.analyzeBatch(ctx, stored, &result)

	result.Success = true
	result.Message = fmt.Sprintf("scrape complete: %d fetched, %d stored, %d analyzed",
		result.Fetched, result.Stored, result.Analyzed)
	return result
}

// RunAnalyzeOnly analyzes every stored post that lacks an analysis,
// so stragglers from earlier runs can be picked up.
func (p *Pipeline) RunAnalyzeOnly(ctx context.Context) domain.RunResult {
	pending, err := p.repository.QueryPending(ctx)
	if err != nil {
		return domain.RunResult{Message: fmt.Sprintf("query pending posts: %v", err)}
	}

	result := domain.RunResult{Success: true, Fetched: len(pending)}
	if len(pending) == 0 {
		result.Message = "no posts to analyze"
		return result
	}

	result.Analyzed = p.analyzeBatch(ctx, pending, &result)
	result.Message = fmt.Sprintf("analyzed %d/%d posts", result.Analyzed, len(pending))
	return result
}

// analyzeBatch classifies posts one at a time in input order, gated by
// the coarse limiter. Per-post persistence failures are recorded and
// the batch continues.
func (p *Pipeline) analyzeBatch(ctx context.Context, posts []domain.Post, result *domain.RunResult) int {
	analyzed := 0
	for _, post := range posts {
		if err := p.limiter.Wait(ctx); err != nil {
			result.Errors = append(result.Errors, itemError(post.PostID, "rate limiter", err))
			break
		}

		analysis := p.analyzer.Analyze(ctx, post.Title, post.Content)

		if err := p.repository.UpdateAnalysis(ctx, post.PostID, analysis); err != nil {
			result.Errors = append(result.Errors, itemError(post.PostID, "persist analysis", err))
			continue
		}
		analyzed++
		p.logger.Debug("post analyzed", "post_id", post.PostID,
			"sentiment", analysis.Sentiment, "engine", analysis.Engine)
	}
	return analyzed
}

func itemError(postID, stage string, err error) domain.ItemError {
	return domain.ItemError{PostID: postID, Reason: fmt.Sprintf("%s: %v", stage, err)}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
