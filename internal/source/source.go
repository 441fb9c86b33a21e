package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Leyaaaan1/saas-apify/internal/config"
	"github.com/Leyaaaan1/saas-apify/internal/domain"
	"github.com/Leyaaaan1/saas-apify/internal/ports"
)

// Failure taxonomy for upstream fetches. Scanners wrap these so the
// fetch loop can decide per cause whether to skip or retry.
var (
	ErrNotFound  = errors.New("source not found")
	ErrThrottled = errors.New("throttled by upstream")
	ErrForbidden = errors.New("access forbidden")
	ErrTimeout   = errors.New("request timed out")
	ErrMalformed = errors.New("malformed or empty payload")
)

// Request carries all parameters required to fetch one source.
type Request struct {
	Source string
	URL    string
	Limit  int
}

// Scanner is a single fetch strategy (JSON listing, RSS/Atom feed).
type Scanner interface {
	Name() string
	Fetch(ctx context.Context, req Request) ([]domain.Post, error)
}

// Registry keeps a mapping from scanner names to their implementations.
type Registry struct {
	scanners map[string]Scanner
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{scanners: map[string]Scanner{}}
}

// Register adds or replaces a scanner implementation.
func (r *Registry) Register(scanner Scanner) {
	if r.scanners == nil {
		r.scanners = map[string]Scanner{}
	}
	r.scanners[scanner.Name()] = scanner
}

// Resolve returns a scanner by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Scanner, error) {
	if scanner, ok := r.scanners[name]; ok {
		return scanner, nil
	}
	return nil, fmt.Errorf("scanner %s is not registered", name)
}

// Service implements ports.PostSource over the registered scanners.
// Sources are fetched strictly sequentially with a fixed delay between
// requests; a failing source is logged and skipped, never fatal.
type Service struct {
	registry *Registry
	sources  []config.SourceConfig
	logger   *slog.Logger

	interSourceDelay time.Duration
	throttleCooldown time.Duration
}

var _ ports.PostSource = (*Service)(nil)

// NewService wires the scanner registry with config-defined sources.
func NewService(reg *Registry, sources []config.SourceConfig, scrape config.ScrapeConfig, logger *slog.Logger) *Service {
	return &Service{
		registry:         reg,
		sources:          sources,
		logger:           logger,
		interSourceDelay: scrape.InterSourceDelay.Std(),
		throttleCooldown: scrape.ThrottleCooldown.Std(),
	}
}

// FetchTop gathers up to perSourceLimit posts from each named source,
// best-effort. An empty names slice means every configured source.
// The returned slice may be empty; FetchTop never fails.
func (s *Service) FetchTop(ctx context.Context, names []string, perSourceLimit int) []domain.Post {
	if len(names) == 0 {
		for _, cfg := range s.sources {
			names = append(names, cfg.Name)
		}
	}

	var gathered []domain.Post
	seen := map[string]struct{}{}

	for i, name := range names {
		posts := s.fetchOne(ctx, name, perSourceLimit)
		for _, post := range posts {
			if _, dup := seen[post.PostID]; dup {
				continue
			}
			seen[post.PostID] = struct{}{}
			gathered = append(gathered, post)
		}

		// Proactive spacing between source requests, regardless of outcome.
		if i < len(names)-1 {
			if err := sleep(ctx, s.interSourceDelay); err != nil {
				break
			}
		}
	}

	s.logger.Info("fetch complete", "sources", len(names), "posts", len(gathered))
	return gathered
}

func (s *Service) fetchOne(ctx context.Context, name string, limit int) []domain.Post {
	cfg, ok := s.lookup(name)
	if !ok {
		s.logger.Warn("source not configured, skipping", "source", name)
		return nil
	}

	scanner, err := s.registry.Resolve(cfg.Type)
	if err != nil {
		s.logger.Warn("no scanner for source, skipping", "source", name, "type", cfg.Type)
		return nil
	}

	req := Request{Source: name, URL: cfg.URL, Limit: limit}

	for attempt := 0; attempt < 2; attempt++ {
		posts, err := scanner.Fetch(ctx, req)
		if err == nil {
			s.logger.Info("source fetched", "source", name, "posts", len(posts))
			return posts
		}

		if errors.Is(err, ErrThrottled) && attempt == 0 {
			s.logger.Warn("source throttled, cooling down", "source", name, "cooldown", s.throttleCooldown)
			if sErr := sleep(ctx, s.throttleCooldown); sErr != nil {
				return nil
			}
			continue
		}

		switch {
		case errors.Is(err, ErrThrottled):
			s.logger.Warn("source still throttled after cooldown, skipping", "source", name)
		case errors.Is(err, ErrNotFound):
			s.logger.Warn("source not found, skipping", "source", name)
		case errors.Is(err, ErrForbidden):
			s.logger.Warn("source access forbidden, skipping", "source", name)
		case errors.Is(err, ErrTimeout):
			s.logger.Warn("source request timed out, skipping", "source", name)
		case errors.Is(err, ErrMalformed):
			s.logger.Warn("source payload malformed or empty, skipping", "source", name)
		default:
			s.logger.Warn("source fetch failed, skipping", "source", name, "error", err)
		}
		return nil
	}

	return nil
}

func (s *Service) lookup(name string) (config.SourceConfig, bool) {
	for _, cfg := range s.sources {
		if cfg.Name == name {
			return cfg, true
		}
	}
	return config.SourceConfig{}, false
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
