package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Leyaaaan1/saas-apify/internal/config"
	"github.com/Leyaaaan1/saas-apify/internal/domain"
)

type fakeScanner struct {
	name    string
	results map[string][]domain.Post
	errs    map[string]error
	calls   []string
}

func (f *fakeScanner) Name() string { return f.name }

func (f *fakeScanner) Fetch(ctx context.Context, req Request) ([]domain.Post, error) {
	f.calls = append(f.calls, req.Source)
	if err, ok := f.errs[req.Source]; ok {
		return nil, fmt.Errorf("source %s: %w", req.Source, err)
	}
	return f.results[req.Source], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testScrapeConfig() config.ScrapeConfig {
	return config.ScrapeConfig{
		PostsPerSource:   5,
		InterSourceDelay: config.Duration(time.Millisecond),
		ThrottleCooldown: config.Duration(5 * time.Millisecond),
	}
}

func post(id string) domain.Post {
	return domain.Post{PostID: id, Title: "title " + id}
}

func newTestService(scanner *fakeScanner, sources []config.SourceConfig) *Service {
	reg := NewRegistry()
	reg.Register(scanner)
	return NewService(reg, sources, testScrapeConfig(), discardLogger())
}

func TestFetchTopGathersAllSources(t *testing.T) {
	t.Parallel()

	scanner := &fakeScanner{
		name: "listing",
		results: map[string][]domain.Post{
			"alpha": {post("a1"), post("a2")},
			"beta":  {post("b1")},
		},
	}
	svc := newTestService(scanner, []config.SourceConfig{
		{Name: "alpha", Type: "listing", URL: "https://example.com"},
		{Name: "beta", Type: "listing", URL: "https://example.com"},
	})

	posts := svc.FetchTop(context.Background(), nil, 5)
	if len(posts) != 3 {
		t.Fatalf("expected 3 posts, got %d", len(posts))
	}
	if len(scanner.calls) != 2 {
		t.Fatalf("expected 2 source calls, got %v", scanner.calls)
	}
}

func TestFetchTopIsolatesFailingSource(t *testing.T) {
	t.Parallel()

	scanner := &fakeScanner{
		name: "listing",
		results: map[string][]domain.Post{
			"alpha": {post("a1")},
			"gamma": {post("g1")},
		},
		errs: map[string]error{"beta": ErrNotFound},
	}
	svc := newTestService(scanner, []config.SourceConfig{
		{Name: "alpha", Type: "listing", URL: "https://example.com"},
		{Name: "beta", Type: "listing", URL: "https://example.com"},
		{Name: "gamma", Type: "listing", URL: "https://example.com"},
	})

	posts := svc.FetchTop(context.Background(), nil, 5)
	if len(posts) != 2 {
		t.Fatalf("failing source should be skipped, got %d posts", len(posts))
	}
	for _, p := range posts {
		if p.PostID == "" {
			t.Fatalf("unexpected post: %+v", p)
		}
	}
}

func TestFetchTopDeduplicatesAcrossSources(t *testing.T) {
	t.Parallel()

	shared := post("dup")
	scanner := &fakeScanner{
		name: "listing",
		results: map[string][]domain.Post{
			"alpha": {shared, post("a1")},
			"beta":  {shared, post("b1")},
		},
	}
	svc := newTestService(scanner, []config.SourceConfig{
		{Name: "alpha", Type: "listing", URL: "https://example.com"},
		{Name: "beta", Type: "listing", URL: "https://example.com"},
	})

	posts := svc.FetchTop(context.Background(), nil, 5)
	if len(posts) != 3 {
		t.Fatalf("expected shared id collapsed to one, got %d posts", len(posts))
	}

	seen := map[string]int{}
	for _, p := range posts {
		seen[p.PostID]++
	}
	if seen["dup"] != 1 {
		t.Fatalf("duplicate id stored %d times", seen["dup"])
	}
}

func TestFetchTopSkipsUnconfiguredSource(t *testing.T) {
	t.Parallel()

	scanner := &fakeScanner{
		name:    "listing",
		results: map[string][]domain.Post{"alpha": {post("a1")}},
	}
	svc := newTestService(scanner, []config.SourceConfig{
		{Name: "alpha", Type: "listing", URL: "https://example.com"},
	})

	posts := svc.FetchTop(context.Background(), []string{"alpha", "ghost"}, 5)
	if len(posts) != 1 {
		t.Fatalf("expected only the configured source, got %d posts", len(posts))
	}
	if len(scanner.calls) != 1 || scanner.calls[0] != "alpha" {
		t.Fatalf("unexpected scanner calls: %v", scanner.calls)
	}
}

func TestFetchTopSkipsUnknownScannerType(t *testing.T) {
	t.Parallel()

	scanner := &fakeScanner{
		name:    "listing",
		results: map[string][]domain.Post{"alpha": {post("a1")}},
	}
	svc := newTestService(scanner, []config.SourceConfig{
		{Name: "alpha", Type: "listing", URL: "https://example.com"},
		{Name: "beta", Type: "carrier-pigeon", URL: "https://example.com"},
	})

	posts := svc.FetchTop(context.Background(), nil, 5)
	if len(posts) != 1 {
		t.Fatalf("source with unknown type should be skipped, got %d posts", len(posts))
	}
}

func TestFetchOneRetriesOnceAfterThrottle(t *testing.T) {
	t.Parallel()

	scanner := &fakeScanner{
		name: "listing",
		errs: map[string]error{"alpha": ErrThrottled},
	}
	svc := newTestService(scanner, []config.SourceConfig{
		{Name: "alpha", Type: "listing", URL: "https://example.com"},
	})

	posts := svc.FetchTop(context.Background(), nil, 5)
	if len(posts) != 0 {
		t.Fatalf("throttled source should yield nothing, got %d posts", len(posts))
	}
	if len(scanner.calls) != 2 {
		t.Fatalf("expected cooldown retry (2 attempts), got %d", len(scanner.calls))
	}
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(&fakeScanner{name: "listing"})

	if _, err := reg.Resolve("listing"); err != nil {
		t.Fatalf("resolve registered: %v", err)
	}
	if _, err := reg.Resolve("missing"); err == nil {
		t.Fatal("resolving an absent scanner should fail")
	}
}
