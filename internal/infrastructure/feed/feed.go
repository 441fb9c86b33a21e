package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"

	"github.com/Leyaaaan1/saas-apify/internal/domain"
	"github.com/Leyaaaan1/saas-apify/internal/source"
)

const defaultTimeout = 10 * time.Second

// Scanner fetches RSS/Atom feed payloads via gofeed. It is the second
// parser variant, selected by source config rather than shape sniffing.
type Scanner struct {
	parser *gofeed.Parser
}

var _ source.Scanner = (*Scanner)(nil)

// New wires an HTTP client so feed requests share the same bounded
// timeout as the listing fetcher; a nil client gets a 10s default.
func New(client *http.Client, userAgent string) *Scanner {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = userAgent
	return &Scanner{parser: parser}
}

// Name identifies the strategy inside the registry.
func (s *Scanner) Name() string {
	return "feed"
}

// Fetch parses the configured feed URL and normalizes up to req.Limit
// items. Items without a GUID get a synthesized id; re-fetching such a
// feed can therefore store duplicates (known gap, see DESIGN.md).
func (s *Scanner) Fetch(ctx context.Context, req source.Request) ([]domain.Post, error) {
	parsed, err := s.parser.ParseURLWithContext(req.URL, ctx)
	if err != nil {
		return nil, classify(req.Source, err)
	}
	if len(parsed.Items) == 0 {
		return nil, fmt.Errorf("source %s: %w", req.Source, source.ErrMalformed)
	}

	now := time.Now().UTC()
	limit := req.Limit
	if limit <= 0 || limit > len(parsed.Items) {
		limit = len(parsed.Items)
	}

	posts := make([]domain.Post, 0, limit)
	for _, item := range parsed.Items[:limit] {
		posts = append(posts, normalize(item, req.Source, now))
	}
	return posts, nil
}

func normalize(item *gofeed.Item, sourceName string, scrapedAt time.Time) domain.Post {
	id := item.GUID
	if id == "" {
		id = uuid.NewString()
	}

	author := "unknown"
	if len(item.Authors) > 0 && item.Authors[0].Name != "" {
		author = item.Authors[0].Name
	}

	content := item.Content
	if content == "" {
		content = item.Description
	}

	published := scrapedAt
	if item.PublishedParsed != nil {
		published = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		published = *item.UpdatedParsed
	}

	return domain.Post{
		PostID:    "feed_" + id,
		Source:    sourceName,
		Title:     item.Title,
		Content:   stripHTML(content),
		Author:    author,
		URL:       item.Link,
		CreatedAt: published,
		ScrapedAt: scrapedAt,
	}
}

func classify(sourceName string, err error) error {
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("source %s: %w", sourceName, source.ErrNotFound)
		case http.StatusTooManyRequests:
			return fmt.Errorf("source %s: %w", sourceName, source.ErrThrottled)
		case http.StatusForbidden:
			return fmt.Errorf("source %s: %w", sourceName, source.ErrForbidden)
		}
	}
	if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
		return fmt.Errorf("source %s: %w", sourceName, source.ErrMalformed)
	}
	if os.IsTimeout(err) {
		return fmt.Errorf("source %s: %w", sourceName, source.ErrTimeout)
	}
	return fmt.Errorf("source %s: %w", sourceName, err)
}

// stripHTML flattens feed item markup to plain text.
func stripHTML(raw string) string {
	if raw == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
