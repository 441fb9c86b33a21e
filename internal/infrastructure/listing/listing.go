package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Leyaaaan1/saas-apify/internal/domain"
	"github.com/Leyaaaan1/saas-apify/internal/source"
)

const (
	// Upstream "top" ranking is queried over a fixed recency window.
	recencyWindow  = "week"
	defaultTimeout = 10 * time.Second
)

// Scanner fetches the JSON "top listing" payload shape (Reddit's
// public /r/<name>/top.json API).
type Scanner struct {
	client    *http.Client
	userAgent string
}

var _ source.Scanner = (*Scanner)(nil)

// New wires an HTTP client; a nil client gets a 10s-timeout default.
func New(client *http.Client, userAgent string) *Scanner {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Scanner{client: client, userAgent: userAgent}
}

// Name identifies the strategy inside the registry.
func (s *Scanner) Name() string {
	return "listing"
}

type listingPayload struct {
	Data struct {
		Children []struct {
			Data listingPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type listingPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Author      string  `json:"author"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	CreatedUTC  float64 `json:"created_utc"`
}

// Fetch requests up to req.Limit top posts of the recency window and
// normalizes them. Upstream failures are classified into the source
// taxonomy so the caller can decide skip vs. retry.
func (s *Scanner) Fetch(ctx context.Context, req source.Request) ([]domain.Post, error) {
	pageURL, err := buildListingURL(req.URL, req.Source, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", req.Source, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if os.IsTimeout(err) {
			return nil, fmt.Errorf("source %s: %w", req.Source, source.ErrTimeout)
		}
		return nil, fmt.Errorf("source %s: %w", req.Source, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("source %s: %w", req.Source, source.ErrNotFound)
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("source %s: %w", req.Source, source.ErrThrottled)
	case http.StatusForbidden:
		return nil, fmt.Errorf("source %s: %w", req.Source, source.ErrForbidden)
	default:
		return nil, fmt.Errorf("source %s: unexpected status %s", req.Source, resp.Status)
	}

	var payload listingPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("source %s: %w", req.Source, source.ErrMalformed)
	}
	if len(payload.Data.Children) == 0 {
		return nil, fmt.Errorf("source %s: %w", req.Source, source.ErrMalformed)
	}

	now := time.Now().UTC()
	posts := make([]domain.Post, 0, len(payload.Data.Children))
	for _, child := range payload.Data.Children {
		posts = append(posts, normalize(child.Data, req.Source, now))
	}
	return posts, nil
}

// normalize maps one raw listing entry to a Post. Missing optional
// fields default instead of failing the item.
func normalize(raw listingPost, sourceName string, scrapedAt time.Time) domain.Post {
	author := raw.Author
	if author == "" {
		author = "unknown"
	}

	link := raw.URL
	if link == "" {
		link = "https://reddit.com" + raw.Permalink
	}

	createdAt := scrapedAt
	if raw.CreatedUTC > 0 {
		createdAt = time.Unix(int64(raw.CreatedUTC), 0).UTC()
	}

	return domain.Post{
		PostID:      "reddit_" + raw.ID,
		Source:      sourceName,
		Title:       raw.Title,
		Content:     raw.Selftext,
		Author:      author,
		Score:       raw.Score,
		NumComments: raw.NumComments,
		URL:         link,
		CreatedAt:   createdAt,
		ScrapedAt:   scrapedAt,
	}
}

func buildListingURL(base, sourceName string, limit int) (string, error) {
	parsed, err := url.Parse(strings.TrimRight(base, "/") + "/r/" + sourceName + "/top.json")
	if err != nil {
		return "", fmt.Errorf("invalid base url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set("limit", strconv.Itoa(limit))
	query.Set("t", recencyWindow)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
