package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"github.com/Leyaaaan1/saas-apify/internal/domain"
	"github.com/Leyaaaan1/saas-apify/internal/ports"
)

const postsTable = "posts"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresRepository persists ingested posts and their analysis.
// Insert is idempotent on post_id; none of the operations retry.
type PostgresRepository struct {
	db *sql.DB
}

var _ ports.PostRepository = (*PostgresRepository)(nil)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresRepository{db: db}, nil
}

// NewPostgresRepository wires an existing sql.DB.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Close releases the underlying connection pool.
func (r *PostgresRepository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// EnsureSchema creates the posts table and indexes when missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS posts (
			id           BIGSERIAL PRIMARY KEY,
			post_id      TEXT NOT NULL UNIQUE,
			source       TEXT NOT NULL,
			title        TEXT NOT NULL,
			content      TEXT NOT NULL DEFAULT '',
			author       TEXT NOT NULL DEFAULT 'unknown',
			score        INTEGER NOT NULL DEFAULT 0,
			num_comments INTEGER NOT NULL DEFAULT 0,
			url          TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL,
			scraped_at   TIMESTAMPTZ NOT NULL,
			analysis     JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts (created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_posts_pending ON posts (post_id) WHERE analysis IS NULL;
	`)
	if err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

// Exists reports whether a post with the external id is stored.
func (r *PostgresRepository) Exists(ctx context.Context, postID string) (bool, error) {
	query, args, err := psql.Select("1").
		From(postsTable).
		Where(sq.Eq{"post_id": postID}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}

	var one int
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query exists: %w", err)
	}
	return true, nil
}

// Insert stores a new post without analysis. Inserting an already
// stored post_id is a no-op.
func (r *PostgresRepository) Insert(ctx context.Context, post domain.Post) error {
	query, args, err := psql.Insert(postsTable).
		Columns("post_id", "source", "title", "content", "author", "score",
			"num_comments", "url", "created_at", "scraped_at").
		Values(post.PostID, post.Source, post.Title, post.Content, post.Author,
			post.Score, post.NumComments, post.URL, post.CreatedAt, post.ScrapedAt).
		Suffix("ON CONFLICT (post_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert post %s: %w", post.PostID, err)
	}
	return nil
}

// UpdateAnalysis attaches the analysis JSON to a stored post.
func (r *PostgresRepository) UpdateAnalysis(ctx context.Context, postID string, analysis domain.Analysis) error {
	payload, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}

	query, args, err := psql.Update(postsTable).
		Set("analysis", payload).
		Where(sq.Eq{"post_id": postID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update analysis %s: %w", postID, err)
	}
	if rows, rErr := result.RowsAffected(); rErr == nil && rows == 0 {
		return fmt.Errorf("update analysis %s: post not found", postID)
	}
	return nil
}

// QueryPending returns posts that have no analysis yet, newest first.
func (r *PostgresRepository) QueryPending(ctx context.Context) ([]domain.Post, error) {
	return r.queryPosts(ctx, sq.Eq{"analysis": nil})
}

// QueryCompleted returns posts that carry an analysis, newest first.
func (r *PostgresRepository) QueryCompleted(ctx context.Context) ([]domain.Post, error) {
	return r.queryPosts(ctx, sq.NotEq{"analysis": nil})
}

func (r *PostgresRepository) queryPosts(ctx context.Context, pred any) ([]domain.Post, error) {
	query, args, err := psql.Select("post_id", "source", "title", "content", "author",
		"score", "num_comments", "url", "created_at", "scraped_at", "analysis").
		From(postsTable).
		Where(pred).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var (
			post     domain.Post
			analysis []byte
		)
		err := rows.Scan(&post.PostID, &post.Source, &post.Title, &post.Content,
			&post.Author, &post.Score, &post.NumComments, &post.URL,
			&post.CreatedAt, &post.ScrapedAt, &analysis)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		if len(analysis) > 0 {
			var parsed domain.Analysis
			if err := json.Unmarshal(analysis, &parsed); err != nil {
				return nil, fmt.Errorf("unmarshal analysis for %s: %w", post.PostID, err)
			}
			post.Analysis = &parsed
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return posts, nil
}

// DeleteAll removes every stored post and reports how many went away.
func (r *PostgresRepository) DeleteAll(ctx context.Context) (int64, error) {
	query, args, err := psql.Delete(postsTable).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete posts: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return deleted, nil
}

// Stats summarizes the table for the health endpoint.
type Stats struct {
	TotalRecords    int64      `json:"totalRecords"`
	AnalyzedRecords int64      `json:"analyzedRecords"`
	PendingAnalysis int64      `json:"pendingAnalysis"`
	LastAnalyzedAt  *time.Time `json:"lastAnalysisTimestamp"`
}

// Stats counts stored and analyzed posts and the latest analysis time.
func (r *PostgresRepository) Stats(ctx context.Context) (Stats, error) {
	query, args, err := psql.Select(
		"COUNT(*)",
		"COUNT(analysis)",
		"MAX(scraped_at) FILTER (WHERE analysis IS NOT NULL)",
	).From(postsTable).ToSql()
	if err != nil {
		return Stats{}, fmt.Errorf("build stats query: %w", err)
	}

	var (
		stats Stats
		last  sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&stats.TotalRecords, &stats.AnalyzedRecords, &last); err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	stats.PendingAnalysis = stats.TotalRecords - stats.AnalyzedRecords
	if last.Valid {
		stats.LastAnalyzedAt = &last.Time
	}
	return stats, nil
}
