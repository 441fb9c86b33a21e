package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Leyaaaan1/saas-apify/internal/domain"
	"github.com/Leyaaaan1/saas-apify/internal/infrastructure/storage"
	"github.com/Leyaaaan1/saas-apify/internal/ratelimit"
)

// Runner triggers pipeline runs. Both operations are synchronous and
// long-running; partial item failures are reported in-band.
type Runner interface {
	RunScrapeAndAnalyze(ctx context.Context, sources []string, perSourceLimit int) domain.RunResult
	RunAnalyzeOnly(ctx context.Context) domain.RunResult
}

// Store is the subset of the repository the read/maintenance routes use.
type Store interface {
	QueryCompleted(ctx context.Context) ([]domain.Post, error)
	DeleteAll(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (storage.Stats, error)
}

// Engine exposes the analysis engine state for diagnostics.
type Engine interface {
	Degraded() bool
}

// Server is the HTTP front door over the pipeline orchestrator.
type Server struct {
	addr    string
	runner  Runner
	store   Store
	engine  Engine
	limiter *ratelimit.QuotaLimiter
	logger  *slog.Logger
}

// New builds the front door.
func New(addr string, runner Runner, store Store, engine Engine, limiter *ratelimit.QuotaLimiter, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		runner:  runner,
		store:   store,
		engine:  engine,
		limiter: limiter,
		logger:  logger,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/scrape", s.handleScrape)
	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/posts", s.handlePosts)
	mux.HandleFunc("DELETE /api/clear", s.handleClear)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	return mux
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("http server listening", "addr", s.addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type scrapeRequest struct {
	Sources        []string `json:"sources"`
	PostsPerSource int      `json:"postsPerSource"`
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "invalid request body",
		})
		return
	}

	result := s.runner.RunScrapeAndAnalyze(r.Context(), req.Sources, req.PostsPerSource)

	// Item-level failures ride along at 200; only a run that could not
	// start is an error status.
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	result := s.runner.RunAnalyzeOnly(r.Context())

	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	posts, err := s.store.QueryCompleted(r.Context())
	if err != nil {
		s.logger.Error("query completed posts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	if posts == nil {
		posts = []domain.Post{}
	}
	writeJSON(w, http.StatusOK, posts)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.store.DeleteAll(r.Context())
	if err != nil {
		s.logger.Error("clear posts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"deleted": deleted,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("health check", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status":    "unhealthy",
			"database":  "error",
			"error":     err.Error(),
			"timestamp": time.Now().UTC(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"database":   "connected",
		"statistics": stats,
		"engine": map[string]any{
			"degraded": s.engine.Degraded(),
			"quota":    s.limiter.Snapshot(),
		},
		"timestamp": time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
