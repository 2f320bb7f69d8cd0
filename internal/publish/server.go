// Package publish exposes the data models and the sync engine over HTTP.
//
// Routes, all under /api:
//
//	GET    /data/:table        select (options in X-Select-Options or ?options=)
//	GET    /data/:table/:id    select by id
//	POST   /data/:table        insert and select
//	PUT    /data/:table/:id    update and select
//	PUT    /data/:table        update or insert and select
//	DELETE /data/:table/:id    delete
//	GET    /sync/status        per-table sync status
//	GET    /sync/active        whether a sync is running
//	POST   /sync               start a full sync in the background
//
// Failures are rendered as {"error":{"code":...,"message":...}}.
package publish

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/roach88/ormso/internal/model"
	"github.com/roach88/ormso/internal/syncer"
)

// Server serves a model context and, optionally, a sync engine.
type Server struct {
	mctx    *model.Context
	engine  *syncer.Engine
	logger  *slog.Logger
	origins []string
	router  *gin.Engine

	// background syncs started by POST /sync
	wg sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithEngine enables the sync routes.
func WithEngine(e *syncer.Engine) Option {
	return func(s *Server) {
		s.engine = e
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAllowOrigins enables CORS for the given origins. "*" allows any.
func WithAllowOrigins(origins ...string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// New builds the router. mctx must be finalized.
func New(mctx *model.Context, opts ...Option) *Server {
	s := &Server{
		mctx:   mctx,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests)
	if len(s.origins) > 0 {
		r.Use(cors.New(s.corsConfig()))
	}

	api := r.Group("/api")
	newDataRoutes(s).RegisterRoutes(api)
	newSyncRoutes(s).RegisterRoutes(api)
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully and waits for background syncs.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Wait()
	return err
}

// Wait blocks until background syncs started over HTTP have finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", syncer.SelectOptionsHeader},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range s.origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = s.origins
	cfg.AllowCredentials = true
	return cfg
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Debug("http request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"duration", time.Since(start),
	)
}
