// Package server exposes the churn service over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/KaramelBytes/churnlens/internal/churn"
	"github.com/KaramelBytes/churnlens/internal/logging"
	"github.com/KaramelBytes/churnlens/internal/metrics"
)

// Options configures the HTTP layer.
type Options struct {
	// MaxUploadBytes caps multipart uploads; 0 means 32 MiB.
	MaxUploadBytes int64
}

type Server struct {
	svc       *churn.Service
	router    *chi.Mux
	maxUpload int64
	log       *slog.Logger
}

func New(svc *churn.Service, opt Options) *Server {
	if opt.MaxUploadBytes <= 0 {
		opt.MaxUploadBytes = 32 << 20
	}
	s := &Server{
		svc:       svc,
		router:    chi.NewRouter(),
		maxUpload: opt.MaxUploadBytes,
		log:       logging.For("http"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLog)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/dataset/status", s.handleStatus)
	s.router.Delete("/api/dataset", s.handleReset)
	s.router.Post("/api/predict", s.handlePredict)
	s.router.Get("/api/explain/{index}", s.handleExplain)
	s.router.Post("/api/chat", s.handleChat)
	s.router.Post("/api/download", s.handleDownload)
	s.router.Handle("/metrics", metrics.Handler())
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is cancelled, then drains
// in-flight requests for up to ten seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}
