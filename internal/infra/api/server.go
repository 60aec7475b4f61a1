package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"sharktank-agent/internal/infra/metrics"
	"sharktank-agent/internal/usecase"
)

type ServerConfig struct {
	Port           int
	PublicURL      string
	RequestTimeout time.Duration
	// chat submissions per minute per caller; 0 disables
	RateLimit int
}

// Server exposes the job gateway over HTTP.
type Server struct {
	gw      usecase.JobGateway
	auth    *AuthManager
	limiter Limiter
	cfg     ServerConfig
	log     *zerolog.Logger
	srv     *http.Server
}

// NewServer wires the routes. limiter may be nil.
func NewServer(gw usecase.JobGateway, auth *AuthManager, limiter Limiter, cfg ServerConfig, logger *zerolog.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Port == 0 {
		cfg.Port = 3000
	}
	compLog := logger.With().Str("component", "HTTPServer").Logger()
	s := &Server{gw: gw, auth: auth, limiter: limiter, cfg: cfg, log: &compLog}
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log))

	bounded := Timeout(s.cfg.RequestTimeout)
	limited := RateLimit(s.limiter, "chat", s.cfg.RateLimit, s.log)

	r.Get("/health", s.health)
	r.Handle("/metrics", metrics.Handler())
	r.With(bounded).Post("/admin/token", s.mintToken)

	r.Route("/agent", func(r chi.Router) {
		r.With(bounded, limited).Post("/chat", s.submitChat)
		// bounded by the gateway wait instead of the request timeout
		r.With(limited).Post("/chat/sync", s.chatSync)
		r.With(bounded).Get("/session/{id}", s.getSession)
		r.With(bounded).Delete("/session/{id}", s.clearSession)

		r.Route("/queue", func(r chi.Router) {
			r.Use(bounded)
			r.With(limited).Post("/chat", s.submitChat)
			r.With(limited).Post("/batch", s.submitBatch)
			r.Get("/job/{id}", s.jobStatus)
			r.Get("/job/{id}/result", s.jobResult)
			r.Delete("/job/{id}", s.cancelJob)
			r.Post("/job/{id}/retry", s.retryJob)
			r.Get("/stats", s.queueStats)
			r.Get("/jobs", s.recentJobs)
			r.Get("/health", s.queueHealth)

			r.Group(func(r chi.Router) {
				r.Use(s.auth.RequireAdmin)
				r.Post("/clean", s.cleanQueue)
				r.Post("/pause", s.pauseQueue)
				r.Post("/resume", s.resumeQueue)
			})
		})
	})
	return r
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info().Msg("http server shutting down")
	return s.srv.Shutdown(shutdownCtx)
}

func (s *Server) jobURLs(id string) (status, result string) {
	base := strings.TrimRight(s.cfg.PublicURL, "/")
	status = base + "/agent/queue/job/" + id
	return status, status + "/result"
}
