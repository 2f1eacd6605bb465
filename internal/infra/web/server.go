package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"subsearch-pipeline/internal/config"
	ports "subsearch-pipeline/internal/domain/ports/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Server struct {
	cfg     config.HTTPConfig
	sched   ports.JobScheduler
	records ports.RecordBrowser
	reaper  ports.Reaper
	auth    *AuthManager
	log     *zerolog.Logger
	now     func() time.Time
	srv     *http.Server
}

func NewServer(
	cfg config.HTTPConfig,
	sched ports.JobScheduler,
	records ports.RecordBrowser,
	reaper ports.Reaper,
	auth *AuthManager,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "http").Logger()
	s := &Server{
		cfg:     cfg,
		sched:   sched,
		records: records,
		reaper:  reaper,
		auth:    auth,
		log:     &l,
		now:     time.Now,
	}
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Routes(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s
}

// Routes builds the full handler tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Timeout(s.cfg.WriteTimeout))

		r.Post("/jobs", s.handleSubmit)
		r.Get("/jobs/{id}", s.handleStatus)
		r.Delete("/jobs/{id}", s.handleCancel)
		r.Get("/queue", s.handleQueue)
		r.Get("/records", s.handleRecords)
		r.Get("/stats", s.handleStats)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/token", s.handleToken)
			r.Delete("/token", s.handleLogout)
			r.With(RequireAdmin(s.auth)).Post("/reap", s.handleReap)
		})
	})
	return r
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("HTTP server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
