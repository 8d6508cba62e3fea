package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/ucmwatch/internal/calllog"
	"github.com/snarg/ucmwatch/internal/config"
	"github.com/snarg/ucmwatch/internal/metrics"
)

// Deps carries the collaborators the HTTP surface exposes. History and
// Monitor are required in normal operation; Dialer, Directory and
// MonitorStatus may be nil when the corresponding feature is not configured.
type Deps struct {
	Monitor       MonitorSource
	MonitorStatus MonitorStatus
	Dialer        CallDialer
	Directory     Directory
	History       *calllog.Store
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, deps Deps, version string, startTime time.Time, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)

	// Unauthenticated surface
	var checker HistoryChecker
	if deps.History != nil {
		checker = deps.History
	}
	health := NewHealthHandler(checker, deps.MonitorStatus, version, startTime)
	r.Get("/api/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))

		calls := NewCallsHandler(deps.Monitor, deps.Dialer)
		r.Get("/api/calls", calls.ListCalls)
		r.Get("/api/extensions", calls.ListExtensions)
		r.Post("/api/call", calls.Dial)

		lookup := NewLookupHandler(deps.Directory, cfg.PhoneRegion)
		r.Get("/api/lookup/{number}", lookup.Lookup)

		events := NewEventsHandler(deps.Monitor)
		r.Get("/api/events", events.StreamEvents)

		if deps.History != nil {
			history := NewHistoryHandler(deps.History)
			r.Get("/api/calllog", history.ListHistory)
		}
	})

	return &Server{
		http: &http.Server{
			Addr:        cfg.HTTPAddr,
			Handler:     r,
			ReadTimeout: cfg.ReadTimeout,
			// WriteTimeout stays 0 by default so SSE streams are not cut off.
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
