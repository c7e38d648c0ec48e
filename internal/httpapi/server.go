// Package httpapi exposes the relay's control contract (spec.md §6) over
// HTTP: set_source, stop_source, reset_segments, delete_channel, status,
// and list_channels. Authentication/authorization is an explicit
// Non-goal; this surface is meant to sit behind a trusted control plane.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fifthbell/caupolican/internal/config"
	"github.com/fifthbell/caupolican/internal/observability"
	"github.com/fifthbell/caupolican/internal/relay"
)

// Manager is the subset of *relay.Manager the HTTP layer depends on.
type Manager interface {
	SetSource(ctx context.Context, channelID, url string) error
	StopSource(channelID string) error
	ResetSegments(channelID string) error
	DeleteChannel(channelID string) error
	Status(channelID string) (relay.Status, error)
	ListChannels() []relay.Status
}

// Server is the peripheral control-plane HTTP server.
type Server struct {
	cfg        config.ServerConfig
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds a chi-routed Server bound to mgr.
func NewServer(cfg config.ServerConfig, mgr Manager, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	mountRoutes(r, mgr)

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:         cfg.Address(),
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// ListenAndServe starts serving and blocks until the server stops or errors.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.cfg.Address())
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains connections, bounded by ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func mountRoutes(r chi.Router, mgr Manager) {
	r.Get("/api/health", handleHealth)

	r.Route("/api/channels", func(r chi.Router) {
		r.Get("/", handleListChannels(mgr))

		r.Route("/{channelID}", func(r chi.Router) {
			r.Get("/status", handleStatus(mgr))
			r.Post("/set-source", handleSetSource(mgr))
			r.Post("/stop", handleStopSource(mgr))
			r.Post("/reset-segments", handleResetSegments(mgr))
			r.Delete("/", handleDeleteChannel(mgr))
		})
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"log_level": observability.GetLogLevel(),
	})
}

func handleListChannels(mgr Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, mgr.ListChannels())
	}
}

func handleStatus(mgr Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channelID := chi.URLParam(r, "channelID")
		st, err := mgr.Status(channelID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

type setSourceRequest struct {
	URL string `json:"url"`
}

func handleSetSource(mgr Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channelID := chi.URLParam(r, "channelID")

		var req setSourceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
			http.Error(w, "url is required", http.StatusBadRequest)
			return
		}

		if err := mgr.SetSource(r.Context(), channelID, req.URL); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleStopSource(mgr Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channelID := chi.URLParam(r, "channelID")
		if err := mgr.StopSource(channelID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleResetSegments(mgr Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channelID := chi.URLParam(r, "channelID")
		if err := mgr.ResetSegments(channelID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleDeleteChannel(mgr Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channelID := chi.URLParam(r, "channelID")
		if err := mgr.DeleteChannel(channelID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, relay.ErrChannelNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, relay.ErrTooManyChannels):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, relay.ErrInvalidChannelID):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs each request's method, path, status, and duration
// at the level the teacher's observability package uses for access logs.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", getRequestID(r.Context()),
			)
		})
	}
}
