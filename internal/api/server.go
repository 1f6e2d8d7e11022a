// SPDX-License-Identifier: MIT

// Package api exposes the control surface over the stream registry:
// start, stop, list and health, plus the read-only HLS playback surface.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/abdliliaai/visiony-guard-sub000/internal/health"
	"github.com/abdliliaai/visiony-guard-sub000/internal/log"
	"github.com/abdliliaai/visiony-guard-sub000/internal/registry"
)

// StreamRegistry is the api's view of the stream registry.
type StreamRegistry interface {
	Start(ctx context.Context, deviceID, sourceURI, tenantID string) (registry.Entry, error)
	Stop(ctx context.Context, deviceID string) error
	List() []registry.Entry
	Get(deviceID string) (registry.Entry, bool)
	Count() int
}

// Config holds the server's knobs.
type Config struct {
	HLSRoot      string
	RateLimitRPM int
}

// Server handles control requests. External callers interact with the
// pipeline only through it; internal process handles are never exposed.
type Server struct {
	cfg      Config
	registry StreamRegistry
	hm       *health.Manager
	logger   zerolog.Logger
}

// New creates the API server.
func New(cfg Config, reg StreamRegistry, hm *health.Manager) *Server {
	return &Server{
		cfg:      cfg,
		registry: reg,
		hm:       hm,
		logger:   log.WithComponent("api"),
	}
}

// Handler builds the chi router with the canonical middleware stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.cfg.RateLimitRPM > 0 {
				r.Use(httprate.LimitByIP(s.cfg.RateLimitRPM, time.Minute))
			}
			r.Post("/streams/start", s.handleStart)
			r.Post("/streams/stop", s.handleStop)
		})
		r.Get("/streams", s.handleList)
		r.Get("/streams/{deviceID}", s.handleGet)
		r.Get("/health", s.hm.ServeHealth)
	})
	r.Get("/healthz", s.hm.ServeHealth)

	r.Handle("/hls/*", http.StripPrefix("/hls/", s.hlsFileServer()))

	return r
}

type startRequest struct {
	DeviceID  string `json:"deviceId"`
	SourceURI string `json:"sourceURI"`
	TenantID  string `json:"tenantId"`
}

type stopRequest struct {
	DeviceID string `json:"deviceId"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "deviceId is required")
		return
	}

	entry, err := s.registry.Start(r.Context(), req.DeviceID, req.SourceURI, req.TenantID)
	if err != nil {
		if err == registry.ErrInvalidSource {
			writeError(w, http.StatusBadRequest, "invalid source URI")
			return
		}
		s.logger.Error().Err(err).Str(log.FieldDeviceID, req.DeviceID).Msg("start failed")
		writeError(w, http.StatusInternalServerError, "failed to start stream")
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "deviceId is required")
		return
	}

	if err := s.registry.Stop(r.Context(), req.DeviceID); err != nil {
		if err == registry.ErrNotFound {
			writeError(w, http.StatusNotFound, "no active stream for device")
			return
		}
		s.logger.Error().Err(err).Str(log.FieldDeviceID, req.DeviceID).Msg("stop failed")
		writeError(w, http.StatusInternalServerError, "failed to stop stream")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"deviceId": req.DeviceID,
		"status":   "stopped",
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entries := s.registry.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"streams": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	entry, ok := s.registry.Get(deviceID)
	if !ok {
		writeError(w, http.StatusNotFound, "no active stream for device")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// requestLogger emits one structured log line per request.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("remote", r.RemoteAddr).
				Msg("request")
		})
	}
}
