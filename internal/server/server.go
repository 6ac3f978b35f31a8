// Package server provides the HTTP and websocket UI for moodwall.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/moodwall/internal/app"
	"github.com/ayusman/moodwall/internal/emotion"
)

// Controller is the part of the app the UI drives.
type Controller interface {
	Status() app.Status
	Color() emotion.Color
	SessionID() string
	SetEnabled(enabled bool)
	IsEnabled() bool
	Subscribe() (<-chan emotion.ColorChange, func())
}

// FrameSource supplies the latest overlay frame as JPEG.
type FrameSource interface {
	Frame() ([]byte, uint64)
}

// Config holds the server configuration.
type Config struct {
	StaticDir string
	App       Controller
	Frames    FrameSource
}

// Server represents the HTTP server for the moodwall application.
type Server struct {
	config Config
	router chi.Router
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		router: chi.NewRouter(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)

	if s.config.App != nil {
		r.Get("/api/status", s.handleStatus)
		r.Get("/api/detection", s.handleGetDetection)
		r.Put("/api/detection", s.handlePutDetection)
		r.Handle("/api/events", NewEventsHandler(s.config.App))
	}

	if s.config.Frames != nil {
		r.Handle("/api/stream", NewStreamHandler(s.config.Frames))
	}

	if s.config.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	})
}

// handleStatus handles GET requests to /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config.App.Status())
}

type detectionState struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleGetDetection(w http.ResponseWriter, r *http.Request) {
	enabled := s.config.App.IsEnabled()
	writeJSON(w, http.StatusOK, detectionState{Enabled: &enabled})
}

// handlePutDetection toggles the detection loop.
func (s *Server) handlePutDetection(w http.ResponseWriter, r *http.Request) {
	var req detectionState
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	s.config.App.SetEnabled(*req.Enabled)
	logrus.WithField("enabled", *req.Enabled).Info("emotion detection toggled")

	enabled := s.config.App.IsEnabled()
	writeJSON(w, http.StatusOK, detectionState{Enabled: &enabled})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requestLogger logs each request through logrus.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		logrus.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}
