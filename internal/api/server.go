// Package api exposes the HTTP interface for the ingestion service.
package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moshe-connectio/car-template-demo/internal/config"
	"github.com/moshe-connectio/car-template-demo/internal/inventory"
	"github.com/moshe-connectio/car-template-demo/internal/logging"
	"github.com/moshe-connectio/car-template-demo/internal/metrics"
	"github.com/moshe-connectio/car-template-demo/internal/webhook"
)

const (
	defaultRequestTimeout = 120 * time.Second
	defaultMaxPayload     = 1 << 20
	readyCheckTimeout     = 2 * time.Second
)

// VehicleService applies webhooks and serves stored vehicles.
type VehicleService interface {
	Handle(ctx context.Context, cmd webhook.Command) (webhook.Outcome, error)
	MarkSold(ctx context.Context, crmid string) (webhook.Outcome, error)
	Delete(ctx context.Context, target webhook.DeleteTarget) (string, error)
	Get(ctx context.Context, id string) (inventory.Vehicle, error)
}

// Checker reports whether a dependency is ready to serve traffic.
type Checker func(ctx context.Context) error

// Options carries optional server wiring.
type Options struct {
	// MediaDir is served under /media/ when set.
	MediaDir string
	// Checks run on /readyz, keyed by dependency name.
	Checks map[string]Checker
}

// Server wires HTTP handlers to the vehicle service.
type Server struct {
	router   chi.Router
	service  VehicleService
	cfg      config.Config
	logger   *zap.Logger
	checks   map[string]Checker
	maxBytes int64
}

// NewServer constructs a Server with middleware and routes.
func NewServer(service VehicleService, cfg config.Config, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service:  service,
		cfg:      cfg,
		logger:   logger.Named("api"),
		checks:   opts.Checks,
		maxBytes: int64(cfg.Server.MaxPayloadBytes),
	}
	if s.maxBytes <= 0 {
		s.maxBytes = defaultMaxPayload
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	// The request timeout covers everything except the webhooks, which
	// always answer with JSON once the vehicle row is written.
	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))
		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, metrics.Path, metrics.Handler())
		if opts.MediaDir != "" {
			r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(opts.MediaDir))))
		}
		r.Get("/api/vehicles/{id}", s.getVehicle)
	})

	r.Route("/api/webhooks/vehicles", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/", s.vehicleWebhook)
		r.Post("/mark-sold", s.markSold)
		r.Post("/delete", s.deleteVehicle)
		r.Delete("/delete", s.deleteVehicle)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	failed := map[string]string{}
	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		logging.FromContext(r.Context(), s.logger).Warn("readiness check failed", zap.Any("checks", failed))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type webhookResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	VehicleID   string `json:"vehicleId"`
	Action      string `json:"action"`
	ImagesAdded int    `json:"imagesAdded"`
}

func (s *Server) vehicleWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	cmd, err := webhook.Decode(body)
	if err != nil {
		s.fail(w, r, "invalid", err)
		return
	}
	out, err := s.service.Handle(r.Context(), cmd)
	if err != nil {
		action := string(inventory.ActionSold)
		if _, upsert := cmd.(webhook.UpsertCommand); upsert {
			action = "upsert"
		}
		s.fail(w, r, action, err)
		return
	}
	s.writeOutcome(w, out)
}

func (s *Server) markSold(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	crmid, err := webhook.DecodeCRMID(body)
	if err != nil {
		s.fail(w, r, "invalid", err)
		return
	}
	out, err := s.service.MarkSold(r.Context(), crmid)
	if err != nil {
		s.fail(w, r, string(inventory.ActionSold), err)
		return
	}
	s.writeOutcome(w, out)
}

func (s *Server) deleteVehicle(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	target, err := webhook.DecodeDeleteTarget(body)
	if err != nil {
		s.fail(w, r, "invalid", err)
		return
	}
	if _, err := s.service.Delete(r.Context(), target); err != nil {
		s.fail(w, r, "deleted", err)
		return
	}
	resp := map[string]any{"success": true, "message": "Vehicle deleted successfully"}
	if target.CRMID != "" {
		resp["crmid"] = target.CRMID
	} else {
		resp["vehicleId"] = target.VehicleID
	}
	metrics.ObserveWebhook("deleted", http.StatusOK)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getVehicle(w http.ResponseWriter, r *http.Request) {
	v, err := s.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		status := errorStatus(err)
		if status == http.StatusInternalServerError {
			logging.FromContext(r.Context(), s.logger).Error("get vehicle failed", zap.Error(err))
		}
		writeFailure(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) writeOutcome(w http.ResponseWriter, out webhook.Outcome) {
	status := http.StatusOK
	if out.Action == inventory.ActionCreated {
		status = http.StatusCreated
	}
	metrics.ObserveWebhook(string(out.Action), status)
	writeJSON(w, status, webhookResponse{
		Success:     true,
		Message:     fmt.Sprintf("Vehicle %s successfully", out.Action),
		VehicleID:   out.VehicleID,
		Action:      string(out.Action),
		ImagesAdded: out.ImagesAdded,
	})
}

// readBody enforces the payload limit and writes the error response itself.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.ObserveWebhook("invalid", http.StatusRequestEntityTooLarge)
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return nil, false
		}
		metrics.ObserveWebhook("invalid", http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return nil, false
	}
	return body, true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	status := errorStatus(err)
	logger := logging.FromContext(r.Context(), s.logger)
	metrics.ObserveWebhook(action, status)
	switch status {
	case http.StatusBadRequest:
		logger.Warn("webhook rejected", zap.Error(err))
		writeError(w, status, err.Error())
	case http.StatusNotFound:
		logger.Info("webhook target not found", zap.Error(err))
		writeFailure(w, status, err)
	default:
		logger.Error("webhook failed", zap.Error(err))
		writeFailure(w, status, err)
	}
}

func errorStatus(err error) int {
	var vErr *inventory.ValidationError
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest
	case errors.Is(err, inventory.ErrVehicleNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		logger := s.logger.With(zap.String("request_id", reqID))
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r.WithContext(logging.NewContext(r.Context(), logger)))
		logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.FromContext(r.Context(), s.logger).Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeFailure(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}
