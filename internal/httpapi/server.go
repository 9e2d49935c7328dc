// Package httpapi exposes an insighttrack service over HTTP: event ingest,
// sending control, user properties, status, health and Prometheus metrics.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/randalmurphal/insighttrack/pkg/insighttrack"
)

// DefaultMaxBodyBytes bounds request bodies on JSON endpoints.
const DefaultMaxBodyBytes int64 = 1 << 20

// Service is the part of *insighttrack.Service the HTTP layer uses.
type Service interface {
	SendEvent(evt insighttrack.Event)
	SetSendingActive(active bool) error
	SetUserProperty(ctx context.Context, name, value string) error
	IsInitialized() bool
	Stats() insighttrack.Stats
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// IngestResponse is returned by POST /v1/events.
type IngestResponse struct {
	Accepted int `json:"accepted"`
}

// SendingRequest is the body of PUT /v1/sending.
type SendingRequest struct {
	Active *bool `json:"active"`
}

// SendingResponse is returned by PUT /v1/sending.
type SendingResponse struct {
	SendingActive bool `json:"sending_active"`
}

// PropertyRequest is the body of PUT /v1/user-properties/{name}.
type PropertyRequest struct {
	Value string `json:"value"`
}

// Option configures the router.
type Option func(*server)

// WithLogger sets the logger. Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(s *server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics registers request metrics on reg and serves reg at /metrics.
// Without it, /metrics is not mounted.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(s *server) {
		s.registry = reg
	}
}

// WithMaxBodyBytes sets the request body limit. Values <= 0 keep the
// default.
func WithMaxBodyBytes(n int64) Option {
	return func(s *server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

type server struct {
	svc          Service
	logger       *slog.Logger
	registry     *prometheus.Registry
	metrics      *requestMetrics
	maxBodyBytes int64
}

// NewRouter builds the HTTP handler for svc.
//
// Routes:
//
//	POST /v1/events                  one event object or an array of them
//	PUT  /v1/sending                 {"active": true|false}
//	PUT  /v1/user-properties/{name}  {"value": "..."}
//	GET  /v1/status                  service Stats
//	GET  /healthz                    liveness
//	GET  /readyz                     200 once the service is initialized
//	GET  /metrics                    Prometheus exposition (WithMetrics only)
func NewRouter(svc Service, opts ...Option) (http.Handler, error) {
	s := &server{
		svc:          svc,
		logger:       slog.Default(),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.registry != nil {
		m, err := newRequestMetrics(s.registry)
		if err != nil {
			return nil, err
		}
		s.metrics = m
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.middleware)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", s.handleEvents)
		r.Put("/sending", s.handleSending)
		r.Put("/user-properties/{name}", s.handleUserProperty)
		r.Get("/status", s.handleStatus)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if s.svc.IsInitialized() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("initializing"))
	})

	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
			Registry: s.registry,
		}))
	}

	return r, nil
}

func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.requireJSON(w, r) {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "read body failed")
		return
	}

	events, err := decodeEvents(body)
	if err != nil {
		s.metrics.reject("invalid_json", 1)
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	for i, evt := range events {
		if strings.TrimSpace(evt.Name()) == "" {
			s.metrics.reject("missing_name", len(events))
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("event %d: name is required", i))
			return
		}
	}

	// Events are only routed once the whole batch is valid.
	for _, evt := range events {
		s.svc.SendEvent(evt)
	}

	s.logger.Debug("events ingested",
		slog.Int("count", len(events)),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
	writeJSON(w, http.StatusAccepted, IngestResponse{Accepted: len(events)})
}

func (s *server) handleSending(w http.ResponseWriter, r *http.Request) {
	var req SendingRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Active == nil {
		writeJSONError(w, http.StatusBadRequest, "active is required")
		return
	}

	if err := s.svc.SetSendingActive(*req.Active); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.logger.Info("sending toggled", slog.Bool("active", *req.Active))
	writeJSON(w, http.StatusOK, SendingResponse{SendingActive: *req.Active})
}

func (s *server) handleUserProperty(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req PropertyRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if err := s.svc.SetUserProperty(r.Context(), name, req.Value); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Stats())
}

// decodeEvents accepts a single event object or an array of events.
func decodeEvents(body []byte) ([]insighttrack.Event, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var events []insighttrack.Event
		if err := json.Unmarshal(body, &events); err != nil {
			return nil, err
		}
		return events, nil
	}

	var evt insighttrack.Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, err
	}
	return []insighttrack.Event{evt}, nil
}

func (s *server) requireJSON(w http.ResponseWriter, r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	return true
}

func (s *server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !s.requireJSON(w, r) {
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *server) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, insighttrack.ErrDisposed) {
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.logger.Error("service call failed", slog.String("error", err.Error()))
	writeJSONError(w, http.StatusInternalServerError, err.Error())
}
