// Package api provides the HTTP control surface of defisync.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"defisync/internal/backend"
	"defisync/internal/defi"
	"defisync/internal/notify"
	"defisync/internal/prices"
	"defisync/internal/protocol"
	"defisync/internal/status"
)

// TaskLister lists the backend tasks currently being awaited
type TaskLister interface {
	Pending() []backend.TaskInfo
}

// NotificationStore keeps the notifications shown to the user
type NotificationStore interface {
	List() []notify.Notification
	Dismiss(id string) bool
}

// ServerOption configures the API server
type ServerOption func(*serverConfig)

type serverConfig struct {
	middlewares []func(http.Handler) http.Handler
	metrics     http.Handler
	prices      *prices.Service
	version     string
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithMetricsHandler serves h on /metrics
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metrics = h
	}
}

// WithPrices serves the price routes under /prices
func WithPrices(svc *prices.Service) ServerOption {
	return func(cfg *serverConfig) {
		cfg.prices = svc
	}
}

// WithVersion sets the version reported by /health
func WithVersion(version string) ServerOption {
	return func(cfg *serverConfig) {
		cfg.version = version
	}
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the answer of /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// OperationResponse reports whether a triggered operation ran or was declined
type OperationResponse struct {
	Operation string `json:"operation"`
	Ran       bool   `json:"ran"`
}

// PurgeResponse reports a purged module
type PurgeResponse struct {
	Module string `json:"module"`
}

// ResetDBRequest selects the modules whose history is reset
type ResetDBRequest struct {
	Modules []string `json:"modules"`
}

// PricesResponse holds the latest prices
type PricesResponse struct {
	TargetAsset string             `json:"target_asset"`
	Prices      prices.AssetPrices `json:"prices"`
}

type routes struct {
	svc           *defi.Service
	registry      *status.Registry
	tasks         TaskLister
	notifications NotificationStore
	cfg           *serverConfig
}

// NewServer creates the HTTP router over the DeFi service
func NewServer(svc *defi.Service, registry *status.Registry, tasks TaskLister, notifications NotificationStore, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	rt := &routes{
		svc:           svc,
		registry:      registry,
		tasks:         tasks,
		notifications: notifications,
		cfg:           cfg,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/health", rt.health)
	r.Get("/status", rt.status)
	r.Get("/tasks", rt.pendingTasks)

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", rt.listNotifications)
		r.Delete("/{id}", rt.dismissNotification)
	})

	r.Route("/defi", func(r chi.Router) {
		r.Get("/balances", rt.balances)
		r.Get("/airdrops", rt.airdrops)
		r.Post("/reset_db", rt.resetDB)
		r.Post("/{operation}", rt.runOperation)
	})

	r.Post("/purge/{module}", rt.purge)

	if cfg.prices != nil {
		r.Route("/prices", func(r chi.Router) {
			r.Get("/", rt.latestPrices)
			r.Delete("/", rt.resetPrices)
			r.Post("/latest", rt.fetchLatestPrices)
			r.Get("/historic", rt.historicPrices)
			r.Post("/historic", rt.fetchHistoricPrices)
			r.Get("/manual", rt.manualPrices)
			r.Put("/manual", rt.setManualPrice)
			r.Put("/historical", rt.addHistoricalPrice)
			r.Delete("/historical", rt.deleteHistoricalPrice)
		})
	}
	if cfg.metrics != nil {
		r.Handle("/metrics", cfg.metrics)
	}

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (rt *routes) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: rt.cfg.version})
}

func (rt *routes) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.registry.Snapshot())
}

func (rt *routes) pendingTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.tasks.Pending())
}

func (rt *routes) listNotifications(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.notifications.List())
}

func (rt *routes) dismissNotification(w http.ResponseWriter, r *http.Request) {
	if !rt.notifications.Dismiss(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *routes) balances(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.svc.Balances())
}

func (rt *routes) airdrops(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.svc.Airdrops())
}

// runOperation runs the operation to completion. The fetch outlives a client
// that disconnects, so a section is never left in flight.
func (rt *routes) runOperation(w http.ResponseWriter, r *http.Request) {
	op, err := defi.ParseOperation(chi.URLParam(r, "operation"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	refresh, err := parseRefresh(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ran, err := rt.svc.Run(context.WithoutCancel(r.Context()), op, refresh)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, OperationResponse{Operation: string(op), Ran: ran})
}

func (rt *routes) resetDB(w http.ResponseWriter, r *http.Request) {
	var req ResetDBRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	modules := make([]protocol.Module, 0, len(req.Modules))
	for _, name := range req.Modules {
		m, err := protocol.ParseModule(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		modules = append(modules, m)
	}

	ran := rt.svc.ResetDB(context.WithoutCancel(r.Context()), modules)
	writeJSON(w, http.StatusOK, OperationResponse{Operation: "reset_db", Ran: ran})
}

func (rt *routes) purge(w http.ResponseWriter, r *http.Request) {
	m, err := protocol.ParseModule(chi.URLParam(r, "module"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if err := rt.svc.Purge(m); err != nil {
		if errors.Is(err, defi.ErrUnknownModule) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, PurgeResponse{Module: m.String()})
}

func parseRefresh(r *http.Request) (bool, error) {
	raw := r.URL.Query().Get("refresh")
	if raw == "" {
		return false, nil
	}
	refresh, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.New("refresh must be a boolean")
	}
	return refresh, nil
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, ErrorResponse{Error: message})
}
