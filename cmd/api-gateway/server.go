package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bl8ckfz/forecast-alerts/internal/alerts"
	"github.com/bl8ckfz/forecast-alerts/internal/binance"
	"github.com/bl8ckfz/forecast-alerts/internal/dashboard"
	"github.com/bl8ckfz/forecast-alerts/internal/forecast"
	"github.com/bl8ckfz/forecast-alerts/pkg/observability"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const maxBodyBytes = 1 << 20

// historyReader is satisfied by *alerts.HistoryReader
type historyReader interface {
	Recent(ctx context.Context, symbol string, limit int) ([]alerts.TriggeredAlert, error)
}

type server struct {
	logger         *observability.Logger
	health         *observability.HealthChecker
	controller     *dashboard.Controller
	history        historyReader
	hub            *hub
	rateLimiter    *rateLimiter
	allowedOrigins map[string]bool
	refreshTimeout time.Duration

	db           *pgxpool.Pool
	redis        *redis.Client
	nc           *nats.Conn
	persister    *alerts.AlertPersister
	dispatch     *dispatchListener
	tickerStream *binance.TickerStream
}

func newServer(controller *dashboard.Controller, health *observability.HealthChecker, logger *observability.Logger, rate int, window time.Duration, origins []string) *server {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &server{
		logger:         logger,
		health:         health,
		controller:     controller,
		hub:            newHub(logger.Component("ws-hub"), allowed),
		rateLimiter:    newRateLimiter(rate, window),
		allowedOrigins: allowed,
		refreshTimeout: 15 * time.Second,
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	// Observability endpoints
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /health/live", s.health.LivenessHandler())
	mux.HandleFunc("GET /health/ready", s.health.ReadinessHandler())

	api := func(pattern, route string, h http.HandlerFunc) {
		mux.Handle(pattern, observability.InstrumentHandler(route, s.rateLimit(h)))
	}

	api("GET /api/catalog", "/api/catalog", s.handleCatalog)
	api("GET /api/forecast", "/api/forecast", s.handleRefresh)
	api("GET /api/forecast/current", "/api/forecast/current", s.handleCurrent)
	api("GET /api/alerts/definitions", "/api/alerts/definitions", s.handleListDefinitions)
	api("POST /api/alerts/definitions", "/api/alerts/definitions", s.handleCreateDefinition)
	api("DELETE /api/alerts/definitions/{id}", "/api/alerts/definitions/{id}", s.handleDeleteDefinition)
	api("GET /api/alerts", "/api/alerts", s.handleLiveAlerts)
	api("DELETE /api/alerts/{id}", "/api/alerts/{id}", s.handleDismiss)
	api("GET /api/alerts/history", "/api/alerts/history", s.handleHistory)

	// websocket upgrades need the raw ResponseWriter
	mux.HandleFunc("GET /ws/alerts", s.hub.serveWS)

	return s.cors(mux)
}

func (s *server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"currencies": forecast.Currencies,
		"horizons":   forecast.Horizons,
	})
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := strings.TrimSpace(q.Get("symbol"))
	if _, ok := forecast.LookupCurrency(symbol); !ok {
		s.writeError(w, http.StatusBadRequest, "unknown_symbol", "symbol must be one of the catalog currencies")
		return
	}

	// first catalog horizon, as the dashboard selects by default
	horizon := forecast.Horizons[0].Value
	if raw := strings.TrimSpace(q.Get("horizon")); raw != "" {
		h, err := forecast.ParseHorizon(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "unknown_horizon", err.Error())
			return
		}
		horizon = h
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.refreshTimeout)
	defer cancel()

	view, err := s.controller.Refresh(ctx, symbol, horizon)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, view)
	case errors.Is(err, dashboard.ErrStaleResponse):
		s.writeError(w, http.StatusConflict, "stale_response", "a newer forecast request superseded this one")
	case errors.Is(err, dashboard.ErrAcquisition):
		s.writeError(w, http.StatusBadGateway, "acquisition_failed", view.Error)
	default:
		s.writeError(w, http.StatusInternalServerError, "refresh_failed", err.Error())
	}
}

func (s *server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		s.writeJSON(w, http.StatusOK, s.controller.View())
		return
	}
	if _, ok := forecast.LookupCurrency(symbol); !ok {
		s.writeError(w, http.StatusBadRequest, "unknown_symbol", "symbol must be one of the catalog currencies")
		return
	}
	s.writeJSON(w, http.StatusOK, s.controller.ViewFor(symbol))
}

type definitionResponse struct {
	alerts.Definition
	Description string `json:"description"`
}

func toDefinitionResponse(d alerts.Definition) definitionResponse {
	return definitionResponse{Definition: d, Description: d.Condition.Describe()}
}

func (s *server) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs := s.controller.Definitions(strings.TrimSpace(r.URL.Query().Get("symbol")))
	out := make([]definitionResponse, 0, len(defs))
	for _, d := range defs {
		out = append(out, toDefinitionResponse(d))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *server) handleCreateDefinition(w http.ResponseWriter, r *http.Request) {
	var req alerts.DefinitionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	def, err := s.controller.AddDefinition(req)
	if err != nil {
		var verr *alerts.ValidationError
		if errors.As(err, &verr) {
			s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":   "invalid_definition",
				"message": alerts.ErrInvalidDefinition.Error(),
				"fields":  verr.Fields,
			})
			return
		}
		s.writeError(w, http.StatusInternalServerError, "create_failed", err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, toDefinitionResponse(def))
}

func (s *server) handleDeleteDefinition(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.RemoveDefinition(r.PathValue("id")); err != nil {
		if errors.Is(err, alerts.ErrDefinitionNotFound) {
			s.writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, "delete_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleLiveAlerts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.controller.Alerts())
}

func (s *server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	dismissed, err := s.controller.Dismiss(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, alerts.ErrAlertNotFound) {
			s.writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, "dismiss_failed", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, dismissed)
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "history_disabled", "alert history requires PostgreSQL")
		return
	}

	q := r.URL.Query()
	symbol := strings.TrimSpace(q.Get("symbol"))
	limit := clamp(toInt(q.Get("limit"), 100), 1, 500)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	results, err := s.history.Recent(ctx, symbol, limit)
	if err != nil {
		s.logger.Error("alert history query failed", err)
		s.writeError(w, http.StatusInternalServerError, "query_failed", "could not load alert history")
		return
	}
	s.writeJSON(w, http.StatusOK, results)
}
