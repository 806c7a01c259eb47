package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/anomaly"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/forecast"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/insight"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/logger"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/store"
)

// MeasurementStore is the part of the store the HTTP surface uses
type MeasurementStore interface {
	Append(ctx context.Context, m models.Measurement) (string, error)
	Query(f store.Filter) []models.Measurement
	Snapshot() []models.Measurement
	Len() int
}

// PayloadCache caches composed insights. GetPayload returns nil on a miss.
type PayloadCache interface {
	GetPayload(ctx context.Context, key string) (*insight.Payload, error)
	SavePayload(ctx context.Context, key string, p insight.Payload) error
}

// Dependencies wires the handler. Cache, Model and SequenceModel are optional.
type Dependencies struct {
	Store          MeasurementStore
	Detector       *anomaly.Detector
	Forecaster     *forecast.Forecaster
	Composer       *insight.Composer
	Model          forecast.Model
	SequenceModel  forecast.SequenceModel
	Cache          PayloadCache
	UnitPrice      float64
	DefaultProfile anomaly.Profile
	Logger         *logger.Logger
}

// Handler serves the insight API
type Handler struct {
	deps   Dependencies
	logger *logger.Logger
}

func New(deps Dependencies) *Handler {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	if deps.DefaultProfile.Name == "" {
		deps.DefaultProfile = anomaly.ProfileFault
	}
	return &Handler{deps: deps, logger: log.WithComponent("http")}
}

// Router registers every route on a new mux router
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(metrics.Middleware)

	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/ingest", h.Ingest).Methods(http.MethodPost)
	r.HandleFunc("/forecast", h.Forecast).Methods(http.MethodPost)
	r.HandleFunc("/billing", h.Billing).Methods(http.MethodGet)
	r.HandleFunc("/energy-share", h.EnergyShare).Methods(http.MethodGet)
	r.HandleFunc("/anomalies", h.Anomalies).Methods(http.MethodGet)
	r.HandleFunc("/insights", h.Insights).Methods(http.MethodGet)
	r.HandleFunc("/insights/context", h.InsightContext).Methods(http.MethodPost)
	r.Path("/metrics").Handler(promhttp.Handler())
	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "healthy",
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"measurements": h.deps.Store.Len(),
	})
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeDomainError maps the shared error taxonomy onto HTTP statuses
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidMeasurement):
		writeError(w, http.StatusBadRequest, "invalid_measurement", err.Error())
	case errors.Is(err, models.ErrDuplicateMeasurement):
		writeError(w, http.StatusConflict, "duplicate_measurement", err.Error())
	case errors.Is(err, models.ErrPersistenceFailure):
		writeError(w, http.StatusBadGateway, "persistence_failure", err.Error())
	case errors.Is(err, models.ErrInsufficientData):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_data", err.Error())
	case errors.Is(err, models.ErrModelUnavailable):
		writeError(w, http.StatusServiceUnavailable, "model_unavailable", err.Error())
	default:
		h.logger.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidMeasurement):
		return "invalid_measurement"
	case errors.Is(err, models.ErrDuplicateMeasurement):
		return "duplicate"
	case errors.Is(err, models.ErrPersistenceFailure):
		return "persistence_failure"
	case errors.Is(err, models.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, models.ErrModelUnavailable):
		return "model_unavailable"
	default:
		return "other"
	}
}
