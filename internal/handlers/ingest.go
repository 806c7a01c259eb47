package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
)

const maxBodyBytes = 1 << 20

// Ingest accepts one measurement and acknowledges it with its storage location
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var m models.Measurement
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&m); err != nil {
		metrics.MeasurementsRejected.WithLabelValues("http", "invalid_measurement").Inc()
		if !errors.Is(err, models.ErrInvalidMeasurement) {
			err = &models.ValidationError{Field: "body", Message: err.Error()}
		}
		h.writeDomainError(w, err)
		return
	}

	location, err := h.deps.Store.Append(r.Context(), m)
	if err != nil {
		metrics.MeasurementsRejected.WithLabelValues("http", errorCode(err)).Inc()
		h.logger.Warn("Measurement rejected", "breaker_id", m.BreakerID, "error", err)
		h.writeDomainError(w, err)
		return
	}

	metrics.MeasurementsIngested.WithLabelValues("http").Inc()
	writeJSON(w, http.StatusCreated, map[string]string{
		"status":   "ok",
		"location": location,
	})
}
