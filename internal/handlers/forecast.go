package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/forecast"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
)

// ForecastRequest carries the history to forecast from. Each entry of Data is
// a measurement object or a string holding one measurement's JSON. When Data
// is empty the store's current contents are used.
type ForecastRequest struct {
	Data        []json.RawMessage `json:"data"`
	HorizonDays int               `json:"horizon_days"`
	BreakerID   string            `json:"breaker_id"`
}

func decodeMeasurements(raw []json.RawMessage) ([]models.Measurement, error) {
	out := make([]models.Measurement, 0, len(raw))
	for i, item := range raw {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '"' {
			var s string
			if err := json.Unmarshal(item, &s); err != nil {
				return nil, &models.ValidationError{Field: fmt.Sprintf("data[%d]", i), Message: err.Error()}
			}
			item = []byte(s)
		}
		var m models.Measurement
		if err := json.Unmarshal(item, &m); err != nil {
			return nil, &models.ValidationError{Field: fmt.Sprintf("data[%d]", i), Message: err.Error()}
		}
		out = append(out, m)
	}
	return out, nil
}

// Forecast projects consumption and cost over the requested horizon
func (h *Handler) Forecast(w http.ResponseWriter, r *http.Request) {
	var req ForecastRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16*maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.HorizonDays < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "horizon_days must not be negative")
		return
	}

	ms, err := decodeMeasurements(req.Data)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if len(req.Data) == 0 {
		ms = h.deps.Store.Snapshot()
	}

	result, err := h.deps.Forecaster.Forecast(r.Context(), forecast.Input{
		Measurements:  ms,
		BreakerID:     req.BreakerID,
		Horizon:       req.HorizonDays,
		Model:         h.deps.Model,
		SequenceModel: h.deps.SequenceModel,
	})
	if err != nil {
		metrics.ForecastFailures.WithLabelValues(errorCode(err)).Inc()
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
