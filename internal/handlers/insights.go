package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/cache"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/insight"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
)

// ContextRequest asks for the assistant context block
type ContextRequest struct {
	Devices     []models.Device `json:"devices"`
	BreakerID   string          `json:"breaker_id"`
	HorizonDays int             `json:"horizon_days"`
}

// Insights returns the composed payload, served from cache when possible
func (h *Handler) Insights(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	horizon := 0
	if raw := q.Get("horizon_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "horizon_days must be a non-negative integer")
			return
		}
		horizon = n
	}

	p, hit := h.compose(r.Context(), q.Get("breaker_id"), horizon)
	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSON(w, http.StatusOK, p)
}

// InsightContext renders the payload and the caller's devices as plain text
func (h *Handler) InsightContext(w http.ResponseWriter, r *http.Request) {
	var req ContextRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16*maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.HorizonDays < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "horizon_days must not be negative")
		return
	}

	p, _ := h.compose(r.Context(), req.BreakerID, req.HorizonDays)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(insight.RenderContext(p, req.Devices)))
}

func (h *Handler) compose(ctx context.Context, breakerID string, horizon int) (insight.Payload, bool) {
	ms := h.deps.Store.Snapshot()
	key := cache.Fingerprint(ms, breakerID, strconv.Itoa(horizon))

	if h.deps.Cache != nil {
		cached, err := h.deps.Cache.GetPayload(ctx, key)
		if err != nil {
			h.logger.Warn("Insight cache read failed", "error", err)
		} else if cached != nil {
			return *cached, true
		}
	}

	p := h.deps.Composer.Compose(ctx, ms, insight.Options{
		Model:         h.deps.Model,
		SequenceModel: h.deps.SequenceModel,
		BreakerID:     breakerID,
		Horizon:       horizon,
	})
	if p.Anomalies.Available {
		recordFlagged(p.Anomalies.Profile, p.Anomalies.Report)
	}
	if p.Leakage.Available {
		recordFlagged(p.Leakage.Profile, p.Leakage.Report)
	}

	if h.deps.Cache != nil && !timedOut(p) {
		if err := h.deps.Cache.SavePayload(ctx, key, p); err != nil {
			h.logger.Warn("Insight cache write failed", "error", err)
		}
	}
	return p, false
}

// timedOut payloads are not cached since a retry may complete in time
func timedOut(p insight.Payload) bool {
	return p.Anomalies.Error == insight.TimedOut ||
		p.Leakage.Error == insight.TimedOut ||
		p.Forecast.Error == insight.TimedOut
}
