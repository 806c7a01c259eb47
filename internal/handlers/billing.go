package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/aggregator"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/anomaly"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/metrics"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/models"
	"github.com/kanna-karuppasamy/smart-grid-breaker-insights/internal/store"
)

// parseBound accepts a calendar date or any timestamp the ingestion path accepts
func parseBound(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(models.DateLayout, raw); err == nil {
		return t, nil
	}
	return models.ParseTimestamp(raw)
}

// Billing returns daily billing records and per-breaker totals
func (h *Handler) Billing(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseBound(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "from: "+err.Error())
		return
	}
	to, err := parseBound(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "to: "+err.Error())
		return
	}

	ms := h.deps.Store.Query(store.Filter{BreakerID: q.Get("breaker_id"), From: from, To: to})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"unit_price": h.deps.UnitPrice,
		"daily":      aggregator.AggregateByDay(ms, h.deps.UnitPrice),
		"totals":     aggregator.TotalsByBreaker(ms, h.deps.UnitPrice),
	})
}

// EnergyShare reports each breaker's share of total consumption
func (h *Handler) EnergyShare(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, aggregator.EnergyShare(h.deps.Store.Snapshot()))
}

// Anomalies runs one detection over the current store contents
func (h *Handler) Anomalies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	profile := h.deps.DefaultProfile
	if name := q.Get("profile"); name != "" {
		p, err := anomaly.ParseProfile(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		profile = p
	}

	detector := h.deps.Detector
	if raw := q.Get("contamination"); raw != "" {
		c, err := strconv.ParseFloat(raw, 64)
		if err != nil || c <= 0 || c > 0.5 {
			writeError(w, http.StatusBadRequest, "invalid_request", "contamination must be a number in (0, 0.5]")
			return
		}
		detector = detector.WithContamination(c)
	}

	report, err := detector.Detect(r.Context(), h.deps.Store.Snapshot(), profile)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	recordFlagged(profile.Name, report)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"profile":   profile.Name,
		"anomalies": report,
	})
}

func recordFlagged(profile string, report models.AnomalyReport) {
	days := 0
	for _, dates := range report {
		days += len(dates)
	}
	metrics.AnomaliesFlagged.WithLabelValues(profile).Add(float64(days))
}
