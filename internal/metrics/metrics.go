package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	MeasurementsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "measurements_ingested_total",
			Help: "Measurements accepted into the store",
		},
		[]string{"source"},
	)

	MeasurementsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "measurements_rejected_total",
			Help: "Measurements refused by the store",
		},
		[]string{"source", "reason"},
	)

	AnomaliesFlagged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anomaly_breaker_days_flagged_total",
			Help: "Breaker days flagged by anomaly detection runs",
		},
		[]string{"profile"},
	)

	ForecastFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecast_failures_total",
			Help: "Forecasts that could not be produced",
		},
		[]string{"reason"},
	)

	BillingFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daily_billing_flushes_total",
			Help: "Daily billing rollup flushes to InfluxDB",
		},
		[]string{"status"},
	)
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and durations labelled by route template
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}
		RequestDurationSeconds.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}
