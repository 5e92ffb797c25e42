package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecast_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forecast_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	// Forecast acquisition
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecast_refresh_total",
			Help: "Forecast refreshes by outcome",
		},
		[]string{"symbol", "outcome"}, // outcome: applied, stale, failed
	)

	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forecast_refresh_duration_seconds",
			Help:    "Time to acquire a reference price and snapshot",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReferencePriceMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecast_reference_price_misses_total",
			Help: "Refreshes that fell back to the series price",
		},
		[]string{"symbol"},
	)

	// Alerts
	AlertsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecast_alerts_triggered_total",
			Help: "Triggered alerts by condition kind",
		},
		[]string{"symbol", "kind"},
	)

	AlertsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "forecast_alerts_live",
			Help: "Triggered alerts awaiting dismissal",
		},
	)

	AlertDefinitions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "forecast_alert_definitions",
			Help: "Registered alert definitions",
		},
	)

	WebhookFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forecast_webhook_failures_total",
			Help: "Failed webhook deliveries",
		},
	)

	// Push channels
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "forecast_websocket_clients",
			Help: "Connected websocket clients",
		},
	)

	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecast_publish_errors_total",
			Help: "Failed NATS publishes by subject kind",
		},
		[]string{"subject"},
	)
)

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// InstrumentHandler records request count and latency under a fixed route label
func InstrumentHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
