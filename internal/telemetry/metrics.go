package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	exchangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "icb_exchanges_total",
		Help: "Console exchanges by outcome.",
	}, []string{"outcome"})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "icb_retries_total",
		Help: "Re-issued exchanges for silently dropped replies.",
	})

	exchangeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "icb_exchange_duration_seconds",
		Help:    "Latency of one command/response exchange.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})
)

// RecordExchange counts one completed exchange.
func RecordExchange(outcome string, latency time.Duration) {
	exchangesTotal.WithLabelValues(outcome).Inc()
	exchangeDuration.Observe(latency.Seconds())
}

// RecordRetry counts one re-issued exchange.
func RecordRetry() {
	retriesTotal.Inc()
}

// MetricsHandler exposes the Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
