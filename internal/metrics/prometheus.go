package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromMetrics exposes run counters to a Prometheus scrape endpoint, for
// watching long blasts from the outside.
type PromMetrics struct {
	TxTotal          *prometheus.CounterVec
	RetriesTotal     *prometheus.CounterVec
	NonceResyncs     prometheus.Counter
	BroadcastLatency prometheus.Histogram
	Wallets          prometheus.Gauge
}

// NewPromMetrics creates and registers all Prometheus collectors. A nil
// registerer uses the default registry.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PromMetrics{
		TxTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blaster_transactions_total",
				Help: "Transactions by terminal status",
			},
			[]string{"status"},
		),

		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blaster_retries_total",
				Help: "Send retries by recovery reason",
			},
			[]string{"reason"},
		),

		NonceResyncs: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "blaster_nonce_resyncs_total",
				Help: "Local nonce resynchronizations from the node's pending view",
			},
		),

		BroadcastLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "blaster_broadcast_latency_seconds",
				Help:    "eth_sendRawTransaction round-trip time",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
			},
		),

		Wallets: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "blaster_wallets",
				Help: "Sender loops currently running",
			},
		),
	}
}

// ListenAndServe exposes the default registry on addr under /metrics.
// It blocks, so callers run it in a goroutine; a listener failure only
// costs the scrape endpoint, never the run.
func ListenAndServe(addr string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics listener stopped", "addr", addr, "error", err)
	}
}
