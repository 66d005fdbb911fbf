// Package metrics collects run counters and broadcast latency statistics.
package metrics

import (
	"time"

	"github.com/cryptondee/megaeth/pkg/types"
)

// Metrics aggregates counters across all sender loops of one run. All
// methods are safe for concurrent use. The optional Prometheus mirror is
// updated in lockstep when attached.
type Metrics struct {
	sent            UCounter
	failed          UCounter
	nonceResyncs    UCounter
	congestionWaits UCounter
	genericRetries  UCounter

	latency *StreamingLatencyStats
	prom    *PromMetrics
}

// New creates an empty metrics set for a run.
func New() *Metrics {
	return &Metrics{latency: NewStreamingLatencyStats()}
}

// WithPrometheus mirrors every update into p's collectors.
func (m *Metrics) WithPrometheus(p *PromMetrics) *Metrics {
	m.prom = p
	return m
}

// RecordSend records a successful broadcast and its round-trip time.
func (m *Metrics) RecordSend(rtt time.Duration) {
	m.sent.Inc()
	m.latency.Add(float64(rtt.Microseconds()) / 1000.0)
	if m.prom != nil {
		m.prom.TxTotal.WithLabelValues("sent").Inc()
		m.prom.BroadcastLatency.Observe(rtt.Seconds())
	}
}

// RecordFailed records a logical transaction abandoned after its budgets
// ran out.
func (m *Metrics) RecordFailed() {
	m.failed.Inc()
	if m.prom != nil {
		m.prom.TxTotal.WithLabelValues("failed").Inc()
	}
}

// RecordNonceResync records a pending-nonce refetch, whether triggered by a
// conflict or by post-abandon cleanup.
func (m *Metrics) RecordNonceResync() {
	m.nonceResyncs.Inc()
	if m.prom != nil {
		m.prom.NonceResyncs.Inc()
		m.prom.RetriesTotal.WithLabelValues("nonce_conflict").Inc()
	}
}

// RecordCongestionWait records one backoff taken because the node reported
// a full queue.
func (m *Metrics) RecordCongestionWait() {
	m.congestionWaits.Inc()
	if m.prom != nil {
		m.prom.RetriesTotal.WithLabelValues("congestion").Inc()
	}
}

// RecordRetry records a retry after a generic broadcast error.
func (m *Metrics) RecordRetry() {
	m.genericRetries.Inc()
	if m.prom != nil {
		m.prom.RetriesTotal.WithLabelValues("generic").Inc()
	}
}

// SetActiveWallets publishes how many sender loops are running.
func (m *Metrics) SetActiveWallets(n int) {
	if m.prom != nil {
		m.prom.Wallets.Set(float64(n))
	}
}

// WalletDone marks one sender loop finished.
func (m *Metrics) WalletDone() {
	if m.prom != nil {
		m.prom.Wallets.Dec()
	}
}

// Sent returns the successful broadcast count.
func (m *Metrics) Sent() uint64 { return m.sent.Load() }

// Failed returns the abandoned transaction count.
func (m *Metrics) Failed() uint64 { return m.failed.Load() }

// RetryStats snapshots recovery activity for the summary.
func (m *Metrics) RetryStats() types.RetryStats {
	return types.RetryStats{
		NonceResyncs:    m.nonceResyncs.Load(),
		CongestionWaits: m.congestionWaits.Load(),
		GenericRetries:  m.genericRetries.Load(),
	}
}

// Latency returns broadcast round-trip statistics, or nil when nothing was
// sent.
func (m *Metrics) Latency() *types.LatencyStats {
	return m.latency.GetStats()
}
