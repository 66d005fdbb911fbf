// Package types contains public result types for the transaction blaster.
// These types form the external interface and must remain backwards-compatible.
package types

import "time"

// RunStatus represents the state of a blast run.
type RunStatus string

const (
	StatusPlanned   RunStatus = "planned"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusError     RunStatus = "error"
)

// PlanEntry is one wallet's slice of the distribution plan.
type PlanEntry struct {
	ID         int    `json:"id"`
	Address    string `json:"address"`
	Quota      uint64 `json:"quota"`
	StartNonce uint64 `json:"startNonce"`
}

// Plan is the full distribution plan for a run: which wallet sends how many
// transactions, starting at which nonce. Zero-quota wallets are not listed.
type Plan struct {
	Total   uint64      `json:"total"`
	Entries []PlanEntry `json:"entries"`
}

// WalletResult is the terminal outcome of one wallet's sender loop.
type WalletResult struct {
	ID         int    `json:"id"`
	Address    string `json:"address"`
	Quota      uint64 `json:"quota"`
	Sent       uint64 `json:"sent"`
	Failed     uint64 `json:"failed"`
	FinalNonce uint64 `json:"finalNonce"`

	// Confirmed is the on-chain nonce delta observed by the settlement
	// check, when enabled. It can lag Sent if transactions are still
	// pending when the check runs.
	Confirmed *uint64 `json:"confirmed,omitempty"`

	// Err is set when the loop itself failed to complete (as opposed to
	// completing with some failed transactions).
	Err string `json:"error,omitempty"`
}

// RetryStats aggregates recovery activity across all sender loops.
type RetryStats struct {
	NonceResyncs    uint64 `json:"nonceResyncs"`
	CongestionWaits uint64 `json:"congestionWaits"`
	GenericRetries  uint64 `json:"genericRetries"`
}

// LatencyStats summarizes broadcast round-trip times in milliseconds.
type LatencyStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Max   float64 `json:"max"`
}

// BlockStats summarizes chain activity observed by the newHeads watcher
// while the run was in flight.
type BlockStats struct {
	Blocks         int     `json:"blocks"`
	FirstBlock     uint64  `json:"firstBlock"`
	LastBlock      uint64  `json:"lastBlock"`
	GasUsed        uint64  `json:"gasUsed"`
	AvgBlockTimeMs float64 `json:"avgBlockTimeMs"`
}

// Summary is the aggregate outcome of a blast run.
type Summary struct {
	Status      RunStatus `json:"status"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	DurationMs  int64     `json:"durationMs"`

	ChainID uint64 `json:"chainId"`
	Target  string `json:"target"`
	Total   uint64 `json:"total"`

	WalletsLoaded   int `json:"walletsLoaded"`   // valid keys parsed
	WalletsSkipped  int `json:"walletsSkipped"`  // malformed keys
	WalletsExcluded int `json:"walletsExcluded"` // nonce fetch failed
	WalletsPlanned  int `json:"walletsPlanned"`  // received a non-zero quota

	TxSent          uint64 `json:"txSent"`
	TxFailed        uint64 `json:"txFailed"`
	IncompleteLoops int    `json:"incompleteLoops"`
	SendTPS         float64 `json:"sendTps"`

	Retries RetryStats     `json:"retries"`
	Results []WalletResult `json:"results"`

	Latency *LatencyStats `json:"latency,omitempty"`
	Blocks  *BlockStats   `json:"blocks,omitempty"`
}
