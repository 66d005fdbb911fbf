// Package watcher subscribes to newHeads over WebSocket and records the
// chain activity observed while a run is in flight.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cryptondee/megaeth/pkg/types"
)

// Watcher consumes a newHeads subscription and aggregates block stats.
// Everything here is advisory: connection or read failures log a warning
// and leave the run untouched.
type Watcher struct {
	url    string
	logger *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn
	closed bool

	mu         sync.Mutex
	blocks     int
	firstBlock uint64
	lastBlock  uint64
	gasUsed    uint64
	firstSeen  time.Time
	lastSeen   time.Time
}

// New creates a watcher for the given WebSocket endpoint.
func New(url string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{url: url, logger: logger}
}

// Run dials the endpoint, subscribes to newHeads, and consumes headers
// until the connection drops, ctx is done, or Stop is called. It blocks;
// callers run it in a goroutine.
func (w *Watcher) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("block watcher panic", "panic", r)
		}
	}()

	conn, _, err := websocket.DefaultDialer.Dial(w.url, nil)
	if err != nil {
		w.logger.Warn("block watcher connect failed", "url", w.url, "error", err)
		return
	}

	w.connMu.Lock()
	if w.closed {
		w.connMu.Unlock()
		conn.Close()
		return
	}
	w.conn = conn
	w.connMu.Unlock()

	w.logger.Info("block watcher connected", "url", w.url)

	subscribeMsg := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "eth_subscribe",
		"params":  []string{"newHeads"},
		"id":      1,
	}
	if err := conn.WriteJSON(subscribeMsg); err != nil {
		w.logger.Warn("newHeads subscribe failed", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var msg struct {
			JSONRPC string `json:"jsonrpc"`
			Method  string `json:"method"`
			Params  *struct {
				Result struct {
					Number  string `json:"number"`
					GasUsed string `json:"gasUsed"`
				} `json:"result"`
			} `json:"params"`
		}

		if err := conn.ReadJSON(&msg); err != nil {
			w.connMu.Lock()
			stopped := w.closed
			w.conn = nil
			w.connMu.Unlock()

			if stopped || ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				w.logger.Debug("block watcher connection closed", "error", err)
				return
			}
			w.logger.Warn("block watcher read error", "error", err)
			return
		}

		// Subscription acks and other responses have no params.
		if msg.Params != nil {
			w.recordHead(msg.Params.Result.Number, msg.Params.Result.GasUsed)
		}
	}
}

// Stop closes the connection so a blocked read returns. Safe to call more
// than once and before Run connects.
func (w *Watcher) Stop() {
	w.connMu.Lock()
	defer w.connMu.Unlock()
	w.closed = true
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}

// recordHead folds one header into the aggregate.
func (w *Watcher) recordHead(numberHex, gasUsedHex string) {
	blockNumber, err := parseHexUint64(numberHex)
	if err != nil {
		w.logger.Debug("unparseable block number", "value", numberHex, "error", err)
		return
	}
	gasUsed, _ := parseHexUint64(gasUsedHex)

	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	// Reorgs and duplicate notifications can replay old heads.
	if w.blocks > 0 && blockNumber <= w.lastBlock {
		return
	}

	if w.blocks == 0 {
		w.firstBlock = blockNumber
		w.firstSeen = now
	}
	w.blocks++
	w.lastBlock = blockNumber
	w.gasUsed += gasUsed
	w.lastSeen = now

	w.logger.Debug("new head", "block", blockNumber, "gasUsed", gasUsed)
}

// Stats returns what the watcher observed, or nil when no block arrived.
func (w *Watcher) Stats() *types.BlockStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.blocks == 0 {
		return nil
	}

	stats := &types.BlockStats{
		Blocks:     w.blocks,
		FirstBlock: w.firstBlock,
		LastBlock:  w.lastBlock,
		GasUsed:    w.gasUsed,
	}
	if w.blocks > 1 {
		stats.AvgBlockTimeMs = float64(w.lastSeen.Sub(w.firstSeen).Milliseconds()) / float64(w.blocks-1)
	}
	return stats
}

// parseHexUint64 parses a hex string (with or without 0x prefix) to uint64.
func parseHexUint64(s string) (uint64, error) {
	if len(s) > 2 && s[:2] == "0x" {
		s = s[2:]
	}
	var n uint64
	_, err := fmt.Sscanf(s, "%x", &n)
	return n, err
}
