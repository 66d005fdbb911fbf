// Package blaster orchestrates a blast run: it loads wallets, initializes
// their nonces, splits the requested transaction count across them, and
// drives one sender loop per wallet until every quota is spent or abandoned.
package blaster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cryptondee/megaeth/internal/config"
	"github.com/cryptondee/megaeth/internal/metrics"
	"github.com/cryptondee/megaeth/internal/planner"
	"github.com/cryptondee/megaeth/internal/rpc"
	"github.com/cryptondee/megaeth/internal/txbuilder"
	"github.com/cryptondee/megaeth/internal/wallet"
	"github.com/cryptondee/megaeth/pkg/types"
)

// ErrNoWallets is returned when transactions were requested but no wallet
// survived key parsing and nonce initialization.
var ErrNoWallets = errors.New("no usable wallets")

// Engine runs a blast end to end against a single node.
type Engine struct {
	cfg     *config.Config
	client  rpc.Client
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New builds an engine for the given configuration. The metrics collector
// and logger may be nil, in which case fresh defaults are used.
func New(cfg *config.Config, client rpc.Client, m *metrics.Metrics, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, client: client, metrics: m, logger: logger}, nil
}

// Prep holds everything a run needs before the first transaction goes out:
// the wallets that survived loading, and the distribution plan over them.
type Prep struct {
	Ready    []*wallet.Wallet
	Plan     types.Plan
	Loaded   int // valid keys parsed
	Skipped  int // malformed or duplicate keys
	Excluded int // nonce fetch failed
}

func (p *Prep) walletsByID() map[int]*wallet.Wallet {
	byID := make(map[int]*wallet.Wallet, len(p.Ready))
	for _, w := range p.Ready {
		byID[w.ID] = w
	}
	return byID
}

// CheckChain verifies the node serves the configured chain. A mismatch is
// fatal: every transaction would be signed for the wrong chain and rejected,
// or worse, accepted somewhere it was never meant to go.
func (e *Engine) CheckChain(ctx context.Context) error {
	got, err := e.client.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("fetch chain id: %w", err)
	}
	if got != e.cfg.ChainID {
		return fmt.Errorf("chain id mismatch: node reports %d, configured %d", got, e.cfg.ChainID)
	}
	return nil
}

// Prepare parses keys, initializes nonces and builds the distribution plan.
// It returns ErrNoWallets when transactions were requested but nothing is
// left to send them; the returned Prep still carries the load counters so
// callers can report what happened.
func (e *Engine) Prepare(ctx context.Context) (*Prep, error) {
	wallets, skipped := wallet.ParseKeys(e.cfg.Keys, e.logger)
	prep := &Prep{Loaded: len(wallets), Skipped: skipped}

	ready, excluded := wallet.InitNonces(ctx, e.client, wallets, e.cfg.NonceConcurrency, e.logger)
	prep.Ready = ready
	prep.Excluded = excluded
	prep.Plan = planner.Build(e.cfg.Total, ready)

	if e.cfg.Total > 0 && len(ready) == 0 {
		return prep, fmt.Errorf("%w: %d keys skipped, %d wallets excluded", ErrNoWallets, skipped, excluded)
	}
	return prep, nil
}

// CheckBalances warns about wallets whose balance cannot cover their quota
// at the configured gas ceiling. Advisory only: underfunded wallets still
// run, and their sends fail through the normal retry path.
func (e *Engine) CheckBalances(ctx context.Context, prep *Prep) {
	if len(prep.Plan.Entries) == 0 {
		return
	}

	byID := prep.walletsByID()
	groups := make(map[uint64][]*wallet.Wallet)
	for _, entry := range prep.Plan.Entries {
		if w, ok := byID[entry.ID]; ok {
			groups[entry.Quota] = append(groups[entry.Quota], w)
		}
	}

	params := e.baseParams()
	for quota, group := range groups {
		required := txbuilder.MaxCost(quota, params)
		for _, w := range wallet.Underfunded(ctx, e.client, group, required, e.cfg.NonceConcurrency, e.logger) {
			e.logger.Warn("wallet balance may not cover its quota",
				slog.Int("wallet", w.ID),
				slog.String("address", w.Address.Hex()),
				slog.Uint64("quota", quota),
				slog.String("requiredWei", required.String()),
			)
		}
	}
}

// EstimatedCost returns the worst-case total spend, in wei, for n
// transactions at the configured gas ceiling.
func (e *Engine) EstimatedCost(n uint64) *big.Int {
	return txbuilder.MaxCost(n, e.baseParams())
}

// Run executes the full blast and returns the aggregate summary. Individual
// transaction failures are counted, not returned; the error is non-nil only
// for fatal conditions (chain mismatch, no usable wallets). When both a
// summary and an error are returned, the summary describes how far the run
// got.
func (e *Engine) Run(ctx context.Context) (*types.Summary, error) {
	started := time.Now()

	if err := e.CheckChain(ctx); err != nil {
		return nil, err
	}

	prep, err := e.Prepare(ctx)
	if err != nil {
		sum := e.summarize(started, prep, nil, 0)
		sum.Status = types.StatusError
		return sum, err
	}

	e.CheckBalances(ctx, prep)

	entries := prep.Plan.Entries
	byID := prep.walletsByID()
	results := make([]types.WalletResult, len(entries))

	e.metrics.SetActiveWallets(len(entries))
	e.logger.Info("blast started",
		slog.Uint64("total", prep.Plan.Total),
		slog.Int("wallets", len(entries)),
		slog.String("target", e.cfg.Target),
	)

	base := e.baseParams()
	chainID := new(big.Int).SetUint64(e.cfg.ChainID)

	blastStart := time.Now()
	var wg sync.WaitGroup
	for i, entry := range entries {
		w := byID[entry.ID]
		wg.Add(1)
		go func(idx int, entry types.PlanEntry, w *wallet.Wallet) {
			defer wg.Done()
			defer e.metrics.WalletDone()
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("sender loop panicked",
						slog.Int("wallet", entry.ID),
						slog.Any("panic", r),
					)
					results[idx] = types.WalletResult{
						ID:         entry.ID,
						Address:    entry.Address,
						Quota:      entry.Quota,
						FinalNonce: w.Nonce(),
						Err:        fmt.Sprintf("panic: %v", r),
					}
				}
			}()

			loop := &senderLoop{
				wallet:            w,
				quota:             entry.Quota,
				client:            e.client,
				base:              base,
				chainID:           chainID,
				maxRetries:        e.cfg.MaxRetries,
				congestionBackoff: e.cfg.CongestionBackoff,
				sendDelay:         e.cfg.SendDelay,
				metrics:           e.metrics,
				logger:            e.logger,
			}
			results[idx] = loop.run(ctx)
		}(i, entry, w)
	}
	wg.Wait()
	blastDur := time.Since(blastStart)

	if e.cfg.SettleWait > 0 && len(entries) > 0 {
		e.settle(ctx, entries, results)
	}

	sum := e.summarize(started, prep, results, blastDur)
	e.logger.Info("blast finished",
		slog.Uint64("sent", sum.TxSent),
		slog.Uint64("failed", sum.TxFailed),
		slog.Int("incompleteLoops", sum.IncompleteLoops),
		slog.Duration("elapsed", blastDur),
	)
	return sum, nil
}

// settle waits for the configured settling period, then compares each
// wallet's confirmed nonce against its starting nonce to estimate how many
// of its transactions actually landed on chain.
func (e *Engine) settle(ctx context.Context, entries []types.PlanEntry, results []types.WalletResult) {
	e.logger.Info("waiting for transactions to settle", slog.Duration("wait", e.cfg.SettleWait))
	select {
	case <-ctx.Done():
		return
	case <-time.After(e.cfg.SettleWait):
	}

	for i, entry := range entries {
		confirmed, err := e.client.GetConfirmedNonce(ctx, entry.Address)
		if err != nil {
			e.logger.Debug("settlement check failed",
				slog.Int("wallet", entry.ID),
				slog.String("err", err.Error()),
			)
			continue
		}
		var delta uint64
		if confirmed > entry.StartNonce {
			delta = confirmed - entry.StartNonce
		}
		results[i].Confirmed = &delta
	}
}

func (e *Engine) summarize(started time.Time, prep *Prep, results []types.WalletResult, blastDur time.Duration) *types.Summary {
	completed := time.Now()
	sum := &types.Summary{
		Status:      types.StatusCompleted,
		StartedAt:   started,
		CompletedAt: completed,
		DurationMs:  completed.Sub(started).Milliseconds(),
		ChainID:     e.cfg.ChainID,
		Target:      e.cfg.Target,
		Total:       e.cfg.Total,
		TxSent:      e.metrics.Sent(),
		TxFailed:    e.metrics.Failed(),
		Retries:     e.metrics.RetryStats(),
		Results:     results,
		Latency:     e.metrics.Latency(),
	}
	if prep != nil {
		sum.WalletsLoaded = prep.Loaded
		sum.WalletsSkipped = prep.Skipped
		sum.WalletsExcluded = prep.Excluded
		sum.WalletsPlanned = len(prep.Plan.Entries)
	}
	for i := range results {
		if results[i].Err != "" {
			sum.IncompleteLoops++
		}
	}
	if secs := blastDur.Seconds(); secs > 0 && sum.TxSent > 0 {
		sum.SendTPS = float64(sum.TxSent) / secs
	}
	return sum
}

// baseParams translates the run configuration into the one transaction shape
// every wallet broadcasts; only the nonce varies per send. CallData was
// validated with the rest of the configuration, so the parse cannot fail
// here.
func (e *Engine) baseParams() txbuilder.Params {
	data, _ := config.ParseCallData(e.cfg.CallData)
	return txbuilder.Params{
		ChainID:   new(big.Int).SetUint64(e.cfg.ChainID),
		To:        common.HexToAddress(e.cfg.Target),
		Value:     big.NewInt(e.cfg.ValueWei),
		GasLimit:  e.cfg.GasLimit,
		GasTipCap: big.NewInt(e.cfg.GasTipCapWei),
		GasFeeCap: big.NewInt(e.cfg.GasFeeCapWei),
		Data:      data,
		UseLegacy: e.cfg.UseLegacy,
	}
}
