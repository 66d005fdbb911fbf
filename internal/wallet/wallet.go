// Package wallet loads signing keys and tracks per-wallet nonce state.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cryptondee/megaeth/internal/rpc"
)

// Wallet holds one signing key and its local nonce counter. The counter is
// written during nonce initialization and afterwards only by the wallet's own
// sender loop, so it needs no locking.
type Wallet struct {
	ID         int
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address

	nonce uint64
}

// New creates a wallet from a private key.
func New(id int, privateKey *ecdsa.PrivateKey) *Wallet {
	return &Wallet{
		ID:         id,
		PrivateKey: privateKey,
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// NewFromHex creates a wallet from a hex-encoded private key. A 0x prefix is
// accepted and stripped.
func NewFromHex(id int, hexKey string) (*Wallet, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, err
	}
	return New(id, privateKey), nil
}

// Nonce returns the current local nonce.
func (w *Wallet) Nonce() uint64 {
	return w.nonce
}

// SetNonce overwrites the local nonce, typically with a value fetched from
// the node.
func (w *Wallet) SetNonce(nonce uint64) {
	w.nonce = nonce
}

// Advance increments the local nonce after a confirmed-sent transaction.
func (w *Wallet) Advance() {
	w.nonce++
}

// ParseKeys builds wallets from a comma-separated list of hex private keys.
// Malformed keys and duplicate addresses are skipped with a warning; the run
// continues with whatever remains. Wallet IDs are positions in the returned
// slice so log lines and result rows correlate.
func ParseKeys(csv string, logger *slog.Logger) (wallets []*Wallet, skipped int) {
	if logger == nil {
		logger = slog.Default()
	}

	seen := make(map[common.Address]bool)
	for i, raw := range strings.Split(csv, ",") {
		key := strings.TrimSpace(raw)
		if key == "" {
			continue
		}

		w, err := NewFromHex(len(wallets), key)
		if err != nil {
			logger.Warn("skipping malformed private key",
				slog.Int("position", i),
				slog.String("error", err.Error()),
			)
			skipped++
			continue
		}

		if seen[w.Address] {
			logger.Warn("skipping duplicate key",
				slog.Int("position", i),
				slog.String("address", w.Address.Hex()),
			)
			skipped++
			continue
		}
		seen[w.Address] = true

		wallets = append(wallets, w)
	}

	return wallets, skipped
}

// InitNonces fetches the pending nonce for every wallet with bounded
// concurrency. Wallets whose fetch fails are excluded from the returned slice
// (input order preserved for the rest) and logged; they are not retried.
func InitNonces(ctx context.Context, client rpc.Client, wallets []*Wallet, concurrency int, logger *slog.Logger) (ready []*Wallet, excluded int) {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}

	ok := make([]bool, len(wallets))

	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	for i, w := range wallets {
		wg.Add(1)
		go func(idx int, w *Wallet) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			nonce, err := client.GetNonce(ctx, w.Address.Hex())
			if err != nil {
				logger.Warn("nonce fetch failed, excluding wallet from run",
					slog.Int("wallet", w.ID),
					slog.String("address", w.Address.Hex()),
					slog.String("error", err.Error()),
				)
				return
			}

			w.SetNonce(nonce)
			ok[idx] = true
			logger.Debug("wallet nonce initialized",
				slog.Int("wallet", w.ID),
				slog.String("address", w.Address.Hex()),
				slog.Uint64("nonce", nonce),
			)
		}(i, w)
	}

	wg.Wait()

	for i, w := range wallets {
		if ok[i] {
			ready = append(ready, w)
		} else {
			excluded++
		}
	}

	return ready, excluded
}

// Underfunded checks wallet balances with bounded concurrency and returns the
// wallets whose balance is below required. Balance check failures are treated
// as funded (the check is advisory; the run must not lose wallets to it).
func Underfunded(ctx context.Context, client rpc.Client, wallets []*Wallet, required *big.Int, concurrency int, logger *slog.Logger) []*Wallet {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}

	low := make([]bool, len(wallets))

	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	for i, w := range wallets {
		wg.Add(1)
		go func(idx int, w *Wallet) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			balance, err := client.GetBalance(ctx, w.Address.Hex())
			if err != nil {
				logger.Debug("balance check failed",
					slog.Int("wallet", w.ID),
					slog.String("error", err.Error()),
				)
				return
			}
			low[idx] = balance.Cmp(required) < 0
		}(i, w)
	}

	wg.Wait()

	var underfunded []*Wallet
	for i, w := range wallets {
		if low[i] {
			underfunded = append(underfunded, w)
		}
	}
	return underfunded
}
