package blaster

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/cryptondee/megaeth/internal/metrics"
	"github.com/cryptondee/megaeth/internal/rpc"
	"github.com/cryptondee/megaeth/internal/txbuilder"
	"github.com/cryptondee/megaeth/internal/wallet"
	"github.com/cryptondee/megaeth/pkg/types"
)

// senderLoop pushes one wallet through its quota, strictly in sequence: the
// next logical transaction starts only after the previous one was accepted
// by the node or abandoned. The wallet's nonce is owned by this loop for
// the duration of the run.
type senderLoop struct {
	wallet  *wallet.Wallet
	quota   uint64
	client  rpc.Client
	base    txbuilder.Params
	chainID *big.Int

	maxRetries        int
	congestionBackoff time.Duration
	sendDelay         time.Duration

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// run executes the loop and returns the wallet's terminal result. Individual
// transaction failures never propagate out; they are counted and the loop
// moves on.
func (s *senderLoop) run(ctx context.Context) types.WalletResult {
	result := types.WalletResult{
		ID:      s.wallet.ID,
		Address: s.wallet.Address.Hex(),
		Quota:   s.quota,
	}

	for seq := uint64(0); seq < s.quota; seq++ {
		if err := ctx.Err(); err != nil {
			result.Err = err.Error()
			break
		}

		if s.sendOne(ctx, seq) {
			result.Sent++
			if s.sendDelay > 0 && seq+1 < s.quota {
				select {
				case <-ctx.Done():
				case <-time.After(s.sendDelay):
				}
			}
			continue
		}

		result.Failed++
		s.metrics.RecordFailed()
		s.logger.Warn("transaction abandoned",
			slog.Int("wallet", s.wallet.ID),
			slog.Uint64("seq", seq),
			slog.Uint64("nonce", s.wallet.Nonce()),
		)
		s.resyncNonce(ctx)
	}

	result.FinalNonce = s.wallet.Nonce()
	return result
}

// sendOne drives a single logical transaction to a terminal state. It
// returns true once the node accepted a broadcast, false when both the
// attempt budget and the congestion budget ran out.
func (s *senderLoop) sendOne(ctx context.Context, seq uint64) bool {
	attempts := 0
	congestionWaits := 0

	for attempts < s.maxRetries && congestionWaits < s.maxRetries {
		nonce := s.wallet.Nonce()

		params := s.base
		params.Nonce = nonce
		tx, err := txbuilder.Build(params)
		if err != nil {
			s.logger.Error("build failed",
				slog.Int("wallet", s.wallet.ID),
				slog.Uint64("nonce", nonce),
				slog.Int("attempt", attempts),
				slog.String("err", err.Error()),
			)
			attempts++
			continue
		}

		_, raw, err := txbuilder.SignAndEncode(s.chainID, tx, s.wallet.PrivateKey)
		if err != nil {
			s.logger.Error("sign failed",
				slog.Int("wallet", s.wallet.ID),
				slog.Uint64("nonce", nonce),
				slog.Int("attempt", attempts),
				slog.String("err", err.Error()),
			)
			attempts++
			continue
		}

		start := time.Now()
		hash, err := s.client.SendRawTransaction(ctx, raw)
		if err == nil {
			s.wallet.Advance()
			s.metrics.RecordSend(time.Since(start))
			s.logger.Debug("transaction sent",
				slog.Int("wallet", s.wallet.ID),
				slog.Uint64("seq", seq),
				slog.Uint64("nonce", nonce),
				slog.String("hash", hash),
			)
			return true
		}

		switch {
		case rpc.IsNonceConflict(err):
			s.metrics.RecordNonceResync()
			fresh, ferr := s.client.GetNonce(ctx, s.wallet.Address.Hex())
			if ferr != nil {
				// No new information; this round goes on the budget.
				attempts++
				s.logger.Warn("nonce refetch failed",
					slog.Int("wallet", s.wallet.ID),
					slog.Uint64("nonce", nonce),
					slog.Int("attempt", attempts),
					slog.String("err", ferr.Error()),
				)
				continue
			}
			if fresh == nonce {
				// Node already agrees with us, so the conflict gives the
				// retry nothing to work with. Pay for it.
				attempts++
				s.logger.Debug("nonce conflict with no drift",
					slog.Int("wallet", s.wallet.ID),
					slog.Uint64("nonce", nonce),
					slog.Int("attempt", attempts),
				)
				continue
			}
			s.wallet.SetNonce(fresh)
			s.logger.Debug("nonce conflict, adopted pending nonce",
				slog.Int("wallet", s.wallet.ID),
				slog.Uint64("stale", nonce),
				slog.Uint64("fresh", fresh),
				slog.Int("attempt", attempts),
			)
			// Free retry: the refetch produced a genuinely new nonce.

		case rpc.IsCongestion(err):
			congestionWaits++
			s.metrics.RecordCongestionWait()
			s.logger.Debug("node congested, backing off",
				slog.Int("wallet", s.wallet.ID),
				slog.Uint64("nonce", nonce),
				slog.Int("wait", congestionWaits),
				slog.Duration("backoff", s.congestionBackoff),
			)
			select {
			case <-ctx.Done():
				return false
			case <-time.After(s.congestionBackoff):
			}

		default:
			attempts++
			s.metrics.RecordRetry()
			s.logger.Debug("send failed",
				slog.Int("wallet", s.wallet.ID),
				slog.Uint64("nonce", nonce),
				slog.Int("attempt", attempts),
				slog.String("err", err.Error()),
			)
		}
	}

	return false
}

// resyncNonce refreshes the local nonce from the node's pending view after
// an abandoned transaction, so the next logical transaction does not trip
// over whatever the failed one left behind. On refetch failure the local
// value is kept.
func (s *senderLoop) resyncNonce(ctx context.Context) {
	s.metrics.RecordNonceResync()
	fresh, err := s.client.GetNonce(ctx, s.wallet.Address.Hex())
	if err != nil {
		s.logger.Warn("post-failure nonce resync failed, keeping local value",
			slog.Int("wallet", s.wallet.ID),
			slog.Uint64("nonce", s.wallet.Nonce()),
			slog.String("err", err.Error()),
		)
		return
	}
	s.wallet.SetNonce(fresh)
}
