// Package planner splits a run's transaction total across wallets.
package planner

import (
	"github.com/cryptondee/megaeth/internal/wallet"
	"github.com/cryptondee/megaeth/pkg/types"
)

// Build distributes total transactions across wallets. Every wallet gets
// floor(total/n); the first total mod n wallets in input order get one
// extra, so quotas never differ by more than one. Wallets left with a zero
// quota are omitted from the plan.
func Build(total uint64, wallets []*wallet.Wallet) types.Plan {
	plan := types.Plan{Total: total}
	n := uint64(len(wallets))
	if n == 0 || total == 0 {
		return plan
	}

	base := total / n
	extra := total % n
	for i, w := range wallets {
		quota := base
		if uint64(i) < extra {
			quota++
		}
		if quota == 0 {
			continue
		}
		plan.Entries = append(plan.Entries, types.PlanEntry{
			ID:         w.ID,
			Address:    w.Address.Hex(),
			Quota:      quota,
			StartNonce: w.Nonce(),
		})
	}
	return plan
}
