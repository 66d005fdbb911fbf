// Package txbuilder constructs and signs the transactions a run broadcasts.
package txbuilder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Params describes the transaction to build. A run holds one Params template
// and stamps the wallet's current nonce on a copy for every broadcast.
type Params struct {
	ChainID   *big.Int
	Nonce     uint64
	To        common.Address
	Value     *big.Int
	GasLimit  uint64
	GasTipCap *big.Int
	GasFeeCap *big.Int
	Data      []byte
	UseLegacy bool
}

// Build assembles an unsigned transaction. Dynamic-fee by default; legacy
// when UseLegacy is set, with GasFeeCap doubling as the gas price.
func Build(p Params) (*types.Transaction, error) {
	if p.ChainID == nil || p.ChainID.Sign() == 0 {
		return nil, fmt.Errorf("chain id must be non-nil and non-zero")
	}
	if p.GasLimit == 0 {
		return nil, fmt.Errorf("gas limit must be non-zero")
	}
	value := p.Value
	if value == nil {
		value = big.NewInt(0)
	}
	to := p.To
	if p.UseLegacy {
		return types.NewTx(&types.LegacyTx{
			Nonce:    p.Nonce,
			GasPrice: p.GasFeeCap,
			Gas:      p.GasLimit,
			To:       &to,
			Value:    value,
			Data:     p.Data,
		}), nil
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   p.ChainID,
		Nonce:     p.Nonce,
		GasTipCap: p.GasTipCap,
		GasFeeCap: p.GasFeeCap,
		Gas:       p.GasLimit,
		To:        &to,
		Value:     value,
		Data:      p.Data,
	}), nil
}

// MaxCost returns the worst-case wei a wallet spends broadcasting n
// transactions shaped by p: n * (gasLimit * feeCap + value).
func MaxCost(n uint64, p Params) *big.Int {
	feeCap := p.GasFeeCap
	if feeCap == nil {
		feeCap = big.NewInt(0)
	}
	perTx := new(big.Int).Mul(new(big.Int).SetUint64(p.GasLimit), feeCap)
	if p.Value != nil {
		perTx.Add(perTx, p.Value)
	}
	return perTx.Mul(perTx, new(big.Int).SetUint64(n))
}
