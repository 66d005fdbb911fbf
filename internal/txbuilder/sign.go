package txbuilder

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

// SignAndEncode signs tx for the given chain and returns the signed
// transaction along with its binary encoding ready for
// eth_sendRawTransaction. The chain id comes from configuration rather than
// the transaction: unsigned legacy transactions carry none.
func SignAndEncode(chainID *big.Int, tx *types.Transaction, key *ecdsa.PrivateKey) (*types.Transaction, []byte, error) {
	signer := types.LatestSignerForChainID(chainID)
	signed, err := types.SignTx(tx, signer, key)
	if err != nil {
		return nil, nil, fmt.Errorf("sign: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("encode: %w", err)
	}
	return signed, raw, nil
}
