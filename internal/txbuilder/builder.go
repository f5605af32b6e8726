// Package txbuilder builds and signs value-transfer transactions for
// transaction-mode load.
package txbuilder

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// TransferGasLimit is the gas for a plain value transfer.
const TransferGasLimit = 21000

// TxParams holds parameters for building a transaction.
type TxParams struct {
	ChainID  *big.Int
	Nonce    uint64
	GasPrice *big.Int
}

// TransferBuilder builds minimal legacy value transfers. Legacy (type 0)
// transactions are used because the probe targets arbitrary EVM endpoints,
// including chains without EIP-1559 support.
type TransferBuilder struct {
	recipient common.Address
	value     *big.Int
}

// NewTransferBuilder creates a builder sending value to recipient.
// A nil value defaults to 1 wei, enough to exercise the transfer path
// without draining test accounts.
func NewTransferBuilder(recipient common.Address, value *big.Int) *TransferBuilder {
	if value == nil {
		value = big.NewInt(1)
	}
	return &TransferBuilder{
		recipient: recipient,
		value:     value,
	}
}

// Build creates an unsigned transfer transaction.
func (b *TransferBuilder) Build(params TxParams) *ethtypes.Transaction {
	return ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    params.Nonce,
		To:       &b.recipient,
		Value:    b.value,
		Gas:      TransferGasLimit,
		GasPrice: params.GasPrice,
	})
}

// BuildSigned builds, signs, and RLP-encodes a transfer ready for
// eth_sendRawTransaction.
func (b *TransferBuilder) BuildSigned(params TxParams, key *ecdsa.PrivateKey) ([]byte, error) {
	tx := b.Build(params)

	signer := ethtypes.LatestSignerForChainID(params.ChainID)
	signedTx, err := ethtypes.SignTx(tx, signer, key)
	if err != nil {
		return nil, fmt.Errorf("sign transfer: %w", err)
	}

	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode transfer: %w", err)
	}
	return raw, nil
}
