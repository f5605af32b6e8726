package txbuilder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestBuildTransfer(t *testing.T) {
	recipient := common.HexToAddress("0x1111111111111111111111111111111111111111")
	b := NewTransferBuilder(recipient, big.NewInt(42))

	tx := b.Build(TxParams{
		ChainID:  big.NewInt(1),
		Nonce:    7,
		GasPrice: big.NewInt(1_000_000_000),
	})

	if tx.Nonce() != 7 {
		t.Errorf("nonce = %d, want 7", tx.Nonce())
	}
	if tx.To() == nil || *tx.To() != recipient {
		t.Errorf("to = %v, want %v", tx.To(), recipient)
	}
	if tx.Value().Int64() != 42 {
		t.Errorf("value = %v, want 42", tx.Value())
	}
	if tx.Gas() != TransferGasLimit {
		t.Errorf("gas = %d, want %d", tx.Gas(), TransferGasLimit)
	}
	if tx.Type() != ethtypes.LegacyTxType {
		t.Errorf("tx type = %d, want legacy", tx.Type())
	}
}

func TestDefaultValueOneWei(t *testing.T) {
	b := NewTransferBuilder(common.Address{}, nil)
	tx := b.Build(TxParams{ChainID: big.NewInt(1), GasPrice: big.NewInt(1)})
	if tx.Value().Int64() != 1 {
		t.Errorf("default value = %v, want 1 wei", tx.Value())
	}
}

func TestBuildSignedRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	sender := crypto.PubkeyToAddress(key.PublicKey)
	recipient := common.HexToAddress("0x2222222222222222222222222222222222222222")
	chainID := big.NewInt(42069)

	b := NewTransferBuilder(recipient, big.NewInt(1))
	raw, err := b.BuildSigned(TxParams{
		ChainID:  chainID,
		Nonce:    3,
		GasPrice: big.NewInt(1_000_000_000),
	}, key)
	if err != nil {
		t.Fatal(err)
	}

	var decoded ethtypes.Transaction
	if err := decoded.UnmarshalBinary(raw); err != nil {
		t.Fatalf("signed transfer does not decode: %v", err)
	}

	signer := ethtypes.LatestSignerForChainID(chainID)
	from, err := ethtypes.Sender(signer, &decoded)
	if err != nil {
		t.Fatalf("sender recovery failed: %v", err)
	}
	if from != sender {
		t.Errorf("recovered sender = %v, want %v", from, sender)
	}
	if decoded.Nonce() != 3 {
		t.Errorf("nonce = %d, want 3", decoded.Nonce())
	}
	if *decoded.To() != recipient {
		t.Errorf("to = %v, want %v", decoded.To(), recipient)
	}
}
