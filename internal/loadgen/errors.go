package loadgen

import (
	"strings"

	"github.com/gateway-fm/blockprobe/pkg/types"
)

// ClassifyTxError buckets a transaction submission error by the node's error
// message. Matching is substring-based because JSON-RPC error codes for
// these conditions differ between execution clients, but the messages are
// stable across geth, reth, and erigon.
func ClassifyTxError(err error) types.TxErrorKind {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "nonce too high"),
		strings.Contains(msg, "invalid nonce"):
		return types.TxErrNonce
	case strings.Contains(msg, "insufficient funds"):
		return types.TxErrInsufficientFunds
	case strings.Contains(msg, "underpriced"),
		strings.Contains(msg, "gas price too low"):
		return types.TxErrUnderpriced
	default:
		return types.TxErrOther
	}
}
