package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gateway-fm/blockprobe/internal/account"
	"github.com/gateway-fm/blockprobe/internal/rpc"
	"github.com/gateway-fm/blockprobe/internal/sender"
	"github.com/gateway-fm/blockprobe/internal/stats"
	"github.com/gateway-fm/blockprobe/internal/txbuilder"
	"github.com/gateway-fm/blockprobe/pkg/types"
)

// fakeClient counts calls and optionally fails them.
type fakeClient struct {
	callCount atomic.Int64
	sendCount atomic.Int64
	callErr   error
	sendErr   error

	confirmedNonce atomic.Uint64
	nonceQueries   atomic.Int64
}

var _ rpc.Client = (*fakeClient)(nil)

func (f *fakeClient) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	f.callCount.Add(1)
	if f.callErr != nil {
		return nil, f.callErr
	}
	return json.RawMessage(`"0x1"`), nil
}

func (f *fakeClient) SendRawTransaction(ctx context.Context, txRLP []byte) error {
	f.sendCount.Add(1)
	return f.sendErr
}

func (f *fakeClient) GetBlockNumber(ctx context.Context) (uint64, error) { return 1, nil }
func (f *fakeClient) GetBlockByNumber(ctx context.Context, n uint64) (*rpc.Block, error) {
	return nil, nil
}
func (f *fakeClient) GetGasPrice(ctx context.Context) (uint64, error) { return 1_000_000_000, nil }
func (f *fakeClient) GetBalance(ctx context.Context, a string) (*big.Int, error) {
	return big.NewInt(1e18), nil
}
func (f *fakeClient) GetNonce(ctx context.Context, a string) (uint64, error) {
	return f.confirmedNonce.Load(), nil
}
func (f *fakeClient) GetConfirmedNonce(ctx context.Context, a string) (uint64, error) {
	f.nonceQueries.Add(1)
	return f.confirmedNonce.Load(), nil
}
func (f *fakeClient) GetChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func testAccount(t *testing.T) *account.Account {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return account.NewAccount(key)
}

func TestNewValidation(t *testing.T) {
	agg := stats.NewAggregator(types.DefaultThresholds())

	if _, err := New(Config{Agg: agg, Rate: 100}); err == nil {
		t.Error("missing client should fail")
	}
	if _, err := New(Config{Client: &fakeClient{}, Rate: 100}); err == nil {
		t.Error("missing aggregator should fail")
	}
	if _, err := New(Config{Client: &fakeClient{}, Agg: agg, Rate: 0}); err == nil {
		t.Error("zero rate should fail")
	}
	if _, err := New(Config{Client: &fakeClient{}, Agg: agg, Rate: 100, Mode: types.LoadModeTx}); err == nil {
		t.Error("tx mode without accounts should fail")
	}

	g, err := New(Config{Client: &fakeClient{}, Agg: agg, Rate: 100, Mode: types.LoadModeRead})
	if err != nil {
		t.Fatalf("valid read-mode config rejected: %v", err)
	}
	if g.Rate() != 100 {
		t.Errorf("Rate() = %v, want 100", g.Rate())
	}
}

func TestReadModeRecordsRequests(t *testing.T) {
	client := &fakeClient{}
	agg := stats.NewAggregator(types.DefaultThresholds())

	g, err := New(Config{
		Client:  client,
		Agg:     agg,
		Mode:    types.LoadModeRead,
		Rate:    500,
		Workers: 8,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := g.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st := agg.RequestStats()
	// 500 req/s for 0.5s = ~250 requests; allow generous timing tolerance.
	if st.Total < 150 || st.Total > 300 {
		t.Errorf("recorded %d requests, want ~250", st.Total)
	}
	if st.Failed != 0 {
		t.Errorf("Failed = %d, want 0", st.Failed)
	}
	if st.Latency == nil || st.Latency.Count != st.Total {
		t.Error("every successful request should be in the latency histogram")
	}
}

func TestReadModeCountsFailures(t *testing.T) {
	client := &fakeClient{callErr: errors.New("connection refused")}
	agg := stats.NewAggregator(types.DefaultThresholds())

	g, err := New(Config{
		Client:  client,
		Agg:     agg,
		Mode:    types.LoadModeRead,
		Rate:    200,
		Workers: 4,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := g.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st := agg.RequestStats()
	if st.Total == 0 {
		t.Fatal("expected requests to be recorded")
	}
	if st.Failed != st.Total {
		t.Errorf("Failed = %d, Total = %d; all requests should have failed", st.Failed, st.Total)
	}
}

func TestTxModeSendsTransfers(t *testing.T) {
	client := &fakeClient{}
	agg := stats.NewAggregator(types.DefaultThresholds())
	acc := testAccount(t)

	g, err := New(Config{
		Client:   client,
		Agg:      agg,
		Mode:     types.LoadModeTx,
		Rate:     200,
		Workers:  4,
		Accounts: []*account.Account{acc},
		ChainID:  big.NewInt(1),
		GasPrice: big.NewInt(1_000_000_000),
		Builder:  txbuilder.NewTransferBuilder(acc.Address, big.NewInt(1)),
		Sender:   sender.New(sender.Config{Client: client, Concurrency: 100}),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := g.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Drain in-flight async sends.
	time.Sleep(50 * time.Millisecond)

	st := agg.TxStats()
	if st.Sent == 0 {
		t.Fatal("expected transactions to be sent")
	}
	if st.Failed != 0 {
		t.Errorf("Failed = %d, want 0", st.Failed)
	}
	// Nonces advanced once per committed send.
	if got := acc.PeekNonce(); got != uint64(st.Sent) {
		t.Errorf("account nonce = %d, want %d (one per sent tx)", got, st.Sent)
	}
}

func TestTxModeResyncsNonceOnMismatch(t *testing.T) {
	client := &fakeClient{sendErr: errors.New("nonce too low")}
	client.confirmedNonce.Store(7)
	agg := stats.NewAggregator(types.DefaultThresholds())
	acc := testAccount(t)

	g, err := New(Config{
		Client:   client,
		Agg:      agg,
		Mode:     types.LoadModeTx,
		Rate:     50,
		Workers:  1,
		Accounts: []*account.Account{acc},
		ChainID:  big.NewInt(1),
		GasPrice: big.NewInt(1_000_000_000),
		Builder:  txbuilder.NewTransferBuilder(acc.Address, big.NewInt(1)),
		Sender:   sender.New(sender.Config{Client: client, Concurrency: 10}),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := g.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	st := agg.TxStats()
	if st.Failed == 0 {
		t.Fatal("expected failed transactions")
	}
	if st.Errors[types.TxErrNonce] != st.Failed {
		t.Errorf("nonce errors = %d, failed = %d; all failures should be nonce mismatches",
			st.Errors[types.TxErrNonce], st.Failed)
	}
	if client.nonceQueries.Load() == 0 {
		t.Error("nonce mismatch should trigger a confirmed-nonce resync")
	}
}

func TestClassifyTxError(t *testing.T) {
	tests := []struct {
		err  error
		want types.TxErrorKind
	}{
		{errors.New("nonce too low"), types.TxErrNonce},
		{errors.New("Nonce too high: expected 5"), types.TxErrNonce},
		{errors.New("invalid nonce"), types.TxErrNonce},
		{errors.New("insufficient funds for gas * price + value"), types.TxErrInsufficientFunds},
		{errors.New("transaction underpriced"), types.TxErrUnderpriced},
		{errors.New("gas price too low"), types.TxErrUnderpriced},
		{errors.New("execution reverted"), types.TxErrOther},
		{fmt.Errorf("RPC error -32000: nonce too low"), types.TxErrNonce},
	}

	for _, tt := range tests {
		if got := ClassifyTxError(tt.err); got != tt.want {
			t.Errorf("ClassifyTxError(%q) = %v, want %v", tt.err, got, tt.want)
		}
	}

	if got := ClassifyTxError(nil); got != "" {
		t.Errorf("ClassifyTxError(nil) = %v, want empty", got)
	}
}
