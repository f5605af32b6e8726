package account

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gateway-fm/blockprobe/internal/rpc"
)

// fakeClient serves fixed nonces for nonce resync tests.
type fakeClient struct {
	pendingNonce   uint64
	confirmedNonce uint64
}

var _ rpc.Client = (*fakeClient)(nil)

func (f *fakeClient) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	return nil, nil
}
func (f *fakeClient) SendRawTransaction(ctx context.Context, txRLP []byte) error { return nil }
func (f *fakeClient) GetBlockNumber(ctx context.Context) (uint64, error)         { return 0, nil }
func (f *fakeClient) GetBlockByNumber(ctx context.Context, n uint64) (*rpc.Block, error) {
	return nil, nil
}
func (f *fakeClient) GetGasPrice(ctx context.Context) (uint64, error) { return 0, nil }
func (f *fakeClient) GetBalance(ctx context.Context, a string) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeClient) GetNonce(ctx context.Context, a string) (uint64, error) {
	return f.pendingNonce, nil
}
func (f *fakeClient) GetConfirmedNonce(ctx context.Context, a string) (uint64, error) {
	return f.confirmedNonce, nil
}
func (f *fakeClient) GetChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func newTestAccount(t *testing.T) *Account {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return NewAccount(key)
}

func TestNewAccountFromHex(t *testing.T) {
	// Well-known anvil/hardhat dev key, safe for tests.
	acc, err := NewAccountFromHex("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	if err != nil {
		t.Fatal(err)
	}
	want := "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	if acc.Address.Hex() != want {
		t.Errorf("address = %s, want %s", acc.Address.Hex(), want)
	}

	if _, err := NewAccountFromHex("not-a-key"); err == nil {
		t.Error("invalid hex key should fail")
	}
}

func TestReserveCommit(t *testing.T) {
	acc := newTestAccount(t)

	n := acc.ReserveNonce()
	if n.Value() != 0 {
		t.Errorf("first nonce = %d, want 0", n.Value())
	}
	n.Commit()

	n2 := acc.ReserveNonce()
	if n2.Value() != 1 {
		t.Errorf("second nonce = %d, want 1", n2.Value())
	}
	n2.Commit()

	if got := acc.PeekNonce(); got != 2 {
		t.Errorf("PeekNonce() = %d, want 2", got)
	}
}

func TestRollbackReturnsLastNonce(t *testing.T) {
	acc := newTestAccount(t)

	n := acc.ReserveNonce()
	n.Rollback()

	// The rolled-back nonce is reissued.
	n2 := acc.ReserveNonce()
	if n2.Value() != 0 {
		t.Errorf("reissued nonce = %d, want 0", n2.Value())
	}
	n2.Commit()
}

func TestRollbackAfterCommitIsNoop(t *testing.T) {
	acc := newTestAccount(t)

	n := acc.ReserveNonce()
	n.Commit()
	n.Rollback() // deferred rollback after commit must not decrement

	if got := acc.PeekNonce(); got != 1 {
		t.Errorf("PeekNonce() = %d, want 1", got)
	}
}

func TestOutOfOrderRollbackDropped(t *testing.T) {
	acc := newTestAccount(t)

	n0 := acc.ReserveNonce()
	n1 := acc.ReserveNonce()

	// Rolling back nonce 0 while nonce 1 is outstanding would create a gap;
	// it must be dropped.
	n0.Rollback()
	if got := acc.PeekNonce(); got != 2 {
		t.Errorf("PeekNonce() = %d, want 2 after out-of-order rollback", got)
	}

	// The last-issued nonce still rolls back.
	n1.Rollback()
	if got := acc.PeekNonce(); got != 1 {
		t.Errorf("PeekNonce() = %d, want 1", got)
	}
}

func TestResyncSetIfHigher(t *testing.T) {
	acc := newTestAccount(t)
	acc.SetNonce(10)

	// Pending nonce below local state must not move the counter backwards.
	if err := acc.Resync(context.Background(), &fakeClient{pendingNonce: 5}); err != nil {
		t.Fatal(err)
	}
	if got := acc.PeekNonce(); got != 10 {
		t.Errorf("PeekNonce() = %d, want 10", got)
	}

	// Higher pending nonce wins.
	if err := acc.Resync(context.Background(), &fakeClient{pendingNonce: 15}); err != nil {
		t.Fatal(err)
	}
	if got := acc.PeekNonce(); got != 15 {
		t.Errorf("PeekNonce() = %d, want 15", got)
	}
}

func TestResyncFromChainMovesBackwards(t *testing.T) {
	acc := newTestAccount(t)
	acc.SetNonce(100) // drifted ahead after rejected sends

	if err := acc.ResyncFromChain(context.Background(), &fakeClient{confirmedNonce: 42}); err != nil {
		t.Fatal(err)
	}
	if got := acc.PeekNonce(); got != 42 {
		t.Errorf("PeekNonce() = %d, want 42 (confirmed state wins on recovery)", got)
	}
}

func TestConcurrentReserve(t *testing.T) {
	acc := newTestAccount(t)

	const goroutines = 50
	const perGoroutine = 100

	var wg sync.WaitGroup
	seen := make(chan uint64, goroutines*perGoroutine)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				n := acc.ReserveNonce()
				seen <- n.Value()
				n.Commit()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[uint64]bool)
	for v := range seen {
		if unique[v] {
			t.Fatalf("nonce %d issued twice", v)
		}
		unique[v] = true
	}
	if len(unique) != goroutines*perGoroutine {
		t.Errorf("issued %d unique nonces, want %d", len(unique), goroutines*perGoroutine)
	}
}

func TestManagerFromKeys(t *testing.T) {
	keys := []string{
		"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
		"0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
	}
	m, err := NewManager(keys, "", big.NewInt(1), big.NewInt(1_000_000_000), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Accounts()) != 2 {
		t.Errorf("accounts = %d, want 2", len(m.Accounts()))
	}

	if _, err := NewManager([]string{"bogus"}, "", big.NewInt(1), big.NewInt(1), nil); err == nil {
		t.Error("invalid key should fail")
	}
}

func TestManagerGenerateAndInitialize(t *testing.T) {
	m, err := NewManager(nil, "", big.NewInt(1), big.NewInt(1_000_000_000), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.GenerateAccounts(5); err != nil {
		t.Fatal(err)
	}
	if len(m.Accounts()) != 5 {
		t.Fatalf("accounts = %d, want 5", len(m.Accounts()))
	}

	client := &fakeClient{pendingNonce: 3}
	if err := m.InitializeNonces(context.Background(), client); err != nil {
		t.Fatal(err)
	}
	for i, acc := range m.Accounts() {
		if got := acc.PeekNonce(); got != 3 {
			t.Errorf("account %d nonce = %d, want 3", i, got)
		}
	}
}

func TestFundAccountsRequiresFunder(t *testing.T) {
	m, err := NewManager(nil, "", big.NewInt(1), big.NewInt(1), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.GenerateAccounts(1); err != nil {
		t.Fatal(err)
	}
	if err := m.FundAccounts(context.Background(), &fakeClient{}, big.NewInt(1)); err == nil {
		t.Error("funding without a funder key should fail")
	}
}
