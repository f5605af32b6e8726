package account

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gateway-fm/blockprobe/internal/rpc"
)

// Manager holds the accounts used for transaction-mode load: the funded
// sender accounts supplied via configuration, plus optional throwaway
// accounts generated and funded from a funder key before the run.
type Manager struct {
	accounts []*Account
	funder   *Account
	funded   int32 // atomic

	chainID  *big.Int
	gasPrice *big.Int
	logger   *slog.Logger
}

// fundingGasLimit is the gas for a plain value transfer.
const fundingGasLimit = 21000

// NewManager creates a manager from hex-encoded private keys. funderHex may
// be empty when the supplied accounts are already funded.
func NewManager(keys []string, funderHex string, chainID, gasPrice *big.Int, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	accounts := make([]*Account, 0, len(keys))
	for i, hexKey := range keys {
		acc, err := NewAccountFromHex(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
		if err != nil {
			return nil, fmt.Errorf("account key %d: %w", i, err)
		}
		accounts = append(accounts, acc)
	}

	m := &Manager{
		accounts: accounts,
		chainID:  chainID,
		gasPrice: gasPrice,
		logger:   logger,
	}

	if funderHex != "" {
		funder, err := NewAccountFromHex(strings.TrimPrefix(strings.TrimSpace(funderHex), "0x"))
		if err != nil {
			return nil, fmt.Errorf("funder key: %w", err)
		}
		m.funder = funder
	}

	return m, nil
}

// Accounts returns the sender accounts.
func (m *Manager) Accounts() []*Account {
	return m.accounts
}

// Funded returns the number of accounts funded so far this run.
func (m *Manager) Funded() int {
	return int(atomic.LoadInt32(&m.funded))
}

// GenerateAccounts creates count throwaway accounts and appends them to the
// sender set. They hold no balance until FundAccounts runs.
func (m *Manager) GenerateAccounts(count int) error {
	for i := 0; i < count; i++ {
		privateKey, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("generate key %d: %w", i, err)
		}
		m.accounts = append(m.accounts, NewAccount(privateKey))
	}
	m.logger.Info("generated throwaway accounts", slog.Int("count", count))
	return nil
}

// InitializeNonces fetches initial nonces for all sender accounts in
// parallel, bounded by a small semaphore so startup doesn't hammer the node.
func (m *Manager) InitializeNonces(ctx context.Context, client rpc.Client) error {
	m.logger.Info("initializing account nonces", slog.Int("count", len(m.accounts)))

	var wg sync.WaitGroup
	errChan := make(chan error, len(m.accounts))
	sem := make(chan struct{}, 16) // Limit concurrent RPC calls

	for i, acc := range m.accounts {
		wg.Add(1)
		go func(idx int, acc *Account) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := acc.Resync(ctx, client); err != nil {
				select {
				case errChan <- fmt.Errorf("account %d: %w", idx, err):
				default:
				}
				return
			}
			m.logger.Debug("account nonce initialized",
				slog.Int("account_idx", idx),
				slog.String("address", acc.Address.Hex()[:10]),
				slog.Uint64("nonce", acc.PeekNonce()),
			)
		}(i, acc)
	}

	wg.Wait()
	close(errChan)

	if err := <-errChan; err != nil {
		return err
	}

	m.logger.Info("account nonces initialized", slog.Int("count", len(m.accounts)))
	return nil
}

// FundAccounts sends amountWei from the funder to every sender account with
// a zero balance requirement waived, then waits for the funding transactions
// to confirm by watching the funder's on-chain nonce.
func (m *Manager) FundAccounts(ctx context.Context, client rpc.Client, amountWei *big.Int) error {
	if m.funder == nil {
		return fmt.Errorf("no funder key configured")
	}
	if len(m.accounts) == 0 {
		return nil
	}

	balance, err := client.GetBalance(ctx, m.funder.Address.Hex())
	if err != nil {
		return fmt.Errorf("funder balance: %w", err)
	}
	need := new(big.Int).Mul(amountWei, big.NewInt(int64(len(m.accounts))))
	gasBudget := new(big.Int).Mul(m.gasPrice, big.NewInt(fundingGasLimit*int64(len(m.accounts))))
	need.Add(need, gasBudget)
	if balance.Cmp(need) < 0 {
		return fmt.Errorf("funder balance %s wei below required %s wei", balance, need)
	}

	if err := m.funder.ResyncFromChain(ctx, client); err != nil {
		return fmt.Errorf("resync funder: %w", err)
	}
	startNonce := m.funder.PeekNonce()

	m.logger.Info("funding accounts",
		slog.Int("count", len(m.accounts)),
		slog.String("funder", m.funder.Address.Hex()),
		slog.String("amount_wei", amountWei.String()),
	)

	signer := ethtypes.LatestSignerForChainID(m.chainID)
	for i, acc := range m.accounts {
		n := m.funder.ReserveNonce()
		tx := ethtypes.NewTx(&ethtypes.LegacyTx{
			Nonce:    n.Value(),
			To:       &acc.Address,
			Value:    amountWei,
			Gas:      fundingGasLimit,
			GasPrice: m.gasPrice,
		})

		signedTx, err := ethtypes.SignTx(tx, signer, m.funder.PrivateKey)
		if err != nil {
			n.Rollback()
			return fmt.Errorf("sign funding tx %d: %w", i, err)
		}
		raw, err := signedTx.MarshalBinary()
		if err != nil {
			n.Rollback()
			return fmt.Errorf("encode funding tx %d: %w", i, err)
		}

		if err := client.SendRawTransaction(ctx, raw); err != nil {
			n.Rollback()
			m.logger.Warn("funding tx rejected",
				slog.Int("idx", i),
				slog.String("err", err.Error()))
			continue
		}
		n.Commit()
		atomic.AddInt32(&m.funded, 1)
	}

	sent := uint64(atomic.LoadInt32(&m.funded))
	if sent == 0 {
		return fmt.Errorf("no funding transaction accepted")
	}

	if err := m.waitForNonce(ctx, client, startNonce+sent, 2*time.Minute); err != nil {
		return fmt.Errorf("funding confirmation: %w", err)
	}

	m.logger.Info("account funding confirmed", slog.Int("funded", int(sent)))
	return nil
}

// waitForNonce polls the funder's confirmed nonce until it reaches expected.
// Confirmed state only; the pending view would report success while the
// funding transactions are still queued.
func (m *Manager) waitForNonce(ctx context.Context, client rpc.Client, expected uint64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	pollInterval := 500 * time.Millisecond

	for time.Now().Before(deadline) {
		onChain, err := client.GetConfirmedNonce(ctx, m.funder.Address.Hex())
		if err != nil {
			return fmt.Errorf("get confirmed nonce: %w", err)
		}
		if onChain >= expected {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	return fmt.Errorf("timeout waiting for funder nonce %d", expected)
}
