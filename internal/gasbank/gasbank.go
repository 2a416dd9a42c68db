// Package gasbank provides the GAS balance ledger the raffle moves money
// through.
//
// Flow:
// 1. Players are credited with Deposit.
// 2. An entry moves the payment from the player to the raffle account.
// 3. A completed draw moves the whole pot from the raffle account to the winner.
//
// Accounts can be marked as rejecting incoming payments, which models a
// recipient contract that cannot accept a transfer.
package gasbank

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

// Manager handles all balance operations.
type Manager struct {
	mu        sync.RWMutex
	balances  map[util.Uint160]int64
	rejecting map[util.Uint160]bool
	history   []Transaction
}

// NewManager creates an empty ledger.
func NewManager() *Manager {
	return &Manager{
		balances:  make(map[util.Uint160]int64),
		rejecting: make(map[util.Uint160]bool),
	}
}

// Balance returns the balance held by addr.
func (m *Manager) Balance(addr util.Uint160) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[addr]
}

// Deposit credits addr with amount.
func (m *Manager) Deposit(ctx context.Context, addr util.Uint160, amount int64) error {
	_ = ctx
	if amount <= 0 {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.balances[addr] > math.MaxInt64-amount {
		return ErrBalanceOverflow
	}
	m.balances[addr] += amount
	m.record(TxTypeDeposit, util.Uint160{}, addr, amount)
	return nil
}

// Transfer moves amount from one account to another. Either both balances
// change or neither does.
func (m *Manager) Transfer(ctx context.Context, from, to util.Uint160, amount int64) error {
	_ = ctx
	if amount <= 0 {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rejecting[to] {
		return fmt.Errorf("%w: %s", ErrRecipientRejected, to.StringLE())
	}
	available := m.balances[from]
	if amount > available {
		return fmt.Errorf("%w: available %d, requested %d", ErrInsufficientBalance, available, amount)
	}
	if from != to && m.balances[to] > math.MaxInt64-amount {
		return ErrBalanceOverflow
	}

	m.balances[from] -= amount
	m.balances[to] += amount
	m.record(TxTypeTransfer, from, to, amount)
	return nil
}

// SnapshotBalances returns every non-zero balance keyed by Neo N3 address.
func (m *Manager) SnapshotBalances() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64, len(m.balances))
	for addr, bal := range m.balances {
		if bal != 0 {
			out[address.Uint160ToString(addr)] = bal
		}
	}
	return out
}

// RestoreBalances replaces all balances with balances. Nothing changes when
// an entry is malformed.
func (m *Manager) RestoreBalances(balances map[string]int64) error {
	next := make(map[util.Uint160]int64, len(balances))
	for s, bal := range balances {
		addr, err := address.StringToUint160(s)
		if err != nil {
			return fmt.Errorf("balance %q: %w", s, err)
		}
		if bal < 0 {
			return fmt.Errorf("%w: %s", ErrNegativeBalance, s)
		}
		next[addr] = bal
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances = next
	return nil
}

// RejectIncoming toggles whether addr refuses incoming transfers.
func (m *Manager) RejectIncoming(addr util.Uint160, reject bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reject {
		m.rejecting[addr] = true
		return
	}
	delete(m.rejecting, addr)
}

// Transactions returns up to limit most recent transactions touching addr,
// newest first.
func (m *Manager) Transactions(addr util.Uint160, limit int) []Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	var out []Transaction
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		tx := m.history[i]
		if tx.From == addr || tx.To == addr {
			out = append(out, tx)
		}
	}
	return out
}

func (m *Manager) record(txType string, from, to util.Uint160, amount int64) {
	m.history = append(m.history, Transaction{
		ID:        uuid.New().String(),
		TxType:    txType,
		From:      from,
		To:        to,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	})
}
