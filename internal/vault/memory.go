package vault

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Memory is an in-process Vault backed by a balance map. It is used in
// tests and in development mode when no database is configured.
type Memory struct {
	custody  common.Address
	balances map[string]map[common.Address]*big.Int
	mu       sync.RWMutex
}

// NewMemory creates a Memory vault whose custody account is the given
// address.
func NewMemory(custody common.Address) *Memory {
	return &Memory{
		custody:  custody,
		balances: make(map[string]map[common.Address]*big.Int),
	}
}

// Mint credits an owner's balance out of thin air. Test and bootstrap
// helper only.
func (m *Memory) Mint(asset string, owner common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credit(asset, owner, amount)
}

func (m *Memory) TransferIn(ctx context.Context, asset string, from common.Address, amount *big.Int) error {
	return m.move(asset, from, m.custody, amount)
}

func (m *Memory) TransferOut(ctx context.Context, asset string, to common.Address, amount *big.Int) error {
	return m.move(asset, m.custody, to, amount)
}

func (m *Memory) BalanceOf(ctx context.Context, asset string, owner common.Address) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	book, ok := m.balances[asset]
	if !ok {
		return big.NewInt(0), nil
	}
	bal, ok := book[owner]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

func (m *Memory) move(asset string, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("vault: negative transfer")
	}
	if amount.Sign() == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	book := m.balances[asset]
	if book == nil {
		return fmt.Errorf("vault: %s: %w", asset, ErrInsufficientFunds)
	}
	bal := book[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("vault: %s from %s: %w", asset, from.Hex(), ErrInsufficientFunds)
	}

	bal.Sub(bal, amount)
	m.credit(asset, to, amount)
	return nil
}

func (m *Memory) credit(asset string, owner common.Address, amount *big.Int) {
	book := m.balances[asset]
	if book == nil {
		book = make(map[common.Address]*big.Int)
		m.balances[asset] = book
	}
	bal := book[owner]
	if bal == nil {
		bal = big.NewInt(0)
		book[owner] = bal
	}
	bal.Add(bal, amount)
}
