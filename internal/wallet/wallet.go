// Package wallet provides the balance collaborators the game engine debits
// stakes from and credits payouts to.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"crashwager/internal/game"
)

// Wallet is game.Wallet plus read/admin access used by the HTTP layer.
type Wallet interface {
	game.Wallet
	Balance(ctx context.Context, userID string) (int64, error)
	SetBalance(ctx context.Context, userID string, amount int64) error
}

var ErrInvalidAmount = errors.New("amount must be positive")

// MemoryWallet keeps balances in process. Used by tests and --memory-wallet.
type MemoryWallet struct {
	mu       sync.Mutex
	balances map[string]int64
	applied  map[string]struct{}
}

func NewMemoryWallet() *MemoryWallet {
	return &MemoryWallet{
		balances: make(map[string]int64),
		applied:  make(map[string]struct{}),
	}
}

func (w *MemoryWallet) Withdraw(_ context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.balances[userID] < amount {
		return fmt.Errorf("withdraw %d from %s: %w", amount, userID, game.ErrInsufficientFunds)
	}
	w.balances[userID] -= amount
	return nil
}

func (w *MemoryWallet) Deposit(_ context.Context, c game.Credit) error {
	if c.Amount <= 0 {
		return ErrInvalidAmount
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if key := c.Key(); key != "" {
		if _, ok := w.applied[key]; ok {
			return nil
		}
		w.applied[key] = struct{}{}
	}
	w.balances[c.UserID] += c.Amount
	return nil
}

func (w *MemoryWallet) Balance(_ context.Context, userID string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[userID], nil
}

func (w *MemoryWallet) SetBalance(_ context.Context, userID string, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[userID] = amount
	return nil
}
