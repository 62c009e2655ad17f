package wallet

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashwager/internal/game"
)

func TestMemoryWallet_WithdrawDeposit(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWallet()
	require.NoError(t, w.SetBalance(ctx, "alice", 500))

	require.NoError(t, w.Withdraw(ctx, "alice", 200))
	balance, _ := w.Balance(ctx, "alice")
	assert.Equal(t, int64(300), balance)

	err := w.Withdraw(ctx, "alice", 301)
	require.ErrorIs(t, err, game.ErrInsufficientFunds)

	require.NoError(t, w.Deposit(ctx, game.Credit{UserID: "alice", Amount: 50}))
	balance, _ = w.Balance(ctx, "alice")
	assert.Equal(t, int64(350), balance)
}

func TestMemoryWallet_RejectsNonPositive(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWallet()

	assert.ErrorIs(t, w.Withdraw(ctx, "bob", 0), ErrInvalidAmount)
	assert.ErrorIs(t, w.Deposit(ctx, game.Credit{UserID: "bob", Amount: -5}), ErrInvalidAmount)
	assert.ErrorIs(t, w.SetBalance(ctx, "bob", -1), ErrInvalidAmount)
}

func TestMemoryWallet_DepositAppliesCreditOnce(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWallet()

	credit := game.Credit{UserID: "dana", BetID: "bet-1", Amount: 250, Reason: game.CreditCashout}
	require.NoError(t, w.Deposit(ctx, credit))
	require.NoError(t, w.Deposit(ctx, credit))

	refund := credit
	refund.Reason = game.CreditRefund
	require.NoError(t, w.Deposit(ctx, refund))

	balance, _ := w.Balance(ctx, "dana")
	assert.Equal(t, int64(500), balance)
}

func TestMemoryWallet_ConcurrentWithdrawNeverOverdraws(t *testing.T) {
	ctx := context.Background()
	w := NewMemoryWallet()
	require.NoError(t, w.SetBalance(ctx, "carol", 100))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.Withdraw(ctx, "carol", 10) == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	balance, _ := w.Balance(ctx, "carol")
	assert.Zero(t, balance)
}

func TestWallets_ImplementInterfaces(t *testing.T) {
	var _ Wallet = (*MemoryWallet)(nil)
	var _ Wallet = (*RedisWallet)(nil)
	var _ game.Wallet = (*RedisWallet)(nil)
}
