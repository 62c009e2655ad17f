package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPayoutsConfig() PayoutsConfig {
	cfg := DefaultPayoutsConfig()
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = 2 * time.Millisecond
	cfg.EnqueueTimeout = 20 * time.Millisecond
	cfg.RetryInterval = time.Second
	return cfg
}

func TestPayouts_DeliversCredits(t *testing.T) {
	wallet := newFakeWallet(nil)
	p := NewPayouts(wallet, fastPayoutsConfig(), quartz.NewMock(t), zerolog.Nop())

	for i := 0; i < 100; i++ {
		p.Submit(Credit{UserID: "alice", Amount: 10, Reason: CreditCashout})
	}
	p.Submit(Credit{UserID: "alice", Amount: 0})
	p.Wait()

	assert.Equal(t, int64(1000), wallet.balance("alice"))
	assert.Empty(t, p.Unpaid())
	p.Close()
	p.Close()
}

func TestPayouts_RetriesTransientFailures(t *testing.T) {
	wallet := newFakeWallet(nil)
	wallet.setFailures(2)
	cfg := fastPayoutsConfig()
	cfg.Workers = 1
	p := NewPayouts(wallet, cfg, quartz.NewMock(t), zerolog.Nop())
	defer p.Close()

	p.Submit(Credit{UserID: "bob", Amount: 42, Reason: CreditRefund})
	p.Wait()

	assert.Equal(t, int64(42), wallet.balance("bob"))
	assert.Empty(t, p.Unpaid())
}

func TestPayouts_ParksExhaustedCreditsUntilFlush(t *testing.T) {
	wallet := newFakeWallet(nil)
	wallet.setFailures(100)
	cfg := fastPayoutsConfig()
	cfg.MaxRetries = 2
	p := NewPayouts(wallet, cfg, quartz.NewMock(t), zerolog.Nop())
	defer p.Close()

	p.Submit(Credit{UserID: "carol", BetID: "b1", Amount: 7, Reason: CreditCashout})
	p.Wait()

	unpaid := p.Unpaid()
	require.Len(t, unpaid, 1)
	assert.Equal(t, "b1", unpaid[0].BetID)
	assert.Equal(t, 1, p.Flush(context.Background()), "still failing")

	wallet.setFailures(0)
	assert.Zero(t, p.Flush(context.Background()))
	assert.Equal(t, int64(7), wallet.balance("carol"))
}

type blockingDepositor struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	wallet  *fakeWallet
}

func (b *blockingDepositor) Deposit(ctx context.Context, c Credit) error {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return b.wallet.Deposit(ctx, c)
}

// fillQueue blocks the only worker inside Deposit and fills the one-slot
// queue behind it.
func fillQueue(t *testing.T, clock quartz.Clock) (*Payouts, *blockingDepositor) {
	t.Helper()
	dep := &blockingDepositor{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		wallet:  newFakeWallet(nil),
	}
	cfg := fastPayoutsConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1
	p := NewPayouts(dep, cfg, clock, zerolog.Nop())

	p.Submit(Credit{UserID: "dave", Amount: 1})
	<-dep.entered
	p.Submit(Credit{UserID: "dave", Amount: 2})
	return p, dep
}

func TestPayouts_FullQueueParksAfterTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mClock := quartz.NewMock(t)
	trap := mClock.Trap().NewTimer("payouts", "enqueue")
	defer trap.Close()

	p, dep := fillQueue(t, mClock)

	done := make(chan struct{})
	go func() {
		p.Submit(Credit{UserID: "dave", Amount: 4})
		close(done)
	}()
	trap.MustWait(ctx).MustRelease(ctx)
	select {
	case <-done:
		t.Fatal("Submit parked before the enqueue timeout")
	default:
	}

	mClock.Advance(fastPayoutsConfig().EnqueueTimeout).MustWait(ctx)
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("Submit still blocked after the enqueue timeout")
	}
	assert.Len(t, p.Unpaid(), 1)

	close(dep.release)
	p.Close()
	assert.Zero(t, p.Flush(context.Background()))
	assert.Equal(t, int64(7), dep.wallet.balance("dave"))
}

func TestPayouts_FullQueueWaitsForRoom(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mClock := quartz.NewMock(t)
	trap := mClock.Trap().NewTimer("payouts", "enqueue")
	defer trap.Close()

	p, dep := fillQueue(t, mClock)

	done := make(chan struct{})
	go func() {
		p.Submit(Credit{UserID: "dave", Amount: 4})
		close(done)
	}()
	trap.MustWait(ctx).MustRelease(ctx)

	close(dep.release)
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("Submit did not enqueue once the worker freed a slot")
	}
	p.Wait()
	assert.Empty(t, p.Unpaid())
	assert.Equal(t, int64(7), dep.wallet.balance("dave"))
	p.Close()
}

func TestPayouts_RetryLoopPaysParkedCredits(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mClock := quartz.NewMock(t)

	wallet := newFakeWallet(nil)
	wallet.setFailures(100)
	cfg := fastPayoutsConfig()
	cfg.MaxRetries = 1
	p := NewPayouts(wallet, cfg, mClock, zerolog.Nop())
	defer p.Close()

	p.Submit(Credit{UserID: "fern", BetID: "b7", Amount: 70, Reason: CreditCashout})
	p.Wait()
	require.Len(t, p.Unpaid(), 1)

	mClock.Advance(cfg.RetryInterval).MustWait(ctx)
	assert.Len(t, p.Unpaid(), 1, "wallet still down")
	assert.Zero(t, wallet.balance("fern"))

	wallet.setFailures(0)
	mClock.Advance(cfg.RetryInterval).MustWait(ctx)
	assert.Empty(t, p.Unpaid())
	assert.Equal(t, int64(70), wallet.balance("fern"))
}

func TestPayouts_SubmitAfterCloseParks(t *testing.T) {
	wallet := newFakeWallet(nil)
	p := NewPayouts(wallet, fastPayoutsConfig(), quartz.NewMock(t), zerolog.Nop())
	p.Close()

	p.Submit(Credit{UserID: "erin", Amount: 3})
	require.Len(t, p.Unpaid(), 1)
	assert.Zero(t, p.Flush(context.Background()))
	assert.Equal(t, int64(3), wallet.balance("erin"))
}
