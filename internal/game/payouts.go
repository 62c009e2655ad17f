package game

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	"github.com/rs/zerolog"
)

// Depositor credits a participant's external balance. Deposit may be called
// again for a credit whose earlier attempt reported an error, so it must
// apply each Credit.Key at most once.
type Depositor interface {
	Deposit(ctx context.Context, c Credit) error
}

type CreditReason string

const (
	CreditCashout CreditReason = "cashout"
	CreditRefund  CreditReason = "refund"
)

type Credit struct {
	UserID string       `json:"user_id"`
	BetID  string       `json:"bet_id"`
	Amount int64        `json:"amount"`
	Reason CreditReason `json:"reason"`
}

// Key identifies the credit across retries. Credits without a bet id have no
// key and are not deduplicated.
func (c Credit) Key() string {
	if c.BetID == "" {
		return ""
	}
	return c.BetID + ":" + string(c.Reason)
}

type PayoutsConfig struct {
	Workers         int
	QueueSize       int
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// EnqueueTimeout is how long Submit waits for room in a full queue
	// before parking the credit.
	EnqueueTimeout time.Duration
	// RetryInterval is how often parked credits are retried in the
	// background.
	RetryInterval time.Duration
}

func DefaultPayoutsConfig() PayoutsConfig {
	return PayoutsConfig{
		Workers:         4,
		QueueSize:       1024,
		MaxRetries:      5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		EnqueueTimeout:  250 * time.Millisecond,
		RetryInterval:   10 * time.Second,
	}
}

// Payouts delivers credits to the wallet off the driver goroutine. A credit
// that exhausts its retries is parked, never dropped. Parked credits are
// retried every RetryInterval and by Flush.
type Payouts struct {
	wallet Depositor
	cfg    PayoutsConfig
	clock  quartz.Clock
	logger zerolog.Logger
	queue  chan Credit

	// send is held for reading while Submit may write to queue, so Close
	// never closes the channel under a blocked sender.
	send sync.RWMutex

	mu       sync.Mutex
	idle     *sync.Cond
	inflight int
	retrying int
	unpaid   []Credit
	closed   bool

	workers   sync.WaitGroup
	stopRetry context.CancelFunc
	retryLoop quartz.Waiter
}

func NewPayouts(wallet Depositor, cfg PayoutsConfig, clock quartz.Clock, logger zerolog.Logger) *Payouts {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.EnqueueTimeout < 0 {
		cfg.EnqueueTimeout = 0
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultPayoutsConfig().RetryInterval
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	p := &Payouts{
		wallet: wallet,
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		queue:  make(chan Credit, cfg.QueueSize),
	}
	p.idle = sync.NewCond(&p.mu)
	for i := 0; i < cfg.Workers; i++ {
		p.workers.Add(1)
		go p.run()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.stopRetry = cancel
	p.retryLoop = clock.TickerFunc(ctx, cfg.RetryInterval, func() error {
		p.retryParked(ctx)
		return nil
	}, "payouts", "retry")
	return p
}

// Submit queues a credit. When the queue is full it waits up to
// EnqueueTimeout for room and then parks the credit for the retry loop.
func (p *Payouts) Submit(c Credit) {
	if c.Amount <= 0 {
		return
	}
	p.send.RLock()
	defer p.send.RUnlock()

	p.mu.Lock()
	if p.closed {
		p.unpaid = append(p.unpaid, c)
		p.mu.Unlock()
		p.logger.Error().Str("user_id", c.UserID).Int64("amount", c.Amount).Msg("payout queue closed, credit parked")
		return
	}
	p.inflight++
	p.mu.Unlock()

	select {
	case p.queue <- c:
		return
	default:
	}

	if p.cfg.EnqueueTimeout > 0 {
		timer := p.clock.NewTimer(p.cfg.EnqueueTimeout, "payouts", "enqueue")
		defer timer.Stop()
		select {
		case p.queue <- c:
			return
		case <-timer.C:
		}
	}

	p.mu.Lock()
	p.unpaid = append(p.unpaid, c)
	p.inflight--
	p.signalIdleLocked()
	p.mu.Unlock()
	p.logger.Warn().Str("user_id", c.UserID).Int64("amount", c.Amount).Msg("payout queue full, credit parked")
}

func (p *Payouts) run() {
	defer p.workers.Done()
	for c := range p.queue {
		if err := p.deliver(context.Background(), c); err != nil {
			p.park(c, err)
		}
		p.mu.Lock()
		p.inflight--
		p.signalIdleLocked()
		p.mu.Unlock()
	}
}

func (p *Payouts) deliver(ctx context.Context, c Credit) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.cfg.InitialInterval
	exp.MaxInterval = p.cfg.MaxInterval
	exp.MaxElapsedTime = 0

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := p.wallet.Deposit(ctx, c)
		if err != nil {
			p.logger.Warn().Err(err).
				Str("user_id", c.UserID).
				Int64("amount", c.Amount).
				Int("attempt", attempt).
				Msg("deposit failed")
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(exp, p.cfg.MaxRetries), ctx))
}

func (p *Payouts) park(c Credit, err error) {
	p.mu.Lock()
	p.unpaid = append(p.unpaid, c)
	p.mu.Unlock()
	p.logger.Error().Err(err).
		Str("user_id", c.UserID).
		Str("bet_id", c.BetID).
		Int64("amount", c.Amount).
		Str("reason", string(c.Reason)).
		Msg("deposit retries exhausted, credit parked")
}

func (p *Payouts) signalIdleLocked() {
	if p.inflight == 0 {
		p.idle.Broadcast()
	}
}

// Wait blocks until every submitted credit is either paid or parked.
func (p *Payouts) Wait() {
	p.mu.Lock()
	for p.inflight > 0 {
		p.idle.Wait()
	}
	p.mu.Unlock()
}

// Unpaid returns a copy of parked credits.
func (p *Payouts) Unpaid() []Credit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Credit(nil), p.unpaid...)
}

// takeParked moves every parked credit out of the unpaid list. The caller
// must hand back whatever it fails to deliver with returnParked.
func (p *Payouts) takeParked() []Credit {
	p.mu.Lock()
	defer p.mu.Unlock()
	pending := p.unpaid
	p.unpaid = nil
	p.retrying += len(pending)
	return pending
}

func (p *Payouts) returnParked(taken int, remaining []Credit) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retrying -= taken
	p.unpaid = append(p.unpaid, remaining...)
	return len(p.unpaid) + p.retrying
}

func (p *Payouts) redeliver(ctx context.Context, pending []Credit) int {
	var remaining []Credit
	for _, c := range pending {
		if err := p.deliver(ctx, c); err != nil {
			remaining = append(remaining, c)
		}
	}
	return p.returnParked(len(pending), remaining)
}

func (p *Payouts) retryParked(ctx context.Context) {
	pending := p.takeParked()
	if len(pending) == 0 {
		return
	}
	left := p.redeliver(ctx, pending)
	p.logger.Info().Int("retried", len(pending)).Int("unpaid", left).Msg("parked credits retried")
}

// Flush retries every parked credit synchronously and returns how many are
// still unpaid, counting credits the background retry is working on.
func (p *Payouts) Flush(ctx context.Context) int {
	return p.redeliver(ctx, p.takeParked())
}

// Close stops accepting credits, stops the retry loop and waits for queued
// credits to finish. Credits still parked stay available to Flush.
func (p *Payouts) Close() {
	p.send.Lock()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.send.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.send.Unlock()

	p.stopRetry()
	_ = p.retryLoop.Wait()
	p.workers.Wait()
}
