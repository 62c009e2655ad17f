package game

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Wallet is the external balance collaborator. Withdraw must return an error
// wrapping ErrInsufficientFunds when the balance cannot cover amount.
type Wallet interface {
	Withdraw(ctx context.Context, userID string, amount int64) error
	Depositor
}

type Option func(*Manager)

func WithClock(clock quartz.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

func WithRandomSource(src RandomSource) Option {
	return func(m *Manager) { m.source = src }
}

// Manager runs the crash round state machine. Advance is the only writer of
// phase and multiplier; bet commands take the read side of stateMutex so that
// different participants never serialize on each other.
type Manager struct {
	cfg       Config
	wallet    Wallet
	hub       *Hub
	payouts   *Payouts
	generator *CrashPointGenerator
	history   *CrashHistory
	ledger    *Ledger
	clock     quartz.Clock
	source    RandomSource
	logger    zerolog.Logger

	driverMu   sync.Mutex
	stateMutex sync.RWMutex
	phase      Phase
	current    *round
	multiplier float64
	countdown  time.Duration
	lastSecond int
	nonce      uint64
	stopped    bool

	// commands tracks PlaceBet calls that may still refund after Shutdown
	// has swept the ledger.
	commands sync.WaitGroup
	stopOnce sync.Once
}

func NewManager(cfg Config, wallet Wallet, logger zerolog.Logger, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid game config: %w", err)
	}
	if wallet == nil {
		return nil, errors.New("wallet is required")
	}

	logger = logger.With().Str("component", "game").Logger()
	m := &Manager{
		cfg:        cfg,
		wallet:     wallet,
		history:    NewCrashHistory(cfg.HistorySize),
		ledger:     NewLedger(),
		clock:      quartz.NewReal(),
		source:     NewCryptoSource(),
		logger:     logger,
		phase:      PhaseWaiting,
		multiplier: MinMultiplier,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.hub = NewHub(cfg.ObserverQueue, logger.With().Str("component", "hub").Logger())
	m.payouts = NewPayouts(wallet, cfg.Payouts, m.clock, logger.With().Str("component", "payouts").Logger())
	m.generator = NewCrashPointGenerator(m.source, cfg.HouseEdge, cfg.MaxMultiplier, logger)
	return m, nil
}

// Run drives Advance from the clock every TickInterval until ctx is done,
// then shuts the engine down.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info().Dur("tick", m.cfg.TickInterval).Msg("game loop started")
	m.Advance(0)

	tick := m.cfg.TickInterval
	waiter := m.clock.TickerFunc(ctx, tick, func() error {
		m.Advance(tick)
		return nil
	}, "game", "tick")
	err := waiter.Wait()

	m.Shutdown()
	m.logger.Info().Msg("game loop stopped")
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Advance moves the state machine forward by one driver tick of length dt.
func (m *Manager) Advance(dt time.Duration) {
	m.driverMu.Lock()
	defer m.driverMu.Unlock()

	m.stateMutex.Lock()
	if m.stopped {
		m.stateMutex.Unlock()
		return
	}

	var events []Event
	var credits []Credit
	switch m.phase {
	case PhaseWaiting:
		events = m.openBettingLocked()

	case PhaseBetting:
		m.countdown -= dt
		if m.countdown <= 0 {
			events, credits = m.startRunningLocked()
		} else if sec := wholeSeconds(m.countdown); sec != m.lastSecond {
			m.lastSecond = sec
			events = append(events, m.eventLocked(EventTick))
		}

	case PhaseRunning:
		events, credits = m.growLocked()

	case PhaseCrashed:
		m.countdown -= dt
		if m.countdown <= 0 {
			events = m.openBettingLocked()
		}
	}
	m.stateMutex.Unlock()

	for _, c := range credits {
		m.payouts.Submit(c)
	}
	for _, ev := range events {
		m.hub.Publish(ev)
	}
}

func (m *Manager) openBettingLocked() []Event {
	m.nonce++
	now := m.clock.Now()
	m.current = &round{
		id:         uuid.NewString(),
		seq:        m.nonce,
		crashPoint: m.generator.Next(),
		startTime:  now,
	}
	m.phase = PhaseBetting
	m.multiplier = MinMultiplier
	m.countdown = m.cfg.BettingDuration
	m.lastSecond = wholeSeconds(m.countdown)

	m.logger.Info().
		Str("round_id", m.current.id).
		Uint64("sequence", m.current.seq).
		Dur("betting", m.cfg.BettingDuration).
		Msg("round opened")
	m.logger.Debug().Str("round_id", m.current.id).Float64("crash_point", m.current.crashPoint).Msg("crash point drawn")

	return []Event{m.eventLocked(EventPhaseChanged)}
}

func (m *Manager) startRunningLocked() ([]Event, []Credit) {
	m.phase = PhaseRunning
	m.multiplier = MinMultiplier
	m.countdown = 0

	m.logger.Info().Str("round_id", m.current.id).Int("bets", m.ledger.Len()).Msg("round running")
	events := []Event{m.eventLocked(EventPhaseChanged)}

	if m.multiplier >= m.current.crashPoint {
		crashEvents, credits := m.crashLocked(m.multiplier)
		return append(events, crashEvents...), credits
	}
	return events, nil
}

func (m *Manager) growLocked() ([]Event, []Credit) {
	next := m.multiplier + m.cfg.BaseGrowth*(1+(m.multiplier-1)*m.cfg.Acceleration)
	if next >= m.current.crashPoint {
		return m.crashLocked(next)
	}

	m.multiplier = next
	events := []Event{m.eventLocked(EventTick)}
	autoEvents, credits := m.autoCashoutsLocked(next)
	return append(events, autoEvents...), credits
}

// crashLocked ends the running round. Auto cash-outs whose target was passed
// on the way to reached, and lies strictly below the crash point, settle
// before the sweep.
func (m *Manager) crashLocked(reached float64) ([]Event, []Credit) {
	r := m.current
	events, credits := m.autoCashoutsLocked(math.Min(reached, r.crashPoint))

	m.multiplier = r.crashPoint
	m.phase = PhaseCrashed
	m.countdown = m.cfg.CooldownDuration
	r.crashTime = m.clock.Now()

	forfeits := ForfeitAll(m.ledger.Sweep(), r.crashPoint)
	m.history.Add(r.crashPoint)

	var lost int64
	for _, f := range forfeits {
		lost += f.Bet.Stake
	}
	m.logger.Info().
		Str("round_id", r.id).
		Float64("crash_point", r.crashPoint).
		Int("forfeits", len(forfeits)).
		Int64("forfeited_stake", lost).
		Msg("round crashed")

	crashed := m.eventLocked(EventRoundCrashed)
	crashed.CrashPoint = r.crashPoint
	crashed.Forfeits = forfeits
	events = append(events, crashed, m.eventLocked(EventPhaseChanged))
	return events, credits
}

func (m *Manager) autoCashoutsLocked(level float64) ([]Event, []Credit) {
	var events []Event
	var credits []Credit
	for _, open := range m.ledger.Open() {
		target := open.AutoCashout
		if target <= MinMultiplier || target > level || target >= m.current.crashPoint {
			continue
		}
		bet, ok := m.ledger.Remove(open.UserID)
		if !ok {
			continue
		}
		s := Settle(*bet, target)
		credits = append(credits, Credit{UserID: bet.UserID, BetID: bet.BetID, Amount: s.Payout, Reason: CreditCashout})
		ev := m.eventLocked(EventBetCashedOut)
		ev.Settlement = &s
		events = append(events, ev)

		m.logger.Info().Str("user_id", bet.UserID).Float64("multiplier", target).Int64("payout", s.Payout).Msg("auto cashout")
	}
	return events, credits
}

func (m *Manager) eventLocked(t EventType) Event {
	ev := Event{
		Type:    t,
		Phase:   m.phase,
		Time:    m.clock.Now(),
		RoundID: m.current.id,
	}
	ev.Sequence = m.current.seq
	switch m.phase {
	case PhaseBetting, PhaseCrashed:
		ev.Countdown = m.countdown.Seconds()
		if m.phase == PhaseCrashed {
			ev.Multiplier = m.multiplier
		}
	case PhaseRunning:
		ev.Multiplier = m.multiplier
	}
	return ev
}

// acceptingLocked reports whether a new bet may enter the ledger now.
func (m *Manager) acceptingLocked() error {
	if m.stopped {
		return ErrEngineStopped
	}
	switch m.phase {
	case PhaseBetting:
		return nil
	case PhaseRunning:
		if m.cfg.LateJoinThreshold > MinMultiplier && m.multiplier < m.cfg.LateJoinThreshold {
			return nil
		}
	}
	return ErrPhaseClosed
}

// PlaceBet withdraws the stake and records a bet for the active round. The
// participant's ledger slot is claimed before the withdrawal, so concurrent
// calls for the same participant fail with ErrDuplicateBet without touching
// the wallet. If the bet cannot be recorded after the withdrawal, the stake
// is refunded exactly once.
func (m *Manager) PlaceBet(ctx context.Context, req BetRequest) (Bet, error) {
	if req.UserID == "" {
		return Bet{}, ErrMissingUser
	}
	if req.Amount < m.cfg.MinStake || req.Amount > m.cfg.MaxStake {
		return Bet{}, fmt.Errorf("%w: must be between %d and %d", ErrInvalidStake, m.cfg.MinStake, m.cfg.MaxStake)
	}
	if req.AutoCashout != 0 && req.AutoCashout <= MinMultiplier {
		return Bet{}, ErrInvalidAutoCashout
	}

	m.stateMutex.RLock()
	err := m.acceptingLocked()
	if err == nil && !m.ledger.Claim(req.UserID) {
		err = ErrDuplicateBet
	}
	if err == nil {
		m.commands.Add(1)
	}
	m.stateMutex.RUnlock()
	if err != nil {
		return Bet{}, err
	}
	defer m.commands.Done()
	defer m.ledger.Release(req.UserID)

	if err := m.wallet.Withdraw(ctx, req.UserID, req.Amount); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			return Bet{}, ErrInsufficientFunds
		}
		return Bet{}, fmt.Errorf("withdraw stake: %w", err)
	}

	bet := &Bet{
		BetID:       uuid.NewString(),
		UserID:      req.UserID,
		Stake:       req.Amount,
		AutoCashout: req.AutoCashout,
		PlacedTime:  m.clock.Now(),
	}

	m.stateMutex.RLock()
	var ev Event
	if m.current != nil {
		bet.RoundID = m.current.id
		ev = m.eventLocked(EventBetPlaced)
	}
	err = m.acceptingLocked()
	if err == nil {
		bet.PlacedAt = m.multiplier
		if !m.ledger.Insert(bet) {
			err = ErrDuplicateBet
		}
	}
	m.stateMutex.RUnlock()

	placed := *bet
	if err != nil {
		m.refund(placed, ev)
		return Bet{}, err
	}

	ev.Bet = &placed
	m.hub.Publish(ev)
	m.logger.Info().Str("user_id", placed.UserID).Int64("stake", placed.Stake).Str("bet_id", placed.BetID).Msg("bet placed")
	return placed, nil
}

func (m *Manager) refund(bet Bet, ev Event) {
	m.payouts.Submit(Credit{UserID: bet.UserID, BetID: bet.BetID, Amount: bet.Stake, Reason: CreditRefund})
	ev.Type = EventBetRefunded
	ev.Bet = &bet
	m.hub.Publish(ev)
	m.logger.Debug().Str("user_id", bet.UserID).Int64("stake", bet.Stake).Msg("stake refunded")
}

// CashOut settles the participant's open bet at the multiplier current at the
// moment the bet leaves the ledger.
func (m *Manager) CashOut(userID string) (Settlement, error) {
	m.stateMutex.RLock()
	if m.stopped {
		m.stateMutex.RUnlock()
		return Settlement{}, ErrEngineStopped
	}
	if m.phase != PhaseRunning {
		m.stateMutex.RUnlock()
		return Settlement{}, ErrPhaseClosed
	}
	multiplier := m.multiplier
	bet, ok := m.ledger.Remove(userID)
	ev := m.eventLocked(EventBetCashedOut)
	m.stateMutex.RUnlock()

	if !ok {
		return Settlement{}, ErrNoActiveBet
	}

	s := Settle(*bet, multiplier)
	m.payouts.Submit(Credit{UserID: userID, BetID: bet.BetID, Amount: s.Payout, Reason: CreditCashout})
	ev.Settlement = &s
	m.hub.Publish(ev)

	m.logger.Info().Str("user_id", userID).Float64("multiplier", multiplier).Int64("payout", s.Payout).Msg("cashout")
	return s, nil
}

// Shutdown stops the driver, refunds every open bet and drains the payout
// queue and observers. It is safe to call more than once.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		m.driverMu.Lock()
		m.stateMutex.Lock()
		m.stopped = true
		open := m.ledger.Sweep()
		var ev Event
		if m.current != nil {
			ev = m.eventLocked(EventBetRefunded)
		}
		m.stateMutex.Unlock()
		m.driverMu.Unlock()

		m.commands.Wait()
		for _, bet := range open {
			m.refund(*bet, ev)
		}
		m.logger.Info().Int("refunded", len(open)).Msg("engine stopped")

		m.payouts.Close()
		m.hub.Close()
	})
}

// Flush waits for queued credits and retries parked ones, returning how many
// remain unpaid.
func (m *Manager) Flush(ctx context.Context) int {
	m.payouts.Wait()
	return m.payouts.Flush(ctx)
}

// UnpaidCredits is the number of parked credits waiting for Flush.
func (m *Manager) UnpaidCredits() int {
	return len(m.payouts.Unpaid())
}

func (m *Manager) Subscribe(obs Observer) func() {
	return m.hub.Subscribe(obs)
}

func (m *Manager) SubscribeWithQueue(obs Observer, size int) func() {
	return m.hub.SubscribeWithQueue(obs, size)
}

func (m *Manager) Hub() *Hub {
	return m.hub
}

func (m *Manager) Phase() Phase {
	m.stateMutex.RLock()
	defer m.stateMutex.RUnlock()
	return m.phase
}

func (m *Manager) Multiplier() float64 {
	m.stateMutex.RLock()
	defer m.stateMutex.RUnlock()
	return m.multiplier
}

// CountdownRemaining is the time left in BETTING or CRASHED, zero otherwise.
func (m *Manager) CountdownRemaining() time.Duration {
	m.stateMutex.RLock()
	defer m.stateMutex.RUnlock()
	if m.phase == PhaseBetting || m.phase == PhaseCrashed {
		return max(m.countdown, 0)
	}
	return 0
}

func (m *Manager) HasBet(userID string) bool {
	return m.ledger.Has(userID)
}

func (m *Manager) ActiveBet(userID string) (Bet, bool) {
	return m.ledger.Get(userID)
}

func (m *Manager) PendingStake() int64 {
	return m.ledger.PendingStake()
}

func (m *Manager) RecentCrashHistory(limit int) []float64 {
	return m.history.Recent(limit)
}

func (m *Manager) RTP() float64 {
	return m.history.RTP()
}

// GetCurrentRound returns the public state of the active round, or nil before
// the first round opens.
func (m *Manager) GetCurrentRound() *RoundState {
	m.stateMutex.RLock()
	defer m.stateMutex.RUnlock()
	if m.current == nil {
		return nil
	}
	state := &RoundState{
		RoundID:           m.current.id,
		Sequence:          m.current.seq,
		Status:            m.phase,
		CurrentMultiplier: m.multiplier,
		ActiveBets:        m.ledger.Len(),
		StartTime:         m.current.startTime,
		CrashTime:         m.current.crashTime,
	}
	if m.phase == PhaseBetting || m.phase == PhaseCrashed {
		state.Countdown = max(m.countdown, 0).Seconds()
	}
	if m.phase == PhaseCrashed {
		state.CrashPoint = m.current.crashPoint
	}
	return state
}

func wholeSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
