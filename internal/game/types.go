package game

import (
	"time"
)

type Phase string

const (
	PhaseWaiting Phase = "WAITING"
	PhaseBetting Phase = "BETTING"
	PhaseRunning Phase = "RUNNING"
	PhaseCrashed Phase = "CRASHED"
)

// Bet is one participant's wager for the active round. Stakes and payouts are
// integer minor currency units.
type Bet struct {
	BetID       string    `json:"bet_id"`
	RoundID     string    `json:"round_id"`
	UserID      string    `json:"user_id"`
	Stake       int64     `json:"stake"`
	PlacedAt    float64   `json:"placed_at_multiplier"`
	PlacedTime  time.Time `json:"placed_time"`
	AutoCashout float64   `json:"auto_cashout,omitempty"`
	CashedOut   bool      `json:"cashed_out"`
	CashoutAt   float64   `json:"cashout_multiplier,omitempty"`
}

// Settlement is the monetary outcome of a bet.
type Settlement struct {
	Bet        Bet     `json:"bet"`
	Multiplier float64 `json:"multiplier"`
	Payout     int64   `json:"payout"`
	Forfeited  bool    `json:"forfeited"`
}

// RoundState is the public view of the active round. CrashPoint is only set
// once the round has crashed.
type RoundState struct {
	RoundID           string    `json:"round_id"`
	Sequence          uint64    `json:"sequence"`
	Status            Phase     `json:"status"`
	CurrentMultiplier float64   `json:"current_multiplier"`
	Countdown         float64   `json:"countdown_seconds"`
	CrashPoint        float64   `json:"crash_point,omitempty"`
	ActiveBets        int       `json:"active_bets"`
	StartTime         time.Time `json:"start_time"`
	CrashTime         time.Time `json:"crash_time,omitempty"`
}

// round is the driver-owned record; crashPoint never leaves the engine while
// the round is live.
type round struct {
	id         string
	seq        uint64
	crashPoint float64
	startTime  time.Time
	crashTime  time.Time
}

type BetRequest struct {
	UserID      string  `json:"user_id"`
	Amount      int64   `json:"amount"`
	AutoCashout float64 `json:"auto_cashout,omitempty"`
}

type CashoutRequest struct {
	UserID string `json:"user_id"`
}
