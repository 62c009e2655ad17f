package game

import (
	"errors"
	"fmt"
	"time"
)

const (
	TICK_INTERVAL  = 50 * time.Millisecond
	BETTING_TIME   = 15 * time.Second
	COOLDOWN_TIME  = 5 * time.Second
	MIN_BET_AMOUNT = 1
	MAX_BET_AMOUNT = 1_000_000
)

// Config holds the tunables of one engine instance.
type Config struct {
	TickInterval     time.Duration
	BettingDuration  time.Duration
	CooldownDuration time.Duration

	// Per tick: multiplier += BaseGrowth * (1 + (multiplier-1) * Acceleration).
	BaseGrowth   float64
	Acceleration float64

	HouseEdge     float64
	MaxMultiplier float64

	// Bets are still accepted while RUNNING and the multiplier is below this
	// value. Values <= 1 disable late joins.
	LateJoinThreshold float64

	HistorySize   int
	MinStake      int64
	MaxStake      int64
	ObserverQueue int

	Payouts PayoutsConfig
}

func DefaultConfig() Config {
	return Config{
		TickInterval:      TICK_INTERVAL,
		BettingDuration:   BETTING_TIME,
		CooldownDuration:  COOLDOWN_TIME,
		BaseGrowth:        0.01,
		Acceleration:      0.06,
		HouseEdge:         0.04,
		MaxMultiplier:     1000,
		LateJoinThreshold: 1.5,
		HistorySize:       50,
		MinStake:          MIN_BET_AMOUNT,
		MaxStake:          MAX_BET_AMOUNT,
		ObserverQueue:     DefaultObserverQueue,
		Payouts:           DefaultPayoutsConfig(),
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("tick interval must be positive"))
	}
	if c.BettingDuration <= 0 {
		errs = append(errs, errors.New("betting duration must be positive"))
	}
	if c.CooldownDuration < 0 {
		errs = append(errs, errors.New("cooldown duration must not be negative"))
	}
	if c.BaseGrowth <= 0 {
		errs = append(errs, errors.New("base growth must be positive"))
	}
	if c.Acceleration < 0 {
		errs = append(errs, errors.New("acceleration must not be negative"))
	}
	if c.HouseEdge < 0 || c.HouseEdge >= 1 {
		errs = append(errs, fmt.Errorf("house edge %v outside [0,1)", c.HouseEdge))
	}
	if c.MaxMultiplier < MinMultiplier {
		errs = append(errs, fmt.Errorf("max multiplier %v below %v", c.MaxMultiplier, MinMultiplier))
	}
	if c.HistorySize < 1 {
		errs = append(errs, errors.New("history size must be at least 1"))
	}
	if c.MinStake < 1 || c.MaxStake < c.MinStake {
		errs = append(errs, fmt.Errorf("stake bounds [%d,%d] invalid", c.MinStake, c.MaxStake))
	}
	return errors.Join(errs...)
}
