package game

import (
	"errors"
	"fmt"
)

var (
	ErrPhaseClosed        = errors.New("betting is closed for this phase")
	ErrDuplicateBet       = errors.New("participant already has an open bet")
	ErrNoActiveBet        = errors.New("no active bet")
	ErrInsufficientFunds  = errors.New("insufficient balance")
	ErrInvalidStake       = errors.New("invalid stake")
	ErrInvalidAutoCashout = errors.New("auto cashout must be above 1.00x")
	ErrMissingUser        = errors.New("user id is required")
	ErrEngineStopped      = errors.New("engine stopped")
)

// GeneratorRangeError reports a draw outside [0,1). It never leaves the
// generator; the round falls back to an instant crash instead.
type GeneratorRangeError struct {
	Draw float64
}

func (e *GeneratorRangeError) Error() string {
	return fmt.Sprintf("random draw %v outside [0,1)", e.Draw)
}
