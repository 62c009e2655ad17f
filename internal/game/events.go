package game

import "time"

type EventType string

const (
	EventPhaseChanged EventType = "phase_changed"
	EventTick         EventType = "tick"
	EventBetPlaced    EventType = "bet_placed"
	EventBetCashedOut EventType = "bet_cashed_out"
	EventBetRefunded  EventType = "bet_refunded"
	EventRoundCrashed EventType = "round_crashed"
)

// Event is pushed to observers. Only the fields relevant to Type are set;
// CrashPoint is only ever set on round_crashed.
type Event struct {
	Type       EventType    `json:"type"`
	RoundID    string       `json:"round_id"`
	Sequence   uint64       `json:"sequence"`
	Phase      Phase        `json:"phase,omitempty"`
	Multiplier float64      `json:"multiplier,omitempty"`
	Countdown  float64      `json:"countdown_seconds,omitempty"`
	CrashPoint float64      `json:"crash_point,omitempty"`
	Bet        *Bet         `json:"bet,omitempty"`
	Settlement *Settlement  `json:"settlement,omitempty"`
	Forfeits   []Settlement `json:"forfeits,omitempty"`
	Time       time.Time    `json:"time"`
}

type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(ev Event) { f(ev) }
