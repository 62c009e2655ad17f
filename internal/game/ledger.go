package game

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
)

// Ledger holds the open bets of the active round, keyed by participant.
// Insert and Remove are atomic per participant; unrelated participants never
// contend on a shared lock.
type Ledger struct {
	bets    sync.Map // user id -> *Bet
	claims  sync.Map // user id -> struct{}, held while a stake is withdrawn
	count   atomic.Int64
	pending atomic.Int64
}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Claim reserves the participant's slot for a bet that is not placed yet.
// It fails if another claim is held or a bet is already open. The holder
// must call Release once the bet is inserted or abandoned.
func (l *Ledger) Claim(userID string) bool {
	if _, loaded := l.claims.LoadOrStore(userID, struct{}{}); loaded {
		return false
	}
	if l.Has(userID) {
		l.claims.Delete(userID)
		return false
	}
	return true
}

func (l *Ledger) Release(userID string) {
	l.claims.Delete(userID)
}

// Insert records bet unless the participant already has one open.
func (l *Ledger) Insert(bet *Bet) bool {
	if _, loaded := l.bets.LoadOrStore(bet.UserID, bet); loaded {
		return false
	}
	l.count.Add(1)
	l.pending.Add(bet.Stake)
	return true
}

// Remove deletes and returns the participant's bet. Of any number of racing
// callers for the same participant, exactly one gets the bet.
func (l *Ledger) Remove(userID string) (*Bet, bool) {
	v, ok := l.bets.LoadAndDelete(userID)
	if !ok {
		return nil, false
	}
	bet := v.(*Bet)
	l.count.Add(-1)
	l.pending.Add(-bet.Stake)
	return bet, true
}

func (l *Ledger) Has(userID string) bool {
	_, ok := l.bets.Load(userID)
	return ok
}

// Get returns a copy of the participant's open bet.
func (l *Ledger) Get(userID string) (Bet, bool) {
	v, ok := l.bets.Load(userID)
	if !ok {
		return Bet{}, false
	}
	return *v.(*Bet), true
}

// Sweep removes every remaining bet and returns them in placement order.
// Entries claimed concurrently by Remove are not returned.
func (l *Ledger) Sweep() []*Bet {
	var out []*Bet
	l.bets.Range(func(key, _ any) bool {
		if bet, ok := l.Remove(key.(string)); ok {
			out = append(out, bet)
		}
		return true
	})
	slices.SortFunc(out, func(a, b *Bet) int {
		if c := a.PlacedTime.Compare(b.PlacedTime); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	return out
}

// Open returns copies of all open bets.
func (l *Ledger) Open() []Bet {
	var out []Bet
	l.bets.Range(func(_, v any) bool {
		out = append(out, *v.(*Bet))
		return true
	})
	return out
}

func (l *Ledger) Len() int {
	return int(l.count.Load())
}

// PendingStake is the total stake withdrawn for bets that are still open.
func (l *Ledger) PendingStake() int64 {
	return l.pending.Load()
}
