package game

import (
	"math"
	"sync"
)

// Payout is floor(stake * multiplier). The product is rounded to 1e-6 first
// so representation error (1.15*100 = 114.999...) cannot cost a unit.
func Payout(stake int64, multiplier float64) int64 {
	product := math.Round(float64(stake)*multiplier*1e6) / 1e6
	return int64(math.Floor(product))
}

// Settle resolves a cash-out at multiplier.
func Settle(bet Bet, multiplier float64) Settlement {
	bet.CashedOut = true
	bet.CashoutAt = multiplier
	return Settlement{
		Bet:        bet,
		Multiplier: multiplier,
		Payout:     Payout(bet.Stake, multiplier),
	}
}

// Forfeit resolves a bet still open at the crash. The stake was withdrawn on
// placement and is not returned.
func Forfeit(bet Bet, crashPoint float64) Settlement {
	return Settlement{
		Bet:        bet,
		Multiplier: crashPoint,
		Payout:     0,
		Forfeited:  true,
	}
}

// ForfeitAll settles every swept bet as a loss.
func ForfeitAll(bets []*Bet, crashPoint float64) []Settlement {
	out := make([]Settlement, 0, len(bets))
	for _, b := range bets {
		out = append(out, Forfeit(*b, crashPoint))
	}
	return out
}

// CrashHistory is a fixed-capacity ring of recent crash points.
type CrashHistory struct {
	mu   sync.RWMutex
	buf  []float64
	next int
	size int
}

func NewCrashHistory(capacity int) *CrashHistory {
	if capacity < 1 {
		capacity = 1
	}
	return &CrashHistory{buf: make([]float64, capacity)}
}

// Add records a crash point, evicting the oldest when full.
func (h *CrashHistory) Add(crashPoint float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = crashPoint
	h.next = (h.next + 1) % len(h.buf)
	if h.size < len(h.buf) {
		h.size++
	}
}

// Recent returns up to limit crash points, newest first. limit <= 0 returns all.
func (h *CrashHistory) Recent(limit int) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if limit <= 0 || limit > h.size {
		limit = h.size
	}
	out := make([]float64, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (h.next - i + len(h.buf)) % len(h.buf)
		out = append(out, h.buf[idx])
	}
	return out
}

func (h *CrashHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

func (h *CrashHistory) Cap() int {
	return len(h.buf)
}

// RTP is (mean-1)/mean*100 over the retained crash points. Diagnostic only.
func (h *CrashHistory) RTP() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.size == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < h.size; i++ {
		sum += h.buf[i]
	}
	mean := sum / float64(h.size)
	return (mean - 1) / mean * 100
}
