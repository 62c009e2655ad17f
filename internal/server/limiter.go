package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// userLimiter throttles bet and cashout commands per participant.
type userLimiter struct {
	mu        sync.Mutex
	users     map[string]*limiterEntry
	r         rate.Limit
	b         int
	lastSweep time.Time
	now       func() time.Time
}

func newUserLimiter(r rate.Limit, b int) *userLimiter {
	return &userLimiter{
		users: make(map[string]*limiterEntry),
		r:     r,
		b:     b,
		now:   time.Now,
	}
}

func (l *userLimiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for id, e := range l.users {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(l.users, id)
			}
		}
		l.lastSweep = now
	}

	e, ok := l.users[userID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.r, l.b)}
		l.users[userID] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (l *userLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}
