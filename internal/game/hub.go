package game

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const DefaultObserverQueue = 256

type subscriber struct {
	id      uint64
	obs     Observer
	queue   chan Event
	dropped atomic.Uint64
	once    sync.Once
}

// Hub fans events out to observers. Each observer gets its own bounded queue
// and goroutine, so a slow or panicking observer only loses its own events.
type Hub struct {
	mu        sync.RWMutex
	subs      map[uint64]*subscriber
	nextID    uint64
	queueSize int
	closed    bool
	dropped   atomic.Uint64
	logger    zerolog.Logger
	wg        sync.WaitGroup
}

func NewHub(queueSize int, logger zerolog.Logger) *Hub {
	if queueSize < 1 {
		queueSize = DefaultObserverQueue
	}
	return &Hub{
		subs:      make(map[uint64]*subscriber),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Subscribe registers obs and returns a func that removes it. The returned
// func is safe to call more than once and from inside Notify.
func (h *Hub) Subscribe(obs Observer) func() {
	return h.SubscribeWithQueue(obs, h.queueSize)
}

// SubscribeWithQueue is Subscribe with a queue of size events for obs.
// Observers that must not miss events under bursts, such as persistence,
// use a deeper queue than the default.
func (h *Hub) SubscribeWithQueue(obs Observer, size int) func() {
	if size < 1 {
		size = h.queueSize
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return func() {}
	}

	h.nextID++
	s := &subscriber{
		id:    h.nextID,
		obs:   obs,
		queue: make(chan Event, size),
	}
	h.subs[s.id] = s
	h.wg.Add(1)
	go h.pump(s)

	h.logger.Debug().Uint64("subscriber", s.id).Int("total", len(h.subs)).Int("queue", size).Msg("observer subscribed")
	return func() { h.unsubscribe(s) }
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s.id]; !ok {
		return
	}
	delete(h.subs, s.id)
	s.once.Do(func() { close(s.queue) })
	h.logger.Debug().Uint64("subscriber", s.id).Int("total", len(h.subs)).Msg("observer unsubscribed")
}

// Publish never blocks; an observer whose queue is full misses the event.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		select {
		case s.queue <- ev:
		default:
			if s.dropped.Add(1) == 1 {
				h.logger.Warn().Uint64("subscriber", s.id).Str("event", string(ev.Type)).Msg("observer queue full, dropping events")
			}
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) pump(s *subscriber) {
	defer h.wg.Done()
	for ev := range s.queue {
		h.deliver(s, ev)
	}
}

func (h *Hub) deliver(s *subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().
				Uint64("subscriber", s.id).
				Str("event", string(ev.Type)).
				Str("panic", fmt.Sprint(r)).
				Msg("observer panicked")
		}
	}()
	s.obs.Notify(ev)
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped is the total number of events dropped across all observers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close removes every observer and waits for queued events to be delivered.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id, s := range h.subs {
		delete(h.subs, id)
		s.once.Do(func() { close(s.queue) })
	}
	h.mu.Unlock()
	h.wg.Wait()
}
