// Package feed fans committed rank deltas out to subscribers. Publishing is
// fire-and-forget: a slow subscriber loses its oldest buffered delta rather
// than stalling the score path, and surviving deltas keep their relative
// order. Transport fan-out belongs to the callers subscribing here.
package feed

import (
	"sync"

	"github.com/louisbranch/podium.live/internal/services/board/domain/standings"
)

// DefaultBuffer is the per-subscriber delta queue size.
const DefaultBuffer = 64

// Config tunes the hub. Zero values fall back to defaults.
type Config struct {
	Buffer int
	// OnDrop observes deltas discarded for a slow subscriber.
	OnDrop func(standings.Delta)
}

// Hub is the in-process publish/subscribe surface for rank deltas.
type Hub struct {
	buffer int
	onDrop func(standings.Delta)

	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
	wg     sync.WaitGroup
}

type subscriber struct {
	ch   chan standings.Delta
	quit chan struct{}
	stop sync.Once
}

// NewHub creates a delta hub.
func NewHub(cfg Config) *Hub {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	return &Hub{
		buffer: cfg.Buffer,
		onDrop: cfg.OnDrop,
		subs:   make(map[uint64]*subscriber),
	}
}

// Subscribe registers a handler for future deltas and returns its cancel
// func. The handler runs on a dedicated goroutine, one delta at a time, so a
// subscriber observes a user's deltas in publish order. Cancel is idempotent;
// deltas already buffered are still flushed to the handler.
func (h *Hub) Subscribe(handler func(standings.Delta)) func() {
	if handler == nil {
		return func() {}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return func() {}
	}
	h.nextID++
	id := h.nextID
	sub := &subscriber{
		ch:   make(chan standings.Delta, h.buffer),
		quit: make(chan struct{}),
	}
	h.subs[id] = sub
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		for {
			select {
			case delta := <-sub.ch:
				handler(delta)
			case <-sub.quit:
				for {
					select {
					case delta := <-sub.ch:
						handler(delta)
					default:
						return
					}
				}
			}
		}
	}()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		sub.stop.Do(func() { close(sub.quit) })
	}
}

// Publish offers the delta to every subscriber without blocking. A full
// subscriber queue evicts its oldest delta to make room; if the queue is
// still full the new delta is dropped instead.
func (h *Hub) Publish(delta standings.Delta) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	subs := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.offer(sub, delta)
	}
}

func (h *Hub) offer(sub *subscriber, delta standings.Delta) {
	select {
	case sub.ch <- delta:
		return
	default:
	}

	select {
	case dropped := <-sub.ch:
		if h.onDrop != nil {
			h.onDrop(dropped)
		}
	default:
	}

	select {
	case sub.ch <- delta:
	default:
		if h.onDrop != nil {
			h.onDrop(delta)
		}
	}
}

// Close stops all subscribers after flushing their buffered deltas and waits
// for their goroutines to finish. Further publishes and subscriptions are
// no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[uint64]*subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.stop.Do(func() { close(sub.quit) })
	}
	h.wg.Wait()
}
