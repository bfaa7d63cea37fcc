// Package broadcast fans seat availability changes out to observers (SSE
// streams, the message bus, cache invalidation). Each observer gets its own
// queue and goroutine, so a slow or failing observer never blocks the
// publisher or the other observers, and events reach every observer in
// the order they were published.
package broadcast

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Observer receives availability events. Returned errors and panics are
// logged and otherwise ignored.
type Observer interface {
	OnSeatEvent(ctx context.Context, ev Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event) error

func (f ObserverFunc) OnSeatEvent(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Publisher is the side of the hub used by the engine.
type Publisher interface {
	Publish(ev Event)
}

// Subscription identifies one registered observer.
type Subscription struct {
	id   uint64
	name string
}

type Stats struct {
	Published uint64
	Delivered uint64
	Failed    uint64
}

type Hub struct {
	mu     sync.RWMutex
	boxes  map[uint64]*mailbox
	nextID uint64
	closed bool

	published atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64

	log *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{boxes: make(map[uint64]*mailbox), log: log}
}

// Subscribe registers obs. name is only used in logs.
func (h *Hub) Subscribe(name string, obs Observer) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{id: h.nextID, name: name}
	box := newMailbox(h, sub, obs)
	h.boxes[sub.id] = box
	go box.run()
	h.log.Debug("observer subscribed", zap.String("observer", name), zap.Uint64("subscription", sub.id))
	return sub
}

// Unsubscribe removes the observer. Events already queued for it are still
// delivered; later events are not.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	box, ok := h.boxes[sub.id]
	delete(h.boxes, sub.id)
	h.mu.Unlock()
	if ok {
		box.close()
		h.log.Debug("observer unsubscribed", zap.String("observer", sub.name), zap.Uint64("subscription", sub.id))
	}
}

// Publish queues ev for every current observer and returns immediately.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	h.published.Add(1)
	for _, box := range h.boxes {
		box.push(ev)
	}
}

// Close stops accepting events and waits until every queued event has
// been delivered.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	boxes := h.boxes
	h.boxes = make(map[uint64]*mailbox)
	h.mu.Unlock()
	for _, box := range boxes {
		box.close()
	}
	for _, box := range boxes {
		<-box.done
	}
}

// Subscribers returns the number of registered observers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.boxes)
}

func (h *Hub) Stats() Stats {
	return Stats{Published: h.published.Load(), Delivered: h.delivered.Load(), Failed: h.failed.Load()}
}

type mailbox struct {
	hub  *Hub
	sub  *Subscription
	obs  Observer
	wake chan struct{}
	done chan struct{}

	mu      sync.Mutex
	queue   []Event
	closing bool
}

func newMailbox(h *Hub, sub *Subscription, obs Observer) *mailbox {
	return &mailbox{hub: h, sub: sub, obs: obs, wake: make(chan struct{}, 1), done: make(chan struct{})}
}

func (m *mailbox) push(ev Event) {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, ev)
	m.mu.Unlock()
	m.signal()
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()
	m.signal()
}

func (m *mailbox) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) run() {
	defer close(m.done)
	for {
		m.mu.Lock()
		for len(m.queue) == 0 {
			if m.closing {
				m.mu.Unlock()
				return
			}
			m.mu.Unlock()
			<-m.wake
			m.mu.Lock()
		}
		batch := m.queue
		m.queue = nil
		m.mu.Unlock()

		for _, ev := range batch {
			m.deliver(ev)
		}
	}
}

func (m *mailbox) deliver(ev Event) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("observer panic: %v", r)
			}
		}()
		return m.obs.OnSeatEvent(context.Background(), ev)
	}()
	if err != nil {
		m.hub.failed.Add(1)
		m.hub.log.Warn("observer failed",
			zap.String("observer", m.sub.name),
			zap.Uint64("showtime_id", ev.ShowtimeID),
			zap.String("event", string(ev.Type)),
			zap.Error(err))
		return
	}
	m.hub.delivered.Add(1)
}
