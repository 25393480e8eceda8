package eventbus

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the engine.
const (
	WorkerState = "worker.state"
	JobStarted  = "job.started"
	JobFinished = "job.finished"
	JobFailed   = "job.failed"
	JobCreated  = "job.created"
	JobRemoved  = "job.removed"
)

// Event is a small in-memory notification about a worker or a job.
//
// Publish never blocks; a subscriber that falls behind loses events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Publisher is the half of a Bus that components emit into.
type Publisher interface {
	Publish(e Event)
}

type Bus interface {
	Publisher
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus { return &memBus{} }

// Publish stamps and sends an event on p. A nil p is ignored.
func Publish(p Publisher, typ string, data any) {
	if p != nil {
		p.Publish(Event{Type: typ, Time: time.Now(), Data: data})
	}
}

// HasPrefix reports whether e belongs to a dotted family such as "job".
func (e Event) HasPrefix(family string) bool {
	rest, ok := strings.CutPrefix(e.Type, family)
	return ok && strings.HasPrefix(rest, ".")
}

type subscriber struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool
}

// offer is a non-blocking send; false means the event was lost.
func (s *subscriber) offer(e Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// memBus publishes to an immutable snapshot of its subscribers, so
// Publish takes no bus-wide lock.
type memBus struct {
	mu      sync.Mutex
	subs    atomic.Pointer[[]*subscriber]
	dropped atomic.Uint64
}

func (b *memBus) snapshot() []*subscriber {
	if p := b.subs.Load(); p != nil {
		return *p
	}
	return nil
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for _, s := range b.snapshot() {
		if !s.offer(e) {
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a buffered channel (16 when buffer <= 0). The returned
// func unsubscribes and closes the channel; it may be called more than once.
func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	next := append(slices.Clone(b.snapshot()), s)
	b.subs.Store(&next)
	b.mu.Unlock()

	return s.ch, func() {
		b.mu.Lock()
		next := slices.DeleteFunc(slices.Clone(b.snapshot()), func(x *subscriber) bool { return x == s })
		b.subs.Store(&next)
		b.mu.Unlock()
		s.close()
	}
}

// Dropped counts deliveries lost to full subscriber buffers.
func Dropped(b Bus) uint64 {
	if m, ok := b.(*memBus); ok {
		return m.dropped.Load()
	}
	return 0
}
