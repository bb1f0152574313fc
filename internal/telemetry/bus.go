package telemetry

import "sync"

// defaultBufferSize is the per-subscriber channel buffer.
const defaultBufferSize = 256

// Bus broadcasts events to all subscribers. Publishing never blocks: if a
// subscriber's buffer is full the event is dropped for that subscriber.
// The zero value is not usable; create buses with NewBus.
type Bus struct {
	mu      sync.RWMutex
	subs    []*Subscription
	bufSize int
	closed  bool
}

// NewBus creates a bus with the default per-subscriber buffer.
func NewBus() *Bus {
	return NewBusSize(defaultBufferSize)
}

// NewBusSize creates a bus with the given per-subscriber buffer size.
func NewBusSize(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	return &Bus{bufSize: bufSize}
}

// Publish sends the event to every subscriber. Events published after Close
// are silently dropped.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs {
		sub.send(event)
	}
}

// Subscribe registers a new subscriber. The returned Subscription must be
// closed when done.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{ch: make(chan Event, b.bufSize)}
	if b.closed {
		sub.close()
		return sub
	}
	b.subs = append(b.subs, sub)
	return sub
}

// Close shuts down the bus and every subscription. Subsequent publishes are
// dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.close()
	}
	b.subs = nil
}

// Subscription receives the event stream of one subscriber.
type Subscription struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// Events returns the subscriber's channel. The channel is closed when the
// subscription or its bus closes.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close stops delivery to this subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.close()
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// send delivers an event, dropping it if the buffer is full or the
// subscription is closed.
func (s *Subscription) send(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	default:
	}
}
