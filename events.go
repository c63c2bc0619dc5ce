package serial

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// EventKind identifies a link event.
type EventKind int

const (
	// EventMessage carries one framed line received from the device.
	EventMessage EventKind = iota + 1
	// EventDisconnected is published once when the poll loop finds that the
	// open port has gone away.
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "serial_message_received"
	case EventDisconnected:
		return "serial_disconnected"
	}
	return "unknown"
}

// Event is published to subscribers. Line is empty for EventDisconnected.
type Event struct {
	Kind EventKind
	Line string
	Time time.Time
}

// Emitter receives link events. Emit is called with the link lock held and
// must not block.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

// Broadcaster fans events out to channel subscribers. Delivery is best
// effort: an event is dropped for a subscriber whose channel is full.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	dropped atomic.Int64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given channel buffer. The
// returned function unsubscribes and closes the channel; it is safe to call
// more than once.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Emit implements Emitter.
func (b *Broadcaster) Emit(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Inc()
		}
	}
}

// Dropped returns the number of events discarded because a subscriber was
// not keeping up.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}
