package events

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/zanz1n/stunning-waffle/common"
)

var logger = log.New(os.Stdout, "[Event-Bus] ", log.LstdFlags|log.Lshortfile)

var (
	// ErrNoSubscribers is returned when an event is published with nobody listening.
	ErrNoSubscribers = errors.New("no subscribers")
	// ErrSubscriberBacklog is returned when at least one subscriber dropped the event.
	ErrSubscriberBacklog = errors.New("subscriber backlog full")
	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("bus closed")
)

// Publisher accepts decoded readings under an event name.
type Publisher interface {
	Publish(event string, r common.Reading) error
}

// Bus is an in-process publish/subscribe hub. Publish never blocks: a
// subscriber whose channel is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	seq    uint64
	closed bool
	now    func() time.Time
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[uint64]*Subscription),
		now:  time.Now,
	}
}

// Subscription receives events for a set of names, or all events when the set is empty.
type Subscription struct {
	bus     *Bus
	id      uint64
	names   map[string]struct{}
	ch      chan common.Event
	once    sync.Once
	dropped uint64
}

// Subscribe registers a subscriber with a channel of the given capacity.
func (b *Bus) Subscribe(buffer int, names ...string) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}

	s := &Subscription{
		bus:   b,
		names: make(map[string]struct{}, len(names)),
		ch:    make(chan common.Event, buffer),
	}
	for _, n := range names {
		s.names[n] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	return s
}

// C returns the delivery channel. It is closed by Close or Bus.Close.
func (s *Subscription) C() <-chan common.Event { return s.ch }

// Dropped returns how many events this subscriber missed.
func (s *Subscription) Dropped() uint64 {
	s.bus.mu.RLock()
	defer s.bus.mu.RUnlock()
	return s.dropped
}

// Close unregisters the subscription.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	s.once.Do(func() {
		delete(s.bus.subs, s.id)
		close(s.ch)
	})
}

func (s *Subscription) wants(name string) bool {
	if len(s.names) == 0 {
		return true
	}
	_, ok := s.names[name]
	return ok
}

// Publish delivers r to every matching subscriber.
func (b *Bus) Publish(event string, r common.Reading) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	b.seq++
	ev := common.Event{Name: event, Seq: b.seq, Reading: r, Received: b.now()}

	var delivered, dropped int
	for _, s := range b.subs {
		if !s.wants(event) {
			continue
		}
		select {
		case s.ch <- ev:
			delivered++
		default:
			s.dropped++
			dropped++
		}
	}

	switch {
	case delivered == 0 && dropped == 0:
		return ErrNoSubscribers
	case dropped > 0:
		return fmt.Errorf("%w: %d of %d subscribers dropped event %d", ErrSubscriberBacklog, dropped, delivered+dropped, ev.Seq)
	}
	return nil
}

// Subscribers returns the number of registered subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription; later publishes fail.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		s.closeLocked()
	}
	logger.Println("Event bus closed")
}
