package events

import (
	"fmt"

	"github.com/zanz1n/stunning-waffle/common"
)

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(event string, r common.Reading) error

func (f PublisherFunc) Publish(event string, r common.Reading) error { return f(event, r) }

// Dispatcher publishes every reading under one fixed event name.
type Dispatcher struct {
	publisher Publisher
	event     string
}

// NewDispatcher returns a Dispatcher for event; an empty name means common.EventDataPush.
func NewDispatcher(p Publisher, event string) *Dispatcher {
	if event == "" {
		event = common.EventDataPush
	}
	return &Dispatcher{publisher: p, event: event}
}

// Event returns the event name readings are published under.
func (d *Dispatcher) Event() string { return d.event }

// Dispatch publishes r once. A failure is logged and returned so the
// caller can count it; it is never retried.
func (d *Dispatcher) Dispatch(r common.Reading) error {
	if err := d.publisher.Publish(d.event, r); err != nil {
		logger.Printf("Event emit error (%s): %v", d.event, err)
		return fmt.Errorf("publish %s: %w", d.event, err)
	}
	return nil
}
