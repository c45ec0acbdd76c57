package events

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zanz1n/stunning-waffle/common"
)

func reading(v uint64) common.Reading {
	return common.NewReading(common.Channel{Name: common.DefaultChannel, Value: common.Uint(v)})
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	err := bus.Publish(common.EventDataPush, reading(1))
	assert.ErrorIs(t, err, ErrNoSubscribers)
}

func TestPublishDeliversInOrder(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(8)
	defer sub.Close()

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, bus.Publish(common.EventDataPush, reading(i)))
	}

	for i := uint64(1); i <= 3; i++ {
		select {
		case ev := <-sub.C():
			assert.Equal(t, common.EventDataPush, ev.Name)
			assert.Equal(t, i, ev.Seq)
			assert.True(t, reading(i).Equal(ev.Reading))
			assert.False(t, ev.Received.IsZero())
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(1)
	b := bus.Subscribe(1)
	other := bus.Subscribe(1, "status")

	require.NoError(t, bus.Publish(common.EventDataPush, reading(7)))

	assert.Len(t, a.C(), 1)
	assert.Len(t, b.C(), 1)
	assert.Len(t, other.C(), 0)
	assert.Equal(t, 3, bus.Subscribers())
}

func TestFilteredSubscriberOnlyIsNoSubscribers(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(1, "status")
	assert.ErrorIs(t, bus.Publish(common.EventDataPush, reading(1)), ErrNoSubscribers)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	slow := bus.Subscribe(1)
	fast := bus.Subscribe(16)

	require.NoError(t, bus.Publish(common.EventDataPush, reading(1)))

	done := make(chan error, 1)
	go func() { done <- bus.Publish(common.EventDataPush, reading(2)) }()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrSubscriberBacklog), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Equal(t, uint64(1), slow.Dropped())
	assert.Equal(t, uint64(0), fast.Dropped())
	assert.Len(t, fast.C(), 2)
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	sub.Close()
	sub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, bus.Subscribers())
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	bus.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.ErrorIs(t, bus.Publish(common.EventDataPush, reading(1)), ErrClosed)

	late := bus.Subscribe(1)
	_, ok = <-late.C()
	assert.False(t, ok)
	late.Close()
	sub.Close()
}

func TestConcurrentPublish(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = bus.Publish(common.EventDataPush, reading(uint64(i*100+j)))
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, sub.C(), 500)
}
