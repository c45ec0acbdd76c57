package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zanz1n/stunning-waffle/common"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(event string, r common.Reading) error {
	args := m.Called(event, r)
	return args.Error(0)
}

func TestDispatcherPublishesUnderFixedEvent(t *testing.T) {
	pub := new(MockPublisher)
	r := reading(482)
	pub.On("Publish", common.EventDataPush, r).Return(nil).Once()

	d := NewDispatcher(pub, "")
	assert.Equal(t, common.EventDataPush, d.Event())
	require.NoError(t, d.Dispatch(r))
	pub.AssertExpectations(t)
}

func TestDispatcherReturnsPublishFault(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", "custom", mock.Anything).Return(errors.New("broker down")).Once()

	err := NewDispatcher(pub, "custom").Dispatch(reading(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestPublisherFunc(t *testing.T) {
	var got []string
	pub := PublisherFunc(func(event string, r common.Reading) error {
		got = append(got, event)
		return nil
	})

	require.NoError(t, NewDispatcher(pub, "custom").Dispatch(reading(1)))
	assert.Equal(t, []string{"custom"}, got)
}
