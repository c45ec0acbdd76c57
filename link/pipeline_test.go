package link

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zanz1n/stunning-waffle/common"
	"github.com/zanz1n/stunning-waffle/events"
	"github.com/zanz1n/stunning-waffle/telemetry"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(event string, r common.Reading) error {
	args := m.Called(event, r)
	return args.Error(0)
}

// countingRecorder tallies pipeline metrics.
type countingRecorder struct {
	mu            sync.Mutex
	chunks        int
	frames        int
	decodeFaults  int
	published     int
	publishFaults int
	reconnects    int
	readErrors    map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{readErrors: map[string]int{}}
}

func (c *countingRecorder) ChunkRead(int)       { c.add(&c.chunks) }
func (c *countingRecorder) Reconnected()        { c.add(&c.reconnects) }
func (c *countingRecorder) FrameExtracted()     { c.add(&c.frames) }
func (c *countingRecorder) DecodeFault()        { c.add(&c.decodeFaults) }
func (c *countingRecorder) Published(time.Time) { c.add(&c.published) }
func (c *countingRecorder) PublishFault()       { c.add(&c.publishFaults) }

func (c *countingRecorder) ReadError(kind string) {
	c.mu.Lock()
	c.readErrors[kind]++
	c.mu.Unlock()
}

func (c *countingRecorder) add(n *int) {
	c.mu.Lock()
	*n++
	c.mu.Unlock()
}

func (c *countingRecorder) get(n *int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *n
}

func (c *countingRecorder) readErrorCount(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErrors[kind]
}

func matchReading(want common.Reading) any {
	return mock.MatchedBy(func(r common.Reading) bool { return r.Equal(want) })
}

func newTestPipeline(t *testing.T, framing string, schema telemetry.Schema, pub events.Publisher, rec *countingRecorder) *Pipeline {
	t.Helper()
	p, err := NewPipeline(
		PipelineConfig{Framing: framing},
		telemetry.NewDecoder(schema),
		events.NewDispatcher(pub, ""),
		rec,
	)
	require.NoError(t, err)
	return p
}

// feed copies chunk into the front of buf, like a read would, and
// hands the whole buffer to the pipeline.
func feed(p *Pipeline, buf []byte, chunk string) {
	n := copy(buf, chunk)
	p.HandleChunk(buf, n)
}

func TestNewPipelineFraming(t *testing.T) {
	p, err := NewPipeline(PipelineConfig{}, telemetry.NewDecoder(telemetry.Schema{}), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, FramingStream, p.Framing())

	_, err = NewPipeline(PipelineConfig{Framing: "first"}, telemetry.NewDecoder(telemetry.Schema{}), nil, nil)
	assert.Error(t, err)
}

func TestPipelineScenarios(t *testing.T) {
	tests := []struct {
		name   string
		schema telemetry.Schema
		input  string
		want   *common.Reading
	}{
		{
			name:   "firmware frame with padding",
			schema: telemetry.FirmwareSchema(),
			input:  "{\"Temperature 1\":482}\r\n\x00\x00",
			want:   ptr(common.NewReading(common.Channel{Name: "Temperature 1", Value: common.Uint(482)})),
		},
		{
			name:  "multi-channel map",
			input: "{\"temp\":23.5,\"humidity\":41.2}\r\n",
			want: ptr(common.NewReading(
				common.Channel{Name: "temp", Value: common.Float(23.5)},
				common.Channel{Name: "humidity", Value: common.Float(41.2)},
			)),
		},
		{
			name:  "not json",
			input: "not-json\r\n",
		},
	}

	for _, framing := range []string{FramingLast, FramingStream} {
		for _, tt := range tests {
			t.Run(framing+"/"+tt.name, func(t *testing.T) {
				pub := new(MockPublisher)
				if tt.want != nil {
					pub.On("Publish", common.EventDataPush, matchReading(*tt.want)).Return(nil).Once()
				}
				rec := newCountingRecorder()
				p := newTestPipeline(t, framing, tt.schema, pub, rec)

				feed(p, make([]byte, 1024), tt.input)

				pub.AssertExpectations(t)
				if tt.want == nil {
					pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
					assert.Equal(t, 1, rec.decodeFaults)
					assert.Equal(t, 0, rec.published)
				} else {
					assert.Equal(t, 1, rec.published)
					assert.Equal(t, 0, rec.decodeFaults)
				}
			})
		}
	}
}

func TestPipelineContinuesAfterFault(t *testing.T) {
	for _, framing := range []string{FramingLast, FramingStream} {
		t.Run(framing, func(t *testing.T) {
			pub := new(MockPublisher)
			want := common.NewReading(common.Channel{Name: common.DefaultChannel, Value: common.Uint(7)})
			pub.On("Publish", common.EventDataPush, matchReading(want)).Return(nil).Once()
			rec := newCountingRecorder()
			p := newTestPipeline(t, framing, telemetry.FirmwareSchema(), pub, rec)

			buf := make([]byte, 1024)
			feed(p, buf, "not-json\r\n")
			clear(buf)
			feed(p, buf, "{\"Temperature 1\":7}\r\n")

			pub.AssertExpectations(t)
			assert.Equal(t, 1, rec.decodeFaults)
			assert.Equal(t, 1, rec.published)
		})
	}
}

func TestPipelineLastFramingReusedBuffer(t *testing.T) {
	pub := new(MockPublisher)
	first := common.NewReading(common.Channel{Name: "a", Value: common.Uint(123456)})
	pub.On("Publish", common.EventDataPush, matchReading(first)).Return(nil).Once()
	rec := newCountingRecorder()
	p := newTestPipeline(t, FramingLast, telemetry.Schema{}, pub, rec)

	buf := make([]byte, 64)
	feed(p, buf, "{\"a\":123456}\r\n")
	// The shorter second frame leaves the tail of the first in place; the
	// last CR still belongs to the first frame, so the extracted slice is
	// "{\"b\":1}\r\n56}" and must not decode into either reading.
	feed(p, buf, "{\"b\":1}\r\n")

	pub.AssertExpectations(t)
	assert.Equal(t, 1, rec.published)
	assert.Equal(t, 1, rec.decodeFaults)
	assert.Equal(t, 2, rec.frames)
}

func TestPipelineStreamFramingReusedBuffer(t *testing.T) {
	pub := new(MockPublisher)
	first := common.NewReading(common.Channel{Name: "a", Value: common.Uint(123456)})
	second := common.NewReading(common.Channel{Name: "b", Value: common.Uint(1)})
	pub.On("Publish", common.EventDataPush, matchReading(first)).Return(nil).Once()
	pub.On("Publish", common.EventDataPush, matchReading(second)).Return(nil).Once()
	rec := newCountingRecorder()
	p := newTestPipeline(t, FramingStream, telemetry.Schema{}, pub, rec)

	buf := make([]byte, 64)
	feed(p, buf, "{\"a\":123456}\r\n")
	feed(p, buf, "{\"b\":1}\r\n")

	pub.AssertExpectations(t)
	assert.Equal(t, 2, rec.published)
	assert.Zero(t, rec.decodeFaults)
}

func TestPipelineStreamFramingSplitAndBatched(t *testing.T) {
	var got []common.Reading
	pub := events.PublisherFunc(func(event string, r common.Reading) error {
		got = append(got, r)
		return nil
	})
	rec := newCountingRecorder()
	p := newTestPipeline(t, FramingStream, telemetry.FirmwareSchema(), pub, rec)

	buf := make([]byte, 16)
	for _, chunk := range []string{
		"{\"Temperature",
		" 1\":10}\r\n{\"Te",
		"mperature 1\":11",
		"}\r\n{\"Temperatu",
		"re 1\":12}\r\n",
	} {
		feed(p, buf, chunk)
	}

	require.Len(t, got, 3)
	for i, want := range []uint64{10, 11, 12} {
		v, ok := got[i].Get(common.DefaultChannel)
		require.True(t, ok)
		u, isUint := v.Uint64()
		assert.True(t, isUint)
		assert.Equal(t, want, u)
	}
	assert.Zero(t, rec.decodeFaults)
}

func TestPipelineStreamFramingOverflow(t *testing.T) {
	pub := new(MockPublisher)
	rec := newCountingRecorder()
	p, err := NewPipeline(
		PipelineConfig{Framing: FramingStream, MaxFrameSize: 8},
		telemetry.NewDecoder(telemetry.Schema{}),
		events.NewDispatcher(pub, ""),
		rec,
	)
	require.NoError(t, err)

	feed(p, make([]byte, 32), "0123456789abcdef")

	assert.Equal(t, 1, rec.decodeFaults)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestPipelineCountsPublishFault(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("Publish", common.EventDataPush, mock.Anything).Return(errors.New("no subscribers")).Once()
	rec := newCountingRecorder()
	p := newTestPipeline(t, FramingLast, telemetry.FirmwareSchema(), pub, rec)

	feed(p, make([]byte, 64), "{\"Temperature 1\":1}\r\n")

	pub.AssertExpectations(t)
	assert.Equal(t, 1, rec.publishFaults)
	assert.Zero(t, rec.published)
}

func TestPipelineNoTerminator(t *testing.T) {
	pub := new(MockPublisher)
	rec := newCountingRecorder()
	p := newTestPipeline(t, FramingLast, telemetry.FirmwareSchema(), pub, rec)

	p.HandleChunk(make([]byte, 64), 0)

	assert.Equal(t, 1, rec.decodeFaults)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func ptr[T any](v T) *T { return &v }

func TestPipelineDoesNotWaitForStalledSubscriber(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	stalled := bus.Subscribe(1)
	defer stalled.Close()

	rec := newCountingRecorder()
	p := newTestPipeline(t, FramingStream, telemetry.FirmwareSchema(), bus, rec)

	buf := make([]byte, 64)
	start := time.Now()
	feed(p, buf, "{\"Temperature 1\":1}\r\n")
	feed(p, buf, "{\"Temperature 1\":2}\r\n")
	feed(p, buf, "{\"Temperature 1\":3}\r\n")
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, 3, rec.get(&rec.frames))
	assert.Equal(t, 1, rec.get(&rec.published))
	assert.Equal(t, 2, rec.get(&rec.publishFaults))
	assert.Equal(t, uint64(2), stalled.Dropped())

	ev := <-stalled.C()
	v, ok := ev.Reading.Get(common.DefaultChannel)
	require.True(t, ok)
	assert.Equal(t, 1.0, v.Float64())
}
