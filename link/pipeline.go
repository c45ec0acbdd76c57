package link

import (
	"fmt"
	"time"

	"github.com/zanz1n/stunning-waffle/common"
	"github.com/zanz1n/stunning-waffle/frame"
	"github.com/zanz1n/stunning-waffle/metrics"
)

// Framing modes.
const (
	// FramingStream splits a growable work buffer on the first terminator.
	FramingStream = "stream"
	// FramingLast hands the whole reused read buffer to frame.ExtractLast.
	FramingLast = "last"
)

// Decoder turns a frame payload into a reading.
type Decoder interface {
	Decode(data []byte) (common.Reading, error)
}

// Dispatcher hands a decoded reading to the event bus.
type Dispatcher interface {
	Dispatch(r common.Reading) error
}

// PipelineConfig selects how read chunks become frames.
type PipelineConfig struct {
	Framing      string `mapstructure:"framing"`
	MaxFrameSize int    `mapstructure:"max_frame_size"`
	Verbose      bool   `mapstructure:"-"`
}

// Pipeline is the extract → decode → dispatch stage run by the reader
// worker. It is not safe for concurrent use; exactly one worker feeds it.
type Pipeline struct {
	config     PipelineConfig
	scanner    *frame.Scanner
	decoder    Decoder
	dispatcher Dispatcher
	metrics    metrics.Recorder
	now        func() time.Time
}

// NewPipeline validates the framing mode and wires the stages.
func NewPipeline(cfg PipelineConfig, dec Decoder, disp Dispatcher, rec metrics.Recorder) (*Pipeline, error) {
	if cfg.Framing == "" {
		cfg.Framing = FramingStream
	}
	if cfg.Framing != FramingStream && cfg.Framing != FramingLast {
		return nil, fmt.Errorf("unknown framing %q", cfg.Framing)
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = frame.DefaultMaxFrame
	}
	if rec == nil {
		rec = metrics.Nop{}
	}

	return &Pipeline{
		config:     cfg,
		scanner:    frame.NewScanner(cfg.MaxFrameSize),
		decoder:    dec,
		dispatcher: disp,
		metrics:    rec,
		now:        time.Now,
	}, nil
}

// Framing returns the active framing mode.
func (p *Pipeline) Framing() string { return p.config.Framing }

// HandleChunk processes one read. buf is the reader's whole fixed buffer
// and n the number of bytes the read just stored at its front.
func (p *Pipeline) HandleChunk(buf []byte, n int) {
	if p.config.Framing == FramingLast {
		p.HandleFrame(frame.ExtractLast(buf))
		return
	}

	overflows := p.scanner.Overflows()
	p.scanner.Feed(buf[:n])
	if p.scanner.Overflows() != overflows {
		logger.Printf("Discarded %d+ bytes without a frame terminator", p.config.MaxFrameSize)
		p.metrics.DecodeFault()
	}
	for {
		payload, ok := p.scanner.Next()
		if !ok {
			return
		}
		p.HandleFrame(payload)
	}
}

// HandleFrame decodes one extracted payload and dispatches the reading.
// Faults are logged and counted; they never stop the caller.
func (p *Pipeline) HandleFrame(raw []byte) {
	p.metrics.FrameExtracted()

	reading, err := p.decoder.Decode(raw)
	if err != nil {
		logger.Printf("Payload deserialization error: %v", err)
		p.metrics.DecodeFault()
		return
	}

	if p.config.Verbose {
		logger.Printf("Payload received: %s", reading)
	}

	if err := p.dispatcher.Dispatch(reading); err != nil {
		p.metrics.PublishFault()
		return
	}
	p.metrics.Published(p.now())
}
