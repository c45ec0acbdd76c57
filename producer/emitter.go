package producer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zanz1n/stunning-waffle/common"
	"github.com/zanz1n/stunning-waffle/frame"
)

// Config for the producer loop.
type Config struct {
	Interval      time.Duration `mapstructure:"interval"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	FrameCapacity int           `mapstructure:"frame_capacity"`
	PadFrames     bool          `mapstructure:"pad_frames"`
}

// DefaultConfig mirrors the firmware: one frame per second written as a
// whole zero-padded 1 KiB buffer, transport polled every 8ms.
func DefaultConfig() Config {
	return Config{
		Interval:      time.Second,
		PollInterval:  DefaultPollInterval,
		FrameCapacity: 1024,
		PadFrames:     true,
	}
}

// Validate checks the producer configuration.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", c.Interval)
	}
	if c.FrameCapacity < len(frame.Terminator)+2 {
		return fmt.Errorf("frame capacity %d too small", c.FrameCapacity)
	}
	return nil
}

// SensorChannel binds a sensor to the channel name it reports under.
type SensorChannel struct {
	Name   string
	Sensor Sensor
}

// LED is the activity indicator toggled once per cycle.
type LED interface {
	Set(on bool)
}

// LEDFunc adapts a function to LED.
type LEDFunc func(on bool)

func (f LEDFunc) Set(on bool) { f(on) }

// Emitter samples every channel, frames the reading and writes it to the
// link once per interval.
type Emitter struct {
	config   Config
	link     *Link
	encoder  *frame.Encoder
	channels []SensorChannel
	led      LED
	verbose  bool
	cycles   uint64
	skipped  uint64
}

// NewEmitter wires the loop. led may be nil.
func NewEmitter(cfg Config, link *Link, channels []SensorChannel, led LED) (*Emitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return nil, errors.New("at least one sensor channel is required")
	}
	seen := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		if _, dup := seen[ch.Name]; dup {
			return nil, fmt.Errorf("duplicate channel %q", ch.Name)
		}
		seen[ch.Name] = struct{}{}
	}
	if led == nil {
		led = LEDFunc(func(bool) {})
	}

	return &Emitter{
		config:   cfg,
		link:     link,
		encoder:  frame.NewEncoder(cfg.FrameCapacity),
		channels: channels,
		led:      led,
	}, nil
}

// SetVerbose enables per-frame logging.
func (e *Emitter) SetVerbose(v bool) { e.verbose = v }

// Cycles returns the number of completed cycles and how many of them
// emitted nothing because a sensor failed.
func (e *Emitter) Cycles() (total, skipped uint64) { return e.cycles, e.skipped }

// Run loops until ctx is done or a frame cannot be encoded. Encode errors
// mean the frame capacity is misconfigured and are not recoverable.
func (e *Emitter) Run(ctx context.Context) error {
	logger.Printf("Producer started: %d channel(s), interval %v", len(e.channels), e.config.Interval)
	for {
		if err := e.Cycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				logger.Println("Producer stopped")
			}
			return err
		}
	}
}

// Cycle runs one sample → encode → write → idle → LED → idle → clear pass.
func (e *Emitter) Cycle(ctx context.Context) error {
	if err := e.emit(); err != nil {
		return err
	}

	half := e.config.Interval / 2
	if err := e.link.Idle(ctx, half); err != nil {
		return err
	}
	e.led.Set(true)
	if err := e.link.Idle(ctx, e.config.Interval-half); err != nil {
		e.led.Set(false)
		return err
	}
	e.led.Set(false)

	e.encoder.Clear()
	e.cycles++
	return nil
}

func (e *Emitter) emit() error {
	var reading common.Reading
	for _, ch := range e.channels {
		v, err := ch.Sensor.ReadSample()
		if err != nil {
			logger.Printf("Sensor %q read failed: %v", ch.Name, err)
			e.skipped++
			return nil
		}
		reading.Set(ch.Name, v)
	}

	wire, err := e.encoder.Encode(reading)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if e.verbose {
		logger.Printf("Frame: %q", wire)
	}
	if e.config.PadFrames {
		wire = e.encoder.Padded()
	}
	e.link.Write(wire)
	return nil
}
