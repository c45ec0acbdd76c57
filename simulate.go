package main

import (
	"context"
	"fmt"
	"time"

	"github.com/zanz1n/stunning-waffle/producer"
	"github.com/zanz1n/stunning-waffle/serialport"
)

// buildSensors creates one simulated sensor per configured channel.
func buildSensors(cfg SimulateConfig, l *producer.Link) ([]producer.SensorChannel, error) {
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	channels := make([]producer.SensorChannel, 0, len(cfg.Channels))
	for i, name := range cfg.Channels {
		walk, err := producer.NewSimulatedSensor(cfg.Min, cfg.Max, cfg.Step, seed+uint64(i))
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", name, err)
		}

		var sensor producer.Sensor = walk
		if cfg.Sensor == "max6675" {
			if sensor, err = producer.NewMAX6675(producer.NewMAX6675Chip(walk), l, cfg.Unit); err != nil {
				return nil, fmt.Errorf("channel %q: %w", name, err)
			}
		}
		channels = append(channels, producer.SensorChannel{Name: name, Sensor: sensor})
	}
	return channels, nil
}

// runSimulator plays the microcontroller: it writes one frame per interval
// to the configured port until ctx is cancelled.
func runSimulator(ctx context.Context, cfg Config) error {
	port, err := serialport.Open(cfg.Simulate.Port)
	if err != nil {
		return fmt.Errorf("failed to open producer port: %w", err)
	}
	defer port.Close()

	l := producer.NewLink(port, cfg.Simulate.PollInterval)
	channels, err := buildSensors(cfg.Simulate, l)
	if err != nil {
		return err
	}

	debug := cfg.Debug()
	led := producer.LEDFunc(func(on bool) {
		if debug {
			logger.Printf("Activity LED on=%v", on)
		}
	})

	emitter, err := producer.NewEmitter(cfg.Simulate.Config, l, channels, led)
	if err != nil {
		return err
	}
	emitter.SetVerbose(debug)

	logger.Printf("Simulating %d channel(s) on %s (%s sensor)", len(channels), cfg.Simulate.Port.Device, cfg.Simulate.Sensor)
	err = emitter.Run(ctx)

	st := l.Stats()
	logger.Printf("Producer wrote %d frames (%d bytes, %d errors)", st.Writes, st.Bytes, st.WriteErrors)
	return err
}
