package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zanz1n/stunning-waffle/common"
	"github.com/zanz1n/stunning-waffle/events"
	"github.com/zanz1n/stunning-waffle/link"
	"github.com/zanz1n/stunning-waffle/metrics"
	"github.com/zanz1n/stunning-waffle/mqtt"
	"github.com/zanz1n/stunning-waffle/serialport"
	"github.com/zanz1n/stunning-waffle/telemetry"
	"github.com/zanz1n/stunning-waffle/ui"
)

const shutdownTimeout = 5 * time.Second

// logPublisher is the sink used when neither the UI nor MQTT is enabled.
var logPublisher = events.PublisherFunc(func(event string, r common.Reading) error {
	logger.Printf("%s: %s", event, r)
	return nil
})

// bridge holds the consumer-side components.
type bridge struct {
	registry *prometheus.Registry
	metrics  *metrics.Prom
	bus      *events.Bus
	server   *ui.Server
	broker   *mqtt.Client
	pipeline *link.Pipeline
}

// newBridge builds and starts the outputs and the pipeline. The serial
// port is opened separately so tests can feed the pipeline directly.
// Every output subscribes to the bus, so the pipeline only ever hands
// readings to a non-blocking publisher.
func newBridge(cfg Config, mqttOpts ...mqtt.Option) (*bridge, error) {
	b := &bridge{
		registry: prometheus.NewRegistry(),
		bus:      events.NewBus(),
	}
	b.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var err error
	if b.metrics, err = metrics.NewProm(b.registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	if cfg.UI.Enabled {
		b.server = ui.NewServer(cfg.UI, b.bus, b.registry)
		if err := b.server.Start(); err != nil {
			return nil, fmt.Errorf("start UI server: %w", err)
		}
	}
	if cfg.MQTT.Enabled {
		if b.broker, err = mqtt.NewClient(cfg.MQTT, b.bus, mqttOpts...); err != nil {
			b.stop()
			return nil, err
		}
		if err := b.broker.Start(); err != nil {
			b.stop()
			return nil, err
		}
	}

	var publisher events.Publisher = b.bus
	if b.server == nil && b.broker == nil {
		publisher = logPublisher
	}

	decoder := telemetry.NewDecoder(telemetry.Schema{Channels: cfg.Pipeline.Channels})
	decoder.SetVerbose(cfg.Debug())
	dispatcher := events.NewDispatcher(publisher, cfg.Pipeline.Event)

	if b.pipeline, err = link.NewPipeline(cfg.Pipeline.PipelineConfig, decoder, dispatcher, b.metrics); err != nil {
		b.stop()
		return nil, err
	}
	return b, nil
}

// stop shuts the outputs down.
func (b *bridge) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if b.server != nil {
		errs = append(errs, b.server.Stop(ctx))
	}
	if b.broker != nil {
		errs = append(errs, b.broker.Stop())
	}
	b.bus.Close()
	return errors.Join(errs...)
}

// runBridge reads frames from the serial link until ctx is cancelled.
func runBridge(ctx context.Context, cfg Config) error {
	b, err := newBridge(cfg)
	if err != nil {
		return err
	}
	defer b.stop()

	reader, err := link.NewReader(cfg.Serial, serialport.Open, b.pipeline, b.metrics)
	if err != nil {
		return err
	}

	logger.Printf("Bridge started on %s (%s framing). Press Ctrl+C to stop.", cfg.Serial.Port.Device, b.pipeline.Framing())
	return reader.Run(ctx)
}
