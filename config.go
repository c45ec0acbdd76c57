package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/zanz1n/stunning-waffle/common"
	"github.com/zanz1n/stunning-waffle/link"
	"github.com/zanz1n/stunning-waffle/mqtt"
	"github.com/zanz1n/stunning-waffle/producer"
	"github.com/zanz1n/stunning-waffle/serialport"
	"github.com/zanz1n/stunning-waffle/ui"
)

const envPrefix = "THERMO"

// PipelineConfig selects framing and the expected channel set.
type PipelineConfig struct {
	link.PipelineConfig `mapstructure:",squash"`
	// Channels is the schema; empty accepts any channel set.
	Channels []string `mapstructure:"channels"`
	Event    string   `mapstructure:"event"`
}

// SimulateConfig drives the producer side.
type SimulateConfig struct {
	Port            serialport.Config `mapstructure:"port"`
	producer.Config `mapstructure:",squash"`
	// Sensor is "max6675" (random walk behind an emulated converter) or "random".
	Sensor   string        `mapstructure:"sensor"`
	Unit     producer.Unit `mapstructure:"unit"`
	Channels []string      `mapstructure:"channels"`
	Min      float64       `mapstructure:"min"`
	Max      float64       `mapstructure:"max"`
	Step     float64       `mapstructure:"step"`
	Seed     uint64        `mapstructure:"seed"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Serial   link.Config    `mapstructure:"serial"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	MQTT     mqtt.Config    `mapstructure:"mqtt"`
	UI       ui.Config      `mapstructure:"ui"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Simulate SimulateConfig `mapstructure:"simulate"`
}

// Debug reports whether per-frame logging is enabled.
func (c Config) Debug() bool { return strings.EqualFold(c.Logging.Level, "debug") }

func setDefaults(v *viper.Viper) {
	serial := link.DefaultConfig()
	v.SetDefault("serial.device", serial.Port.Device)
	v.SetDefault("serial.baud_rate", serial.Port.BaudRate)
	v.SetDefault("serial.read_timeout", serial.Port.ReadTimeout)
	v.SetDefault("serial.driver", serial.Port.Driver)
	v.SetDefault("serial.buffer_size", serial.BufferSize)
	v.SetDefault("serial.reconnect_interval", serial.ReconnectInterval)
	v.SetDefault("serial.max_consecutive_errors", serial.MaxConsecutiveErrors)
	v.SetDefault("serial.error_backoff", serial.ErrorBackoff)

	v.SetDefault("pipeline.framing", link.FramingStream)
	v.SetDefault("pipeline.max_frame_size", serial.BufferSize)
	v.SetDefault("pipeline.channels", []string{common.DefaultChannel})
	v.SetDefault("pipeline.event", common.EventDataPush)

	broker := mqtt.DefaultConfig()
	v.SetDefault("mqtt.enabled", broker.Enabled)
	v.SetDefault("mqtt.broker", broker.Broker)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.data_topic", broker.DataTopic)
	v.SetDefault("mqtt.status_topic", broker.StatusTopic)
	v.SetDefault("mqtt.qos", broker.QoS)
	v.SetDefault("mqtt.keep_alive", broker.KeepAlive)
	v.SetDefault("mqtt.connect_timeout", broker.ConnectTimeout)
	v.SetDefault("mqtt.publish_timeout", broker.PublishTimeout)
	v.SetDefault("mqtt.auto_reconnect", broker.AutoReconnect)
	v.SetDefault("mqtt.encoding", broker.Encoding)
	v.SetDefault("mqtt.source", "")
	v.SetDefault("mqtt.buffer", broker.Buffer)

	server := ui.DefaultConfig()
	v.SetDefault("ui.enabled", server.Enabled)
	v.SetDefault("ui.addr", server.Addr)
	v.SetDefault("ui.client_buffer", server.ClientBuffer)
	v.SetDefault("ui.write_timeout", server.WriteTimeout)
	v.SetDefault("ui.history", server.History)
	v.SetDefault("ui.allowed_origins", []string{})

	v.SetDefault("logging.level", "info")

	emitter := producer.DefaultConfig()
	v.SetDefault("simulate.port.device", "/dev/ttyGS0")
	v.SetDefault("simulate.port.baud_rate", serial.Port.BaudRate)
	v.SetDefault("simulate.port.read_timeout", serial.Port.ReadTimeout)
	v.SetDefault("simulate.port.driver", serial.Port.Driver)
	v.SetDefault("simulate.interval", emitter.Interval)
	v.SetDefault("simulate.poll_interval", emitter.PollInterval)
	v.SetDefault("simulate.frame_capacity", emitter.FrameCapacity)
	v.SetDefault("simulate.pad_frames", emitter.PadFrames)
	v.SetDefault("simulate.sensor", "max6675")
	v.SetDefault("simulate.unit", string(producer.Celsius))
	v.SetDefault("simulate.channels", []string{common.DefaultChannel})
	v.SetDefault("simulate.min", 20.0)
	v.SetDefault("simulate.max", 500.0)
	v.SetDefault("simulate.step", 2.0)
	v.SetDefault("simulate.seed", 0)
}

// newFlagSet declares the command line flags of a subcommand.
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("config", "c", "", "config file (default: ./config.yaml or /etc/thermo-bridge/config.yaml)")
	fs.StringP("port", "p", "", "serial device")
	fs.IntP("baud", "b", 0, "baud rate")
	fs.String("framing", "", "frame extraction: stream or last")
	fs.Bool("mqtt", false, "enable the MQTT publisher")
	fs.String("ui-addr", "", "UI server listen address")
	fs.String("log-level", "", "info or debug")
	return fs
}

// loadConfig merges defaults, the config file, THERMO_* environment
// variables and flags, in increasing precedence.
func loadConfig(command string, args []string) (Config, error) {
	var cfg Config

	fs := newFlagSet(command)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	portKey, baudKey := "serial.device", "serial.baud_rate"
	if command == cmdSimulate {
		portKey, baudKey = "simulate.port.device", "simulate.port.baud_rate"
	}
	for key, flag := range map[string]string{
		portKey:            "port",
		baudKey:            "baud",
		"pipeline.framing": "framing",
		"mqtt.enabled":     "mqtt",
		"ui.addr":          "ui-addr",
		"logging.level":    "log-level",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return cfg, err
		}
	}

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/thermo-bridge")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return cfg, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}
	if used := v.ConfigFileUsed(); used != "" {
		logger.Printf("Using config file %s", used)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Pipeline.Verbose = cfg.Debug()
	return cfg, nil
}

// Validate checks the sections used by command.
func (c Config) Validate(command string) error {
	switch c.Logging.Level {
	case "", "info", "debug":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}

	if command == cmdSimulate {
		if err := c.Simulate.Port.Validate(); err != nil {
			return fmt.Errorf("simulate.port: %w", err)
		}
		if err := c.Simulate.Config.Validate(); err != nil {
			return fmt.Errorf("simulate: %w", err)
		}
		switch c.Simulate.Sensor {
		case "max6675", "random":
		default:
			return fmt.Errorf("simulate: unknown sensor %q", c.Simulate.Sensor)
		}
		if _, err := c.Simulate.Unit.Convert(0); err != nil {
			return fmt.Errorf("simulate: %w", err)
		}
		if len(c.Simulate.Channels) == 0 {
			return errors.New("simulate: at least one channel is required")
		}
		return nil
	}

	if err := c.Serial.Validate(); err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	switch c.Pipeline.Framing {
	case link.FramingStream, link.FramingLast:
	default:
		return fmt.Errorf("pipeline: unknown framing %q", c.Pipeline.Framing)
	}
	if c.Pipeline.MaxFrameSize <= 0 {
		return fmt.Errorf("pipeline: max frame size must be positive, got %d", c.Pipeline.MaxFrameSize)
	}
	if c.MQTT.Enabled {
		if err := c.MQTT.Validate(); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if c.UI.Enabled {
		if err := c.UI.Validate(); err != nil {
			return fmt.Errorf("ui: %w", err)
		}
	}
	return nil
}
