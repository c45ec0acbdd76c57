// Package serialport opens the serial link to the thermometer device.
//
// The line is always 8 data bits, no parity, 1 stop bit, no flow control.
// Two drivers are available: "bugst" (go.bug.st/serial, portable) and
// "termios" (raw Linux termios through golang.org/x/sys/unix). Both
// report an expired read timeout as ErrTimeout.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

var logger = log.New(os.Stdout, "[Serial-Port] ", log.LstdFlags|log.Lshortfile)

// ErrTimeout is returned by Read when no byte arrived within the read timeout.
var ErrTimeout = errors.New("serial read timeout")

const (
	DriverBugst   = "bugst"
	DriverTermios = "termios"
)

// SupportedBaudRates lists the rates both drivers accept.
var SupportedBaudRates = []int{9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

// Config describes how to open the link.
type Config struct {
	Device      string        `mapstructure:"device"`
	BaudRate    int           `mapstructure:"baud_rate"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	Driver      string        `mapstructure:"driver"`
}

// DefaultConfig matches the firmware: USB CDC device at 115200 baud, 2s read timeout.
func DefaultConfig() Config {
	return Config{
		Device:      "/dev/ttyACM0",
		BaudRate:    115200,
		ReadTimeout: 2 * time.Second,
		Driver:      DriverBugst,
	}
}

// Validate checks the configuration before any device is touched.
func (c Config) Validate() error {
	if c.Device == "" {
		return errors.New("serial device is required")
	}
	if !baudSupported(c.BaudRate) {
		return fmt.Errorf("unsupported baud rate %d", c.BaudRate)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("negative read timeout %v", c.ReadTimeout)
	}
	switch c.Driver {
	case "", DriverBugst, DriverTermios:
	default:
		return fmt.Errorf("unknown serial driver %q", c.Driver)
	}
	return nil
}

func baudSupported(baud int) bool {
	for _, b := range SupportedBaudRates {
		if b == baud {
			return true
		}
	}
	return false
}

// Port is an open serial link.
type Port interface {
	io.ReadWriteCloser
}

// Drainer is implemented by ports that can wait for pending output to be transmitted.
type Drainer interface {
	Drain() error
}

// Opener opens a port; Open is the production implementation.
type Opener func(Config) (Port, error)

// Open validates cfg and opens the device with the configured driver.
func Open(cfg Config) (Port, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		p   Port
		err error
	)
	switch cfg.Driver {
	case DriverTermios:
		p, err = openTermios(cfg)
	default:
		p, err = openBugst(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}

	logger.Printf("Opened %s at %d baud 8N1 (driver %s, read timeout %v)", cfg.Device, cfg.BaudRate, driverName(cfg.Driver), cfg.ReadTimeout)
	return p, nil
}

func driverName(d string) string {
	if d == "" {
		return DriverBugst
	}
	return d
}
