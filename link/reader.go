package link

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/zanz1n/stunning-waffle/metrics"
	"github.com/zanz1n/stunning-waffle/serialport"
)

var logger = log.New(os.Stdout, "[Serial-Link] ", log.LstdFlags|log.Lshortfile)

// Config for the link reader.
type Config struct {
	Port                 serialport.Config `mapstructure:",squash"`
	BufferSize           int               `mapstructure:"buffer_size"`
	ReconnectInterval    time.Duration     `mapstructure:"reconnect_interval"`
	MaxConsecutiveErrors int               `mapstructure:"max_consecutive_errors"`
	ErrorBackoff         time.Duration     `mapstructure:"error_backoff"`
}

// DefaultConfig returns the reader defaults: 1 KiB read buffer, reopen
// after 3 consecutive I/O errors, retry every 5s.
func DefaultConfig() Config {
	return Config{
		Port:                 serialport.DefaultConfig(),
		BufferSize:           1024,
		ReconnectInterval:    5 * time.Second,
		MaxConsecutiveErrors: 3,
		ErrorBackoff:         100 * time.Millisecond,
	}
}

// Validate checks the reader configuration.
func (c Config) Validate() error {
	if err := c.Port.Validate(); err != nil {
		return err
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive, got %d", c.BufferSize)
	}
	if c.ReconnectInterval <= 0 {
		return fmt.Errorf("reconnect interval must be positive, got %v", c.ReconnectInterval)
	}
	return nil
}

// ChunkHandler receives every successful read.
type ChunkHandler interface {
	HandleChunk(buf []byte, n int)
}

// Reader owns the serial port and runs the read loop on one worker
// goroutine. Nothing else touches the port while the worker runs.
type Reader struct {
	config   Config
	open     serialport.Opener
	handler  ChunkHandler
	metrics  metrics.Recorder
	port     serialport.Port
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// mu guards port and started.
	mu      sync.Mutex
	started bool
}

// NewReader opens the port. An error here means the bridge has no data
// source and should not start.
func NewReader(cfg Config, open serialport.Opener, handler ChunkHandler, rec metrics.Recorder) (*Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if open == nil {
		open = serialport.Open
	}
	if rec == nil {
		rec = metrics.Nop{}
	}

	port, err := open(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to serial console: %w", err)
	}

	return &Reader{
		config:   cfg,
		open:     open,
		handler:  handler,
		metrics:  rec,
		port:     port,
		stopChan: make(chan struct{}),
	}, nil
}

// Start launches the worker. It does nothing once the reader is stopped
// or already started.
func (r *Reader) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopping() {
		return
	}
	logger.Printf("Starting serial reader on %s", r.config.Port.Device)
	r.started = true
	r.wg.Add(1)
	go r.readLoop()
}

// Stop signals the worker, closes the port to unblock a pending read and
// waits for the worker to exit. Safe to call more than once.
func (r *Reader) Stop() error {
	var err error
	r.stopOnce.Do(func() {
		logger.Println("Stopping serial reader...")
		r.mu.Lock()
		close(r.stopChan)
		r.mu.Unlock()
		err = r.closePort()
		r.wg.Wait()
		logger.Println("Serial reader stopped")
	})
	return err
}

// Run starts the worker and blocks until ctx is done.
func (r *Reader) Run(ctx context.Context) error {
	r.Start()
	<-ctx.Done()
	if err := r.Stop(); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *Reader) stopping() bool {
	select {
	case <-r.stopChan:
		return true
	default:
		return false
	}
}

// wait sleeps for d unless the reader is stopped first.
func (r *Reader) wait(d time.Duration) bool {
	if d <= 0 {
		return !r.stopping()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-r.stopChan:
		return false
	case <-t.C:
		return true
	}
}

func (r *Reader) getPort() serialport.Port {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.port
}

func (r *Reader) closePort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.port == nil {
		return nil
	}
	err := r.port.Close()
	r.port = nil
	return err
}

// readLoop performs one blocking read per iteration into a buffer that
// is reused as-is, never cleared, and hands it to the handler.
func (r *Reader) readLoop() {
	defer r.wg.Done()
	logger.Println("Starting serial read loop")

	buf := make([]byte, r.config.BufferSize)
	consecutive := 0

	for {
		if r.stopping() {
			logger.Println("Read loop stopped")
			return
		}

		port := r.getPort()
		if port == nil {
			if !r.reconnect() {
				logger.Println("Read loop stopped")
				return
			}
			consecutive = 0
			continue
		}

		n, err := port.Read(buf)
		if err != nil && r.stopping() {
			continue
		}

		switch {
		case errors.Is(err, serialport.ErrTimeout):
			logger.Printf("Serial read timeout: no data for %v", r.config.Port.ReadTimeout)
			r.metrics.ReadError(metrics.ReadErrorTimeout)
			continue
		case err != nil:
			consecutive++
			logger.Printf("Serial read error: %v", err)
			r.metrics.ReadError(metrics.ReadErrorIO)
			if r.config.MaxConsecutiveErrors > 0 && consecutive >= r.config.MaxConsecutiveErrors {
				logger.Printf("%d consecutive read errors, reopening %s", consecutive, r.config.Port.Device)
				if err := r.closePort(); err != nil {
					logger.Printf("Failed to close %s: %v", r.config.Port.Device, err)
				}
				consecutive = 0
				continue
			}
			r.wait(r.config.ErrorBackoff)
			continue
		}

		consecutive = 0
		if n == 0 {
			continue
		}
		r.metrics.ChunkRead(n)
		r.handler.HandleChunk(buf, n)
	}
}

// reconnect reopens the port until it succeeds or the reader stops.
func (r *Reader) reconnect() bool {
	for {
		if r.stopping() {
			return false
		}

		logger.Printf("Attempting to reconnect to %s", r.config.Port.Device)
		port, err := r.open(r.config.Port)
		if err == nil {
			r.mu.Lock()
			if r.stopping() {
				r.mu.Unlock()
				port.Close()
				return false
			}
			r.port = port
			r.mu.Unlock()
			r.metrics.Reconnected()
			logger.Printf("Serial connection re-established on %s", r.config.Port.Device)
			return true
		}

		logger.Printf("Reconnection failed: %v; retrying in %v", err, r.config.ReconnectInterval)
		if !r.wait(r.config.ReconnectInterval) {
			return false
		}
	}
}
