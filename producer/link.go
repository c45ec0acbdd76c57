package producer

import (
	"context"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/zanz1n/stunning-waffle/serialport"
)

var logger = log.New(os.Stdout, "[Producer] ", log.LstdFlags|log.Lshortfile)

// DefaultPollInterval is how often an idling producer services its transport.
const DefaultPollInterval = 8 * time.Millisecond

// LinkStats counts transport activity.
type LinkStats struct {
	Writes      uint64
	Bytes       uint64
	WriteErrors uint64
	Services    uint64
}

// Link is the single owner of the producer transport. Components that need
// timing or transport access share one *Link instead of their own handles.
type Link struct {
	mu           sync.Mutex
	w            io.Writer
	pollInterval time.Duration
	sleep        func(time.Duration)
	dirty        bool
	stats        LinkStats
}

// NewLink wraps w. A non-positive poll interval selects DefaultPollInterval.
func NewLink(w io.Writer, pollInterval time.Duration) *Link {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Link{
		w:            w,
		pollInterval: pollInterval,
		sleep:        time.Sleep,
	}
}

// PollInterval returns the service cadence used by Idle.
func (l *Link) PollInterval() time.Duration { return l.pollInterval }

// Write sends frame without waiting for the consumer. A failed or short
// write is logged and dropped.
func (l *Link) Write(frame []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := l.w.Write(frame)
	l.stats.Writes++
	l.stats.Bytes += uint64(n)
	if err == nil && n < len(frame) {
		err = io.ErrShortWrite
	}
	if err != nil {
		l.stats.WriteErrors++
		logger.Printf("Frame write error (%d/%d bytes): %v", n, len(frame), err)
		return
	}
	l.dirty = true
}

// Service performs transport housekeeping: pending output is drained when
// the transport supports it.
func (l *Link) Service() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats.Services++
	if !l.dirty {
		return
	}
	l.dirty = false
	if d, ok := l.w.(serialport.Drainer); ok {
		if err := d.Drain(); err != nil {
			logger.Printf("Transport drain error: %v", err)
		}
	}
}

// Delay blocks for d. Used by sensor drivers for bit timing.
func (l *Link) Delay(d time.Duration) {
	if d > 0 {
		l.sleep(d)
	}
}

// Idle waits for total in PollInterval slices, servicing the transport
// after each one. It returns ctx.Err() if ctx is done first.
func (l *Link) Idle(ctx context.Context, total time.Duration) error {
	for total > 0 {
		slice := min(l.pollInterval, total)
		t := time.NewTimer(slice)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		total -= slice
		l.Service()
	}
	return ctx.Err()
}

// Stats returns a snapshot of the transport counters.
func (l *Link) Stats() LinkStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
