// Package metrics exposes pipeline counters as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ReadErrorTimeout = "timeout"
	ReadErrorIO      = "io"
)

// Recorder is what the link pipeline reports to.
type Recorder interface {
	ChunkRead(n int)
	ReadError(kind string)
	Reconnected()
	FrameExtracted()
	DecodeFault()
	Published(at time.Time)
	PublishFault()
}

// Prom implements Recorder with Prometheus collectors.
type Prom struct {
	reads         prometheus.Counter
	bytes         prometheus.Counter
	readErrors    *prometheus.CounterVec
	reconnects    prometheus.Counter
	frames        prometheus.Counter
	decodeFaults  prometheus.Counter
	published     prometheus.Counter
	publishFaults prometheus.Counter
	lastReading   prometheus.Gauge
}

// NewProm creates the collectors and registers them with reg.
func NewProm(reg prometheus.Registerer) (*Prom, error) {
	p := &Prom{
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thermo_link_reads_total",
			Help: "Serial reads that returned data.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thermo_link_bytes_total",
			Help: "Bytes read from the serial link.",
		}),
		readErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thermo_link_read_errors_total",
			Help: "Serial reads that failed, by kind.",
		}, []string{"kind"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thermo_link_reconnects_total",
			Help: "Times the serial port was reopened after I/O errors.",
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thermo_frames_total",
			Help: "Frames handed to the decoder.",
		}),
		decodeFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thermo_decode_faults_total",
			Help: "Frames rejected by the decoder.",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thermo_published_total",
			Help: "Readings published on the event bus.",
		}),
		publishFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thermo_publish_faults_total",
			Help: "Readings whose publish reported an error.",
		}),
		lastReading: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "thermo_last_reading_timestamp_seconds",
			Help: "Unix time of the last published reading.",
		}),
	}

	for _, c := range []prometheus.Collector{
		p.reads, p.bytes, p.readErrors, p.reconnects, p.frames,
		p.decodeFaults, p.published, p.publishFaults, p.lastReading,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	// Export both label values from the start.
	p.readErrors.WithLabelValues(ReadErrorTimeout)
	p.readErrors.WithLabelValues(ReadErrorIO)
	return p, nil
}

func (p *Prom) ChunkRead(n int) {
	p.reads.Inc()
	p.bytes.Add(float64(n))
}

func (p *Prom) ReadError(kind string) { p.readErrors.WithLabelValues(kind).Inc() }

func (p *Prom) Reconnected() { p.reconnects.Inc() }

func (p *Prom) FrameExtracted() { p.frames.Inc() }

func (p *Prom) DecodeFault() { p.decodeFaults.Inc() }

func (p *Prom) Published(at time.Time) {
	p.published.Inc()
	p.lastReading.Set(float64(at.UnixNano()) / 1e9)
}

func (p *Prom) PublishFault() { p.publishFaults.Inc() }

// Nop discards everything.
type Nop struct{}

func (Nop) ChunkRead(int)       {}
func (Nop) ReadError(string)    {}
func (Nop) Reconnected()        {}
func (Nop) FrameExtracted()     {}
func (Nop) DecodeFault()        {}
func (Nop) Published(time.Time) {}
func (Nop) PublishFault()       {}

var (
	_ Recorder = (*Prom)(nil)
	_ Recorder = Nop{}
)
