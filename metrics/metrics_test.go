package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewProm(reg)
	if err != nil {
		t.Fatalf("NewProm: %v", err)
	}

	p.ChunkRead(23)
	p.ChunkRead(10)
	if got := testutil.ToFloat64(p.reads); got != 2 {
		t.Fatalf("expected 2 reads, got %f", got)
	}
	if got := testutil.ToFloat64(p.bytes); got != 33 {
		t.Fatalf("expected 33 bytes, got %f", got)
	}

	p.ReadError(ReadErrorTimeout)
	p.ReadError(ReadErrorTimeout)
	p.ReadError(ReadErrorIO)
	if got := testutil.ToFloat64(p.readErrors.WithLabelValues(ReadErrorTimeout)); got != 2 {
		t.Fatalf("expected 2 timeouts, got %f", got)
	}

	p.FrameExtracted()
	p.DecodeFault()
	p.PublishFault()
	p.Reconnected()
	at := time.Unix(1700000000, 0)
	p.Published(at)

	if got := testutil.ToFloat64(p.lastReading); got != 1700000000 {
		t.Fatalf("expected last reading timestamp 1700000000, got %f", got)
	}

	expected := `
# HELP thermo_decode_faults_total Frames rejected by the decoder.
# TYPE thermo_decode_faults_total counter
thermo_decode_faults_total 1
# HELP thermo_published_total Readings published on the event bus.
# TYPE thermo_published_total counter
thermo_published_total 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "thermo_decode_faults_total", "thermo_published_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestNewPromDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewProm(reg); err != nil {
		t.Fatalf("first NewProm: %v", err)
	}
	if _, err := NewProm(reg); err == nil {
		t.Fatal("expected error registering collectors twice")
	}
}
