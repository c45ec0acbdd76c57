package producer

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/zanz1n/stunning-waffle/common"
)

// ErrOpenThermocouple is reported when the converter sees no probe.
var ErrOpenThermocouple = errors.New("thermocouple input open")

// Sensor produces one sample per call.
type Sensor interface {
	ReadSample() (common.Value, error)
}

// SensorFunc adapts a function to Sensor.
type SensorFunc func() (common.Value, error)

func (f SensorFunc) ReadSample() (common.Value, error) { return f() }

// Unit selects the temperature scale reported by a thermocouple.
type Unit string

const (
	Celsius    Unit = "celsius"
	Kelvin     Unit = "kelvin"
	Fahrenheit Unit = "fahrenheit"
)

// Convert converts a Celsius temperature to u.
func (u Unit) Convert(c float64) (float64, error) {
	switch u {
	case Celsius, "":
		return c, nil
	case Kelvin:
		return c + 273.15, nil
	case Fahrenheit:
		return c*9/5 + 32, nil
	default:
		return 0, fmt.Errorf("unknown unit %q", u)
	}
}

// Pins is the bit-banged serial interface of a MAX6675.
type Pins interface {
	SetSCLK(high bool)
	SetCS(high bool)
	MISO() bool
}

// MAX6675BitDelay is the half clock period used when bit-banging.
const MAX6675BitDelay = 10 * time.Microsecond

// MAX6675 reads a K-type thermocouple converter.
type MAX6675 struct {
	pins Pins
	link *Link
	unit Unit
}

// NewMAX6675 idles the bus (CS high, SCLK low) and returns the driver.
func NewMAX6675(pins Pins, link *Link, unit Unit) (*MAX6675, error) {
	if _, err := unit.Convert(0); err != nil {
		return nil, err
	}
	pins.SetCS(true)
	pins.SetSCLK(false)
	return &MAX6675{pins: pins, link: link, unit: unit}, nil
}

// ReadRaw clocks out the 16-bit conversion word, MSB first.
func (m *MAX6675) ReadRaw() uint16 {
	m.pins.SetCS(false)
	m.link.Delay(MAX6675BitDelay)

	var word uint16
	for i := 0; i < 16; i++ {
		m.pins.SetSCLK(false)
		m.link.Delay(MAX6675BitDelay)
		word <<= 1
		if m.pins.MISO() {
			word |= 1
		}
		m.pins.SetSCLK(true)
		m.link.Delay(MAX6675BitDelay)
	}

	m.pins.SetCS(true)
	m.pins.SetSCLK(false)
	return word
}

// ReadSample returns the temperature in the configured unit. Bits 14..3
// hold the reading in 0.25 °C steps; bit 2 flags an open input.
func (m *MAX6675) ReadSample() (common.Value, error) {
	word := m.ReadRaw()
	if word&0x4 != 0 {
		return common.Value{}, ErrOpenThermocouple
	}
	c := float64(word>>3) * 0.25
	v, err := m.unit.Convert(c)
	if err != nil {
		return common.Value{}, err
	}
	return common.Float(v), nil
}

// SimulatedSensor is a bounded random walk in quarter-degree steps.
type SimulatedSensor struct {
	mu   sync.Mutex
	rng  *rand.Rand
	min  float64
	max  float64
	step float64
	cur  float64
}

// NewSimulatedSensor starts the walk at the middle of [lo, hi].
func NewSimulatedSensor(lo, hi, step float64, seed uint64) (*SimulatedSensor, error) {
	if hi <= lo {
		return nil, fmt.Errorf("invalid range [%v, %v]", lo, hi)
	}
	if step <= 0 {
		return nil, fmt.Errorf("step must be positive, got %v", step)
	}
	return &SimulatedSensor{
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		min:  lo,
		max:  hi,
		step: step,
		cur:  quantize((lo + hi) / 2),
	}, nil
}

func (s *SimulatedSensor) ReadSample() (common.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur + (s.rng.Float64()*2-1)*s.step
	s.cur = quantize(min(max(next, s.min), s.max))
	return common.Float(s.cur), nil
}

func quantize(v float64) float64 { return math.Round(v*4) / 4 }
