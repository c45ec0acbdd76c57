package producer

import (
	"math"
	"sync"
)

// MAX6675Chip emulates the converter side of the MAX6675 serial interface.
// A conversion is latched from Source on the falling edge of CS and shifted
// out MSB first, one bit per rising SCLK edge.
type MAX6675Chip struct {
	mu     sync.Mutex
	source Sensor
	word   uint16
	bit    int
	cs     bool
	sclk   bool
}

// NewMAX6675Chip returns an idle chip reading Celsius values from source.
func NewMAX6675Chip(source Sensor) *MAX6675Chip {
	return &MAX6675Chip{source: source, cs: true, bit: -1}
}

func (c *MAX6675Chip) SetCS(high bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cs && !high {
		c.word = c.convert()
		c.bit = 15
	}
	if high {
		c.bit = -1
	}
	c.cs = high
}

func (c *MAX6675Chip) SetSCLK(high bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.sclk && high && !c.cs && c.bit >= 0 {
		c.bit--
	}
	c.sclk = high
}

func (c *MAX6675Chip) MISO() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cs || c.bit < 0 {
		return false
	}
	return c.word>>uint(c.bit)&1 == 1
}

// convert builds the 16-bit word: D14..D3 temperature in 0.25 °C steps,
// D2 set when the source has no probe.
func (c *MAX6675Chip) convert() uint16 {
	v, err := c.source.ReadSample()
	if err != nil {
		return 0x4
	}
	steps := math.Round(v.Float64() / 0.25)
	steps = min(max(steps, 0), 4095)
	return uint16(steps) << 3
}
