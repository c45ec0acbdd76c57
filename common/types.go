package common

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// EventDataPush is the bus event under which decoded readings are published.
const EventDataPush = "data_push"

// DefaultChannel is the channel name emitted by the single-sensor firmware.
const DefaultChannel = "Temperature 1"

// Kind says how a Value is stored.
type Kind uint8

const (
	// KindFloat is a finite float64.
	KindFloat Kind = iota
	// KindUint is an exact unsigned integer.
	KindUint
)

// Value is a single numeric telemetry quantity: a finite float or an unsigned integer.
type Value struct {
	kind Kind
	f    float64
	u    uint64
}

// Float returns a floating-point Value.
func Float(f float64) Value {
	return Value{kind: KindFloat, f: f}
}

// Uint returns an unsigned integer Value.
func Uint(u uint64) Value {
	return Value{kind: KindUint, u: u}
}

// Kind reports how the value is stored.
func (v Value) Kind() Kind { return v.kind }

// Float64 returns the value as float64 regardless of its kind.
func (v Value) Float64() float64 {
	if v.kind == KindUint {
		return float64(v.u)
	}
	return v.f
}

// Uint64 returns the unsigned value and whether the Value is an unsigned integer.
func (v Value) Uint64() (uint64, bool) {
	return v.u, v.kind == KindUint
}

// IsFinite reports whether the value can be put on the wire.
func (v Value) IsFinite() bool {
	if v.kind == KindUint {
		return true
	}
	return !math.IsNaN(v.f) && !math.IsInf(v.f, 0)
}

// AppendJSON appends the number literal of v to dst.
func (v Value) AppendJSON(dst []byte) []byte {
	if v.kind == KindUint {
		return strconv.AppendUint(dst, v.u, 10)
	}
	return strconv.AppendFloat(dst, v.f, 'g', -1, 64)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.IsFinite() {
		return nil, fmt.Errorf("non-finite value %v", v.f)
	}
	return v.AppendJSON(nil), nil
}

// Equal compares numerically; 482 and 482.0 are the same quantity.
func (v Value) Equal(o Value) bool {
	if v.kind == o.kind {
		return v == o
	}
	return v.Float64() == o.Float64()
}

func (v Value) String() string {
	return string(v.AppendJSON(nil))
}

// Channel is one named value of a Reading.
type Channel struct {
	Name  string
	Value Value
}

// Reading is a decoded set of named telemetry values. Channel order is
// insertion order; names are unique.
type Reading struct {
	channels []Channel
}

// NewReading builds a Reading from channels, later duplicates replacing earlier ones.
func NewReading(channels ...Channel) Reading {
	var r Reading
	for _, c := range channels {
		r.Set(c.Name, c.Value)
	}
	return r
}

// Set replaces the value of an existing channel or appends a new one.
func (r *Reading) Set(name string, v Value) {
	for i := range r.channels {
		if r.channels[i].Name == name {
			r.channels[i].Value = v
			return
		}
	}
	r.channels = append(r.channels, Channel{Name: name, Value: v})
}

// Get returns the value of the named channel.
func (r Reading) Get(name string) (Value, bool) {
	for _, c := range r.channels {
		if c.Name == name {
			return c.Value, true
		}
	}
	return Value{}, false
}

// Len returns the number of channels.
func (r Reading) Len() int { return len(r.channels) }

// Channels returns a copy of the channels in insertion order.
func (r Reading) Channels() []Channel {
	out := make([]Channel, len(r.channels))
	copy(out, r.channels)
	return out
}

// Names returns the channel names in insertion order.
func (r Reading) Names() []string {
	names := make([]string, len(r.channels))
	for i, c := range r.channels {
		names[i] = c.Name
	}
	return names
}

// Floats returns the generic map form of the reading.
func (r Reading) Floats() map[string]float64 {
	m := make(map[string]float64, len(r.channels))
	for _, c := range r.channels {
		m[c.Name] = c.Value.Float64()
	}
	return m
}

// Equal compares channel sets and values; order is not significant.
func (r Reading) Equal(o Reading) bool {
	if len(r.channels) != len(o.channels) {
		return false
	}
	for _, c := range r.channels {
		v, ok := o.Get(c.Name)
		if !ok || !v.Equal(c.Value) {
			return false
		}
	}
	return true
}

// Validate checks that the reading can be encoded as a frame.
func (r Reading) Validate() error {
	if len(r.channels) == 0 {
		return errors.New("reading has no channels")
	}
	seen := make(map[string]struct{}, len(r.channels))
	for _, c := range r.channels {
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("duplicate channel %q", c.Name)
		}
		seen[c.Name] = struct{}{}
		if !c.Value.IsFinite() {
			return fmt.Errorf("channel %q: non-finite value", c.Name)
		}
	}
	return nil
}

// AppendJSON appends the JSON object form of r to dst, in insertion order.
func (r Reading) AppendJSON(dst []byte) ([]byte, error) {
	dst = append(dst, '{')
	for i, c := range r.channels {
		if i > 0 {
			dst = append(dst, ',')
		}
		key, err := json.Marshal(c.Name)
		if err != nil {
			return nil, err
		}
		dst = append(dst, key...)
		dst = append(dst, ':')
		if !c.Value.IsFinite() {
			return nil, fmt.Errorf("channel %q: non-finite value", c.Name)
		}
		dst = c.Value.AppendJSON(dst)
	}
	return append(dst, '}'), nil
}

func (r Reading) MarshalJSON() ([]byte, error) {
	return r.AppendJSON(nil)
}

func (r Reading) String() string {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, c := range r.channels {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: %s", c.Name, c.Value)
	}
	b.WriteByte('}')
	return b.String()
}

// Event is a reading as delivered by the event bus.
type Event struct {
	Name     string    `json:"event"`
	Seq      uint64    `json:"seq"`
	Reading  Reading   `json:"payload"`
	Received time.Time `json:"received"`
}
