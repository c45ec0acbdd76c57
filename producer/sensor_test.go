package producer

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zanz1n/stunning-waffle/common"
)

func fixed(c float64) Sensor {
	return SensorFunc(func() (common.Value, error) { return common.Float(c), nil })
}

func quietLink() *Link {
	l := NewLink(&bytes.Buffer{}, 0)
	l.sleep = func(time.Duration) {}
	return l
}

func TestMAX6675ReadsChipWord(t *testing.T) {
	tests := []struct {
		name    string
		celsius float64
		want    uint16
	}{
		{"zero", 0, 0},
		{"room", 23.5, 94 << 3},
		{"firmware sample", 482.25, 1929 << 3},
		{"full scale", 1023.75, 4095 << 3},
		{"clamped", 2000, 4095 << 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMAX6675(NewMAX6675Chip(fixed(tt.celsius)), quietLink(), Celsius)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.ReadRaw())
		})
	}
}

func TestMAX6675ReadSample(t *testing.T) {
	tests := []struct {
		unit Unit
		want float64
	}{
		{Celsius, 100.25},
		{Kelvin, 373.4},
		{Fahrenheit, 212.45},
	}

	for _, tt := range tests {
		t.Run(string(tt.unit), func(t *testing.T) {
			m, err := NewMAX6675(NewMAX6675Chip(fixed(100.25)), quietLink(), tt.unit)
			require.NoError(t, err)

			v, err := m.ReadSample()
			require.NoError(t, err)
			assert.InDelta(t, tt.want, v.Float64(), 1e-9)
		})
	}
}

func TestMAX6675OpenThermocouple(t *testing.T) {
	probe := SensorFunc(func() (common.Value, error) { return common.Value{}, errors.New("no probe") })
	m, err := NewMAX6675(NewMAX6675Chip(probe), quietLink(), Celsius)
	require.NoError(t, err)

	_, err = m.ReadSample()
	assert.ErrorIs(t, err, ErrOpenThermocouple)
}

func TestMAX6675UnknownUnit(t *testing.T) {
	_, err := NewMAX6675(NewMAX6675Chip(fixed(1)), quietLink(), "rankine")
	assert.Error(t, err)
}

func TestMAX6675BitTiming(t *testing.T) {
	l := NewLink(&bytes.Buffer{}, 0)
	var delays int
	l.sleep = func(d time.Duration) {
		assert.Equal(t, MAX6675BitDelay, d)
		delays++
	}
	m, err := NewMAX6675(NewMAX6675Chip(fixed(25)), l, Celsius)
	require.NoError(t, err)

	m.ReadRaw()
	// CS setup plus two half periods per bit.
	assert.Equal(t, 1+16*2, delays)
}

func TestSimulatedSensorStaysInRange(t *testing.T) {
	s, err := NewSimulatedSensor(20, 30, 1.5, 42)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		v, err := s.ReadSample()
		require.NoError(t, err)
		f := v.Float64()
		assert.GreaterOrEqual(t, f, 20.0)
		assert.LessOrEqual(t, f, 30.0)
		assert.Equal(t, f, quantize(f))
	}
}

func TestNewSimulatedSensorValidation(t *testing.T) {
	_, err := NewSimulatedSensor(30, 20, 1, 1)
	assert.Error(t, err)
	_, err = NewSimulatedSensor(20, 30, 0, 1)
	assert.Error(t, err)
}
