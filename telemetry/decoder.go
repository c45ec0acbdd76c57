package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/zanz1n/stunning-waffle/common"
)

var logger = log.New(os.Stdout, "[Telemetry] ", log.LstdFlags|log.Lshortfile)

// Decoder turns extracted frame payloads into readings.
type Decoder struct {
	schema  Schema
	verbose bool
}

// NewDecoder returns a Decoder validating against schema.
func NewDecoder(schema Schema) *Decoder {
	return &Decoder{schema: schema}
}

// SetVerbose enables a log line per decoded reading.
func (d *Decoder) SetVerbose(v bool) { d.verbose = v }

// Schema returns the schema the decoder validates against.
func (d *Decoder) Schema() Schema { return d.schema }

// Decode parses data as one JSON object of channel name to number. Any
// fault rejects the whole frame; the returned error is a *DecodeError.
func (d *Decoder) Decode(data []byte) (common.Reading, error) {
	var r common.Reading

	if len(bytes.TrimSpace(data)) == 0 {
		return r, fault(data, ErrEmptyFrame, "")
	}
	if !utf8.Valid(data) {
		return r, fault(data, ErrInvalidUTF8, "")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return r, fault(data, ErrSyntax, "%v", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return r, fault(data, ErrSyntax, "expected object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return common.Reading{}, fault(data, ErrSyntax, "%v", err)
		}
		name, ok := tok.(string)
		if !ok {
			return common.Reading{}, fault(data, ErrSyntax, "expected channel name, got %v", tok)
		}

		tok, err = dec.Token()
		if err != nil {
			return common.Reading{}, fault(data, ErrSyntax, "channel %q: %v", name, err)
		}
		num, ok := tok.(json.Number)
		if !ok {
			return common.Reading{}, fault(data, ErrType, "channel %q: got %T", name, tok)
		}
		value, err := parseNumber(num)
		if err != nil {
			return common.Reading{}, fault(data, ErrType, "channel %q: %v", name, err)
		}

		if _, dup := r.Get(name); dup {
			return common.Reading{}, fault(data, ErrDuplicateChannel, "%q", name)
		}
		r.Set(name, value)
	}

	if _, err := dec.Token(); err != nil {
		return common.Reading{}, fault(data, ErrSyntax, "%v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return common.Reading{}, fault(data, ErrTrailingData, "")
	}

	if r.Len() == 0 {
		return common.Reading{}, fault(data, ErrSchema, "no channels")
	}
	if err := d.schema.Check(r); err != nil {
		return common.Reading{}, fault(data, ErrSchema, "%v", err)
	}

	if d.verbose {
		logger.Printf("Decoded reading: %s", r)
	}
	return r, nil
}

// parseNumber keeps unsigned integer literals exact and parses the rest as float64.
func parseNumber(num json.Number) (common.Value, error) {
	s := num.String()
	if !strings.ContainsAny(s, ".eE-") {
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return common.Uint(u), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return common.Value{}, err
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return common.Value{}, errors.New("value out of range")
	}
	return common.Float(f), nil
}
