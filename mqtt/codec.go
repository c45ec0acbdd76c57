package mqtt

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Payload encodings.
const (
	EncodingJSON = "json"
	EncodingCBOR = "cbor"
)

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error

	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	opts.TextMarshaler = cbor.TextMarshalerTextString
	cborEnc, err = opts.EncMode()
	if err != nil {
		panic("mqtt: CBOR encoder initialization failed: " + err.Error())
	}

	cborDec, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("mqtt: CBOR decoder initialization failed: " + err.Error())
	}
}

// Codec serializes telemetry messages for the broker.
type Codec struct {
	name      string
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte, any) error
}

// NewCodec returns the codec for encoding ("" means JSON).
func NewCodec(encoding string) (Codec, error) {
	switch encoding {
	case EncodingJSON, "":
		return Codec{name: EncodingJSON, marshal: json.Marshal, unmarshal: json.Unmarshal}, nil
	case EncodingCBOR:
		return Codec{name: EncodingCBOR, marshal: cborEnc.Marshal, unmarshal: cborDec.Unmarshal}, nil
	default:
		return Codec{}, fmt.Errorf("unknown payload encoding %q", encoding)
	}
}

func (c Codec) Name() string { return c.name }

func (c Codec) Marshal(v any) ([]byte, error) { return c.marshal(v) }

func (c Codec) Unmarshal(data []byte, v any) error { return c.unmarshal(data, v) }
