package wire

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/veea/vbus/errors"
)

// Codec encodes bus payloads. Every client on a bus must use the same codec.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec is the default codec.
type JSONCodec struct{}

// Name returns "json".
func (JSONCodec) Name() string { return "json" }

// Marshal encodes v as JSON.
func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes JSON into v.
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// CBORCodec encodes payloads as deterministic CBOR.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec creates a CBOR codec. Maps decode to map[string]any so decoded
// values look the same as with the JSON codec.
func NewCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}.EncMode()
	if err != nil {
		return nil, errors.WrapFatal(err, "CBORCodec", "NewCBORCodec", "create encoder mode")
	}

	dec, err := cbor.DecOptions{
		DupMapKey:      cbor.DupMapKeyQuiet,
		IndefLength:    cbor.IndefLengthAllowed,
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, errors.WrapFatal(err, "CBORCodec", "NewCBORCodec", "create decoder mode")
	}

	return &CBORCodec{enc: enc, dec: dec}, nil
}

// Name returns "cbor".
func (c *CBORCodec) Name() string { return "cbor" }

// Marshal encodes v as CBOR.
func (c *CBORCodec) Marshal(v any) ([]byte, error) { return c.enc.Marshal(v) }

// Unmarshal decodes CBOR into v.
func (c *CBORCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

// CodecByName returns the codec registered under name ("json" or "cbor").
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return NewCBORCodec()
	default:
		return nil, fmt.Errorf("%w: unknown codec %q", errors.ErrInvalidConfig, name)
	}
}

// EncodePacket validates and encodes a packet.
func EncodePacket(c Codec, p *Packet) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "wire", "EncodePacket", "validate packet")
	}
	data, err := c.Marshal(p)
	if err != nil {
		return nil, errors.WrapInvalid(err, "wire", "EncodePacket", "marshal packet")
	}
	return data, nil
}

// DecodePacket decodes and validates a packet.
func DecodePacket(c Codec, data []byte) (*Packet, error) {
	var p Packet
	if err := c.Unmarshal(data, &p); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidValue, err),
			"wire", "DecodePacket", "unmarshal packet")
	}
	if err := p.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "wire", "DecodePacket", "validate packet")
	}
	return &p, nil
}
