package packet

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborCodec serializes packets as a CBOR array [type, key, data].
type cborCodec struct{}

// CBOR is a binary codec option (IsText is false).
var CBOR Codec = cborCodec{}

func (cborCodec) Name() string { return "cbor" }
func (cborCodec) IsText() bool { return false }

func (cborCodec) Encode(p Packet) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var key any
	if p.Key != "" {
		key = p.Key
	}
	var data any
	if p.Data != nil {
		data = p.Data
	}

	out, err := cbor.Marshal([]any{p.Type, key, data})
	if err != nil {
		return nil, &Error{Op: "encode", Err: err}
	}
	return out, nil
}

func (cborCodec) Decode(b []byte) (Packet, error) {
	var tuple []any
	if err := cbor.Unmarshal(b, &tuple); err != nil {
		return Packet{}, &Error{Op: "decode", Err: err}
	}
	if len(tuple) != 3 {
		return Packet{}, &Error{Op: "decode", Err: fmt.Errorf("expected 3-tuple, got %d elements", len(tuple))}
	}

	typ, ok := asUint8(tuple[0])
	if !ok {
		return Packet{}, &Error{Op: "decode", Err: fmt.Errorf("packet type has unexpected wire kind %T", tuple[0])}
	}

	p := Packet{Type: Type(typ)}
	if s, ok := tuple[1].(string); ok {
		p.Key = s
	}
	if d, ok := tuple[2].([]byte); ok {
		p.Data = d
	}

	if err := p.Validate(); err != nil {
		return Packet{}, err
	}
	return p, nil
}

func (cborCodec) EncodeData(v any) ([]byte, error) {
	b, err := cbor.Marshal(v)
	if err != nil {
		return nil, &Error{Op: "encode_data", Err: err}
	}
	return b, nil
}

func (cborCodec) DecodeData(b []byte, out any) error {
	if err := cbor.Unmarshal(b, out); err != nil {
		return &Error{Op: "decode_data", Err: err}
	}
	return nil
}
