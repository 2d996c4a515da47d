package packet

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// msgpackCodec serializes packets as a MessagePack array [type, key, data].
type msgpackCodec struct{}

// Msgpack is a binary codec option (spec §4.1 "most binary formats" case:
// IsText is false).
var Msgpack Codec = msgpackCodec{}

func (msgpackCodec) Name() string { return "msgpack" }
func (msgpackCodec) IsText() bool { return false }

func (msgpackCodec) Encode(p Packet) ([]byte, error) {
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

	out, err := msgpack.Marshal([]any{p.Type, key, data})
	if err != nil {
		return nil, &Error{Op: "encode", Err: err}
	}
	return out, nil
}

func (msgpackCodec) Decode(b []byte) (Packet, error) {
	var tuple []any
	if err := msgpack.Unmarshal(b, &tuple); err != nil {
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

func (msgpackCodec) EncodeData(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, &Error{Op: "encode_data", Err: err}
	}
	return b, nil
}

func (msgpackCodec) DecodeData(b []byte, out any) error {
	if err := msgpack.Unmarshal(b, out); err != nil {
		return &Error{Op: "decode_data", Err: err}
	}
	return nil
}
