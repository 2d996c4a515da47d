package packet

import "encoding/json"

// jsonCodec serializes packets as JSON arrays [type, key, data]. Since
// EncodeData already produces valid JSON, the data element is embedded
// directly as json.RawMessage rather than re-escaped — the whole envelope
// stays valid UTF-8, which is why IsText is true.
type jsonCodec struct{}

// JSON is the default codec (spec §6 packet_codec default).
var JSON Codec = jsonCodec{}

func (jsonCodec) Name() string  { return "json" }
func (jsonCodec) IsText() bool  { return true }

func (jsonCodec) Encode(p Packet) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var key *string
	if p.Key != "" {
		key = &p.Key
	}

	data := json.RawMessage("null")
	if p.Data != nil {
		data = json.RawMessage(p.Data)
	}

	out, err := json.Marshal([3]any{p.Type, key, data})
	if err != nil {
		return nil, &Error{Op: "encode", Err: err}
	}
	return out, nil
}

func (jsonCodec) Decode(b []byte) (Packet, error) {
	var tuple [3]json.RawMessage
	if err := json.Unmarshal(b, &tuple); err != nil {
		return Packet{}, &Error{Op: "decode", Err: err}
	}

	var typ Type
	if err := json.Unmarshal(tuple[0], &typ); err != nil {
		return Packet{}, &Error{Op: "decode", Err: err}
	}

	var key *string
	if err := json.Unmarshal(tuple[1], &key); err != nil {
		return Packet{}, &Error{Op: "decode", Err: err}
	}

	var data []byte
	if string(tuple[2]) != "null" && len(tuple[2]) > 0 {
		data = append([]byte(nil), tuple[2]...)
	}

	p := Packet{Type: typ, Data: data}
	if key != nil {
		p.Key = *key
	}
	if err := p.Validate(); err != nil {
		return Packet{}, err
	}
	return p, nil
}

func (jsonCodec) EncodeData(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &Error{Op: "encode_data", Err: err}
	}
	return b, nil
}

func (jsonCodec) DecodeData(b []byte, out any) error {
	if err := json.Unmarshal(b, out); err != nil {
		return &Error{Op: "decode_data", Err: err}
	}
	return nil
}
