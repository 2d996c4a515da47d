package packet

import (
	"bytes"
	"testing"
)

type greeting struct {
	Name string `json:"name" msgpack:"name" cbor:"name"`
	N    int    `json:"n" msgpack:"n" cbor:"n"`
}

func allCodecs() []Codec {
	return []Codec{JSON, Msgpack, CBOR}
}

func TestCodecRoundTripPackets(t *testing.T) {
	cases := []Packet{
		Event("hello", []byte(`{"n":1}`)),
		Init([]byte(`{"ok":true}`)),
		Init(nil),
		Ready(),
		Disconnect(),
	}

	for _, codec := range allCodecs() {
		for _, p := range cases {
			encoded, err := codec.Encode(p)
			if err != nil {
				t.Fatalf("%s: encode %v: %v", codec.Name(), p, err)
			}
			decoded, err := codec.Decode(encoded)
			if err != nil {
				t.Fatalf("%s: decode %v: %v", codec.Name(), p, err)
			}
			if decoded.Type != p.Type || decoded.Key != p.Key || !bytes.Equal(decoded.Data, p.Data) {
				t.Errorf("%s: round-trip mismatch: got %+v, want %+v", codec.Name(), decoded, p)
			}
		}
	}
}

func TestCodecRoundTripData(t *testing.T) {
	in := greeting{Name: "ada", N: 42}

	for _, codec := range allCodecs() {
		b, err := codec.EncodeData(in)
		if err != nil {
			t.Fatalf("%s: encode data: %v", codec.Name(), err)
		}
		var out greeting
		if err := codec.DecodeData(b, &out); err != nil {
			t.Fatalf("%s: decode data: %v", codec.Name(), err)
		}
		if out != in {
			t.Errorf("%s: round-trip mismatch: got %+v, want %+v", codec.Name(), out, in)
		}
	}
}

func TestEventRequiresKey(t *testing.T) {
	p := Packet{Type: TypeEvent}
	if err := p.Validate(); err == nil {
		t.Fatal("expected validation error for event without key")
	}
}

func TestReadyAndDisconnectRejectFields(t *testing.T) {
	for _, p := range []Packet{
		{Type: TypeReady, Key: "x"},
		{Type: TypeDisconnect, Data: []byte("x")},
	} {
		if err := p.Validate(); err == nil {
			t.Errorf("expected validation error for %+v", p)
		}
	}
}

func TestIsTextMatchesCodec(t *testing.T) {
	if !JSON.IsText() {
		t.Error("JSON codec must be text")
	}
	if Msgpack.IsText() {
		t.Error("msgpack codec must be binary")
	}
	if CBOR.IsText() {
		t.Error("cbor codec must be binary")
	}
}

func TestDecodeMalformedIsCodecError(t *testing.T) {
	for _, codec := range allCodecs() {
		if _, err := codec.Decode([]byte{0xff, 0xff, 0xff}); err == nil {
			t.Errorf("%s: expected error decoding malformed input", codec.Name())
		}
	}
}
