// Package packet implements the wire-level packet protocol: a tagged
// {type, key?, data?} record serialized positionally as a 3-tuple, plus the
// Codec abstraction that (de)serializes it and its payloads.
package packet

import "fmt"

// Type is the packet's wire tag. Values are stable on the wire.
type Type uint8

const (
	TypeDisconnect Type = 0
	TypeEvent      Type = 1
	TypeInit       Type = 2
	TypeReady      Type = 3
)

func (t Type) String() string {
	switch t {
	case TypeDisconnect:
		return "disconnect"
	case TypeEvent:
		return "event"
	case TypeInit:
		return "init"
	case TypeReady:
		return "ready"
	default:
		return fmt.Sprintf("packet.Type(%d)", uint8(t))
	}
}

// Packet is the application-level unit carried inside WebSocket frames.
// Key is only meaningful for Event (the event name); Data carries the
// opaque, already-encoded payload for Event and Init and is nil otherwise.
type Packet struct {
	Type Type
	Key  string
	Data []byte
}

// Event builds an Event packet for the given event name and encoded payload.
func Event(key string, data []byte) Packet {
	return Packet{Type: TypeEvent, Key: key, Data: data}
}

// Init builds an Init packet, optionally carrying an encoded payload.
func Init(data []byte) Packet {
	return Packet{Type: TypeInit, Data: data}
}

// Ready builds a bare Ready packet.
func Ready() Packet { return Packet{Type: TypeReady} }

// Disconnect builds a bare Disconnect packet.
func Disconnect() Packet { return Packet{Type: TypeDisconnect} }

// Validate enforces the invariants in spec §3: Event packets must carry a
// key; Ready and Disconnect packets must carry neither a key nor data.
func (p Packet) Validate() error {
	switch p.Type {
	case TypeEvent:
		if p.Key == "" {
			return &Error{Op: "validate", Err: fmt.Errorf("event packet missing key")}
		}
	case TypeReady, TypeDisconnect:
		if p.Key != "" || p.Data != nil {
			return &Error{Op: "validate", Err: fmt.Errorf("%s packet must not carry key or data", p.Type)}
		}
	case TypeInit:
		// key absent, data optional — nothing to check
	default:
		return &Error{Op: "validate", Err: fmt.Errorf("unknown packet type %d", uint8(p.Type))}
	}
	return nil
}

// Codec selects a concrete wire serializer for packets and user payloads.
// IsText governs whether the resulting bytes are sent as a WebSocket Text
// frame (true) or Binary frame (false); it must only be true for codecs
// whose output is valid UTF-8 for every possible payload.
type Codec interface {
	Name() string
	IsText() bool

	// Encode serializes a Packet as the positional 3-tuple [type, key, data].
	Encode(p Packet) ([]byte, error)
	// Decode parses the positional 3-tuple back into a Packet.
	Decode(b []byte) (Packet, error)

	// EncodeData serializes a user payload value.
	EncodeData(v any) ([]byte, error)
	// DecodeData deserializes into the value pointed to by out.
	DecodeData(b []byte, out any) error
}

// Error wraps a codec/packet failure. Op names the operation that failed
// (e.g. "encode", "decode", "validate").
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "packet: " + e.Op
	}
	return fmt.Sprintf("packet: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
