package dbus

import (
	"fmt"

	"github.com/tdryer/dbus-pure/fragments"
)

// msgType is the type of a DBus message.
type msgType uint8

const (
	msgTypeCall msgType = iota + 1
	msgTypeReturn
	msgTypeError
	msgTypeSignal
)

func (t msgType) String() string {
	switch t {
	case msgTypeCall:
		return "method_call"
	case msgTypeReturn:
		return "method_return"
	case msgTypeError:
		return "error"
	case msgTypeSignal:
		return "signal"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Well-known header field codes. Each header field travels on the
// wire as a struct of the field code and a variant holding the value.
const (
	fieldPath uint8 = iota + 1
	fieldInterface
	fieldMember
	fieldErrName
	fieldReplySerial
	fieldDestination
	fieldSender
	fieldSignature
	fieldUnixFDs
)

// header is the fixed portion and header fields of one DBus message.
type header struct {
	// Type is the message's type.
	Type msgType
	// Flags is the message's flag byte.
	Flags byte
	// Serial is the sender-chosen serial for this message. It must
	// be non-zero.
	Serial uint32

	// Path is the target object for a call, or the source object for
	// a signal. Required for msgTypeCall and msgTypeSignal.
	Path ObjectPath
	// Interface is the interface to target for a call, or the source
	// interface for a signal.
	Interface string
	// Member is the method name for a call, or signal name for a
	// signal. Required for msgTypeCall and msgTypeSignal.
	Member string
	// ErrName is the name of the error that occurred. Required for
	// msgTypeError.
	ErrName string
	// ReplySerial is the serial to which this message is replying.
	// Required for msgTypeReturn and msgTypeError.
	ReplySerial uint32
	// Destination is the bus name the message is addressed to.
	// Optional for signals, required for calls.
	Destination string
	// Sender is the unique name of the sending client. The bus
	// populates this itself.
	Sender string
	// Signature is the type signature of the message body. Required
	// if a body is present.
	Signature Signature
	// UnixFDs is the declared count of attached file descriptors.
	// Accepted on decode for tolerance; this client never sends file
	// descriptors and fails frames that carry them.
	UnixFDs uint32
}

// Valid checks that the header is well formed for its message type.
func (h *header) Valid() error {
	if h.Serial == 0 {
		return fmt.Errorf("invalid message with zero Serial")
	}
	switch h.Type {
	case msgTypeCall:
		if h.Path == "" {
			return fmt.Errorf("missing required header field Path")
		}
		if h.Member == "" {
			return fmt.Errorf("missing required header field Member")
		}
	case msgTypeReturn:
		if h.ReplySerial == 0 {
			return fmt.Errorf("missing required header field ReplySerial")
		}
	case msgTypeError:
		if h.ReplySerial == 0 {
			return fmt.Errorf("missing required header field ReplySerial")
		}
		if h.ErrName == "" {
			return fmt.Errorf("missing required header field ErrName")
		}
	case msgTypeSignal:
		if h.Path == "" || h.Interface == "" || h.Member == "" {
			return fmt.Errorf("signal missing required header fields")
		}
	case 0:
		return fmt.Errorf("invalid message with Type 0")
	default:
		// Unknown message types are suspect, but the spec requires
		// us to gracefully allow them.
	}
	return nil
}

// fields returns the header's non-empty fields as the (yv) structs
// that the header fields array carries on the wire.
func (h *header) fields() []Value {
	var fs []Value
	add := func(code uint8, v Value) {
		fs = append(fs, Struct{Fields: []Value{Byte(code), Variant{Value: v}}})
	}
	if h.Path != "" {
		add(fieldPath, h.Path)
	}
	if h.Interface != "" {
		add(fieldInterface, String(h.Interface))
	}
	if h.Member != "" {
		add(fieldMember, String(h.Member))
	}
	if h.ErrName != "" {
		add(fieldErrName, String(h.ErrName))
	}
	if h.ReplySerial != 0 {
		add(fieldReplySerial, Uint32(h.ReplySerial))
	}
	if h.Destination != "" {
		add(fieldDestination, String(h.Destination))
	}
	if h.Sender != "" {
		add(fieldSender, String(h.Sender))
	}
	if h.Signature != "" {
		add(fieldSignature, h.Signature)
	}
	return fs
}

// setField stores one decoded header field, checking that the value
// has the type the field code requires. Unknown codes are skipped.
func (h *header) setField(code uint8, v Value) error {
	bad := func() error {
		return fmt.Errorf("header field %d has wrong type %q", code, v.Signature())
	}
	switch code {
	case fieldPath:
		p, ok := v.(ObjectPath)
		if !ok {
			return bad()
		}
		h.Path = p
	case fieldInterface:
		s, ok := v.(String)
		if !ok {
			return bad()
		}
		h.Interface = string(s)
	case fieldMember:
		s, ok := v.(String)
		if !ok {
			return bad()
		}
		h.Member = string(s)
	case fieldErrName:
		s, ok := v.(String)
		if !ok {
			return bad()
		}
		h.ErrName = string(s)
	case fieldReplySerial:
		u, ok := v.(Uint32)
		if !ok {
			return bad()
		}
		h.ReplySerial = uint32(u)
	case fieldDestination:
		s, ok := v.(String)
		if !ok {
			return bad()
		}
		h.Destination = string(s)
	case fieldSender:
		s, ok := v.(String)
		if !ok {
			return bad()
		}
		h.Sender = string(s)
	case fieldSignature:
		s, ok := v.(Signature)
		if !ok {
			return bad()
		}
		h.Signature = s
	case fieldUnixFDs:
		u, ok := v.(Uint32)
		if !ok {
			return bad()
		}
		h.UnixFDs = uint32(u)
	}
	return nil
}

// marshalFields encodes the header fields array.
func (h *header) marshalFields(e *fragments.Encoder) error {
	return Marshal(e, Array{Elem: "(yv)", Values: h.fields()})
}

// unmarshalFields decodes the header fields array into h.
func (h *header) unmarshalFields(d *fragments.Decoder) error {
	_, err := d.Array(true, func(int) error {
		return d.Struct(func() error {
			code, err := d.Uint8()
			if err != nil {
				return err
			}
			val, err := Unmarshal(d, "v")
			if err != nil {
				return err
			}
			return h.setField(code, val.(Variant).Value)
		})
	})
	return err
}
