package dbus

import (
	"strings"

	"github.com/tdryer/dbus-pure/fragments"
)

const (
	protocolVersion = 1

	// fixedHeaderLen covers the prologue through the header fields
	// array's byte-length prefix: enough to learn a frame's total
	// size.
	fixedHeaderLen = 16

	// maxMessageLen is the largest frame the DBus specification
	// permits (2^27 bytes).
	maxMessageLen = 1 << 27
)

// message is one protocol frame: a header plus a decoded body. Body
// is nil when the frame carries none. Messages are transient, built
// for one send or decoded from one receive.
type message struct {
	header
	Body Value
}

// bodySignature returns the wire signature for a call body. A Struct
// body is flattened: its fields travel as separate arguments.
func bodySignature(v Value) Signature {
	if s, ok := v.(Struct); ok {
		var sb strings.Builder
		for _, f := range s.Fields {
			sb.WriteString(string(f.Signature()))
		}
		return Signature(sb.String())
	}
	return v.Signature()
}

func marshalBody(e *fragments.Encoder, v Value) error {
	if s, ok := v.(Struct); ok {
		for _, f := range s.Fields {
			if err := Marshal(e, f); err != nil {
				return err
			}
		}
		return nil
	}
	return Marshal(e, v)
}

// marshalMessage appends one complete frame to e: the fixed prologue
// with a body-length placeholder, the header fields array, padding to
// the 8-aligned body boundary, then the body. The placeholder is
// patched once the body's encoded size is known.
func marshalMessage(e *fragments.Encoder, m *message) error {
	e.ByteOrderFlag()
	e.Uint8(uint8(m.Type))
	e.Uint8(m.Flags)
	e.Uint8(protocolVersion)
	lengthOffset := len(e.Out)
	e.Uint32(0)
	e.Uint32(m.Serial)
	if err := m.marshalFields(e); err != nil {
		return err
	}
	e.Pad(8)
	bodyStart := len(e.Out)
	if m.Body != nil {
		if err := marshalBody(e, m.Body); err != nil {
			return err
		}
	}
	e.PatchUint32(lengthOffset, uint32(len(e.Out)-bodyStart))
	return nil
}

// A frameSource hands over buffered bytes from the peer.
// [transport.Conn] implements it.
type frameSource interface {
	// Fill reads more bytes from the peer into the buffer.
	Fill() error
	// Buffered returns the bytes accumulated so far.
	Buffered() []byte
	// Consume discards n bytes from the front of the buffer.
	Consume(n int)
}

// readMessage reads one complete frame from src, filling until the
// frame's declared length is buffered, and decodes it. Framing
// errors are fatal: once the stream's alignment is lost it cannot be
// recovered, so any [MalformedError] returned here terminates the
// connection.
func readMessage(src frameSource) (*message, error) {
	for len(src.Buffered()) < fixedHeaderLen {
		if err := src.Fill(); err != nil {
			return nil, err
		}
	}

	pro := src.Buffered()[:fixedHeaderLen]
	order, err := fragments.OrderForFlag(pro[0])
	if err != nil {
		return nil, malformedf(err, "byte order marker")
	}
	bodyLen := int(order.Uint32(pro[4:8]))
	fieldsLen := int(order.Uint32(pro[12:16]))
	headerLen := align8(fixedHeaderLen + fieldsLen)
	total := headerLen + bodyLen
	if total > maxMessageLen {
		return nil, malformedf(nil, "frame of %d bytes exceeds maximum message size", total)
	}

	for len(src.Buffered()) < total {
		if err := src.Fill(); err != nil {
			return nil, err
		}
	}

	m, err := unmarshalMessage(order, src.Buffered()[:total], headerLen)
	if err != nil {
		return nil, err
	}
	src.Consume(total)
	return m, nil
}

func unmarshalMessage(order fragments.ByteOrder, frame []byte, headerLen int) (*message, error) {
	d := fragments.NewDecoder(order, frame)
	var m message

	// Prologue. The byte order marker was already honored above.
	if _, err := d.Read(1); err != nil {
		return nil, malformedf(err, "prologue")
	}
	typ, _ := d.Uint8()
	m.Type = msgType(typ)
	m.Flags, _ = d.Uint8()
	version, err := d.Uint8()
	if err != nil {
		return nil, malformedf(err, "prologue")
	}
	if version != protocolVersion {
		return nil, malformedf(nil, "unsupported protocol version %d", version)
	}
	if _, err := d.Uint32(); err != nil { // body length, already parsed
		return nil, malformedf(err, "prologue")
	}
	if m.Serial, err = d.Uint32(); err != nil {
		return nil, malformedf(err, "prologue")
	}

	if err := m.unmarshalFields(d); err != nil {
		return nil, malformedf(err, "header fields")
	}
	if err := d.Pad(8); err != nil {
		return nil, malformedf(err, "body padding")
	}
	if d.Pos() != headerLen {
		return nil, malformedf(nil, "header fields occupy %d bytes, declared %d", d.Pos(), headerLen)
	}
	if err := m.Valid(); err != nil {
		return nil, malformedf(err, "header")
	}
	if m.UnixFDs > 0 {
		return nil, malformedf(nil, "frame carries %d file descriptors, which this client does not support", m.UnixFDs)
	}

	bodyLen := len(frame) - headerLen
	if bodyLen > 0 && m.Signature == "" {
		return nil, malformedf(nil, "%d byte body without a signature header field", bodyLen)
	}
	if m.Signature != "" {
		types, err := m.Signature.Split()
		if err != nil {
			return nil, malformedf(err, "body signature")
		}
		vals := make([]Value, 0, len(types))
		for _, t := range types {
			v, err := Unmarshal(d, t)
			if err != nil {
				return nil, malformedf(err, "body (signature %q)", m.Signature)
			}
			vals = append(vals, v)
		}
		switch len(vals) {
		case 0:
		case 1:
			m.Body = vals[0]
		default:
			m.Body = Struct{Fields: vals}
		}
	}
	if d.Remaining() != 0 {
		return nil, malformedf(nil, "%d trailing bytes after body", d.Remaining())
	}
	return &m, nil
}

func align8(n int) int {
	if extra := n % 8; extra != 0 {
		return n + 8 - extra
	}
	return n
}
