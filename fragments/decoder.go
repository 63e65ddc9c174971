package fragments

import (
	"errors"
	"fmt"
)

// ErrShortMessage is returned when a decode would run past the end of
// the message.
var ErrShortMessage = errors.New("value extends past end of message")

// A Decoder reads a DBus wire format message from a byte slice.
//
// Methods advance the read cursor as needed to account for the
// padding required by DBus alignment rules, except for [Decoder.Read]
// which reads bytes verbatim. The decoder never reads outside the
// slice it was given: any declared length pointing past the end of
// the input fails with [ErrShortMessage].
type Decoder struct {
	// Order is the byte order to use when reading multi-byte values.
	Order ByteOrder

	in  []byte
	pos int
}

// NewDecoder returns a Decoder reading msg in the given byte order.
// msg must begin at the start of a message, since DBus alignment is
// relative to the message start.
func NewDecoder(order ByteOrder, msg []byte) *Decoder {
	return &Decoder{Order: order, in: msg}
}

// Pos returns the current read offset from the start of the message.
func (d *Decoder) Pos() int { return d.pos }

// Remaining returns the number of bytes left to read.
func (d *Decoder) Remaining() int { return len(d.in) - d.pos }

// Pad consumes padding bytes as needed to make the next read happen
// at a multiple of align bytes. If the decoder is already correctly
// aligned, no bytes are consumed.
func (d *Decoder) Pad(align int) error {
	extra := d.pos % align
	if extra == 0 {
		return nil
	}
	skip := align - extra
	if skip > d.Remaining() {
		return fmt.Errorf("%d padding bytes: %w", skip, ErrShortMessage)
	}
	d.pos += skip
	return nil
}

// Read reads n bytes, with no framing or padding.
func (d *Decoder) Read(n int) ([]byte, error) {
	if n > d.Remaining() {
		return nil, fmt.Errorf("%d bytes: %w", n, ErrShortMessage)
	}
	bs := d.in[d.pos : d.pos+n]
	d.pos += n
	return bs, nil
}

// String reads a DBus string: a uint32 byte length, the string bytes,
// and a NUL terminator.
func (d *Decoder) String() (string, error) {
	ln, err := d.Uint32()
	if err != nil {
		return "", err
	}
	bs, err := d.Read(int(ln) + 1)
	if err != nil {
		return "", err
	}
	if bs[ln] != 0 {
		return "", errors.New("string missing NUL terminator")
	}
	return string(bs[:ln]), nil
}

// Signature reads a DBus signature string: a single length byte, the
// signature bytes, and a NUL terminator.
func (d *Decoder) Signature() (string, error) {
	ln, err := d.Uint8()
	if err != nil {
		return "", err
	}
	bs, err := d.Read(int(ln) + 1)
	if err != nil {
		return "", err
	}
	if bs[ln] != 0 {
		return "", errors.New("signature missing NUL terminator")
	}
	return string(bs[:ln]), nil
}

// Uint8 reads a uint8.
func (d *Decoder) Uint8() (uint8, error) {
	bs, err := d.Read(1)
	if err != nil {
		return 0, err
	}
	return bs[0], nil
}

// Uint16 reads a uint16.
func (d *Decoder) Uint16() (uint16, error) {
	if err := d.Pad(2); err != nil {
		return 0, err
	}
	bs, err := d.Read(2)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint16(bs), nil
}

// Uint32 reads a uint32.
func (d *Decoder) Uint32() (uint32, error) {
	if err := d.Pad(4); err != nil {
		return 0, err
	}
	bs, err := d.Read(4)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint32(bs), nil
}

// Uint64 reads a uint64.
func (d *Decoder) Uint64() (uint64, error) {
	if err := d.Pad(8); err != nil {
		return 0, err
	}
	bs, err := d.Read(8)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint64(bs), nil
}

// Array reads an array.
//
// readElement is called repeatedly while there is array data
// remaining to process, passing in the array index of the element to
// be decoded. readElement must consume exactly one element's worth of
// bytes per call.
//
// Array returns the total number of array elements that were
// processed.
//
// align8 indicates that the array's element type has 8-byte
// alignment, so that the decoder consumes the padding between the
// length prefix and the first element even if the array is empty.
func (d *Decoder) Array(align8 bool, readElement func(int) error) (int, error) {
	ln, err := d.Uint32()
	if err != nil {
		return 0, err
	}
	if align8 {
		if err := d.Pad(8); err != nil {
			return 0, err
		}
	}
	if int(ln) > d.Remaining() {
		return 0, fmt.Errorf("array of %d bytes: %w", ln, ErrShortMessage)
	}
	end := d.pos + int(ln)
	idx := 0
	for d.pos < end {
		if err := readElement(idx); err != nil {
			return idx, err
		}
		idx++
	}
	if d.pos != end {
		return idx, fmt.Errorf("array elements overran %d byte array body", ln)
	}
	return idx, nil
}

// Struct reads a struct.
//
// Struct fields must be read within the provided fields function.
func (d *Decoder) Struct(fields func() error) error {
	if err := d.Pad(8); err != nil {
		return err
	}
	return fields()
}

// ByteOrderFlag reads a DBus byte order marker, and sets
// [Decoder.Order] to match it.
func (d *Decoder) ByteOrderFlag() error {
	v, err := d.Uint8()
	if err != nil {
		return err
	}
	order, err := OrderForFlag(v)
	if err != nil {
		return err
	}
	d.Order = order
	return nil
}
