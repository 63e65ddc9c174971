package fragments

// An Encoder accumulates a DBus wire format message in a byte slice.
//
// Methods insert padding as needed to conform to DBus alignment
// rules, except for [Encoder.Write] which outputs bytes verbatim.
type Encoder struct {
	// Order is the byte order to use when encoding multi-byte values.
	Order ByteOrder
	// Out is the encoded output. It must begin at the start of a
	// message, since DBus alignment is relative to the message start.
	Out []byte
}

// Pad inserts padding bytes as needed to make the message a multiple
// of align bytes. If the message is already correctly aligned, no
// padding is inserted.
func (e *Encoder) Pad(align int) {
	extra := len(e.Out) % align
	if extra == 0 {
		return
	}
	var pad [8]byte
	e.Out = append(e.Out, pad[:align-extra]...)
}

// Write writes bs as-is to the output. It is the caller's
// responsibility to ensure correct padding and encoding.
func (e *Encoder) Write(bs []byte) {
	e.Out = append(e.Out, bs...)
}

// String writes a DBus string: a uint32 byte length, the string
// bytes, and a NUL terminator.
func (e *Encoder) String(s string) {
	e.Uint32(uint32(len(s)))
	e.Out = append(e.Out, s...)
	e.Out = append(e.Out, 0)
}

// Signature writes a DBus signature string: a single length byte, the
// signature bytes, and a NUL terminator. Signatures carry no
// alignment padding of their own.
func (e *Encoder) Signature(s string) {
	e.Out = append(e.Out, byte(len(s)))
	e.Out = append(e.Out, s...)
	e.Out = append(e.Out, 0)
}

// Uint8 writes a uint8.
func (e *Encoder) Uint8(u8 uint8) {
	e.Out = append(e.Out, u8)
}

// Uint16 writes a uint16.
func (e *Encoder) Uint16(u16 uint16) {
	e.Pad(2)
	e.Out = e.Order.AppendUint16(e.Out, u16)
}

// Uint32 writes a uint32.
func (e *Encoder) Uint32(u32 uint32) {
	e.Pad(4)
	e.Out = e.Order.AppendUint32(e.Out, u32)
}

// Uint64 writes a uint64.
func (e *Encoder) Uint64(u64 uint64) {
	e.Pad(8)
	e.Out = e.Order.AppendUint64(e.Out, u64)
}

// PatchUint32 overwrites a previously written uint32 at the given
// offset. Message framing uses this to backfill the body length once
// the body has been encoded.
func (e *Encoder) PatchUint32(offset int, u32 uint32) {
	e.Order.PutUint32(e.Out[offset:offset+4], u32)
}

// Array writes an array to the output.
//
// Array elements must be added within the provided elements
// function. The elements function is responsible for padding each
// array element to the correct alignment for the element type.
//
// align8 indicates that the array's element type has 8-byte
// alignment, so that the padding between the length prefix and the
// first element is emitted even for empty arrays, and is excluded
// from the encoded byte length.
func (e *Encoder) Array(align8 bool, elements func() error) error {
	e.Pad(4)
	offset := len(e.Out)
	e.Uint32(0)
	if align8 {
		e.Pad(8)
	}

	start := len(e.Out)
	err := elements()
	e.PatchUint32(offset, uint32(len(e.Out)-start))

	return err
}

// Struct writes a struct to the output.
//
// Struct fields must be added within the provided elements function.
func (e *Encoder) Struct(elements func() error) error {
	e.Pad(8)
	return elements()
}

// ByteOrderFlag writes the DBus byte order marker ('l' or 'B') that
// matches [Encoder.Order].
func (e *Encoder) ByteOrderFlag() {
	e.Out = append(e.Out, e.Order.Flag())
}
