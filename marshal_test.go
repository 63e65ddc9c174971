package dbus

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tdryer/dbus-pure/fragments"
)

func TestMarshal(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		want []byte
	}{
		{
			"byte", Byte(5),
			[]byte{0x05},
		},
		{
			"bool", Bool(true),
			[]byte{0x00, 0x00, 0x00, 0x01},
		},
		{
			"int16", Int16(-2),
			[]byte{0xff, 0xfe},
		},
		{
			"uint32", Uint32(0x01020304),
			[]byte{0x01, 0x02, 0x03, 0x04},
		},
		{
			"double", Double(3402823700),
			[]byte{0x41, 0xE9, 0x5A, 0x5F, 0x02, 0x80, 0x00, 0x00},
		},
		{
			"string", String("foo"),
			[]byte{
				0x00, 0x00, 0x00, 0x03,
				0x66, 0x6f, 0x6f,
				0x00,
			},
		},
		{
			"object path", ObjectPath("/org/freedesktop/DBus"),
			append(append(
				[]byte{0x00, 0x00, 0x00, 0x15},
				"/org/freedesktop/DBus"...),
				0x00),
		},
		{
			"signature value", Signature("a{sv}"),
			[]byte{0x05, 0x61, 0x7b, 0x73, 0x76, 0x7d, 0x00},
		},
		{
			"array of uint16", Array{Elem: "q", Values: []Value{Uint16(1), Uint16(2)}},
			[]byte{
				0x00, 0x00, 0x00, 0x04,
				0x00, 0x01,
				0x00, 0x02,
			},
		},
		{
			"empty array of structs", Array{Elem: "(yy)"},
			[]byte{
				0x00, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0x00, // struct padding, not counted
			},
		},
		{
			"struct", Struct{Fields: []Value{Byte(1), Uint16(2)}},
			[]byte{
				0x01,
				0x00, // pad
				0x00, 0x02,
			},
		},
		{
			"dict entry array", Array{Elem: "{yq}", Values: []Value{
				DictEntry{Key: Byte(1), Val: Uint16(2)},
			}},
			[]byte{
				0x00, 0x00, 0x00, 0x04, // element bytes
				0x00, 0x00, 0x00, 0x00, // pad to entry
				0x01,
				0x00, // pad
				0x00, 0x02,
			},
		},
		{
			"variant", Variant{Value: Byte(5)},
			[]byte{
				0x01, 0x79, 0x00, // signature "y"
				0x05,
			},
		},
		{
			"variant with padding", Variant{Value: Bool(true)},
			[]byte{
				0x01, 0x62, 0x00, // signature "b"
				0x00, // pad to bool
				0x00, 0x00, 0x00, 0x01,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := &fragments.Encoder{Order: fragments.BigEndian}
			if err := Marshal(e, tc.in); err != nil {
				t.Fatalf("Marshal(%v) failed: %v", tc.in, err)
			}
			if diff := cmp.Diff(e.Out, tc.want); diff != "" {
				t.Errorf("Marshal(%v) diff (-got+want):\n%s", tc.in, diff)
			}
		})
	}
}

func TestMarshalErrors(t *testing.T) {
	tests := []struct {
		name string
		in   Value
	}{
		{"nil value", nil},
		{"invalid signature value", Signature("a")},
		{"empty struct", Struct{}},
		{"array with bad element signature", Array{Elem: "zz"}},
		{"array element mismatch", Array{Elem: "s", Values: []Value{Uint32(1)}}},
		{"dict entry container key", Array{Elem: "{vy}", Values: []Value{
			DictEntry{Key: Variant{Value: Byte(1)}, Val: Byte(2)},
		}}},
		{"empty variant", Variant{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := &fragments.Encoder{Order: fragments.BigEndian}
			if err := Marshal(e, tc.in); err == nil {
				t.Errorf("Marshal(%v) unexpectedly succeeded", tc.in)
			}
		})
	}
}

// roundTripValues is shared by the round-trip and alignment tests; it
// covers every Value kind, containers nested several levels deep.
var roundTripValues = []Value{
	Byte(0xff),
	Bool(false),
	Bool(true),
	Int16(-32768),
	Uint16(65535),
	Int32(-1),
	Uint32(1 << 31),
	Int64(-1 << 62),
	Uint64(1 << 63),
	Double(-2.5),
	String(""),
	String("hello, bus"),
	ObjectPath("/org/mpris/MediaPlayer2"),
	Signature("a{s(iv)}"),
	Array{Elem: "s", Values: []Value{String("a"), String("bc")}},
	Array{Elem: "t", Values: []Value{Uint64(1), Uint64(2)}},
	Array{Elem: "ai", Values: []Value{
		Array{Elem: "i", Values: []Value{Int32(1)}},
		Array{Elem: "i"},
	}},
	Struct{Fields: []Value{
		String("x"),
		Struct{Fields: []Value{Byte(1), Double(2)}},
		Variant{Value: Int16(3)},
	}},
	Array{Elem: "{sv}", Values: []Value{
		DictEntry{Key: String("k1"), Val: Variant{Value: Uint32(1)}},
		DictEntry{Key: String("k2"), Val: Variant{Value: String("v")}},
	}},
	Variant{Value: Variant{Value: Array{Elem: "y", Values: []Value{Byte(1), Byte(2)}}}},
}

func TestRoundTrip(t *testing.T) {
	for _, order := range []fragments.ByteOrder{fragments.LittleEndian, fragments.BigEndian} {
		for _, in := range roundTripValues {
			e := &fragments.Encoder{Order: order}
			// Offset the message so values do not just start out
			// aligned by luck.
			e.Uint8(0)
			if err := Marshal(e, in); err != nil {
				t.Errorf("Marshal(%v) failed: %v", in, err)
				continue
			}

			d := fragments.NewDecoder(order, e.Out)
			if _, err := d.Uint8(); err != nil {
				t.Fatal(err)
			}
			got, err := Unmarshal(d, in.Signature())
			if err != nil {
				t.Errorf("Unmarshal(%q) failed: %v", in.Signature(), err)
				continue
			}
			if diff := cmp.Diff(got, in); diff != "" {
				t.Errorf("round trip of %v diff (-got+want):\n%s", in, diff)
			}
			if d.Remaining() != 0 {
				t.Errorf("round trip of %v left %d bytes unconsumed", in, d.Remaining())
			}
		}
	}
}

// TestMarshalAlignment checks that every value begins at an offset
// that is a multiple of its type's alignment, for a range of starting
// offsets, measured from message start.
func TestMarshalAlignment(t *testing.T) {
	for _, in := range roundTripValues {
		align := in.Signature().alignment()
		for skew := 0; skew < 8; skew++ {
			e := &fragments.Encoder{Order: fragments.BigEndian}
			for range skew {
				e.Uint8(0)
			}
			before := len(e.Out)
			if err := Marshal(e, in); err != nil {
				t.Fatalf("Marshal(%v) failed: %v", in, err)
			}
			// The value begins after any padding bytes the encoder
			// inserted.
			start := before
			if extra := before % align; extra != 0 {
				start = before + align - extra
			}
			if start%align != 0 {
				t.Errorf("%v at skew %d starts at offset %d, not %d-aligned", in, skew, start, align)
			}
			// Decoding from the same skew must consume the encoding
			// exactly, which fails if padding was wrong.
			d := fragments.NewDecoder(fragments.BigEndian, e.Out)
			if _, err := d.Read(skew); err != nil {
				t.Fatal(err)
			}
			if _, err := Unmarshal(d, in.Signature()); err != nil {
				t.Errorf("Unmarshal(%q) at skew %d failed: %v", in.Signature(), skew, err)
			} else if d.Remaining() != 0 {
				t.Errorf("decode of %v at skew %d left %d bytes", in, skew, d.Remaining())
			}
		}
	}
}

func TestUnmarshalErrors(t *testing.T) {
	tests := []struct {
		name string
		sig  Signature
		in   []byte
	}{
		{"empty signature", "", nil},
		{"bad bool", "b", []byte{0x00, 0x00, 0x00, 0x02}},
		{"truncated string", "s", []byte{0x00, 0x00, 0x00, 0x10, 0x66}},
		{"string missing terminator", "s", []byte{0x00, 0x00, 0x00, 0x01, 0x66, 0x67}},
		{"invalid embedded signature", "g", []byte{0x01, 0x7a, 0x00}},
		{"variant with two types", "v", []byte{0x02, 0x79, 0x79, 0x00, 0x01, 0x02}},
		{"array length overrun", "ay", []byte{0x00, 0x00, 0x00, 0x05, 0x01, 0x02}},
		{"unknown type code", "z", []byte{0x00}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := fragments.NewDecoder(fragments.BigEndian, tc.in)
			if v, err := Unmarshal(d, tc.sig); err == nil {
				t.Errorf("Unmarshal(%q) = %v, want error", tc.sig, v)
			}
		})
	}
}
