package dbus

import "strings"

// A Value is one value of the DBus type system: a primitive scalar, a
// string-like type, or a container. It is a closed sum; the only
// implementations are the types in this package.
//
// Containers constrain their contents. Every element of an [Array]
// must match the array's declared element signature, and a [Variant]
// always carries exactly one value, described by that value's own
// signature.
type Value interface {
	// Signature returns the type signature describing the value.
	Signature() Signature

	value()
}

type (
	// Byte is the DBus BYTE type ("y").
	Byte uint8
	// Bool is the DBus BOOLEAN type ("b").
	Bool bool
	// Int16 is the DBus INT16 type ("n").
	Int16 int16
	// Uint16 is the DBus UINT16 type ("q").
	Uint16 uint16
	// Int32 is the DBus INT32 type ("i").
	Int32 int32
	// Uint32 is the DBus UINT32 type ("u").
	Uint32 uint32
	// Int64 is the DBus INT64 type ("x").
	Int64 int64
	// Uint64 is the DBus UINT64 type ("t").
	Uint64 uint64
	// Double is the DBus DOUBLE type ("d").
	Double float64
	// String is the DBus STRING type ("s").
	String string
	// ObjectPath is the DBus OBJECT_PATH type ("o"), naming an
	// object hosted by a bus peer.
	ObjectPath string
)

func (Byte) value()       {}
func (Bool) value()       {}
func (Int16) value()      {}
func (Uint16) value()     {}
func (Int32) value()      {}
func (Uint32) value()     {}
func (Int64) value()      {}
func (Uint64) value()     {}
func (Double) value()     {}
func (String) value()     {}
func (ObjectPath) value() {}

func (Byte) Signature() Signature       { return "y" }
func (Bool) Signature() Signature       { return "b" }
func (Int16) Signature() Signature      { return "n" }
func (Uint16) Signature() Signature     { return "q" }
func (Int32) Signature() Signature      { return "i" }
func (Uint32) Signature() Signature     { return "u" }
func (Int64) Signature() Signature      { return "x" }
func (Uint64) Signature() Signature     { return "t" }
func (Double) Signature() Signature     { return "d" }
func (String) Signature() Signature     { return "s" }
func (ObjectPath) Signature() Signature { return "o" }

// An Array is a homogeneous sequence of values. Elem declares the
// element type, and must be set even when Values is empty.
type Array struct {
	Elem   Signature
	Values []Value
}

func (Array) value() {}

func (a Array) Signature() Signature { return "a" + a.Elem }

// Strings returns the array's elements as Go strings. It returns
// false if the element type is not "s".
func (a Array) Strings() ([]string, bool) {
	if a.Elem != "s" {
		return nil, false
	}
	ret := make([]string, 0, len(a.Values))
	for _, v := range a.Values {
		s, ok := v.(String)
		if !ok {
			return nil, false
		}
		ret = append(ret, string(s))
	}
	return ret, true
}

// A Struct is an ordered, heterogeneous sequence of values. It must
// have at least one field.
//
// A Struct used as a message body is flattened: its fields become the
// message's arguments and the body signature is the concatenation of
// the field signatures, with no enclosing parentheses.
type Struct struct {
	Fields []Value
}

func (Struct) value() {}

func (s Struct) Signature() Signature {
	var sb strings.Builder
	sb.WriteByte('(')
	for _, f := range s.Fields {
		sb.WriteString(string(f.Signature()))
	}
	sb.WriteByte(')')
	return Signature(sb.String())
}

// A DictEntry is a key/value pair. The key must be a basic
// (non-container) type. Dict entries only occur as array elements.
type DictEntry struct {
	Key Value
	Val Value
}

func (DictEntry) value() {}

func (d DictEntry) Signature() Signature {
	return "{" + d.Key.Signature() + d.Val.Signature() + "}"
}

// A Variant is a value paired with its own signature on the wire,
// making it self-describing.
type Variant struct {
	Value Value
}

func (Variant) value() {}

func (Variant) Signature() Signature { return "v" }
