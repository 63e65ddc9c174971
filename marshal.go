package dbus

import (
	"fmt"
	"math"

	"github.com/tdryer/dbus-pure/fragments"
)

// Marshal appends the wire encoding of v to e, padding as required by
// the DBus alignment rules.
//
// Encoding only fails when v itself is malformed: an [Array] whose
// elements do not match its declared element signature, an empty
// [Struct], a [DictEntry] with a container key, or a [Variant]
// holding nothing.
func Marshal(e *fragments.Encoder, v Value) error {
	switch v := v.(type) {
	case Byte:
		e.Uint8(uint8(v))
	case Bool:
		if v {
			e.Uint32(1)
		} else {
			e.Uint32(0)
		}
	case Int16:
		e.Uint16(uint16(v))
	case Uint16:
		e.Uint16(uint16(v))
	case Int32:
		e.Uint32(uint32(v))
	case Uint32:
		e.Uint32(uint32(v))
	case Int64:
		e.Uint64(uint64(v))
	case Uint64:
		e.Uint64(uint64(v))
	case Double:
		e.Uint64(math.Float64bits(float64(v)))
	case String:
		e.String(string(v))
	case ObjectPath:
		e.String(string(v))
	case Signature:
		if !v.Valid() {
			return fmt.Errorf("cannot encode invalid signature %q", v)
		}
		e.Signature(string(v))
	case Array:
		return marshalArray(e, v)
	case Struct:
		if len(v.Fields) == 0 {
			return fmt.Errorf("cannot encode empty struct")
		}
		return e.Struct(func() error {
			for _, f := range v.Fields {
				if err := Marshal(e, f); err != nil {
					return err
				}
			}
			return nil
		})
	case DictEntry:
		if !basicType(string(v.Key.Signature())) {
			return fmt.Errorf("dict entry key type %q is not a basic type", v.Key.Signature())
		}
		return e.Struct(func() error {
			if err := Marshal(e, v.Key); err != nil {
				return err
			}
			return Marshal(e, v.Val)
		})
	case Variant:
		if v.Value == nil {
			return fmt.Errorf("cannot encode variant holding no value")
		}
		sig := v.Value.Signature()
		if !sig.Single() {
			return fmt.Errorf("variant value has invalid signature %q", sig)
		}
		e.Signature(string(sig))
		return Marshal(e, v.Value)
	case nil:
		return fmt.Errorf("cannot encode nil value")
	}
	return nil
}

func marshalArray(e *fragments.Encoder, a Array) error {
	if !a.Elem.Single() && !dictEntryType(a.Elem) {
		return fmt.Errorf("array has invalid element signature %q", a.Elem)
	}
	return e.Array(a.Elem.alignment() == 8, func() error {
		for _, el := range a.Values {
			if got := el.Signature(); got != a.Elem {
				return fmt.Errorf("array element has signature %q, want %q", got, a.Elem)
			}
			if err := Marshal(e, el); err != nil {
				return err
			}
		}
		return nil
	})
}

// dictEntryType reports whether typ is a complete dict entry type.
func dictEntryType(typ Signature) bool {
	if typ == "" || typ[0] != '{' {
		return false
	}
	el, rest, err := nextArrayElem(string(typ), 0)
	return err == nil && rest == "" && el == string(typ)
}
