package dbus

import (
	"fmt"
	"math"

	"github.com/tdryer/dbus-pure/fragments"
)

// Unmarshal decodes one value of type sig from d. sig must be a
// single complete type.
//
// Decoding validates as it goes: declared lengths must stay within
// the message, booleans must be 0 or 1, and embedded signatures must
// be grammatically valid. Any violation is a protocol error, fatal to
// the connection the message arrived on.
func Unmarshal(d *fragments.Decoder, sig Signature) (Value, error) {
	if len(sig) == 0 {
		return nil, errEmptySignature
	}
	switch sig[0] {
	case 'y':
		v, err := d.Uint8()
		return Byte(v), err
	case 'b':
		v, err := d.Uint32()
		if err != nil {
			return nil, err
		}
		if v > 1 {
			return nil, fmt.Errorf("boolean encoded as %d", v)
		}
		return Bool(v == 1), nil
	case 'n':
		v, err := d.Uint16()
		return Int16(v), err
	case 'q':
		v, err := d.Uint16()
		return Uint16(v), err
	case 'i':
		v, err := d.Uint32()
		return Int32(v), err
	case 'u':
		v, err := d.Uint32()
		return Uint32(v), err
	case 'x':
		v, err := d.Uint64()
		return Int64(v), err
	case 't':
		v, err := d.Uint64()
		return Uint64(v), err
	case 'd':
		v, err := d.Uint64()
		return Double(math.Float64frombits(v)), err
	case 's':
		v, err := d.String()
		return String(v), err
	case 'o':
		v, err := d.String()
		return ObjectPath(v), err
	case 'g':
		v, err := d.Signature()
		if err != nil {
			return nil, err
		}
		if !Signature(v).Valid() {
			return nil, fmt.Errorf("invalid embedded signature %q", v)
		}
		return Signature(v), nil
	case 'a':
		return unmarshalArray(d, sig[1:])
	case '(':
		return unmarshalStruct(d, sig)
	case '{':
		return unmarshalDictEntry(d, sig)
	case 'v':
		return unmarshalVariant(d)
	default:
		return nil, fmt.Errorf("unknown type code %q", sig[0])
	}
}

func unmarshalArray(d *fragments.Decoder, elem Signature) (Value, error) {
	if !elem.Single() && !dictEntryType(elem) {
		return nil, fmt.Errorf("invalid array element signature %q", elem)
	}
	ret := Array{Elem: elem}
	_, err := d.Array(elem.alignment() == 8, func(int) error {
		v, err := Unmarshal(d, elem)
		if err != nil {
			return err
		}
		ret.Values = append(ret.Values, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func unmarshalStruct(d *fragments.Decoder, sig Signature) (Value, error) {
	if !sig.Single() {
		return nil, fmt.Errorf("invalid struct signature %q", sig)
	}
	fieldSigs, err := sig[1 : len(sig)-1].Split()
	if err != nil {
		return nil, err
	}
	ret := Struct{Fields: make([]Value, 0, len(fieldSigs))}
	err = d.Struct(func() error {
		for _, fs := range fieldSigs {
			v, err := Unmarshal(d, fs)
			if err != nil {
				return err
			}
			ret.Fields = append(ret.Fields, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func unmarshalDictEntry(d *fragments.Decoder, sig Signature) (Value, error) {
	if !dictEntryType(sig) {
		return nil, fmt.Errorf("invalid dict entry signature %q", sig)
	}
	keySig, rest, err := nextType(string(sig[1:]), 0)
	if err != nil {
		return nil, err
	}
	valSig := Signature(rest[:len(rest)-1])
	var ret DictEntry
	err = d.Struct(func() error {
		if ret.Key, err = Unmarshal(d, Signature(keySig)); err != nil {
			return err
		}
		ret.Val, err = Unmarshal(d, valSig)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func unmarshalVariant(d *fragments.Decoder) (Value, error) {
	s, err := d.Signature()
	if err != nil {
		return nil, err
	}
	sig := Signature(s)
	if !sig.Single() {
		return nil, fmt.Errorf("variant signature %q is not a single complete type", s)
	}
	inner, err := Unmarshal(d, sig)
	if err != nil {
		return nil, fmt.Errorf("variant value (signature %q): %w", s, err)
	}
	return Variant{Value: inner}, nil
}
