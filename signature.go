package dbus

import (
	"errors"
	"fmt"
)

// A Signature describes the type of a DBus value, as a sequence of
// single-character type codes. Signatures appear standalone in
// message headers, and embedded at the front of every Variant.
//
// A Signature is itself a DBus value, with type code "g".
type Signature string

// Container nesting bound from the DBus specification: arrays and
// structs may each nest 32 deep.
const maxNestingDepth = 64

var errEmptySignature = errors.New("empty signature")

// Valid reports whether s is a well-formed sequence of complete
// types.
func (s Signature) Valid() bool {
	_, err := s.Split()
	return err == nil
}

// Single reports whether s is exactly one complete type.
func (s Signature) Single() bool {
	if s == "" {
		return false
	}
	typ, rest, err := nextType(string(s), 0)
	return err == nil && rest == "" && typ == string(s)
}

// Split breaks s into the complete types it concatenates.
func (s Signature) Split() ([]Signature, error) {
	var parts []Signature
	rest := string(s)
	for rest != "" {
		typ, tail, err := nextType(rest, 0)
		if err != nil {
			return nil, fmt.Errorf("invalid type signature %q: %w", s, err)
		}
		parts = append(parts, Signature(typ))
		rest = tail
	}
	return parts, nil
}

// alignment returns the natural alignment of the first complete type
// in s. Callers must only pass valid signatures.
func (s Signature) alignment() int {
	switch s[0] {
	case 'y', 'g', 'v':
		return 1
	case 'n', 'q':
		return 2
	case 'b', 'i', 'u', 's', 'o', 'a':
		return 4
	default: // x, t, d, (, {
		return 8
	}
}

// nextType splits s into its first complete type and the unparsed
// remainder. depth counts container nesting.
func nextType(s string, depth int) (typ, rest string, err error) {
	if s == "" {
		return "", "", errEmptySignature
	}
	if depth > maxNestingDepth {
		return "", "", errors.New("containers nested too deeply")
	}
	switch c := s[0]; c {
	case 'y', 'b', 'n', 'q', 'i', 'u', 'x', 't', 'd', 's', 'o', 'g', 'v':
		return s[:1], s[1:], nil
	case 'a':
		elem, rest, err := nextArrayElem(s[1:], depth+1)
		if err != nil {
			return "", "", err
		}
		return "a" + elem, rest, nil
	case '(':
		inner := s[1:]
		fields := 0
		for {
			if inner == "" {
				return "", "", errors.New("unterminated struct")
			}
			if inner[0] == ')' {
				if fields == 0 {
					return "", "", errors.New("empty struct")
				}
				n := len(s) - len(inner) + 1
				return s[:n], s[n:], nil
			}
			if _, inner, err = nextType(inner, depth+1); err != nil {
				return "", "", err
			}
			fields++
		}
	case '{':
		return "", "", errors.New("dict entry outside of array")
	default:
		return "", "", fmt.Errorf("unknown type code %q", c)
	}
}

// nextArrayElem parses an array's element type, which may be a dict
// entry in addition to the ordinary complete types.
func nextArrayElem(s string, depth int) (typ, rest string, err error) {
	if s == "" {
		return "", "", errors.New("array missing element type")
	}
	if s[0] != '{' {
		return nextType(s, depth)
	}
	key, inner, err := nextType(s[1:], depth+1)
	if err != nil {
		return "", "", err
	}
	if !basicType(key) {
		return "", "", fmt.Errorf("dict entry key type %q is not a basic type", key)
	}
	if _, inner, err = nextType(inner, depth+1); err != nil {
		return "", "", err
	}
	if inner == "" || inner[0] != '}' {
		return "", "", errors.New("unterminated dict entry")
	}
	n := len(s) - len(inner) + 1
	return s[:n], s[n:], nil
}

func basicType(typ string) bool {
	if len(typ) != 1 {
		return false
	}
	switch typ[0] {
	case 'y', 'b', 'n', 'q', 'i', 'u', 'x', 't', 'd', 's', 'o', 'g':
		return true
	}
	return false
}

func (Signature) value() {}

// Signature implements [Value].
func (Signature) Signature() Signature { return "g" }
