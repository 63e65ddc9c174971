package fragments

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/cpu"
)

// A ByteOrder is a byte order that knows its DBus wire
// representation, the byte order marker that leads every message.
type ByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder

	// Flag returns the DBus byte order marker for this order, 'l'
	// or 'B'.
	Flag() byte
}

type stdOrder struct {
	appendByteOrder
	flag byte
}

type appendByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

func (o stdOrder) Flag() byte { return o.flag }

var (
	BigEndian    ByteOrder = stdOrder{binary.BigEndian, 'B'}
	LittleEndian ByteOrder = stdOrder{binary.LittleEndian, 'l'}
)

// NativeEndian returns the byte order of the local machine.
func NativeEndian() ByteOrder {
	if cpu.IsBigEndian {
		return BigEndian
	}
	return LittleEndian
}

// OrderForFlag returns the ByteOrder denoted by a DBus byte order
// marker.
func OrderForFlag(flag byte) (ByteOrder, error) {
	switch flag {
	case 'B':
		return BigEndian, nil
	case 'l':
		return LittleEndian, nil
	default:
		return nil, fmt.Errorf("unknown byte order marker %q", flag)
	}
}
