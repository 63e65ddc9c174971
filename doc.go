// Package dbus is a pure Go client for the DBus message bus.
//
// It implements the wire protocol from scratch: byte-level framing
// and alignment, the SASL EXTERNAL authentication handshake, and the
// bus's self-describing type system. Values exchanged with the bus
// are represented explicitly as the [Value] sum type rather than
// being mapped onto Go types by reflection.
//
// A [Conn] is strictly request/response: [Conn.Call] sends one method
// call and blocks until the matching reply arrives. Frames that do
// not correlate with the outstanding call, such as signals, are
// discarded. Callers wanting concurrent calls must serialize them or
// open independent connections.
package dbus
