package dbus

import (
	"fmt"

	"github.com/tdryer/dbus-pure/transport"
)

// AddressError is the error returned when a bus address cannot be
// resolved to a socket path.
type AddressError struct {
	// Value is the raw bus address that could not be parsed. Empty
	// when no address was configured at all.
	Value string
}

func (e *AddressError) Error() string {
	if e.Value == "" {
		return "DBUS_SESSION_BUS_ADDRESS is not set"
	}
	return fmt.Sprintf("no usable unix:path= address in %q", e.Value)
}

// ConnectError is the error returned when the bus socket cannot be
// opened.
type ConnectError struct {
	// Path is the socket path that was dialed.
	Path string
	// Err is the underlying failure.
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting to bus at %s: %v", e.Path, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// AuthError is the error returned when the authentication handshake
// fails. See [transport.AuthError].
type AuthError = transport.AuthError

// MalformedError is the error returned when received bytes violate
// the wire format. Framing cannot be resynchronized once decoding has
// gone wrong, so a MalformedError is fatal to the connection.
type MalformedError struct {
	// Reason describes the invariant that was violated.
	Reason string
	// Err is the underlying decode failure, if any.
	Err error
}

func (e *MalformedError) Error() string {
	if e.Err == nil {
		return "malformed message: " + e.Reason
	}
	return fmt.Sprintf("malformed message: %s: %v", e.Reason, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

func malformedf(err error, format string, args ...any) error {
	return &MalformedError{Reason: fmt.Sprintf(format, args...), Err: err}
}

// CallError is the error returned when the bus or a peer replies to a
// method call with an error message. It is the only error kind after
// which the connection remains usable.
type CallError struct {
	// Name is the error name declared by the peer, for example
	// org.freedesktop.DBus.Error.ServiceUnknown.
	Name string
	// Body is the error message's body, if any. By convention the
	// first value is a human-readable detail string.
	Body Value
}

func (e *CallError) Error() string {
	if d := e.Detail(); d != "" {
		return fmt.Sprintf("call failed: %s: %s", e.Name, d)
	}
	return fmt.Sprintf("call failed: %s", e.Name)
}

// Detail returns the human-readable detail string attached to the
// error, if the peer supplied one.
func (e *CallError) Detail() string {
	switch b := e.Body.(type) {
	case String:
		return string(b)
	case Struct:
		if len(b.Fields) > 0 {
			if s, ok := b.Fields[0].(String); ok {
				return string(s)
			}
		}
	}
	return ""
}
