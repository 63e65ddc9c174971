package dbus

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tdryer/dbus-pure/fragments"
	"github.com/tdryer/dbus-pure/transport"
)

// systemBusPath is the well-known socket of the system bus.
const systemBusPath = "/run/dbus/system_bus_socket"

// options holds the configuration for a connection.
type options struct {
	identity string
	logger   zerolog.Logger
}

// An Option configures connection options.
type Option func(*options)

// WithAuthIdentity returns an Option that authenticates with the
// given literal SASL EXTERNAL identity instead of the current user's
// uid.
func WithAuthIdentity(identity string) Option {
	return func(o *options) {
		o.identity = identity
	}
}

// WithLogger returns an Option that makes the connection log protocol
// events to the given logger. By default nothing is logged.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Conn is a connection to a message bus.
//
// A Conn supports one outstanding method call at a time: Call blocks
// until the matching reply frame arrives, discarding unrelated
// frames. Callers wanting concurrency must serialize their calls or
// open independent connections.
type Conn struct {
	t   *transport.Conn
	log zerolog.Logger

	enc        fragments.Encoder
	lastSerial uint32
}

// Dial connects to the bus daemon listening on the unix socket at
// path and authenticates.
func Dial(ctx context.Context, path string, opts ...Option) (*Conn, error) {
	o := options{
		identity: transport.ExternalIdentity(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	t, err := transport.Dial(ctx, path, o.identity)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return nil, err
		}
		return nil, &ConnectError{Path: path, Err: err}
	}
	o.logger.Debug().
		Str("path", path).
		Str("guid", string(t.ServerGUID())).
		Msg("authenticated to bus")
	return &Conn{
		t:   t,
		log: o.logger,
		enc: fragments.Encoder{Order: fragments.LittleEndian},
	}, nil
}

// SessionBus connects to the current user's session bus, located via
// the DBUS_SESSION_BUS_ADDRESS environment variable.
func SessionBus(ctx context.Context, opts ...Option) (*Conn, error) {
	addr := os.Getenv("DBUS_SESSION_BUS_ADDRESS")
	if addr == "" {
		return nil, &AddressError{}
	}
	for _, uri := range strings.Split(addr, ";") {
		path, ok := strings.CutPrefix(uri, "unix:path=")
		if !ok {
			continue
		}
		return Dial(ctx, path, opts...)
	}
	return nil, &AddressError{Value: addr}
}

// SystemBus connects to the system bus.
func SystemBus(ctx context.Context, opts ...Option) (*Conn, error) {
	return Dial(ctx, systemBusPath, opts...)
}

// ServerGUID returns the bus daemon's GUID, captured once during the
// handshake.
func (c *Conn) ServerGUID() []byte { return c.t.ServerGUID() }

// Close closes the connection. Any blocked call fails immediately.
func (c *Conn) Close() error { return c.t.Close() }

// nextSerial allocates the serial for an outgoing message. Serials
// start at 1 and are never reused within a connection.
func (c *Conn) nextSerial() uint32 {
	c.lastSerial++
	return c.lastSerial
}

// Call invokes member on the object at path hosted by destination,
// and blocks until the bus delivers the matching reply.
//
// body may be nil for a call with no arguments. A [Struct] body is
// flattened into multiple call arguments. The reply body is returned
// the same way: nil for an empty reply, a single [Value], or a
// [Struct] of values for a multi-argument reply.
//
// An error reply from the bus is returned as a [*CallError]; the
// connection remains usable afterwards. Every other error is fatal to
// the connection. A deadline on ctx applies to the socket for the
// duration of the call; there is no other way to abandon a call short
// of closing the connection.
func (c *Conn) Call(ctx context.Context, destination string, path ObjectPath, iface, member string, body Value) (Value, error) {
	hdr := header{
		Type:        msgTypeCall,
		Serial:      c.nextSerial(),
		Path:        path,
		Interface:   iface,
		Member:      member,
		Destination: destination,
	}
	if body != nil {
		hdr.Signature = bodySignature(body)
	}
	if err := hdr.Valid(); err != nil {
		return nil, err
	}

	c.enc.Out = c.enc.Out[:0]
	if err := marshalMessage(&c.enc, &message{header: hdr, Body: body}); err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.t.SetDeadline(deadline); err != nil {
			return nil, err
		}
		defer c.t.SetDeadline(time.Time{})
	}

	c.t.Send(c.enc.Out)
	if err := c.t.Flush(); err != nil {
		return nil, err
	}
	c.log.Debug().
		Uint32("serial", hdr.Serial).
		Str("destination", destination).
		Str("member", iface+"."+member).
		Msg("sent method call")

	for {
		reply, err := readMessage(c.t)
		if err != nil {
			return nil, err
		}
		matches := reply.ReplySerial == hdr.Serial &&
			(reply.Type == msgTypeReturn || reply.Type == msgTypeError)
		if !matches {
			// Signals and stale replies; this client is strictly
			// request/response.
			c.log.Debug().
				Uint32("serial", reply.Serial).
				Stringer("type", reply.Type).
				Msg("discarding unrelated frame")
			continue
		}
		if reply.Type == msgTypeError {
			c.log.Debug().
				Uint32("serial", hdr.Serial).
				Str("error", reply.ErrName).
				Msg("call failed")
			return nil, &CallError{Name: reply.ErrName, Body: reply.Body}
		}
		c.log.Debug().
			Uint32("serial", hdr.Serial).
			Msg("call returned")
		return reply.Body, nil
	}
}
