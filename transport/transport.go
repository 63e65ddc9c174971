// Package transport provides the byte stream underneath a DBus
// connection: a unix domain socket with a growable receive buffer, a
// reusable send buffer, and the SASL authentication handshake that
// every connection performs before framed traffic begins.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"time"
)

const initialReadBuf = 4096

// A Conn is an authenticated byte stream to a bus daemon.
//
// Received bytes accumulate in an internal buffer: Fill reads more
// bytes from the socket, Buffered exposes what has accumulated, and
// Consume discards bytes from the front once a complete frame has
// been parsed. Outbound bytes accumulate via Send until Flush writes
// them to the socket.
//
// A Conn is not safe for concurrent use.
type Conn struct {
	sock net.Conn
	guid []byte

	rbuf []byte
	rend int

	wbuf []byte
}

// Dial connects to the bus daemon listening on the unix socket at
// path and authenticates using the given SASL EXTERNAL identity.
//
// Any deadline on ctx applies to connection establishment and the
// handshake, and is cleared afterwards. A handshake failure closes
// the socket; no partially authenticated Conn is ever returned.
func Dial(ctx context.Context, path string, identity string) (*Conn, error) {
	var d net.Dialer
	sock, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		sock: sock,
		rbuf: make([]byte, initialReadBuf),
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := sock.SetDeadline(deadline); err != nil {
			sock.Close()
			return nil, err
		}
	}
	if err := c.handshake(identity); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.SetDeadline(time.Time{}); err != nil {
		sock.Close()
		return nil, err
	}
	return c, nil
}

// ServerGUID returns the bus daemon's GUID, captured during the
// handshake. The returned slice must not be modified.
func (c *Conn) ServerGUID() []byte { return c.guid }

// Send appends bs to the send buffer. The bytes reach the socket on
// the next Flush.
func (c *Conn) Send(bs []byte) {
	c.wbuf = append(c.wbuf, bs...)
}

// Flush writes the send buffer to the socket and empties it.
func (c *Conn) Flush() error {
	if _, err := c.sock.Write(c.wbuf); err != nil {
		return err
	}
	c.wbuf = c.wbuf[:0]
	return nil
}

// Fill reads once from the socket into the receive buffer, growing
// the buffer by doubling when it is full. The peer closing the stream
// is reported as [io.ErrUnexpectedEOF]: a bus connection has no
// orderly end-of-stream.
func (c *Conn) Fill() error {
	if c.rend == len(c.rbuf) {
		grown := make([]byte, 2*len(c.rbuf))
		copy(grown, c.rbuf)
		c.rbuf = grown
	}
	n, err := c.sock.Read(c.rbuf[c.rend:])
	c.rend += n
	if n > 0 {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Buffered returns the received bytes that have not been consumed
// yet. The slice is only valid until the next Fill or Consume.
func (c *Conn) Buffered() []byte { return c.rbuf[:c.rend] }

// Consume discards n bytes from the front of the receive buffer,
// compacting the remainder to the start so that message-relative
// offsets begin at zero again.
func (c *Conn) Consume(n int) {
	copy(c.rbuf, c.rbuf[n:c.rend])
	c.rend -= n
}

// SetDeadline sets the socket read/write deadline.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.sock.SetDeadline(t)
}

// Close closes the socket. Any outstanding read fails immediately.
func (c *Conn) Close() error {
	return c.sock.Close()
}
