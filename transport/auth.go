package transport

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// serverGUIDLen is the length of the hex GUID the bus daemon sends in
// its OK response.
const serverGUIDLen = 32

// AuthError is the error returned when the SASL handshake fails,
// either because of an I/O failure or because the server's response
// violated the protocol.
type AuthError struct {
	// Reason describes the handshake step that failed.
	Reason string
	// Err is the underlying I/O failure, if any.
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "authenticating with bus: " + e.Reason
	}
	return fmt.Sprintf("authenticating with bus: %s: %v", e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ExternalIdentity returns the SASL EXTERNAL identity for the current
// user: the uid in decimal, with each digit character in turn encoded
// as two hex digits of its ASCII code. A uid of 1000 becomes
// "31303030". This is the encoding bus daemons expect for the
// EXTERNAL mechanism; the numeric value itself is never hex-encoded.
func ExternalIdentity() string {
	return hex.EncodeToString([]byte(strconv.Itoa(os.Getuid())))
}

// handshake authenticates to the bus. In theory this is an open-ended
// SASL negotiation; in practice a bus reached over a unix socket
// authenticates the client using the peer credentials on the socket,
// so a single AUTH EXTERNAL round trip either succeeds or the
// connection is useless. One attempt is made, with no retry.
//
// After BEGIN is sent the stream carries only binary frames, and
// nothing line-oriented touches the buffer again.
func (c *Conn) handshake(identity string) error {
	c.Send([]byte("\x00AUTH EXTERNAL " + identity + "\r\n"))
	if err := c.Flush(); err != nil {
		return &AuthError{Reason: "sending AUTH EXTERNAL", Err: err}
	}

	line, err := c.readLine()
	if err != nil {
		return &AuthError{Reason: "reading AUTH response", Err: err}
	}
	guid, ok := strings.CutPrefix(line, "OK ")
	if !ok {
		return &AuthError{Reason: fmt.Sprintf("server said %q", line)}
	}
	if len(guid) < serverGUIDLen {
		return &AuthError{Reason: fmt.Sprintf("truncated server GUID %q", guid)}
	}
	c.guid = []byte(guid[:serverGUIDLen])

	c.Send([]byte("BEGIN\r\n"))
	if err := c.Flush(); err != nil {
		return &AuthError{Reason: "sending BEGIN", Err: err}
	}
	return nil
}

// readLine reads one CRLF-terminated line through the receive buffer
// and consumes it, returning the line without its terminator.
func (c *Conn) readLine() (string, error) {
	for {
		if i := bytes.IndexByte(c.Buffered(), '\n'); i >= 0 {
			if i == 0 || c.rbuf[i-1] != '\r' {
				return "", errors.New(`response line not terminated by \r\n`)
			}
			line := string(c.rbuf[:i-1])
			c.Consume(i + 1)
			return line, nil
		}
		if err := c.Fill(); err != nil {
			return "", err
		}
	}
}
