package transport

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
)

// pipeConn returns a transport Conn wrapped around one end of an
// in-memory pipe, with a small receive buffer so growth paths get
// exercised, plus the peer's end.
func pipeConn() (*Conn, net.Conn) {
	client, server := net.Pipe()
	return &Conn{sock: client, rbuf: make([]byte, 4)}, server
}

func TestFillConsume(t *testing.T) {
	c, peer := pipeConn()
	defer c.Close()

	payload := []byte("0123456789abcdef")
	go func() {
		peer.Write(payload)
		peer.Close()
	}()

	// Fill until the whole payload is buffered, growing the buffer by
	// doubling along the way.
	for len(c.Buffered()) < len(payload) {
		if err := c.Fill(); err != nil {
			t.Fatalf("Fill() failed: %v", err)
		}
	}
	if !bytes.Equal(c.Buffered(), payload) {
		t.Fatalf("Buffered() = %q, want %q", c.Buffered(), payload)
	}

	// Consume in two steps; no bytes may be lost or duplicated.
	c.Consume(3)
	if want := payload[3:]; !bytes.Equal(c.Buffered(), want) {
		t.Fatalf("after Consume(3), Buffered() = %q, want %q", c.Buffered(), want)
	}
	c.Consume(5)
	if want := payload[8:]; !bytes.Equal(c.Buffered(), want) {
		t.Fatalf("after Consume(5), Buffered() = %q, want %q", c.Buffered(), want)
	}

	// The peer hung up, which is never an orderly event.
	if err := c.Fill(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Fill() after close = %v, want ErrUnexpectedEOF", err)
	}
}

func TestSendFlush(t *testing.T) {
	c, peer := pipeConn()
	defer c.Close()

	got := make(chan []byte, 1)
	go func() {
		bs, _ := io.ReadAll(peer)
		got <- bs
	}()

	c.Send([]byte("hello "))
	c.Send([]byte("bus"))
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	c.Send([]byte("!"))
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	c.Close()

	if bs, want := <-got, "hello bus!"; string(bs) != want {
		t.Fatalf("peer received %q, want %q", bs, want)
	}
}

// fakeBusAuth runs the server half of the handshake, answering the
// AUTH line with resp, and returns the auth line it read.
func fakeBusAuth(t *testing.T, peer net.Conn, resp string) <-chan string {
	t.Helper()
	authLine := make(chan string, 1)
	go func() {
		defer peer.Close()
		br := bufio.NewReader(peer)
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		authLine <- line
		if _, err := io.WriteString(peer, resp); err != nil {
			return
		}
		br.ReadString('\n') // BEGIN, or the client hanging up
	}()
	return authLine
}

func TestHandshake(t *testing.T) {
	const guid = "1fc834d6bcaa1f0cba8a702a00004e1c"

	c, peer := pipeConn()
	defer c.Close()
	authLine := fakeBusAuth(t, peer, "OK "+guid+"\r\n")

	if err := c.handshake("31303030"); err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	if got := <-authLine; got != "\x00AUTH EXTERNAL 31303030\r\n" {
		t.Errorf("server read auth line %q", got)
	}
	if got := string(c.ServerGUID()); got != guid {
		t.Errorf("ServerGUID() = %q, want %q", got, guid)
	}
}

func TestHandshakeFailures(t *testing.T) {
	tests := []struct {
		name string
		resp string
	}{
		{"rejected", "REJECTED EXTERNAL\r\n"},
		{"error response", "ERROR\r\n"},
		{"missing carriage return", "OK 1fc834d6bcaa1f0cba8a702a00004e1c\n"},
		{"truncated guid", "OK 1fc834\r\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, peer := pipeConn()
			defer c.Close()
			fakeBusAuth(t, peer, tc.resp)

			err := c.handshake("31303030")
			var authErr *AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("handshake returned %v, want AuthError", err)
			}
		})
	}
}

func TestHandshakeEOF(t *testing.T) {
	c, peer := pipeConn()
	defer c.Close()
	go func() {
		br := bufio.NewReader(peer)
		br.ReadString('\n')
		peer.Close() // hang up instead of answering
	}()

	err := c.handshake("31303030")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("handshake returned %v, want AuthError", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("handshake error %v does not wrap ErrUnexpectedEOF", err)
	}
}

func TestExternalIdentity(t *testing.T) {
	id := ExternalIdentity()
	if id == "" {
		t.Fatal("ExternalIdentity() is empty")
	}
	// Every byte is the hex encoding of an ASCII decimal digit:
	// "1000" encodes as "31303030".
	for i := 0; i+1 < len(id); i += 2 {
		if id[i] != '3' || !strings.ContainsRune("0123456789", rune(id[i+1])) {
			t.Fatalf("ExternalIdentity() = %q, not a digit-wise hex uid", id)
		}
	}
}
