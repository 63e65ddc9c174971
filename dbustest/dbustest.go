// Package dbustest provides an in-process fake bus daemon for tests.
//
// The fake speaks the real wire protocol over a unix socket: the SASL
// EXTERNAL handshake followed by binary frames. It answers a small
// set of canned methods (Hello, ListNames, the Properties Get method)
// and returns proper bus errors for everything else, which is enough
// to exercise a client end to end without a dbus-daemon binary.
package dbustest

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/creachadair/mds/mapset"
	"golang.org/x/sync/errgroup"

	dbus "github.com/tdryer/dbus-pure"
	"github.com/tdryer/dbus-pure/fragments"
)

const busName = "org.freedesktop.DBus"

// Bus is a fake bus daemon listening on a unix socket.
type Bus struct {
	sock string
	ln   net.Listener
	grp  *errgroup.Group

	// StraySignals makes the bus emit a signal frame before every
	// method reply, to exercise clients' frame discarding. Set it
	// before connecting.
	StraySignals bool

	mu         sync.Mutex
	names      mapset.Set[string]
	props      map[string]dbus.Value
	nextUnique int
}

// New starts a fake bus listening in the test's temporary directory.
// It is shut down when the test finishes.
func New(t *testing.T) *Bus {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "bus.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listening on fake bus socket: %v", err)
	}
	b := &Bus{
		sock:  sock,
		ln:    ln,
		grp:   new(errgroup.Group),
		names: mapset.New(busName),
		props: map[string]dbus.Value{},
	}
	b.grp.Go(b.acceptLoop)
	t.Cleanup(func() {
		ln.Close()
		b.grp.Wait()
	})
	return b
}

// Socket returns the path of the bus's unix socket.
func (b *Bus) Socket() string { return b.sock }

// AddName registers an additional well-known name on the bus, making
// it appear in ListNames replies and routable for property reads.
func (b *Bus) AddName(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names.Add(name)
}

// RemoveName deregisters a name; method calls addressed to it then
// fail with ServiceUnknown.
func (b *Bus) RemoveName(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names.Remove(name)
}

// SetProperty sets the value served for Properties.Get calls against
// iface/prop on any registered destination.
func (b *Bus) SetProperty(iface, prop string, val dbus.Value) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.props[iface+"."+prop] = val
}

func (b *Bus) acceptLoop() error {
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			// Listener closed, test is over.
			return nil
		}
		b.grp.Go(func() error {
			defer conn.Close()
			if err := b.serve(conn); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("fake bus connection: %w", err)
			}
			return nil
		})
	}
}

func (b *Bus) serve(conn net.Conn) error {
	br := bufio.NewReader(conn)
	if err := b.handshake(conn, br); err != nil {
		return err
	}
	unique := b.uniqueName()
	for {
		call, err := readFrame(br)
		if err != nil {
			return err
		}
		if err := b.reply(conn, unique, call); err != nil {
			return err
		}
	}
}

func (b *Bus) uniqueName() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextUnique++
	return fmt.Sprintf(":1.%d", b.nextUnique)
}

// handshake performs the server half of the SASL exchange: NUL byte,
// AUTH EXTERNAL line, OK with a 32-character GUID, then BEGIN.
func (b *Bus) handshake(conn net.Conn, br *bufio.Reader) error {
	nul, err := br.ReadByte()
	if err != nil {
		return err
	}
	if nul != 0 {
		return fmt.Errorf("auth preamble started with %#x, want NUL", nul)
	}
	line, err := br.ReadString('\n')
	if err != nil {
		return err
	}
	if !strings.HasPrefix(line, "AUTH EXTERNAL ") || !strings.HasSuffix(line, "\r\n") {
		return fmt.Errorf("unexpected auth line %q", line)
	}
	if _, err := io.WriteString(conn, "OK 00000000000000000000000000abcdef\r\n"); err != nil {
		return err
	}
	line, err = br.ReadString('\n')
	if err != nil {
		return err
	}
	if line != "BEGIN\r\n" {
		return fmt.Errorf("expected BEGIN, got %q", line)
	}
	return nil
}

// call is the subset of an incoming frame the fake bus routes on.
type call struct {
	serial      uint32
	destination string
	member      string
	body        []dbus.Value
}

// readFrame reads and decodes one method call frame.
func readFrame(br *bufio.Reader) (*call, error) {
	pro := make([]byte, 16)
	if _, err := io.ReadFull(br, pro); err != nil {
		return nil, err
	}
	order, err := fragments.OrderForFlag(pro[0])
	if err != nil {
		return nil, err
	}
	bodyLen := int(order.Uint32(pro[4:8]))
	fieldsLen := int(order.Uint32(pro[12:16]))
	headerLen := 16 + fieldsLen
	if pad := headerLen % 8; pad != 0 {
		headerLen += 8 - pad
	}
	frame := make([]byte, headerLen+bodyLen)
	copy(frame, pro)
	if _, err := io.ReadFull(br, frame[16:]); err != nil {
		return nil, err
	}

	d := fragments.NewDecoder(order, frame)
	d.Read(4) // order, type, flags, version
	d.Uint32() // body length
	ret := &call{}
	if ret.serial, err = d.Uint32(); err != nil {
		return nil, err
	}
	fields, err := dbus.Unmarshal(d, "a(yv)")
	if err != nil {
		return nil, err
	}
	var sig dbus.Signature
	for _, f := range fields.(dbus.Array).Values {
		entry := f.(dbus.Struct)
		code := entry.Fields[0].(dbus.Byte)
		val := entry.Fields[1].(dbus.Variant).Value
		switch code {
		case 3:
			ret.member = string(val.(dbus.String))
		case 6:
			ret.destination = string(val.(dbus.String))
		case 8:
			sig = val.(dbus.Signature)
		}
	}
	if err := d.Pad(8); err != nil {
		return nil, err
	}
	if sig != "" {
		types, err := sig.Split()
		if err != nil {
			return nil, err
		}
		for _, t := range types {
			v, err := dbus.Unmarshal(d, t)
			if err != nil {
				return nil, err
			}
			ret.body = append(ret.body, v)
		}
	}
	return ret, nil
}

func (b *Bus) reply(conn net.Conn, unique string, c *call) error {
	if b.StraySignals {
		sig := frame{
			typ:    4, // signal
			serial: b.serialFor(c.serial),
			fields: []field{
				{1, dbus.ObjectPath("/org/freedesktop/DBus")},
				{2, dbus.String(busName)},
				{3, dbus.String("NameAcquired")},
				{7, dbus.String(busName)},
			},
			body: []dbus.Value{dbus.String(unique)},
		}
		if err := writeFrame(conn, &sig); err != nil {
			return err
		}
	}

	if !b.knownName(c.destination) {
		return writeFrame(conn, b.errorFrame(c,
			"org.freedesktop.DBus.Error.ServiceUnknown",
			fmt.Sprintf("The name %s was not provided by any .service files", c.destination)))
	}

	switch c.member {
	case "Hello":
		return writeFrame(conn, b.returnFrame(c, dbus.String(unique)))
	case "ListNames":
		names := b.listNames()
		vals := make([]dbus.Value, len(names))
		for i, n := range names {
			vals[i] = dbus.String(n)
		}
		return writeFrame(conn, b.returnFrame(c, dbus.Array{Elem: "s", Values: vals}))
	case "Get":
		if len(c.body) != 2 {
			return writeFrame(conn, b.errorFrame(c,
				"org.freedesktop.DBus.Error.InvalidArgs", "Get expects two arguments"))
		}
		iface, _ := c.body[0].(dbus.String)
		prop, _ := c.body[1].(dbus.String)
		b.mu.Lock()
		val, ok := b.props[string(iface)+"."+string(prop)]
		b.mu.Unlock()
		if !ok {
			return writeFrame(conn, b.errorFrame(c,
				"org.freedesktop.DBus.Error.UnknownProperty",
				fmt.Sprintf("no property %s on %s", prop, iface)))
		}
		return writeFrame(conn, b.returnFrame(c, dbus.Variant{Value: val}))
	default:
		return writeFrame(conn, b.errorFrame(c,
			"org.freedesktop.DBus.Error.UnknownMethod",
			fmt.Sprintf("no method %q", c.member)))
	}
}

func (b *Bus) knownName(dest string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.names.Has(dest)
}

func (b *Bus) listNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.names))
	for n := range b.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// serialFor allocates a serial for a bus-originated frame, well away
// from client serials so tests can tell them apart.
func (b *Bus) serialFor(clientSerial uint32) uint32 {
	return clientSerial + 1_000_000
}

// frame is an outgoing message under construction.
type frame struct {
	typ    uint8
	serial uint32
	fields []field
	body   []dbus.Value
}

type field struct {
	code uint8
	val  dbus.Value
}

func (b *Bus) returnFrame(c *call, body ...dbus.Value) *frame {
	return &frame{
		typ:    2, // method return
		serial: b.serialFor(c.serial),
		fields: []field{
			{5, dbus.Uint32(c.serial)},
			{7, dbus.String(busName)},
		},
		body: body,
	}
}

func (b *Bus) errorFrame(c *call, name, detail string) *frame {
	return &frame{
		typ:    3, // error
		serial: b.serialFor(c.serial),
		fields: []field{
			{4, dbus.String(name)},
			{5, dbus.Uint32(c.serial)},
			{7, dbus.String(busName)},
		},
		body: []dbus.Value{dbus.String(detail)},
	}
}

func writeFrame(conn net.Conn, f *frame) error {
	var bodySig strings.Builder
	for _, v := range f.body {
		bodySig.WriteString(string(v.Signature()))
	}
	fields := f.fields
	if bodySig.Len() > 0 {
		fields = append(fields, field{8, dbus.Signature(bodySig.String())})
	}

	e := &fragments.Encoder{Order: fragments.LittleEndian}
	e.ByteOrderFlag()
	e.Uint8(f.typ)
	e.Uint8(1) // NO_REPLY_EXPECTED: the fake never wants replies
	e.Uint8(1) // protocol version
	lengthOffset := len(e.Out)
	e.Uint32(0)
	e.Uint32(f.serial)

	fieldVals := make([]dbus.Value, len(fields))
	for i, fl := range fields {
		fieldVals[i] = dbus.Struct{Fields: []dbus.Value{
			dbus.Byte(fl.code),
			dbus.Variant{Value: fl.val},
		}}
	}
	if err := dbus.Marshal(e, dbus.Array{Elem: "(yv)", Values: fieldVals}); err != nil {
		return err
	}
	e.Pad(8)
	bodyStart := len(e.Out)
	for _, v := range f.body {
		if err := dbus.Marshal(e, v); err != nil {
			return err
		}
	}
	binary.LittleEndian.PutUint32(e.Out[lengthOffset:], uint32(len(e.Out)-bodyStart))

	_, err := conn.Write(e.Out)
	return err
}
