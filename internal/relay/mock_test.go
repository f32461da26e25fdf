package relay

import (
	"errors"
	"io"
	"net/netip"
	"sync"
	"time"
)

func ap(s string) netip.AddrPort { return netip.MustParseAddrPort(s) }

// ipv4Packet builds a minimal IPv4 header with the given last octets of the
// source and destination addresses.
func ipv4Packet(src, dst byte, extra int) []byte {
	pkt := make([]byte, 20+extra)
	pkt[0] = 0x45
	pkt[9] = 17
	copy(pkt[12:16], []byte{10, 0, 0, src})
	copy(pkt[16:20], []byte{10, 0, 0, dst})
	for i := 20; i < len(pkt); i++ {
		pkt[i] = byte(i)
	}
	return pkt
}

type sent struct {
	buf  []byte
	addr netip.AddrPort
}

// recordSender captures every datagram handed to it.
type recordSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (s *recordSender) SendTo(buf []byte, addr netip.AddrPort) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sent{buf: append([]byte(nil), buf...), addr: addr})
	return nil
}

func (s *recordSender) all() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent(nil), s.sent...)
}

// memDevice is an in-memory virtual interface. Packets queued with inject
// come out of Read; packets passed to Write are captured.
type memDevice struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written [][]byte
	wrote   chan struct{}
}

func newMemDevice() *memDevice {
	return &memDevice{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
		wrote:  make(chan struct{}, 64),
	}
}

func (d *memDevice) inject(pkt []byte) { d.in <- pkt }

func (d *memDevice) Read(p []byte) (int, error) {
	select {
	case pkt := <-d.in:
		return copy(p, pkt), nil
	case <-d.closed:
		return 0, io.EOF
	}
}

func (d *memDevice) Write(p []byte) (int, error) {
	select {
	case <-d.closed:
		return 0, errors.New("device closed")
	default:
	}
	d.mu.Lock()
	d.written = append(d.written, append([]byte(nil), p...))
	d.mu.Unlock()
	select {
	case d.wrote <- struct{}{}:
	default:
	}
	return len(p), nil
}

func (d *memDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

func (d *memDevice) packets() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.written...)
}

func (d *memDevice) waitWrite(t interface{ Fatal(...any) }, timeout time.Duration) {
	select {
	case <-d.wrote:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for device write")
	}
}
