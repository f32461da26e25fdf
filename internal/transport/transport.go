// Package transport wraps the UDP socket shared by the forwarding loop and the
// keepalive task.
package transport

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/1ureka/dprox/internal/util"
)

// MaxDatagramSize bounds a single receive. It covers the largest UDP payload.
const MaxDatagramSize = 64 * 1024

// ErrClosed is returned by Recv after Close.
var ErrClosed = errors.New("transport closed")

// Transport is a UDP socket that counts the traffic it carries.
// Send methods are safe for concurrent use; Recv must have a single caller.
type Transport struct {
	conn *net.UDPConn

	closeOnce sync.Once
	closed    chan struct{}
}

// Listen binds a UDP socket on addr (e.g. "0.0.0.0:8080" or ":0").
func Listen(addr string) (*Transport, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve listen address %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind UDP socket on %s: %w", addr, err)
	}
	return New(conn), nil
}

// New wraps an existing socket.
func New(conn *net.UDPConn) *Transport {
	return &Transport{conn: conn, closed: make(chan struct{})}
}

// Resolve turns host and port into a concrete address.
func Resolve(host string, port int) (netip.AddrPort, error) {
	if port < 1 || port > 65535 {
		return netip.AddrPort{}, fmt.Errorf("invalid port %d", port)
	}
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("failed to resolve %s:%d: %w", host, port, err)
	}
	ap := raddr.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// LocalAddr returns the bound address.
func (t *Transport) LocalAddr() netip.AddrPort {
	ap := t.conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// Close shuts the socket down. Safe to call more than once.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}

// Done returns a channel that is closed once Close has been called.
func (t *Transport) Done() <-chan struct{} {
	return t.closed
}

// SetReadDeadline bounds the next Recv.
func (t *Transport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// Recv reads one datagram into buf. After Close it returns ErrClosed.
func (t *Transport) Recv(buf []byte) (int, netip.AddrPort, error) {
	n, from, err := t.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		select {
		case <-t.closed:
			return 0, netip.AddrPort{}, ErrClosed
		default:
		}
		return 0, netip.AddrPort{}, err
	}
	util.Stats.AddRecv(n)
	return n, netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), nil
}

// SendTo writes one datagram to addr.
func (t *Transport) SendTo(buf []byte, addr netip.AddrPort) error {
	n, err := t.conn.WriteToUDPAddrPort(buf, addr)
	if err != nil {
		return fmt.Errorf("failed to send %d bytes to %s: %w", len(buf), addr, err)
	}
	util.Stats.AddSent(n)
	return nil
}
