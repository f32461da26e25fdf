// Package natprobe discovers the public address a UDP socket is mapped to,
// using a single STUN binding request.
package natprobe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/pion/stun/v3"
)

// ErrTimeout is returned when the STUN server does not answer in time.
var ErrTimeout = errors.New("stun: no response")

// Conn is the socket the probe is sent from. It must be the tunnel socket
// itself so the reflexive address is the one the rendezvous sees.
type Conn interface {
	SendTo(buf []byte, addr netip.AddrPort) error
	Recv(buf []byte) (int, netip.AddrPort, error)
	SetReadDeadline(t time.Time) error
}

// Resolve turns a "host:port" STUN server into an address.
func Resolve(server string) (netip.AddrPort, error) {
	raddr, err := net.ResolveUDPAddr("udp4", server)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("failed to resolve STUN server %s: %w", server, err)
	}
	ap := raddr.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

// Probe sends one binding request to server and returns the XOR-mapped
// address from the matching success response. Other datagrams are skipped.
// The caller must not run anything else that reads conn meanwhile.
func Probe(ctx context.Context, conn Conn, server netip.AddrPort, timeout time.Duration) (netip.AddrPort, error) {
	req, err := stun.Build(stun.TransactionID, stun.BindingRequest, stun.Fingerprint)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("failed to build binding request: %w", err)
	}
	if err := conn.SendTo(req.Raw, server); err != nil {
		return netip.AddrPort{}, err
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return netip.AddrPort{}, err
	}
	defer conn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, 1500)
	for {
		n, from, err := conn.Recv(buf)
		if err != nil {
			if ctx.Err() != nil {
				return netip.AddrPort{}, ctx.Err()
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return netip.AddrPort{}, fmt.Errorf("%w from %s after %s", ErrTimeout, server, timeout)
			}
			return netip.AddrPort{}, err
		}
		if from != server || !stun.IsMessage(buf[:n]) {
			continue
		}

		res := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := res.Decode(); err != nil {
			continue
		}
		if res.TransactionID != req.TransactionID {
			continue
		}
		if res.Type != stun.BindingSuccess {
			return netip.AddrPort{}, fmt.Errorf("stun: unexpected response %s", res.Type)
		}

		var xor stun.XORMappedAddress
		if err := xor.GetFrom(res); err != nil {
			return netip.AddrPort{}, fmt.Errorf("stun: missing mapped address: %w", err)
		}
		ip, ok := netip.AddrFromSlice(xor.IP)
		if !ok {
			return netip.AddrPort{}, fmt.Errorf("stun: bad mapped address %v", xor.IP)
		}
		return netip.AddrPortFrom(ip.Unmap(), uint16(xor.Port)), nil
	}
}
