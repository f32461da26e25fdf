// Package relay implements the rendezvous dispatcher, the forwarding loops of
// both roles, the peer keepalive and the one-shot registry query.
package relay

import (
	"errors"
	"io"
	"net/netip"

	"github.com/1ureka/dprox/internal/protocol"
	"github.com/1ureka/dprox/internal/transport"
	"github.com/1ureka/dprox/internal/util"
)

// Sender writes one datagram to addr. Implementations must be safe for
// concurrent use.
type Sender interface {
	SendTo(buf []byte, addr netip.AddrPort) error
}

// Conn is the socket side of a forwarding loop.
type Conn interface {
	Sender
	Recv(buf []byte) (int, netip.AddrPort, error)
	Close() error
}

// Device is the virtual interface side of a forwarding loop. Each Read and
// Write carries one whole packet.
type Device = io.ReadWriteCloser

// Compile-time interface check.
var _ Conn = (*transport.Transport)(nil)

var (
	// ErrNoRoute marks a packet whose destination is not registered.
	ErrNoRoute = errors.New("no route to node")

	// ErrProtocolMismatch marks a datagram kind the receiving role never expects.
	ErrProtocolMismatch = errors.New("unexpected datagram kind")

	// ErrForeignSender marks a datagram from an address other than the rendezvous.
	ErrForeignSender = errors.New("datagram from unexpected sender")
)

// report logs the outcome of one handled event at the level its kind calls
// for. Nothing here terminates the loop.
func report(source string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, protocol.ErrMalformed),
		errors.Is(err, ErrNoRoute),
		errors.Is(err, ErrForeignSender):
		util.Stats.AddDropped()
		util.LogDebug("%s: dropped: %v", source, err)
	case errors.Is(err, ErrProtocolMismatch):
		util.Stats.AddDropped()
		util.LogWarning("%s: %v", source, err)
	default:
		util.LogWarning("%s: %v", source, err)
	}
}
