package relay

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/1ureka/dprox/internal/protocol"
	"github.com/1ureka/dprox/internal/util"
)

// peer holds the peer-side forwarding state. All traffic goes through the
// rendezvous; no other correspondent is accepted.
type peer struct {
	dev        Device
	conn       Conn
	rendezvous netip.AddrPort
}

// PeerOptions configures the peer role.
type PeerOptions struct {
	Self       protocol.NodeID
	Rendezvous netip.AddrPort
}

// RunPeer runs the peer forwarding loop until ctx is cancelled. dev and conn
// are closed on return.
func RunPeer(ctx context.Context, dev Device, conn Conn, opts PeerOptions) error {
	p := &peer{dev: dev, conn: conn, rendezvous: opts.Rendezvous}
	l := &loop{
		dev:      dev,
		conn:     conn,
		onDevice: p.handleDevice,
		onSocket: p.handleDatagram,
	}

	util.LogInfo("node %s tunneling through %s", opts.Self, opts.Rendezvous)
	return l.run(ctx)
}

func (p *peer) handleDevice(pkt []byte) error {
	return p.conn.SendTo(protocol.EncodeData(pkt), p.rendezvous)
}

func (p *peer) handleDatagram(buf []byte, from netip.AddrPort) error {
	if from != p.rendezvous {
		return fmt.Errorf("%d bytes from %s: %w", len(buf), from, ErrForeignSender)
	}

	switch kind := protocol.Classify(buf); kind {
	case protocol.KindData:
		payload := protocol.Payload(buf)
		if len(payload) == 0 {
			return fmt.Errorf("empty data datagram: %w", protocol.ErrMalformed)
		}
		if _, err := p.dev.Write(payload); err != nil {
			return fmt.Errorf("device write (%s): %w", protocol.Describe(payload), err)
		}
		return nil

	case protocol.KindMalformed:
		return fmt.Errorf("%d bytes from rendezvous: %w", len(buf), protocol.ErrMalformed)

	default:
		return fmt.Errorf("%s from rendezvous: %w", kind, ErrProtocolMismatch)
	}
}
