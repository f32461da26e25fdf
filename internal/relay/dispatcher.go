package relay

import (
	"fmt"
	"io"
	"net/netip"

	"github.com/1ureka/dprox/internal/protocol"
	"github.com/1ureka/dprox/internal/registry"
	"github.com/1ureka/dprox/internal/util"
)

// Dispatcher routes traffic on the rendezvous. It owns no goroutines; the
// server loop calls it from a single goroutine, one event at a time.
type Dispatcher struct {
	self protocol.NodeID
	reg  *registry.Registry
	dev  io.Writer
	out  Sender
}

// NewDispatcher creates a dispatcher for the rendezvous identified by self.
func NewDispatcher(self protocol.NodeID, reg *registry.Registry, dev io.Writer, out Sender) *Dispatcher {
	return &Dispatcher{self: self, reg: reg, dev: dev, out: out}
}

// HandleDatagram processes one datagram received from the network.
func (d *Dispatcher) HandleDatagram(buf []byte, from netip.AddrPort) error {
	switch protocol.Classify(buf) {
	case protocol.KindRegister:
		return d.handleRegister(buf, from)
	case protocol.KindQuery:
		return d.handleQuery(from)
	case protocol.KindData:
		return d.handleData(protocol.Payload(buf), from)
	default:
		return fmt.Errorf("%d bytes from %s: %w", len(buf), from, protocol.ErrMalformed)
	}
}

func (d *Dispatcher) handleRegister(buf []byte, from netip.AddrPort) error {
	id, err := protocol.RegisterID(buf)
	if err != nil {
		return err
	}
	if !id.Valid() {
		return fmt.Errorf("register from %s with reserved id %d: %w", from, id, protocol.ErrMalformed)
	}
	if d.reg.Upsert(id, from) {
		util.LogInfo("node %s registered at %s", id, from)
	}
	return nil
}

func (d *Dispatcher) handleQuery(from netip.AddrPort) error {
	snap := registry.ToSnapshot(d.self, d.reg.Snapshot())
	buf, err := protocol.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	util.LogDebug("query from %s: %d nodes", from, len(snap.Nodes))
	return d.out.SendTo(buf, from)
}

// handleData learns the sender from the packet's source octet, then either
// relays the packet straight to its registered destination or hands it to
// the local interface.
func (d *Dispatcher) handleData(pkt []byte, from netip.AddrPort) error {
	src, err := protocol.ExtractSrcID(pkt)
	if err != nil {
		return fmt.Errorf("data from %s: %w", from, err)
	}
	dst, _ := protocol.ExtractDestID(pkt)

	if src.Valid() && src != d.self {
		if d.reg.Upsert(src, from) {
			util.LogInfo("node %s learned at %s", src, from)
		}
	}

	if dst != d.self {
		if addr, ok := d.reg.Lookup(dst); ok && addr != from {
			if err := d.out.SendTo(protocol.EncodeData(pkt), addr); err != nil {
				return fmt.Errorf("relay %s -> %s: %w", src, dst, err)
			}
			util.Stats.AddRelayed()
			return nil
		}
	}

	if _, err := d.dev.Write(pkt); err != nil {
		return fmt.Errorf("device write (%s): %w", protocol.Describe(pkt), err)
	}
	return nil
}

// HandleOutbound forwards a packet read from the local interface to the node
// its destination octet names.
func (d *Dispatcher) HandleOutbound(pkt []byte) error {
	dst, err := protocol.ExtractDestID(pkt)
	if err != nil {
		return fmt.Errorf("device packet: %w", err)
	}
	addr, ok := d.reg.Lookup(dst)
	if !ok {
		return fmt.Errorf("%s (%s): %w", dst, protocol.Describe(pkt), ErrNoRoute)
	}
	if err := d.out.SendTo(protocol.EncodeData(pkt), addr); err != nil {
		return fmt.Errorf("forward to %s: %w", dst, err)
	}
	return nil
}
