package protocol

import (
	"fmt"
	"net"

	"github.com/songgao/water/waterutil"
)

// Tunneled packets follow a 20-byte fixed-header convention: the source
// address occupies bytes 12..15 and the destination address bytes 16..19.
// Only the trailing octet of each is read.
const (
	AddrHeaderSize = 20
	srcIDOffset    = 15
	dstIDOffset    = 19
)

// ExtractDestID returns the receiver identity embedded in a tunneled packet.
func ExtractDestID(pkt []byte) (NodeID, error) {
	if len(pkt) < AddrHeaderSize {
		return 0, ErrShortPacket
	}
	return NodeID(pkt[dstIDOffset]), nil
}

// ExtractSrcID returns the sender identity embedded in a tunneled packet.
func ExtractSrcID(pkt []byte) (NodeID, error) {
	if len(pkt) < AddrHeaderSize {
		return 0, ErrShortPacket
	}
	return NodeID(pkt[srcIDOffset]), nil
}

// Describe renders a tunneled packet for debug logs.
func Describe(pkt []byte) string {
	if len(pkt) < AddrHeaderSize {
		return fmt.Sprintf("short packet (%d bytes)", len(pkt))
	}
	if !waterutil.IsIPv4(pkt) {
		return fmt.Sprintf("non-IPv4 packet (%d bytes) %s -> %s",
			len(pkt), net.IP(pkt[12:16]), net.IP(pkt[16:20]))
	}
	return fmt.Sprintf("%s %s -> %s (%d bytes)",
		protoName(waterutil.IPv4Protocol(pkt)),
		waterutil.IPv4Source(pkt), waterutil.IPv4Destination(pkt), len(pkt))
}

func protoName(p waterutil.IPProtocol) string {
	switch p {
	case waterutil.ICMP:
		return "icmp"
	case waterutil.TCP:
		return "tcp"
	case waterutil.UDP:
		return "udp"
	default:
		return fmt.Sprintf("proto=%d", uint8(p))
	}
}
