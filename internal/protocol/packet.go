// Package protocol defines the datagram format exchanged between peers and the
// rendezvous, and the fixed-offset addressing of tunneled packets.
package protocol

import (
	"errors"
	"fmt"
)

// Kind is the leading discriminator byte of every datagram.
type Kind uint8

// Datagram kinds. KindMalformed never appears on the wire; Classify returns it
// for buffers that cannot be handled.
const (
	KindData     Kind = 0 // tunneled packet to deliver or relay
	KindQuery    Kind = 1 // registry snapshot request (and its reply)
	KindRegister Kind = 2 // heartbeat carrying the sender's NodeID

	KindMalformed Kind = 0xFF
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "DATA"
	case KindQuery:
		return "QUERY"
	case KindRegister:
		return "REGISTER"
	default:
		return "MALFORMED"
	}
}

// NodeID is the one-byte identity of a node. It doubles as the last octet of
// the node's address on the virtual subnet.
type NodeID uint8

// Valid reports whether id is usable as a node identity (1..254).
func (id NodeID) Valid() bool {
	return id != 0 && id != 0xFF
}

func (id NodeID) String() string {
	return fmt.Sprintf("#%d", uint8(id))
}

var (
	// ErrMalformed is the root of every decoding failure.
	ErrMalformed = errors.New("malformed datagram")

	// ErrShortPacket is returned when a tunneled packet is too short to carry
	// the fixed addressing header.
	ErrShortPacket = fmt.Errorf("%w: tunneled packet shorter than %d bytes", ErrMalformed, AddrHeaderSize)
)
