package protocol

import (
	"encoding/json"
	"fmt"
)

// Classify returns the kind of the datagram in buf. Empty buffers, REGISTER
// datagrams without an identity byte and unknown discriminators are
// KindMalformed.
func Classify(buf []byte) Kind {
	if len(buf) == 0 {
		return KindMalformed
	}
	switch k := Kind(buf[0]); k {
	case KindData, KindQuery:
		return k
	case KindRegister:
		if len(buf) < 2 {
			return KindMalformed
		}
		return k
	default:
		return KindMalformed
	}
}

// Payload returns the bytes following the discriminator. The result aliases buf.
func Payload(buf []byte) []byte {
	if len(buf) == 0 {
		return nil
	}
	return buf[1:]
}

// EncodeData wraps a tunneled packet into a DATA datagram.
func EncodeData(pkt []byte) []byte {
	buf := make([]byte, 1+len(pkt))
	buf[0] = byte(KindData)
	copy(buf[1:], pkt)
	return buf
}

// EncodeQuery builds a snapshot request.
func EncodeQuery() []byte {
	return []byte{byte(KindQuery)}
}

// EncodeRegister builds the heartbeat datagram announcing id.
func EncodeRegister(id NodeID) []byte {
	return []byte{byte(KindRegister), byte(id)}
}

// RegisterID returns the identity carried by a REGISTER datagram.
func RegisterID(buf []byte) (NodeID, error) {
	if Classify(buf) != KindRegister {
		return 0, fmt.Errorf("%w: not a register datagram (%d bytes)", ErrMalformed, len(buf))
	}
	return NodeID(buf[1]), nil
}

// Snapshot is the registry view returned in reply to a QUERY. It is
// diagnostic output; peers do not rely on it for relaying.
type Snapshot struct {
	Self  NodeID            `json:"me"`
	Nodes map[NodeID]string `json:"nodes"`
}

// EncodeSnapshot builds a QUERY reply. Map keys are emitted in sorted order,
// so equal snapshots always produce identical bytes.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	buf := make([]byte, 1+len(body))
	buf[0] = byte(KindQuery)
	copy(buf[1:], body)
	return buf, nil
}

// DecodeSnapshot parses a QUERY reply.
func DecodeSnapshot(buf []byte) (*Snapshot, error) {
	if Classify(buf) != KindQuery {
		return nil, fmt.Errorf("%w: not a query reply", ErrMalformed)
	}
	if len(buf) == 1 {
		return nil, fmt.Errorf("%w: empty query reply", ErrMalformed)
	}
	s := &Snapshot{}
	if err := json.Unmarshal(buf[1:], s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if s.Nodes == nil {
		s.Nodes = map[NodeID]string{}
	}
	return s, nil
}
