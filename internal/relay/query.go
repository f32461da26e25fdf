package relay

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/1ureka/dprox/internal/protocol"
	"github.com/1ureka/dprox/internal/transport"
	"github.com/1ureka/dprox/internal/util"
)

// DefaultQueryTimeout bounds the wait for a QUERY reply.
const DefaultQueryTimeout = 5 * time.Second

// ErrQueryTimeout is returned when the rendezvous does not answer in time.
var ErrQueryTimeout = errors.New("no reply from rendezvous")

// QueryConn is a socket that supports bounded receives.
type QueryConn interface {
	Sender
	Recv(buf []byte) (int, netip.AddrPort, error)
	SetReadDeadline(t time.Time) error
}

// Query asks the rendezvous for its registry snapshot and waits for one
// reply. Datagrams from other senders or of other kinds are skipped.
func Query(ctx context.Context, conn QueryConn, rendezvous netip.AddrPort, timeout time.Duration) (*protocol.Snapshot, error) {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}

	if err := conn.SendTo(protocol.EncodeQuery(), rendezvous); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}
	defer conn.SetReadDeadline(time.Time{})

	// Cancellation expires the deadline early to unblock Recv.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, transport.MaxDatagramSize)
	for {
		n, from, err := conn.Recv(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, fmt.Errorf("%w after %s", ErrQueryTimeout, timeout)
			}
			return nil, fmt.Errorf("failed to receive query reply: %w", err)
		}

		if from != rendezvous || protocol.Classify(buf[:n]) != protocol.KindQuery {
			util.LogDebug("ignoring %d bytes from %s while waiting for query reply", n, from)
			continue
		}
		return protocol.DecodeSnapshot(buf[:n])
	}
}
