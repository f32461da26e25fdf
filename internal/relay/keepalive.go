package relay

import (
	"context"
	"net/netip"
	"time"

	"github.com/1ureka/dprox/internal/protocol"
	"github.com/1ureka/dprox/internal/util"
)

// DefaultHeartbeat is the REGISTER interval. It stays well under common NAT
// UDP binding timeouts.
const DefaultHeartbeat = 3 * time.Second

// Keepalive sends REGISTER(self) to the rendezvous right away and then every
// interval until ctx is cancelled. Send failures are logged and retried on
// the next tick. It never touches the registry or the device.
func Keepalive(ctx context.Context, out Sender, self protocol.NodeID, rendezvous netip.AddrPort, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	msg := protocol.EncodeRegister(self)
	for {
		if err := out.SendTo(msg, rendezvous); err != nil {
			util.LogWarning("heartbeat to %s failed: %v", rendezvous, err)
		} else {
			util.LogDebug("heartbeat %s -> %s", self, rendezvous)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
