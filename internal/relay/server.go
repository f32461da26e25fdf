package relay

import (
	"context"

	"github.com/1ureka/dprox/internal/protocol"
	"github.com/1ureka/dprox/internal/registry"
	"github.com/1ureka/dprox/internal/util"
)

// ServerOptions configures the rendezvous role.
type ServerOptions struct {
	Self protocol.NodeID
}

// RunServer runs the rendezvous forwarding loop until ctx is cancelled.
// The loop is the registry's only writer on the forwarding path. dev and conn
// are closed on return.
func RunServer(ctx context.Context, dev Device, conn Conn, reg *registry.Registry, opts ServerOptions) error {
	self := opts.Self
	d := NewDispatcher(self, reg, dev, conn)
	l := &loop{
		dev:      dev,
		conn:     conn,
		onDevice: d.HandleOutbound,
		onSocket: d.HandleDatagram,
	}

	util.LogInfo("rendezvous %s relaying (%d known nodes)", self, reg.Len())
	return l.run(ctx)
}
