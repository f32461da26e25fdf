package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/1ureka/dprox/internal/config"
	"github.com/1ureka/dprox/internal/natprobe"
	"github.com/1ureka/dprox/internal/relay"
	"github.com/1ureka/dprox/internal/transport"
	"github.com/1ureka/dprox/internal/tun"
	"github.com/1ureka/dprox/internal/util"
)

const probeTimeout = 3 * time.Second

// RunClient orchestrates the peer lifecycle:
//  1. Resolve the rendezvous and bind an ephemeral UDP socket
//  2. Optionally learn the public mapping of that socket over STUN
//  3. Open the TUN device
//  4. Run the heartbeat and the forwarding loop until either fails or ctx ends
func RunClient(ctx context.Context, cfg *config.Config) error {
	self := pickClientID(cfg.Client.ID)
	subnet, err := cfg.Subnet()
	if err != nil {
		return err
	}
	addr, err := tun.AddrFor(subnet, self)
	if err != nil {
		return err
	}

	// ── 1. Socket ──────────────────────────────────────────────────────
	rendezvous, err := transport.Resolve(cfg.Client.Server, cfg.Client.Port)
	if err != nil {
		return err
	}
	conn, err := transport.Listen(":0")
	if err != nil {
		return err
	}
	defer conn.Close()

	// ── 2. Public endpoint ─────────────────────────────────────────────
	public := "unknown"
	if cfg.Client.StunServer != "" {
		if mapped, err := probe(ctx, conn, cfg.Client.StunServer); err != nil {
			util.LogWarning("STUN probe failed: %v", err)
		} else {
			public = mapped
		}
	}

	// ── 3. Device ──────────────────────────────────────────────────────
	dev, err := tun.Open(tun.Config{Name: cfg.Tun.Name, Addr: addr, MTU: cfg.Tun.MTU})
	if err != nil {
		return err
	}
	defer dev.Close()

	printSummary("Peer", [][2]string{
		{"Node", self.String()},
		{"Rendezvous", rendezvous.String()},
		{"Socket", conn.LocalAddr().String()},
		{"Public", public},
		{"Interface", dev.Name() + " " + addr.String()},
	})

	util.StartStatsReporter(ctx, cfg.Log.StatsEvery)

	// ── 4. Heartbeat + loop ────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Keepalive(gctx, conn, self, rendezvous, cfg.Client.Heartbeat)
	})
	g.Go(func() error {
		return relay.RunPeer(gctx, dev, conn, relay.PeerOptions{Self: self, Rendezvous: rendezvous})
	})
	return g.Wait()
}

func probe(ctx context.Context, conn *transport.Transport, server string) (string, error) {
	addr, err := natprobe.Resolve(server)
	if err != nil {
		return "", err
	}
	mapped, err := natprobe.Probe(ctx, conn, addr, probeTimeout)
	if err != nil {
		return "", err
	}
	util.LogInfo("public endpoint %s (via %s)", mapped, addr)
	return mapped.String(), nil
}
