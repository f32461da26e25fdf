package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/1ureka/dprox/internal/config"
	"github.com/1ureka/dprox/internal/cronjob"
	"github.com/1ureka/dprox/internal/protocol"
	"github.com/1ureka/dprox/internal/registry"
	"github.com/1ureka/dprox/internal/relay"
	"github.com/1ureka/dprox/internal/status"
	"github.com/1ureka/dprox/internal/transport"
	"github.com/1ureka/dprox/internal/tun"
	"github.com/1ureka/dprox/internal/util"
)

// RunServer orchestrates the rendezvous lifecycle:
//  1. Bind the UDP socket and open the TUN device
//  2. Restore the registry from its store, if any
//  3. Start the maintenance jobs and the status feed
//  4. Relay until ctx is cancelled, then save the registry once more
func RunServer(ctx context.Context, cfg *config.Config) error {
	self := protocol.NodeID(cfg.Server.ID)
	subnet, err := cfg.Subnet()
	if err != nil {
		return err
	}
	addr, err := tun.AddrFor(subnet, self)
	if err != nil {
		return err
	}

	// ── 1. Socket & device ─────────────────────────────────────────────
	conn, err := transport.Listen(hostPort(cfg.Server.Listen, cfg.Server.Port))
	if err != nil {
		return err
	}
	defer conn.Close()

	dev, err := tun.Open(tun.Config{Name: cfg.Tun.Name, Addr: addr, MTU: cfg.Tun.MTU})
	if err != nil {
		return err
	}
	defer dev.Close()

	// ── 2. Registry ────────────────────────────────────────────────────
	reg := registry.New()
	jobOpts := cronjob.Options{
		PeerTTL:    cfg.Server.PeerTTL,
		SweepEvery: cfg.Server.SweepEvery,
	}

	var store *registry.Store
	if cfg.Server.DBPath != "" {
		store, err = registry.OpenStore(cfg.Server.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := store.Load()
		if err != nil {
			return fmt.Errorf("failed to load registry: %w", err)
		}
		if n := reg.Restore(entries); n > 0 {
			util.LogInfo("restored %d nodes from %s", n, cfg.Server.DBPath)
		}
		jobOpts.Store = store
		jobOpts.PersistEvery = cfg.Server.PersistEvery
	}

	// ── 3. Background services ─────────────────────────────────────────
	jobs := cronjob.NewCronJob()
	if err := jobs.Start(reg, jobOpts); err != nil {
		return err
	}
	defer jobs.Stop()

	statusAddr := "disabled"
	if cfg.Server.StatusListen != "" {
		feed := status.NewServer(self, reg, cfg.Server.StatusEvery, cfg.Server.StatusToken)
		a, err := feed.Start(cfg.Server.StatusListen)
		if err != nil {
			return err
		}
		defer feed.Close()
		statusAddr = "ws://" + a.String() + "/ws"
	}

	printSummary("Rendezvous", [][2]string{
		{"Node", self.String()},
		{"Socket", conn.LocalAddr().String()},
		{"Interface", dev.Name() + " " + addr.String()},
		{"Known nodes", strconv.Itoa(reg.Len())},
		{"Status feed", statusAddr},
	})

	util.StartStatsReporter(ctx, cfg.Log.StatsEvery)

	// ── 4. Relay ───────────────────────────────────────────────────────
	runErr := relay.RunServer(ctx, dev, conn, reg, relay.ServerOptions{Self: self})

	if store != nil {
		jobs.Stop()
		if err := store.Save(reg.Snapshot()); err != nil {
			util.LogWarning("saving registry failed: %v", err)
		}
	}
	util.LogInfo("rendezvous stopped (%s)", reg.Stats())
	return runErr
}
