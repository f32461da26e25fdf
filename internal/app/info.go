package app

import (
	"context"

	"github.com/pterm/pterm"

	"github.com/1ureka/dprox/internal/config"
	"github.com/1ureka/dprox/internal/relay"
	"github.com/1ureka/dprox/internal/transport"
)

// RunInfo asks the rendezvous for its registry and prints it.
func RunInfo(ctx context.Context, cfg *config.Config) error {
	rendezvous, err := transport.Resolve(cfg.Client.Server, cfg.Client.Port)
	if err != nil {
		return err
	}
	conn, err := transport.Listen(":0")
	if err != nil {
		return err
	}
	defer conn.Close()

	snap, err := relay.Query(ctx, conn, rendezvous, cfg.Query.Timeout)
	if err != nil {
		return err
	}

	pterm.DefaultSection.Printf("Rendezvous %s at %s", snap.Self, rendezvous)
	if len(snap.Nodes) == 0 {
		pterm.Info.Println("no nodes registered")
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(snapshotRows(snap)).Render()
}
