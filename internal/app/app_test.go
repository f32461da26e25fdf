package app

import (
	"context"
	"testing"
	"time"

	"github.com/1ureka/dprox/internal/config"
	"github.com/1ureka/dprox/internal/protocol"
	"github.com/1ureka/dprox/internal/registry"
	"github.com/1ureka/dprox/internal/relay"
	"github.com/1ureka/dprox/internal/transport"
)

func TestPickClientID(t *testing.T) {
	if got := pickClientID(42); got != 42 {
		t.Errorf("pickClientID(42) = %d", got)
	}
	for i := 0; i < 200; i++ {
		id := pickClientID(0)
		if id < config.MinClientID || id >= config.MaxClientID {
			t.Fatalf("random id %d outside [%d,%d)", id, config.MinClientID, config.MaxClientID)
		}
	}
}

func TestSnapshotRows(t *testing.T) {
	snap := &protocol.Snapshot{
		Self: 5,
		Nodes: map[protocol.NodeID]string{
			12: "198.51.100.2:5000",
			5:  "0.0.0.0:8080",
			7:  "203.0.113.5:9001",
		},
	}
	rows := snapshotRows(snap)
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want header + 3", len(rows))
	}
	wantOrder := []string{"5", "7", "12"}
	for i, id := range wantOrder {
		if rows[i+1][0] != id {
			t.Errorf("row %d = %v, want node %s", i+1, rows[i+1], id)
		}
	}
	if rows[1][2] == "" {
		t.Error("rendezvous row not marked")
	}
}

func TestHostPort(t *testing.T) {
	tests := map[string]string{
		"0.0.0.0":   "0.0.0.0:8080",
		"::1":       "[::1]:8080",
		"localhost": "localhost:8080",
	}
	for host, want := range tests {
		if got := hostPort(host, 8080); got != want {
			t.Errorf("hostPort(%q) = %q, want %q", host, got, want)
		}
	}
}

type nopDevice struct{ closed chan struct{} }

func (d *nopDevice) Read(p []byte) (int, error) {
	<-d.closed
	return 0, context.Canceled
}
func (d *nopDevice) Write(p []byte) (int, error) { return len(p), nil }
func (d *nopDevice) Close() error {
	select {
	case <-d.closed:
	default:
		close(d.closed)
	}
	return nil
}

func TestRunInfo(t *testing.T) {
	srv, err := transport.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	reg := registry.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- relay.RunServer(ctx, &nopDevice{closed: make(chan struct{})}, srv, reg, relay.ServerOptions{Self: 5})
	}()
	defer func() {
		cancel()
		<-done
	}()

	cfg := config.Default()
	cfg.Client.Server = "127.0.0.1"
	cfg.Client.Port = int(srv.LocalAddr().Port())
	cfg.Query.Timeout = 2 * time.Second
	if err := RunInfo(context.Background(), cfg); err != nil {
		t.Errorf("RunInfo failed: %v", err)
	}
}
