package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/1ureka/dprox/internal/protocol"
	"github.com/1ureka/dprox/internal/registry"
)

func TestQueryAgainstServer(t *testing.T) {
	srv := listenLoopback(t)
	client := listenLoopback(t)

	reg := registry.New()
	reg.Upsert(7, ap("203.0.113.5:9001"))
	reg.Upsert(9, ap("198.51.100.2:5000"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(func() error {
		return RunServer(ctx, newMemDevice(), srv, reg, ServerOptions{Self: 5})
	})

	snap, err := Query(context.Background(), client, srv.LocalAddr(), time.Second)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if snap.Self != 5 {
		t.Errorf("Self = %d, want 5", snap.Self)
	}
	if snap.Nodes[7] != "203.0.113.5:9001" || snap.Nodes[9] != "198.51.100.2:5000" {
		t.Errorf("Nodes = %v", snap.Nodes)
	}

	cancel()
	waitDone(t, done)
}

func TestQuerySkipsOtherSenders(t *testing.T) {
	rv := listenLoopback(t)
	other := listenLoopback(t)
	client := listenLoopback(t)

	go func() {
		rv.SetReadDeadline(time.Now().Add(2 * time.Second))
		buf := make([]byte, 64)
		n, from, err := rv.Recv(buf)
		if err != nil || protocol.Classify(buf[:n]) != protocol.KindQuery {
			return
		}
		other.SendTo([]byte{1, '{', '}'}, from)
		rv.SendTo(protocol.EncodeData([]byte{1, 2}), from)
		reply, _ := protocol.EncodeSnapshot(&protocol.Snapshot{Self: 5, Nodes: map[protocol.NodeID]string{}})
		rv.SendTo(reply, from)
	}()

	snap, err := Query(context.Background(), client, rv.LocalAddr(), 2*time.Second)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if snap.Self != 5 || len(snap.Nodes) != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestQueryTimeout(t *testing.T) {
	silent := listenLoopback(t)
	client := listenLoopback(t)

	start := time.Now()
	_, err := Query(context.Background(), client, silent.LocalAddr(), 100*time.Millisecond)
	if !errors.Is(err, ErrQueryTimeout) {
		t.Fatalf("Query error = %v, want ErrQueryTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %s", elapsed)
	}
}

func TestQueryCancelled(t *testing.T) {
	silent := listenLoopback(t)
	client := listenLoopback(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := Query(ctx, client, silent.LocalAddr(), 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Query error = %v, want context.Canceled", err)
	}
}
