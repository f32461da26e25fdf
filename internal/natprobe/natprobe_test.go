package natprobe

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/pion/stun/v3"

	"github.com/1ureka/dprox/internal/transport"
)

func listenLoopback(t *testing.T) *transport.Transport {
	t.Helper()
	tr, err := transport.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

// serveBinding answers one binding request with the sender's address.
func serveBinding(srv *transport.Transport, noise bool) {
	srv.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1500)
	n, from, err := srv.Recv(buf)
	if err != nil {
		return
	}
	req := &stun.Message{Raw: buf[:n]}
	if err := req.Decode(); err != nil {
		return
	}

	if noise {
		srv.SendTo([]byte("not stun"), from)
		other, _ := stun.Build(stun.TransactionID, stun.BindingSuccess)
		srv.SendTo(other.Raw, from)
	}

	res, err := stun.Build(
		stun.NewTransactionIDSetter(req.TransactionID),
		stun.BindingSuccess,
		&stun.XORMappedAddress{IP: net.IP(from.Addr().AsSlice()), Port: int(from.Port())},
		stun.Fingerprint,
	)
	if err != nil {
		return
	}
	srv.SendTo(res.Raw, from)
}

func TestProbe(t *testing.T) {
	for _, noise := range []bool{false, true} {
		srv := listenLoopback(t)
		client := listenLoopback(t)
		go serveBinding(srv, noise)

		got, err := Probe(context.Background(), client, srv.LocalAddr(), 2*time.Second)
		if err != nil {
			t.Fatalf("Probe(noise=%v) failed: %v", noise, err)
		}
		if got != client.LocalAddr() {
			t.Errorf("Probe(noise=%v) = %s, want %s", noise, got, client.LocalAddr())
		}
	}
}

func TestProbeTimeout(t *testing.T) {
	silent := listenLoopback(t)
	client := listenLoopback(t)

	_, err := Probe(context.Background(), client, silent.LocalAddr(), 100*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Probe error = %v, want ErrTimeout", err)
	}
}

func TestResolve(t *testing.T) {
	got, err := Resolve("127.0.0.1:3478")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != netip.MustParseAddrPort("127.0.0.1:3478") {
		t.Errorf("Resolve = %s", got)
	}
	if _, err := Resolve("no-port"); err == nil {
		t.Error("Resolve accepted an address without port")
	}
}
