package registry

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/dprox/internal/protocol"
)

var (
	addrA = netip.MustParseAddrPort("203.0.113.5:9001")
	addrB = netip.MustParseAddrPort("198.51.100.2:5000")
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestUpsertIdempotent(t *testing.T) {
	r := New()

	for i := 0; i < 5; i++ {
		changed := r.Upsert(7, addrA)
		if i == 0 && !changed {
			t.Error("first upsert should report a change")
		}
		if i > 0 && changed {
			t.Errorf("repeated upsert #%d reported a change", i)
		}
	}

	got, ok := r.Lookup(7)
	if !ok || got != addrA {
		t.Errorf("Lookup(7) = %v, %v; want %v, true", got, ok, addrA)
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", r.Len())
	}
}

func TestUpsertZeroIgnored(t *testing.T) {
	r := New()
	r.Upsert(3, addrA)

	if r.Upsert(0, addrB) {
		t.Error("upsert of id 0 reported a change")
	}
	if _, ok := r.Lookup(0); ok {
		t.Error("registry contains id 0")
	}
	if r.Len() != 1 {
		t.Errorf("upsert of id 0 changed the registry size to %d", r.Len())
	}
}

func TestUpsertOverwrite(t *testing.T) {
	r := New()
	r.Upsert(7, addrA)
	if !r.Upsert(7, addrB) {
		t.Error("overwrite should report a change")
	}

	got, ok := r.Lookup(7)
	if !ok || got != addrB {
		t.Errorf("Lookup(7) = %v, want %v (last write wins)", got, addrB)
	}
}

func TestUpsertUnmapsIPv4(t *testing.T) {
	r := New()
	mapped := netip.MustParseAddrPort("[::ffff:203.0.113.5]:9001")
	r.Upsert(7, mapped)

	got, _ := r.Lookup(7)
	if got != addrA {
		t.Errorf("Lookup(7) = %v, want %v", got, addrA)
	}
	if got.String() != "203.0.113.5:9001" {
		t.Errorf("String() = %q", got.String())
	}
}

func TestLookupMiss(t *testing.T) {
	r := New()
	if _, ok := r.Lookup(42); ok {
		t.Error("expected miss on empty registry")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	r := New()
	for _, id := range []protocol.NodeID{9, 3, 5} {
		r.Upsert(id, netip.AddrPortFrom(addrA.Addr(), uint16(1000+int(id))))
	}

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snap))
	}
	for i, want := range []protocol.NodeID{3, 5, 9} {
		if snap[i].ID != want {
			t.Errorf("snap[%d].ID = %d, want %d", i, snap[i].ID, want)
		}
	}

	snap[0].Addr = addrB
	if got, _ := r.Lookup(3); got == addrB {
		t.Error("mutating the snapshot changed the registry")
	}
}

func TestToSnapshot(t *testing.T) {
	r := New()
	r.Upsert(3, addrA)
	r.Upsert(5, addrB)
	r.Upsert(9, addrA)
	r.Upsert(5, addrA)

	s := ToSnapshot(1, r.Snapshot())
	if s.Self != 1 {
		t.Errorf("Self = %d, want 1", s.Self)
	}
	want := map[protocol.NodeID]string{3: addrA.String(), 5: addrA.String(), 9: addrA.String()}
	if len(s.Nodes) != len(want) {
		t.Fatalf("got %d nodes, want %d", len(s.Nodes), len(want))
	}
	for id, addr := range want {
		if s.Nodes[id] != addr {
			t.Errorf("Nodes[%d] = %q, want %q", id, s.Nodes[id], addr)
		}
	}
}

func TestSweep(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := New(WithClock(clock.Now))

	r.Upsert(1, addrA)
	r.Upsert(2, addrB)
	clock.Advance(10 * time.Minute)
	r.Upsert(3, addrA)
	r.Upsert(1, addrA) // refresh

	if n := r.Sweep(0); n != 0 {
		t.Errorf("Sweep(0) removed %d entries", n)
	}

	removed := r.Sweep(5 * time.Minute)
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if _, ok := r.Lookup(2); ok {
		t.Error("stale entry 2 should be gone")
	}
	for _, id := range []protocol.NodeID{1, 3} {
		if _, ok := r.Lookup(id); !ok {
			t.Errorf("fresh entry %d was removed", id)
		}
	}
}

func TestRestore(t *testing.T) {
	r := New()
	r.Upsert(7, addrA)

	n := r.Restore([]Entry{
		{ID: 7, Addr: addrB},
		{ID: 8, Addr: addrB},
		{ID: 0, Addr: addrB},
		{ID: 9},
	})
	if n != 1 {
		t.Errorf("Restore added %d entries, want 1", n)
	}
	if got, _ := r.Lookup(7); got != addrA {
		t.Error("Restore overwrote a live entry")
	}
	if got, ok := r.Lookup(8); !ok || got != addrB {
		t.Errorf("Lookup(8) = %v, %v", got, ok)
	}
}

func TestStats(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := New(WithClock(clock.Now))
	r.Upsert(1, addrA)
	clock.Advance(30 * time.Second)
	r.Upsert(2, addrB)

	s := r.Stats()
	if s.TotalPeers != 2 {
		t.Errorf("TotalPeers = %d", s.TotalPeers)
	}
	if s.Oldest != 30*time.Second {
		t.Errorf("Oldest = %v, want 30s", s.Oldest)
	}
	if s.String() == "" {
		t.Error("Stats.String() returned empty string")
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup

	for i := 1; i <= 100; i++ {
		wg.Add(2)
		go func(id int) {
			defer wg.Done()
			r.Upsert(protocol.NodeID(id), netip.AddrPortFrom(addrA.Addr(), uint16(id)))
		}(i)
		go func() {
			defer wg.Done()
			_ = r.Snapshot()
			_ = r.Len()
			_ = r.Sweep(time.Hour)
		}()
	}
	wg.Wait()

	if r.Len() != 100 {
		t.Errorf("expected 100 peers, got %d", r.Len())
	}
}
