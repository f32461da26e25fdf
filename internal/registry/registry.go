// Package registry holds the rendezvous view of where each peer can be reached.
package registry

import (
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/1ureka/dprox/internal/protocol"
)

// Entry is one registered peer.
type Entry struct {
	ID       protocol.NodeID
	Addr     netip.AddrPort
	LastSeen time.Time
}

// Registry maps node identities to their last observed public address.
//
// The forwarding loop is the only writer on the hot path. Sweep, Snapshot and
// Restore may be called from other goroutines (cron jobs, the status feed),
// so every access is guarded.
type Registry struct {
	mu    sync.RWMutex
	peers map[protocol.NodeID]*Entry
	now   func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for LastSeen.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		peers: make(map[protocol.NodeID]*Entry),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Upsert records addr as the current address of id and refreshes its
// LastSeen. Identity 0 is ignored. Returns true if the address changed.
func (r *Registry) Upsert(id protocol.NodeID, addr netip.AddrPort) bool {
	if id == 0 {
		return false
	}
	addr = normalize(addr)

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if e, ok := r.peers[id]; ok {
		e.LastSeen = now
		if e.Addr == addr {
			return false
		}
		e.Addr = addr
		return true
	}
	r.peers[id] = &Entry{ID: id, Addr: addr, LastSeen: now}
	return true
}

// Lookup returns the address registered for id.
func (r *Registry) Lookup(id protocol.NodeID) (netip.AddrPort, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.peers[id]
	if !ok {
		return netip.AddrPort{}, false
	}
	return e.Addr, true
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Snapshot returns a copy of every entry ordered by identity.
// The returned slice is safe to use without holding the registry.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.peers))
	for _, e := range r.peers {
		entries = append(entries, *e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// Sweep removes entries not refreshed within maxAge and returns how many were
// removed. A non-positive maxAge disables expiry.
func (r *Registry) Sweep(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxAge)
	removed := 0
	for id, e := range r.peers {
		if e.LastSeen.Before(cutoff) {
			delete(r.peers, id)
			removed++
		}
	}
	return removed
}

// Restore loads previously saved entries. Entries already present win, so a
// restore never overwrites an address learned from live traffic.
func (r *Registry) Restore(entries []Entry) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range entries {
		if e.ID == 0 || !e.Addr.IsValid() {
			continue
		}
		if _, exists := r.peers[e.ID]; exists {
			continue
		}
		entry := e
		entry.Addr = normalize(entry.Addr)
		r.peers[e.ID] = &entry
		n++
	}
	return n
}

// ToSnapshot converts entries into the wire snapshot reported to QUERY.
func ToSnapshot(self protocol.NodeID, entries []Entry) *protocol.Snapshot {
	s := &protocol.Snapshot{
		Self:  self,
		Nodes: make(map[protocol.NodeID]string, len(entries)),
	}
	for _, e := range entries {
		s.Nodes[e.ID] = e.Addr.String()
	}
	return s
}

// Stats summarizes the registry.
type Stats struct {
	TotalPeers int
	Oldest     time.Duration
}

// Stats returns registry statistics.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{TotalPeers: len(r.peers)}
	now := r.now()
	for _, e := range r.peers {
		if age := now.Sub(e.LastSeen); age > s.Oldest {
			s.Oldest = age
		}
	}
	return s
}

func (s Stats) String() string {
	return fmt.Sprintf("peers=%d, oldest=%s", s.TotalPeers, s.Oldest.Round(time.Second))
}

// normalize strips the IPv4-in-IPv6 mapping a dual-stack socket reports.
func normalize(addr netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}
