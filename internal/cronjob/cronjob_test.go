package cronjob

import (
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/dprox/internal/registry"
)

var _ Saver = (*registry.Store)(nil)

type memSaver struct {
	mu    sync.Mutex
	saves [][]registry.Entry
	err   error
}

func (m *memSaver) Save(entries []registry.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves = append(m.saves, entries)
	return nil
}

func (m *memSaver) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saves)
}

func TestSweepJob(t *testing.T) {
	now := time.Unix(1000, 0)
	reg := registry.New(registry.WithClock(func() time.Time { return now }))
	reg.Upsert(7, netip.MustParseAddrPort("203.0.113.5:9001"))

	now = now.Add(time.Minute)
	reg.Upsert(9, netip.MustParseAddrPort("198.51.100.2:5000"))

	NewSweepJob(reg, 30*time.Second).Run()

	if _, ok := reg.Lookup(7); ok {
		t.Error("idle node survived the sweep")
	}
	if _, ok := reg.Lookup(9); !ok {
		t.Error("fresh node was swept")
	}
}

func TestPersistJob(t *testing.T) {
	reg := registry.New()
	reg.Upsert(7, netip.MustParseAddrPort("203.0.113.5:9001"))

	saver := &memSaver{}
	NewPersistJob(reg, saver).Run()
	if saver.count() != 1 || len(saver.saves[0]) != 1 || saver.saves[0][0].ID != 7 {
		t.Errorf("saves = %+v", saver.saves)
	}

	saver.err = errors.New("disk full")
	NewPersistJob(reg, saver).Run()
}

func TestCronJobSchedules(t *testing.T) {
	reg := registry.New()
	saver := &memSaver{}

	c := NewCronJob()
	err := c.Start(reg, Options{Store: saver, PersistEvery: time.Second})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for saver.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	c.Stop()

	if saver.count() == 0 {
		t.Error("persist job never ran")
	}
}

func TestCronJobStopWithoutStart(t *testing.T) {
	NewCronJob().Stop()
}
