package cronjob

import (
	"github.com/1ureka/dprox/internal/registry"
	"github.com/1ureka/dprox/internal/util"
)

// Saver persists a registry snapshot.
type Saver interface {
	Save(entries []registry.Entry) error
}

// PersistJob writes the registry to its store.
type PersistJob struct {
	reg   *registry.Registry
	store Saver
}

func NewPersistJob(reg *registry.Registry, store Saver) *PersistJob {
	return &PersistJob{reg: reg, store: store}
}

func (s *PersistJob) Run() {
	entries := s.reg.Snapshot()
	if err := s.store.Save(entries); err != nil {
		util.LogWarning("saving registry failed: %v", err)
		return
	}
	util.LogDebug("saved %d nodes", len(entries))
}
