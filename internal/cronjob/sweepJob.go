package cronjob

import (
	"time"

	"github.com/1ureka/dprox/internal/registry"
	"github.com/1ureka/dprox/internal/util"
)

// SweepJob forgets nodes that have been silent for longer than maxAge.
type SweepJob struct {
	reg    *registry.Registry
	maxAge time.Duration
}

func NewSweepJob(reg *registry.Registry, maxAge time.Duration) *SweepJob {
	return &SweepJob{reg: reg, maxAge: maxAge}
}

func (s *SweepJob) Run() {
	if n := s.reg.Sweep(s.maxAge); n > 0 {
		util.LogInfo("forgot %d idle nodes (%s)", n, s.reg.Stats())
	}
}
