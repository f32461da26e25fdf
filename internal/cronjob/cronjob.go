// Package cronjob runs the rendezvous maintenance jobs on a schedule.
package cronjob

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/1ureka/dprox/internal/registry"
	"github.com/1ureka/dprox/internal/util"
)

// Options selects which jobs run. A zero interval disables a job.
type Options struct {
	PeerTTL      time.Duration
	SweepEvery   time.Duration
	Store        Saver
	PersistEvery time.Duration
}

type CronJob struct {
	cron *cron.Cron
}

func NewCronJob() *CronJob {
	return &CronJob{}
}

// Start schedules the enabled jobs against reg and starts the scheduler.
func (c *CronJob) Start(reg *registry.Registry, opts Options) error {
	c.cron = cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))

	if opts.PeerTTL > 0 && opts.SweepEvery > 0 {
		if _, err := c.cron.AddJob(every(opts.SweepEvery), NewSweepJob(reg, opts.PeerTTL)); err != nil {
			return fmt.Errorf("failed to schedule sweep job: %w", err)
		}
		util.LogDebug("sweeping nodes idle for %s every %s", opts.PeerTTL, opts.SweepEvery)
	}
	if opts.Store != nil && opts.PersistEvery > 0 {
		if _, err := c.cron.AddJob(every(opts.PersistEvery), NewPersistJob(reg, opts.Store)); err != nil {
			return fmt.Errorf("failed to schedule persist job: %w", err)
		}
		util.LogDebug("saving registry every %s", opts.PersistEvery)
	}

	c.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for running jobs to finish.
func (c *CronJob) Stop() {
	if c.cron != nil {
		<-c.cron.Stop().Done()
	}
}

func every(d time.Duration) string {
	return "@every " + d.String()
}
