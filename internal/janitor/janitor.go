// internal/janitor/janitor.go

// Package janitor periodically clears debris that accumulates during
// long sessions: finished response lifecycles past their TTL and
// streaming buffers of parts that were marked done long ago.
package janitor

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/roomsync/internal/store"
)

// cronParser accepts standard 5-field cron expressions, 6-field
// expressions with an optional seconds field, and @every descriptors.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Janitor sweeps the store on a cron schedule.
type Janitor struct {
	store    *store.Store
	schedule string
	ttl      time.Duration
	cron     *cron.Cron
}

// New creates a janitor. schedule is a cron expression or descriptor
// like "@every 5m"; ttl is how long a finished lifecycle is kept.
func New(s *store.Store, schedule string, ttl time.Duration) *Janitor {
	return &Janitor{
		store:    s,
		schedule: schedule,
		ttl:      ttl,
		cron:     cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers the sweep and starts the cron ticker.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.schedule, j.Sweep); err != nil {
		return err
	}
	j.cron.Start()
	slog.Info("janitor started", "schedule", j.schedule, "ttl", j.ttl.String())
	return nil
}

// Stop stops the cron ticker. A sweep already in flight finishes.
func (j *Janitor) Stop() {
	j.cron.Stop()
}

// Sweep runs one pass immediately. It is also the cron callback.
func (j *Janitor) Sweep() {
	lifecycles := j.store.SweepLifecycles(j.ttl)
	buffers := j.store.DropDoneBuffers()
	if lifecycles > 0 || buffers > 0 {
		slog.Info("janitor sweep", "lifecycles", lifecycles, "buffers", buffers)
	}
}
