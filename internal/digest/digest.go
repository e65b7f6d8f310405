// Package digest periodically reports the open job board to operators on a
// cron schedule.
package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/adhocore/gronx"

	"courier-dispatch/internal/dispatch"
	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/notify"
	"courier-dispatch/internal/scheduler"
)

type OpenJobs interface {
	OpenJobs() []domain.Job
}

type Config struct {
	// Schedule is a five-field cron expression evaluated in the
	// scheduler's clock zone, e.g. "0 9,17 * * *".
	Schedule  string
	Scheduler scheduler.Scheduler
	Jobs      OpenJobs
	Notifier  notify.Notifier
	// SkipEmpty suppresses the digest when no job is open.
	SkipEmpty bool
	Logger    *slog.Logger
}

type Digest struct {
	cfg   Config
	timer scheduler.Timer
}

func New(cfg Config) (*Digest, error) {
	cfg.Schedule = strings.TrimSpace(cfg.Schedule)
	if cfg.Schedule == "" {
		return nil, errors.New("digest: schedule must not be empty")
	}
	if !gronx.New().IsValid(cfg.Schedule) {
		return nil, fmt.Errorf("digest: invalid cron expression %q", cfg.Schedule)
	}
	if cfg.Scheduler == nil || cfg.Jobs == nil || cfg.Notifier == nil {
		return nil, errors.New("digest: scheduler, jobs and notifier are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Digest{cfg: cfg}, nil
}

// Run arms the schedule and blocks until ctx is done. Timers are armed and
// disarmed on the scheduler thread.
func (d *Digest) Run(ctx context.Context) error {
	d.cfg.Scheduler.Post(func() { d.arm(ctx) })
	<-ctx.Done()
	d.cfg.Scheduler.Post(d.Stop)
	return nil
}

// Start arms the next tick. Must be called on the scheduler thread.
func (d *Digest) Start(ctx context.Context) { d.arm(ctx) }

// Stop disarms the pending tick.
func (d *Digest) Stop() {
	scheduler.StopTimer(d.timer)
	d.timer = nil
}

func (d *Digest) arm(ctx context.Context) {
	scheduler.StopTimer(d.timer)
	now := d.cfg.Scheduler.Now()
	next, err := gronx.NextTickAfter(d.cfg.Schedule, now, false)
	if err != nil {
		d.cfg.Logger.Error("digest schedule exhausted", "schedule", d.cfg.Schedule, "err", err)
		d.timer = nil
		return
	}
	d.cfg.Logger.Debug("digest armed", "next", next)
	d.timer = d.cfg.Scheduler.After(next.Sub(now), func() {
		d.fire(ctx)
		d.arm(ctx)
	})
}

func (d *Digest) fire(ctx context.Context) {
	jobs := d.cfg.Jobs.OpenJobs()
	if len(jobs) == 0 && d.cfg.SkipEmpty {
		return
	}
	d.cfg.Notifier.Notify(ctx, notify.SeverityInfo, dispatch.Report(jobs))
}
