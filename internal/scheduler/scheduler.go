// Package scheduler runs jobs once a day at a wall-clock time in a given
// timezone.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Job is the work run at each tick. now is the tick instant.
type Job func(ctx context.Context, now time.Time) error

// Daily fires a job once per day at hour:minute in loc. Ticks run one after
// another on a single goroutine, so a slow job is never overlapped.
type Daily struct {
	name   string
	hour   int
	minute int
	loc    *time.Location
	job    Job
	now    func() time.Time

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// ParseClock parses "HH:MM" in 24-hour form.
func ParseClock(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time of day %q: expected HH:MM", s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

// NewDaily creates a stopped scheduler for job at clock ("HH:MM") in loc.
func NewDaily(name, clock string, loc *time.Location, job Job) (*Daily, error) {
	if job == nil {
		return nil, fmt.Errorf("scheduler %s: job is required", name)
	}
	hour, minute, err := ParseClock(clock)
	if err != nil {
		return nil, fmt.Errorf("scheduler %s: %w", name, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Daily{
		name:   name,
		hour:   hour,
		minute: minute,
		loc:    loc,
		job:    job,
		now:    time.Now,
	}, nil
}

// NextRun returns the first tick strictly after t.
func (d *Daily) NextRun(t time.Time) time.Time {
	local := t.In(d.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.hour, d.minute, 0, 0, d.loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, d.hour, d.minute, 0, 0, d.loc)
	}
	return next
}

// Start begins waiting for ticks. Returns an error if already running.
func (d *Daily) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("scheduler %s is already running", d.name)
	}
	stopCh, doneCh := make(chan struct{}), make(chan struct{})
	d.running = true
	d.stopCh = stopCh
	d.doneCh = doneCh
	d.mu.Unlock()

	go d.runLoop(ctx, stopCh, doneCh)

	slog.InfoContext(ctx, "Scheduler started",
		"scheduler", d.name,
		"next_run", d.NextRun(d.now()).Format(time.RFC3339))
	return nil
}

// Stop halts the scheduler and waits for an in-flight tick to finish.
func (d *Daily) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	// Only the first Stop of a run closes stopCh; later ones just wait.
	stopCh, doneCh := d.stopCh, d.doneCh
	d.stopCh = nil
	d.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Scheduler stopped gracefully", "scheduler", d.name)
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Scheduler stop timed out", "scheduler", d.name)
		return ctx.Err()
	}
}

// IsRunning returns whether the scheduler is waiting for ticks.
func (d *Daily) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Daily) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan struct{}) {
	// The loop also ends when ctx is cancelled; either way the scheduler can
	// be started again.
	defer func() {
		d.mu.Lock()
		if d.doneCh == doneCh {
			d.running = false
		}
		d.mu.Unlock()
		close(doneCh)
	}()

	for {
		wait := d.NextRun(d.now()).Sub(d.now())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)

		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case tick := <-timer.C:
			if err := d.run(ctx, tick); err != nil {
				slog.ErrorContext(ctx, "Scheduled job failed",
					"scheduler", d.name,
					"error", err)
			}
		}
	}
}

func (d *Daily) run(ctx context.Context, now time.Time) error {
	start := time.Now()
	err := d.job(ctx, now)
	slog.InfoContext(ctx, "Scheduled job finished",
		"scheduler", d.name,
		"duration_ms", time.Since(start).Milliseconds(),
		"success", err == nil)
	return err
}
