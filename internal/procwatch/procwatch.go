// Package procwatch reports processes as they start.
package procwatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"inventariagent/internal/model"
)

// DefaultInterval is how often the pid table is rescanned.
const DefaultInterval = time.Second

// maxDescribeAttempts bounds how many scans retry a pid whose name cannot be read.
const maxDescribeAttempts = 5

// Watcher detects new processes by diffing successive pid scans.
type Watcher struct {
	interval time.Duration
	pids     func(ctx context.Context) ([]int32, error)
	describe func(ctx context.Context, pid int32) (model.ProcessObservation, error)
	log      *slog.Logger

	seen     map[int32]struct{}
	failures map[int32]int
}

func New(interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		interval: interval,
		pids:     process.PidsWithContext,
		describe: describe,
		log:      logger.With("component", "procwatch"),
		seen:     make(map[int32]struct{}),
		failures: make(map[int32]int),
	}
}

func describe(ctx context.Context, pid int32) (model.ProcessObservation, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return model.ProcessObservation{}, err
	}
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return model.ProcessObservation{}, fmt.Errorf("name of %d: %w", pid, err)
	}
	// Command line is best effort; protected processes refuse it.
	cmdline, _ := p.CmdlineWithContext(ctx)
	return model.ProcessObservation{Name: name, PID: pid, Cmdline: cmdline}, nil
}

// Snapshot lists every running process and marks them as seen, so a later
// Watch only reports processes started afterwards.
func (w *Watcher) Snapshot(ctx context.Context) ([]model.ProcessObservation, error) {
	pids, err := w.pids(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	return w.diff(ctx, pids), nil
}

// diff describes pids not seen before and forgets pids that exited.
// A pid that cannot be described stays unseen and is retried on the next
// scans, up to maxDescribeAttempts.
func (w *Watcher) diff(ctx context.Context, pids []int32) []model.ProcessObservation {
	current := make(map[int32]struct{}, len(pids))
	failures := make(map[int32]int)
	var fresh []model.ProcessObservation
	for _, pid := range pids {
		if _, ok := w.seen[pid]; ok {
			current[pid] = struct{}{}
			continue
		}
		obs, err := w.describe(ctx, pid)
		if err != nil {
			n := w.failures[pid] + 1
			if n < maxDescribeAttempts {
				failures[pid] = n
				continue
			}
			w.log.Debug("Giving up on process", "pid", pid, "err", err)
			current[pid] = struct{}{}
			continue
		}
		current[pid] = struct{}{}
		fresh = append(fresh, obs)
	}
	w.seen = current
	w.failures = failures
	return fresh
}

// Watch rescans at the configured interval and calls emit for each new
// process until ctx is done. An emit error stops the watch.
func (w *Watcher) Watch(ctx context.Context, emit func(model.ProcessObservation) error) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		pids, err := w.pids(ctx)
		if err != nil {
			w.log.Warn("Process scan failed", "err", err)
			continue
		}
		for _, obs := range w.diff(ctx, pids) {
			if err := emit(obs); err != nil {
				return err
			}
		}
	}
}
