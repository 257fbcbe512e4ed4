// Package enforce terminates processes that the application policy blocks.
package enforce

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrProcessNotFound means the target was already gone when a stage ran.
var ErrProcessNotFound = errors.New("process not found")

// ProcessControl is the OS surface the Terminator escalates through.
type ProcessControl interface {
	Exists(ctx context.Context, pid int32) (bool, error)
	// CloseGracefully asks the process to exit on its own (window close / SIGTERM).
	CloseGracefully(ctx context.Context, pid int32) error
	// KillTree kills pid and its descendants.
	KillTree(ctx context.Context, pid int32) error
	// ForceKillPID is the OS-level forced kill of pid and its child tree.
	ForceKillPID(ctx context.Context, pid int32) error
	// ForceKillImage kills every process running image.
	ForceKillImage(ctx context.Context, image string) error
}

// Stage names reported in Termination.Stage.
const (
	StageAlreadyExited = "already_exited"
	StageGraceful      = "graceful_close"
	StageKillTree      = "kill_tree"
	StageForcePID      = "force_kill_pid"
	StageForceImage    = "force_kill_image"
	StageFinalCheck    = "final_check"
	StageExhausted     = "exhausted"
)

// Termination is the result of one Terminate call.
type Termination struct {
	Terminated bool
	Stage      string
}

// TerminatorConfig bounds each stage.
type TerminatorConfig struct {
	Grace          time.Duration
	KillWait       time.Duration
	CommandTimeout time.Duration
	PollInterval   time.Duration
}

func DefaultTerminatorConfig() TerminatorConfig {
	return TerminatorConfig{
		Grace:          2 * time.Second,
		KillWait:       3 * time.Second,
		CommandTimeout: 5 * time.Second,
		PollInterval:   100 * time.Millisecond,
	}
}

// Terminator escalates from a polite close to OS-level kills until the
// process is confirmed gone.
type Terminator struct {
	ctl ProcessControl
	cfg TerminatorConfig
	log *slog.Logger
}

func NewTerminator(ctl ProcessControl, cfg TerminatorConfig, logger *slog.Logger) *Terminator {
	def := DefaultTerminatorConfig()
	if cfg.Grace <= 0 {
		cfg.Grace = def.Grace
	}
	if cfg.KillWait <= 0 {
		cfg.KillWait = def.KillWait
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Terminator{ctl: ctl, cfg: cfg, log: logger.With("component", "terminator")}
}

// Terminate never returns an error: a process that survives every stage is
// reported with Terminated=false.
func (t *Terminator) Terminate(ctx context.Context, pid int32, image string) Termination {
	log := t.log.With("pid", pid, "image", image)

	if !t.alive(ctx, pid) {
		return Termination{Terminated: true, Stage: StageAlreadyExited}
	}

	if err := t.ctl.CloseGracefully(ctx, pid); err != nil {
		log.Debug("Graceful close failed", "err", err)
	}
	if t.waitExit(ctx, pid, t.cfg.Grace) {
		return Termination{Terminated: true, Stage: StageGraceful}
	}

	if err := t.ctl.KillTree(ctx, pid); err != nil {
		if errors.Is(err, ErrProcessNotFound) {
			return Termination{Terminated: true, Stage: StageKillTree}
		}
		log.Info("Kill of process tree failed", "err", err)
	}
	if t.waitExit(ctx, pid, t.cfg.KillWait) {
		return Termination{Terminated: true, Stage: StageKillTree}
	}

	if err := t.command(ctx, func(c context.Context) error { return t.ctl.ForceKillPID(c, pid) }); err != nil {
		if errors.Is(err, ErrProcessNotFound) {
			return Termination{Terminated: true, Stage: StageForcePID}
		}
		log.Warn("Forced kill by pid failed", "err", err)
	}
	if t.waitExit(ctx, pid, t.cfg.KillWait) {
		return Termination{Terminated: true, Stage: StageForcePID}
	}

	if image != "" {
		if err := t.command(ctx, func(c context.Context) error { return t.ctl.ForceKillImage(c, image) }); err != nil {
			log.Error("Forced kill by image failed", "err", err)
		}
		if t.waitExit(ctx, pid, t.cfg.KillWait) {
			return Termination{Terminated: true, Stage: StageForceImage}
		}
	}

	if !t.alive(ctx, pid) {
		return Termination{Terminated: true, Stage: StageFinalCheck}
	}
	log.Error("Process survived every termination stage")
	return Termination{Terminated: false, Stage: StageExhausted}
}

func (t *Terminator) command(ctx context.Context, fn func(context.Context) error) error {
	c, cancel := context.WithTimeout(ctx, t.cfg.CommandTimeout)
	defer cancel()
	return fn(c)
}

// alive treats lookup errors as "still running".
func (t *Terminator) alive(ctx context.Context, pid int32) bool {
	ok, err := t.ctl.Exists(ctx, pid)
	if err != nil {
		return true
	}
	return ok
}

// waitExit polls until pid is gone or d elapses.
func (t *Terminator) waitExit(ctx context.Context, pid int32, d time.Duration) bool {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	tick := time.NewTicker(t.cfg.PollInterval)
	defer tick.Stop()

	for {
		if !t.alive(ctx, pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return !t.alive(context.WithoutCancel(ctx), pid)
		case <-deadline.C:
			return !t.alive(ctx, pid)
		case <-tick.C:
		}
	}
}
