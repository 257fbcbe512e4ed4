package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"inventariagent/internal/enforce"
	"inventariagent/internal/incident"
	"inventariagent/internal/model"
	"inventariagent/internal/threshold"
)

// sleepWithContext waits d or until ctx is done; false means ctx ended first.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// runMetricsLoop runs one metrics cycle per interval until ctx is done.
func runMetricsLoop(ctx context.Context, app *AppContext) error {
	interval := app.Config.metricsInterval()
	slog.Info("Metrics loop started", "interval", interval.String())
	for {
		if ctx.Err() != nil {
			slog.Info("Metrics loop stopped")
			return nil
		}
		runMetricsCycleSafe(ctx, app)
		if !sleepWithContext(ctx, interval) {
			slog.Info("Metrics loop stopped")
			return nil
		}
	}
}

// runMetricsCycleSafe keeps a failing or panicking cycle from ending the loop.
func runMetricsCycleSafe(ctx context.Context, app *AppContext) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic recovered in goroutine", "goroutine", "metrics-cycle", "err", r, "stack", string(debug.Stack()))
			app.Telemetry.Cycle("panic")
			app.State.recordCycle(app.Clock.Now(), fmt.Errorf("panic: %v", r))
		}
	}()

	err := runMetricsCycle(ctx, app)
	switch {
	case err == nil:
		app.Telemetry.Cycle("ok")
	case errors.Is(err, context.Canceled):
		return
	default:
		slog.Error("Metrics cycle failed", "err", err)
		app.Telemetry.Cycle("error")
	}
	app.State.recordCycle(app.Clock.Now(), err)

	if app.State.pruneDue(app.Clock.Now()) {
		rotateLogs(app.Clock.Now(), app.Config.logRetention())
	}
}

// registerDevice writes the hardware inventory once at startup. Failures are
// only logged: the agent runs the same without it.
func registerDevice(ctx context.Context, app *AppContext) {
	specs := app.Inventory.Specs(ctx)
	storeCtx, cancel := context.WithTimeout(ctx, app.Config.storeTimeout())
	defer cancel()
	if err := app.Store.RegisterDevice(storeCtx, app.Config.DeviceID, specs, app.Clock.Now()); err != nil {
		slog.Warn("Device registration failed", "device", app.Config.DeviceID, "err", err)
		return
	}
	slog.Info("Device registered", "device", app.Config.DeviceID,
		"cpu", specs.CPU, "ram_gb", specs.RAMGB, "storage_gb", specs.StorageGB, "ip", specs.IP)
}

// runMetricsCycle captures a snapshot, refreshes the device heartbeat and
// turns threshold breaches into incidents.
func runMetricsCycle(ctx context.Context, app *AppContext) error {
	snap := app.Sensors.Snapshot(ctx)
	app.Telemetry.Snapshot(snap)
	slog.Debug("Metrics captured",
		"cpu_temp", snap.CPUTempC, "gpu_temp", snap.GPUTempC,
		"cpu", snap.CPUUsagePct, "ram", snap.RAMUsagePct, "disk_free", snap.DiskFreePct)

	updateHeartbeat(ctx, app, snap)

	events := threshold.Evaluate(snap, app.Config.Thresholds)
	if len(events) == 0 {
		return ctx.Err()
	}

	storeCtx, cancel := context.WithTimeout(ctx, app.Config.storeTimeout()*time.Duration(len(events)))
	defer cancel()
	outcomes := app.Incidents.HandleAll(storeCtx, events)
	if err := ctx.Err(); err != nil {
		return err
	}

	failed := 0
	for _, o := range outcomes {
		if o == incident.OutcomeFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d incident updates failed", failed, len(events))
	}
	return nil
}

func updateHeartbeat(ctx context.Context, app *AppContext, snap model.MetricsSnapshot) {
	hbCtx, cancel := context.WithTimeout(ctx, app.Config.storeTimeout())
	defer cancel()
	if err := app.Store.Heartbeat(hbCtx, app.Config.DeviceID, snap, app.Clock.Now()); err != nil {
		slog.Warn("Heartbeat update failed", "device", app.Config.DeviceID, "err", err)
	}
}

// runProcessWatch feeds the enforcement pool: every process already running,
// then each process as it starts.
func runProcessWatch(ctx context.Context, app *AppContext, pool *enforce.Pool) error {
	initial, err := app.Watcher.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("initial process sweep: %w", err)
	}
	slog.Info("Initial process sweep", "processes", len(initial))
	for _, obs := range initial {
		if err := pool.Submit(ctx, obs); err != nil {
			return stoppedOK(ctx, err)
		}
	}

	err = app.Watcher.Watch(ctx, func(obs model.ProcessObservation) error {
		return pool.Submit(ctx, obs)
	})
	return stoppedOK(ctx, err)
}

// stoppedOK swallows errors caused by shutdown.
func stoppedOK(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// reloadPolicyLoop reloads the policy file whenever reload fires.
func reloadPolicyLoop(ctx context.Context, app *AppContext, reload <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-reload:
			slog.Info("Reloading application policy", "file", app.Config.PolicyFile)
			_ = app.Policy.Load(app.Config.PolicyFile)
		}
	}
}
