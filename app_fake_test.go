package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"inventariagent/internal/clock"
	"inventariagent/internal/enforce"
	"inventariagent/internal/model"
	"inventariagent/internal/notify"
	"inventariagent/internal/store"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeSensors struct {
	mu    sync.Mutex
	snap  model.MetricsSnapshot
	panic bool
	calls int
}

func (f *fakeSensors) Snapshot(context.Context) model.MetricsSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panic {
		panic("sensor driver crashed")
	}
	return f.snap
}

func (f *fakeSensors) set(s model.MetricsSnapshot) {
	f.mu.Lock()
	f.snap = s
	f.mu.Unlock()
}

func (f *fakeSensors) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeKiller struct{}

func (fakeKiller) Terminate(context.Context, int32, string) enforce.Termination {
	return enforce.Termination{Terminated: true, Stage: enforce.StageGraceful}
}

type captureSink struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (s *captureSink) Send(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return nil
}

// brokenStore fails every remote call.
type brokenStore struct{}

var errStoreDown = errors.New("store unreachable")

func (brokenStore) FindOpenByTag(context.Context, string, string) (*model.Incident, error) {
	return nil, errStoreDown
}

func (brokenStore) FindRecentByTagAndSeverity(context.Context, string, string, model.Severity, time.Time) (*model.Incident, error) {
	return nil, errStoreDown
}

func (brokenStore) Create(context.Context, model.Incident) (string, error) {
	return "", errStoreDown
}

func (brokenStore) AppendChange(context.Context, string, string, model.ChangeEntry) error {
	return errStoreDown
}

func (brokenStore) Heartbeat(context.Context, string, model.MetricsSnapshot, time.Time) error {
	return errStoreDown
}

func (brokenStore) RegisterDevice(context.Context, string, model.DeviceSpecs, time.Time) error {
	return errStoreDown
}

type fakeInventory struct{}

func (fakeInventory) Specs(context.Context) model.DeviceSpecs {
	return model.DeviceSpecs{CPU: "Intel Core i5-10400", GPU: "Unknown", RAMGB: 16, StorageGB: 476, IP: "192.168.30.12", MAC: "3c:52:82:1a:2b:3c"}
}

type testApp struct {
	*AppContext
	mem     *store.Memory
	sensors *fakeSensors
	sink    *captureSink
	clk     *clock.Fake
}

func newTestConfig() *Config {
	cfg := defaultConfigTemplate()
	cfg.DeviceID = "pc-lab-07"
	cfg.LogRetentionHours = 0
	cfg.Enforcement.Enabled = false
	return &cfg
}

func newTestAppContext() *testApp {
	mem := store.NewMemory()
	sensors := &fakeSensors{}
	sink := &captureSink{}
	clk := clock.NewFake(testNow)
	app := assembleApp(newTestConfig(), appParts{
		Store:     mem,
		Sink:      sink,
		Clock:     clk,
		Sensors:   sensors,
		Inventory: fakeInventory{},
		Killer:    fakeKiller{},
	})
	return &testApp{AppContext: app, mem: mem, sensors: sensors, sink: sink, clk: clk}
}
