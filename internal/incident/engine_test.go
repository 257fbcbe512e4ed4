package incident

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventariagent/internal/clock"
	"inventariagent/internal/model"
)

var t0 = time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu        sync.Mutex
	seq       int
	incidents []*model.Incident
	findErr   error
	createErr map[string]error // keyed by first non-base tag
	calls     []string
}

func (f *fakeGateway) sorted() []*model.Incident {
	out := append([]*model.Incident(nil), f.incidents...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (f *fakeGateway) FindOpenByTag(_ context.Context, deviceID, tag string) (*model.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "find:"+tag)
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, inc := range f.sorted() {
		if inc.DeviceID == deviceID && inc.Status == model.StatusOpen && inc.HasTag(tag) {
			c := *inc
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeGateway) FindRecentByTagAndSeverity(_ context.Context, deviceID, tag string, sev model.Severity, since time.Time) (*model.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "recent:"+tag)
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, inc := range f.sorted() {
		if inc.DeviceID == deviceID && inc.Status == model.StatusOpen && inc.HasTag(tag) &&
			inc.Severity == sev && inc.CreatedAt.After(since) {
			c := *inc
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeGateway) Create(_ context.Context, inc model.Incident) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	last := inc.Tags[len(inc.Tags)-1]
	f.calls = append(f.calls, "create:"+last)
	if err := f.createErr[last]; err != nil {
		return "", err
	}
	f.seq++
	inc.ID = fmt.Sprintf("inc-%d", f.seq)
	f.incidents = append(f.incidents, &inc)
	return inc.ID, nil
}

func (f *fakeGateway) AppendChange(_ context.Context, _ string, id string, entry model.ChangeEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "append:"+id)
	for _, inc := range f.incidents {
		if inc.ID == id {
			inc.Changes = append(inc.Changes, entry)
			inc.UpdatedAt = entry.At
			return nil
		}
	}
	return errors.New("not found")
}

func newEngine(gw Gateway, clk clock.Clock) *Engine {
	return NewEngine(gw, Config{DeviceID: "pc-07", Clock: clk})
}

func cpuCrit(v float64) model.BreachEvent {
	return model.BreachEvent{
		Tag: "cpu_temp_crit", Metric: "cpuTemp", Category: model.CategoryPerformance,
		Severity: model.SeverityHigh, Description: "CPU hot", Note: "still hot",
		Value: v, Limit: 95, FamilyTags: []string{"auto", "alert", "cpu", "temperature"},
	}
}

func TestHandleCreatesThenSkipsWithinCooldown(t *testing.T) {
	gw := &fakeGateway{}
	clk := clock.NewFake(t0)
	e := newEngine(gw, clk)
	ctx := context.Background()

	o, err := e.Handle(ctx, cpuCrit(97))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, o)

	require.Len(t, gw.incidents, 1)
	inc := gw.incidents[0]
	assert.Equal(t, "pc-07", inc.DeviceID)
	assert.Equal(t, model.StatusOpen, inc.Status)
	assert.Equal(t, "CPU hot", inc.Title)
	assert.Empty(t, inc.Description)
	assert.Equal(t, []string{"auto", "alert", "cpu", "temperature", "cpu_temp_crit"}, inc.Tags)
	assert.Equal(t, "InventariAgent", inc.ReportedBy)
	assert.True(t, inc.UpdatedAt.Equal(t0))

	for _, step := range []time.Duration{30 * time.Second, 30 * time.Minute, 29*time.Minute + 29*time.Second} {
		clk.Advance(step)
		o, err = e.Handle(ctx, cpuCrit(98))
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, o)
	}
	assert.Len(t, gw.incidents, 1)
	assert.Empty(t, gw.incidents[0].Changes)
}

func TestHandleAppendsAfterCooldownMeasuredFromUpdatedAt(t *testing.T) {
	gw := &fakeGateway{}
	clk := clock.NewFake(t0)
	e := newEngine(gw, clk)
	ctx := context.Background()

	_, err := e.Handle(ctx, cpuCrit(97))
	require.NoError(t, err)

	clk.Advance(61 * time.Minute)
	o, err := e.Handle(ctx, cpuCrit(99))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAppended, o)

	changes := gw.incidents[0].Changes
	require.Len(t, changes, 1)
	assert.Equal(t, model.ChangeEntry{At: t0.Add(61 * time.Minute), Metric: "cpuTemp", Value: 99, Threshold: 95, Note: "still hot"}, changes[0])

	// 61m after creation but only 30m after the last update.
	clk.Advance(30 * time.Minute)
	o, err = e.Handle(ctx, cpuCrit(99))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, o)
}

func TestHandleAllContinuesAfterFailure(t *testing.T) {
	gw := &fakeGateway{createErr: map[string]error{"cpu_temp_crit": errors.New("store down")}}
	var seen []Outcome
	e := NewEngine(gw, Config{
		DeviceID:  "pc-07",
		Clock:     clock.NewFake(t0),
		OnOutcome: func(_ string, o Outcome) { seen = append(seen, o) },
	})

	ram := model.BreachEvent{Tag: "ram_usage_crit", Metric: "ramUsage", Category: model.CategoryMemory, Severity: model.SeverityHigh}
	got := e.HandleAll(context.Background(), []model.BreachEvent{cpuCrit(99), ram})

	assert.Equal(t, []Outcome{OutcomeFailed, OutcomeCreated}, got)
	assert.Equal(t, got, seen)
	assert.Equal(t, []string{"find:cpu_temp_crit", "create:cpu_temp_crit", "find:ram_usage_crit", "create:ram_usage_crit"}, gw.calls)
}

func TestHandleLookupFailureDoesNotCreate(t *testing.T) {
	gw := &fakeGateway{findErr: errors.New("timeout")}
	e := newEngine(gw, clock.NewFake(t0))

	o, err := e.Handle(context.Background(), cpuCrit(99))
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, o)
	assert.Empty(t, gw.incidents)
}

func TestHandleAllStopsWhenCancelled(t *testing.T) {
	gw := &fakeGateway{}
	e := newEngine(gw, clock.NewFake(t0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Empty(t, e.HandleAll(ctx, []model.BreachEvent{cpuCrit(99)}))
	assert.Empty(t, gw.calls)
}

func TestReportPolicyCreatesThenAppendsWithinWindow(t *testing.T) {
	gw := &fakeGateway{}
	clk := clock.NewFake(t0)
	e := newEngine(gw, clk)
	ctx := context.Background()

	o, err := e.ReportPolicy(ctx, PolicyReport{Exe: "steam.exe", Category: "launcher_juegos", PID: 4120, Terminated: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, o)
	require.Len(t, gw.incidents, 1)
	inc := gw.incidents[0]
	assert.Equal(t, model.CategoryPolicy, inc.Category)
	assert.Equal(t, model.SeverityHigh, inc.Severity)
	assert.Equal(t, []string{"auto", "alert", "policy", "appblock"}, inc.Tags)

	clk.Advance(5 * time.Minute)
	o, err = e.ReportPolicy(ctx, PolicyReport{Exe: "epicgameslauncher.exe", Category: "launcher_juegos", PID: 77})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAppended, o)
	require.Len(t, inc.Changes, 1)
	assert.Equal(t, "policy.appblock", inc.Changes[0].Metric)
	assert.Equal(t, "epicgameslauncher.exe (launcher_juegos) pid=77 failed", inc.Changes[0].Note)

	// Different severity gets its own incident.
	o, err = e.ReportPolicy(ctx, PolicyReport{Exe: "discord.exe", Category: "chat", PID: 9, Terminated: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, o)

	// Outside the window a new high incident is opened.
	clk.Advance(15 * time.Minute)
	o, err = e.ReportPolicy(ctx, PolicyReport{Exe: "steam.exe", Category: "launcher_juegos", PID: 5000, Terminated: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, o)
	assert.Len(t, gw.incidents, 3)
}

func TestSeverityForCategory(t *testing.T) {
	assert.Equal(t, model.SeverityHigh, SeverityForCategory("emulador"))
	assert.Equal(t, model.SeverityHigh, SeverityForCategory("Android_Emulador"))
	assert.Equal(t, model.SeverityMedium, SeverityForCategory("redes_sociales"))
	assert.Equal(t, model.SeverityMedium, SeverityForCategory(""))
}
