package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventariagent/internal/incident"
	"inventariagent/internal/model"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type backend interface {
	incident.Gateway
	HeartbeatStore
	DeviceRegistry
}

func newRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, RedisOptions{Prefix: "test"}), mr
}

func backends(t *testing.T) map[string]backend {
	r, _ := newRedis(t)
	return map[string]backend{
		"memory": NewMemory(),
		"redis":  r,
	}
}

func open(device, tag string, sev model.Severity, at time.Time) model.Incident {
	return model.Incident{
		DeviceID:  device,
		Category:  model.CategoryPerformance,
		Title:     tag,
		Severity:  sev,
		Status:    model.StatusOpen,
		Tags:      []string{model.TagAuto, model.TagAlert, tag},
		CreatedAt: at,
		UpdatedAt: at,
		Changes:   []model.ChangeEntry{},
		Comments:  []string{},
	}
}

func TestGatewayFindOpenByTagReturnsNewest(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			older, err := b.Create(ctx, open("pc-1", "cpu_temp_crit", model.SeverityHigh, base))
			require.NoError(t, err)
			newer, err := b.Create(ctx, open("pc-1", "cpu_temp_crit", model.SeverityHigh, base.Add(time.Minute)))
			require.NoError(t, err)
			_, err = b.Create(ctx, open("pc-2", "cpu_temp_crit", model.SeverityHigh, base.Add(time.Hour)))
			require.NoError(t, err)

			got, err := b.FindOpenByTag(ctx, "pc-1", "cpu_temp_crit")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, newer, got.ID)
			assert.NotEqual(t, older, got.ID)

			none, err := b.FindOpenByTag(ctx, "pc-1", "ram_usage_crit")
			require.NoError(t, err)
			assert.Nil(t, none)
		})
	}
}

func TestGatewayFindRecentByTagAndSeverity(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := b.Create(ctx, open("pc-1", "policy", model.SeverityMedium, base))
			require.NoError(t, err)
			high, err := b.Create(ctx, open("pc-1", "policy", model.SeverityHigh, base))
			require.NoError(t, err)

			got, err := b.FindRecentByTagAndSeverity(ctx, "pc-1", "policy", model.SeverityHigh, base.Add(-15*time.Minute))
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, high, got.ID)

			// createdAt must be strictly after since.
			got, err = b.FindRecentByTagAndSeverity(ctx, "pc-1", "policy", model.SeverityHigh, base)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestGatewayAppendChangeRefreshesUpdatedAt(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			id, err := b.Create(ctx, open("pc-1", "disk_space_warn", model.SeverityMedium, base))
			require.NoError(t, err)

			at := base.Add(2 * time.Hour)
			entry := model.ChangeEntry{At: at, Metric: "diskFree", Value: 12, Threshold: 25, Note: "still low"}
			require.NoError(t, b.AppendChange(ctx, "pc-1", id, entry))

			got, err := b.FindOpenByTag(ctx, "pc-1", "disk_space_warn")
			require.NoError(t, err)
			require.NotNil(t, got)
			require.Len(t, got.Changes, 1)
			assert.Equal(t, "diskFree", got.Changes[0].Metric)
			assert.True(t, got.UpdatedAt.Equal(at))
			assert.True(t, got.LastActivity().Equal(at))

			err = b.AppendChange(ctx, "pc-1", "missing", entry)
			assert.ErrorIs(t, err, ErrIncidentNotFound)
		})
	}
}

func TestRedisHeartbeatWritesDeviceHash(t *testing.T) {
	r, mr := newRedis(t)
	snap := model.MetricsSnapshot{CPUTempC: 61.5, RAMUsagePct: 40}
	require.NoError(t, r.Heartbeat(context.Background(), "pc-1", snap, base))

	assert.Equal(t, base.Format(time.RFC3339), mr.HGet("test:device:pc-1", "lastHeartbeat"))
	assert.Equal(t, "61.5", mr.HGet("test:device:pc-1", "cpuTemp"))
	assert.Equal(t, "40", mr.HGet("test:device:pc-1", "ramUsage"))
}

func TestRedisFindSkipsCorruptDocuments(t *testing.T) {
	r, mr := newRedis(t)
	ctx := context.Background()
	id, err := r.Create(ctx, open("pc-1", "gpu_temp_warn", model.SeverityMedium, base))
	require.NoError(t, err)

	_, err = mr.ZAdd("test:device:pc-1:open:gpu_temp_warn", float64(base.Add(time.Minute).UnixMilli()), "broken")
	require.NoError(t, err)
	require.NoError(t, mr.Set("test:incident:broken", "{not json"))

	got, err := r.FindOpenByTag(ctx, "pc-1", "gpu_temp_warn")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)

	members, err := mr.ZMembers("test:device:pc-1:open:gpu_temp_warn")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, members)
}

func TestRedisFindsOpenIncidentBehindManyNewerOnes(t *testing.T) {
	r, _ := newRedis(t)
	ctx := context.Background()
	id, err := r.Create(ctx, open("pc-1", "disk_space_warn", model.SeverityMedium, base))
	require.NoError(t, err)

	for i := 1; i <= DefaultPageSize+20; i++ {
		inc := open("pc-1", "policy", model.SeverityHigh, base.Add(time.Duration(i)*time.Minute))
		inc.Status = "closed"
		_, err := r.Create(ctx, inc)
		require.NoError(t, err)
	}

	got, err := r.FindOpenByTag(ctx, "pc-1", "disk_space_warn")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)

	recent, err := r.FindRecentByTagAndSeverity(ctx, "pc-1", "disk_space_warn", model.SeverityMedium, base.Add(-time.Minute))
	require.NoError(t, err)
	require.NotNil(t, recent)
	assert.Equal(t, id, recent.ID)
}

func TestRedisLookupPagesPastClosedIncidents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	r := NewRedis(client, RedisOptions{Prefix: "test", PageSize: 3})
	ctx := context.Background()

	id, err := r.Create(ctx, open("pc-1", "ram_usage_warn", model.SeverityMedium, base))
	require.NoError(t, err)

	// Open when indexed, closed afterwards from the console side.
	for i := 1; i <= 7; i++ {
		inc := open("pc-1", "ram_usage_warn", model.SeverityMedium, base.Add(time.Duration(i)*time.Minute))
		newer, err := r.Create(ctx, inc)
		require.NoError(t, err)
		inc.ID = newer
		inc.Status = "closed"
		doc, err := json.Marshal(inc)
		require.NoError(t, err)
		require.NoError(t, mr.Set("test:incident:"+newer, string(doc)))
	}

	got, err := r.FindOpenByTag(ctx, "pc-1", "ram_usage_warn")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)

	members, err := mr.ZMembers("test:device:pc-1:open:ram_usage_warn")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, members, "closed incidents leave the open index")
}

func TestOpenRedisDoesNotDial(t *testing.T) {
	r, err := OpenRedis(RedisOptions{URL: "redis://127.0.0.1:1/0"})
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, r.Ping(ctx))

	_, err = OpenRedis(RedisOptions{URL: "://nope"})
	assert.Error(t, err)
}

func TestMemoryResolveClosesIncident(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id, err := m.Create(ctx, open("pc-1", "ram_usage_crit", model.SeverityHigh, base))
	require.NoError(t, err)

	assert.True(t, m.Resolve(id))
	got, err := m.FindOpenByTag(ctx, "pc-1", "ram_usage_crit")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, m.Resolve("missing"))

	require.NoError(t, m.Heartbeat(ctx, "pc-1", model.MetricsSnapshot{DiskFreePct: 50}, base))
	hb, ok := m.LastHeartbeat("pc-1")
	require.True(t, ok)
	assert.Equal(t, float64(50), hb.Metrics.DiskFreePct)
}

func TestRedisRegisterDeviceKeepsHeartbeat(t *testing.T) {
	r, mr := newRedis(t)
	ctx := context.Background()
	require.NoError(t, r.Heartbeat(ctx, "pc-1", model.MetricsSnapshot{CPUTempC: 48}, base))
	mr.HSet("test:device:pc-1", "location", "Aula 3")

	specs := model.DeviceSpecs{CPU: "Ryzen 5 5600G", GPU: "Unknown", RAMGB: 16, StorageGB: 512, IP: "192.168.30.12", MAC: "3c:52:82:1a:2b:3c"}
	require.NoError(t, r.RegisterDevice(ctx, "pc-1", specs, base.Add(time.Minute)))

	assert.Equal(t, "Ryzen 5 5600G", mr.HGet("test:device:pc-1", "cpu"))
	assert.Equal(t, "16", mr.HGet("test:device:pc-1", "ram_gb"))
	assert.Equal(t, "512", mr.HGet("test:device:pc-1", "storage_gb"))
	assert.Equal(t, "3c:52:82:1a:2b:3c", mr.HGet("test:device:pc-1", "mac_address"))
	assert.Equal(t, base.Add(time.Minute).Format(time.RFC3339), mr.HGet("test:device:pc-1", "specsUpdatedAt"))
	assert.Equal(t, "48", mr.HGet("test:device:pc-1", "cpuTemp"), "heartbeat fields survive")
	assert.Equal(t, "Aula 3", mr.HGet("test:device:pc-1", "location"), "console fields survive")
}

func TestMemoryRegisterDevice(t *testing.T) {
	m := NewMemory()
	_, ok := m.Specs("pc-1")
	assert.False(t, ok)

	require.NoError(t, m.RegisterDevice(context.Background(), "pc-1", model.DeviceSpecs{CPU: "i5"}, base))
	got, ok := m.Specs("pc-1")
	require.True(t, ok)
	assert.Equal(t, "i5", got.CPU)
}
