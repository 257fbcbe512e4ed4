package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"inventariagent/internal/model"
)

const maxAppendRetries = 5

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	URL    string
	Prefix string
	// PageSize is how many index entries a lookup reads per round trip.
	PageSize int64
}

// Redis stores each incident as a JSON document and indexes it per device in
// a sorted set scored by creation time. Open incidents are also indexed per
// tag so lookups never depend on how many newer incidents the device has.
type Redis struct {
	client   redis.UniversalClient
	prefix   string
	pageSize int64
}

// OpenRedis parses opts.URL and builds the client. It does not connect:
// go-redis dials on first use and reconnects on its own.
func OpenRedis(opts RedisOptions) (*Redis, error) {
	ro, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	ro.MaxRetries = 3
	return NewRedis(redis.NewClient(ro), opts), nil
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, opts RedisOptions) *Redis {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "inv"
	}
	page := opts.PageSize
	if page <= 0 {
		page = DefaultPageSize
	}
	return &Redis{client: client, prefix: prefix, pageSize: page}
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) incidentKey(id string) string {
	return r.prefix + ":incident:" + id
}

func (r *Redis) deviceIndexKey(deviceID string) string {
	return r.prefix + ":device:" + deviceID + ":incidents"
}

func (r *Redis) openTagKey(deviceID, tag string) string {
	return r.prefix + ":device:" + deviceID + ":open:" + tag
}

func (r *Redis) deviceKey(deviceID string) string {
	return r.prefix + ":device:" + deviceID
}

// load fetches the documents for ids, keeping order and dropping missing or
// undecodable entries.
func (r *Redis) load(ctx context.Context, ids []string) ([]*model.Incident, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.incidentKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget incidents: %w", err)
	}
	out := make([]*model.Incident, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var inc model.Incident
		if err := json.Unmarshal([]byte(s), &inc); err != nil {
			continue
		}
		out = append(out, &inc)
	}
	return out, nil
}

// firstMatch walks the tag index newest first, one page at a time, and
// returns the first incident accepted by match. Entries whose document is
// gone or no longer open are dropped from the index afterwards.
func (r *Redis) firstMatch(ctx context.Context, deviceID, tag, minScore string, match func(*model.Incident) bool) (*model.Incident, error) {
	key := r.openTagKey(deviceID, tag)
	var stale []any
	defer func() {
		if len(stale) > 0 {
			_ = r.client.ZRem(context.WithoutCancel(ctx), key, stale...).Err()
		}
	}()

	for offset := int64(0); ; offset += r.pageSize {
		ids, err := r.client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
			Max:    "+inf",
			Min:    minScore,
			Offset: offset,
			Count:  r.pageSize,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("list open %s incidents of %s: %w", tag, deviceID, err)
		}
		incs, err := r.load(ctx, ids)
		if err != nil {
			return nil, err
		}
		found := make(map[string]bool, len(incs))
		for _, inc := range incs {
			found[inc.ID] = true
			if inc.Status != model.StatusOpen {
				stale = append(stale, inc.ID)
				continue
			}
			if match(inc) {
				return inc, nil
			}
		}
		for _, id := range ids {
			if !found[id] {
				stale = append(stale, id)
			}
		}
		if int64(len(ids)) < r.pageSize {
			return nil, nil
		}
	}
}

func (r *Redis) FindOpenByTag(ctx context.Context, deviceID, tag string) (*model.Incident, error) {
	return r.firstMatch(ctx, deviceID, tag, "-inf", func(inc *model.Incident) bool {
		return matchOpen(inc, tag)
	})
}

func (r *Redis) FindRecentByTagAndSeverity(ctx context.Context, deviceID, tag string, sev model.Severity, since time.Time) (*model.Incident, error) {
	after := "(" + strconv.FormatInt(since.UnixMilli(), 10)
	return r.firstMatch(ctx, deviceID, tag, after, func(inc *model.Incident) bool {
		return matchRecent(inc, tag, sev, since)
	})
}

func (r *Redis) Create(ctx context.Context, inc model.Incident) (string, error) {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	doc, err := json.Marshal(inc)
	if err != nil {
		return "", fmt.Errorf("marshal incident: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.incidentKey(inc.ID), doc, 0)
		pipe.ZAdd(ctx, r.deviceIndexKey(inc.DeviceID), redis.Z{
			Score:  float64(inc.CreatedAt.UnixMilli()),
			Member: inc.ID,
		})
		if inc.Status == model.StatusOpen {
			for _, tag := range inc.Tags {
				pipe.ZAdd(ctx, r.openTagKey(inc.DeviceID, tag), redis.Z{
					Score:  float64(inc.CreatedAt.UnixMilli()),
					Member: inc.ID,
				})
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("store incident %s: %w", inc.ID, err)
	}
	return inc.ID, nil
}

// AppendChange rewrites the document under WATCH so concurrent appends are
// never lost. Contended transactions are retried a bounded number of times.
func (r *Redis) AppendChange(ctx context.Context, deviceID, incidentID string, entry model.ChangeEntry) error {
	key := r.incidentKey(incidentID)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("append to %s: %w", incidentID, ErrIncidentNotFound)
		}
		if err != nil {
			return err
		}
		var inc model.Incident
		if err := json.Unmarshal(raw, &inc); err != nil {
			return fmt.Errorf("decode incident %s: %w", incidentID, err)
		}
		if inc.DeviceID != deviceID {
			return fmt.Errorf("append to %s: %w", incidentID, ErrIncidentNotFound)
		}
		inc.Changes = append(inc.Changes, entry)
		inc.UpdatedAt = entry.At
		doc, err := json.Marshal(inc)
		if err != nil {
			return fmt.Errorf("marshal incident: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, doc, 0)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < maxAppendRetries; i++ {
		err = r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("append to %s: contention after %d attempts: %w", incidentID, maxAppendRetries, err)
}

func (r *Redis) Heartbeat(ctx context.Context, deviceID string, snap model.MetricsSnapshot, at time.Time) error {
	err := r.client.HSet(ctx, r.deviceKey(deviceID), map[string]any{
		"lastHeartbeat": at.UTC().Format(time.RFC3339),
		"cpuTemp":       snap.CPUTempC,
		"gpuTemp":       snap.GPUTempC,
		"cpuUsage":      snap.CPUUsagePct,
		"ramUsage":      snap.RAMUsagePct,
		"diskFree":      snap.DiskFreePct,
	}).Err()
	if err != nil {
		return fmt.Errorf("heartbeat %s: %w", deviceID, err)
	}
	return nil
}

func (r *Redis) RegisterDevice(ctx context.Context, deviceID string, specs model.DeviceSpecs, at time.Time) error {
	err := r.client.HSet(ctx, r.deviceKey(deviceID), map[string]any{
		"cpu":            specs.CPU,
		"gpu":            specs.GPU,
		"ram_gb":         specs.RAMGB,
		"storage_gb":     specs.StorageGB,
		"ip_address":     specs.IP,
		"mac_address":    specs.MAC,
		"specsUpdatedAt": at.UTC().Format(time.RFC3339),
	}).Err()
	if err != nil {
		return fmt.Errorf("register %s: %w", deviceID, err)
	}
	return nil
}
