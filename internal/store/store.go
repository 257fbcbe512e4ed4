// Package store holds the incident Gateway backends and device heartbeat writers.
package store

import (
	"context"
	"errors"
	"time"

	"inventariagent/internal/model"
)

// ErrIncidentNotFound is returned by AppendChange for an unknown incident id.
var ErrIncidentNotFound = errors.New("incident not found")

// DefaultPageSize is the Redis lookup page size.
const DefaultPageSize = 200

// HeartbeatStore merges liveness and the latest readings into the device document.
type HeartbeatStore interface {
	Heartbeat(ctx context.Context, deviceID string, snap model.MetricsSnapshot, at time.Time) error
}

// DeviceRegistry records the hardware inventory in the device document.
// Fields other than the inventory are preserved.
type DeviceRegistry interface {
	RegisterDevice(ctx context.Context, deviceID string, specs model.DeviceSpecs, at time.Time) error
}

// Heartbeat is the device document as last written.
type Heartbeat struct {
	LastHeartbeat time.Time
	Metrics       model.MetricsSnapshot
}

func matchOpen(inc *model.Incident, tag string) bool {
	return inc.Status == model.StatusOpen && inc.HasTag(tag)
}

func matchRecent(inc *model.Incident, tag string, sev model.Severity, since time.Time) bool {
	return matchOpen(inc, tag) && inc.Severity == sev && inc.CreatedAt.After(since)
}
