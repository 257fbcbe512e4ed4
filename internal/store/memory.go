package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"inventariagent/internal/model"
)

// Memory is an in-process Gateway and HeartbeatStore.
type Memory struct {
	mu         sync.RWMutex
	incidents  map[string]*model.Incident
	heartbeats map[string]Heartbeat
	specs      map[string]model.DeviceSpecs
}

func NewMemory() *Memory {
	return &Memory{
		incidents:  make(map[string]*model.Incident),
		heartbeats: make(map[string]Heartbeat),
		specs:      make(map[string]model.DeviceSpecs),
	}
}

// newest returns the device incidents ordered by createdAt, newest first.
// Caller must hold mu.
func (m *Memory) newest(deviceID string) []*model.Incident {
	var out []*model.Incident
	for _, inc := range m.incidents {
		if inc.DeviceID == deviceID {
			out = append(out, inc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func cloneIncident(inc *model.Incident) *model.Incident {
	c := *inc
	c.Tags = append([]string(nil), inc.Tags...)
	c.Changes = append([]model.ChangeEntry{}, inc.Changes...)
	c.Comments = append([]string{}, inc.Comments...)
	return &c
}

func (m *Memory) FindOpenByTag(_ context.Context, deviceID, tag string) (*model.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inc := range m.newest(deviceID) {
		if matchOpen(inc, tag) {
			return cloneIncident(inc), nil
		}
	}
	return nil, nil
}

func (m *Memory) FindRecentByTagAndSeverity(_ context.Context, deviceID, tag string, sev model.Severity, since time.Time) (*model.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inc := range m.newest(deviceID) {
		if matchRecent(inc, tag, sev, since) {
			return cloneIncident(inc), nil
		}
	}
	return nil, nil
}

func (m *Memory) Create(_ context.Context, inc model.Incident) (string, error) {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.incidents[inc.ID]; exists {
		return "", fmt.Errorf("incident %s already exists", inc.ID)
	}
	m.incidents[inc.ID] = cloneIncident(&inc)
	return inc.ID, nil
}

func (m *Memory) AppendChange(_ context.Context, deviceID, incidentID string, entry model.ChangeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[incidentID]
	if !ok || inc.DeviceID != deviceID {
		return fmt.Errorf("append to %s: %w", incidentID, ErrIncidentNotFound)
	}
	inc.Changes = append(inc.Changes, entry)
	inc.UpdatedAt = entry.At
	return nil
}

// Resolve marks an incident closed, as an operator would from the console.
func (m *Memory) Resolve(incidentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[incidentID]
	if !ok {
		return false
	}
	inc.Status = "closed"
	return true
}

// Incidents returns a copy of every incident of a device, newest first.
func (m *Memory) Incidents(deviceID string) []model.Incident {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Incident
	for _, inc := range m.newest(deviceID) {
		out = append(out, *cloneIncident(inc))
	}
	return out
}

func (m *Memory) Heartbeat(_ context.Context, deviceID string, snap model.MetricsSnapshot, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats[deviceID] = Heartbeat{LastHeartbeat: at, Metrics: snap}
	return nil
}

// LastHeartbeat returns the last heartbeat written for a device.
func (m *Memory) LastHeartbeat(deviceID string) (Heartbeat, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hb, ok := m.heartbeats[deviceID]
	return hb, ok
}

func (m *Memory) RegisterDevice(_ context.Context, deviceID string, specs model.DeviceSpecs, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.specs[deviceID] = specs
	return nil
}

// Specs returns the inventory registered for a device.
func (m *Memory) Specs(deviceID string) (model.DeviceSpecs, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.specs[deviceID]
	return s, ok
}
