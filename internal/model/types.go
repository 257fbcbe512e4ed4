package model

import "time"

// Severity is the priority attached to incidents and notifications.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// Category groups incidents by the subsystem that raised them.
type Category string

const (
	CategoryPerformance Category = "performance"
	CategoryMemory      Category = "memory"
	CategoryStorage     Category = "storage"
	CategoryPolicy      Category = "policy"
)

// StatusOpen is the only status the agent ever writes. Closing is done store-side.
const StatusOpen = "open"

// Tags present on every incident the agent opens.
const (
	TagAuto  = "auto"
	TagAlert = "alert"
)

// MetricsSnapshot holds one reading of the workstation sensors
type MetricsSnapshot struct {
	CPUTempC    float64
	GPUTempC    float64
	CPUUsagePct float64
	RAMUsagePct float64
	DiskFreePct float64
	CapturedAt  time.Time
}

// DeviceSpecs is the hardware inventory written once at startup.
// Unknown text fields hold "Unknown".
type DeviceSpecs struct {
	CPU       string
	GPU       string
	RAMGB     float64
	StorageGB int64
	IP        string
	MAC       string
}

// BreachEvent is a single metric crossing a threshold in one cycle.
type BreachEvent struct {
	Tag         string // stable key, e.g. cpu_temp_crit
	Metric      string // name written to change entries, e.g. cpuTemp
	Category    Category
	Severity    Severity
	Description string
	Note        string // note used when appending to an open incident
	Value       float64
	Limit       float64
	FamilyTags  []string
}

// Tags returns the family tags plus the metric tag, without duplicates.
func (e BreachEvent) Tags() []string {
	out := make([]string, 0, len(e.FamilyTags)+1)
	seen := make(map[string]bool, len(e.FamilyTags)+1)
	for _, t := range append(append([]string{}, e.FamilyTags...), e.Tag) {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// ChangeEntry is one append-only line in an incident change log.
type ChangeEntry struct {
	At        time.Time `json:"at"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Note      string    `json:"note"`
}

// Incident is the persisted record of an ongoing problem on a device.
type Incident struct {
	ID          string        `json:"id"`
	DeviceID    string        `json:"pcId"`
	Category    Category      `json:"category"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Severity    Severity      `json:"priority"`
	Status      string        `json:"status"`
	Tags        []string      `json:"tags"`
	ReportedBy  string        `json:"reportedByName,omitempty"`
	CreatedBy   string        `json:"createdBy,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt,omitempty"`
	Changes     []ChangeEntry `json:"changes"`
	Comments    []string      `json:"comments"`
}

// LastActivity returns UpdatedAt, or CreatedAt when the incident was never updated.
func (i Incident) LastActivity() time.Time {
	if !i.UpdatedAt.IsZero() {
		return i.UpdatedAt
	}
	return i.CreatedAt
}

// HasTag reports whether tag is in the incident tag set.
func (i Incident) HasTag(tag string) bool {
	for _, t := range i.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ProcessObservation is a process seen starting (or already running at startup).
type ProcessObservation struct {
	Name    string
	PID     int32
	Cmdline string
}
