// Package threshold turns a metrics snapshot into the breach events of one cycle.
package threshold

import (
	"fmt"

	"inventariagent/internal/format"
	"inventariagent/internal/model"
)

// Pair is a warn/crit limit couple. A reading at or above Crit is critical;
// otherwise at or above Warn is a warning.
type Pair struct {
	Warn float64 `json:"warn"`
	Crit float64 `json:"crit"`
}

// Set holds every configured limit.
type Set struct {
	CPUTemp  Pair    `json:"cpu_temp"`
	GPUTemp  Pair    `json:"gpu_temp"`
	CPUUsage Pair    `json:"cpu_usage"`
	RAMCrit  float64 `json:"ram_crit"`
	DiskWarn float64 `json:"disk_free_warn"`
}

// Defaults returns the stock limits.
func Defaults() Set {
	return Set{
		CPUTemp:  Pair{Warn: 85, Crit: 95},
		GPUTemp:  Pair{Warn: 85, Crit: 95},
		CPUUsage: Pair{Warn: 85, Crit: 95},
		RAMCrit:  80,
		DiskWarn: 25,
	}
}

type family struct {
	prefix   string
	metric   string
	label    string
	unit     string
	category model.Category
	tags     []string
}

var (
	cpuTempFamily = family{
		prefix: "cpu_temp", metric: "cpuTemp", label: "CPU temperature", unit: "°C",
		category: model.CategoryPerformance,
		tags:     []string{model.TagAuto, model.TagAlert, "cpu", "temperature"},
	}
	gpuTempFamily = family{
		prefix: "gpu_temp", metric: "gpuTemp", label: "GPU temperature", unit: "°C",
		category: model.CategoryPerformance,
		tags:     []string{model.TagAuto, model.TagAlert, "gpu", "temperature"},
	}
	cpuUsageFamily = family{
		prefix: "cpu_usage", metric: "cpuUsage", label: "CPU usage", unit: "%",
		category: model.CategoryPerformance,
		tags:     []string{model.TagAuto, model.TagAlert, "cpu", "usage"},
	}
	ramFamily = family{
		prefix: "ram_usage", metric: "ramUsage", label: "RAM usage", unit: "%",
		category: model.CategoryMemory,
		tags:     []string{model.TagAuto, model.TagAlert, "ram", "usage"},
	}
	diskFamily = family{
		prefix: "disk_space", metric: "diskFree", label: "Free disk space", unit: "%",
		category: model.CategoryStorage,
		tags:     []string{model.TagAuto, model.TagAlert, "disk", "space"},
	}
)

// Evaluate compares s against limits. Families are checked in a fixed order
// and at most one event is produced per family, crit taking precedence.
func Evaluate(s model.MetricsSnapshot, limits Set) []model.BreachEvent {
	var out []model.BreachEvent

	for _, c := range []struct {
		f     family
		value float64
		pair  Pair
	}{
		{cpuTempFamily, s.CPUTempC, limits.CPUTemp},
		{gpuTempFamily, s.GPUTempC, limits.GPUTemp},
		{cpuUsageFamily, s.CPUUsagePct, limits.CPUUsage},
	} {
		switch {
		case c.value >= c.pair.Crit:
			out = append(out, c.f.event("crit", model.SeverityHigh, c.value, c.pair.Crit, "above"))
		case c.value >= c.pair.Warn:
			out = append(out, c.f.event("warn", model.SeverityMedium, c.value, c.pair.Warn, "above"))
		}
	}

	if s.RAMUsagePct >= limits.RAMCrit {
		out = append(out, ramFamily.event("crit", model.SeverityHigh, s.RAMUsagePct, limits.RAMCrit, "above"))
	}
	if s.DiskFreePct < limits.DiskWarn {
		out = append(out, diskFamily.event("warn", model.SeverityMedium, s.DiskFreePct, limits.DiskWarn, "below"))
	}
	return out
}

func (f family) event(level string, sev model.Severity, value, limit float64, dir string) model.BreachEvent {
	v := fmt.Sprintf("%.1f%s", value, f.unit)
	l := format.FormatLimit(limit) + f.unit
	return model.BreachEvent{
		Tag:         f.prefix + "_" + level,
		Metric:      f.metric,
		Category:    f.category,
		Severity:    sev,
		Description: fmt.Sprintf("%s %s (%s %s threshold %s)", f.label, v, dir, level, l),
		Note:        fmt.Sprintf("%s still %s %s threshold: %s", f.label, dir, level, v),
		Value:       value,
		Limit:       limit,
		FamilyTags:  f.tags,
	}
}
