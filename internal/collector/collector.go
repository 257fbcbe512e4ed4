// Package collector reads the workstation sensors into a MetricsSnapshot.
package collector

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"inventariagent/internal/clock"
	"inventariagent/internal/format"
	"inventariagent/internal/model"
)

const defaultThermalZone = "/sys/class/thermal/thermal_zone0/temp"

var (
	cpuSensorKeys = []string{"coretemp", "k10temp", "zenpower", "cpu", "package", "tctl"}
	gpuSensorKeys = []string{"amdgpu", "nouveau", "nvidia", "radeon", "gpu"}
)

// readers is the sensor surface. Tests replace individual functions.
type readers struct {
	cpuPercent  func(ctx context.Context) ([]float64, error)
	memPercent  func(ctx context.Context) (float64, error)
	diskFree    func(ctx context.Context, path string) (float64, error)
	sensors     func(ctx context.Context) ([]host.TemperatureStat, error)
	thermalZone func() ([]byte, error)
}

func gopsutilReaders(thermalPath string) readers {
	return readers{
		cpuPercent: func(ctx context.Context) ([]float64, error) {
			return cpu.PercentWithContext(ctx, time.Second, false)
		},
		memPercent: func(ctx context.Context) (float64, error) {
			v, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				return 0, err
			}
			return v.UsedPercent, nil
		},
		diskFree: func(ctx context.Context, path string) (float64, error) {
			u, err := disk.UsageWithContext(ctx, path)
			if err != nil {
				return 0, err
			}
			return 100 - u.UsedPercent, nil
		},
		sensors: host.SensorsTemperaturesWithContext,
		thermalZone: func() ([]byte, error) {
			return os.ReadFile(thermalPath)
		},
	}
}

// Collector takes one snapshot per call. Readings that fail are reported as 0.
type Collector struct {
	diskPath string
	read     readers
	specs    specReaders
	clk      clock.Clock
	log      *slog.Logger
}

// New returns a Collector for the system volume. An empty diskPath selects
// C:\ on Windows and / elsewhere.
func New(diskPath string, clk clock.Clock, logger *slog.Logger) *Collector {
	if diskPath == "" {
		diskPath = "/"
		if runtime.GOOS == "windows" {
			diskPath = `C:\`
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		diskPath: diskPath,
		read:     gopsutilReaders(defaultThermalZone),
		specs:    gopsutilSpecReaders(),
		clk:      clock.OrReal(clk),
		log:      logger.With("component", "collector"),
	}
}

func (c *Collector) Snapshot(ctx context.Context) model.MetricsSnapshot {
	s := model.MetricsSnapshot{CapturedAt: c.clk.Now()}

	if pct, err := c.read.cpuPercent(ctx); err != nil {
		c.log.Debug("CPU usage unavailable", "err", err)
	} else {
		s.CPUUsagePct = format.SafeFloat(pct, 0)
	}
	if v, err := c.read.memPercent(ctx); err != nil {
		c.log.Debug("Memory usage unavailable", "err", err)
	} else {
		s.RAMUsagePct = v
	}
	if v, err := c.read.diskFree(ctx, c.diskPath); err != nil {
		c.log.Debug("Disk usage unavailable", "path", c.diskPath, "err", err)
	} else {
		s.DiskFreePct = v
	}

	temps, err := c.read.sensors(ctx)
	if err != nil && len(temps) == 0 {
		c.log.Debug("Temperature sensors unavailable", "err", err)
	}
	s.CPUTempC = hottest(temps, cpuSensorKeys)
	s.GPUTempC = hottest(temps, gpuSensorKeys)
	if s.CPUTempC == 0 {
		s.CPUTempC = c.thermalZoneTemp()
	}
	return s
}

// hottest returns the highest reading among sensors whose key matches one of keys.
func hottest(temps []host.TemperatureStat, keys []string) float64 {
	var max float64
	for _, t := range temps {
		k := strings.ToLower(t.SensorKey)
		for _, want := range keys {
			if strings.Contains(k, want) {
				if t.Temperature > max {
					max = t.Temperature
				}
				break
			}
		}
	}
	return max
}

func (c *Collector) thermalZoneTemp() float64 {
	raw, err := c.read.thermalZone()
	if err != nil {
		return 0
	}
	val, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0
	}
	return float64(val) / 1000.0
}
