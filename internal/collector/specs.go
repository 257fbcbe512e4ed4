package collector

import (
	"context"
	"math"
	"net/netip"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"

	"inventariagent/internal/model"
)

const unknown = "Unknown"

const gib = 1 << 30

// specReaders is the inventory surface. Tests replace individual functions.
type specReaders struct {
	cpuInfo    func(ctx context.Context) ([]cpu.InfoStat, error)
	memTotal   func(ctx context.Context) (uint64, error)
	partitions func(ctx context.Context) ([]disk.PartitionStat, error)
	diskTotal  func(ctx context.Context, path string) (uint64, error)
	interfaces func(ctx context.Context) (net.InterfaceStatList, error)
}

func gopsutilSpecReaders() specReaders {
	return specReaders{
		cpuInfo: cpu.InfoWithContext,
		memTotal: func(ctx context.Context) (uint64, error) {
			v, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				return 0, err
			}
			return v.Total, nil
		},
		partitions: func(ctx context.Context) ([]disk.PartitionStat, error) {
			return disk.PartitionsWithContext(ctx, false)
		},
		diskTotal: func(ctx context.Context, path string) (uint64, error) {
			u, err := disk.UsageWithContext(ctx, path)
			if err != nil {
				return 0, err
			}
			return u.Total, nil
		},
		interfaces: net.InterfacesWithContext,
	}
}

// Specs reads the hardware inventory. Parts that cannot be read stay
// Unknown or zero.
func (c *Collector) Specs(ctx context.Context) model.DeviceSpecs {
	s := model.DeviceSpecs{CPU: unknown, GPU: unknown, IP: unknown, MAC: unknown}

	if infos, err := c.specs.cpuInfo(ctx); err != nil || len(infos) == 0 {
		c.log.Debug("CPU model unavailable", "err", err)
	} else if name := strings.TrimSpace(infos[0].ModelName); name != "" {
		s.CPU = name
	}

	if total, err := c.specs.memTotal(ctx); err != nil {
		c.log.Debug("Memory size unavailable", "err", err)
	} else {
		s.RAMGB = math.Round(float64(total) / gib)
	}

	s.StorageGB = c.storageGB(ctx)

	if ifaces, err := c.specs.interfaces(ctx); err != nil {
		c.log.Debug("Network interfaces unavailable", "err", err)
	} else if ip, mac, ok := primaryAddress(ifaces); ok {
		s.IP, s.MAC = ip, mac
	}
	return s
}

// storageGB sums the size of every mounted physical volume, counting each
// device once.
func (c *Collector) storageGB(ctx context.Context) int64 {
	parts, err := c.specs.partitions(ctx)
	if err != nil {
		c.log.Debug("Disk partitions unavailable", "err", err)
		return 0
	}
	seen := make(map[string]bool, len(parts))
	var total int64
	for _, p := range parts {
		if seen[p.Device] {
			continue
		}
		seen[p.Device] = true
		size, err := c.specs.diskTotal(ctx, p.Mountpoint)
		if err != nil {
			continue
		}
		total += int64(size / gib)
	}
	return total
}

// primaryAddress picks the first interface that is up, is not loopback and
// has both a MAC and an address. IPv4 wins over IPv6.
func primaryAddress(ifaces net.InterfaceStatList) (ip, mac string, ok bool) {
	var v6IP, v6MAC string
	for _, iface := range ifaces {
		if iface.HardwareAddr == "" || slices.Contains(iface.Flags, "loopback") || !slices.Contains(iface.Flags, "up") {
			continue
		}
		for _, a := range iface.Addrs {
			prefix, err := netip.ParsePrefix(a.Addr)
			if err != nil {
				continue
			}
			addr := prefix.Addr()
			if addr.IsLoopback() || addr.IsLinkLocalUnicast() {
				continue
			}
			if addr.Is4() {
				return addr.String(), iface.HardwareAddr, true
			}
			if v6IP == "" {
				v6IP, v6MAC = addr.String(), iface.HardwareAddr
			}
		}
	}
	return v6IP, v6MAC, v6IP != ""
}
