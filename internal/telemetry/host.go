package telemetry

import (
	"context"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// HostConfig tunes the host-backed provider.
type HostConfig struct {
	// ReadTimeout bounds every read so a slow source cannot stall a tick.
	ReadTimeout time.Duration
	// FailureThreshold is the number of consecutive failures that opens a
	// family's breaker.
	FailureThreshold uint32
	// CooldownPeriod is how long an open breaker rejects reads.
	CooldownPeriod time.Duration
}

func (c *HostConfig) applyDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 500 * time.Millisecond
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 3
	}
	if c.CooldownPeriod <= 0 {
		c.CooldownPeriod = 30 * time.Second
	}
}

// counters holds cumulative host counters from the previous read so rates
// can be derived.
type counters struct {
	memSet      bool
	majorFaults uint64
	diskOps     uint64
	diskTimeMs  uint64

	ioSet     bool
	packets   uint64
	drops     uint64
	netErrors uint64
}

// Host reads real metrics from the operating system. Each family sits
// behind its own circuit breaker; an open breaker reports ErrUnavailable
// without touching the host.
type Host struct {
	cfg HostConfig
	log *logrus.Logger

	cpuBreaker *gobreaker.CircuitBreaker
	memBreaker *gobreaker.CircuitBreaker
	ioBreaker  *gobreaker.CircuitBreaker

	prev counters
}

// NewHost creates a host-backed provider.
func NewHost(cfg HostConfig, log *logrus.Logger) *Host {
	cfg.applyDefaults()
	h := &Host{cfg: cfg, log: log}
	h.cpuBreaker = h.newBreaker("cpu_gpu")
	h.memBreaker = h.newBreaker("memory")
	h.ioBreaker = h.newBreaker("io_network")
	return h
}

func (h *Host) newBreaker(name string) *gobreaker.CircuitBreaker {
	threshold := h.cfg.FailureThreshold
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     h.cfg.CooldownPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			h.log.WithFields(logrus.Fields{
				"family": name,
				"from":   from.String(),
				"to":     to.String(),
			}).Warn("Telemetry breaker state changed")
		},
	})
}

func (h *Host) execute(ctx context.Context, cb *gobreaker.CircuitBreaker, read func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.ReadTimeout)
	defer cancel()
	v, err := cb.Execute(func() (interface{}, error) {
		return read(ctx)
	})
	if err != nil {
		return nil, &UnavailableError{Family: cb.Name(), Err: err}
	}
	return v, nil
}

func (h *Host) ReadCPUGPUMetrics(ctx context.Context) (CPUGPUMetrics, error) {
	v, err := h.execute(ctx, h.cpuBreaker, func(ctx context.Context) (interface{}, error) {
		percents, err := cpu.PercentWithContext(ctx, 0, false)
		if err != nil {
			return nil, err
		}
		m := CPUGPUMetrics{}
		if len(percents) > 0 {
			m.CPULoad = clamp(percents[0] / 100)
		}
		// Sensors are frequently absent (VMs, containers); a missing
		// temperature is not a failed read.
		temps, _ := host.SensorsTemperaturesWithContext(ctx)
		m.CPUTempC = cpuTemperature(temps)
		if hottestCritical(temps) {
			m.ThrottlingEvents = 1
		}
		return m, nil
	})
	if err != nil {
		return CPUGPUMetrics{}, err
	}
	return v.(CPUGPUMetrics), nil
}

func (h *Host) ReadMemoryMetrics(ctx context.Context) (MemoryMetrics, error) {
	v, err := h.execute(ctx, h.memBreaker, func(ctx context.Context) (interface{}, error) {
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return nil, err
		}
		m := MemoryMetrics{RAMUsedRatio: clamp(vm.UsedPercent / 100)}

		if swap, err := mem.SwapMemoryWithContext(ctx); err == nil {
			m.SwapUsedRatio = clamp(swap.UsedPercent / 100)
			if h.prev.memSet && swap.PgMajFault >= h.prev.majorFaults {
				m.MajorPageFaults = float64(swap.PgMajFault - h.prev.majorFaults)
			}
			h.prev.majorFaults = swap.PgMajFault
		}

		if stats, err := disk.IOCountersWithContext(ctx); err == nil {
			var ops, timeMs uint64
			for _, s := range stats {
				ops += s.ReadCount + s.WriteCount
				timeMs += s.ReadTime + s.WriteTime
			}
			if h.prev.memSet && ops > h.prev.diskOps && timeMs >= h.prev.diskTimeMs {
				m.DiskLatencyMs = float64(timeMs-h.prev.diskTimeMs) / float64(ops-h.prev.diskOps)
			}
			h.prev.diskOps, h.prev.diskTimeMs = ops, timeMs
		}
		h.prev.memSet = true
		return m, nil
	})
	if err != nil {
		return MemoryMetrics{}, err
	}
	return v.(MemoryMetrics), nil
}

func (h *Host) ReadIONetworkMetrics(ctx context.Context) (IOMetrics, error) {
	v, err := h.execute(ctx, h.ioBreaker, func(ctx context.Context) (interface{}, error) {
		nics, err := net.IOCountersWithContext(ctx, false)
		if err != nil {
			return nil, err
		}
		var packets, drops, errs uint64
		for _, n := range nics {
			packets += n.PacketsRecv + n.PacketsSent
			drops += n.Dropin + n.Dropout
			errs += n.Errin + n.Errout
		}
		m := IOMetrics{}
		if h.prev.ioSet && packets > h.prev.packets {
			dp := float64(packets - h.prev.packets)
			if drops >= h.prev.drops {
				m.NetPacketLoss = clamp(float64(drops-h.prev.drops) / dp)
			}
			if errs >= h.prev.netErrors {
				m.IOErrorRate = clamp(float64(errs-h.prev.netErrors) / dp)
			}
		}
		h.prev.packets, h.prev.drops, h.prev.netErrors = packets, drops, errs

		if stats, err := disk.IOCountersWithContext(ctx); err == nil {
			var inFlight uint64
			for _, s := range stats {
				inFlight += s.IopsInProgress
			}
			m.IOQueueDepth = clamp(float64(inFlight) / 32)
		}
		h.prev.ioSet = true
		return m, nil
	})
	if err != nil {
		return IOMetrics{}, err
	}
	return v.(IOMetrics), nil
}

func cpuTemperature(temps []host.TemperatureStat) float64 {
	var hottest float64
	for _, t := range temps {
		key := strings.ToLower(t.SensorKey)
		if !strings.Contains(key, "core") && !strings.Contains(key, "cpu") && !strings.Contains(key, "package") {
			continue
		}
		if t.Temperature > hottest {
			hottest = t.Temperature
		}
	}
	return hottest
}

func hottestCritical(temps []host.TemperatureStat) bool {
	for _, t := range temps {
		if t.Critical > 0 && t.Temperature >= t.Critical {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
