package telemetry

import (
	"context"
	"math"

	"github.com/invisible-tech/aion/internal/bus"
)

// Simulated produces phase-driven synthetic readings whose intensity follows
// the bus sim level. The level func is called from the reading goroutine
// only.
type Simulated struct {
	level func() bus.SimLevel
	tick  uint64
}

// NewSimulated returns a provider driven by level.
func NewSimulated(level func() bus.SimLevel) *Simulated {
	return &Simulated{level: level}
}

// nextPhase walks a 60-step sawtooth in [0, 1).
func (s *Simulated) nextPhase() float64 {
	s.tick++
	return float64(s.tick%60) / 60.0
}

func (s *Simulated) ReadCPUGPUMetrics(ctx context.Context) (CPUGPUMetrics, error) {
	if err := ctx.Err(); err != nil {
		return CPUGPUMetrics{}, &UnavailableError{Family: "cpu_gpu", Err: err}
	}
	p := s.nextPhase()
	switch s.level() {
	case bus.SimLow:
		return CPUGPUMetrics{
			CPULoad:    0.2 + 0.25*math.Abs(p-0.5),
			CPUTempC:   45 + p*10,
			GPULoad:    0.15 + 0.2*p,
			GPUMemUtil: 0.10 + 0.15*(1-p),
		}, nil
	case bus.SimHigh:
		temp := 55 + p*25
		m := CPUGPUMetrics{
			CPULoad:    0.4 + 0.5*p,
			CPUTempC:   temp,
			GPULoad:    0.5 + 0.45*(1-p),
			GPUMemUtil: 0.4 + 0.4*p,
		}
		if temp > 75 {
			m.ThrottlingEvents = 1
		}
		return m, nil
	default:
		return CPUGPUMetrics{CPULoad: 0.15, CPUTempC: 45, GPULoad: 0.10, GPUMemUtil: 0.08}, nil
	}
}

func (s *Simulated) ReadMemoryMetrics(ctx context.Context) (MemoryMetrics, error) {
	if err := ctx.Err(); err != nil {
		return MemoryMetrics{}, &UnavailableError{Family: "memory", Err: err}
	}
	p := s.nextPhase()
	switch s.level() {
	case bus.SimLow:
		return MemoryMetrics{
			RAMUsedRatio:    0.35 + 0.15*p,
			MajorPageFaults: 0.5,
			DiskLatencyMs:   3 + 2*p,
		}, nil
	case bus.SimHigh:
		return MemoryMetrics{
			RAMUsedRatio:    0.6 + 0.35*p,
			MajorPageFaults: 2 + 5*p,
			DiskLatencyMs:   5 + 12*p,
		}, nil
	default:
		return MemoryMetrics{RAMUsedRatio: 0.3, DiskLatencyMs: 2}, nil
	}
}

func (s *Simulated) ReadIONetworkMetrics(ctx context.Context) (IOMetrics, error) {
	if err := ctx.Err(); err != nil {
		return IOMetrics{}, &UnavailableError{Family: "io_network", Err: err}
	}
	p := s.nextPhase()
	if s.level() == bus.SimHigh {
		return IOMetrics{
			NetPacketLoss: 0.02 * p,
			NetLatencyMs:  20 + 120*p,
			IOQueueDepth:  0.3 + 0.6*p,
		}, nil
	}
	return IOMetrics{NetLatencyMs: 5, IOQueueDepth: 0.1}, nil
}
