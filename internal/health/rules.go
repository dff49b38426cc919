package health

import (
	"math"

	"github.com/invisible-tech/aion/internal/organism"
	"github.com/invisible-tech/aion/internal/telemetry"
)

func cpu(f func(m telemetry.CPUGPUMetrics) float64) func(telemetry.Bundle) float64 {
	return func(b telemetry.Bundle) float64 {
		m, ok := b.(telemetry.CPUGPUMetrics)
		if !ok {
			return math.NaN()
		}
		return f(m)
	}
}

func memory(f func(m telemetry.MemoryMetrics) float64) func(telemetry.Bundle) float64 {
	return func(b telemetry.Bundle) float64 {
		m, ok := b.(telemetry.MemoryMetrics)
		if !ok {
			return math.NaN()
		}
		return f(m)
	}
}

func network(f func(m telemetry.IOMetrics) float64) func(telemetry.Bundle) float64 {
	return func(b telemetry.Bundle) float64 {
		m, ok := b.(telemetry.IOMetrics)
		if !ok {
			return math.NaN()
		}
		return f(m)
	}
}

func defaultRules() []*Rule {
	return []*Rule{
		{
			ID: "CTX-001", Organ: organism.Cortex, Signal: "cpu_temp_c",
			Threshold: 60, Scale: 0.0025, Max: 0.05,
			Value: cpu(func(m telemetry.CPUGPUMetrics) float64 { return m.CPUTempC }),
		},
		{
			ID: "CTX-002", Organ: organism.Cortex, Signal: "cpu_load",
			Threshold: 0.85, Scale: 0.2, Max: 0.03,
			Value: cpu(func(m telemetry.CPUGPUMetrics) float64 { return m.CPULoad }),
		},
		{
			ID: "CTX-003", Organ: organism.Cortex, Signal: "throttling_events",
			Threshold: 0, Scale: 0.02, Max: 0.04,
			Value: cpu(func(m telemetry.CPUGPUMetrics) float64 { return float64(m.ThrottlingEvents) }),
		},
		{
			ID: "CTX-004", Organ: organism.Cortex, Signal: "gpu_load",
			Threshold: 0.9, Scale: 0.2, Max: 0.02,
			Value: cpu(func(m telemetry.CPUGPUMetrics) float64 { return m.GPULoad }),
		},
		{
			ID: "MEM-001", Organ: organism.Memory, Signal: "ram_used_ratio",
			Threshold: 0.75, Scale: 0.2, Max: 0.05,
			Value: memory(func(m telemetry.MemoryMetrics) float64 { return m.RAMUsedRatio }),
		},
		{
			ID: "MEM-002", Organ: organism.Memory, Signal: "swap_used_ratio",
			Threshold: 0.5, Scale: 0.1, Max: 0.03,
			Value: memory(func(m telemetry.MemoryMetrics) float64 { return m.SwapUsedRatio }),
		},
		{
			ID: "MEM-003", Organ: organism.Memory, Signal: "major_page_faults",
			Threshold: 5, Scale: 0.005, Max: 0.02,
			Value: memory(func(m telemetry.MemoryMetrics) float64 { return m.MajorPageFaults }),
		},
		{
			ID: "MEM-004", Organ: organism.Memory, Signal: "disk_latency_ms",
			Threshold: 20, Scale: 0.001, Max: 0.03,
			Value: memory(func(m telemetry.MemoryMetrics) float64 { return m.DiskLatencyMs }),
		},
		{
			ID: "IOB-001", Organ: organism.IoBridge, Signal: "net_packet_loss",
			Threshold: 0, Scale: 0.4, Max: 0.05,
			Value: network(func(m telemetry.IOMetrics) float64 { return m.NetPacketLoss }),
		},
		{
			ID: "IOB-002", Organ: organism.IoBridge, Signal: "net_latency_ms",
			Threshold: 100, Scale: 0.0005, Max: 0.02,
			Value: network(func(m telemetry.IOMetrics) float64 { return m.NetLatencyMs }),
		},
		{
			ID: "IOB-003", Organ: organism.IoBridge, Signal: "io_queue_depth",
			Threshold: 0.8, Scale: 0.1, Max: 0.02,
			Value: network(func(m telemetry.IOMetrics) float64 { return m.IOQueueDepth }),
		},
		{
			ID: "IOB-004", Organ: organism.IoBridge, Signal: "io_error_rate",
			Threshold: 0, Scale: 0.5, Max: 0.05,
			Value: network(func(m telemetry.IOMetrics) float64 { return m.IOErrorRate }),
		},
	}
}
