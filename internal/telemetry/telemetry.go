// Package telemetry defines the port through which raw signals reach the
// health engine, and the synthetic and host-backed providers behind it.
package telemetry

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable is returned when a metric family cannot be read.
var ErrUnavailable = errors.New("telemetry unavailable")

// Bundle is an organ-specific set of readings. Only the health engine
// interprets it.
type Bundle interface {
	// Family names the organ family the bundle belongs to.
	Family() string
}

// CPUGPUMetrics feeds the cortex.
type CPUGPUMetrics struct {
	CPULoad          float64 `json:"cpu_load"`
	CPUTempC         float64 `json:"cpu_temp_c"`
	ThrottlingEvents uint32  `json:"throttling_events"`
	GPULoad          float64 `json:"gpu_load"`
	GPUMemUtil       float64 `json:"gpu_mem_util"`
}

func (CPUGPUMetrics) Family() string { return "cpu_gpu" }

// MemoryMetrics feeds the memory organ.
type MemoryMetrics struct {
	RAMUsedRatio    float64 `json:"ram_used_ratio"`
	SwapUsedRatio   float64 `json:"swap_used_ratio"`
	MajorPageFaults float64 `json:"major_page_faults"`
	DiskLatencyMs   float64 `json:"disk_latency_ms"`
}

func (MemoryMetrics) Family() string { return "memory" }

// IOMetrics feeds the io bridge.
type IOMetrics struct {
	NetPacketLoss float64 `json:"net_packet_loss"`
	NetLatencyMs  float64 `json:"net_latency_ms"`
	IOQueueDepth  float64 `json:"io_queue_depth"`
	IOErrorRate   float64 `json:"io_error_rate"`
}

func (IOMetrics) Family() string { return "io_network" }

// Port supplies readings for each organ family. Implementations must return
// within a bounded time; the scheduler applies no timeout of its own.
type Port interface {
	ReadCPUGPUMetrics(ctx context.Context) (CPUGPUMetrics, error)
	ReadMemoryMetrics(ctx context.Context) (MemoryMetrics, error)
	ReadIONetworkMetrics(ctx context.Context) (IOMetrics, error)
}

// UnavailableError reports which family failed and why.
type UnavailableError struct {
	Family string
	Err    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s %s: %v", ErrUnavailable, e.Family, e.Err)
}

// Is lets errors.Is match ErrUnavailable.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}
