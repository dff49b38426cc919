package health

import (
	"math"
	"math/rand"
	"testing"

	"github.com/invisible-tech/aion/internal/organism"
	"github.com/invisible-tech/aion/internal/telemetry"
)

const eps = 1e-9

func TestComputeHealth_RecoversWhenNominal(t *testing.T) {
	e := NewEngine(DefaultConfig())
	got, err := e.ComputeHealth(organism.Cortex, 0.5, telemetry.CPUGPUMetrics{CPULoad: 0.2, CPUTempC: 45})
	if err != nil {
		t.Fatalf("ComputeHealth: %v", err)
	}
	if math.Abs(got-0.51) > eps {
		t.Errorf("health = %v, want 0.51", got)
	}

	got, _ = e.ComputeHealth(organism.Cortex, 0.999, telemetry.CPUGPUMetrics{})
	if got != 1.0 {
		t.Errorf("recovery should clamp at 1.0, got %v", got)
	}
}

func TestComputeHealth_SinglePenalty(t *testing.T) {
	e := NewEngine(DefaultConfig())
	// 10 degrees over at 0.0025/degree.
	got, err := e.ComputeHealth(organism.Cortex, 0.9, telemetry.CPUGPUMetrics{CPUTempC: 70})
	if err != nil {
		t.Fatalf("ComputeHealth: %v", err)
	}
	if math.Abs(got-0.875) > eps {
		t.Errorf("health = %v, want 0.875", got)
	}
}

func TestComputeHealth_BoundedStep(t *testing.T) {
	e := NewEngine(DefaultConfig())
	maxStep := e.Config().MaxStep

	cases := []struct {
		kind    organism.OrganKind
		metrics telemetry.Bundle
	}{
		{organism.Cortex, telemetry.CPUGPUMetrics{CPULoad: 1, CPUTempC: 1e9, ThrottlingEvents: math.MaxUint32, GPULoad: 1}},
		{organism.Cortex, telemetry.CPUGPUMetrics{CPUTempC: math.Inf(1)}},
		{organism.Cortex, telemetry.CPUGPUMetrics{CPUTempC: math.NaN()}},
		{organism.Memory, telemetry.MemoryMetrics{RAMUsedRatio: 1, SwapUsedRatio: 1, MajorPageFaults: 1e6, DiskLatencyMs: 1e6}},
		{organism.IoBridge, telemetry.IOMetrics{NetPacketLoss: 1, NetLatencyMs: 1e6, IOQueueDepth: 1, IOErrorRate: 1}},
	}
	for _, tc := range cases {
		h := 1.0
		for i := 0; i < 50; i++ {
			next, err := e.ComputeHealth(tc.kind, h, tc.metrics)
			if err != nil {
				t.Fatalf("%s: %v", tc.kind, err)
			}
			if d := math.Abs(next - h); d > maxStep+eps {
				t.Fatalf("%s: step %v exceeds max %v", tc.kind, d, maxStep)
			}
			if next < 0 || next > 1 {
				t.Fatalf("%s: health %v out of range", tc.kind, next)
			}
			h = next
		}
		if h != 0 {
			t.Errorf("%s: sustained pathological input should reach 0, got %v", tc.kind, h)
		}
	}
}

func TestComputeHealth_RandomInputsStayBounded(t *testing.T) {
	e := NewEngine(Config{MaxStep: 0.03, Recovery: 0.5})
	if e.Config().Recovery != 0.03 {
		t.Fatalf("recovery should clamp to max step, got %v", e.Config().Recovery)
	}
	rng := rand.New(rand.NewSource(7))
	h := 0.5
	for i := 0; i < 2000; i++ {
		m := telemetry.MemoryMetrics{
			RAMUsedRatio:    rng.Float64() * 2,
			SwapUsedRatio:   rng.Float64(),
			MajorPageFaults: rng.Float64() * 20,
			DiskLatencyMs:   rng.Float64() * 100,
		}
		next, err := e.ComputeHealth(organism.Memory, h, m)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(next-h) > 0.03+eps {
			t.Fatalf("step %d moved %v", i, next-h)
		}
		h = next
	}
}

func TestComputeHealth_WrongFamily(t *testing.T) {
	e := NewEngine(DefaultConfig())
	got, err := e.ComputeHealth(organism.Memory, 0.7, telemetry.IOMetrics{})
	if err == nil {
		t.Fatal("expected error for mismatched bundle")
	}
	if got != 0.7 {
		t.Errorf("health should be unchanged on error, got %v", got)
	}
	if _, err := e.ComputeHealth(organism.Memory, 0.7, nil); err == nil {
		t.Error("expected error for nil bundle")
	}
}

func TestComputeAwareness(t *testing.T) {
	if CortexWeight+MemoryWeight+IoBridgeWeight != 1.0 {
		t.Fatal("weights must sum to 1.0")
	}
	topo := organism.DefaultTopology(1.0)
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 500; i++ {
		c, m, io := rng.Float64(), rng.Float64(), rng.Float64()
		topo.SetHealth(organism.Cortex, c)
		topo.SetHealth(organism.Memory, m)
		topo.SetHealth(organism.IoBridge, io)
		want := 0.4*c + 0.3*m + 0.3*io
		if got := ComputeAwareness(topo); math.Abs(got-want) > eps {
			t.Fatalf("awareness = %v, want %v", got, want)
		}
	}
}

func TestLabels(t *testing.T) {
	tests := []struct {
		v         float64
		awareness string
		health    string
		policy    string
	}{
		{1.0, "optimal", "ok", PolicyPushCapacity},
		{0.85, "optimal", "ok", PolicyPushCapacity},
		{0.8499, "stable", "degraded", PolicyMaintainLoad},
		{0.60, "stable", "degraded", PolicyMaintainLoad},
		{0.59, "impaired", "impaired", PolicyReduceLoad},
		{0.35, "impaired", "impaired", PolicyReduceLoad},
		{0.34, "critical", "critical", PolicyProtectCore},
		{0.01, "critical", "critical", PolicyProtectCore},
		{0, "unconscious", "failed", PolicyProtectCore},
	}
	for _, tt := range tests {
		if got := AwarenessLabel(tt.v); got != tt.awareness {
			t.Errorf("AwarenessLabel(%v) = %q, want %q", tt.v, got, tt.awareness)
		}
		if got := HealthLabel(tt.v); got != tt.health {
			t.Errorf("HealthLabel(%v) = %q, want %q", tt.v, got, tt.health)
		}
		if got := PolicyFor(tt.v); got != tt.policy {
			t.Errorf("PolicyFor(%v) = %q, want %q", tt.v, got, tt.policy)
		}
	}
}

func TestApplyDamageAndRecovery(t *testing.T) {
	e := NewEngine(DefaultConfig())
	topo := organism.DefaultTopology(0.9)

	h, crossed, err := e.ApplyDamage(topo, organism.Memory, -0.1)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(h-0.8) > eps || !crossed {
		t.Errorf("damage: health=%v crossed=%v", h, crossed)
	}

	h, _, _ = e.ApplyRecovery(topo, organism.Memory, 0.5)
	if h != 1.0 {
		t.Errorf("recovery should clamp, got %v", h)
	}

	if _, _, err := e.ApplyDamage(topo, organism.Memory, math.NaN()); err == nil {
		t.Error("NaN amount should fail")
	}

	if err := e.RecoverAll(topo, 0.05); err != nil {
		t.Fatal(err)
	}
	if math.Abs(topo.Health(organism.Cortex)-0.95) > eps {
		t.Errorf("cortex = %v, want 0.95", topo.Health(organism.Cortex))
	}
}
