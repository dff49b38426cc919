// Package health turns telemetry readings into organ health, derives the
// awareness index and tracks alert tier transitions.
package health

import (
	"fmt"
	"math"

	"github.com/invisible-tech/aion/internal/organism"
	"github.com/invisible-tech/aion/internal/telemetry"
)

// Awareness weights. They sum to exactly 1.0; adding an organ means
// redefining them.
const (
	CortexWeight   = 0.4
	MemoryWeight   = 0.3
	IoBridgeWeight = 0.3
)

// Rule maps one adverse signal to a bounded penalty:
// min(max(value-Threshold, 0)*Scale, Max).
type Rule struct {
	ID        string
	Organ     organism.OrganKind
	Signal    string
	Threshold float64
	Scale     float64
	Max       float64
	Value     func(b telemetry.Bundle) float64
}

// Penalty returns the rule's contribution for b, and whether the signal is
// adverse at all.
func (r *Rule) Penalty(b telemetry.Bundle) (float64, bool) {
	v := r.Value(b)
	if math.IsNaN(v) {
		// Unusable readings count as maximally adverse.
		return r.Max, true
	}
	excess := v - r.Threshold
	if excess <= 0 {
		return 0, false
	}
	return math.Min(excess*r.Scale, r.Max), true
}

// Config tunes the engine.
type Config struct {
	// MaxStep caps how far one computation can move an organ's health.
	MaxStep float64
	// Recovery is added when no signal is adverse. Clamped to MaxStep.
	Recovery float64
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{MaxStep: 0.05, Recovery: 0.01}
}

// Engine evaluates telemetry against penalty rules.
type Engine struct {
	cfg   Config
	rules []*Rule
}

// NewEngine creates an engine with the default rule set.
func NewEngine(cfg Config) *Engine {
	if cfg.MaxStep <= 0 || math.IsNaN(cfg.MaxStep) {
		cfg.MaxStep = DefaultConfig().MaxStep
	}
	if cfg.Recovery < 0 || math.IsNaN(cfg.Recovery) {
		cfg.Recovery = 0
	}
	if cfg.Recovery > cfg.MaxStep {
		cfg.Recovery = cfg.MaxStep
	}
	return &Engine{cfg: cfg, rules: defaultRules()}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Rules returns the loaded rules (read-only).
func (e *Engine) Rules() []*Rule {
	return e.rules
}

// ComputeHealth returns the organ's next health given its current value and
// a metrics bundle. The result differs from current by at most MaxStep.
func (e *Engine) ComputeHealth(kind organism.OrganKind, current float64, metrics telemetry.Bundle) (float64, error) {
	if metrics == nil {
		return current, fmt.Errorf("compute %s health: nil metrics", kind)
	}
	if want := familyFor(kind); want != metrics.Family() {
		return current, fmt.Errorf("compute %s health: got %s metrics, want %s", kind, metrics.Family(), want)
	}

	var penalty float64
	adverse := false
	for _, r := range e.rules {
		if r.Organ != kind {
			continue
		}
		p, bad := r.Penalty(metrics)
		if bad {
			adverse = true
			penalty += p
		}
	}

	current = organism.Clamp01(current)
	if !adverse {
		return organism.Clamp01(current + e.cfg.Recovery), nil
	}
	if penalty > e.cfg.MaxStep {
		penalty = e.cfg.MaxStep
	}
	return organism.Clamp01(current - penalty), nil
}

// ApplyDamage lowers an organ's health by |amount|.
func (e *Engine) ApplyDamage(t *organism.Topology, kind organism.OrganKind, amount float64) (float64, bool, error) {
	if err := checkAmount(amount); err != nil {
		return 0, false, err
	}
	return t.ApplyDelta(kind, -math.Abs(amount))
}

// ApplyRecovery raises an organ's health by |amount|.
func (e *Engine) ApplyRecovery(t *organism.Topology, kind organism.OrganKind, amount float64) (float64, bool, error) {
	if err := checkAmount(amount); err != nil {
		return 0, false, err
	}
	return t.ApplyDelta(kind, math.Abs(amount))
}

// RecoverAll raises every organ by |amount|.
func (e *Engine) RecoverAll(t *organism.Topology, amount float64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	for _, o := range t.Organs() {
		if _, _, err := t.ApplyDelta(o.Kind(), math.Abs(amount)); err != nil {
			return err
		}
	}
	return nil
}

func checkAmount(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fmt.Errorf("amount must be finite, got %v", amount)
	}
	return nil
}

// ComputeAwareness is 0.4*cortex + 0.3*memory + 0.3*io.
func ComputeAwareness(t *organism.Topology) float64 {
	return CortexWeight*t.Health(organism.Cortex) +
		MemoryWeight*t.Health(organism.Memory) +
		IoBridgeWeight*t.Health(organism.IoBridge)
}

// AwarenessLabel names an awareness score.
func AwarenessLabel(score float64) string {
	switch organism.TierFor(score) {
	case organism.TierOK:
		return "optimal"
	case organism.TierDegraded:
		return "stable"
	case organism.TierImpaired:
		return "impaired"
	case organism.TierCritical:
		return "critical"
	default:
		return "unconscious"
	}
}

// HealthLabel names an organ health value.
func HealthLabel(h float64) string {
	return organism.TierFor(h).String()
}

// Policy labels written by the AI cortex.
const (
	PolicyPushCapacity = "push_capacity"
	PolicyMaintainLoad = "maintain_load"
	PolicyReduceLoad   = "reduce_load"
	PolicyProtectCore  = "protect_core"
)

// PolicyFor maps awareness through the fixed decision table.
func PolicyFor(awareness float64) string {
	switch {
	case awareness >= organism.OptimalThreshold:
		return PolicyPushCapacity
	case awareness >= organism.DegradedThreshold:
		return PolicyMaintainLoad
	case awareness >= organism.ImpairedThreshold:
		return PolicyReduceLoad
	default:
		return PolicyProtectCore
	}
}

func familyFor(kind organism.OrganKind) string {
	switch kind {
	case organism.Cortex:
		return telemetry.CPUGPUMetrics{}.Family()
	case organism.Memory:
		return telemetry.MemoryMetrics{}.Family()
	case organism.IoBridge:
		return telemetry.IOMetrics{}.Family()
	}
	return ""
}
