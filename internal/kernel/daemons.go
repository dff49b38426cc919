package kernel

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/invisible-tech/aion/internal/bus"
	"github.com/invisible-tech/aion/internal/health"
	"github.com/invisible-tech/aion/internal/organism"
	"github.com/invisible-tech/aion/internal/telemetry"
)

// Daemon is a periodic agent. The scheduler calls Tick on every tick that
// is a multiple of Every.
type Daemon interface {
	Name() string
	Every() uint64
	Tick(ctx context.Context, s *State, tick uint64) error
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// Heartbeat publishes a clock pulse.
type Heartbeat struct {
	every uint64
	beats uint64
}

func NewHeartbeat(every uint64) *Heartbeat { return &Heartbeat{every: every} }

func (d *Heartbeat) Name() string  { return "heartbeat" }
func (d *Heartbeat) Every() uint64 { return d.every }

func (d *Heartbeat) Tick(_ context.Context, s *State, tick uint64) error {
	d.beats++
	s.Bus.Publish(bus.PulseHeartbeat, d.Name(), fmt.Sprintf("beat #%d", d.beats))
	return nil
}

// Status reads telemetry, recomputes organ health and awareness, and
// evaluates alerts. A family that cannot be read keeps its organ's last
// health and produces a warning pulse.
type Status struct {
	every uint64
	runs  uint64
}

func NewStatus(every uint64) *Status { return &Status{every: every} }

func (d *Status) Name() string  { return "status" }
func (d *Status) Every() uint64 { return d.every }

func (d *Status) Tick(ctx context.Context, s *State, tick uint64) error {
	d.runs++

	var errs []error
	for _, kind := range organism.OrganKinds {
		if _, ok := s.Topology.Organ(kind); !ok {
			continue
		}
		bundle, err := read(ctx, s, kind)
		if err != nil {
			telemetryFailures.WithLabelValues(kind.String()).Inc()
			s.Bus.Publish(bus.PulseWarning, d.Name(),
				fmt.Sprintf("telemetry unavailable for %s; keeping health %s", kind, formatScore(s.Topology.Health(kind))),
				bus.WithOrgan(kind.String()))
			s.log.WithError(err).WithField("organ", kind.String()).Warn("Telemetry read failed")
			errs = append(errs, err)
			continue
		}
		next, err := s.Engine.ComputeHealth(kind, s.Topology.Health(kind), bundle)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := s.Topology.SetHealth(kind, next); err != nil {
			errs = append(errs, err)
		}
	}

	awareness := health.ComputeAwareness(s.Topology)
	s.Bus.SetAwareness(awareness)
	lowest := s.Topology.MinHealth()
	s.Bus.Publish(bus.PulseStatus, d.Name(), fmt.Sprintf(
		"status tick #%d :: %s :: health %s (%s) :: awareness %s",
		d.runs, s.Topology.Brief(), formatScore(lowest), health.HealthLabel(lowest), formatScore(awareness)))

	s.EvaluateAlerts(tick)

	// Telemetry failures are reported as warnings above; they are not a
	// daemon failure.
	if agg := utilerrors.NewAggregate(errs); agg != nil {
		s.log.WithFields(logrus.Fields{"tick": tick, "errors": len(agg.Errors())}).Debug("Status tick completed with errors")
	}
	return nil
}

func read(ctx context.Context, s *State, kind organism.OrganKind) (telemetry.Bundle, error) {
	switch kind {
	case organism.Cortex:
		m, err := s.Telemetry.ReadCPUGPUMetrics(ctx)
		if err != nil {
			return nil, err
		}
		s.Readings.CPUGPU = &m
		return m, nil
	case organism.Memory:
		m, err := s.Telemetry.ReadMemoryMetrics(ctx)
		if err != nil {
			return nil, err
		}
		s.Readings.Memory = &m
		return m, nil
	case organism.IoBridge:
		m, err := s.Telemetry.ReadIONetworkMetrics(ctx)
		if err != nil {
			return nil, err
		}
		s.Readings.IO = &m
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", organism.ErrUnknownOrgan, kind)
}

// AiCortex maps the cached awareness to a policy label. protect_core also
// switches the simulation off.
type AiCortex struct {
	every  uint64
	cycles uint64
}

func NewAiCortex(every uint64) *AiCortex { return &AiCortex{every: every} }

func (d *AiCortex) Name() string  { return "ai-cortex" }
func (d *AiCortex) Every() uint64 { return d.every }

func (d *AiCortex) Tick(_ context.Context, s *State, tick uint64) error {
	d.cycles++
	awareness := s.Bus.Awareness()
	policy := health.PolicyFor(awareness)
	s.Bus.SetPolicy(policy)

	if policy == health.PolicyProtectCore && s.Bus.SimLevel() != bus.SimOff {
		s.Bus.SetSimLevel(bus.SimOff)
		s.log.WithField("awareness", awareness).Warn("Core protection engaged, simulation disabled")
	}

	s.Bus.Publish(bus.PulseAI, d.Name(), fmt.Sprintf(
		"cortex cycle #%d :: awareness %s (%s) :: policy %s",
		d.cycles, formatScore(awareness), health.AwarenessLabel(awareness), policy),
		bus.WithPolicy(policy))
	return nil
}

// Simulation injects synthetic faults and recoveries while the sim level
// is not off.
type Simulation struct {
	every       uint64
	activations uint64
}

func NewSimulation(every uint64) *Simulation { return &Simulation{every: every} }

func (d *Simulation) Name() string  { return "simulation" }
func (d *Simulation) Every() uint64 { return d.every }

func (d *Simulation) Tick(_ context.Context, s *State, tick uint64) error {
	level := s.Bus.SimLevel()
	if level == bus.SimOff {
		return nil
	}
	d.activations++

	var (
		fault      bool
		minDamage  float64
		spanDamage float64
		recovery   float64
	)
	switch level {
	case bus.SimLow:
		fault = d.activations%3 == 0
		minDamage, spanDamage, recovery = 0.03, 0.05, 0.01
	case bus.SimHigh:
		fault = s.rng.Intn(3) != 0
		minDamage, spanDamage, recovery = 0.05, 0.10, 0.02
	}

	if fault {
		organs := s.Topology.Organs()
		target := organs[s.rng.Intn(len(organs))].Kind()
		amount := minDamage + s.rng.Float64()*spanDamage
		h, _, err := s.Engine.ApplyDamage(s.Topology, target, amount)
		if err != nil {
			return err
		}
		s.Bus.Publish(bus.PulseSimulation, d.Name(), fmt.Sprintf(
			"[%s] synthetic fault on %s: -%s -> %s", level, target, formatScore(amount), formatScore(h)),
			bus.WithOrgan(target.String()), bus.WithAmount(-amount))
	} else {
		if err := s.Engine.RecoverAll(s.Topology, recovery); err != nil {
			return err
		}
		s.Bus.Publish(bus.PulseSimulation, d.Name(), fmt.Sprintf(
			"[%s] synthetic recovery: +%s to all organs", level, formatScore(recovery)),
			bus.WithAmount(recovery))
	}

	s.Bus.SetAwareness(health.ComputeAwareness(s.Topology))
	s.EvaluateAlerts(tick)
	return nil
}
