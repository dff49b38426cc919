package kernel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/invisible-tech/aion/internal/bus"
	"github.com/invisible-tech/aion/internal/health"
	"github.com/invisible-tech/aion/internal/organism"
	"github.com/invisible-tech/aion/internal/persist"
)

// ErrInvalidRequest is returned for unknown operations, unknown organs and
// malformed amounts or levels.
var ErrInvalidRequest = errors.New("invalid request")

// Op names a command.
type Op string

const (
	OpStatus      Op = "status"
	OpTopology    Op = "topology"
	OpNodes       Op = "nodes"
	OpOrgans      Op = "organs"
	OpPeripherals Op = "peripherals"
	OpHealth      Op = "health"
	OpAlerts      Op = "alerts"
	OpMetrics     Op = "metrics"
	OpAwareness   Op = "awareness"
	OpDamage      Op = "damage"
	OpHeal        Op = "heal"
	OpSim         Op = "sim"
	OpLogs        Op = "logs"
	OpSave        Op = "save"
	OpLoad        Op = "load"
	OpHistory     Op = "history"
)

// Request is one external command.
type Request struct {
	Op     Op      `json:"op"`
	Organ  string  `json:"organ,omitempty"`
	Amount float64 `json:"amount,omitempty"`
	Level  string  `json:"level,omitempty"`
	Filter string  `json:"filter,omitempty"`
	Limit  int     `json:"limit,omitempty"`
	// Source names the caller (shell, http, statewatch) for logs.
	Source string `json:"-"`
}

// Response is the structured result of a command.
type Response struct {
	Op        Op                    `json:"op"`
	Message   string                `json:"message"`
	Tick      uint64                `json:"tick"`
	Organ     string                `json:"organ,omitempty"`
	Health    float64               `json:"health,omitempty"`
	Awareness float64               `json:"awareness"`
	Label     string                `json:"label,omitempty"`
	Alerts    []organism.OrganAlert `json:"alerts,omitempty"`
	History   []persist.Snapshot    `json:"history,omitempty"`
	Loaded    bool                  `json:"loaded,omitempty"`
}

// Result pairs a response with its error for delivery over a channel.
type Result struct {
	Response Response
	Err      error
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func parseAmount(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, invalid("amount must be finite")
	}
	v = math.Abs(v)
	if v == 0 || v > 1 {
		return 0, invalid("amount %v out of range (0, 1]", v)
	}
	return v, nil
}

// Execute applies req to s. It is called on the scheduler goroutine only.
func (s *State) Execute(ctx context.Context, req Request, tick uint64) (Response, error) {
	resp := Response{Op: req.Op, Tick: tick}
	const source = "command"

	switch req.Op {
	case OpStatus:
		awareness := health.ComputeAwareness(s.Topology)
		s.Bus.SetAwareness(awareness)
		lowest := s.Topology.MinHealth()
		resp.Awareness = awareness
		resp.Label = health.AwarenessLabel(awareness)
		resp.Message = fmt.Sprintf("manual status :: %s :: health %s (%s) :: awareness %s",
			s.Topology.Brief(), formatScore(lowest), health.HealthLabel(lowest), formatScore(awareness))

	case OpTopology, OpNodes, OpOrgans:
		var b strings.Builder
		if req.Op != OpOrgans {
			b.WriteString("Nodes:\n")
			for _, n := range s.Topology.Nodes() {
				fmt.Fprintf(&b, " - Node %s [%s]: %s\n", n.ID, n.Label, n.Role)
			}
		}
		if req.Op != OpNodes {
			b.WriteString("Organs:\n")
			for _, o := range s.Topology.Organs() {
				fmt.Fprintf(&b, " - %s on %s (health %s) caps=%s\n",
					o.Kind(), o.Node(), formatScore(o.Health()), joinCaps(o.Capabilities()))
			}
		}
		resp.Message = strings.TrimRight(b.String(), "\n")

	case OpPeripherals:
		var b strings.Builder
		b.WriteString("Peripherals by organ:\n")
		found := false
		for _, o := range s.Topology.Organs() {
			ps := o.Peripherals()
			if len(ps) == 0 {
				continue
			}
			found = true
			fmt.Fprintf(&b, " - %s:\n", o.Kind())
			for _, p := range ps {
				fmt.Fprintf(&b, "    - %s: %s (%s)\n", p.Kind, p.Name, p.Status)
			}
		}
		if !found {
			b.WriteString(" (no peripherals registered)\n")
		}
		resp.Message = strings.TrimRight(b.String(), "\n")

	case OpHealth:
		var b strings.Builder
		b.WriteString("Organ health:\n")
		for _, o := range s.Topology.Organs() {
			fmt.Fprintf(&b, " - %s: %s (%s)\n", o.Kind(), formatScore(o.Health()), health.HealthLabel(o.Health()))
		}
		resp.Message = strings.TrimRight(b.String(), "\n")

	case OpAlerts:
		resp.Alerts = s.Topology.ListAlerts()
		var b strings.Builder
		b.WriteString("Alerts:\n")
		worst := organism.TierOK
		for _, a := range resp.Alerts {
			if !a.Tier.IsAlert() {
				continue
			}
			if a.Tier > worst {
				worst = a.Tier
			}
			fmt.Fprintf(&b, " - %s: %s [%s]\n", a.Organ, formatScore(a.Health), a.Tier)
		}
		if worst == organism.TierOK {
			b.WriteString(" (no active alerts; all organs healthy)")
		} else {
			fmt.Fprintf(&b, "overall: %s", worst)
		}
		resp.Message = b.String()

	case OpMetrics:
		resp.Message = formatReadings(s.Readings)

	case OpAwareness:
		awareness := health.ComputeAwareness(s.Topology)
		s.Bus.SetAwareness(awareness)
		resp.Awareness = awareness
		resp.Label = health.AwarenessLabel(awareness)
		resp.Message = fmt.Sprintf("awareness index: %s :: %s", formatScore(awareness), resp.Label)

	case OpDamage, OpHeal:
		kind, err := organism.ParseOrganKind(req.Organ)
		if err != nil {
			return resp, invalid("unknown organ %q", req.Organ)
		}
		amount, err := parseAmount(req.Amount)
		if err != nil {
			return resp, err
		}
		var h float64
		verb := "damaged"
		if req.Op == OpDamage {
			h, _, err = s.Engine.ApplyDamage(s.Topology, kind, amount)
		} else {
			verb = "healed"
			h, _, err = s.Engine.ApplyRecovery(s.Topology, kind, amount)
		}
		if err != nil {
			if errors.Is(err, organism.ErrUnknownOrgan) {
				return resp, invalid("organ %s not found in topology", kind)
			}
			return resp, err
		}
		awareness := health.ComputeAwareness(s.Topology)
		s.Bus.SetAwareness(awareness)
		resp.Organ = kind.String()
		resp.Health = h
		resp.Awareness = awareness
		resp.Message = fmt.Sprintf("%s %s by %s, new health %s (awareness %s)",
			verb, kind, formatScore(amount), formatScore(h), formatScore(awareness))
		s.EvaluateAlerts(tick)

	case OpSim:
		level, err := bus.ParseSimLevel(req.Level)
		if err != nil {
			return resp, invalid("%v", err)
		}
		s.Bus.SetSimLevel(level)
		resp.Message = fmt.Sprintf("simulation level: %s", level)

	case OpLogs:
		filter, err := bus.ParseLogFilter(req.Filter)
		if err != nil {
			return resp, invalid("%v", err)
		}
		s.Bus.SetLogFilter(filter)
		resp.Message = fmt.Sprintf("logging: %s", strings.ToUpper(string(filter)))

	case OpSave:
		if s.Store == nil {
			return resp, invalid("no state store configured")
		}
		data, err := persist.Save(ctx, s.Store, s.Topology)
		if err != nil {
			return resp, err
		}
		if s.saved != nil {
			s.saved(data)
		}
		resp.Message = "state saved to " + s.Store.Location()

	case OpLoad:
		if s.Store == nil {
			return resp, invalid("no state store configured")
		}
		loaded, err := persist.Load(ctx, s.Store, s.Topology)
		if err != nil {
			return resp, err
		}
		awareness := health.ComputeAwareness(s.Topology)
		s.Bus.SetAwareness(awareness)
		resp.Loaded = loaded
		resp.Awareness = awareness
		if loaded {
			resp.Message = fmt.Sprintf("state loaded from %s (awareness %s)", s.Store.Location(), formatScore(awareness))
			s.EvaluateAlerts(tick)
		} else {
			resp.Message = "no saved state at " + s.Store.Location() + "; keeping current health"
		}

	case OpHistory:
		hs, ok := s.Store.(interface {
			History(ctx context.Context, limit int) ([]persist.Snapshot, error)
		})
		if !ok {
			return resp, invalid("state store does not keep history")
		}
		history, err := hs.History(ctx, req.Limit)
		if err != nil {
			return resp, fmt.Errorf("read history: %w", err)
		}
		resp.History = history
		resp.Message = fmt.Sprintf("%d saved state(s)", len(history))

	default:
		return resp, invalid("unknown command %q", req.Op)
	}

	s.Bus.Publish(bus.PulseCommand, source, resp.Message)
	return resp, nil
}

func joinCaps(caps []organism.CapabilityKind) string {
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	return strings.Join(names, ",")
}

func formatReadings(r Readings) string {
	if r.CPUGPU == nil && r.Memory == nil && r.IO == nil {
		return "no telemetry read yet"
	}
	var b strings.Builder
	b.WriteString("Telemetry:")
	if m := r.CPUGPU; m != nil {
		fmt.Fprintf(&b, "\n - cpu_gpu: load %s temp %.1fC throttling %d gpu %s",
			formatScore(m.CPULoad), m.CPUTempC, m.ThrottlingEvents, formatScore(m.GPULoad))
	}
	if m := r.Memory; m != nil {
		fmt.Fprintf(&b, "\n - memory: ram %s swap %s faults %.1f disk %.1fms",
			formatScore(m.RAMUsedRatio), formatScore(m.SwapUsedRatio), m.MajorPageFaults, m.DiskLatencyMs)
	}
	if m := r.IO; m != nil {
		fmt.Fprintf(&b, "\n - io_network: loss %s latency %.1fms queue %s errors %s",
			formatScore(m.NetPacketLoss), m.NetLatencyMs, formatScore(m.IOQueueDepth), formatScore(m.IOErrorRate))
	}
	return b.String()
}
