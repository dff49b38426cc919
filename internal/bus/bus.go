// Package bus provides the pulse queue and the small set of shared scalars
// the daemons coordinate through.
package bus

import (
	"fmt"
	"strings"
)

// PulseKind is the tagged category of a pulse.
type PulseKind string

const (
	PulseHeartbeat  PulseKind = "heartbeat"
	PulseStatus     PulseKind = "status"
	PulseAI         PulseKind = "ai"
	PulseSimulation PulseKind = "simulation"
	PulseCommand    PulseKind = "command"
	PulseAlert      PulseKind = "alert"
	PulseWarning    PulseKind = "warning"
)

// Pulse is an immutable event. It is passed by value; nothing holds a
// reference into the queue.
type Pulse struct {
	Seq     uint64    `json:"seq"`
	Tick    uint64    `json:"tick"`
	Kind    PulseKind `json:"kind"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
	Organ   string    `json:"organ,omitempty"`
	Amount  float64   `json:"amount,omitempty"`
	Policy  string    `json:"policy,omitempty"`
	Tier    string    `json:"tier,omitempty"`
}

// Option sets an optional payload field on a published pulse.
type Option func(*Pulse)

// WithOrgan attaches the organ a pulse concerns.
func WithOrgan(organ string) Option {
	return func(p *Pulse) { p.Organ = organ }
}

// WithAmount attaches a damage/recovery amount.
func WithAmount(amount float64) Option {
	return func(p *Pulse) { p.Amount = amount }
}

// WithPolicy attaches a policy label.
func WithPolicy(policy string) Option {
	return func(p *Pulse) { p.Policy = policy }
}

// WithTier attaches an alert tier label.
func WithTier(tier string) Option {
	return func(p *Pulse) { p.Tier = tier }
}

// LogFilter controls which pulses are surfaced to external observers.
type LogFilter string

const (
	LogAll      LogFilter = "all"
	LogCommands LogFilter = "commands"
	LogSilent   LogFilter = "silent"
)

// ParseLogFilter accepts "all", "commands" and "silent" ("off" is an alias).
func ParseLogFilter(s string) (LogFilter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all":
		return LogAll, nil
	case "commands", "commands-only":
		return LogCommands, nil
	case "silent", "off":
		return LogSilent, nil
	}
	return "", fmt.Errorf("unknown log filter %q", s)
}

// Surfaces reports whether a pulse of kind passes the filter. The commands
// filter also lets alerts through.
func (f LogFilter) Surfaces(kind PulseKind) bool {
	switch f {
	case LogAll:
		return true
	case LogCommands:
		return kind == PulseCommand || kind == PulseAlert
	default:
		return false
	}
}

// SimLevel is the synthetic-event intensity.
type SimLevel string

const (
	SimOff  SimLevel = "off"
	SimLow  SimLevel = "low"
	SimHigh SimLevel = "high"
)

// ParseSimLevel accepts "off", "low" and "high".
func ParseSimLevel(s string) (SimLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off":
		return SimOff, nil
	case "low":
		return SimLow, nil
	case "high":
		return SimHigh, nil
	}
	return "", fmt.Errorf("unknown sim level %q", s)
}

// Bus is a shared mailbox plus a few scalar fields. It performs no
// computation and is owned by the scheduler goroutine; it is not safe for
// concurrent use.
type Bus struct {
	seq     uint64
	tick    uint64
	pending []Pulse
	visible []Pulse

	awareness float64
	simLevel  SimLevel
	logFilter LogFilter
	policy    string
}

// New returns a bus at full awareness.
func New(level SimLevel, filter LogFilter) *Bus {
	return &Bus{
		awareness: 1.0,
		simLevel:  level,
		logFilter: filter,
	}
}

// Publish appends a pulse to the queue. It becomes visible at the next tick.
func (b *Bus) Publish(kind PulseKind, source, message string, opts ...Option) Pulse {
	b.seq++
	p := Pulse{
		Seq:     b.seq,
		Tick:    b.tick,
		Kind:    kind,
		Source:  source,
		Message: message,
	}
	for _, opt := range opts {
		opt(&p)
	}
	b.pending = append(b.pending, p)
	return p
}

// Advance starts tick: everything published so far becomes visible, in
// publish order, and the pending queue is emptied.
func (b *Bus) Advance(tick uint64) []Pulse {
	b.tick = tick
	b.visible = b.pending
	b.pending = nil
	return append([]Pulse(nil), b.visible...)
}

// Visible returns the pulses published during the previous tick.
func (b *Bus) Visible() []Pulse {
	return append([]Pulse(nil), b.visible...)
}

// Pending is the number of pulses waiting for the next tick.
func (b *Bus) Pending() int {
	return len(b.pending)
}

func (b *Bus) Awareness() float64 { return b.awareness }

func (b *Bus) SetAwareness(v float64) { b.awareness = v }

func (b *Bus) SimLevel() SimLevel { return b.simLevel }

func (b *Bus) SetSimLevel(l SimLevel) { b.simLevel = l }

func (b *Bus) LogFilter() LogFilter { return b.logFilter }

func (b *Bus) SetLogFilter(f LogFilter) { b.logFilter = f }

// Policy is the label last written by the AI cortex.
func (b *Bus) Policy() string { return b.policy }

func (b *Bus) SetPolicy(p string) { b.policy = p }
