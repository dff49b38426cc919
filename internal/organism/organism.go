// Package organism provides the topology model: nodes, organs, peripherals
// and capabilities, plus the invariant-preserving health mutators.
package organism

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
)

// ErrUnknownOrgan is returned when an organ kind is not part of the topology.
var ErrUnknownOrgan = errors.New("unknown organ")

// OrganKind identifies a functional subsystem.
type OrganKind int

const (
	Cortex OrganKind = iota
	Memory
	IoBridge
)

// OrganKinds lists every organ kind in stable order.
var OrganKinds = []OrganKind{Cortex, Memory, IoBridge}

func (k OrganKind) String() string {
	switch k {
	case Cortex:
		return "cortex"
	case Memory:
		return "memory"
	case IoBridge:
		return "iobridge"
	default:
		return fmt.Sprintf("organ(%d)", int(k))
	}
}

// MarshalText encodes the kind by name.
func (k OrganKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText accepts any name ParseOrganKind accepts.
func (k *OrganKind) UnmarshalText(text []byte) error {
	parsed, err := ParseOrganKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseOrganKind accepts the names used by the shell and the state file.
func ParseOrganKind(name string) (OrganKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cortex":
		return Cortex, nil
	case "memory":
		return Memory, nil
	case "io", "iobridge", "io_bridge", "io-bridge":
		return IoBridge, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOrgan, name)
}

// CapabilityKind is a functional ability an organ offers.
type CapabilityKind string

const (
	CapabilityCompute    CapabilityKind = "compute"
	CapabilityStorage    CapabilityKind = "storage"
	CapabilityPerception CapabilityKind = "perception"
	CapabilityNetworking CapabilityKind = "networking"
	CapabilityActuation  CapabilityKind = "actuation"
	CapabilityPlanning   CapabilityKind = "planning"
	CapabilityLearning   CapabilityKind = "learning"
)

// PeripheralKind is the device class of a peripheral.
type PeripheralKind string

const (
	PeripheralCPU     PeripheralKind = "cpu"
	PeripheralGPU     PeripheralKind = "gpu"
	PeripheralNIC     PeripheralKind = "nic"
	PeripheralDisk    PeripheralKind = "disk"
	PeripheralUSB     PeripheralKind = "usb"
	PeripheralSensor  PeripheralKind = "sensor"
	PeripheralDisplay PeripheralKind = "display"
	PeripheralUnknown PeripheralKind = "unknown"
)

// PeripheralStatus is the operational status of a device.
type PeripheralStatus string

const (
	PeripheralOnline   PeripheralStatus = "online"
	PeripheralDegraded PeripheralStatus = "degraded"
	PeripheralOffline  PeripheralStatus = "offline"
)

// Peripheral is a concrete device bound to exactly one organ.
type Peripheral struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Kind   PeripheralKind   `json:"kind"`
	Status PeripheralStatus `json:"status"`
}

// Organ is a functional subsystem with a normalized health value.
type Organ struct {
	kind         OrganKind
	node         string
	health       float64
	capabilities sets.Set[CapabilityKind]
	peripherals  []Peripheral
}

// NewOrgan creates an organ; health is clamped to [0, 1].
func NewOrgan(kind OrganKind, node string, health float64, caps []CapabilityKind, peripherals []Peripheral) *Organ {
	return &Organ{
		kind:         kind,
		node:         node,
		health:       Clamp01(health),
		capabilities: sets.New(caps...),
		peripherals:  append([]Peripheral(nil), peripherals...),
	}
}

func (o *Organ) Kind() OrganKind { return o.kind }

func (o *Organ) Node() string { return o.node }

func (o *Organ) Health() float64 { return o.health }

// Tier is the alert tier derived from the current health.
func (o *Organ) Tier() AlertTier { return TierFor(o.health) }

// Peripherals returns a copy of the organ's devices.
func (o *Organ) Peripherals() []Peripheral {
	return append([]Peripheral(nil), o.peripherals...)
}

// HasCapability reports whether the organ offers c.
func (o *Organ) HasCapability(c CapabilityKind) bool {
	return o.capabilities.Has(c)
}

// Capabilities returns the capability set in sorted order.
func (o *Organ) Capabilities() []CapabilityKind {
	return sets.List(o.capabilities)
}

func (o *Organ) clone() *Organ {
	return &Organ{
		kind:         o.kind,
		node:         o.node,
		health:       o.health,
		capabilities: o.capabilities.Clone(),
		peripherals:  append([]Peripheral(nil), o.peripherals...),
	}
}

// Node is a logical machine or location hosting organs.
type Node struct {
	ID     string      `json:"id"`
	Label  string      `json:"label"`
	Role   string      `json:"role"`
	Organs []OrganKind `json:"organs"`
}

// Topology is the whole modeled organism. It is not safe for concurrent use;
// the scheduler owns it.
type Topology struct {
	nodes  map[string]*Node
	organs map[OrganKind]*Organ
}

// New builds a topology from nodes and organs. Every organ must reference a
// known node, organ kinds must be unique, and every node must host an organ.
func New(nodes []Node, organs []*Organ) (*Topology, error) {
	t := &Topology{
		nodes:  make(map[string]*Node, len(nodes)),
		organs: make(map[OrganKind]*Organ, len(organs)),
	}
	for i := range nodes {
		n := nodes[i]
		n.Organs = nil
		t.nodes[n.ID] = &n
	}
	for _, o := range organs {
		node, ok := t.nodes[o.node]
		if !ok {
			return nil, fmt.Errorf("organ %s references unknown node %q", o.kind, o.node)
		}
		if _, dup := t.organs[o.kind]; dup {
			return nil, fmt.Errorf("duplicate organ %s", o.kind)
		}
		t.organs[o.kind] = o
		node.Organs = append(node.Organs, o.kind)
	}
	for id, n := range t.nodes {
		if len(n.Organs) == 0 {
			return nil, fmt.Errorf("node %q has no organs", id)
		}
	}
	return t, nil
}

// DefaultTopology returns the two-node organism with one Cortex, one Memory
// and one IoBridge organ, every organ at the given health.
func DefaultTopology(health float64) *Topology {
	nodes := []Node{
		{ID: "core-0", Label: "core-0", Role: "primary brain"},
		{ID: "io-0", Label: "io-0", Role: "peripheral bridge"},
	}
	organs := []*Organ{
		NewOrgan(Cortex, "core-0", health,
			[]CapabilityKind{CapabilityCompute, CapabilityPlanning, CapabilityLearning},
			[]Peripheral{
				{ID: "cpu-0", Name: "Sim-CPU-0", Kind: PeripheralCPU, Status: PeripheralOnline},
				{ID: "gpu-0", Name: "Sim-GPU-0", Kind: PeripheralGPU, Status: PeripheralOnline},
			}),
		NewOrgan(Memory, "core-0", health,
			[]CapabilityKind{CapabilityStorage},
			[]Peripheral{
				{ID: "nvme-0", Name: "Sim-NVMe-0", Kind: PeripheralDisk, Status: PeripheralOnline},
			}),
		NewOrgan(IoBridge, "io-0", health,
			[]CapabilityKind{CapabilityPerception, CapabilityActuation, CapabilityNetworking},
			[]Peripheral{
				{ID: "nic-0", Name: "Sim-10G-NIC-0", Kind: PeripheralNIC, Status: PeripheralOnline},
				{ID: "usb-0", Name: "Sim-USB-Hub-0", Kind: PeripheralUSB, Status: PeripheralOnline},
				{ID: "display-0", Name: "Sim-Display-0", Kind: PeripheralDisplay, Status: PeripheralOnline},
			}),
	}
	t, err := New(nodes, organs)
	if err != nil {
		panic("organism: default topology is invalid: " + err.Error())
	}
	return t
}

// Organ returns the organ of the given kind.
func (t *Topology) Organ(kind OrganKind) (*Organ, bool) {
	o, ok := t.organs[kind]
	return o, ok
}

// Health returns the health of kind, or 0 when the organ is absent.
func (t *Topology) Health(kind OrganKind) float64 {
	if o, ok := t.organs[kind]; ok {
		return o.health
	}
	return 0
}

// Organs returns organs in stable kind order.
func (t *Topology) Organs() []*Organ {
	out := make([]*Organ, 0, len(t.organs))
	for _, k := range OrganKinds {
		if o, ok := t.organs[k]; ok {
			out = append(out, o)
		}
	}
	return out
}

// Nodes returns copies of the nodes sorted by id.
func (t *Topology) Nodes() []Node {
	out := make([]Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		c := *n
		c.Organs = append([]OrganKind(nil), n.Organs...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ApplyDelta adds delta to an organ's health, clamping to [0, 1]. It returns
// the resulting health and whether an alert tier boundary was crossed.
func (t *Topology) ApplyDelta(kind OrganKind, delta float64) (float64, bool, error) {
	o, ok := t.organs[kind]
	if !ok {
		return 0, false, fmt.Errorf("%w: %s", ErrUnknownOrgan, kind)
	}
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return o.health, false, fmt.Errorf("invalid delta %v for %s", delta, kind)
	}
	before := o.Tier()
	o.health = Clamp01(o.health + delta)
	return o.health, o.Tier() != before, nil
}

// SetHealth overwrites an organ's health, clamped to [0, 1].
func (t *Topology) SetHealth(kind OrganKind, health float64) (bool, error) {
	o, ok := t.organs[kind]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownOrgan, kind)
	}
	if math.IsNaN(health) {
		return false, fmt.Errorf("invalid health NaN for %s", kind)
	}
	before := o.Tier()
	o.health = Clamp01(health)
	return o.Tier() != before, nil
}

// OrganAlert is the current tier of one organ.
type OrganAlert struct {
	Organ  OrganKind `json:"organ"`
	Health float64   `json:"health"`
	Tier   AlertTier `json:"tier"`
}

// ListAlerts returns the current tier of every organ in stable order.
func (t *Topology) ListAlerts() []OrganAlert {
	out := make([]OrganAlert, 0, len(t.organs))
	for _, o := range t.Organs() {
		out = append(out, OrganAlert{Organ: o.kind, Health: o.health, Tier: o.Tier()})
	}
	return out
}

// MinHealth is the lowest organ health, used as a crude overall health.
func (t *Topology) MinHealth() float64 {
	lowest := 1.0
	for _, o := range t.organs {
		if o.health < lowest {
			lowest = o.health
		}
	}
	return lowest
}

// Clone returns a deep copy.
func (t *Topology) Clone() *Topology {
	c := &Topology{
		nodes:  make(map[string]*Node, len(t.nodes)),
		organs: make(map[OrganKind]*Organ, len(t.organs)),
	}
	for id, n := range t.nodes {
		cn := *n
		cn.Organs = append([]OrganKind(nil), n.Organs...)
		c.nodes[id] = &cn
	}
	for k, o := range t.organs {
		c.organs[k] = o.clone()
	}
	return c
}

// Brief is a compact one-line summary for status reports.
func (t *Topology) Brief() string {
	nodes := t.Nodes()
	labels := make([]string, 0, len(nodes))
	for _, n := range nodes {
		labels = append(labels, fmt.Sprintf("%s (%s)", n.Label, n.Role))
	}
	return fmt.Sprintf("%d node(s), %d organ(s) :: %s", len(nodes), len(t.organs), strings.Join(labels, ", "))
}

// Clamp01 clamps v to [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
