package kernel

import (
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/invisible-tech/aion/internal/bus"
	"github.com/invisible-tech/aion/internal/health"
	"github.com/invisible-tech/aion/internal/organism"
)

// snapshotAlerts is how many recent alerts a snapshot carries.
const snapshotAlerts = 32

// OrganView is a read-only copy of one organ.
type OrganView struct {
	Kind         organism.OrganKind        `json:"kind" cbor:"kind"`
	Node         string                    `json:"node" cbor:"node"`
	Health       float64                   `json:"health" cbor:"health"`
	Tier         organism.AlertTier        `json:"tier" cbor:"tier"`
	Capabilities []organism.CapabilityKind `json:"capabilities" cbor:"capabilities"`
	Peripherals  []organism.Peripheral     `json:"peripherals" cbor:"peripherals"`
}

// NodeView is a read-only copy of one node. Conditions follow the
// Kubernetes node condition shape so existing tooling can render them.
type NodeView struct {
	ID         string                 `json:"id" cbor:"id"`
	Label      string                 `json:"label" cbor:"label"`
	Role       string                 `json:"role" cbor:"role"`
	Organs     []organism.OrganKind   `json:"organs" cbor:"organs"`
	Conditions []corev1.NodeCondition `json:"conditions,omitempty" cbor:"-"`
}

// Snapshot is an immutable point-in-time view of the organism.
type Snapshot struct {
	Tick           uint64         `json:"tick" cbor:"tick"`
	Time           time.Time      `json:"time" cbor:"time"`
	Organs         []OrganView    `json:"organs" cbor:"organs"`
	Nodes          []NodeView     `json:"nodes" cbor:"nodes"`
	Awareness      float64        `json:"awareness" cbor:"awareness"`
	AwarenessLabel string         `json:"awareness_label" cbor:"awareness_label"`
	Policy         string         `json:"policy" cbor:"policy"`
	SimLevel       bus.SimLevel   `json:"sim_level" cbor:"sim_level"`
	LogFilter      bus.LogFilter  `json:"log_filter" cbor:"log_filter"`
	OverallHealth  float64        `json:"overall_health" cbor:"overall_health"`
	OverallLabel   string         `json:"overall_label" cbor:"overall_label"`
	Alerts         []health.Alert `json:"alerts" cbor:"alerts"`
	Readings       Readings       `json:"readings" cbor:"readings"`
}

// Organ returns the view for kind.
func (s *Snapshot) Organ(kind organism.OrganKind) (OrganView, bool) {
	for _, o := range s.Organs {
		if o.Kind == kind {
			return o, true
		}
	}
	return OrganView{}, false
}

func buildSnapshot(s *State, tick uint64, now time.Time) *Snapshot {
	organs := s.Topology.Organs()
	views := make([]OrganView, 0, len(organs))
	for _, o := range organs {
		views = append(views, OrganView{
			Kind:         o.Kind(),
			Node:         o.Node(),
			Health:       o.Health(),
			Tier:         o.Tier(),
			Capabilities: o.Capabilities(),
			Peripherals:  o.Peripherals(),
		})
	}

	nodes := s.Topology.Nodes()
	nodeViews := make([]NodeView, 0, len(nodes))
	for _, n := range nodes {
		nodeViews = append(nodeViews, NodeView{
			ID:         n.ID,
			Label:      n.Label,
			Role:       n.Role,
			Organs:     n.Organs,
			Conditions: nodeConditions(s.Topology, n, now),
		})
	}

	awareness := health.ComputeAwareness(s.Topology)
	overall := s.Topology.MinHealth()
	readings := Readings{}
	if s.Readings.CPUGPU != nil {
		m := *s.Readings.CPUGPU
		readings.CPUGPU = &m
	}
	if s.Readings.Memory != nil {
		m := *s.Readings.Memory
		readings.Memory = &m
	}
	if s.Readings.IO != nil {
		m := *s.Readings.IO
		readings.IO = &m
	}

	return &Snapshot{
		Tick:           tick,
		Time:           now,
		Organs:         views,
		Nodes:          nodeViews,
		Awareness:      awareness,
		AwarenessLabel: health.AwarenessLabel(awareness),
		Policy:         s.Bus.Policy(),
		SimLevel:       s.Bus.SimLevel(),
		LogFilter:      s.Bus.LogFilter(),
		OverallHealth:  overall,
		OverallLabel:   health.HealthLabel(overall),
		Alerts:         s.Alerts.Recent(snapshotAlerts),
		Readings:       readings,
	}
}

// nodeConditions reports one condition per hosted organ plus Ready, which
// is true while no hosted organ has failed.
func nodeConditions(t *organism.Topology, n organism.Node, now time.Time) []corev1.NodeCondition {
	ts := metav1.NewTime(now)
	ready := corev1.NodeCondition{
		Type:              corev1.NodeReady,
		Status:            corev1.ConditionTrue,
		LastHeartbeatTime: ts,
		Reason:            "OrgansResponsive",
	}
	out := make([]corev1.NodeCondition, 0, len(n.Organs)+1)
	for _, kind := range n.Organs {
		o, ok := t.Organ(kind)
		if !ok {
			continue
		}
		status := corev1.ConditionTrue
		if o.Tier().IsAlert() {
			status = corev1.ConditionFalse
		}
		if o.Tier() == organism.TierFailed {
			ready.Status = corev1.ConditionFalse
			ready.Reason = "OrganFailed"
		}
		out = append(out, corev1.NodeCondition{
			Type:              corev1.NodeConditionType(conditionType(kind)),
			Status:            status,
			LastHeartbeatTime: ts,
			Reason:            o.Tier().String(),
			Message:           kind.String() + " health " + formatScore(o.Health()),
		})
	}
	return append([]corev1.NodeCondition{ready}, out...)
}

func conditionType(kind organism.OrganKind) string {
	switch kind {
	case organism.Cortex:
		return "CortexHealthy"
	case organism.Memory:
		return "MemoryHealthy"
	case organism.IoBridge:
		return "IoBridgeHealthy"
	}
	return "OrganHealthy"
}
