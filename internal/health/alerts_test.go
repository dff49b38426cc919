package health

import (
	"testing"

	"github.com/invisible-tech/aion/internal/organism"
)

func TestAlertTracker_CortexScenario(t *testing.T) {
	e := NewEngine(DefaultConfig())
	topo := organism.DefaultTopology(1.0)
	topo.SetHealth(organism.Cortex, 0.92)
	topo.SetHealth(organism.Memory, 0.95)
	topo.SetHealth(organism.IoBridge, 0.95)

	tracker := NewAlertTracker(0)
	tracker.Seed(topo)

	if got := AwarenessLabel(ComputeAwareness(topo)); got != "optimal" {
		t.Fatalf("initial label = %q, want optimal", got)
	}

	var awarenessAlerts []Alert
	steps := []struct {
		damage float64
		label  string
	}{
		{0.17, "optimal"},
		{0.02, "optimal"},
		{0.05, "stable"},
	}
	for i, step := range steps {
		if _, _, err := e.ApplyDamage(topo, organism.Cortex, step.damage); err != nil {
			t.Fatal(err)
		}
		if got := AwarenessLabel(ComputeAwareness(topo)); got != step.label {
			t.Errorf("step %d: label = %q, want %q", i, got, step.label)
		}
		for _, a := range tracker.Evaluate(topo, uint64(i+1)) {
			if a.Subject == AwarenessSubject {
				awarenessAlerts = append(awarenessAlerts, a)
			}
		}
	}

	if len(awarenessAlerts) != 1 {
		t.Fatalf("awareness alerts = %d, want 1", len(awarenessAlerts))
	}
	a := awarenessAlerts[0]
	if a.Label != "stable" || a.From != organism.TierOK || a.To != organism.TierDegraded {
		t.Errorf("alert = %+v", a)
	}
	if a.Tick != 3 {
		t.Errorf("alert tick = %d, want 3", a.Tick)
	}
	if a.ID == "" {
		t.Error("alert should carry an id")
	}
}

func TestAlertTracker_MemoryScenario(t *testing.T) {
	e := NewEngine(DefaultConfig())
	topo := organism.DefaultTopology(1.0)
	topo.SetHealth(organism.Memory, 0.95)

	tracker := NewAlertTracker(0)
	tracker.Seed(topo)

	var memAlerts []Alert
	for i, d := range []float64{0.05, 0.10, 0.10, 0.08, 0.07} {
		if _, _, err := e.ApplyDamage(topo, organism.Memory, d); err != nil {
			t.Fatal(err)
		}
		for _, a := range tracker.Evaluate(topo, uint64(i+1)) {
			if a.Subject == "memory" {
				memAlerts = append(memAlerts, a)
			}
		}
	}

	impaired := 0
	for _, a := range memAlerts {
		if a.To == organism.TierImpaired {
			impaired++
		}
	}
	if impaired != 1 {
		t.Errorf("impaired alerts = %d, want 1", impaired)
	}
	if len(memAlerts) != 2 {
		t.Errorf("memory alerts = %d, want 2 (degraded, impaired)", len(memAlerts))
	}
}

func TestAlertTracker_EdgeTriggered(t *testing.T) {
	tracker := NewAlertTracker(0)

	sequence := []struct {
		value float64
		emit  bool
	}{
		{0.9, false},
		{0.7, true},
		{0.65, false},
		{0.7, false},
		{0.9, true},
		{0.7, true},
		{0.0, true},
		{0.0, false},
	}
	for i, s := range sequence {
		_, emitted := tracker.Observe("cortex", s.value, uint64(i))
		if emitted != s.emit {
			t.Errorf("step %d (%v): emitted = %v, want %v", i, s.value, emitted, s.emit)
		}
	}

	if tier, _ := tracker.Tier("cortex"); tier != organism.TierFailed {
		t.Errorf("last tier = %s, want failed", tier)
	}

	recent := tracker.Recent(0)
	if len(recent) != 4 {
		t.Fatalf("retained = %d, want 4", len(recent))
	}
	if !recent[1].Recovered() {
		t.Error("second alert should be a recovery")
	}
}

func TestAlertTracker_SeedSuppressesStartup(t *testing.T) {
	topo := organism.DefaultTopology(0.5)
	tracker := NewAlertTracker(0)
	tracker.Seed(topo)

	if alerts := tracker.Evaluate(topo, 0); len(alerts) != 0 {
		t.Errorf("seeded tracker emitted %d alerts", len(alerts))
	}
}

func TestAlertTracker_Retention(t *testing.T) {
	tracker := NewAlertTracker(3)
	values := []float64{0.7, 0.9, 0.7, 0.9, 0.7}
	for i, v := range values {
		tracker.Observe("io", v, uint64(i))
	}
	recent := tracker.Recent(0)
	if len(recent) != 3 {
		t.Fatalf("retained = %d, want 3", len(recent))
	}
	if recent[0].Tick != 2 || recent[2].Tick != 4 {
		t.Errorf("retained ticks = %d..%d, want 2..4", recent[0].Tick, recent[2].Tick)
	}
	if got := tracker.Recent(1); len(got) != 1 || got[0].Tick != 4 {
		t.Errorf("Recent(1) = %+v", got)
	}
}
