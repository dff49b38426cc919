package health

import (
	"time"

	"github.com/google/uuid"

	"github.com/invisible-tech/aion/internal/organism"
)

// AwarenessSubject is the tracker subject for the awareness index.
const AwarenessSubject = "awareness"

// Alert is a tier transition for one subject.
type Alert struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Tick      uint64             `json:"tick"`
	Subject   string             `json:"subject"`
	From      organism.AlertTier `json:"from"`
	To        organism.AlertTier `json:"to"`
	Label     string             `json:"label"`
	Value     float64            `json:"value"`
}

// Recovered reports whether the transition moved to a better tier.
func (a Alert) Recovered() bool {
	return a.To < a.From
}

// AlertTracker emits an alert only when a subject's tier changes. It is
// owned by the scheduler goroutine and is not safe for concurrent use.
type AlertTracker struct {
	last      map[string]organism.AlertTier
	retained  []Alert
	retention int
	now       func() time.Time
}

// NewAlertTracker retains at most retention alerts (256 when <= 0).
func NewAlertTracker(retention int) *AlertTracker {
	if retention <= 0 {
		retention = 256
	}
	return &AlertTracker{
		last:      make(map[string]organism.AlertTier),
		retention: retention,
		now:       time.Now,
	}
}

// Seed records the current tiers of every organ and of awareness without
// emitting anything.
func (a *AlertTracker) Seed(t *organism.Topology) {
	for _, o := range t.Organs() {
		a.last[o.Kind().String()] = o.Tier()
	}
	a.last[AwarenessSubject] = organism.TierFor(ComputeAwareness(t))
}

// Observe records value for subject. It returns an alert when the tier
// differs from the last observed one. A subject seen for the first time is
// compared against ok.
func (a *AlertTracker) Observe(subject string, value float64, tick uint64) (Alert, bool) {
	tier := organism.TierFor(value)
	prev, seen := a.last[subject]
	if !seen {
		prev = organism.TierOK
	}
	a.last[subject] = tier
	if tier == prev {
		return Alert{}, false
	}

	label := tier.String()
	if subject == AwarenessSubject {
		label = AwarenessLabel(value)
	}
	alert := Alert{
		ID:        uuid.NewString(),
		Timestamp: a.now(),
		Tick:      tick,
		Subject:   subject,
		From:      prev,
		To:        tier,
		Label:     label,
		Value:     value,
	}
	a.retained = append(a.retained, alert)
	if over := len(a.retained) - a.retention; over > 0 {
		a.retained = append([]Alert(nil), a.retained[over:]...)
	}
	return alert, true
}

// Evaluate observes every organ and then awareness, in stable order.
func (a *AlertTracker) Evaluate(t *organism.Topology, tick uint64) []Alert {
	var out []Alert
	for _, o := range t.Organs() {
		if alert, ok := a.Observe(o.Kind().String(), o.Health(), tick); ok {
			out = append(out, alert)
		}
	}
	if alert, ok := a.Observe(AwarenessSubject, ComputeAwareness(t), tick); ok {
		out = append(out, alert)
	}
	return out
}

// Tier returns the last observed tier for subject.
func (a *AlertTracker) Tier(subject string) (organism.AlertTier, bool) {
	tier, ok := a.last[subject]
	return tier, ok
}

// Recent returns up to n retained alerts, oldest first. n <= 0 returns all.
func (a *AlertTracker) Recent(n int) []Alert {
	start := 0
	if n > 0 && n < len(a.retained) {
		start = len(a.retained) - n
	}
	return append([]Alert(nil), a.retained[start:]...)
}
