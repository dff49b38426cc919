// Package kernel runs the organism: the daemon tick loop, the command
// handler and the read-only snapshot export.
package kernel

import (
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/aion/internal/bus"
	"github.com/invisible-tech/aion/internal/health"
	"github.com/invisible-tech/aion/internal/organism"
	"github.com/invisible-tech/aion/internal/persist"
	"github.com/invisible-tech/aion/internal/telemetry"
)

// Readings holds the last telemetry bundle read for each family.
type Readings struct {
	CPUGPU *telemetry.CPUGPUMetrics `json:"cpu_gpu,omitempty"`
	Memory *telemetry.MemoryMetrics `json:"memory,omitempty"`
	IO     *telemetry.IOMetrics     `json:"io_network,omitempty"`
}

// AlertSink receives every alert transition. Notify must not block.
type AlertSink interface {
	Notify(alert health.Alert)
}

// State is everything the daemons and the command handler operate on. It
// is owned by the scheduler goroutine; nothing else may touch it.
type State struct {
	Topology  *organism.Topology
	Bus       *bus.Bus
	Engine    *health.Engine
	Alerts    *health.AlertTracker
	Telemetry telemetry.Port
	Store     persist.Store
	Readings  Readings

	rng   *rand.Rand
	sink  AlertSink
	saved func(data []byte)
	log   *logrus.Logger
}

// EvaluateAlerts observes every organ and awareness, publishing an alert
// pulse for each tier transition.
func (s *State) EvaluateAlerts(tick uint64) []health.Alert {
	alerts := s.Alerts.Evaluate(s.Topology, tick)
	for _, a := range alerts {
		alertsEmitted.WithLabelValues(a.Subject, a.To.String()).Inc()
		s.Bus.Publish(bus.PulseAlert, "health", alertMessage(a),
			bus.WithTier(a.To.String()), organOption(a.Subject))

		entry := s.log.WithFields(logrus.Fields{
			"alert_id": a.ID, "subject": a.Subject,
			"from": a.From.String(), "to": a.To.String(), "value": a.Value,
		})
		if a.Recovered() {
			entry.Info("Alert tier recovered")
		} else {
			entry.Warn("ALERT")
		}
		if s.sink != nil {
			s.sink.Notify(a)
		}
	}
	return alerts
}

func organOption(subject string) bus.Option {
	if subject == health.AwarenessSubject {
		return func(*bus.Pulse) {}
	}
	return bus.WithOrgan(subject)
}

func alertMessage(a health.Alert) string {
	verb := "entered"
	if a.Recovered() {
		verb = "recovered to"
	}
	return a.Subject + " " + verb + " " + a.Label + " (" + formatScore(a.Value) + ")"
}
