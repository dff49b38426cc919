package kernel

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics (registered once).
var (
	organHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aion_organ_health",
			Help: "Current organ health in [0, 1]",
		},
		[]string{"organ"},
	)
	awarenessScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aion_awareness",
			Help: "Current awareness index",
		},
	)
	ticksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aion_ticks_total",
			Help: "Scheduler ticks completed",
		},
	)
	pulsesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aion_pulses_total",
			Help: "Pulses surfaced at tick start",
		},
		[]string{"kind"},
	)
	alertsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aion_alerts_total",
			Help: "Alert tier transitions",
		},
		[]string{"subject", "tier"},
	)
	daemonFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aion_daemon_failures_total",
			Help: "Daemon ticks that returned an error or panicked",
		},
		[]string{"daemon"},
	)
	commandsHandled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aion_commands_total",
			Help: "Commands drained from the mutation queue",
		},
		[]string{"op", "result"},
	)
	telemetryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aion_telemetry_failures_total",
			Help: "Telemetry reads that failed",
		},
		[]string{"organ"},
	)
)

func init() {
	prometheus.MustRegister(organHealth)
	prometheus.MustRegister(awarenessScore)
	prometheus.MustRegister(ticksTotal)
	prometheus.MustRegister(pulsesPublished)
	prometheus.MustRegister(alertsEmitted)
	prometheus.MustRegister(daemonFailures)
	prometheus.MustRegister(commandsHandled)
	prometheus.MustRegister(telemetryFailures)
}
