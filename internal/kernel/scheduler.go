package kernel

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/invisible-tech/aion/internal/bus"
	"github.com/invisible-tech/aion/internal/config"
	"github.com/invisible-tech/aion/internal/health"
	"github.com/invisible-tech/aion/internal/organism"
	"github.com/invisible-tech/aion/internal/persist"
	"github.com/invisible-tech/aion/internal/telemetry"
)

// ErrQueueFull is returned when the mutation queue is at capacity.
var ErrQueueFull = errors.New("command queue full")

type queued struct {
	req   Request
	reply chan Result
}

// Scheduler owns the organism state and drives the daemons. Step runs on a
// single goroutine; Enqueue, Submit, Snapshot and Subscribe are safe to call
// from any goroutine.
type Scheduler struct {
	cfg     config.KernelConfig
	log     *logrus.Logger
	state   *State
	daemons []Daemon
	queue   chan queued
	hub     *bus.Hub

	tick     uint64
	snapshot atomic.Pointer[Snapshot]
	now      func() time.Time
}

// New builds the default organism and its scheduler. A nil port selects
// the simulated telemetry provider; a nil store disables save and load.
func New(cfg config.KernelConfig, port telemetry.Port, store persist.Store, log *logrus.Logger) (*Scheduler, error) {
	level, err := bus.ParseSimLevel(cfg.SimLevel)
	if err != nil {
		return nil, err
	}
	filter, err := bus.ParseLogFilter(cfg.LogFilter)
	if err != nil {
		return nil, err
	}
	if cfg.CommandQueueSize <= 0 {
		cfg.CommandQueueSize = 64
	}

	topo := organism.DefaultTopology(cfg.InitialHealth)
	b := bus.New(level, filter)
	if port == nil {
		port = telemetry.NewSimulated(b.SimLevel)
	}
	engine := health.NewEngine(health.Config{MaxStep: cfg.HealthMaxStep, Recovery: cfg.HealthRecovery})
	tracker := health.NewAlertTracker(cfg.AlertRetention)
	tracker.Seed(topo)
	b.SetAwareness(health.ComputeAwareness(topo))
	b.SetPolicy(health.PolicyFor(b.Awareness()))

	s := &Scheduler{
		cfg: cfg,
		log: log,
		state: &State{
			Topology:  topo,
			Bus:       b,
			Engine:    engine,
			Alerts:    tracker,
			Telemetry: port,
			Store:     store,
			rng:       rand.New(rand.NewSource(cfg.SimSeed)),
			log:       log,
		},
		daemons: []Daemon{
			NewHeartbeat(every(cfg.HeartbeatEvery, 10)),
			NewStatus(every(cfg.StatusEvery, 2)),
			NewAiCortex(every(cfg.AIEvery, 4)),
			NewSimulation(every(cfg.SimEvery, 6)),
		},
		queue: make(chan queued, cfg.CommandQueueSize),
		hub:   bus.NewHub(),
		now:   time.Now,
	}
	s.publishSnapshot()
	return s, nil
}

func every(n, fallback int) uint64 {
	if n <= 0 {
		return uint64(fallback)
	}
	return uint64(n)
}

// SetAlertSink registers a receiver for alert transitions. Call before Run.
func (s *Scheduler) SetAlertSink(sink AlertSink) {
	s.state.sink = sink
}

// OnSave registers fn to receive the bytes of every successful save. It
// runs on the scheduler goroutine before the save command replies. Call
// before Run.
func (s *Scheduler) OnSave(fn func(data []byte)) {
	s.state.saved = fn
}

// Restore loads saved state into the organism. Call before Run.
func (s *Scheduler) Restore(ctx context.Context) (bool, error) {
	if s.state.Store == nil {
		return false, nil
	}
	loaded, err := persist.Load(ctx, s.state.Store, s.state.Topology)
	if err != nil || !loaded {
		return loaded, err
	}
	s.state.Alerts.Seed(s.state.Topology)
	s.state.Bus.SetAwareness(health.ComputeAwareness(s.state.Topology))
	s.publishSnapshot()
	return true, nil
}

// Run steps the scheduler every tick interval until ctx is cancelled, then
// closes every pulse subscription.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.cfg.TickInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	s.log.WithFields(logrus.Fields{
		"tick_interval": interval.String(),
		"sim_level":     s.state.Bus.SimLevel(),
		"log_filter":    s.state.Bus.LogFilter(),
	}).Info("Scheduler started")
	wait.UntilWithContext(ctx, s.Step, interval)
	s.hub.Close()
	s.log.Info("Scheduler stopped")
}

// Step runs one tick: surface last tick's pulses, run due daemons in fixed
// order, drain the mutation queue, then publish a snapshot.
func (s *Scheduler) Step(ctx context.Context) {
	s.tick++
	tick := s.tick

	s.surface(s.state.Bus.Advance(tick))

	for _, d := range s.daemons {
		if tick%d.Every() != 0 {
			continue
		}
		s.runDaemon(ctx, d, tick)
	}

	s.drain(ctx, tick)
	s.publishSnapshot()
	ticksTotal.Inc()
}

func (s *Scheduler) runDaemon(ctx context.Context, d Daemon, tick uint64) {
	defer func() {
		if r := recover(); r != nil {
			s.daemonFailed(d.Name(), tick, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := d.Tick(ctx, s.state, tick); err != nil {
		s.daemonFailed(d.Name(), tick, err)
	}
}

func (s *Scheduler) daemonFailed(name string, tick uint64, err error) {
	daemonFailures.WithLabelValues(name).Inc()
	s.log.WithError(err).WithFields(logrus.Fields{"daemon": name, "tick": tick}).Error("Daemon tick failed")
	s.state.Bus.Publish(bus.PulseWarning, name, fmt.Sprintf("%s tick failed: %v", name, err))
}

// drain handles the requests queued before this tick started draining.
// Requests arriving meanwhile wait for the next tick.
func (s *Scheduler) drain(ctx context.Context, tick uint64) {
	for n := len(s.queue); n > 0; n-- {
		select {
		case q := <-s.queue:
			q.reply <- s.handle(ctx, q.req, tick)
		default:
			return
		}
	}
}

func (s *Scheduler) handle(ctx context.Context, req Request, tick uint64) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Response: Response{Op: req.Op, Tick: tick}, Err: fmt.Errorf("command %s panicked: %v", req.Op, r)}
			commandsHandled.WithLabelValues(string(req.Op), "panic").Inc()
			s.log.WithField("op", req.Op).Errorf("Command panicked: %v", r)
		}
	}()

	resp, err := s.state.Execute(ctx, req, tick)
	entry := s.log.WithFields(logrus.Fields{"op": req.Op, "source": req.Source, "tick": tick})
	if err != nil {
		result := "error"
		if errors.Is(err, ErrInvalidRequest) {
			result = "invalid"
		}
		commandsHandled.WithLabelValues(string(req.Op), result).Inc()
		s.state.Bus.Publish(bus.PulseCommand, "command", fmt.Sprintf("%s failed: %v", req.Op, err))
		entry.WithError(err).Warn("Command failed")
		return Result{Response: resp, Err: err}
	}
	commandsHandled.WithLabelValues(string(req.Op), "ok").Inc()
	entry.Debug("Command handled")
	return Result{Response: resp}
}

// Enqueue queues req for the next tick. The returned channel receives
// exactly one result.
func (s *Scheduler) Enqueue(req Request) (<-chan Result, error) {
	reply := make(chan Result, 1)
	select {
	case s.queue <- queued{req: req, reply: reply}:
		return reply, nil
	default:
		return nil, ErrQueueFull
	}
}

// Submit queues req and waits for its result.
func (s *Scheduler) Submit(ctx context.Context, req Request) (Response, error) {
	reply, err := s.Enqueue(req)
	if err != nil {
		return Response{}, err
	}
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case r := <-reply:
		return r.Response, r.Err
	}
}

// Snapshot returns the view published at the end of the last tick.
func (s *Scheduler) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Subscribe streams surfaced pulses. The returned func unsubscribes.
func (s *Scheduler) Subscribe(buffer int) (<-chan bus.Pulse, func()) {
	return s.hub.Subscribe(buffer)
}

func (s *Scheduler) publishSnapshot() {
	snap := buildSnapshot(s.state, s.tick, s.now())
	for _, o := range snap.Organs {
		organHealth.WithLabelValues(o.Kind.String()).Set(o.Health)
	}
	awarenessScore.Set(snap.Awareness)
	s.snapshot.Store(snap)
}

// surface logs and broadcasts the pulses that just became visible,
// honoring the log filter.
func (s *Scheduler) surface(pulses []bus.Pulse) {
	filter := s.state.Bus.LogFilter()
	for _, p := range pulses {
		pulsesPublished.WithLabelValues(string(p.Kind)).Inc()
		if !filter.Surfaces(p.Kind) {
			continue
		}
		s.hub.Broadcast(p)

		entry := s.log.WithFields(logrus.Fields{"seq": p.Seq, "kind": p.Kind, "source": p.Source})
		switch p.Kind {
		case bus.PulseAlert, bus.PulseWarning:
			entry.Warn(p.Message)
		case bus.PulseHeartbeat:
			entry.Debug(p.Message)
		default:
			entry.Info(p.Message)
		}
	}
}
