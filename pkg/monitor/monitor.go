package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/aion/internal/config"
	"github.com/invisible-tech/aion/internal/kernel"
	"github.com/invisible-tech/aion/internal/server"
	"github.com/invisible-tech/aion/internal/shell"
	"github.com/invisible-tech/aion/pkg/notify"
	"github.com/invisible-tech/aion/pkg/statewatch"
)

// Options overrides the shell's terminal. Nil fields use stdin and stdout.
type Options struct {
	In  io.Reader
	Out io.Writer
}

// Monitor orchestrates the scheduler and every surface around it
type Monitor struct {
	cfg *config.Config
	log *logrus.Logger

	scheduler *kernel.Scheduler
	server    *server.Server
	shell     *shell.Shell
	watcher   *statewatch.Watcher
	forwarder *notify.Forwarder

	// Synchronization
	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel context.CancelFunc
	errCh  chan error
}

// New wires the components enabled in cfg around sched.
func New(cfg *config.Config, sched *kernel.Scheduler, opts Options, log *logrus.Logger) (*Monitor, error) {
	m := &Monitor{
		cfg:       cfg,
		log:       log,
		scheduler: sched,
		errCh:     make(chan error, 4),
	}

	if cfg.Server.HTTPAddr != "" {
		srv, err := server.New(cfg.Server, sched, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create server: %w", err)
		}
		m.server = srv
	}

	if cfg.Notify.Enabled {
		m.forwarder = notify.NewForwarder(notify.Config{
			Endpoint:   cfg.Notify.Endpoint,
			APIKey:     cfg.Notify.APIKey,
			Timeout:    cfg.Notify.Timeout,
			BufferSize: cfg.Notify.BufferSize,
		}, log)
		sched.SetAlertSink(m.forwarder)
	}

	if cfg.State.Watch && (cfg.State.Backend == "" || cfg.State.Backend == "file") {
		w, err := statewatch.New(statewatch.Config{Path: cfg.State.Path}, sched, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create state watcher: %w", err)
		}
		sched.OnSave(w.Baseline)
		m.watcher = w
	}

	if cfg.Shell {
		in, out := opts.In, opts.Out
		if in == nil {
			in = os.Stdin
		}
		if out == nil {
			out = os.Stdout
		}
		m.shell = shell.New(sched, in, out, log)
	}

	return m, nil
}

func (m *Monitor) spawn(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

// Start runs every component and blocks until ctx is cancelled, the
// operator quits the shell, or the HTTP server fails. It returns
// shell.ErrQuit on quit.
func (m *Monitor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.log.Info("Starting organism supervisor")

	// Scheduler first so submitted commands are served.
	m.spawn(func() { m.scheduler.Run(ctx) })

	if m.forwarder != nil {
		m.spawn(func() { m.forwarder.Run(ctx) })
	}
	if m.watcher != nil {
		m.spawn(func() { m.watcher.Start(ctx) })
	}
	if m.server != nil {
		m.spawn(func() {
			if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				m.errCh <- fmt.Errorf("http server: %w", err)
			}
		})
	}
	if m.shell != nil {
		m.spawn(func() {
			if err := m.shell.Run(ctx); err != nil {
				m.errCh <- err
			}
		})
	}

	m.log.Info("All components started")

	select {
	case <-ctx.Done():
		return nil
	case err := <-m.errCh:
		return err
	}
}

// Shutdown gracefully stops all components
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.log.Info("Shutting down supervisor")

	var err error
	if m.server != nil {
		if serr := m.server.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("http shutdown: %w", serr)
		}
	}

	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	// Wait for all goroutines with timeout
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("All components stopped")
	case <-ctx.Done():
		m.log.Warn("Shutdown timeout, some components may not have stopped cleanly")
	}

	return err
}
