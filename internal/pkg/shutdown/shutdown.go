// Package shutdown runs cleanup handlers when the process is asked to stop.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"serenity/internal/pkg/logger"
)

// Signals are the process signals that trigger a shutdown.
var Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}

// Manager handles graceful shutdown of services.
type Manager struct {
	log      *logger.Logger
	timeout  time.Duration
	mu       sync.Mutex
	handlers []Handler
	once     sync.Once
	err      error
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// Handler is a function that performs cleanup during shutdown.
type Handler struct {
	Name    string
	Cleanup func(ctx context.Context) error
}

// NewManager creates a new shutdown manager.
func NewManager(log *logger.Logger, timeout time.Duration) *Manager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		log:     log.WithComponent("shutdown"),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Register adds a cleanup handler. Handlers run in reverse registration
// order, one at a time, so later components stop before what they use.
func (m *Manager) Register(name string, cleanup func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, Handler{Name: name, Cleanup: cleanup})
	m.log.Debug("registered shutdown handler", "name", name)
}

// RegisterSimple adds a cleanup handler that cannot fail.
func (m *Manager) RegisterSimple(name string, cleanup func()) {
	m.Register(name, func(ctx context.Context) error {
		cleanup()
		return nil
	})
}

// Wait blocks until a shutdown signal arrives or ctx is done, then runs
// the handlers.
func (m *Manager) Wait(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, Signals...)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		m.log.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		m.log.Info("context canceled, initiating shutdown")
	case <-m.ctx.Done():
	}

	return m.Shutdown()
}

// Shutdown cancels Context and runs the handlers once. Later calls return
// the first result.
func (m *Manager) Shutdown() error {
	m.once.Do(func() {
		m.cancel()
		m.err = m.run()
		close(m.done)
	})
	return m.err
}

func (m *Manager) run() error {
	m.mu.Lock()
	handlers := make([]Handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.log.Info("starting graceful shutdown", "handlers", len(handlers), "timeout", m.timeout.String())

	var errs []error
	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		if ctx.Err() != nil {
			m.log.Warn("shutdown timeout exceeded, skipping handler", "name", h.Name)
			errs = append(errs, fmt.Errorf("%s: %w", h.Name, ctx.Err()))
			continue
		}

		start := time.Now()
		if err := runHandler(ctx, h); err != nil {
			m.log.Error("shutdown handler failed",
				"name", h.Name,
				"error", err.Error(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
			errs = append(errs, fmt.Errorf("%s: %w", h.Name, err))
			continue
		}
		m.log.Debug("shutdown handler completed",
			"name", h.Name,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	if len(errs) == 0 {
		m.log.Info("graceful shutdown completed")
	}
	return errors.Join(errs...)
}

// runHandler stops waiting for h once ctx expires; h keeps ctx and is
// expected to return soon after.
func runHandler(ctx context.Context, h Handler) error {
	errCh := make(chan error, 1)
	go func() { errCh <- h.Cleanup(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel that is closed when shutdown is complete.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Context returns a context that is canceled as soon as shutdown starts.
func (m *Manager) Context() context.Context {
	return m.ctx
}
