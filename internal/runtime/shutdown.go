// Package runtime coordinates process shutdown for the copilot CLI.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joss/copilot/internal/logging"
)

// ShutdownFunc is a cleanup function called during shutdown.
type ShutdownFunc func(ctx context.Context) error

// ShutdownManager runs registered cleanup handlers once, on signal or on
// explicit Shutdown.
type ShutdownManager struct {
	mu       sync.Mutex
	handlers []namedHandler
	timeout  time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
	err      error
	log      *logging.Logger
}

type namedHandler struct {
	name string
	fn   ShutdownFunc
}

// DefaultShutdownTimeout bounds the whole cleanup phase.
const DefaultShutdownTimeout = 10 * time.Second

// NewShutdownManager creates a manager whose cleanup phase is bounded by timeout.
func NewShutdownManager(timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ShutdownManager{
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		log:     logging.New("runtime"),
	}
}

// Register adds a cleanup handler. Handlers run in reverse registration
// order, each one after the previous has returned.
func (m *ShutdownManager) Register(name string, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, namedHandler{name: name, fn: fn})
}

// RegisterCloser registers a function with an error-only signature, such as
// a Close method.
func (m *ShutdownManager) RegisterCloser(name string, fn func() error) {
	m.Register(name, func(context.Context) error { return fn() })
}

// Context is cancelled when shutdown begins.
func (m *ShutdownManager) Context() context.Context {
	return m.ctx
}

// Done is closed when shutdown has finished.
func (m *ShutdownManager) Done() <-chan struct{} {
	return m.done
}

// Err returns the joined handler errors once shutdown has finished.
func (m *ShutdownManager) Err() error {
	select {
	case <-m.done:
		return m.err
	default:
		return nil
	}
}

// ListenForSignals triggers Shutdown on SIGINT or SIGTERM. The returned
// function stops listening.
func (m *ShutdownManager) ListenForSignals() func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)

	stop := make(chan struct{})
	go func() {
		select {
		case sig := <-sigs:
			m.log.Info("signal", map[string]interface{}{"signal": sig.String()})
			m.Shutdown()
		case <-stop:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(stop)
		})
	}
}

// Shutdown runs the cleanup handlers. Only the first call does work; later
// calls wait for it to finish.
func (m *ShutdownManager) Shutdown() error {
	m.once.Do(m.run)
	<-m.done
	return m.err
}

func (m *ShutdownManager) run() {
	defer close(m.done)
	m.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	handlers := make([]namedHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	start := time.Now()
	var errs []error
	for i := len(handlers) - 1; i >= 0; i-- {
		if err := m.runHandler(ctx, handlers[i]); err != nil {
			errs = append(errs, err)
		}
	}
	m.err = errors.Join(errs...)

	m.log.TimedEvent("shutdown", start, map[string]interface{}{
		"handlers": len(handlers),
		"failed":   len(errs),
	})
}

// runHandler stops waiting when ctx expires; the handler goroutine is left
// to finish on its own.
func (m *ShutdownManager) runHandler(ctx context.Context, h namedHandler) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: skipped: %w", h.name, ctx.Err())
	}

	result := make(chan error, 1)
	start := time.Now()
	go func() {
		result <- logging.NewRecoveryHandler("shutdown." + h.name).WrapError(func() error {
			return h.fn(ctx)
		})
	}()

	select {
	case err := <-result:
		if err != nil {
			m.log.Warn("handler_failed", map[string]interface{}{"handler": h.name}, err)
			return fmt.Errorf("%s: %w", h.name, err)
		}
		m.log.TimedEvent("handler_done", start, map[string]interface{}{"handler": h.name})
		return nil
	case <-ctx.Done():
		m.log.Warn("handler_timeout", map[string]interface{}{"handler": h.name}, ctx.Err())
		return fmt.Errorf("%s: %w", h.name, ctx.Err())
	}
}
