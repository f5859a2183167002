// Package lifecycle coordinates graceful shutdown of a conductor chain: on a
// signal or an explicit Shutdown call it runs the registered cleanup steps
// once, in order. The draining and killing themselves are done by those
// steps (for a chain, Conductor.Shutdown, which closes the editor-facing
// side, waits its own grace period, then kills subprocess components).
package lifecycle

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/symposium-dev/symposium-conductor/internal/logging"
)

// ShutdownFunc performs one cleanup step during shutdown. It receives the
// reason shutdown was triggered.
type ShutdownFunc func(reason string)

// ShutdownManager coordinates graceful shutdown across a conductor chain.
// Cleanups run exactly once, in registration order; it is safe for
// concurrent use.
type ShutdownManager struct {
	mu       sync.Mutex
	once     sync.Once
	done     chan struct{}
	reason   string
	cleanups []ShutdownFunc

	// GracePeriod is not read by Shutdown: cleanup steps run back to back,
	// and any wait for in-flight work happens inside a step.
	GracePeriod time.Duration
}

// NewShutdownManager creates a shutdown manager. Signal handling does not
// start until Start() is called.
func NewShutdownManager() *ShutdownManager {
	return &ShutdownManager{
		done:        make(chan struct{}),
		GracePeriod: 2 * time.Second,
	}
}

// AddCleanup registers a cleanup step, run in the order added during
// shutdown. The first registered cleanup should be the one that stops
// accepting new editor-facing traffic; the last should kill subprocesses.
func (sm *ShutdownManager) AddCleanup(fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cleanups = append(sm.cleanups, fn)
}

// Start begins listening for SIGINT/SIGTERM and triggers Shutdown on receipt.
func (sm *ShutdownManager) Start() {
	logger := logging.Shutdown()
	logger.Debug("shutdown manager started, listening for signals")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("signal received, initiating shutdown", "signal", sig.String())
		sm.Shutdown("signal:" + sig.String())
	}()
}

// Shutdown triggers graceful shutdown with the given reason. Safe to call
// multiple times — only the first call executes cleanup. Blocks until
// complete.
func (sm *ShutdownManager) Shutdown(reason string) {
	sm.once.Do(func() {
		sm.doShutdown(reason)
	})
}

func (sm *ShutdownManager) doShutdown(reason string) {
	logger := logging.Shutdown()
	logger.Info("starting shutdown sequence", "reason", reason)

	sm.mu.Lock()
	sm.reason = reason
	cleanups := make([]ShutdownFunc, len(sm.cleanups))
	copy(cleanups, sm.cleanups)
	sm.mu.Unlock()

	for i, fn := range cleanups {
		logger.Debug("running cleanup step", "index", i, "total", len(cleanups))
		fn(reason)
	}

	logger.Info("shutdown sequence complete", "reason", reason)
	close(sm.done)
}

// Done returns a channel closed once shutdown has completed.
func (sm *ShutdownManager) Done() <-chan struct{} {
	return sm.done
}

// Reason returns the shutdown reason, or "" if not yet shut down.
func (sm *ShutdownManager) Reason() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.reason
}
