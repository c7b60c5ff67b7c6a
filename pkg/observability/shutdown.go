package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc is a cleanup step run during graceful shutdown
type ShutdownFunc func(context.Context) error

// ShutdownManager drains the API server on SIGINT/SIGTERM and then runs the
// registered cleanup steps in reverse registration order, so components stop
// before the backends they depend on.
type ShutdownManager struct {
	logger  *Logger
	server  *http.Server
	timeout time.Duration

	mu    sync.Mutex
	steps []ShutdownFunc
}

// NewShutdownManager creates a shutdown manager for the given server. A zero
// timeout defaults to 30 seconds.
func NewShutdownManager(logger *Logger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:  logger,
		server:  server,
		timeout: timeout,
	}
}

// RegisterShutdownFunc appends a cleanup step. Steps run in reverse order.
func (sm *ShutdownManager) RegisterShutdownFunc(fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.steps = append(sm.steps, fn)
}

// WaitForShutdown blocks until a termination signal arrives, then drains the
// server and runs the cleanup steps under a shared deadline.
func (sm *ShutdownManager) WaitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	sm.logger.Infof("Received signal %s, starting graceful shutdown", sig)

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	var errs []error

	if sm.server != nil {
		sm.logger.Info("Draining HTTP server")
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("HTTP server shutdown error")
			errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
		}
	}

	sm.mu.Lock()
	steps := make([]ShutdownFunc, len(sm.steps))
	copy(steps, sm.steps)
	sm.mu.Unlock()

	for i := len(steps) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			sm.logger.Warn("Shutdown deadline reached before all cleanup steps ran")
			errs = append(errs, fmt.Errorf("shutdown deadline: %w", err))
			break
		}
		if err := steps[i](ctx); err != nil {
			sm.logger.WithError(err).Errorf("Shutdown step %d failed", i)
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	sm.logger.Info("Graceful shutdown complete")
	return nil
}