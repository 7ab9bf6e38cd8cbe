package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

// ShutdownManager stops the ops server and then runs the registered shutdown
// functions concurrently under one deadline.
type ShutdownManager struct {
	log             logrus.FieldLogger
	server          *http.Server
	shutdownFuncs   []ShutdownFunc
	shutdownTimeout time.Duration
	mu              sync.Mutex
}

// NewShutdownManager creates a new shutdown manager. server may be nil.
func NewShutdownManager(log logrus.FieldLogger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if log == nil {
		log = logrus.New()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		log:             log,
		server:          server,
		shutdownTimeout: timeout,
	}
}

// RegisterShutdownFunc registers a function to call during shutdown. Nil
// functions are ignored.
func (sm *ShutdownManager) RegisterShutdownFunc(fn ShutdownFunc) {
	if fn == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.shutdownFuncs = append(sm.shutdownFuncs, fn)
}

// Wait blocks until ctx is done (typically a signal.NotifyContext) and then
// shuts down.
func (sm *ShutdownManager) Wait(ctx context.Context) error {
	<-ctx.Done()
	sm.log.Info("shutdown requested, starting graceful shutdown")
	return sm.Shutdown()
}

// Shutdown stops the server and runs every shutdown function
func (sm *ShutdownManager) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
	defer cancel()

	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.log.WithError(err).Error("HTTP server shutdown error")
			return fmt.Errorf("HTTP server shutdown failed: %w", err)
		}
		sm.log.Info("HTTP server shutdown complete")
	}

	sm.mu.Lock()
	funcs := append([]ShutdownFunc(nil), sm.shutdownFuncs...)
	sm.mu.Unlock()

	var (
		wg   sync.WaitGroup
		errs = make([]error, len(funcs))
	)
	for i, fn := range funcs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				sm.log.WithField("index", i).WithError(err).Error("shutdown function failed")
				errs[i] = err
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sm.log.Warn("shutdown timeout reached, forcing shutdown")
		return fmt.Errorf("shutdown timeout reached")
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown completed with errors: %w", err)
	}
	sm.log.Info("graceful shutdown complete")
	return nil
}
