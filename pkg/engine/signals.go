package engine

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// SetupCleanupHandlers closes the engine when the process receives SIGINT or
// SIGTERM, then re-delivers the signal so the default handling proceeds.
// Close failures are logged. The returned stop function removes the handler;
// cancelling ctx does the same.
func (e *Engine) SetupCleanupHandlers(ctx context.Context) (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	var once sync.Once
	stop = func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(done)
		})
	}

	go func() {
		select {
		case sig := <-sigs:
			e.logger.Info("signal received, closing engine", zap.String("signal", sig.String()))
			if err := e.Close(); err != nil {
				e.logger.Error("cleanup on signal failed", zap.Error(err))
			}
			stop()
			if p, err := os.FindProcess(os.Getpid()); err == nil {
				_ = p.Signal(sig)
			}
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	return stop
}
