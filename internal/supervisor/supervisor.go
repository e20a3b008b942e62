// Package supervisor owns the daemon's process lifecycle: single-instance
// locking, signal-driven graceful shutdown, and the tick loop that drives
// the trigger pipeline on a fixed cadence.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mangamerged/mangamerged/pkg/logging"
)

// TickFunc is one loop iteration. The composition root adapts
// internal/trigger.Pipeline.Tick to this signature, discarding its
// summary return value (logged by the pipeline itself).
type TickFunc func(ctx context.Context, now time.Time) error

// Config controls the supervisor's timing.
type Config struct {
	TickInterval time.Duration
	StopTimeout  time.Duration
}

// Supervisor runs one TickFunc on a fixed cadence until stopped, either by
// an explicit Stop call or by SIGINT/SIGTERM.
type Supervisor struct {
	config Config
	tick   TickFunc
	logger logging.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// New builds a Supervisor driving tick on config.TickInterval.
func New(config Config, tick TickFunc, logger logging.Logger) *Supervisor {
	return &Supervisor{config: config, tick: tick, logger: logger}
}

// Start begins the tick loop in a background goroutine and installs a
// SIGINT/SIGTERM handler that triggers graceful shutdown. It returns
// immediately; the loop runs until Stop is called or a signal arrives,
// and Wait blocks until it has exited.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("supervisor already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.doneCh = make(chan struct{})
	s.started = true

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			s.logEvent(logging.LevelNormal, "supervisor.signal.received", "received shutdown signal", sig.String())
			if err := s.Stop(); err != nil {
				s.logEvent(logging.LevelError, "supervisor.stop.timeout", "graceful shutdown did not complete in time", err.Error())
			}
		case <-loopCtx.Done():
		}
	}()

	go s.loop(loopCtx)

	return nil
}

// Wait blocks until the tick loop has exited, whether triggered by an
// incoming signal or an explicit Stop call.
func (s *Supervisor) Wait() {
	s.mu.Lock()
	doneCh := s.doneCh
	s.mu.Unlock()
	if doneCh != nil {
		<-doneCh
	}
}

func (s *Supervisor) loop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := s.tick(ctx, now); err != nil && ctx.Err() == nil {
				s.logEvent(logging.LevelError, "supervisor.tick.error", "tick returned an error", err.Error())
			}
		}
	}
}

// Stop cancels the tick loop and waits up to config.StopTimeout for it to
// exit, returning an error if the loop does not exit in time.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("supervisor not started")
	}
	cancel := s.cancel
	doneCh := s.doneCh
	s.mu.Unlock()

	cancel()

	timeout := s.config.StopTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	select {
	case <-doneCh:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("supervisor did not stop within %s", timeout)
	}
}

func (s *Supervisor) logEvent(level logging.Level, eventID, message, detail string) {
	if s.logger == nil {
		return
	}
	s.logger.Log(level, eventID, message, logging.F("detail", detail))
}
