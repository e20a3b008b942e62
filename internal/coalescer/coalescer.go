// Package coalescer implements the merge-scan request coalescer: at most
// one logical "please re-merge" request is pending at a time, and a
// caller-supplied handler is invoked to dispatch it no more often than
// min_interval allows, backing off by retry_delay on any non-success
// outcome.
package coalescer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mangamerged/mangamerged/pkg/logging"
)

// HandlerResult is what a dispatch Handler reports back about one
// attempted merge pass.
type HandlerResult int

const (
	HandlerSuccess HandlerResult = iota
	HandlerBusy
	HandlerMixed
	HandlerFailure
)

// Handler performs one merge-scan attempt for (reason, force). A
// context.Canceled (or wrapped) error signals cooperative cancellation;
// any other error is treated the same as HandlerFailure.
type Handler func(ctx context.Context, reason string, force bool) (HandlerResult, error)

// Outcome classifies the result of one dispatch_pending call.
type Outcome int

const (
	NoPendingRequest Outcome = iota
	SkippedDueToMinInterval
	SkippedDueToRetryDelay
	Success
	Busy
	Mixed
	Failure
)

func (o Outcome) String() string {
	switch o {
	case NoPendingRequest:
		return "no_pending"
	case SkippedDueToMinInterval:
		return "skipped_min_interval"
	case SkippedDueToRetryDelay:
		return "skipped_retry_delay"
	case Success:
		return "success"
	case Busy:
		return "busy"
	case Mixed:
		return "mixed"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

type pendingRequest struct {
	reason  string
	force   bool
	version uint64
}

// Metrics is the narrow recording capability the coalescer depends on.
type Metrics interface {
	RecordCoalescerDispatch(outcome string)
}

// Config controls the coalescer's timing gates.
type Config struct {
	MinInterval time.Duration
	RetryDelay  time.Duration
}

// Coalescer holds at most one pending merge-scan request, overwritten by
// every RequestScan call, and dispatches it through Handler no faster
// than Config.MinInterval, retrying no sooner than Config.RetryDelay
// after any non-success outcome.
type Coalescer struct {
	mu sync.Mutex

	pending            *pendingRequest
	nextVersion        uint64
	dispatchInProgress bool
	lastSuccess        *time.Time
	nextRetry          *time.Time

	config  Config
	handler Handler
	logger  logging.Logger
	metrics Metrics
}

// New builds a Coalescer that dispatches through handler.
func New(config Config, handler Handler, logger logging.Logger, metrics Metrics) *Coalescer {
	return &Coalescer{
		config:  config,
		handler: handler,
		logger:  logger,
		metrics: metrics,
	}
}

// RequestScan overwrites the pending request's reason and force and
// bumps its version; the latest call before a dispatch wins.
func (c *Coalescer) RequestScan(reason string, force bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextVersion++
	c.pending = &pendingRequest{reason: reason, force: force, version: c.nextVersion}
}

// DispatchPending attempts to dispatch the pending request, if any and
// if all timing gates are open. It returns an error only on cooperative
// cancellation propagated from the handler.
func (c *Coalescer) DispatchPending(ctx context.Context, now time.Time) (Outcome, error) {
	c.mu.Lock()

	if c.pending == nil {
		c.mu.Unlock()
		return c.record(NoPendingRequest), nil
	}
	if c.dispatchInProgress {
		c.mu.Unlock()
		return c.record(Busy), nil
	}
	if c.nextRetry != nil && now.Before(*c.nextRetry) {
		c.mu.Unlock()
		return c.record(SkippedDueToRetryDelay), nil
	}
	if c.lastSuccess != nil && now.Sub(*c.lastSuccess) < c.config.MinInterval {
		c.mu.Unlock()
		return c.record(SkippedDueToMinInterval), nil
	}

	reason, force, version := c.pending.reason, c.pending.force, c.pending.version
	c.dispatchInProgress = true
	c.mu.Unlock()

	result, err := c.handler(ctx, reason, force)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatchInProgress = false

	if err != nil && errors.Is(err, context.Canceled) {
		return c.record(Failure), err
	}

	if err != nil {
		next := now.Add(c.config.RetryDelay)
		c.nextRetry = &next
		return c.record(Failure), nil
	}

	switch result {
	case HandlerSuccess:
		if c.pending != nil && c.pending.version == version {
			c.pending = nil
		}
		successAt := now
		c.lastSuccess = &successAt
		c.nextRetry = nil
		return c.record(Success), nil
	case HandlerBusy:
		next := now.Add(c.config.RetryDelay)
		c.nextRetry = &next
		return c.record(Busy), nil
	case HandlerMixed:
		next := now.Add(c.config.RetryDelay)
		c.nextRetry = &next
		return c.record(Mixed), nil
	default:
		next := now.Add(c.config.RetryDelay)
		c.nextRetry = &next
		return c.record(Failure), nil
	}
}

func (c *Coalescer) record(outcome Outcome) Outcome {
	if c.metrics != nil {
		c.metrics.RecordCoalescerDispatch(outcome.String())
	}
	if c.logger != nil && (outcome == SkippedDueToMinInterval || outcome == SkippedDueToRetryDelay) {
		c.logger.Log(logging.LevelDebug, "merge.dispatch.deferred", "merge dispatch deferred",
			logging.F("outcome", outcome.String()),
		)
	}
	return outcome
}
