package mountsvc

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mangamerged/mangamerged/internal/circuit"
	"github.com/mangamerged/mangamerged/internal/execx"
	pkgerrors "github.com/mangamerged/mangamerged/pkg/errors"
	"github.com/mangamerged/mangamerged/pkg/logging"
	"github.com/mangamerged/mangamerged/pkg/retry"
)

// ApplyOutcome classifies how one Apply call concluded.
type ApplyOutcome int

const (
	ApplySuccess ApplyOutcome = iota
	ApplyBusy
	ApplyFailure
)

func (o ApplyOutcome) String() string {
	switch o {
	case ApplySuccess:
		return "Success"
	case ApplyBusy:
		return "Busy"
	case ApplyFailure:
		return "Failure"
	default:
		return "Unknown"
	}
}

// PassOutcome classifies how one merge pass's full action list concluded.
type PassOutcome int

const (
	PassSuccess PassOutcome = iota
	PassBusy
	PassMixed
	PassFailure
)

func (o PassOutcome) String() string {
	switch o {
	case PassSuccess:
		return "Success"
	case PassBusy:
		return "Busy"
	case PassMixed:
		return "Mixed"
	case PassFailure:
		return "Failure"
	default:
		return "Unknown"
	}
}

// ApplyResult is the outcome of executing one reconciliation Action.
type ApplyResult struct {
	Action     Action
	Outcome    ApplyOutcome
	Diagnostic string
}

// CommandServiceConfig names the external binaries and options the mount
// command service drives.
type CommandServiceConfig struct {
	MergerfsBinary       string
	FindmntBinary        string
	FusermountBinary     string
	MergerfsOptionsBase  string
	HighPriorityWrappers []string
	CommandTimeout       time.Duration
	ReadinessTimeout     time.Duration
}

// Metrics is the narrow observability capability the command service
// reports apply outcomes through.
type Metrics interface {
	RecordMountApplyOutcome(outcome string)
}

// CommandService applies reconciliation actions through the external
// mergerfs/findmnt/fusermount commands, with bounded retry on Busy
// outcomes and a circuit breaker per mount point to avoid hammering a
// repeatedly failing mount.
type CommandService struct {
	executor execx.Executor
	config   CommandServiceConfig
	retryer  *retry.Retryer
	logger   logging.Logger
	metrics  Metrics

	breakersMu sync.Mutex
	breakers   map[string]*circuit.CircuitBreaker
}

// NewCommandService builds a CommandService. metrics may be nil.
func NewCommandService(executor execx.Executor, config CommandServiceConfig, retryer *retry.Retryer, logger logging.Logger, metrics Metrics) *CommandService {
	return &CommandService{
		executor: executor,
		config:   config,
		retryer:  retryer,
		logger:   logger,
		metrics:  metrics,
		breakers: make(map[string]*circuit.CircuitBreaker),
	}
}

func (s *CommandService) breakerFor(mountPoint string) *circuit.CircuitBreaker {
	s.breakersMu.Lock()
	defer s.breakersMu.Unlock()
	b, ok := s.breakers[mountPoint]
	if !ok {
		b = circuit.NewCircuitBreaker(mountPoint, circuit.Config{})
		s.breakers[mountPoint] = b
	}
	return b
}

// Apply executes action, routing to the kind-specific handler. Unmount
// busy outcomes are retried through the configured retryer; Mount and
// Remount failures are gated by a per-mount-point circuit breaker so a
// repeatedly failing mount point stops being hammered within a pass.
func (s *CommandService) Apply(ctx context.Context, action Action) ApplyResult {
	var result ApplyResult
	switch action.Kind {
	case Mount:
		result = s.applyMount(ctx, action)
	case Remount:
		result = s.applyRemount(ctx, action)
	case Unmount:
		result = s.applyUnmount(ctx, action)
	default:
		result = ApplyResult{Action: action, Outcome: ApplyFailure, Diagnostic: "unknown action kind"}
	}
	if s.metrics != nil {
		s.metrics.RecordMountApplyOutcome(strings.ToLower(result.Outcome.String()))
	}
	return result
}

func (s *CommandService) applyMount(ctx context.Context, action Action) ApplyResult {
	breaker := s.breakerFor(action.MountPoint)

	result := ApplyResult{Action: action, Outcome: ApplyFailure, Diagnostic: "circuit open for this mount point"}
	err := breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		result = s.mountOnce(ctx, action)
		if result.Outcome == ApplyFailure {
			return pkgerrors.New(pkgerrors.CodeMountFailed, result.Diagnostic)
		}
		return nil
	})
	if err != nil && result.Outcome == ApplySuccess {
		result = ApplyResult{Action: action, Outcome: ApplyFailure, Diagnostic: err.Error()}
	}
	if result.Outcome == ApplyFailure && s.logger != nil {
		s.logger.Log(logging.LevelError, "mount.apply.failed", "mount/remount action failed",
			logging.F("mount_point", action.MountPoint), logging.F("reason", result.Diagnostic))
	}
	return result
}

func (s *CommandService) mountOnce(ctx context.Context, action Action) ApplyResult {
	options := s.options()
	if action.DesiredIdentity != "" {
		options += ",fsname=" + action.DesiredIdentity
	}
	args := []string{action.MountPayload, action.MountPoint, "-o", options}
	command := s.withPriorityWrapper(args)

	res := s.executor.Run(ctx, execx.Request{
		FileName:  command[0],
		Arguments: command[1:],
		Timeout:   s.config.CommandTimeout,
	})
	if res.Outcome != execx.Success {
		return ApplyResult{Action: action, Outcome: ApplyFailure, Diagnostic: "mount command failed: " + res.Outcome.String() + " " + res.Stderr}
	}

	if !s.checkReady(ctx, action.MountPoint) {
		return ApplyResult{Action: action, Outcome: ApplyFailure, Diagnostic: "mount point failed readiness check"}
	}
	return ApplyResult{Action: action, Outcome: ApplySuccess}
}

func (s *CommandService) applyRemount(ctx context.Context, action Action) ApplyResult {
	unmountRes := s.executor.Run(ctx, execx.Request{
		FileName:  s.config.FusermountBinary,
		Arguments: []string{"-u", "-z", action.MountPoint},
		Timeout:   s.config.CommandTimeout,
	})
	if unmountRes.Outcome != execx.Success {
		return ApplyResult{Action: action, Outcome: ApplyFailure, Diagnostic: "lazy unmount failed: " + unmountRes.Outcome.String() + " " + unmountRes.Stderr}
	}
	return s.applyMount(ctx, action)
}

func (s *CommandService) applyUnmount(ctx context.Context, action Action) ApplyResult {
	var result ApplyResult
	err := s.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		result = s.unmountOnce(ctx, action)
		if result.Outcome == ApplyBusy {
			return pkgerrors.NewRetryable(pkgerrors.CodeMountBusy, result.Diagnostic)
		}
		return nil
	})
	if err != nil && result.Outcome == ApplyBusy {
		return result
	}
	return result
}

func (s *CommandService) unmountOnce(ctx context.Context, action Action) ApplyResult {
	res := s.executor.Run(ctx, execx.Request{
		FileName:  s.config.FusermountBinary,
		Arguments: []string{"-u", action.MountPoint},
		Timeout:   s.config.CommandTimeout,
	})
	switch {
	case res.Outcome == execx.Success:
		return ApplyResult{Action: action, Outcome: ApplySuccess}
	case isBusy(res.Stderr):
		return ApplyResult{Action: action, Outcome: ApplyBusy, Diagnostic: "mount point busy"}
	default:
		return ApplyResult{Action: action, Outcome: ApplyFailure, Diagnostic: "unmount failed: " + res.Outcome.String() + " " + res.Stderr}
	}
}

func isBusy(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "busy") || strings.Contains(lower, "ebusy")
}

// checkReady confirms the mount point appears in a fresh findmnt sample
// as a mergerfs mount and that a bounded directory listing succeeds. A
// "Transport endpoint is not connected" error or a listing timeout
// signals failure, not success.
func (s *CommandService) checkReady(ctx context.Context, mountPoint string) bool {
	snapshotSvc := NewSnapshotService(s.executor, s.config.FindmntBinary, s.config.ReadinessTimeout)
	snapshot := snapshotSvc.Capture(ctx)

	found := false
	for _, e := range snapshot.Entries {
		if e.MountPoint == mountPoint {
			found = true
			break
		}
	}
	if !found {
		return false
	}

	res := s.executor.Run(ctx, execx.Request{
		FileName:  "ls",
		Arguments: []string{"-A", mountPoint},
		Timeout:   s.config.ReadinessTimeout,
	})
	if res.Outcome != execx.Success {
		return false
	}
	if strings.Contains(res.Stderr, "Transport endpoint is not connected") {
		return false
	}
	return true
}

func (s *CommandService) options() string {
	base := s.config.MergerfsOptionsBase
	if !strings.Contains(base, "threads=") {
		if base != "" {
			base += ","
		}
		base += "threads=1"
	}
	return base
}

func (s *CommandService) withPriorityWrapper(args []string) []string {
	if len(s.config.HighPriorityWrappers) == 0 {
		return append([]string{s.config.MergerfsBinary}, args...)
	}
	wrapped := make([]string, 0, len(s.config.HighPriorityWrappers)+1+len(args))
	wrapped = append(wrapped, s.config.HighPriorityWrappers...)
	wrapped = append(wrapped, s.config.MergerfsBinary)
	wrapped = append(wrapped, args...)
	return wrapped
}

// ApplyConsecutive applies actions in order, aborting the remainder of
// the pass after maxConsecutiveMountFailures consecutive Mount/Remount
// failures (fail-fast). Returns every result produced before the abort.
func (s *CommandService) ApplyConsecutive(ctx context.Context, actions []Action, maxConsecutiveMountFailures int) []ApplyResult {
	results := make([]ApplyResult, 0, len(actions))
	consecutiveFailures := 0

	for _, action := range actions {
		select {
		case <-ctx.Done():
			return results
		default:
		}

		result := s.Apply(ctx, action)
		results = append(results, result)

		if action.Kind != Mount && action.Kind != Remount {
			continue
		}
		if result.Outcome == ApplyFailure {
			consecutiveFailures++
			if maxConsecutiveMountFailures > 0 && consecutiveFailures >= maxConsecutiveMountFailures {
				break
			}
		} else {
			consecutiveFailures = 0
		}
	}
	return results
}

// ClassifyPassOutcome implements the pass-outcome classification: all
// Success → Success; any Busy with no Failure → Busy; a mixture with a
// non-busy Failure → Mixed; all Failure → Failure.
func ClassifyPassOutcome(results []ApplyResult) PassOutcome {
	if len(results) == 0 {
		return PassSuccess
	}

	var busies, failures int
	for _, r := range results {
		switch r.Outcome {
		case ApplyBusy:
			busies++
		case ApplyFailure:
			failures++
		}
	}

	switch {
	case failures == 0 && busies == 0:
		return PassSuccess
	case failures == 0 && busies > 0:
		return PassBusy
	case failures == len(results):
		return PassFailure
	default:
		return PassMixed
	}
}
