package mountsvc

import (
	"context"
	"testing"
	"time"

	"github.com/mangamerged/mangamerged/internal/execx"
	"github.com/mangamerged/mangamerged/pkg/retry"
)

type scriptedExecutor struct {
	results []execx.Result
	calls   []execx.Request
}

func (s *scriptedExecutor) Run(ctx context.Context, req execx.Request) execx.Result {
	s.calls = append(s.calls, req)
	if len(s.results) == 0 {
		return execx.Result{Outcome: execx.Success}
	}
	result := s.results[0]
	s.results = s.results[1:]
	return result
}

func newTestCommandService(executor execx.Executor) *CommandService {
	return NewCommandService(executor, CommandServiceConfig{
		MergerfsBinary:   "mergerfs",
		FindmntBinary:    "findmnt",
		FusermountBinary: "fusermount",
		CommandTimeout:   time.Second,
		ReadinessTimeout: time.Second,
	}, retry.New(retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}), nil, nil)
}

func TestApplyMountSucceedsWhenReady(t *testing.T) {
	executor := &scriptedExecutor{results: []execx.Result{
		{Outcome: execx.Success}, // mount command
		{Outcome: execx.Success, Stdout: `TARGET="/merged/One Piece" FSTYPE="fuse.mergerfs" SOURCE="mm-aaa"`}, // findmnt readiness sample
		{Outcome: execx.Success}, // ls -A
	}}
	svc := newTestCommandService(executor)

	result := svc.Apply(context.Background(), Action{Kind: Mount, MountPoint: "/merged/One Piece", MountPayload: "/src1:/src2"})

	if result.Outcome != ApplySuccess {
		t.Fatalf("Outcome = %v, Diagnostic = %q, want Success", result.Outcome, result.Diagnostic)
	}
}

func TestApplyMountFailsWhenNotReady(t *testing.T) {
	executor := &scriptedExecutor{results: []execx.Result{
		{Outcome: execx.Success},                                    // mount command
		{Outcome: execx.Success, Stdout: `TARGET="/other" FSTYPE="fuse.mergerfs" SOURCE="mm-zzz"`}, // readiness sample without our mount
	}}
	svc := newTestCommandService(executor)

	result := svc.Apply(context.Background(), Action{Kind: Mount, MountPoint: "/merged/One Piece", MountPayload: "/src1:/src2"})

	if result.Outcome != ApplyFailure {
		t.Fatalf("Outcome = %v, want Failure", result.Outcome)
	}
}

func TestApplyMountFailsWhenCommandFails(t *testing.T) {
	executor := &scriptedExecutor{results: []execx.Result{
		{Outcome: execx.NonZeroExit, Stderr: "some mergerfs error"},
	}}
	svc := newTestCommandService(executor)

	result := svc.Apply(context.Background(), Action{Kind: Mount, MountPoint: "/merged/One Piece", MountPayload: "/src1:/src2"})

	if result.Outcome != ApplyFailure {
		t.Fatalf("Outcome = %v, want Failure", result.Outcome)
	}
}

func TestApplyRemountLazyUnmountsThenMounts(t *testing.T) {
	executor := &scriptedExecutor{results: []execx.Result{
		{Outcome: execx.Success},                                                                    // fusermount -u -z
		{Outcome: execx.Success},                                                                    // mount command
		{Outcome: execx.Success, Stdout: `TARGET="/merged/One Piece" FSTYPE="fuse.mergerfs" SOURCE="mm-new"`}, // readiness findmnt
		{Outcome: execx.Success},                                                                    // ls -A
	}}
	svc := newTestCommandService(executor)

	result := svc.Apply(context.Background(), Action{Kind: Remount, MountPoint: "/merged/One Piece", MountPayload: "/src1", DesiredIdentity: "mm-new"})

	if result.Outcome != ApplySuccess {
		t.Fatalf("Outcome = %v, Diagnostic = %q, want Success", result.Outcome, result.Diagnostic)
	}
	if len(executor.calls) != 4 {
		t.Fatalf("len(calls) = %d, want 4 (lazy unmount, mount, findmnt, ls)", len(executor.calls))
	}
}

func TestApplyUnmountClassifiesBusy(t *testing.T) {
	executor := &scriptedExecutor{results: []execx.Result{
		{Outcome: execx.NonZeroExit, Stderr: "target is busy (EBUSY)"},
		{Outcome: execx.NonZeroExit, Stderr: "target is busy (EBUSY)"},
	}}
	svc := newTestCommandService(executor)

	result := svc.Apply(context.Background(), Action{Kind: Unmount, MountPoint: "/merged/Stale"})

	if result.Outcome != ApplyBusy {
		t.Fatalf("Outcome = %v, want Busy", result.Outcome)
	}
}

func TestApplyUnmountSucceeds(t *testing.T) {
	executor := &scriptedExecutor{results: []execx.Result{{Outcome: execx.Success}}}
	svc := newTestCommandService(executor)

	result := svc.Apply(context.Background(), Action{Kind: Unmount, MountPoint: "/merged/Stale"})

	if result.Outcome != ApplySuccess {
		t.Fatalf("Outcome = %v, want Success", result.Outcome)
	}
}

type fakeMetrics struct {
	outcomes []string
}

func (f *fakeMetrics) RecordMountApplyOutcome(outcome string) {
	f.outcomes = append(f.outcomes, outcome)
}

func TestApplyRecordsMountApplyOutcomeMetric(t *testing.T) {
	executor := &scriptedExecutor{results: []execx.Result{{Outcome: execx.Success}}}
	svc := NewCommandService(executor, CommandServiceConfig{
		MergerfsBinary:   "mergerfs",
		FindmntBinary:    "findmnt",
		FusermountBinary: "fusermount",
		CommandTimeout:   time.Second,
		ReadinessTimeout: time.Second,
	}, retry.New(retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}), nil, &fakeMetrics{})
	metrics := svc.metrics.(*fakeMetrics)

	svc.Apply(context.Background(), Action{Kind: Unmount, MountPoint: "/merged/Stale"})

	if len(metrics.outcomes) != 1 || metrics.outcomes[0] != "success" {
		t.Fatalf("outcomes = %v, want [success]", metrics.outcomes)
	}
}

func TestOptionsAppendsThreadsWhenAbsent(t *testing.T) {
	svc := newTestCommandService(&scriptedExecutor{})
	svc.config.MergerfsOptionsBase = "ro,allow_other"

	got := svc.options()
	if got != "ro,allow_other,threads=1" {
		t.Fatalf("options() = %q, want ro,allow_other,threads=1", got)
	}
}

func TestOptionsLeavesExplicitThreadsAlone(t *testing.T) {
	svc := newTestCommandService(&scriptedExecutor{})
	svc.config.MergerfsOptionsBase = "threads=4"

	got := svc.options()
	if got != "threads=4" {
		t.Fatalf("options() = %q, want threads=4 unchanged", got)
	}
}

func TestWithPriorityWrapperPrependsConfiguredWrappers(t *testing.T) {
	svc := newTestCommandService(&scriptedExecutor{})
	svc.config.HighPriorityWrappers = []string{"ionice", "-c2"}

	got := svc.withPriorityWrapper([]string{"/payload", "/merged/Title", "-o", "ro"})

	want := []string{"ionice", "-c2", "mergerfs", "/payload", "/merged/Title", "-o", "ro"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestApplyConsecutiveAbortsAfterMaxMountFailures(t *testing.T) {
	executor := &scriptedExecutor{results: []execx.Result{
		{Outcome: execx.NonZeroExit, Stderr: "fail 1"},
		{Outcome: execx.NonZeroExit, Stderr: "fail 2"},
	}}
	svc := newTestCommandService(executor)

	actions := []Action{
		{Kind: Mount, MountPoint: "/merged/A", MountPayload: "/srcA"},
		{Kind: Mount, MountPoint: "/merged/B", MountPayload: "/srcB"},
		{Kind: Mount, MountPoint: "/merged/C", MountPayload: "/srcC"},
	}

	results := svc.ApplyConsecutive(context.Background(), actions, 2)

	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2 (abort after 2 consecutive failures)", len(results))
	}
}

func TestClassifyPassOutcome(t *testing.T) {
	cases := []struct {
		name    string
		results []ApplyResult
		want    PassOutcome
	}{
		{"all success", []ApplyResult{{Outcome: ApplySuccess}, {Outcome: ApplySuccess}}, PassSuccess},
		{"all busy", []ApplyResult{{Outcome: ApplyBusy}, {Outcome: ApplyBusy}}, PassBusy},
		{"all failure", []ApplyResult{{Outcome: ApplyFailure}, {Outcome: ApplyFailure}}, PassFailure},
		{"mixed success and failure", []ApplyResult{{Outcome: ApplySuccess}, {Outcome: ApplyFailure}}, PassMixed},
		{"empty", nil, PassSuccess},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyPassOutcome(tc.results); got != tc.want {
				t.Errorf("ClassifyPassOutcome(%s) = %v, want %v", tc.name, got, tc.want)
			}
		})
	}
}
