// Package workflow drives one full merge pass: volume discovery, canonical
// title resolution, per-title branch planning and staging, mount snapshot
// and reconciliation, and ordered action application.
package workflow

import (
	"context"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"

	"github.com/mangamerged/mangamerged/internal/branch"
	"github.com/mangamerged/mangamerged/internal/catalog"
	"github.com/mangamerged/mangamerged/internal/mountsvc"
	"github.com/mangamerged/mangamerged/internal/pathutil"
	"github.com/mangamerged/mangamerged/internal/priority"
	"github.com/mangamerged/mangamerged/internal/volumes"
	"github.com/mangamerged/mangamerged/pkg/logging"
)

// Outcome classifies how one merge pass concluded.
type Outcome int

const (
	Success Outcome = iota
	NoActions
	Busy
	Mixed
	Failure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "Success"
	case NoActions:
		return "NoActions"
	case Busy:
		return "Busy"
	case Mixed:
		return "Mixed"
	case Failure:
		return "Failure"
	default:
		return "Unknown"
	}
}

// Config names the filesystem roots and tunables one merge pass needs.
type Config struct {
	SourcesRoot                 string
	OverrideRoot                string
	MergedRoot                  string
	BranchLinksRoot             string
	MaxConsecutiveMountFailures int
}

// Snapshotter captures the current mergerfs mount table.
type Snapshotter interface {
	Capture(ctx context.Context) mountsvc.Snapshot
}

// Applier executes reconciliation actions against the mount table.
type Applier interface {
	ApplyConsecutive(ctx context.Context, actions []mountsvc.Action, maxConsecutiveMountFailures int) []mountsvc.ApplyResult
}

// Metrics is the narrow observability capability the workflow reports
// planned reconciliation actions through.
type Metrics interface {
	RecordReconcileAction(kind string)
}

// Workflow runs one merge pass end to end.
type Workflow struct {
	config   Config
	catalog  *catalog.Catalog
	priority *priority.Service
	snapshot Snapshotter
	applier  Applier
	metrics  Metrics
	logger   logging.Logger
}

// New builds a Workflow. metrics may be nil.
func New(config Config, cat *catalog.Catalog, prio *priority.Service, snapshot Snapshotter, applier Applier, metrics Metrics, logger logging.Logger) *Workflow {
	return &Workflow{config: config, catalog: cat, priority: prio, snapshot: snapshot, applier: applier, metrics: metrics, logger: logger}
}

// Result summarizes one merge pass.
type Result struct {
	Outcome        Outcome
	TitlesPlanned  int
	ActionsApplied int
	Warnings       []string
}

// Run executes one merge pass's seven steps, honoring ctx cancellation at
// each step boundary.
func (w *Workflow) Run(ctx context.Context) (Result, error) {
	discovery := volumes.Discover(w.config.SourcesRoot, w.config.OverrideRoot)

	if len(discovery.SourceVolumePaths) == 0 && len(discovery.OverrideVolumePaths) == 0 {
		w.logDiscoveryWarnings(discovery.Warnings)
		return Result{Outcome: NoActions, Warnings: discovery.Warnings}, nil
	}
	if err := ctx.Err(); err != nil {
		return Result{Outcome: Failure, Warnings: discovery.Warnings}, err
	}

	canonicalTitles, err := w.collectCanonicalTitles(discovery)
	if err != nil {
		return Result{Outcome: Failure, Warnings: discovery.Warnings}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{Outcome: Failure, Warnings: discovery.Warnings}, err
	}

	// Each title's plan is independent of every other title's, so this
	// fans out one goroutine per title rather than a plain loop.
	plans := make([]branch.Plan, len(canonicalTitles))
	var planMu sync.Mutex
	var planErrs error
	var planWG conc.WaitGroup
	for i, title := range canonicalTitles {
		i, title := i, title
		planWG.Go(func() {
			equivalents, ok := w.catalog.TryGetEquivalentTitles(title)
			if !ok {
				equivalents = []string{title}
			}
			plan, err := branch.ComputePlan(branch.Input{
				CanonicalTitle:      title,
				EquivalentTitles:    equivalents,
				SourceVolumePaths:   discovery.SourceVolumePaths,
				OverrideVolumePaths: discovery.OverrideVolumePaths,
				BranchLinksRoot:     w.config.BranchLinksRoot,
				Priority:            w.priority,
			}, pathutil.Exists)
			if err != nil {
				planMu.Lock()
				planErrs = multierr.Append(planErrs, err)
				planMu.Unlock()
				return
			}
			plans[i] = plan
		})
	}
	planWG.Wait()
	if planErrs != nil {
		return Result{Outcome: Failure}, planErrs
	}

	var stageMu sync.Mutex
	var stageErrs error
	active := make(map[string]bool, len(plans))
	var stageWG conc.WaitGroup
	for _, plan := range plans {
		plan := plan
		stageWG.Go(func() {
			diagnostics, err := branch.StageBranchLinks(plan)
			stageMu.Lock()
			defer stageMu.Unlock()
			if err != nil {
				stageErrs = multierr.Append(stageErrs, err)
				return
			}
			for _, d := range diagnostics {
				w.logWarning("branch.stage.diagnostic", d)
			}
			active[plan.BranchDirectoryPath] = true
		})
	}
	stageWG.Wait()
	if _, err := branch.CleanupStaleBranchDirectories(w.config.BranchLinksRoot, active); err != nil {
		stageErrs = multierr.Append(stageErrs, err)
	}
	if stageErrs != nil {
		return Result{Outcome: Failure, TitlesPlanned: len(plans)}, stageErrs
	}
	if err := ctx.Err(); err != nil {
		return Result{Outcome: Failure, TitlesPlanned: len(plans)}, err
	}

	snapshot := w.snapshot.Capture(ctx)
	desired := make([]mountsvc.DesiredMount, 0, len(plans))
	for _, plan := range plans {
		desired = append(desired, mountsvc.DesiredMount{
			MountPoint:      filepath.Join(w.config.MergedRoot, plan.CanonicalTitle),
			DesiredIdentity: plan.DesiredIdentity,
			MountPayload:    plan.BranchSpecification,
		})
	}
	actions := mountsvc.Reconcile(desired, snapshot, w.config.MergedRoot)
	if w.metrics != nil {
		for _, action := range actions {
			w.metrics.RecordReconcileAction(action.Kind.String())
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{Outcome: Failure, TitlesPlanned: len(plans)}, err
	}

	results := w.applier.ApplyConsecutive(ctx, actions, w.config.MaxConsecutiveMountFailures)
	passOutcome := mountsvc.ClassifyPassOutcome(results)

	return Result{
		Outcome:        fromPassOutcome(passOutcome, len(results), len(actions)),
		TitlesPlanned:  len(plans),
		ActionsApplied: len(results),
		Warnings:       append(discovery.Warnings, snapshot.Warnings...),
	}, nil
}

func fromPassOutcome(p mountsvc.PassOutcome, applied, planned int) Outcome {
	if applied < planned {
		if p == mountsvc.PassSuccess {
			return Mixed
		}
	}
	switch p {
	case mountsvc.PassSuccess:
		return Success
	case mountsvc.PassBusy:
		return Busy
	case mountsvc.PassMixed:
		return Mixed
	case mountsvc.PassFailure:
		return Failure
	default:
		return Failure
	}
}

// collectCanonicalTitles builds the deduplicated canonical-title set: the
// union of every source volume's direct children (resolved through the
// catalog) and every override volume's direct children that already
// exist, deduplicated by normalized-title key.
func (w *Workflow) collectCanonicalTitles(discovery volumes.Result) ([]string, error) {
	seen := make(map[string]bool)
	var titles []string

	addChildren := func(volumePaths []string) error {
		for _, volumePath := range volumePaths {
			children, err := pathutil.ListDirNames(volumePath)
			if err != nil {
				return err
			}
			for _, child := range children {
				canonical := w.catalog.ResolveCanonicalOrInput(child)
				key := w.catalog.NormalizedKey(canonical)
				if seen[key] {
					continue
				}
				seen[key] = true
				titles = append(titles, canonical)
			}
		}
		return nil
	}

	if err := addChildren(discovery.SourceVolumePaths); err != nil {
		return nil, err
	}
	if err := addChildren(discovery.OverrideVolumePaths); err != nil {
		return nil, err
	}

	sort.Strings(titles)
	return titles, nil
}

func (w *Workflow) logDiscoveryWarnings(warnings []string) {
	for _, warning := range warnings {
		w.logWarning("volume.discovery.warning", warning)
	}
}

func (w *Workflow) logWarning(eventID, message string) {
	if w.logger == nil {
		return
	}
	w.logger.Log(logging.LevelWarning, eventID, message)
}
