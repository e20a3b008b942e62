// Command mangamerged runs the manga-library merge daemon: it watches a
// set of source volumes and an override volume for changes, keeps
// chapter directory names sanitized, and maintains one mergerfs mount
// per canonical title under the merged root.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/mangamerged/mangamerged/internal/catalog"
	"github.com/mangamerged/mangamerged/internal/coalescer"
	"github.com/mangamerged/mangamerged/internal/config"
	"github.com/mangamerged/mangamerged/internal/diagnostics"
	"github.com/mangamerged/mangamerged/internal/execx"
	"github.com/mangamerged/mangamerged/internal/health"
	"github.com/mangamerged/mangamerged/internal/metrics"
	"github.com/mangamerged/mangamerged/internal/mountsvc"
	"github.com/mangamerged/mangamerged/internal/pathutil"
	"github.com/mangamerged/mangamerged/internal/priority"
	"github.com/mangamerged/mangamerged/internal/rename"
	"github.com/mangamerged/mangamerged/internal/supervisor"
	"github.com/mangamerged/mangamerged/internal/trigger"
	"github.com/mangamerged/mangamerged/internal/watch"
	"github.com/mangamerged/mangamerged/internal/workflow"
	"github.com/mangamerged/mangamerged/pkg/logging"
	"github.com/mangamerged/mangamerged/pkg/retry"
)

func main() {
	configRoot := "/etc/mangamerged"
	if len(os.Args) > 1 {
		configRoot = os.Args[1]
	}

	if err := run(configRoot); err != nil {
		fmt.Fprintln(os.Stderr, "mangamerged:", err)
		os.Exit(1)
	}
}

func run(configRoot string) error {
	settings, err := config.LoadSettings(configRoot)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("validate settings: %w", err)
	}

	sceneTags, err := config.LoadSceneTags(configRoot)
	if err != nil {
		return fmt.Errorf("load scene tags: %w", err)
	}
	equivalents, err := config.LoadMangaEquivalents(configRoot)
	if err != nil {
		return fmt.Errorf("load manga equivalents: %w", err)
	}
	sourcePriority, err := config.LoadSourcePriority(configRoot)
	if err != nil {
		return fmt.Errorf("load source priority: %w", err)
	}

	logLevel, err := logging.ParseLevel(settings.Logging.Level)
	if err != nil {
		logLevel = logging.LevelNormal
	}
	logFormat := logging.FormatText
	if settings.Logging.Format == "json" {
		logFormat = logging.FormatJSON
	}
	logger, err := logging.New(&logging.Config{
		Level:         logLevel,
		Output:        os.Stdout,
		Format:        logFormat,
		IncludeCaller: true,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Close()

	lock, err := supervisor.AcquireInstanceLock(filepath.Join(configRoot, "mangamerged.lock"))
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	defer lock.Release()

	collector, err := metrics.NewCollector(metrics.DefaultConfig())
	if err != nil {
		return fmt.Errorf("build metrics collector: %w", err)
	}

	checker, err := health.NewChecker(&health.Config{
		Enabled:       true,
		CheckInterval: 30 * time.Second,
		Timeout:       5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("build health checker: %w", err)
	}

	tickInterval := time.Duration(settings.Scan.InotifyPollSeconds) * time.Second
	var lastTickUnixNano atomic.Int64
	lastTickUnixNano.Store(time.Now().UnixNano())

	cat := catalog.New(sceneTags, equivalents)
	prio := priority.New(sourcePriority)

	queue := rename.NewQueue()
	renameProcessor := rename.NewProcessor(settings.Paths.SourcesRoot, rename.Config{
		ExcludedSources:      settings.Rename.ExcludedSources,
		Delay:                time.Duration(settings.Rename.DelaySeconds) * time.Second,
		RescanWindow:         time.Duration(settings.Rename.RescanSeconds) * time.Second,
		QuietWindow:          time.Duration(settings.Rename.QuietSeconds) * time.Second,
		MaxCollisionAttempts: settings.Rename.MaxCollisionAttempts,
	}, queue, rename.OSFileSystem{}, logger, collector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	executor := execx.OSExecutor{}
	snapshotService := mountsvc.NewSnapshotService(executor, settings.Runtime.FindmntBinary, settings.Runtime.CommandTimeout())
	commandService := mountsvc.NewCommandService(executor, mountsvc.CommandServiceConfig{
		MergerfsBinary:       settings.Runtime.MergerfsBinary,
		FindmntBinary:        settings.Runtime.FindmntBinary,
		FusermountBinary:     settings.Runtime.FusermountBinary,
		MergerfsOptionsBase:  settings.Runtime.MergerfsOptionsBase,
		HighPriorityWrappers: settings.Runtime.HighPriorityWrappers,
		CommandTimeout:       settings.Runtime.CommandTimeout(),
		ReadinessTimeout:     settings.Runtime.ReadinessTimeout(),
	}, retry.New(retry.DefaultConfig()), logger, collector)

	staleAfter := 3 * tickInterval
	if err := checker.RegisterCheck("watch.tick.liveness", "the watch/rename/merge tick loop is running on schedule",
		health.CategoryWatch, health.PriorityCritical, func(ctx context.Context) error {
			elapsed := time.Since(time.Unix(0, lastTickUnixNano.Load()))
			if elapsed > staleAfter {
				return fmt.Errorf("no tick observed in %s, want < %s", elapsed, staleAfter)
			}
			return nil
		}); err != nil {
		return fmt.Errorf("register watch liveness check: %w", err)
	}
	if err := checker.RegisterCheck("mount.snapshot.reachable", "the mergerfs mount table is readable through findmnt",
		health.CategoryMount, health.PriorityHigh, func(ctx context.Context) error {
			snapshot := snapshotService.Capture(ctx)
			if snapshot.HasDegradedVisibility() {
				return fmt.Errorf("mount table snapshot reports degraded visibility")
			}
			return nil
		}); err != nil {
		return fmt.Errorf("register mount reachability check: %w", err)
	}
	if err := checker.Start(ctx); err != nil {
		return fmt.Errorf("start health checker: %w", err)
	}
	defer checker.Stop()

	mergeWorkflow := workflow.New(workflow.Config{
		SourcesRoot:                 settings.Paths.SourcesRoot,
		OverrideRoot:                settings.Paths.OverrideRoot,
		MergedRoot:                  settings.Paths.MergedRoot,
		BranchLinksRoot:             settings.Paths.BranchLinksRoot,
		MaxConsecutiveMountFailures: settings.Scan.MaxConsecutiveMountFailures,
	}, cat, prio, snapshotService, commandService, collector, logger)

	mergeHandler := func(ctx context.Context, reason string, force bool) (coalescer.HandlerResult, error) {
		result, err := mergeWorkflow.Run(ctx)
		if err != nil {
			return coalescer.HandlerFailure, err
		}
		switch result.Outcome {
		case workflow.Success, workflow.NoActions:
			return coalescer.HandlerSuccess, nil
		case workflow.Busy:
			return coalescer.HandlerBusy, nil
		case workflow.Mixed:
			return coalescer.HandlerMixed, nil
		default:
			return coalescer.HandlerFailure, nil
		}
	}

	scanCoalescer := coalescer.New(coalescer.Config{
		MinInterval: time.Duration(settings.Scan.MinIntervalSeconds) * time.Second,
		RetryDelay:  time.Duration(settings.Scan.RetryDelaySeconds) * time.Second,
	}, mergeHandler, logger, collector)

	pipeline := trigger.New(trigger.Config{
		SourcesRoot:          settings.Paths.SourcesRoot,
		OverrideRoot:         settings.Paths.OverrideRoot,
		InotifyPollInterval:  tickInterval,
		RenamePollInterval:   settings.Rename.PollInterval(),
		RenameRescanInterval: time.Duration(settings.Rename.RescanSeconds) * time.Second,
		MergeInterval:        time.Duration(settings.Scan.MergeIntervalSeconds) * time.Second,
		StartupRescanEnabled: settings.Rename.StartupRescanEnabled,
	}, watch.NewReader(), renameProcessor, scanCoalescer, logger)

	if settings.Diagnostics.Enabled {
		diagConfig := diagnostics.DefaultConfig()
		if settings.Diagnostics.Address != "" {
			diagConfig.Address = settings.Diagnostics.Address
		}
		diagServer := diagnostics.NewServer(diagConfig, checker, collector, logger, "dev")
		diagServer.StartBackground()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			diagServer.Shutdown(shutdownCtx)
		}()
	}

	sup := supervisor.New(supervisor.Config{
		TickInterval: tickInterval,
		StopTimeout:  settings.Shutdown.StopTimeout(),
	}, func(ctx context.Context, now time.Time) error {
		_, err := pipeline.Tick(ctx, now)
		lastTickUnixNano.Store(now.UnixNano())
		return err
	}, logger)

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}

	sup.Wait()

	if settings.Shutdown.UnmountOnStop {
		unmountCtx, unmountCancel := context.WithTimeout(context.Background(), settings.Shutdown.StopTimeout())
		defer unmountCancel()
		unmountManagedMounts(unmountCtx, snapshotService, commandService, settings.Paths.MergedRoot, logger)
	}

	return nil
}

// unmountManagedMounts runs a best-effort unmount pass over every mount
// point the daemon manages (those under mergedRoot) using a fresh mount
// table snapshot. It skips entirely when the snapshot's visibility is
// degraded, since acting on an untrustworthy mount table could unmount
// the wrong targets. Each unmount honors commandService's configured
// per-command timeout.
func unmountManagedMounts(ctx context.Context, snapshotService *mountsvc.SnapshotService, commandService *mountsvc.CommandService, mergedRoot string, logger logging.Logger) {
	snapshot := snapshotService.Capture(ctx)
	if snapshot.HasDegradedVisibility() {
		logger.Log(logging.LevelWarning, "shutdown.unmount.skipped", "skipping unmount-on-stop pass: mount table snapshot is degraded")
		return
	}

	for _, entry := range snapshot.Entries {
		if _, managed := pathutil.TryRelativize(mergedRoot, entry.MountPoint); !managed {
			continue
		}
		result := commandService.Apply(ctx, mountsvc.Action{Kind: mountsvc.Unmount, MountPoint: entry.MountPoint})
		if result.Outcome != mountsvc.ApplySuccess {
			logger.Log(logging.LevelWarning, "shutdown.unmount.failed", "unmount-on-stop failed for a managed mount point",
				logging.F("mount_point", entry.MountPoint), logging.F("reason", result.Diagnostic))
		}
	}
}
