// Package trigger implements the tick-driven orchestrator that ties the
// inotify reader, the rename queue processor, and the merge-scan
// coalescer together into one single-threaded cooperative loop.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/mangamerged/mangamerged/internal/coalescer"
	"github.com/mangamerged/mangamerged/internal/pathutil"
	"github.com/mangamerged/mangamerged/internal/rename"
	"github.com/mangamerged/mangamerged/internal/watch"
	"github.com/mangamerged/mangamerged/pkg/logging"
)

// RenameProcessor is the narrow capability the pipeline depends on from
// internal/rename.
type RenameProcessor interface {
	EnqueueChapterPath(path string) bool
	EnqueueChaptersUnderSourcePath(sourcePath string)
	EnqueueChaptersUnderMangaPath(mangaPath string)
	ProcessOnce() rename.ProcessResult
	RescanAndEnqueue() rename.RescanResult
}

// Coalescer is the narrow capability the pipeline depends on from
// internal/coalescer.
type Coalescer interface {
	RequestScan(reason string, force bool)
	DispatchPending(ctx context.Context, now time.Time) (coalescer.Outcome, error)
}

// Config controls the pipeline's timing.
type Config struct {
	SourcesRoot          string
	OverrideRoot         string
	InotifyPollInterval  time.Duration
	RenamePollInterval   time.Duration
	RenameRescanInterval time.Duration
	MergeInterval        time.Duration
	StartupRescanEnabled bool
}

// Pipeline is the sole owner of its mutable seen-source/seen-manga state
// and drives one tick of work at a time; it is not safe for concurrent
// Tick calls.
type Pipeline struct {
	config    Config
	poller    watch.Poller
	processor RenameProcessor
	coalescer Coalescer
	logger    logging.Logger

	seenSources      map[string]bool
	seenSourceManga  map[string]bool
	startupRescanRan bool

	nextRenameProcess        time.Time
	nextRenameRescan         time.Time
	nextMergeIntervalRequest time.Time
	initialized              bool
}

// New builds a Pipeline.
func New(config Config, poller watch.Poller, processor RenameProcessor, c Coalescer, logger logging.Logger) *Pipeline {
	return &Pipeline{
		config:          config,
		poller:          poller,
		processor:       processor,
		coalescer:       c,
		logger:          logger,
		seenSources:     make(map[string]bool),
		seenSourceManga: make(map[string]bool),
	}
}

// TickSummary reports what happened during one Tick call, for logging
// and tests.
type TickSummary struct {
	PollOutcome     watch.Outcome
	EventCount      int
	RenamePasses    int
	RescanPasses    int
	DispatchOutcome coalescer.Outcome
}

// Tick runs one full iteration of the pipeline's order of work. now is
// the wall-clock time to schedule against; ctx carries cooperative
// cancellation.
func (p *Pipeline) Tick(ctx context.Context, now time.Time) (TickSummary, error) {
	if !p.initialized {
		p.nextRenameProcess = now
		p.nextRenameRescan = now.Add(p.config.RenameRescanInterval)
		p.nextMergeIntervalRequest = now.Add(p.config.MergeInterval)
		p.initialized = true
	}

	var summary TickSummary

	if err := ctx.Err(); err != nil {
		return summary, err
	}

	result, err := p.poller.Poll(ctx, []string{p.config.SourcesRoot, p.config.OverrideRoot}, p.config.InotifyPollInterval)
	if err != nil {
		return summary, err
	}
	summary.PollOutcome = result.Outcome
	summary.EventCount = len(result.Events)

	for _, w := range result.Warnings {
		if p.logger != nil {
			p.logger.Log(logging.LevelWarning, "watcher.inotify.warning", w)
		}
	}

	for _, ev := range result.Events {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		p.routeEvent(ev)
	}

	if p.config.StartupRescanEnabled && !p.startupRescanRan {
		p.processor.RescanAndEnqueue()
		p.startupRescanRan = true
	}

	for now.After(p.nextRenameProcess) || now.Equal(p.nextRenameProcess) {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		p.processor.ProcessOnce()
		summary.RenamePasses++
		p.nextRenameProcess = p.nextRenameProcess.Add(p.config.RenamePollInterval)
	}

	for now.After(p.nextRenameRescan) || now.Equal(p.nextRenameRescan) {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		p.processor.RescanAndEnqueue()
		summary.RescanPasses++
		p.nextRenameRescan = p.nextRenameRescan.Add(p.config.RenameRescanInterval)
	}

	if now.After(p.nextMergeIntervalRequest) || now.Equal(p.nextMergeIntervalRequest) {
		p.coalescer.RequestScan("interval elapsed", false)
		p.nextMergeIntervalRequest = p.nextMergeIntervalRequest.Add(p.config.MergeInterval)
	}

	if err := ctx.Err(); err != nil {
		return summary, err
	}

	dispatchOutcome, err := p.coalescer.DispatchPending(ctx, now)
	summary.DispatchOutcome = dispatchOutcome
	if err != nil {
		return summary, err
	}

	if p.logger != nil {
		p.logger.Log(logging.LevelDebug, "watcher.tick.summary", "tick completed",
			logging.F("poll_outcome", summary.PollOutcome.String()),
			logging.F("event_count", summary.EventCount),
			logging.F("rename_passes", summary.RenamePasses),
			logging.F("rescan_passes", summary.RescanPasses),
			logging.F("dispatch_outcome", summary.DispatchOutcome.String()),
		)
	}

	return summary, nil
}

func (p *Pipeline) routeEvent(ev watch.Event) {
	if rel, ok := pathutil.TryRelativize(p.config.OverrideRoot, ev.Path); ok {
		segments := pathutil.SplitSegments(rel)
		if len(segments) == 0 {
			return
		}
		title := segments[0]
		if ev.Mask.Has(watch.CloseWrite) || ev.Mask.Has(watch.Attrib) || ev.Mask.Has(watch.Create) || ev.Mask.Has(watch.MovedTo) {
			p.coalescer.RequestScan(fmt.Sprintf("override-force:%s", title), true)
		} else {
			p.coalescer.RequestScan(fmt.Sprintf("override:%s", title), false)
		}
		return
	}

	rel, ok := pathutil.TryRelativize(p.config.SourcesRoot, ev.Path)
	if !ok {
		return
	}
	if !ev.IsDirectory {
		return
	}
	if ev.Mask.Has(watch.Delete) || ev.Mask.Has(watch.MovedFrom) {
		return
	}

	segments := pathutil.SplitSegments(rel)
	switch len(segments) {
	case 1:
		source := segments[0]
		p.seenSources[source] = true
		p.processor.EnqueueChaptersUnderSourcePath(ev.Path)
		p.coalescer.RequestScan(fmt.Sprintf("new-source:%s", source), false)
	case 2:
		source, manga := segments[0], segments[1]
		key := source + "/" + manga
		p.seenSourceManga[key] = true
		p.processor.EnqueueChaptersUnderMangaPath(ev.Path)
		p.coalescer.RequestScan(fmt.Sprintf("new-manga:%s", key), false)
	case 3:
		source, manga := segments[0], segments[1]
		key := source + "/" + manga
		p.processor.EnqueueChapterPath(ev.Path)
		if !p.seenSources[source] || !p.seenSourceManga[key] {
			p.coalescer.RequestScan(fmt.Sprintf("chapter-implied-new:%s", key), false)
		} else if ev.Mask.Has(watch.Create) || ev.Mask.Has(watch.MovedTo) {
			p.coalescer.RequestScan(fmt.Sprintf("chapter-newdir:%s", key), false)
		}
	default:
		// depth > 3: ignore.
	}
}
