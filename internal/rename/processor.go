// Package rename implements the chapter-rename queue: a pure sanitizer
// (Sanitize), a thread-safe ordered queue store (Queue), and the
// processor that drives enqueue, rescan, and per-entry rename passes
// over it.
package rename

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mangamerged/mangamerged/internal/pathutil"
	"github.com/mangamerged/mangamerged/pkg/logging"
)

// Outcome classifies what happened to one queued entry during a
// process_once pass.
type Outcome int

const (
	Renamed Outcome = iota
	Unchanged
	DeferredMissing
	DroppedMissing
	DeferredNotReady
	DeferredNotQuiet
	CollisionSkipped
	MoveFailed
)

func (o Outcome) String() string {
	switch o {
	case Renamed:
		return "renamed"
	case Unchanged:
		return "unchanged"
	case DeferredMissing:
		return "deferred_missing"
	case DroppedMissing:
		return "dropped_missing"
	case DeferredNotReady:
		return "deferred_not_ready"
	case DeferredNotQuiet:
		return "deferred_not_quiet"
	case CollisionSkipped:
		return "collision_skipped"
	case MoveFailed:
		return "move_failed"
	default:
		return "unknown"
	}
}

// ProcessResult summarizes one process_once pass.
type ProcessResult struct {
	Counts          map[Outcome]int
	Processed       int
	RemainingQueued int
}

// RescanResult summarizes one rescan_and_enqueue pass.
type RescanResult struct {
	Enqueued int
	Skipped  int
	Warnings []string
}

// Config controls processor timing; values mirror config.RenameConfig.
type Config struct {
	ExcludedSources      []string
	Delay                time.Duration
	RescanWindow         time.Duration
	QuietWindow          time.Duration
	MaxCollisionAttempts int
}

// Metrics is the narrow recording capability the processor depends on.
type Metrics interface {
	RecordRenameOutcome(outcome string)
}

// Processor drives the rename queue's enqueue, rescan, and process
// passes.
type Processor struct {
	sourcesRoot string
	config      Config
	queue       *Queue
	fs          FileSystem
	logger      logging.Logger
	metrics     Metrics
	now         func() time.Time

	processMu sync.Mutex

	excluded map[string]bool
}

// NewProcessor builds a Processor rooted at sourcesRoot.
func NewProcessor(sourcesRoot string, config Config, queue *Queue, fs FileSystem, logger logging.Logger, metrics Metrics) *Processor {
	excluded := make(map[string]bool, len(config.ExcludedSources))
	for _, s := range config.ExcludedSources {
		excluded[strings.ToLower(strings.TrimSpace(s))] = true
	}
	return &Processor{
		sourcesRoot: sourcesRoot,
		config:      config,
		queue:       queue,
		fs:          fs,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
		excluded:    excluded,
	}
}

func (p *Processor) isExcludedSource(source string) bool {
	return p.excluded[strings.ToLower(strings.TrimSpace(source))]
}

// EnqueueChapterPath accepts only paths at depth 3 under the sources
// root (<source>/<manga>/<chapter>), rejecting excluded sources.
func (p *Processor) EnqueueChapterPath(path string) bool {
	rel, ok := pathutil.TryRelativize(p.sourcesRoot, path)
	if !ok {
		return false
	}
	segments := pathutil.SplitSegments(rel)
	if len(segments) != 3 {
		return false
	}
	if p.isExcludedSource(segments[0]) {
		return false
	}

	allowAt := p.now().Add(p.config.Delay).Unix()
	return p.queue.TryEnqueue(Entry{Path: pathutil.Normalize(path), AllowAt: allowAt})
}

// EnqueueChaptersUnderSourcePath enumerates depth-2 descendants of a
// newly-discovered source directory and enqueues each.
func (p *Processor) EnqueueChaptersUnderSourcePath(sourcePath string) {
	mangaDirs, err := p.fs.Children(sourcePath)
	if err != nil {
		return
	}
	for _, mangaDir := range mangaDirs {
		chapters, err := p.fs.Children(mangaDir)
		if err != nil {
			continue
		}
		for _, chapter := range chapters {
			p.EnqueueChapterPath(chapter)
		}
	}
}

// EnqueueChaptersUnderMangaPath enumerates depth-1 descendants of a
// newly-discovered manga directory and enqueues each.
func (p *Processor) EnqueueChaptersUnderMangaPath(mangaPath string) {
	chapters, err := p.fs.Children(mangaPath)
	if err != nil {
		return
	}
	for _, chapter := range chapters {
		p.EnqueueChapterPath(chapter)
	}
}

// ProcessOnce processes each queued entry in order under a lock, so
// passes never overlap. A concurrent enqueue that lands mid-pass is
// preserved: only entries visible in the committed queue at the time
// this pass replaces it are ever dropped.
func (p *Processor) ProcessOnce() ProcessResult {
	p.processMu.Lock()
	defer p.processMu.Unlock()

	result := ProcessResult{Counts: make(map[Outcome]int)}
	now := p.now()

	p.queue.Transform(func(snapshot []Entry) []Entry {
		kept := make([]Entry, 0, len(snapshot))
		for _, entry := range snapshot {
			outcome, keep := p.processEntry(entry, now)
			result.Counts[outcome]++
			result.Processed++
			if keep {
				kept = append(kept, entry)
			}
			if p.metrics != nil {
				p.metrics.RecordRenameOutcome(outcome.String())
			}
		}
		return kept
	})

	result.RemainingQueued = p.queue.Count()

	if result.Processed > 0 && p.logger != nil {
		p.logger.Log(logging.LevelNormal, "rename.queue.processed", "rename queue pass completed",
			logging.F("processed", result.Processed),
			logging.F("remaining_queued", result.RemainingQueued),
		)
	}

	return result
}

func (p *Processor) processEntry(entry Entry, now time.Time) (Outcome, bool) {
	if now.Unix() < entry.AllowAt {
		return DeferredNotReady, true
	}

	if !p.fs.Exists(entry.Path) {
		if now.Unix()-entry.AllowAt <= int64(p.config.RescanWindow.Seconds()) {
			return DeferredMissing, true
		}
		return DroppedMissing, false
	}

	if !p.isQuiet(entry.Path, now) {
		return DeferredNotQuiet, true
	}

	dir := filepath.Dir(entry.Path)
	base := filepath.Base(entry.Path)
	sanitized := Sanitize(base)
	target := filepath.Join(dir, sanitized)

	if target == entry.Path {
		return Unchanged, false
	}

	target, ok := p.resolveCollision(target)
	if !ok {
		return CollisionSkipped, false
	}

	if err := p.fs.Rename(entry.Path, target); err != nil {
		return MoveFailed, false
	}
	return Renamed, false
}

// isQuiet reports whether entry's own last-write and every nested
// entry's last-write are all older than the quiet window, short-
// circuiting on the first timestamp found newer than now-quietWindow.
func (p *Processor) isQuiet(path string, now time.Time) bool {
	threshold := now.Add(-p.config.QuietWindow)

	if mtime, ok := p.fs.ModTime(path); ok && mtime.After(threshold) {
		return false
	}

	children, err := p.fs.Children(path)
	if err != nil {
		return true
	}
	for _, child := range children {
		if mtime, ok := p.fs.ModTime(child); ok && mtime.After(threshold) {
			return false
		}
	}
	return true
}

// resolveCollision returns target unchanged if free, otherwise tries
// "_alt-a".."_alt-z" suffixes in order and returns the first free one.
func (p *Processor) resolveCollision(target string) (string, bool) {
	if !p.fs.Exists(target) {
		return target, true
	}

	max := p.config.MaxCollisionAttempts
	if max <= 0 || max > 26 {
		max = 26
	}
	for i := 0; i < max; i++ {
		suffix := fmt.Sprintf("_alt-%c", 'a'+rune(i))
		candidate := target + suffix
		if !p.fs.Exists(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// RescanAndEnqueue enumerates all depth-3 directories under the sources
// root, skipping excluded sources, and enqueues any candidate whose
// basename requires a rename.
func (p *Processor) RescanAndEnqueue() RescanResult {
	result := RescanResult{}
	now := p.now()

	sources, err := p.fs.Children(p.sourcesRoot)
	if err != nil {
		p.warnEnumeration(err)
		return result
	}

	for _, sourceDir := range sources {
		sourceName := filepath.Base(sourceDir)
		if p.isExcludedSource(sourceName) {
			result.Skipped++
			continue
		}

		mangaDirs, err := p.fs.Children(sourceDir)
		if err != nil {
			p.warnEnumerationIfNotMissing(sourceDir, err, &result)
			continue
		}

		for _, mangaDir := range mangaDirs {
			chapters, err := p.fs.Children(mangaDir)
			if err != nil {
				p.warnEnumerationIfNotMissing(mangaDir, err, &result)
				continue
			}

			for _, chapter := range chapters {
				base := filepath.Base(chapter)
				if Sanitize(base) == base {
					continue
				}

				allowAt := now.Add(p.config.Delay).Unix()
				if mtime, ok := p.fs.ModTime(chapter); ok {
					allowAt = mtime.Add(p.config.Delay).Unix()
				}

				if p.queue.TryEnqueue(Entry{Path: pathutil.Normalize(chapter), AllowAt: allowAt}) {
					result.Enqueued++
				}
			}
		}
	}

	if len(result.Warnings) > 0 && p.logger != nil {
		p.logger.Log(logging.LevelWarning, "rename.enumeration_warning", "rescan enumeration encountered errors",
			logging.F("count", len(result.Warnings)),
		)
	}

	return result
}

func (p *Processor) warnEnumeration(err error) {
	if p.logger != nil {
		p.logger.Log(logging.LevelWarning, "rename.enumeration_warning", "failed to enumerate sources root",
			logging.F("error", err.Error()),
		)
	}
}

func (p *Processor) warnEnumerationIfNotMissing(path string, err error, result *RescanResult) {
	if p.fs.Exists(path) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", path, err))
	}
}
