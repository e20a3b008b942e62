package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/mangamerged/mangamerged/internal/coalescer"
	"github.com/mangamerged/mangamerged/internal/rename"
	"github.com/mangamerged/mangamerged/internal/watch"
)

type fakePoller struct {
	results []watch.PollResult
	calls   int
}

func (f *fakePoller) Poll(ctx context.Context, roots []string, timeout time.Duration) (watch.PollResult, error) {
	if f.calls >= len(f.results) {
		f.calls++
		return watch.PollResult{Outcome: watch.Success}, nil
	}
	r := f.results[f.calls]
	f.calls++
	return r, nil
}

type fakeProcessor struct {
	enqueuedChapters    []string
	enqueuedSourcePaths []string
	enqueuedMangaPaths  []string
	processOnceCalls    int
	rescanCalls         int
}

func (f *fakeProcessor) EnqueueChapterPath(path string) bool {
	f.enqueuedChapters = append(f.enqueuedChapters, path)
	return true
}
func (f *fakeProcessor) EnqueueChaptersUnderSourcePath(sourcePath string) {
	f.enqueuedSourcePaths = append(f.enqueuedSourcePaths, sourcePath)
}
func (f *fakeProcessor) EnqueueChaptersUnderMangaPath(mangaPath string) {
	f.enqueuedMangaPaths = append(f.enqueuedMangaPaths, mangaPath)
}
func (f *fakeProcessor) ProcessOnce() rename.ProcessResult {
	f.processOnceCalls++
	return rename.ProcessResult{Counts: make(map[rename.Outcome]int)}
}
func (f *fakeProcessor) RescanAndEnqueue() rename.RescanResult {
	f.rescanCalls++
	return rename.RescanResult{}
}

type fakeCoalescer struct {
	requests []string
	forces   []bool
}

func (f *fakeCoalescer) RequestScan(reason string, force bool) {
	f.requests = append(f.requests, reason)
	f.forces = append(f.forces, force)
}
func (f *fakeCoalescer) DispatchPending(ctx context.Context, now time.Time) (coalescer.Outcome, error) {
	return coalescer.NoPendingRequest, nil
}

func newTestPipeline(poller *fakePoller, processor *fakeProcessor, c *fakeCoalescer) *Pipeline {
	cfg := Config{
		SourcesRoot:          "/s",
		OverrideRoot:         "/o",
		InotifyPollInterval:  time.Second,
		RenamePollInterval:   time.Minute,
		RenameRescanInterval: time.Hour,
		MergeInterval:        5 * time.Minute,
		StartupRescanEnabled: false,
	}
	return New(cfg, poller, processor, c, nil)
}

func TestTickRoutesNewSourceEvent(t *testing.T) {
	poller := &fakePoller{results: []watch.PollResult{{
		Outcome: watch.Success,
		Events:  []watch.Event{{Path: "/s/SourceA", Mask: watch.Create | watch.IsDirectory, IsDirectory: true}},
	}}}
	processor := &fakeProcessor{}
	c := &fakeCoalescer{}
	p := newTestPipeline(poller, processor, c)

	if _, err := p.Tick(context.Background(), time.Now()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	if len(processor.enqueuedSourcePaths) != 1 {
		t.Fatalf("enqueuedSourcePaths = %v, want 1 entry", processor.enqueuedSourcePaths)
	}
	if len(c.requests) != 1 || c.requests[0] != "new-source:SourceA" {
		t.Fatalf("requests = %v, want [new-source:SourceA]", c.requests)
	}
}

func TestTickRoutesNewMangaEvent(t *testing.T) {
	poller := &fakePoller{results: []watch.PollResult{{
		Outcome: watch.Success,
		Events:  []watch.Event{{Path: "/s/SourceA/MangaA", Mask: watch.Create | watch.IsDirectory, IsDirectory: true}},
	}}}
	processor := &fakeProcessor{}
	c := &fakeCoalescer{}
	p := newTestPipeline(poller, processor, c)

	if _, err := p.Tick(context.Background(), time.Now()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	if len(processor.enqueuedMangaPaths) != 1 {
		t.Fatalf("enqueuedMangaPaths = %v, want 1 entry", processor.enqueuedMangaPaths)
	}
	if len(c.requests) != 1 || c.requests[0] != "new-manga:SourceA/MangaA" {
		t.Fatalf("requests = %v, want [new-manga:SourceA/MangaA]", c.requests)
	}
}

func TestTickRoutesImpliedNewChapterEvent(t *testing.T) {
	poller := &fakePoller{results: []watch.PollResult{{
		Outcome: watch.Success,
		Events: []watch.Event{{
			Path:        "/s/SourceA/MangaA/Chapter 1",
			Mask:        watch.CloseWrite | watch.IsDirectory,
			IsDirectory: true,
		}},
	}}}
	processor := &fakeProcessor{}
	c := &fakeCoalescer{}
	p := newTestPipeline(poller, processor, c)

	if _, err := p.Tick(context.Background(), time.Now()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	if len(processor.enqueuedChapters) != 1 {
		t.Fatalf("enqueuedChapters = %v, want 1 entry", processor.enqueuedChapters)
	}
	if len(c.requests) != 1 || c.requests[0] != "chapter-implied-new:SourceA/MangaA" {
		t.Fatalf("requests = %v, want [chapter-implied-new:SourceA/MangaA]", c.requests)
	}
}

func TestTickIgnoresDeleteAndMovedFromEvents(t *testing.T) {
	poller := &fakePoller{results: []watch.PollResult{{
		Outcome: watch.Success,
		Events:  []watch.Event{{Path: "/s/SourceA", Mask: watch.Delete | watch.IsDirectory, IsDirectory: true}},
	}}}
	processor := &fakeProcessor{}
	c := &fakeCoalescer{}
	p := newTestPipeline(poller, processor, c)

	if _, err := p.Tick(context.Background(), time.Now()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if len(c.requests) != 0 {
		t.Fatalf("requests = %v, want none for a delete event", c.requests)
	}
}

func TestTickRoutesOverrideForceEvent(t *testing.T) {
	poller := &fakePoller{results: []watch.PollResult{{
		Outcome: watch.Success,
		Events:  []watch.Event{{Path: "/o/MangaA/page.jpg", Mask: watch.CloseWrite, IsDirectory: false}},
	}}}
	processor := &fakeProcessor{}
	c := &fakeCoalescer{}
	p := newTestPipeline(poller, processor, c)

	if _, err := p.Tick(context.Background(), time.Now()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if len(c.requests) != 1 || c.requests[0] != "override-force:MangaA" || !c.forces[0] {
		t.Fatalf("requests = %v forces = %v, want [override-force:MangaA] force=true", c.requests, c.forces)
	}
}

func TestTickRunsRenameProcessOnceAndMergeIntervalRequest(t *testing.T) {
	poller := &fakePoller{}
	processor := &fakeProcessor{}
	c := &fakeCoalescer{}
	p := newTestPipeline(poller, processor, c)

	now := time.Now()
	if _, err := p.Tick(context.Background(), now); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if processor.processOnceCalls != 1 {
		t.Fatalf("processOnceCalls = %d, want 1 (next_rename_process initialized to now)", processor.processOnceCalls)
	}

	if _, err := p.Tick(context.Background(), now.Add(10*time.Minute)); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if processor.processOnceCalls < 2 {
		t.Fatalf("processOnceCalls = %d, want at least 2 after 10 minutes elapsed", processor.processOnceCalls)
	}
	if len(c.requests) == 0 {
		t.Fatal("expected an interval-elapsed merge request after merge_interval_seconds elapsed")
	}
}

func TestTickPropagatesCancellation(t *testing.T) {
	poller := &fakePoller{}
	processor := &fakeProcessor{}
	c := &fakeCoalescer{}
	p := newTestPipeline(poller, processor, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Tick(ctx, time.Now()); err == nil {
		t.Fatal("expected Tick to propagate cancellation")
	}
}
