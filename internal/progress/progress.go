package progress

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Tracker tracks progress for a single claim file.
type Tracker interface {
	SetStage(stage string)
	SetProgress(current, total int64)
	SetCounter(name string, value int64)
	Done()
}

// Manager creates trackers for individual files.
type Manager interface {
	NewTracker(index, total int, filename string) Tracker
	Wait()
	SetOverallStats(filesComplete, filesWithErrors int, totalFieldErrors int64)
}

// MPBManager implements Manager using the mpb multi-progress-bar library.
type MPBManager struct {
	container *mpb.Progress
	mu        sync.Mutex
	overall   *mpb.Bar
	files     int
}

// NewMPBManager creates a new mpb-based progress manager. files is the
// number of claim files the run will process.
func NewMPBManager(files int) *MPBManager {
	p := mpb.New(mpb.WithWidth(60))
	m := &MPBManager{container: p, files: files}
	if files > 1 {
		m.overall = p.AddBar(int64(files),
			mpb.BarPriority(1<<16),
			mpb.PrependDecorators(decor.Name("files ", decor.WCSyncSpaceR)),
			mpb.AppendDecorators(decor.CountersNoUnit("%d / %d")),
		)
	}
	return m
}

// NewTracker creates a new progress tracker for a file.
func (m *MPBManager) NewTracker(index, total int, filename string) Tracker {
	stageVal := &atomic.Value{}
	stageVal.Store("")
	counterVal := &atomic.Value{}
	counterVal.Store("")
	bar := m.container.AddBar(100,
		mpb.PrependDecorators(
			decor.Name(fmt.Sprintf("[%d/%d] %s ", index+1, total, filename), decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WCSyncSpace),
			decor.Any(func(s decor.Statistics) string {
				return " " + stageVal.Load().(string) + counterVal.Load().(string)
			}),
		),
	)

	return &mpbTracker{
		bar:        bar,
		stagePtr:   stageVal,
		counterPtr: counterVal,
	}
}

// Wait waits for all progress bars to finish.
func (m *MPBManager) Wait() {
	m.mu.Lock()
	if m.overall != nil && !m.overall.Completed() {
		m.overall.Abort(false)
	}
	m.mu.Unlock()
	m.container.Wait()
}

// SetOverallStats advances the files bar.
func (m *MPBManager) SetOverallStats(filesComplete, filesWithErrors int, totalFieldErrors int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.overall != nil {
		m.overall.SetCurrent(int64(filesComplete))
	}
}

type mpbTracker struct {
	bar        *mpb.Bar
	stagePtr   *atomic.Value
	counterPtr *atomic.Value
}

func (t *mpbTracker) SetStage(stage string) {
	t.stagePtr.Store(stage)
	t.bar.SetCurrent(0) // reset progress for new stage
}

func (t *mpbTracker) SetProgress(current, total int64) {
	if total > 0 {
		pct := int64(float64(current) / float64(total) * 100)
		t.bar.SetCurrent(pct)
	}
}

func (t *mpbTracker) SetCounter(name string, value int64) {
	t.counterPtr.Store(fmt.Sprintf("  %s: %s", name, humanCount(value)))
}

func (t *mpbTracker) Done() {
	t.bar.SetCurrent(100)
	t.bar.Abort(false) // complete without removing
}

// NoopManager is a no-op progress manager for non-interactive use. It keeps
// the last overall stats for callers that want them.
type NoopManager struct {
	FilesComplete    int32
	FilesWithErrors  int32
	TotalFieldErrors int64
}

func (m *NoopManager) NewTracker(index, total int, filename string) Tracker {
	return noopTracker{}
}

func (m *NoopManager) Wait() {}

func (m *NoopManager) SetOverallStats(filesComplete, filesWithErrors int, totalFieldErrors int64) {
	atomic.StoreInt32(&m.FilesComplete, int32(filesComplete))
	atomic.StoreInt32(&m.FilesWithErrors, int32(filesWithErrors))
	atomic.StoreInt64(&m.TotalFieldErrors, totalFieldErrors)
}

// NoopTracker returns a tracker that discards everything.
func NoopTracker() Tracker { return noopTracker{} }

type noopTracker struct{}

func (noopTracker) SetStage(stage string)               {}
func (noopTracker) SetProgress(current, total int64)    {}
func (noopTracker) SetCounter(name string, value int64) {}
func (noopTracker) Done()                               {}
