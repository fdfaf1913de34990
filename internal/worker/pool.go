package worker

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/gyeh/claimcheck/internal/claims"
	"github.com/gyeh/claimcheck/internal/progress"
)

// FileProcessor validates one claim file.
type FileProcessor interface {
	Process(ctx context.Context, path string, tracker progress.Tracker) (*claims.Result, error)
}

// FileResult pairs a claim file with its outcome.
type FileResult struct {
	Path   string
	Result *claims.Result
	Err    error
}

// Pool manages concurrent processing of claim files. Each file is still
// scanned sequentially by a single worker.
type Pool struct {
	Workers   int
	Processor FileProcessor
	Progress  progress.Manager
}

// Run processes all paths concurrently and returns results in input order.
func (p *Pool) Run(ctx context.Context, paths []string) []FileResult {
	results := make([]FileResult, len(paths))
	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	mgr := p.Progress
	if mgr == nil {
		mgr = &progress.NoopManager{}
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var complete, withErrors int
	var fieldErrors int64

	for i, path := range paths {
		wg.Add(1)
		go func(idx int, path string) {
			defer wg.Done()

			if err := ctx.Err(); err != nil {
				results[idx] = FileResult{Path: path, Err: err}
				return
			}

			// Acquire semaphore
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[idx] = FileResult{Path: path, Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			tracker := mgr.NewTracker(idx, len(paths), filepath.Base(path))
			res, err := p.Processor.Process(ctx, path, tracker)
			results[idx] = FileResult{Path: path, Result: res, Err: err}
			tracker.Done()

			mu.Lock()
			complete++
			if res != nil {
				fieldErrors += int64(res.TotalFieldErrors)
				if res.RecordsWithErrors > 0 {
					withErrors++
				}
			}
			mgr.SetOverallStats(complete, withErrors, fieldErrors)
			mu.Unlock()
		}(i, path)
	}

	wg.Wait()
	return results
}
