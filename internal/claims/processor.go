package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/charmap"

	"github.com/gyeh/claimcheck/internal/checksum"
	"github.com/gyeh/claimcheck/internal/dbf"
	"github.com/gyeh/claimcheck/internal/logging"
	"github.com/gyeh/claimcheck/internal/policy"
	"github.com/gyeh/claimcheck/internal/progress"
	"github.com/gyeh/claimcheck/internal/validate"
)

const defaultChunkSize = 256

// Processor validates every record of a claim file.
type Processor struct {
	Validator *validate.Validator
	Config    *policy.ColumnConfig
	// Columns overrides Config.Columns() when non-nil.
	Columns []string

	Filter         dbf.ClaimFilter
	ImageColumn    string
	ImagesPath     string
	CodePage       *charmap.Charmap
	IncludeDeleted bool

	// ChunkSize rows are validated together, Concurrency at a time.
	ChunkSize   int
	Concurrency int

	Logger *slog.Logger
}

// Process scans path, validates each record and returns the summary.
//
// A missing file returns an empty result and an ErrIO error. A zero-byte
// file returns an empty result and no error. On cancellation the result
// covers the rows validated so far, has Cancelled set, and is returned
// together with ctx.Err(). Rows read but not yet validated are left out. Other structural failures return an empty result
// and the error.
func (p *Processor) Process(ctx context.Context, path string, tracker progress.Tracker) (*Result, error) {
	logger := logging.Default(p.Logger).With("component", "claims", "file", path)
	if tracker == nil {
		tracker = progress.NoopTracker()
	}
	runID := uuid.NewString()
	empty := func() *Result {
		r := Summarize(path, p.ImagesPath, nil)
		r.RunID = runID
		return r
	}

	info, err := os.Stat(path)
	if err != nil {
		return empty(), fmt.Errorf("%w: %s: %w", dbf.ErrIO, path, err)
	}
	if info.Size() == 0 {
		logger.Warn("empty claim file")
		return empty(), nil
	}

	tracker.SetStage("fingerprinting")
	sum, err := checksum.File(path)
	if err != nil {
		return empty(), fmt.Errorf("%w: %w", dbf.ErrIO, err)
	}

	columns := p.Columns
	if columns == nil {
		columns = p.Config.Columns()
	}
	chunkSize := p.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	imageColumn := p.ImageColumn
	if imageColumn == "" {
		imageColumn = "IMAGE"
	}

	var agg Aggregator
	claimCount := 0
	chunk := make([]dbf.Row, 0, chunkSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		fieldErrs, done, err := p.Validator.ValidateRows(ctx, chunk, columns, p.Config, p.Concurrency)
		for i, row := range chunk {
			if !done[i] {
				continue
			}
			if p.Filter.Matches(&row) {
				claimCount++
			}
			agg.Add(recordResult(row, imageColumn, fieldErrs[i]))
		}
		tracker.SetCounter("records with errors", int64(agg.Failing()))
		chunk = chunk[:0]
		return err
	}

	start := time.Now()
	tracker.SetStage("validating")
	_, stats, err := dbf.Scan(ctx, path, dbf.Options{
		CodePage:       p.CodePage,
		Filter:         p.Filter,
		IncludeDeleted: p.IncludeDeleted,
		OnProgress: func(done, total int) {
			tracker.SetProgress(int64(done), int64(total))
		},
		Logger: p.Logger,
	}, func(row dbf.Row) error {
		chunk = append(chunk, row)
		if len(chunk) < chunkSize {
			return nil
		}
		return flush()
	})
	if err == nil {
		err = flush()
	}

	cancelled := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	if err != nil && !cancelled {
		logger.Error("claim file failed", "error", err)
		return empty(), err
	}

	res := agg.Result(path, p.ImagesPath)
	res.RunID = runID
	res.SourceChecksum = sum
	res.TotalClaims = claimCount
	res.DeletedRecords = stats.DeletedRecords
	res.Cancelled = cancelled

	logger.Info("claim file validated",
		"records", res.TotalRecords,
		"claims", res.TotalClaims,
		"with_errors", res.RecordsWithErrors,
		"field_errors", res.TotalFieldErrors,
		"cancelled", cancelled,
		"elapsed", time.Since(start).Truncate(time.Millisecond))

	if cancelled {
		return res, ctx.Err()
	}
	return res, nil
}

func recordResult(row dbf.Row, imageColumn string, errs []validate.FieldError) RecordResult {
	r := RecordResult{RecordIndex: row.Index, FieldErrors: errs}
	if img, ok := row.Get(imageColumn); ok {
		r.ImageFileName = strings.TrimSpace(img.String())
	}
	if r.HasErrors() {
		r.RecordData = row.Values
	}
	return r
}
