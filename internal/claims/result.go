// Package claims folds per-record validation results into a claim file
// summary and drives the scan, validate, aggregate pipeline.
package claims

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/gyeh/claimcheck/internal/dbf"
	"github.com/gyeh/claimcheck/internal/validate"
)

// RecordResult is the validation outcome for one record.
type RecordResult struct {
	RecordIndex   int                   `json:"record_index"`
	ImageFileName string                `json:"image_file_name"`
	RecordData    map[string]dbf.Value  `json:"record_data,omitempty"`
	FieldErrors   []validate.FieldError `json:"field_errors"`
}

func (r RecordResult) HasErrors() bool { return len(r.FieldErrors) > 0 }

// Result summarizes one claim file. Only failing records are kept.
type Result struct {
	RunID             string         `json:"run_id"`
	SourceFilePath    string         `json:"source_file_path"`
	ImagesFolderPath  string         `json:"images_folder_path,omitempty"`
	SourceChecksum    string         `json:"source_checksum,omitempty"`
	ProcessedAt       time.Time      `json:"processed_at"`
	TotalRecords      int            `json:"total_records"`
	ValidRecords      int            `json:"valid_records"`
	RecordsWithErrors int            `json:"records_with_errors"`
	TotalFieldErrors  int            `json:"total_field_errors"`
	TotalClaims       int            `json:"total_claims"`
	DeletedRecords    int            `json:"deleted_records"`
	ErrorRecords      []RecordResult `json:"error_records"`
	Cancelled         bool           `json:"cancelled,omitempty"`
}

// SuccessRate is the percentage of valid records, 0 for an empty file.
func (r *Result) SuccessRate() float64 {
	if r.TotalRecords == 0 {
		return 0
	}
	return float64(r.ValidRecords) / float64(r.TotalRecords) * 100
}

func (r *Result) MarshalJSON() ([]byte, error) {
	type plain Result
	return json.Marshal(struct {
		*plain
		SuccessRate float64 `json:"success_rate"`
	}{(*plain)(r), r.SuccessRate()})
}

// Aggregator accumulates record results one at a time, retaining only the
// failing ones. It is not safe for concurrent use.
type Aggregator struct {
	total       int
	fieldErrors int
	failing     []RecordResult
}

func (a *Aggregator) Add(r RecordResult) {
	a.total++
	if !r.HasErrors() {
		return
	}
	a.fieldErrors += len(r.FieldErrors)
	a.failing = append(a.failing, r)
}

// Failing returns the number of failing records added so far.
func (a *Aggregator) Failing() int { return len(a.failing) }

// Result builds the summary. The aggregator can keep accepting records;
// later calls return fresh summaries.
func (a *Aggregator) Result(sourcePath, imagesPath string) *Result {
	failing := slices.Clone(a.failing)
	slices.SortStableFunc(failing, func(x, y RecordResult) int { return x.RecordIndex - y.RecordIndex })
	if failing == nil {
		failing = []RecordResult{}
	}
	return &Result{
		SourceFilePath:    sourcePath,
		ImagesFolderPath:  imagesPath,
		ProcessedAt:       time.Now().UTC(),
		TotalRecords:      a.total,
		ValidRecords:      a.total - len(failing),
		RecordsWithErrors: len(failing),
		TotalFieldErrors:  a.fieldErrors,
		ErrorRecords:      failing,
	}
}

// Summarize folds a complete list of record results.
func Summarize(sourcePath, imagesPath string, results []RecordResult) *Result {
	var a Aggregator
	for _, r := range results {
		a.Add(r)
	}
	return a.Result(sourcePath, imagesPath)
}
