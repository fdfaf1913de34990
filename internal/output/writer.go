package output

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gyeh/claimcheck/internal/claims"
)

// Report is the JSON document written after a validation run.
type Report struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Files       []FileReport `json:"files"`
}

// FileReport is the outcome for one claim file. Error is set when the file
// could not be fully processed; Result is still present in that case.
type FileReport struct {
	Path   string         `json:"path"`
	Result *claims.Result `json:"result"`
	Error  string         `json:"error,omitempty"`
}

// MarshalReport renders report as indented JSON.
func MarshalReport(report Report) ([]byte, error) {
	if report.Files == nil {
		report.Files = []FileReport{}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling report: %w", err)
	}
	return data, nil
}

// WriteReport writes the JSON report to outputPath, or to stdout for "-".
func WriteReport(outputPath string, report Report) error {
	data, err := MarshalReport(report)
	if err != nil {
		return err
	}

	if outputPath == "-" {
		_, err = os.Stdout.Write(data)
		fmt.Fprintln(os.Stdout)
		return err
	}

	return os.WriteFile(outputPath, data, 0o644)
}
