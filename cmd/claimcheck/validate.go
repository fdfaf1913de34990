package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyeh/claimcheck/internal/claims"
	"github.com/gyeh/claimcheck/internal/cloud"
	"github.com/gyeh/claimcheck/internal/codes"
	"github.com/gyeh/claimcheck/internal/dbf"
	"github.com/gyeh/claimcheck/internal/member"
	"github.com/gyeh/claimcheck/internal/npi"
	"github.com/gyeh/claimcheck/internal/output"
	"github.com/gyeh/claimcheck/internal/policy"
	"github.com/gyeh/claimcheck/internal/progress"
	"github.com/gyeh/claimcheck/internal/validate"
	"github.com/gyeh/claimcheck/internal/worker"
)

type validateFlags struct {
	policies       string
	codes          string
	images         string
	outputFile     string
	parquetFile    string
	s3Bucket       string
	s3Key          string
	s3Create       bool
	workers        int
	chunkSize      int
	filterColumn   string
	excludeValue   string
	imageColumn    string
	includeDeleted bool
	minDate        string
	noProgress     bool
}

func newValidateCmd(a *app) *cobra.Command {
	var f validateFlags

	cmd := &cobra.Command{
		Use:   "validate FILE...",
		Short: "Validate claim files against column policies and write a report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.applyDefaults(cmd, a)
			return runValidate(cmd, a, f, args)
		},
	}

	cmd.Flags().StringVar(&f.policies, "policies", "", "Column policy file, YAML or JSON (default from CLAIMCHECK_POLICIES)")
	cmd.Flags().StringVar(&f.codes, "codes", "", "ICD-10 code set, JSON or JSON.gz (default from CLAIMCHECK_CODES)")
	cmd.Flags().StringVar(&f.images, "images", "", "Folder holding the scanned claim images, recorded in the report")
	cmd.Flags().StringVarP(&f.outputFile, "output", "o", "report.json", "Report file path (use '-' for stdout)")
	cmd.Flags().StringVar(&f.parquetFile, "parquet", "", "Also write failing fields to this Parquet file")
	cmd.Flags().StringVar(&f.s3Bucket, "s3-bucket", "", "Upload the report to this S3 bucket (default from CLAIMCHECK_S3_BUCKET)")
	cmd.Flags().StringVar(&f.s3Key, "s3-key", "", "S3 object key (default: claimcheck/<timestamp>.json)")
	cmd.Flags().BoolVar(&f.s3Create, "s3-create-bucket", false, "Create the S3 bucket if it does not exist")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Number of files validated concurrently (default from CLAIMCHECK_WORKERS)")
	cmd.Flags().IntVar(&f.chunkSize, "chunk-size", 256, "Rows validated together within a file")
	cmd.Flags().StringVar(&f.filterColumn, "filter-column", "", "Column that marks non-claim records (default from CLAIMCHECK_FILTER_COLUMN)")
	cmd.Flags().StringVar(&f.excludeValue, "exclude-value", "", "Value of --filter-column that excludes a record from the claim count")
	cmd.Flags().StringVar(&f.imageColumn, "image-column", "", "Column holding the image file name (default from CLAIMCHECK_IMAGE_COLUMN)")
	cmd.Flags().BoolVar(&f.includeDeleted, "include-deleted", false, "Validate records flagged as deleted too")
	cmd.Flags().StringVar(&f.minDate, "min-date", "", "Reject dates before yyyy-mm-dd in every date column")
	cmd.Flags().BoolVar(&f.noProgress, "no-progress", false, "Print progress lines instead of progress bars")

	return cmd
}

// applyDefaults fills flags the user did not set from the environment
// settings.
func (f *validateFlags) applyDefaults(cmd *cobra.Command, a *app) {
	s := a.settings
	changed := cmd.Flags().Changed
	if !changed("policies") {
		f.policies = s.PoliciesPath
	}
	if !changed("codes") {
		f.codes = s.CodesPath
	}
	if !changed("s3-bucket") {
		f.s3Bucket = s.S3Bucket
	}
	if !changed("workers") {
		f.workers = s.Workers
	}
	if !changed("filter-column") {
		f.filterColumn = s.FilterColumn
	}
	if !changed("exclude-value") {
		f.excludeValue = s.ExcludeValue
	}
	if !changed("image-column") {
		f.imageColumn = s.ImageColumn
	}
	if !changed("include-deleted") {
		f.includeDeleted = s.IncludeDeleted
	}
	if !changed("no-progress") {
		f.noProgress = !s.Progress
	}
}

func (f *validateFlags) validator(a *app) (*validate.Validator, error) {
	v := &validate.Validator{MinDate: a.settings.MinDate}
	if f.minDate != "" {
		d, err := time.Parse(policy.OptionDateLayout, f.minDate)
		if err != nil {
			return nil, fmt.Errorf("invalid --min-date %q: expected yyyy-mm-dd", f.minDate)
		}
		v.MinDate = d
	}

	if f.codes != "" {
		lookup, err := codes.Load(f.codes)
		if err != nil {
			return nil, err
		}
		a.logger.Info("loaded code set", "path", f.codes, "codes", lookup.Len())
		v.Codes = lookup
	}

	v.NPI = npi.NewClient(npi.Options{BaseURL: a.settings.NPIRegistryURL, Logger: a.logger})

	if a.settings.MemberAPIURL != "" {
		mc, err := member.NewClient(member.Options{BaseURL: a.settings.MemberAPIURL, Retries: 2, Logger: a.logger})
		if err != nil {
			return nil, err
		}
		v.Member = mc
	}
	return v, nil
}

func runValidate(cmd *cobra.Command, a *app, f validateFlags, paths []string) error {
	cfg, err := policy.Load(f.policies)
	if err != nil {
		return err
	}
	if len(cfg.Columns()) == 0 {
		a.logger.Warn("no columns selected for validation; only counts will be reported", "policies", f.policies)
	}

	v, err := f.validator(a)
	if err != nil {
		return err
	}

	var mgr progress.Manager
	if f.noProgress {
		mgr = progress.NewLogManager()
	} else {
		mgr = progress.NewMPBManager(len(paths))
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	startTime := time.Now()
	pool := &worker.Pool{
		Workers: f.workers,
		Processor: &claims.Processor{
			Validator:      v,
			Config:         cfg,
			Filter:         dbf.ClaimFilter{Column: f.filterColumn, Exclude: f.excludeValue},
			ImageColumn:    f.imageColumn,
			ImagesPath:     f.images,
			CodePage:       a.codePage,
			IncludeDeleted: f.includeDeleted,
			ChunkSize:      f.chunkSize,
			Concurrency:    8,
			Logger:         a.logger,
		},
		Progress: mgr,
	}
	results := pool.Run(ctx, paths)
	mgr.Wait()

	report := output.Report{GeneratedAt: time.Now().UTC()}
	var failed, withErrors, records, fieldErrors int
	for _, r := range results {
		fr := output.FileReport{Path: r.Path, Result: r.Result}
		if r.Err != nil {
			fr.Error = r.Err.Error()
			if dbf.IsStructural(r.Err) {
				failed++
			}
			fmt.Fprintf(os.Stderr, "Error processing %s: %v\n", r.Path, r.Err)
		}
		if r.Result != nil {
			records += r.Result.TotalRecords
			fieldErrors += r.Result.TotalFieldErrors
			if r.Result.RecordsWithErrors > 0 {
				withErrors++
			}
		}
		report.Files = append(report.Files, fr)
	}

	if err := output.WriteReport(f.outputFile, report); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	if f.parquetFile != "" {
		if err := writeParquet(f.parquetFile, results); err != nil {
			return err
		}
	}

	if f.s3Bucket != "" {
		key := f.s3Key
		if key == "" {
			key = fmt.Sprintf("claimcheck/%s.json", report.GeneratedAt.Format("20060102T150405Z"))
		}
		s3c, err := cloud.NewS3Client(ctx, f.s3Bucket, a.settings.AWSRegion)
		if err != nil {
			return err
		}
		if f.s3Create {
			if err := s3c.EnsureBucket(ctx); err != nil {
				return err
			}
		}
		if err := s3c.UploadReport(ctx, key, report); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Report uploaded to s3://%s/%s\n", f.s3Bucket, key)
	}

	fmt.Fprintf(os.Stderr, "\nValidation complete: %d files, %d records, %d files with errors, %d field errors in %.1fs\n",
		len(paths), records, withErrors, fieldErrors, time.Since(startTime).Seconds())
	if f.outputFile != "-" {
		fmt.Fprintf(os.Stderr, "Report written to %s\n", f.outputFile)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files could not be read", failed, len(paths))
	}
	return nil
}

func writeParquet(path string, results []worker.FileResult) error {
	pw, err := output.NewParquetWriter(path)
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range results {
		if err := pw.WriteResult(r.Result); err != nil {
			errs = append(errs, err)
			break
		}
	}
	if err := pw.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
