package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/gyeh/claimcheck/internal/dbf"
	"github.com/gyeh/claimcheck/internal/validate"
)

func newSchemaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema FILE",
		Short: "Print the table header and field descriptors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := dbf.ReadSchema(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version:        0x%02X\n", s.Version)
			fmt.Fprintf(out, "code page mark: 0x%02X\n", s.CodePageMark)
			fmt.Fprintf(out, "records:        %d\n", s.RecordCount)
			fmt.Fprintf(out, "header length:  %d\n", s.HeaderLength)
			fmt.Fprintf(out, "record length:  %d\n\n", s.RecordLength)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tNAME\tTYPE\tLEN\tDEC\tOFFSET")
			for i, f := range s.Fields {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\n", i, f.Name, f.Type, f.Length, f.Decimals, f.Displacement)
			}
			return tw.Flush()
		},
	}
}

func newDumpCmd(a *app) *cobra.Command {
	var (
		includeDeleted bool
		limit          int
	)

	cmd := &cobra.Command{
		Use:   "dump FILE",
		Short: "Print decoded records as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			n := 0
			errStop := errors.New("limit reached")
			_, stats, err := dbf.Scan(cmd.Context(), args[0], dbf.Options{
				CodePage:       a.codePage,
				Filter:         dbf.ClaimFilter{Column: a.settings.FilterColumn, Exclude: a.settings.ExcludeValue},
				IncludeDeleted: includeDeleted || a.settings.IncludeDeleted,
				Logger:         a.logger,
			}, func(row dbf.Row) error {
				if limit > 0 && n >= limit {
					return errStop
				}
				n++
				var decodeErrs []string
				for _, de := range row.DecodeErrors {
					decodeErrs = append(decodeErrs, de.Error())
				}
				return enc.Encode(struct {
					Index        int                  `json:"index"`
					State        string               `json:"state"`
					Values       map[string]dbf.Value `json:"values"`
					DecodeErrors []string             `json:"decode_errors,omitempty"`
				}{row.Index, row.State.String(), row.Values, decodeErrs})
			})
			if err != nil && !errors.Is(err, errStop) {
				return err
			}
			if err == nil {
				a.logger.Info("dump complete", "records", stats.TotalRecords, "claims", stats.TotalClaims, "deleted", stats.DeletedRecords)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "Include records flagged as deleted")
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after N records (0 = all)")

	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	var (
		record    int
		sets      []string
		batchFile string
	)

	cmd := &cobra.Command{
		Use:   "update FILE",
		Short: "Overwrite fields of existing records in place",
		Long: `Overwrite fields of existing records in place.

Either patch one record with --record and repeated --set FIELD=VALUE, or
apply a YAML/JSON batch file of the form:

  - record: 3
    fields:
      - {name: DOS, value: 2024-06-30}
      - {name: MEMBER, value: M100}

Batches are not transactional: every update is attempted in order and
failures are reported per record.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			var updates []dbf.RecordUpdate
			switch {
			case batchFile != "" && len(sets) > 0:
				return fmt.Errorf("--batch and --set are mutually exclusive")
			case batchFile != "":
				var err error
				updates, err = readBatch(batchFile)
				if err != nil {
					return err
				}
			case len(sets) > 0:
				if record < 0 {
					return fmt.Errorf("--record is required with --set")
				}
				fields, err := parseAssignments(sets)
				if err != nil {
					return err
				}
				updates = []dbf.RecordUpdate{{Record: record, Fields: fields}}
			default:
				return fmt.Errorf("nothing to update: pass --set or --batch")
			}

			schema, err := dbf.ReadSchema(path)
			if err != nil {
				return err
			}
			if err := normalizeDates(schema, updates); err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			res, err := dbf.WriteBatch(ctx, path, updates, dbf.WriterOptions{CodePage: a.codePage, Logger: a.logger})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, o := range res.Outcomes {
				if len(o.Skipped) > 0 {
					fmt.Fprintf(out, "record %d: skipped unknown fields %s\n", o.Record, strings.Join(o.Skipped, ", "))
				}
			}
			for _, msg := range res.Errors() {
				fmt.Fprintln(out, msg)
			}
			fmt.Fprintf(out, "%d of %d updates applied\n", res.Succeeded, len(res.Outcomes))
			if res.Failed() > 0 {
				return fmt.Errorf("%d updates failed", res.Failed())
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&record, "record", -1, "Zero-based record index")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "FIELD=VALUE assignment (repeatable)")
	cmd.Flags().StringVar(&batchFile, "batch", "", "YAML or JSON file listing record updates")

	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var (
		record int
		undo   bool
	)

	cmd := &cobra.Command{
		Use:   "delete FILE",
		Short: "Flag a record as deleted, or restore it with --undo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := dbf.WriterOptions{CodePage: a.codePage, Logger: a.logger}
			var err error
			if undo {
				_, err = dbf.Undelete(args[0], record, opts)
			} else {
				_, err = dbf.MarkDeleted(args[0], record, opts)
			}
			if err != nil {
				return err
			}
			verb := "deleted"
			if undo {
				verb = "restored"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "record %d %s\n", record, verb)
			return nil
		},
	}

	cmd.Flags().IntVar(&record, "record", 0, "Zero-based record index")
	cmd.Flags().BoolVar(&undo, "undo", false, "Clear the deletion flag instead of setting it")
	cmd.MarkFlagRequired("record")

	return cmd
}

// parseAssignments turns FIELD=VALUE strings into field values. The value
// may be empty; the field name may not.
func parseAssignments(sets []string) ([]dbf.FieldValue, error) {
	fields := make([]dbf.FieldValue, 0, len(sets))
	for _, s := range sets {
		name, value, ok := strings.Cut(s, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q: expected FIELD=VALUE", s)
		}
		fields = append(fields, dbf.FieldValue{Name: name, Value: value})
	}
	return fields, nil
}

func readBatch(path string) ([]dbf.RecordUpdate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}
	var updates []dbf.RecordUpdate
	if err := yaml.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("parsing batch file: %w", err)
	}
	return updates, nil
}

// normalizeDates converts string values bound for date fields using the
// same formats the validator accepts, so "06/30/2024" can be written back.
func normalizeDates(s *dbf.Schema, updates []dbf.RecordUpdate) error {
	for i := range updates {
		for j, fv := range updates[i].Fields {
			f, ok := s.Field(fv.Name)
			if !ok || f.Type != dbf.Date {
				continue
			}
			str, ok := fv.Value.(string)
			if !ok || strings.TrimSpace(str) == "" {
				continue
			}
			d, err := validate.ParseDate(str)
			if err != nil {
				return fmt.Errorf("record %d field %s: %w", updates[i].Record, fv.Name, err)
			}
			updates[i].Fields[j].Value = d
		}
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nInterrupted, finishing current record...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
