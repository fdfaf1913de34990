package dbf

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/gyeh/claimcheck/internal/logging"
)

// RecordState is read from the deletion flag that starts every record.
type RecordState uint8

const (
	Active RecordState = iota
	Deleted
)

func (s RecordState) String() string {
	if s == Deleted {
		return "deleted"
	}
	return "active"
}

// ClaimFilter decides which records count as claims. A record is a claim
// unless the value of Column equals Exclude. An empty Column, or a Column the
// schema does not declare, makes every record a claim.
type ClaimFilter struct {
	Column  string
	Exclude string
}

// Matches reports whether row counts as a claim.
func (f ClaimFilter) Matches(row *Row) bool {
	if f.Column == "" {
		return true
	}
	v, ok := row.Get(f.Column)
	if !ok {
		return true
	}
	return strings.TrimSpace(v.String()) != strings.TrimSpace(f.Exclude)
}

// Options controls a table scan.
type Options struct {
	// CodePage forces the text code page. Nil selects it from the header mark.
	CodePage *charmap.Charmap
	Filter   ClaimFilter
	// IncludeDeleted makes deleted records visible to the scan. They are
	// skipped by default.
	IncludeDeleted bool
	// OnProgress, if non-nil, is called after each record with the number of
	// records read so far and the declared record count.
	OnProgress func(done, total int)
	Logger     *slog.Logger
}

// DecodeError is a non-fatal failure to decode one field. The field value
// degrades to null.
type DecodeError struct {
	Record int
	Field  string
	Raw    string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("record %d field %s: cannot decode %q: %v", e.Record, e.Field, e.Raw, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Row is one decoded record.
type Row struct {
	Index        int
	State        RecordState
	Values       map[string]Value
	DecodeErrors []*DecodeError
}

// Get returns the value of a field, compared case-insensitively.
func (r *Row) Get(name string) (Value, bool) {
	v, ok := r.Values[fieldKey(name)]
	return v, ok
}

// Stats are the counters produced by one pass over a table.
type Stats struct {
	TotalRecords   int `json:"total_records"`
	TotalClaims    int `json:"total_claims"`
	DeletedRecords int `json:"deleted_records"`
}

// Table is the result of Decode.
type Table struct {
	Schema *Schema
	Rows   []Row
	Stats
}

// Decode reads every record of the table at path. Deleted records are
// excluded unless opts.IncludeDeleted is set.
//
// A structural failure returns no rows. If ctx is cancelled between records
// the rows read so far are returned together with ctx.Err().
func Decode(ctx context.Context, path string, opts Options) (*Table, error) {
	t := &Table{}
	schema, stats, err := Scan(ctx, path, opts, func(row Row) error {
		t.Rows = append(t.Rows, row)
		return nil
	})
	t.Schema = schema
	t.Stats = stats
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return t, err
		}
		return nil, err
	}
	return t, nil
}

// Scan streams the records of the table at path to fn in file order. Records
// are read strictly sequentially so the returned counters describe a single
// consistent pass. An error returned by fn stops the scan and is returned.
func Scan(ctx context.Context, path string, opts Options, fn func(Row) error) (*Schema, Stats, error) {
	var stats Stats

	f, err := os.Open(path)
	if err != nil {
		return nil, stats, fmt.Errorf("%w: opening %s: %w", ErrIO, path, err)
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 64*1024)
	schema, err := ParseSchema(br)
	if err != nil {
		return nil, stats, err
	}

	cm := resolveCodePage(opts.CodePage, schema)
	buf := make([]byte, schema.RecordLength)
	oddFlags, firstOdd := 0, -1
	defer func() {
		if oddFlags > 0 {
			logging.Default(opts.Logger).Warn("records with an unrecognized deletion flag were read as active",
				"component", "dbf", "file", path, "records", oddFlags, "first", firstOdd)
		}
	}()

	for i := 0; i < schema.RecordCount; i++ {
		if err := ctx.Err(); err != nil {
			return schema, stats, err
		}

		if _, err := io.ReadFull(br, buf); err != nil {
			return schema, stats, fmt.Errorf("%w: record %d of %d: short read: %w", ErrIO, i, schema.RecordCount, err)
		}

		if buf[0] != FlagActive && buf[0] != FlagDeleted {
			if oddFlags == 0 {
				firstOdd = i
			}
			oddFlags++
		}
		row := decodeRecord(schema, cm, i, buf)

		if row.State == Deleted {
			stats.DeletedRecords++
		}
		if row.State == Active || opts.IncludeDeleted {
			stats.TotalRecords++
			if opts.Filter.Matches(&row) {
				stats.TotalClaims++
			}
			if err := fn(row); err != nil {
				return schema, stats, err
			}
		}

		if opts.OnProgress != nil {
			opts.OnProgress(i+1, schema.RecordCount)
		}
	}

	return schema, stats, nil
}

// ReadSchema parses only the header of the table at path.
func ReadSchema(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrIO, path, err)
	}
	defer f.Close()
	return ParseSchema(bufio.NewReader(f))
}

// ReadRecord decodes the single record at index, whatever its deletion state.
func ReadRecord(path string, index int, codePage *charmap.Charmap) (*Schema, Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Row{}, fmt.Errorf("%w: opening %s: %w", ErrIO, path, err)
	}
	defer f.Close()

	schema, err := ParseSchema(bufio.NewReader(f))
	if err != nil {
		return nil, Row{}, err
	}
	if index < 0 || index >= schema.RecordCount {
		return schema, Row{}, fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, index, schema.RecordCount)
	}

	buf := make([]byte, schema.RecordLength)
	if _, err := f.ReadAt(buf, schema.RecordOffset(index)); err != nil {
		return schema, Row{}, fmt.Errorf("%w: reading record %d: %w", ErrIO, index, err)
	}

	return schema, decodeRecord(schema, resolveCodePage(codePage, schema), index, buf), nil
}

// decodeRecord reads any flag other than the deleted mark as active, the way
// dBase itself does.
func decodeRecord(s *Schema, cm *charmap.Charmap, index int, rec []byte) Row {
	row := Row{
		Index:  index,
		Values: make(map[string]Value, len(s.Fields)),
	}

	if rec[0] == FlagDeleted {
		row.State = Deleted
	}

	payload := rec[1:]
	for _, fd := range s.Fields {
		raw := payload[fd.Displacement : fd.Displacement+fd.Length]
		v, err := decodeField(fd, raw, cm)
		if err != nil {
			row.DecodeErrors = append(row.DecodeErrors, &DecodeError{
				Record: index,
				Field:  fd.Name,
				Raw:    string(raw),
				Err:    err,
			})
			v = Null()
		}
		row.Values[fieldKey(fd.Name)] = v
	}
	return row
}

func decodeField(fd FieldDescriptor, raw []byte, cm *charmap.Charmap) (Value, error) {
	switch fd.Type {
	case Numeric, Float:
		s := trimPadding(raw)
		if len(s) == 0 {
			return Null(), nil
		}
		f, err := strconv.ParseFloat(string(s), 64)
		if err != nil {
			return Null(), err
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Null(), fmt.Errorf("%q is not a finite number", s)
		}
		return NumberValue(f), nil

	case Date:
		s := trimPadding(raw)
		if len(s) == 0 {
			return Null(), nil
		}
		if len(s) != len(DateLayout) {
			return Null(), fmt.Errorf("date must be %d digits", len(DateLayout))
		}
		t, err := time.Parse(DateLayout, string(s))
		if err != nil {
			return Null(), err
		}
		return DateValue(t), nil

	case Logical:
		switch raw[0] {
		case 'T', 't', 'Y', 'y', '1':
			return BoolValue(true), nil
		}
		return BoolValue(false), nil
	}

	// Character and unknown tags keep their text.
	return TextValue(decodeText(cm, bytes.TrimRight(raw, " \x00"))), nil
}

func trimPadding(b []byte) []byte {
	return bytes.Trim(b, " \x00")
}
