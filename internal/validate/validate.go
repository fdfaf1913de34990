// Package validate applies column policies to decoded rows.
//
// Failures are values, not Go errors: a row produces a list of FieldError in
// the configured column order, and every check on every column runs even when
// an earlier one failed. The only short-circuit is per column, where an empty
// value that the policy rejects stops further checks on that column.
package validate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gyeh/claimcheck/internal/codes"
	"github.com/gyeh/claimcheck/internal/dbf"
	"github.com/gyeh/claimcheck/internal/npi"
	"github.com/gyeh/claimcheck/internal/policy"
)

// CodeLookup is the ICD-10 code set.
type CodeLookup interface {
	IsValidCode(code string) bool
	Describe(code string) (string, bool)
}

// IDValidator answers whether an identifier exists in a remote source.
type IDValidator interface {
	Validate(ctx context.Context, id string) (bool, error)
}

// Validator holds the collaborators used by the policies. A nil collaborator
// makes its policy report ApiValidationFailed.
type Validator struct {
	Codes  CodeLookup
	NPI    IDValidator
	Member IDValidator

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// MinDate is a floor applied to every Date column without its own
	// MinDate option. Zero means none.
	MinDate time.Time
}

func (v *Validator) today() time.Time {
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	return dateOnly(now())
}

// Validate checks row against the policies in cfg. columns selects and
// orders the columns; nil means cfg.Columns(). Columns missing from the row
// are skipped. A checked column whose stored bytes could not be decoded
// reports InvalidFormat with the raw payload as its value.
func (v *Validator) Validate(ctx context.Context, row dbf.Row, columns []string, cfg *policy.ColumnConfig) []FieldError {
	if columns == nil {
		columns = cfg.Columns()
	}

	var errs []FieldError
	today := v.today()
	for _, col := range columns {
		val, ok := row.Get(col)
		if !ok {
			continue
		}
		p := cfg.PolicyFor(col)
		if p.Type == policy.TypeNone {
			continue
		}
		if de := decodeErrorFor(row, col); de != nil {
			errs = append(errs, FieldError{
				ColumnName:   col,
				DisplayName:  displayName(col, p),
				CurrentValue: strings.TrimSpace(de.Raw),
				ErrorMessage: fmt.Sprintf("stored value %q cannot be read: %v", strings.TrimSpace(de.Raw), de.Err),
				Kind:         InvalidFormat,
			})
			continue
		}
		if fe, failed := v.checkColumn(ctx, col, val, p, today); failed {
			errs = append(errs, fe)
		}
	}
	return errs
}

func (v *Validator) checkColumn(ctx context.Context, col string, val dbf.Value, p policy.Policy, today time.Time) (FieldError, bool) {
	raw := strings.TrimSpace(val.String())
	fail := func(kind ErrorKind, format string, args ...any) (FieldError, bool) {
		return FieldError{
			ColumnName:   col,
			DisplayName:  displayName(col, p),
			CurrentValue: raw,
			ErrorMessage: fmt.Sprintf(format, args...),
			Kind:         kind,
		}, true
	}

	if raw == "" {
		if !p.AllowsEmpty() {
			return fail(Required, "%s is required", displayName(col, p))
		}
		return FieldError{}, false
	}

	switch p.Type {
	case policy.TypeDate:
		d := val.Date
		if val.Kind != dbf.KindDate {
			parsed, err := ParseDate(raw)
			if err != nil {
				return fail(InvalidFormat, "%q is not a recognized date", raw)
			}
			d = parsed
		}
		d = dateOnly(d)

		if d.After(today) && !p.Bool(policy.AllowFuture, false) {
			return fail(FutureDate, "date %s is in the future", d.Format(policy.OptionDateLayout))
		}
		floor, ok := p.Date(policy.MinDate)
		if !ok {
			floor, ok = v.MinDate, !v.MinDate.IsZero()
		}
		if ok && d.Before(dateOnly(floor)) {
			return fail(DateTooOld, "date %s is before %s", d.Format(policy.OptionDateLayout), floor.Format(policy.OptionDateLayout))
		}
		if ceil, ok := p.Date(policy.MaxDate); ok && d.After(ceil) {
			return fail(OutOfRange, "date %s is after %s", d.Format(policy.OptionDateLayout), ceil.Format(policy.OptionDateLayout))
		}

	case policy.TypeIcd10:
		if v.Codes == nil {
			return fail(ApiValidationFailed, "no ICD-10 code set is loaded")
		}
		if !v.Codes.IsValidCode(codes.Normalize(raw)) {
			return fail(InvalidCode, "%s is not a valid ICD-10 code", raw)
		}

	case policy.TypeNpi:
		if !npi.ValidCheckDigit(raw) {
			return fail(InvalidFormat, "%s is not a valid NPI", raw)
		}
		return v.remote(ctx, v.NPI, "NPI registry", raw, fail)

	case policy.TypeMember:
		return v.remote(ctx, v.Member, "member service", raw, fail)
	}
	return FieldError{}, false
}

func (v *Validator) remote(ctx context.Context, src IDValidator, name, id string, fail func(ErrorKind, string, ...any) (FieldError, bool)) (FieldError, bool) {
	if src == nil {
		return fail(ApiValidationFailed, "%s is not configured", name)
	}
	ok, err := src.Validate(ctx, id)
	if err != nil {
		return fail(ApiValidationFailed, "%s check failed: %v", name, err)
	}
	if !ok {
		return fail(NotFound, "%s not found in %s", id, name)
	}
	return FieldError{}, false
}

func decodeErrorFor(row dbf.Row, col string) *dbf.DecodeError {
	for _, de := range row.DecodeErrors {
		if strings.EqualFold(strings.TrimSpace(de.Field), strings.TrimSpace(col)) {
			return de
		}
	}
	return nil
}

func displayName(col string, p policy.Policy) string {
	if name, ok := p.Option(policy.DisplayName); ok && strings.TrimSpace(name) != "" {
		return name
	}
	return col
}

// ValidateRows validates rows concurrently, at most limit at a time, and
// returns the error lists in input order. done[i] reports whether row i was
// fully validated; after a cancellation only those rows carry a result.
func (v *Validator) ValidateRows(ctx context.Context, rows []dbf.Row, columns []string, cfg *policy.ColumnConfig, limit int) (out [][]FieldError, done []bool, err error) {
	if columns == nil {
		columns = cfg.Columns()
	}
	out = make([][]FieldError, len(rows))
	done = make([]bool, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := range rows {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			errs := v.Validate(gctx, rows[i], columns, cfg)
			// A remote check interrupted by the cancel would report a
			// spurious failure.
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i], done[i] = errs, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, done, err
	}
	return out, done, ctx.Err()
}
