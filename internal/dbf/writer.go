package dbf

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"

	"golang.org/x/text/encoding/charmap"

	"github.com/gyeh/claimcheck/internal/logging"
)

// WriterOptions configures OpenWriter.
type WriterOptions struct {
	CodePage *charmap.Charmap
	Logger   *slog.Logger
}

// Writer patches fields of an existing table in place. It holds an exclusive
// advisory lock on the file until Close. Readers do not take the lock; the
// caller must not decode a file while it is being written.
type Writer struct {
	f      *os.File
	path   string
	schema *Schema
	cm     *charmap.Charmap
	size   int64
	logger *slog.Logger
}

// OpenWriter opens path for in-place updates and parses its header.
func OpenWriter(path string, opts WriterOptions) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s for write: %w", ErrIO, path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s is locked by another writer: %w", ErrIO, path, err)
	}

	schema, err := ParseSchema(bufio.NewReader(io.NewSectionReader(f, 0, 1<<16)))
	if err != nil {
		f.Close()
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", ErrIO, path, err)
	}

	logger := logging.Default(opts.Logger)
	return &Writer{
		f:      f,
		path:   path,
		schema: schema,
		cm:     resolveCodePage(opts.CodePage, schema),
		size:   info.Size(),
		logger: logger.With("component", "dbf-writer", "file", path),
	}, nil
}

// Schema returns the header of the open table.
func (w *Writer) Schema() *Schema { return w.schema }

// Close releases the lock and the file handle.
func (w *Writer) Close() error {
	return w.f.Close()
}

// WriteField overwrites one field of one record. It reports false without
// error when the schema has no field called fieldName, so callers can pass
// update maps that cover more columns than this table has.
func (w *Writer) WriteField(recordIndex int, fieldName string, value any) (bool, error) {
	if err := w.checkIndex(recordIndex); err != nil {
		return false, err
	}

	fd, ok := w.schema.Field(fieldName)
	if !ok {
		w.logger.Warn("skipping unknown field", "field", fieldName, "record", recordIndex)
		return false, nil
	}

	buf, err := EncodeField(fd, value, w.cm)
	if err != nil {
		return false, err
	}

	if err := w.writeAt(buf, w.schema.FieldOffset(recordIndex, fd)); err != nil {
		return false, fmt.Errorf("record %d field %s: %w", recordIndex, fd.Name, err)
	}
	return true, nil
}

// SetDeleted overwrites the deletion flag of a record.
func (w *Writer) SetDeleted(recordIndex int, deleted bool) error {
	if err := w.checkIndex(recordIndex); err != nil {
		return err
	}
	flag := byte(FlagActive)
	if deleted {
		flag = FlagDeleted
	}
	return w.writeAt([]byte{flag}, w.schema.RecordOffset(recordIndex))
}

func (w *Writer) checkIndex(i int) error {
	if i < 0 || i >= w.schema.RecordCount {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, i, w.schema.RecordCount)
	}
	return nil
}

func (w *Writer) writeAt(buf []byte, off int64) error {
	if off+int64(len(buf)) > w.size {
		return fmt.Errorf("%w: offset %d+%d beyond end of file (%d bytes)", ErrIO, off, len(buf), w.size)
	}
	if _, err := w.f.WriteAt(buf, off); err != nil {
		return fmt.Errorf("%w: writing at offset %d: %w", ErrIO, off, err)
	}
	return nil
}

// WriteField opens path, overwrites one field and closes it again.
func WriteField(path string, recordIndex int, fieldName string, value any, opts WriterOptions) (bool, error) {
	w, err := OpenWriter(path, opts)
	if err != nil {
		return false, err
	}
	defer w.Close()
	return w.WriteField(recordIndex, fieldName, value)
}

// MarkDeleted sets the deletion flag of a record to '*'.
func MarkDeleted(path string, recordIndex int, opts WriterOptions) (bool, error) {
	return setDeleted(path, recordIndex, true, opts)
}

// Undelete restores the deletion flag of a record to ' '.
func Undelete(path string, recordIndex int, opts WriterOptions) (bool, error) {
	return setDeleted(path, recordIndex, false, opts)
}

func setDeleted(path string, recordIndex int, deleted bool, opts WriterOptions) (bool, error) {
	w, err := OpenWriter(path, opts)
	if err != nil {
		return false, err
	}
	defer w.Close()
	if err := w.SetDeleted(recordIndex, deleted); err != nil {
		return false, err
	}
	return true, nil
}

// FieldValue is one field assignment inside a RecordUpdate.
type FieldValue struct {
	Name  string `json:"name" yaml:"name"`
	Value any    `json:"value" yaml:"value"`
}

// RecordUpdate assigns several fields of one record.
type RecordUpdate struct {
	Record int          `json:"record" yaml:"record"`
	Fields []FieldValue `json:"fields" yaml:"fields"`
}

// UpdateOutcome is the result of applying one RecordUpdate. Fields written
// before a failure stay written.
type UpdateOutcome struct {
	Record  int      `json:"record"`
	Written []string `json:"written,omitempty"`
	Skipped []string `json:"skipped,omitempty"`
	Err     error    `json:"-"`
}

// BatchResult lists the outcome of every attempted update in order.
type BatchResult struct {
	Outcomes  []UpdateOutcome `json:"outcomes"`
	Succeeded int             `json:"succeeded"`
}

// Failed is the number of updates that returned an error.
func (b *BatchResult) Failed() int {
	return len(b.Outcomes) - b.Succeeded
}

// Errors returns one message per failed update.
func (b *BatchResult) Errors() []string {
	var msgs []string
	for _, o := range b.Outcomes {
		if o.Err != nil {
			msgs = append(msgs, fmt.Sprintf("record %d: %v", o.Record, o.Err))
		}
	}
	return msgs
}

// WriteBatch applies updates in order. It is not transactional: a failing
// update does not undo earlier ones, and later updates are still attempted.
// Cancellation is checked between records; updates not attempted are
// reported with ctx.Err(). The returned error is non-nil only when the file
// cannot be opened at all.
func WriteBatch(ctx context.Context, path string, updates []RecordUpdate, opts WriterOptions) (*BatchResult, error) {
	w, err := OpenWriter(path, opts)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	res := &BatchResult{Outcomes: make([]UpdateOutcome, 0, len(updates))}
	for _, u := range updates {
		out := UpdateOutcome{Record: u.Record}
		if err := ctx.Err(); err != nil {
			out.Err = err
			res.Outcomes = append(res.Outcomes, out)
			continue
		}

		out.Err = w.applyUpdate(u, &out)
		if out.Err == nil {
			res.Succeeded++
		}
		res.Outcomes = append(res.Outcomes, out)
	}

	if n := res.Failed(); n > 0 {
		w.logger.Warn("batch update finished with failures", "succeeded", res.Succeeded, "failed", n)
	} else {
		w.logger.Info("batch update finished", "succeeded", res.Succeeded)
	}
	return res, nil
}

func (w *Writer) applyUpdate(u RecordUpdate, out *UpdateOutcome) error {
	if err := w.checkIndex(u.Record); err != nil {
		return err
	}
	for _, fv := range u.Fields {
		ok, err := w.WriteField(u.Record, fv.Name, fv.Value)
		if err != nil {
			return err
		}
		if ok {
			out.Written = append(out.Written, fv.Name)
		} else {
			out.Skipped = append(out.Skipped, fv.Name)
		}
	}
	return nil
}

// IsStructural reports whether err aborts a whole operation rather than a
// single field.
func IsStructural(err error) bool {
	return errors.Is(err, ErrIO) || errors.Is(err, ErrFormat)
}
