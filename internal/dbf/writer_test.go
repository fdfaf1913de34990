package dbf

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestWriteField_OverwritesInPlace(t *testing.T) {
	path := writeTable(t, claimFields(), sampleRecords())
	before := readFile(t, path)

	ok, err := WriteField(path, 1, "dos", "2024-06-30", WriterOptions{})
	require.NoError(t, err)
	assert.True(t, ok)

	after := readFile(t, path)
	require.Equal(t, len(before), len(after))

	s, err := ParseSchema(bytes.NewReader(after))
	require.NoError(t, err)
	fd, _ := s.Field("DOS")
	off := int(s.FieldOffset(1, fd))
	assert.Equal(t, "20240630", string(after[off:off+8]))

	// Nothing else changed.
	assert.Equal(t, before[:off], after[:off])
	assert.Equal(t, before[off+8:], after[off+8:])

	_, row, err := ReadRecord(path, 1, nil)
	require.NoError(t, err)
	dos, _ := row.Get("DOS")
	assert.Equal(t, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), dos.Date)
}

func TestWriteField_SameValueTwiceIsStable(t *testing.T) {
	path := writeTable(t, claimFields(), sampleRecords())

	_, err := WriteField(path, 0, "AMOUNT", 17.25, WriterOptions{})
	require.NoError(t, err)
	first := readFile(t, path)

	_, err = WriteField(path, 0, "AMOUNT", 17.25, WriterOptions{})
	require.NoError(t, err)
	assert.Equal(t, first, readFile(t, path))
}

func TestWriteField_IndexOutOfRange(t *testing.T) {
	path := writeTable(t, claimFields(), sampleRecords())
	before := readFile(t, path)

	ok, err := WriteField(path, len(sampleRecords()), "MEMBER", "X", WriterOptions{})
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	assert.False(t, ok)

	_, err = WriteField(path, -1, "MEMBER", "X", WriterOptions{})
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	assert.Equal(t, before, readFile(t, path))
}

func TestWriteField_UnknownFieldIsSkipped(t *testing.T) {
	path := writeTable(t, claimFields(), sampleRecords())
	before := readFile(t, path)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	ok, err := WriteField(path, 0, "MEMBR", "X", WriterOptions{Logger: logger})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, before, readFile(t, path))
	assert.Contains(t, logs.String(), "skipping unknown field")
	assert.Contains(t, logs.String(), "MEMBR")
}

func TestMarkDeleted(t *testing.T) {
	path := writeTable(t, claimFields(), sampleRecords())

	ok, err := MarkDeleted(path, 0, WriterOptions{})
	require.NoError(t, err)
	assert.True(t, ok)

	data := readFile(t, path)
	s, err := ParseSchema(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, byte('*'), data[s.RecordOffset(0)])

	table, err := Decode(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Len(t, table.Rows, 2)
	assert.Equal(t, 2, table.DeletedRecords)

	// A deleted record can still be patched by index.
	ok, err = WriteField(path, 0, "MEMBER", "M999", WriterOptions{})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = Undelete(path, 0, WriterOptions{})
	require.NoError(t, err)
	_, row, err := ReadRecord(path, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, Active, row.State)
	member, _ := row.Get("MEMBER")
	assert.Equal(t, "M999", member.Text)

	_, err = MarkDeleted(path, 4, WriterOptions{})
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestWriteBatch_PartialFailure(t *testing.T) {
	path := writeTable(t, claimFields(), sampleRecords())

	res, err := WriteBatch(context.Background(), path, []RecordUpdate{
		{Record: 0, Fields: []FieldValue{{Name: "MEMBER", Value: "A1"}, {Name: "NOTE", Value: "x"}}},
		{Record: 9, Fields: []FieldValue{{Name: "MEMBER", Value: "B1"}}},
		{Record: 1, Fields: []FieldValue{{Name: "MEMBER", Value: "C1"}, {Name: "AMOUNT", Value: 123456789.0}}},
		{Record: 3, Fields: []FieldValue{{Name: "PAID", Value: "yes"}}},
	}, WriterOptions{})
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 4)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 2, res.Failed())
	assert.Equal(t, []string{"MEMBER"}, res.Outcomes[0].Written)
	assert.Equal(t, []string{"NOTE"}, res.Outcomes[0].Skipped)
	assert.ErrorIs(t, res.Outcomes[1].Err, ErrIndexOutOfRange)
	assert.ErrorIs(t, res.Outcomes[2].Err, ErrFieldOverflow)
	// The field written before the failure stays written.
	assert.Equal(t, []string{"MEMBER"}, res.Outcomes[2].Written)

	msgs := res.Errors()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "record 9")
	assert.Contains(t, msgs[1], "record 1")

	table, err := Decode(context.Background(), path, Options{})
	require.NoError(t, err)
	m0, _ := table.Rows[0].Get("MEMBER")
	m1, _ := table.Rows[1].Get("MEMBER")
	paid, _ := table.Rows[2].Get("PAID")
	assert.Equal(t, "A1", m0.Text)
	assert.Equal(t, "C1", m1.Text)
	assert.True(t, paid.Bool)
}

func TestWriteBatch_Cancelled(t *testing.T) {
	path := writeTable(t, claimFields(), sampleRecords())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := WriteBatch(ctx, path, []RecordUpdate{
		{Record: 0, Fields: []FieldValue{{Name: "MEMBER", Value: "A1"}}},
	}, WriterOptions{})
	require.NoError(t, err)
	assert.Zero(t, res.Succeeded)
	assert.ErrorIs(t, res.Outcomes[0].Err, context.Canceled)
}

func TestOpenWriter_ExclusiveLock(t *testing.T) {
	path := writeTable(t, claimFields(), sampleRecords())

	w, err := OpenWriter(path, WriterOptions{})
	require.NoError(t, err)

	_, err = OpenWriter(path, WriterOptions{})
	assert.ErrorIs(t, err, ErrIO)

	require.NoError(t, w.Close())
	w2, err := OpenWriter(path, WriterOptions{})
	require.NoError(t, err)
	require.NoError(t, w2.Close())
}

func TestOpenWriter_TruncatedFile(t *testing.T) {
	path := writeTable(t, claimFields(), sampleRecords())
	data := readFile(t, path)
	require.NoError(t, os.WriteFile(path, data[:len(data)-20], 0o644))

	w, err := OpenWriter(path, WriterOptions{})
	require.NoError(t, err)
	defer w.Close()

	_, err = w.WriteField(3, "PAID", true)
	assert.ErrorIs(t, err, ErrIO)
}
