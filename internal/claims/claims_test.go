package claims

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyeh/claimcheck/internal/codes"
	"github.com/gyeh/claimcheck/internal/dbf"
	"github.com/gyeh/claimcheck/internal/policy"
	"github.com/gyeh/claimcheck/internal/progress"
	"github.com/gyeh/claimcheck/internal/validate"
)

func TestSummarize_HundredRowsThreeFailing(t *testing.T) {
	results := make([]RecordResult, 100)
	for i := range results {
		results[i] = RecordResult{RecordIndex: i}
	}
	for _, i := range []int{70, 5, 42} {
		results[i].FieldErrors = []validate.FieldError{{ColumnName: "DOS", Kind: validate.FutureDate}}
	}
	results[42].FieldErrors = append(results[42].FieldErrors, validate.FieldError{ColumnName: "DIAG1", Kind: validate.InvalidCode})

	res := Summarize("claims.dbf", "images", results)
	assert.Equal(t, 100, res.TotalRecords)
	assert.Equal(t, 97, res.ValidRecords)
	assert.Equal(t, 3, res.RecordsWithErrors)
	assert.Equal(t, 4, res.TotalFieldErrors)
	require.Len(t, res.ErrorRecords, 3)
	assert.InDelta(t, 97.00, res.SuccessRate(), 1e-9)
	assert.Equal(t, "claims.dbf", res.SourceFilePath)
	assert.Equal(t, "images", res.ImagesFolderPath)
	assert.False(t, res.ProcessedAt.IsZero())

	var order []int
	for _, r := range res.ErrorRecords {
		order = append(order, r.RecordIndex)
	}
	assert.Equal(t, []int{5, 42, 70}, order)
}

func TestSummarize_Empty(t *testing.T) {
	res := Summarize("claims.dbf", "", nil)
	assert.Zero(t, res.TotalRecords)
	assert.Zero(t, res.SuccessRate())
	assert.NotNil(t, res.ErrorRecords)
}

func TestResult_JSONIncludesSuccessRate(t *testing.T) {
	res := Summarize("claims.dbf", "", []RecordResult{{}, {FieldErrors: []validate.FieldError{{Kind: validate.Required}}}})
	data, err := json.Marshal(res)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 50.0, decoded["success_rate"])
	assert.Equal(t, 2.0, decoded["total_records"])

	errs := decoded["error_records"].([]any)
	fe := errs[0].(map[string]any)["field_errors"].([]any)[0].(map[string]any)
	assert.Equal(t, "Required", fe["error_kind"])
}

// claimFile writes a table with IMAGE C12, PAGE C1, DOS D8 and DIAG C7.
type claimRow struct {
	deleted bool
	image   string
	page    string
	dos     string
	diag    string
}

func writeClaimFile(t *testing.T, rows []claimRow) string {
	t.Helper()
	fields := []dbf.FieldDescriptor{
		{Name: "IMAGE", Type: dbf.Character, Length: 12},
		{Name: "PAGE", Type: dbf.Character, Length: 1},
		{Name: "DOS", Type: dbf.Date, Length: 8},
		{Name: "DIAG", Type: dbf.Character, Length: 7},
	}
	headerLen := dbf.PrologueSize + dbf.DescriptorSize*len(fields) + 1
	recordLen := 1 + 12 + 1 + 8 + 7

	data := make([]byte, headerLen)
	data[0] = 0x03
	binary.LittleEndian.PutUint32(data[4:8], uint32(len(rows)))
	binary.LittleEndian.PutUint16(data[8:10], uint16(headerLen))
	binary.LittleEndian.PutUint16(data[10:12], uint16(recordLen))
	for i, f := range fields {
		d := data[dbf.PrologueSize+i*dbf.DescriptorSize:]
		copy(d[:11], f.Name)
		d[11] = byte(f.Type)
		d[16] = byte(f.Length)
	}
	data[headerLen-1] = dbf.HeaderTerminator

	for _, r := range rows {
		flag := byte(dbf.FlagActive)
		if r.deleted {
			flag = dbf.FlagDeleted
		}
		data = append(data, flag)
		for i, v := range []string{r.image, r.page, r.dos, r.diag} {
			buf, err := dbf.EncodeField(fields[i], v, nil)
			require.NoError(t, err)
			data = append(data, buf...)
		}
	}
	data = append(data, 0x1A)

	path := filepath.Join(t.TempDir(), "claims.dbf")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newProcessor() *Processor {
	return &Processor{
		Validator: &validate.Validator{
			Codes: codes.New("A010", "E119"),
			Now:   func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) },
		},
		Config: &policy.ColumnConfig{
			SelectedColumns: []string{"DOS", "DIAG"},
			Policies: map[string]policy.Policy{
				"DOS":  policy.DatePolicy(),
				"DIAG": policy.Icd10Policy(),
			},
		},
		Filter:      dbf.ClaimFilter{Column: "PAGE", Exclude: "2"},
		ImageColumn: "IMAGE",
		ImagesPath:  "/scans",
		ChunkSize:   2,
		Concurrency: 2,
	}
}

func TestProcess(t *testing.T) {
	path := writeClaimFile(t, []claimRow{
		{image: "IMG0001.TIF", page: "1", dos: "20250101", diag: "A01.0"},
		{image: "IMG0002.TIF", page: "2", dos: "20310101", diag: ""},
		{image: "IMG0003.TIF", page: "1", dos: "20240101", diag: "ZZZ"},
		{deleted: true, image: "IMG0004.TIF", page: "1", dos: "20310101", diag: "ZZZ"},
		{image: "IMG0005.TIF", page: "1", dos: "", diag: "E11.9"},
	})

	res, err := newProcessor().Process(context.Background(), path, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Len(t, res.SourceChecksum, 16)
	assert.Equal(t, path, res.SourceFilePath)
	assert.Equal(t, "/scans", res.ImagesFolderPath)
	assert.Equal(t, 4, res.TotalRecords)
	assert.Equal(t, 2, res.ValidRecords)
	assert.Equal(t, 2, res.RecordsWithErrors)
	assert.Equal(t, 2, res.TotalFieldErrors)
	assert.Equal(t, 3, res.TotalClaims)
	assert.Equal(t, 1, res.DeletedRecords)
	assert.False(t, res.Cancelled)
	assert.InDelta(t, 50.0, res.SuccessRate(), 1e-9)

	require.Len(t, res.ErrorRecords, 2)
	first := res.ErrorRecords[0]
	assert.Equal(t, 1, first.RecordIndex)
	assert.Equal(t, "IMG0002.TIF", first.ImageFileName)
	require.Len(t, first.FieldErrors, 1)
	assert.Equal(t, validate.FutureDate, first.FieldErrors[0].Kind)
	assert.NotNil(t, first.RecordData)

	second := res.ErrorRecords[1]
	assert.Equal(t, 2, second.RecordIndex)
	assert.Equal(t, validate.InvalidCode, second.FieldErrors[0].Kind)
}

func TestProcess_MissingFile(t *testing.T) {
	res, err := newProcessor().Process(context.Background(), filepath.Join(t.TempDir(), "none.dbf"), nil)
	assert.ErrorIs(t, err, dbf.ErrIO)
	require.NotNil(t, res)
	assert.Zero(t, res.TotalRecords)
	assert.Empty(t, res.ErrorRecords)
}

func TestProcess_ZeroByteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.dbf")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	res, err := newProcessor().Process(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Zero(t, res.TotalRecords)
	assert.Zero(t, res.SuccessRate())
}

func TestProcess_CorruptHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.dbf")
	require.NoError(t, os.WriteFile(path, []byte{0x03, 0, 0}, 0o644))

	res, err := newProcessor().Process(context.Background(), path, nil)
	assert.ErrorIs(t, err, dbf.ErrFormat)
	require.NotNil(t, res)
	assert.Zero(t, res.TotalRecords)
}

type cancelAt struct {
	progress.Tracker
	at     int64
	cancel context.CancelFunc
}

func (c *cancelAt) SetProgress(current, total int64) {
	if current == c.at {
		c.cancel()
	}
}

func TestProcess_CancelledKeepsValidatedChunks(t *testing.T) {
	rows := make([]claimRow, 6)
	for i := range rows {
		rows[i] = claimRow{image: "IMG", page: "1", dos: "20310101", diag: "A010"}
	}
	path := writeClaimFile(t, rows)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tracker := &cancelAt{Tracker: progress.NoopTracker(), at: 3, cancel: cancel}

	res, err := newProcessor().Process(ctx, path, tracker)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.True(t, res.Cancelled)
	// Rows 0 and 1 formed a full chunk before the cancel; row 2 was pending.
	assert.Equal(t, 2, res.TotalRecords)
	assert.Equal(t, 2, res.RecordsWithErrors)
	assert.Equal(t, 2, res.TotalClaims)
	assert.NotEmpty(t, res.SourceChecksum)
}

func TestProcess_UndecodableDateIsReported(t *testing.T) {
	path := writeClaimFile(t, []claimRow{
		{image: "IMG0001.TIF", page: "1", dos: "20250101", diag: "A010"},
		{image: "IMG0002.TIF", page: "1", dos: "20250102", diag: "A010"},
	})

	s, err := dbf.ReadSchema(path)
	require.NoError(t, err)
	dos, ok := s.Field("DOS")
	require.True(t, ok)
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("2024AB01"), s.FieldOffset(1, dos))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	res, err := newProcessor().Process(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalRecords)
	assert.Equal(t, 1, res.ValidRecords)
	assert.Equal(t, 1, res.RecordsWithErrors)
	require.Len(t, res.ErrorRecords, 1)

	rec := res.ErrorRecords[0]
	assert.Equal(t, 1, rec.RecordIndex)
	require.Len(t, rec.FieldErrors, 1)
	assert.Equal(t, validate.InvalidFormat, rec.FieldErrors[0].Kind)
	assert.Equal(t, "DOS", rec.FieldErrors[0].ColumnName)
	assert.Equal(t, "2024AB01", rec.FieldErrors[0].CurrentValue)
}

// cancellingMembers cancels the run when asked about id.
type cancellingMembers struct {
	id     string
	cancel context.CancelFunc
}

func (c *cancellingMembers) Validate(ctx context.Context, id string) (bool, error) {
	if id == c.id {
		c.cancel()
		return false, ctx.Err()
	}
	return true, nil
}

func TestProcess_CancelledMidChunkKeepsFinishedRows(t *testing.T) {
	path := writeClaimFile(t, []claimRow{
		{image: "IMG1", page: "1"},
		{image: "IMG2", page: "2"},
		{image: "IMG3", page: "1"},
		{image: "IMG4", page: "1"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newProcessor()
	p.Validator.Member = &cancellingMembers{id: "IMG3", cancel: cancel}
	p.Config = &policy.ColumnConfig{
		SelectedColumns: []string{"IMAGE"},
		Policies:        map[string]policy.Policy{"IMAGE": policy.MemberPolicy()},
	}
	p.ChunkSize = 4
	p.Concurrency = 1

	res, err := p.Process(ctx, path, nil)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.True(t, res.Cancelled)
	// IMG1 and IMG2 finished before the cancel; IMG3 was interrupted.
	assert.Equal(t, 2, res.TotalRecords)
	assert.Equal(t, 2, res.ValidRecords)
	assert.Equal(t, 1, res.TotalClaims)
	assert.Empty(t, res.ErrorRecords)
}
