package dbf

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

type testRecord struct {
	deleted bool
	values  []any
}

// buildHeader lays out a prologue plus descriptors for fields. pad adds
// unused bytes at the end of every record; backlink appends bytes after
// the terminator the way some writers do.
func buildHeader(fields []FieldDescriptor, recordCount, pad, backlink int) []byte {
	headerLen := PrologueSize + DescriptorSize*len(fields) + 1 + backlink
	recordLen := 1 + pad
	for _, f := range fields {
		recordLen += f.Length
	}

	h := make([]byte, headerLen)
	h[0] = 0x03
	h[1], h[2], h[3] = 124, 1, 15
	binary.LittleEndian.PutUint32(h[4:8], uint32(recordCount))
	binary.LittleEndian.PutUint16(h[8:10], uint16(headerLen))
	binary.LittleEndian.PutUint16(h[10:12], uint16(recordLen))
	h[codePageOffset] = 0x03

	for i, f := range fields {
		d := h[PrologueSize+i*DescriptorSize : PrologueSize+(i+1)*DescriptorSize]
		copy(d[:nameSize], f.Name)
		d[11] = byte(f.Type)
		d[16] = byte(f.Length)
		d[17] = byte(f.Decimals)
	}
	h[PrologueSize+DescriptorSize*len(fields)] = HeaderTerminator
	return h
}

func buildTable(t *testing.T, fields []FieldDescriptor, records []testRecord) []byte {
	t.Helper()
	data := buildHeader(fields, len(records), 0, 0)
	for _, rec := range records {
		flag := byte(FlagActive)
		if rec.deleted {
			flag = FlagDeleted
		}
		data = append(data, flag)
		for i, f := range fields {
			var v any
			if i < len(rec.values) {
				v = rec.values[i]
			}
			if raw, ok := v.([]byte); ok {
				data = append(data, raw...)
				continue
			}
			buf, err := EncodeField(f, v, nil)
			if err != nil {
				t.Fatalf("encoding fixture field %s: %v", f.Name, err)
			}
			data = append(data, buf...)
		}
	}
	return append(data, 0x1A)
}

func writeTable(t *testing.T, fields []FieldDescriptor, records []testRecord) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claims.dbf")
	if err := os.WriteFile(path, buildTable(t, fields, records), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func bytesReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }

func claimFields() []FieldDescriptor {
	return []FieldDescriptor{
		{Name: "IMAGE", Type: Character, Length: 12},
		{Name: "PAGE", Type: Character, Length: 1},
		{Name: "MEMBER", Type: Character, Length: 10},
		{Name: "AMOUNT", Type: Numeric, Length: 9, Decimals: 2},
		{Name: "UNITS", Type: Float, Length: 5},
		{Name: "DOS", Type: Date, Length: 8},
		{Name: "PAID", Type: Logical, Length: 1},
	}
}
