package codes

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "A010", Normalize("A01.0"))
	assert.Equal(t, "A010", Normalize(" a01.0 "))
	assert.Equal(t, "Z0000", Normalize("Z00.00"))
	assert.Equal(t, "", Normalize(" . "))
}

func TestLookup_IsValidCode(t *testing.T) {
	l := New("A010", "E11.9")
	assert.True(t, l.IsValidCode("A01.0"))
	assert.True(t, l.IsValidCode("e119"))
	assert.False(t, l.IsValidCode("A01.1"))
	assert.Equal(t, 2, l.Len())

	var empty *Lookup
	assert.False(t, empty.IsValidCode("A010"))
}

func TestRead_Formats(t *testing.T) {
	docs := map[string]string{
		"array":   `["A01.0", "E119"]`,
		"object":  `{"A010": "Typhoid fever, unspecified", "E11.9": "Type 2 diabetes"}`,
		"entries": `[{"code": "A010", "description": "Typhoid fever, unspecified"}, "E11.9"]`,
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			l, err := Read(strings.NewReader(doc))
			require.NoError(t, err)
			assert.Equal(t, 2, l.Len())
			assert.True(t, l.IsValidCode("A01.0"))
			assert.True(t, l.IsValidCode("E11.9"))
		})
	}

	l, err := Read(strings.NewReader(docs["object"]))
	require.NoError(t, err)
	desc, ok := l.Describe("a01.0")
	assert.True(t, ok)
	assert.Equal(t, "Typhoid fever, unspecified", desc)
}

func TestRead_Invalid(t *testing.T) {
	_, err := Read(strings.NewReader(`"A010"`))
	assert.Error(t, err)

	_, err = Read(strings.NewReader(`[1, 2]`))
	assert.Error(t, err)

	l, err := Read(strings.NewReader("  "))
	require.NoError(t, err)
	assert.Zero(t, l.Len())
}

func TestLoad_Gzipped(t *testing.T) {
	var buf bytes.Buffer
	gz := pgzip.NewWriter(&buf)
	_, err := gz.Write([]byte(`["A01.0","B20"]`))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	path := filepath.Join(t.TempDir(), "icd10.json.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	l, err := Load(path)
	require.NoError(t, err)
	assert.True(t, l.IsValidCode("B20"))
	assert.True(t, l.IsValidCode("A010"))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
