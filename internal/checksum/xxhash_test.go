package checksum

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFile(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.dbf")
	b := filepath.Join(dir, "b.dbf")
	os.WriteFile(a, []byte("claims"), 0o644)
	os.WriteFile(b, []byte("claimz"), 0o644)

	sumA, err := File(a)
	if err != nil {
		t.Fatal(err)
	}
	if len(sumA) != 16 {
		t.Errorf("digest length = %d, want 16", len(sumA))
	}

	again, _ := File(a)
	if again != sumA {
		t.Error("digest not stable")
	}
	sumB, _ := File(b)
	if sumB == sumA {
		t.Error("different content, same digest")
	}

	fromReader, err := Reader(strings.NewReader("claims"))
	if err != nil || fromReader != sumA {
		t.Errorf("Reader = %q, %v", fromReader, err)
	}

	if _, err := File(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}
