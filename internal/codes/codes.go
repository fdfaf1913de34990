// Package codes holds the ICD-10 code set used to validate diagnosis columns.
package codes

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/pgzip"
)

// Lookup is an in-memory ICD-10 code set keyed by normalized code.
type Lookup struct {
	codes map[string]string
}

// Entry is one code and its description.
type Entry struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// New builds a lookup from codes with no descriptions.
func New(codes ...string) *Lookup {
	l := &Lookup{codes: make(map[string]string, len(codes))}
	for _, c := range codes {
		l.Add(c, "")
	}
	return l
}

// Add inserts code. Blank codes are ignored.
func (l *Lookup) Add(code, description string) {
	key := Normalize(code)
	if key == "" {
		return
	}
	l.codes[key] = strings.TrimSpace(description)
}

// Normalize strips dots and whitespace and upper-cases the code, so
// "a01.0" and "A010" compare equal.
func Normalize(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		switch r {
		case '.', ' ', '\t', '\n', '\r':
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

// IsValidCode reports whether code is in the set after normalization.
func (l *Lookup) IsValidCode(code string) bool {
	if l == nil {
		return false
	}
	_, ok := l.codes[Normalize(code)]
	return ok
}

// Describe returns the description for code, if any.
func (l *Lookup) Describe(code string) (string, bool) {
	if l == nil {
		return "", false
	}
	d, ok := l.codes[Normalize(code)]
	return d, ok
}

func (l *Lookup) Len() int {
	if l == nil {
		return 0
	}
	return len(l.codes)
}

// Load reads a code set from a JSON file. Gzipped files are detected by
// their magic bytes. The document may be an array of codes, an object
// mapping code to description, or an array of {code, description}.
func Load(path string) (*Lookup, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening code set: %w", err)
	}
	defer f.Close()

	l, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return l, nil
}

// Read decodes a code set from r, decompressing it when gzipped.
func Read(r io.Reader) (*Lookup, error) {
	br := bufio.NewReader(r)
	var src io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := pgzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		src = gz
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("reading code set: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Lookup, error) {
	data = bytes.TrimSpace(data)
	l := New()
	if len(data) == 0 {
		return l, nil
	}

	switch data[0] {
	case '{':
		var m map[string]string
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parsing code map: %w", err)
		}
		for code, desc := range m {
			l.Add(code, desc)
		}
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing code list: %w", err)
		}
		for i, item := range raw {
			var code string
			if err := json.Unmarshal(item, &code); err == nil {
				l.Add(code, "")
				continue
			}
			var e Entry
			if err := json.Unmarshal(item, &e); err != nil {
				return nil, fmt.Errorf("parsing code list item %d: %w", i, err)
			}
			l.Add(e.Code, e.Description)
		}
	default:
		return nil, fmt.Errorf("code set must be a JSON array or object")
	}
	return l, nil
}
