// Package dbf reads and patches fixed-record binary claim tables.
//
// A table is a 32-byte prologue, a run of 32-byte field descriptors closed by
// a 0x0D terminator, then RecordCount fixed-length records. Every record
// starts with a one-byte deletion flag followed by the field payloads in
// descriptor order.
//
// Prologue layout (32 bytes):
//
//	version        (1 byte)
//	last update    (3 bytes, YY MM DD, ignored)
//	record count   (4 bytes, little-endian)
//	header length  (2 bytes, little-endian)
//	record length  (2 bytes, little-endian)
//	reserved       (20 bytes, byte 29 = code page mark)
//
// Field descriptor layout (32 bytes):
//
//	name           (11 bytes, zero padded)
//	type tag       (1 byte: C N F D L)
//	reserved       (4 bytes)
//	length         (1 byte)
//	decimal count  (1 byte)
//	reserved       (14 bytes)
package dbf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	PrologueSize   = 32
	DescriptorSize = 32

	// MinHeaderSize is a prologue plus the descriptor terminator.
	MinHeaderSize = PrologueSize + 1

	HeaderTerminator = 0x0D
	FlagActive       = 0x20
	FlagDeleted      = 0x2A

	nameSize       = 11
	codePageOffset = 29
)

var (
	ErrIO              = errors.New("dbf: i/o failure")
	ErrFormat          = errors.New("dbf: invalid table format")
	ErrCorruptHeader   = fmt.Errorf("%w: corrupt header", ErrFormat)
	ErrIndexOutOfRange = errors.New("dbf: record index out of range")
	ErrFieldOverflow   = errors.New("dbf: value does not fit field")
	ErrInvalidValue    = errors.New("dbf: value not valid for field type")
)

// FieldType is the one-byte type tag of a field descriptor.
type FieldType byte

const (
	Character FieldType = 'C'
	Numeric   FieldType = 'N'
	Float     FieldType = 'F'
	Date      FieldType = 'D'
	Logical   FieldType = 'L'
)

// Known reports whether t is one of the supported type tags.
func (t FieldType) Known() bool {
	switch t {
	case Character, Numeric, Float, Date, Logical:
		return true
	}
	return false
}

func (t FieldType) String() string {
	switch t {
	case Character:
		return "Character"
	case Numeric:
		return "Numeric"
	case Float:
		return "Float"
	case Date:
		return "Date"
	case Logical:
		return "Logical"
	}
	return fmt.Sprintf("Unknown(%q)", byte(t))
}

// MarshalText renders the raw tag so JSON output shows "C" rather than 67.
func (t FieldType) MarshalText() ([]byte, error) {
	return []byte{byte(t)}, nil
}

// FieldDescriptor describes one column. Displacement is the byte offset of
// the field inside a record, not counting the deletion flag.
type FieldDescriptor struct {
	Name         string    `json:"name"`
	Type         FieldType `json:"type"`
	Length       int       `json:"length"`
	Decimals     int       `json:"decimals"`
	Displacement int       `json:"displacement"`
}

// Schema is the parsed table header. It is immutable once returned by
// ParseSchema.
type Schema struct {
	Version      byte              `json:"version"`
	CodePageMark byte              `json:"code_page_mark"`
	RecordCount  int               `json:"record_count"`
	HeaderLength int               `json:"header_length"`
	RecordLength int               `json:"record_length"`
	Fields       []FieldDescriptor `json:"fields"`

	byName map[string]int
}

// Field returns the descriptor for name, compared case-insensitively.
func (s *Schema) Field(name string) (FieldDescriptor, bool) {
	i, ok := s.byName[fieldKey(name)]
	if !ok {
		return FieldDescriptor{}, false
	}
	return s.Fields[i], true
}

// HasField reports whether the schema declares name.
func (s *Schema) HasField(name string) bool {
	_, ok := s.byName[fieldKey(name)]
	return ok
}

// RecordOffset is the absolute file offset of the deletion flag of record i.
func (s *Schema) RecordOffset(i int) int64 {
	return int64(s.HeaderLength) + int64(i)*int64(s.RecordLength)
}

// FieldOffset is the absolute file offset of field f in record i.
func (s *Schema) FieldOffset(i int, f FieldDescriptor) int64 {
	return s.RecordOffset(i) + 1 + int64(f.Displacement)
}

// DataLength is the expected file size up to the end of the last record.
func (s *Schema) DataLength() int64 {
	return s.RecordOffset(s.RecordCount)
}

// ParseSchema reads the prologue and the field descriptor table from r.
// Exactly HeaderLength bytes are consumed on success, leaving r positioned
// at the first record.
func ParseSchema(r io.Reader) (*Schema, error) {
	var pro [PrologueSize]byte
	if _, err := io.ReadFull(r, pro[:]); err != nil {
		return nil, fmt.Errorf("%w: reading prologue: %v", ErrCorruptHeader, err)
	}

	s := &Schema{
		Version:      pro[0],
		CodePageMark: pro[codePageOffset],
		RecordCount:  int(binary.LittleEndian.Uint32(pro[4:8])),
		HeaderLength: int(binary.LittleEndian.Uint16(pro[8:10])),
		RecordLength: int(binary.LittleEndian.Uint16(pro[10:12])),
	}
	if s.HeaderLength < MinHeaderSize {
		return nil, fmt.Errorf("%w: header length %d below minimum %d", ErrCorruptHeader, s.HeaderLength, MinHeaderSize)
	}

	rest := make([]byte, s.HeaderLength-PrologueSize)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, fmt.Errorf("%w: declared header length %d exceeds available bytes: %v", ErrCorruptHeader, s.HeaderLength, err)
	}

	if err := s.parseDescriptors(rest); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Schema) parseDescriptors(table []byte) error {
	n := (s.HeaderLength - MinHeaderSize) / DescriptorSize
	s.Fields = make([]FieldDescriptor, 0, n)
	s.byName = make(map[string]int, n)

	displacement := 0
	for i := 0; i < n; i++ {
		d := table[i*DescriptorSize : (i+1)*DescriptorSize]
		if d[0] == HeaderTerminator {
			break
		}

		fd := FieldDescriptor{
			Name:         descriptorName(d[:nameSize]),
			Type:         FieldType(d[11]),
			Length:       int(d[16]),
			Decimals:     int(d[17]),
			Displacement: displacement,
		}
		if fd.Name == "" {
			return fmt.Errorf("%w: field %d has an empty name", ErrCorruptHeader, i)
		}
		if fd.Length <= 0 {
			return fmt.Errorf("%w: field %q has non-positive length %d", ErrCorruptHeader, fd.Name, fd.Length)
		}
		key := fieldKey(fd.Name)
		if _, dup := s.byName[key]; dup {
			return fmt.Errorf("%w: duplicate field name %q", ErrFormat, fd.Name)
		}

		s.byName[key] = len(s.Fields)
		s.Fields = append(s.Fields, fd)
		displacement += fd.Length
	}

	if len(s.Fields) == 0 {
		return fmt.Errorf("%w: no field descriptors", ErrFormat)
	}
	// One byte of every record is the deletion flag.
	if displacement+1 > s.RecordLength {
		return fmt.Errorf("%w: fields span %d bytes but record length is %d", ErrFormat, displacement+1, s.RecordLength)
	}
	return nil
}

func descriptorName(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

func fieldKey(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
