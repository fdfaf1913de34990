package dbf

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"
)

// EncodeField renders value as the fixed-length payload of fd. The buffer is
// space filled; Character is left aligned and truncated, Numeric and Float are
// right aligned with exactly fd.Decimals fraction digits, Date is yyyymmdd and
// Logical is a single T or F.
//
// Accepted values are nil, string, bool, time.Time, Value and the Go numeric
// types. Strings are converted according to the field type.
func EncodeField(fd FieldDescriptor, value any, cm *charmap.Charmap) ([]byte, error) {
	if cm == nil {
		cm = DefaultCodePage
	}
	buf := bytes.Repeat([]byte{' '}, fd.Length)

	switch fd.Type {
	case Character:
		copy(buf, encodeText(cm, textOf(value)))

	case Numeric, Float:
		f, ok, err := numberOf(value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fd.Name, err)
		}
		if !ok {
			return buf, nil
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("field %s: %v is not a finite number: %w", fd.Name, f, ErrInvalidValue)
		}
		s := strconv.FormatFloat(f, 'f', fd.Decimals, 64)
		if len(s) > fd.Length {
			return nil, fmt.Errorf("field %s: %q needs %d bytes, have %d: %w", fd.Name, s, len(s), fd.Length, ErrFieldOverflow)
		}
		copy(buf[fd.Length-len(s):], s)

	case Date:
		t, ok, err := dateOf(value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fd.Name, err)
		}
		if !ok {
			return buf, nil
		}
		if fd.Length < len(DateLayout) {
			return nil, fmt.Errorf("field %s: date needs %d bytes, have %d: %w", fd.Name, len(DateLayout), fd.Length, ErrFieldOverflow)
		}
		copy(buf, t.Format(DateLayout))

	case Logical:
		if truthy(value) {
			buf[0] = 'T'
		} else {
			buf[0] = 'F'
		}

	default:
		return nil, fmt.Errorf("field %s: unsupported type %s: %w", fd.Name, fd.Type, ErrInvalidValue)
	}

	return buf, nil
}

func textOf(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case Value:
		return v.String()
	case bool:
		if v {
			return "T"
		}
		return "F"
	case time.Time:
		return v.Format("2006-01-02")
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(value)
}

// numberOf returns ok=false for values that encode as an empty field.
func numberOf(value any) (float64, bool, error) {
	switch v := value.(type) {
	case nil:
		return 0, false, nil
	case float64:
		return v, true, nil
	case float32:
		return float64(v), true, nil
	case int:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	case int32:
		return float64(v), true, nil
	case uint:
		return float64(v), true, nil
	case uint64:
		return float64(v), true, nil
	case uint32:
		return float64(v), true, nil
	case Value:
		switch v.Kind {
		case KindNull:
			return 0, false, nil
		case KindNumber:
			return v.Number, true, nil
		case KindText:
			return numberOf(v.Text)
		}
		return 0, false, fmt.Errorf("%s value for numeric field: %w", v.Kind, ErrInvalidValue)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%q is not a number: %w", v, ErrInvalidValue)
		}
		return f, true, nil
	}
	return 0, false, fmt.Errorf("%T for numeric field: %w", value, ErrInvalidValue)
}

var dateInputLayouts = []string{DateLayout, "2006-01-02"}

func dateOf(value any) (time.Time, bool, error) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false, nil
		}
		return v, true, nil
	case Value:
		switch v.Kind {
		case KindNull:
			return time.Time{}, false, nil
		case KindDate:
			return v.Date, true, nil
		case KindText:
			return dateOf(v.Text)
		}
		return time.Time{}, false, fmt.Errorf("%s value for date field: %w", v.Kind, ErrInvalidValue)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false, nil
		}
		for _, layout := range dateInputLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true, nil
			}
		}
		return time.Time{}, false, fmt.Errorf("%q is not a yyyymmdd or yyyy-mm-dd date: %w", v, ErrInvalidValue)
	}
	return time.Time{}, false, fmt.Errorf("%T for date field: %w", value, ErrInvalidValue)
}

// truthy accepts T, TRUE, Y, YES and 1 in any case.
func truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case Value:
		if v.Kind == KindBool {
			return v.Bool
		}
	}
	switch strings.ToUpper(strings.TrimSpace(textOf(value))) {
	case "T", "TRUE", "Y", "YES", "1":
		return true
	}
	return false
}
