package dbf

import (
	"encoding/json"
	"strconv"
	"time"
)

// Kind tags the dynamic type carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindText
	KindNumber
	KindDate
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	case KindBool:
		return "bool"
	}
	return "null"
}

// DateLayout is the on-disk date representation.
const DateLayout = "20060102"

// Value is a decoded field value. Only the member selected by Kind is
// meaningful.
type Value struct {
	Kind   Kind
	Text   string
	Number float64
	Date   time.Time
	Bool   bool
}

func Null() Value { return Value{} }
func TextValue(s string) Value { return Value{Kind: KindText, Text: s} }
func NumberValue(f float64) Value { return Value{Kind: KindNumber, Number: f} }
func DateValue(t time.Time) Value { return Value{Kind: KindDate, Date: t} }
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

// String renders the value the way validation and reports see it. Dates use
// ISO yyyy-mm-dd, null is the empty string.
func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case KindDate:
		return v.Date.Format("2006-01-02")
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	}
	return ""
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindText:
		return json.Marshal(v.Text)
	case KindNumber:
		return json.Marshal(v.Number)
	case KindDate:
		return json.Marshal(v.Date.Format("2006-01-02"))
	case KindBool:
		return json.Marshal(v.Bool)
	}
	return []byte("null"), nil
}
