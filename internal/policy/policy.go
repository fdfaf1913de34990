// Package policy declares which validation rule applies to which column.
// Policies are plain data; the validate package interprets them.
package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Type selects the validation rule.
type Type int

const (
	TypeNone Type = iota
	TypeDate
	TypeIcd10
	TypeNpi
	TypeMember
	TypeRequired
)

var typeNames = map[Type]string{
	TypeNone:     "None",
	TypeDate:     "Date",
	TypeIcd10:    "Icd10",
	TypeNpi:      "Npi",
	TypeMember:   "Member",
	TypeRequired: "Required",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

func (t Type) MarshalText() ([]byte, error) {
	s, ok := typeNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown policy type %d", int(t))
	}
	return []byte(s), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseType accepts the type names case-insensitively.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TypeNone, nil
	}
	for t, name := range typeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return TypeNone, fmt.Errorf("unknown policy type %q", s)
}

// Option keys understood by the validator.
const (
	AllowFuture = "AllowFuture"
	AllowEmpty  = "AllowEmpty"
	MinDate     = "MinDate"
	MaxDate     = "MaxDate"
	DisplayName = "DisplayName"
)

// OptionDateLayout is the layout of MinDate and MaxDate option values.
const OptionDateLayout = "2006-01-02"

// Policy is a validation rule plus its options. Options are never mutated
// by the validator.
type Policy struct {
	Type    Type              `json:"type" yaml:"type"`
	Options map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// None performs no checks.
func None() Policy { return Policy{Type: TypeNone} }

// DatePolicy rejects future dates and accepts empty values.
func DatePolicy() Policy {
	return Policy{Type: TypeDate, Options: map[string]string{
		AllowFuture: "false",
		AllowEmpty:  "true",
	}}
}

func Icd10Policy() Policy {
	return Policy{Type: TypeIcd10, Options: map[string]string{AllowEmpty: "true"}}
}

func NpiPolicy() Policy {
	return Policy{Type: TypeNpi, Options: map[string]string{AllowEmpty: "true"}}
}

func MemberPolicy() Policy {
	return Policy{Type: TypeMember, Options: map[string]string{AllowEmpty: "true"}}
}

// RequiredPolicy only rejects empty values.
func RequiredPolicy() Policy {
	return Policy{Type: TypeRequired, Options: map[string]string{AllowEmpty: "false"}}
}

// Default returns the named constructor result for t.
func Default(t Type) Policy {
	switch t {
	case TypeDate:
		return DatePolicy()
	case TypeIcd10:
		return Icd10Policy()
	case TypeNpi:
		return NpiPolicy()
	case TypeMember:
		return MemberPolicy()
	case TypeRequired:
		return RequiredPolicy()
	}
	return None()
}

// With returns a copy of p with key set to value.
func (p Policy) With(key, value string) Policy {
	opts := make(map[string]string, len(p.Options)+1)
	for k, v := range p.Options {
		opts[k] = v
	}
	opts[key] = value
	p.Options = opts
	return p
}

// Option looks up key case-insensitively.
func (p Policy) Option(key string) (string, bool) {
	if v, ok := p.Options[key]; ok {
		return v, true
	}
	for k, v := range p.Options {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// Bool reads a boolean option, falling back to the type default and then to def.
func (p Policy) Bool(key string, def bool) bool {
	v, ok := p.Option(key)
	if !ok {
		v, ok = Default(p.Type).Option(key)
	}
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// Date reads a yyyy-mm-dd option. ok is false when the option is absent or
// malformed.
func (p Policy) Date(key string) (time.Time, bool) {
	v, ok := p.Option(key)
	if !ok || strings.TrimSpace(v) == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(OptionDateLayout, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// AllowsEmpty reports whether a blank value passes this policy.
func (p Policy) AllowsEmpty() bool {
	return p.Bool(AllowEmpty, p.Type != TypeRequired)
}
