package validate

import "fmt"

// ErrorKind classifies a field validation failure.
type ErrorKind int

const (
	InvalidFormat ErrorKind = iota
	NotFound
	FutureDate
	InvalidCode
	Required
	OutOfRange
	DateTooOld
	ApiValidationFailed
)

var kindNames = [...]string{
	InvalidFormat:       "InvalidFormat",
	NotFound:            "NotFound",
	FutureDate:          "FutureDate",
	InvalidCode:         "InvalidCode",
	Required:            "Required",
	OutOfRange:          "OutOfRange",
	DateTooOld:          "DateTooOld",
	ApiValidationFailed: "ApiValidationFailed",
}

func (k ErrorKind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// FieldError is one failed check on one column of one record.
type FieldError struct {
	ColumnName   string    `json:"column_name"`
	DisplayName  string    `json:"display_name"`
	CurrentValue string    `json:"current_value"`
	ErrorMessage string    `json:"error_message"`
	Kind         ErrorKind `json:"error_kind"`
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", e.ColumnName, e.ErrorMessage)
}
