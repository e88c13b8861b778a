package models

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Validation messages shared by the connection and job payloads.
const (
	MsgRequired       = "This field is required."
	MsgBlank          = "This field may not be blank."
	MsgInvalidInteger = "A valid integer is required."
	MsgInvalidBoolean = "Must be a valid boolean."
	MsgNull           = "This field may not be null."
)

const nonFieldKey = "non_field_errors"

// FieldErrors maps a field name to its validation messages. Cross-field
// problems are stored under "non_field_errors".
type FieldErrors map[string][]string

func (fe FieldErrors) Add(field, msg string) {
	fe[field] = append(fe[field], msg)
}

func (fe FieldErrors) AddNonField(msg string) {
	fe.Add(nonFieldKey, msg)
}

func (fe FieldErrors) Empty() bool {
	return len(fe) == 0
}

// Error renders the messages deterministically so FieldErrors can travel as an error.
func (fe FieldErrors) Error() string {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(fe[k], " "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// FlexInt decodes an integer that may arrive as a JSON number or a numeric
// string, which is what HTML form values look like once serialized. Decoding
// never fails; malformed input is recorded and reported by validation.
type FlexInt struct {
	Value   int64
	Set     bool
	Null    bool
	Invalid bool
}

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	f.Set = true
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		f.Null = true
		return nil
	}

	var raw string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			f.Invalid = true
			return nil
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			f.Null = true
			return nil
		}
	} else {
		raw = string(data)
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Accept 5432.0 style numbers only when they are whole.
		fv, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || fv != float64(int64(fv)) {
			f.Invalid = true
			return nil
		}
		v = int64(fv)
	}
	f.Value = v
	return nil
}

// Check reports the validation message for a required integer field, or "".
func (f FlexInt) Check() string {
	switch {
	case !f.Set:
		return MsgRequired
	case f.Null:
		return MsgNull
	case f.Invalid:
		return MsgInvalidInteger
	}
	return ""
}

// FlexBool accepts true/false as well as "true"/"false"/"1"/"0" strings.
type FlexBool struct {
	Value   bool
	Set     bool
	Invalid bool
}

func (f *FlexBool) UnmarshalJSON(data []byte) error {
	f.Set = true
	data = bytes.TrimSpace(data)
	s := strings.Trim(string(data), `"`)
	v, err := strconv.ParseBool(strings.ToLower(s))
	if err != nil {
		f.Invalid = true
		return nil
	}
	f.Value = v
	return nil
}

// ParseBool parses query-string booleans the same way FlexBool does.
func ParseBool(s string) (bool, bool) {
	v, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return false, false
	}
	return v, true
}
