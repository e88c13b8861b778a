package models

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Column widths of the registry tables.
const (
	MaxNameLength     = 255
	MaxUsernameLength = 100
)

const MsgNullCharacter = "Null characters are not allowed."

func msgMaxLength(n int) string {
	return fmt.Sprintf("Ensure this field has no more than %d characters.", n)
}

// checkText adds an error when s cannot be stored in a column of limit
// characters. limit <= 0 means unbounded.
func checkText(errs FieldErrors, field, s string, limit int) {
	if strings.ContainsRune(s, 0) {
		errs.Add(field, MsgNullCharacter)
	}
	if limit > 0 && utf8.RuneCountInString(s) > limit {
		errs.Add(field, msgMaxLength(limit))
	}
}

// merge copies messages not already present in errs.
func (fe FieldErrors) merge(other FieldErrors) {
	for field, msgs := range other {
		for _, msg := range msgs {
			if !contains(fe[field], msg) {
				fe.Add(field, msg)
			}
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// StorageErrors reports values the registry columns cannot hold.
func (c *Connection) StorageErrors() FieldErrors {
	errs := FieldErrors{}
	checkText(errs, "source_name", c.SourceName, MaxNameLength)
	checkText(errs, "host", c.Host, MaxNameLength)
	checkText(errs, "database_name", c.DatabaseName, MaxNameLength)
	checkText(errs, "username", c.Username, MaxUsernameLength)
	if errs.Empty() {
		return nil
	}
	return errs
}

// StorageErrors reports values the registry columns cannot hold.
func (j *Job) StorageErrors() FieldErrors {
	errs := FieldErrors{}
	checkText(errs, "job_name", j.JobName, MaxNameLength)
	checkText(errs, "source_table", j.SourceTable, MaxNameLength)
	checkText(errs, "target_table", j.TargetTable, MaxNameLength)
	checkText(errs, "job_query", j.JobQuery, 0)
	if errs.Empty() {
		return nil
	}
	return errs
}
