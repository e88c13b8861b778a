package models

import (
	"strings"
	"time"
)

type JobStatus string

const (
	JobStatusReady   JobStatus = "ready"
	JobStatusRunning JobStatus = "running"
	JobStatusSuccess JobStatus = "success"
	JobStatusError   JobStatus = "error"
)

type Job struct {
	ID                   int64      `json:"id" db:"id"`
	JobName              string     `json:"job_name" db:"job_name"`
	SourceID             int64      `json:"source" db:"source_id"`
	SourceName           string     `json:"source_name" db:"-"`
	SourceTable          string     `json:"source_table" db:"source_table"`
	TargetTable          string     `json:"target_table" db:"target_table"`
	JobQuery             string     `json:"job_query" db:"job_query"`
	Status               JobStatus  `json:"status" db:"status"`
	LastRunAt            *time.Time `json:"last_run_at" db:"last_run_at"`
	LastRecordsProcessed *int64     `json:"last_records_processed" db:"last_records_processed"`
	LastError            *string    `json:"last_error" db:"last_error"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

// JobInput is the client payload for create, replace and partial update.
type JobInput struct {
	JobName     *string `json:"job_name"`
	Source      FlexInt `json:"source"`
	SourceTable *string `json:"source_table"`
	TargetTable *string `json:"target_table"`
	JobQuery    *string `json:"job_query"`
}

// NewJob validates a full payload. Whether Source points at an existing
// connection is checked by the caller against the registry.
func (in JobInput) NewJob() (*Job, FieldErrors) {
	errs := FieldErrors{}
	job := &Job{Status: JobStatusReady}

	job.JobName = requiredString(errs, "job_name", in.JobName)
	job.SourceTable = requiredString(errs, "source_table", in.SourceTable)
	job.TargetTable = requiredString(errs, "target_table", in.TargetTable)
	job.JobQuery = requiredString(errs, "job_query", in.JobQuery)
	if msg := in.Source.Check(); msg != "" {
		errs.Add("source", msg)
	} else {
		job.SourceID = in.Source.Value
	}

	errs.merge(job.StorageErrors())

	if !errs.Empty() {
		return nil, errs
	}
	return job, nil
}

// Apply merges the fields present in the payload onto job.
func (in JobInput) Apply(job *Job) FieldErrors {
	errs := FieldErrors{}
	if in.JobName != nil {
		job.JobName = requiredString(errs, "job_name", in.JobName)
	}
	if in.SourceTable != nil {
		job.SourceTable = requiredString(errs, "source_table", in.SourceTable)
	}
	if in.TargetTable != nil {
		job.TargetTable = requiredString(errs, "target_table", in.TargetTable)
	}
	if in.JobQuery != nil {
		job.JobQuery = requiredString(errs, "job_query", in.JobQuery)
	}
	if in.Source.Set {
		if msg := in.Source.Check(); msg != "" {
			errs.Add("source", msg)
		} else {
			job.SourceID = in.Source.Value
		}
	}
	errs.merge(job.StorageErrors())
	if !errs.Empty() {
		return errs
	}
	return nil
}

// SplitTable splits an optionally schema-qualified table name.
func SplitTable(name string) (schema, table string) {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}
