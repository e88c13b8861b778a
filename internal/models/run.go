package models

import "time"

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
)

// RunRequest selects what to run: every job of a connection, or a single job.
type RunRequest struct {
	SourceID FlexInt `json:"source_id"`
	JobID    FlexInt `json:"job_id"`
}

// Validate checks that at least one usable identifier was supplied.
func (r RunRequest) Validate() FieldErrors {
	errs := FieldErrors{}
	if !r.SourceID.Set && !r.JobID.Set {
		errs.Add("source_id", MsgRequired)
		return errs
	}
	if r.SourceID.Set {
		if msg := r.SourceID.Check(); msg != "" {
			errs.Add("source_id", msg)
		}
	}
	if r.JobID.Set {
		if msg := r.JobID.Check(); msg != "" {
			errs.Add("job_id", msg)
		}
	}
	if !errs.Empty() {
		return errs
	}
	return nil
}

// JobRunResult is the outcome of a single job within a run.
type JobRunResult struct {
	JobID            int64     `json:"job_id"`
	JobName          string    `json:"job_name"`
	TargetTable      string    `json:"target_table"`
	Status           RunStatus `json:"status"`
	RecordsProcessed int64     `json:"records_processed"`
	Message          string    `json:"message,omitempty"`
	DurationMs       int64     `json:"duration_ms"`
}

// RunResult is what the run trigger returns. Status is always terminal.
type RunResult struct {
	RunID            string         `json:"run_id"`
	Status           RunStatus      `json:"status"`
	SourceID         int64          `json:"source_id,omitempty"`
	JobID            int64          `json:"job_id,omitempty"`
	RecordsProcessed int64          `json:"records_processed"`
	Message          string         `json:"message,omitempty"`
	Jobs             []JobRunResult `json:"jobs"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       time.Time      `json:"finished_at"`
	DurationMs       int64          `json:"duration_ms"`
}

// Fail turns the result into a terminal error result.
func (r *RunResult) Fail(msg string) {
	r.Status = RunStatusError
	r.Message = msg
}

// Finish stamps the end time and aggregates the job counts.
func (r *RunResult) Finish(now time.Time) {
	if r.Jobs == nil {
		r.Jobs = []JobRunResult{}
	}
	var total int64
	for _, j := range r.Jobs {
		total += j.RecordsProcessed
	}
	r.RecordsProcessed = total
	if r.Status != RunStatusError {
		r.Status = RunStatusSuccess
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = now
	}
	r.FinishedAt = now
	r.DurationMs = now.Sub(r.StartedAt).Milliseconds()
}
