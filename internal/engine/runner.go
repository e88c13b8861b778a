package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/crasbi/crasbi-api/internal/models"
)

// Runner executes a run request to completion. A returned result is always
// terminal. When the run fails after it started, both the result and a
// *RunError are returned.
type Runner interface {
	Run(ctx context.Context, req models.RunRequest) (models.RunResult, error)
}

var (
	ErrSourceNotFound     = errors.New("source connection not found")
	ErrJobNotFound        = errors.New("job not found")
	ErrConnectionInactive = errors.New("source connection is inactive")
	ErrRunInProgress      = errors.New("a run is already in progress for this source connection")
	ErrUnsupportedType    = errors.New("unsupported db_type for extraction")
)

// RunError reports the job that stopped a started run.
type RunError struct {
	JobID int64
	Err   error
}

func (e *RunError) Error() string {
	if e.JobID == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("job %d: %v", e.JobID, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Timeout reports whether the run was stopped by its deadline.
func (e *RunError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}
