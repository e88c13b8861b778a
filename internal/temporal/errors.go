package temporal

import (
	"context"
	"errors"

	sdktemporal "go.temporal.io/sdk/temporal"

	"github.com/crasbi/crasbi-api/internal/engine"
	"github.com/crasbi/crasbi-api/internal/models"
)

// Application error types carried across the workflow boundary.
const (
	ErrTypeInvalidRequest     = "InvalidRequest"
	ErrTypeSourceNotFound     = "SourceNotFound"
	ErrTypeJobNotFound        = "JobNotFound"
	ErrTypeConnectionInactive = "ConnectionInactive"
	ErrTypeJobFailed          = "JobFailed"
	ErrTypeRunTimeout         = "RunTimeout"
)

var sentinels = map[string]error{
	ErrTypeSourceNotFound:     engine.ErrSourceNotFound,
	ErrTypeJobNotFound:        engine.ErrJobNotFound,
	ErrTypeConnectionInactive: engine.ErrConnectionInactive,
}

// EncodeError turns an engine rejection into a non-retryable application
// error. Other errors are returned unchanged.
func EncodeError(err error) error {
	var fieldErrs models.FieldErrors
	if errors.As(err, &fieldErrs) {
		return sdktemporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidRequest, err, fieldErrs)
	}
	for typ, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return sdktemporal.NewNonRetryableApplicationError(err.Error(), typ, err)
		}
	}
	return err
}

// JobFailedError reports a failed run together with its partial result.
func JobFailedError(result models.RunResult, timedOut bool) error {
	typ := ErrTypeJobFailed
	if timedOut {
		typ = ErrTypeRunTimeout
	}
	return sdktemporal.NewNonRetryableApplicationError(result.Message, typ, nil, result)
}

// DecodeError maps a workflow failure back to the engine's errors. For failed
// runs the partial result is recovered from the error details.
func DecodeError(err error) (models.RunResult, error) {
	var appErr *sdktemporal.ApplicationError
	if !errors.As(err, &appErr) {
		var timeoutErr *sdktemporal.TimeoutError
		if errors.As(err, &timeoutErr) {
			return models.RunResult{}, &engine.RunError{Err: context.DeadlineExceeded}
		}
		return models.RunResult{}, err
	}

	switch appErr.Type() {
	case ErrTypeInvalidRequest:
		var fieldErrs models.FieldErrors
		if appErr.HasDetails() && appErr.Details(&fieldErrs) == nil {
			return models.RunResult{}, fieldErrs
		}
		return models.RunResult{}, models.FieldErrors{"non_field_errors": {appErr.Message()}}
	case ErrTypeJobFailed, ErrTypeRunTimeout:
		var result models.RunResult
		if appErr.HasDetails() {
			_ = appErr.Details(&result)
		}
		cause := errors.New(appErr.Message())
		if appErr.Type() == ErrTypeRunTimeout {
			cause = context.DeadlineExceeded
		}
		return result, &engine.RunError{JobID: failedJob(result), Err: cause}
	}
	if sentinel, ok := sentinels[appErr.Type()]; ok {
		return models.RunResult{}, &wrapped{msg: appErr.Message(), err: sentinel}
	}
	return models.RunResult{}, err
}

func failedJob(result models.RunResult) int64 {
	for _, j := range result.Jobs {
		if j.Status == models.RunStatusError {
			return j.JobID
		}
	}
	return 0
}

type wrapped struct {
	msg string
	err error
}

func (w *wrapped) Error() string { return w.msg }
func (w *wrapped) Unwrap() error { return w.err }
