package workflows

import (
	"errors"
	"fmt"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/crasbi/crasbi-api/internal/models"
	"github.com/crasbi/crasbi-api/internal/temporal"
	"github.com/crasbi/crasbi-api/internal/temporal/activities"
)

// RunWorkflow prepares a run and executes its jobs one activity at a time,
// stopping at the first failed job. Activities are never retried.
func RunWorkflow(ctx workflow.Context, params temporal.RunParams) (*models.RunResult, error) {
	timeout := params.JobTimeout
	if timeout <= 0 {
		timeout = temporal.DefaultActivityTimeout
	}
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         &sdktemporal.RetryPolicy{MaximumAttempts: 1},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	logger := workflow.GetLogger(ctx)
	logger.Info("Starting run workflow", "RunID", params.RunID, "SourceID", params.SourceID)

	// The actual implementation is on the worker; this is just a proxy.
	var a *activities.Activities

	var prepared temporal.PrepareResult
	if err := workflow.ExecuteActivity(ctx, a.PrepareRunActivity, params).Get(ctx, &prepared); err != nil {
		logger.Error("Run preparation failed.", "error", err)
		return nil, err
	}

	result := &models.RunResult{
		RunID:     params.RunID,
		Status:    models.RunStatusRunning,
		SourceID:  prepared.SourceID,
		JobID:     params.JobID,
		Jobs:      []models.JobRunResult{},
		StartedAt: workflow.Now(ctx),
	}

	for _, jobID := range prepared.JobIDs {
		var jr models.JobRunResult
		jobParams := temporal.RunJobParams{RunID: params.RunID, SourceID: prepared.SourceID, JobID: jobID}
		err := workflow.ExecuteActivity(ctx, a.RunJobActivity, jobParams).Get(ctx, &jr)
		if err != nil {
			var timeoutErr *sdktemporal.TimeoutError
			timedOut := errors.As(err, &timeoutErr)
			msg := err.Error()
			if timedOut {
				msg = "run deadline exceeded"
			}
			result.Jobs = append(result.Jobs, models.JobRunResult{JobID: jobID, Status: models.RunStatusError, Message: msg})
			result.Fail(fmt.Sprintf("job %d failed: %s", jobID, msg))
			result.Finish(workflow.Now(ctx))
			logger.Error("Job activity failed.", "JobID", jobID, "error", err)
			return nil, temporal.JobFailedError(*result, timedOut)
		}

		result.Jobs = append(result.Jobs, jr)
		if jr.Status == models.RunStatusError {
			result.Fail(fmt.Sprintf("job %q failed: %s", jr.JobName, jr.Message))
			result.Finish(workflow.Now(ctx))
			logger.Warn("Run stopped at failed job.", "JobID", jobID)
			return nil, temporal.JobFailedError(*result, false)
		}
	}

	result.Finish(workflow.Now(ctx))
	result.Message = fmt.Sprintf("%d job(s) completed, %d records processed", len(result.Jobs), result.RecordsProcessed)
	logger.Info("Run workflow completed successfully.", "RunID", params.RunID, "RecordsProcessed", result.RecordsProcessed)
	return result, nil
}
