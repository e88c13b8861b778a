package dispatch

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/crasbi/crasbi-api/internal/engine"
	"github.com/crasbi/crasbi-api/internal/models"
	"github.com/crasbi/crasbi-api/internal/temporal"
	"github.com/crasbi/crasbi-api/internal/temporal/workflows"
)

// Resolver validates a run request before a workflow is started.
type Resolver interface {
	Resolve(ctx context.Context, req models.RunRequest) (*engine.Plan, error)
}

// Dispatcher runs ETL requests as Temporal workflows and waits for their
// result. It implements engine.Runner.
type Dispatcher struct {
	client    client.Client
	resolver  Resolver
	taskQueue string
	timeout   time.Duration
	logger    zerolog.Logger
}

func NewDispatcher(c client.Client, resolver Resolver, taskQueue string, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if taskQueue == "" {
		taskQueue = temporal.DefaultTaskQueue
	}
	return &Dispatcher{
		client:    c,
		resolver:  resolver,
		taskQueue: taskQueue,
		timeout:   timeout,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
	}
}

func (d *Dispatcher) Run(ctx context.Context, req models.RunRequest) (models.RunResult, error) {
	plan, err := d.resolver.Resolve(ctx, req)
	if err != nil {
		return models.RunResult{}, err
	}

	opts := client.StartWorkflowOptions{
		ID:                                       temporal.RunWorkflowID(plan.SourceID),
		TaskQueue:                                d.taskQueue,
		WorkflowExecutionTimeout:                 d.timeout,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	params := temporal.RunParams{RunID: plan.RunID, SourceID: plan.SourceID, JobID: plan.JobID, JobTimeout: d.timeout}

	run, err := d.client.ExecuteWorkflow(ctx, opts, workflows.RunWorkflow, params)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return models.RunResult{}, errors.Wrapf(engine.ErrRunInProgress, "source connection %d", plan.SourceID)
		}
		return models.RunResult{}, errors.Wrap(err, "starting run workflow")
	}
	d.logger.Info().Str("run_id", plan.RunID).Str("workflow_id", run.GetID()).Str("temporal_run_id", run.GetRunID()).Msg("run workflow started")

	var result models.RunResult
	if err := run.Get(ctx, &result); err != nil {
		failed, derr := temporal.DecodeError(err)
		var runErr *engine.RunError
		if errors.As(derr, &runErr) {
			if failed.RunID == "" {
				failed = plan.NewResult(time.Now())
				msg := derr.Error()
				if runErr.Timeout() {
					msg = "run deadline exceeded"
				}
				failed.Fail(msg)
				failed.Finish(time.Now())
			}
			d.logger.Warn().Str("run_id", plan.RunID).Err(derr).Msg("run failed")
			return failed, derr
		}
		return models.RunResult{}, derr
	}
	return result, nil
}
