package activities

import (
	"context"

	"github.com/pkg/errors"
	"go.temporal.io/sdk/activity"

	"github.com/crasbi/crasbi-api/internal/engine"
	"github.com/crasbi/crasbi-api/internal/models"
	"github.com/crasbi/crasbi-api/internal/repository"
	"github.com/crasbi/crasbi-api/internal/temporal"
)

type Activities struct {
	Engine   *engine.Engine
	ConnRepo repository.ConnectionRepository
	JobRepo  repository.JobRepository
}

// PrepareRunActivity resolves the run against the registry and returns the
// ordered job ids.
func (a *Activities) PrepareRunActivity(ctx context.Context, params temporal.RunParams) (*temporal.PrepareResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Preparing run", "RunID", params.RunID, "SourceID", params.SourceID, "JobID", params.JobID)

	req := models.RunRequest{
		SourceID: models.FlexInt{Value: params.SourceID, Set: params.SourceID != 0},
		JobID:    models.FlexInt{Value: params.JobID, Set: params.JobID != 0},
	}
	plan, err := a.Engine.Resolve(ctx, req)
	if err != nil {
		logger.Error("Run rejected", "error", err)
		return nil, temporal.EncodeError(err)
	}

	result := &temporal.PrepareResult{RunID: params.RunID, SourceID: plan.SourceID, JobIDs: []int64{}}
	for _, job := range plan.Jobs {
		result.JobIDs = append(result.JobIDs, job.ID)
	}
	return result, nil
}

// RunJobActivity runs one job. A failing job is reported through the result
// status; an error is returned only when the job could not be attempted or the
// activity was cancelled.
func (a *Activities) RunJobActivity(ctx context.Context, params temporal.RunJobParams) (*models.JobRunResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Running job", "RunID", params.RunID, "JobID", params.JobID)

	conn, err := a.ConnRepo.Get(ctx, params.SourceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			err = errors.Wrapf(engine.ErrSourceNotFound, "source connection %d", params.SourceID)
		}
		return nil, temporal.EncodeError(err)
	}
	if !conn.IsActive {
		return nil, temporal.EncodeError(errors.Wrapf(engine.ErrConnectionInactive, "source connection %d", conn.ID))
	}
	job, err := a.JobRepo.Get(ctx, params.JobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			err = errors.Wrapf(engine.ErrJobNotFound, "job %d", params.JobID)
		}
		return nil, temporal.EncodeError(err)
	}

	result, err := a.Engine.RunJob(ctx, conn, job)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("Job failed", "JobID", job.ID, "error", err)
	}
	return &result, nil
}
