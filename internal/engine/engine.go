package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/crasbi/crasbi-api/internal/models"
	"github.com/crasbi/crasbi-api/internal/repository"
	"github.com/crasbi/crasbi-api/internal/utils"
)

const bookkeepingTimeout = 5 * time.Second

type Options struct {
	RunTimeout        time.Duration
	MaxConcurrentRuns int64
}

// Engine runs ETL jobs in-process. At most one run per source connection is
// active at a time, and at most MaxConcurrentRuns runs overall.
type Engine struct {
	conns     repository.ConnectionRepository
	jobs      repository.JobRepository
	cipher    *utils.PasswordCipher
	extractor Extractor
	loader    Loader
	timeout   time.Duration
	slots     *semaphore.Weighted
	logger    zerolog.Logger
	now       func() time.Time

	mu     sync.Mutex
	active map[int64]struct{}
}

func New(
	conns repository.ConnectionRepository,
	jobs repository.JobRepository,
	cipher *utils.PasswordCipher,
	extractor Extractor,
	loader Loader,
	opts Options,
	logger zerolog.Logger,
) *Engine {
	if opts.MaxConcurrentRuns < 1 {
		opts.MaxConcurrentRuns = 1
	}
	return &Engine{
		conns:     conns,
		jobs:      jobs,
		cipher:    cipher,
		extractor: extractor,
		loader:    loader,
		timeout:   opts.RunTimeout,
		slots:     semaphore.NewWeighted(opts.MaxConcurrentRuns),
		logger:    logger.With().Str("component", "engine").Logger(),
		now:       time.Now,
		active:    make(map[int64]struct{}),
	}
}

// Plan is a resolved run request: the connection to read from and the jobs to
// run, in order.
type Plan struct {
	RunID      string
	SourceID   int64
	JobID      int64
	Connection *models.Connection
	Jobs       []*models.Job
}

// NewResult starts the result for this plan.
func (p *Plan) NewResult(now time.Time) models.RunResult {
	return models.RunResult{
		RunID:     p.RunID,
		Status:    models.RunStatusRunning,
		SourceID:  p.SourceID,
		JobID:     p.JobID,
		Jobs:      []models.JobRunResult{},
		StartedAt: now,
	}
}

// Resolve validates req and loads what it refers to. It returns
// models.FieldErrors for bad input, ErrSourceNotFound or ErrJobNotFound for
// unknown ids and ErrConnectionInactive for a disabled source.
func (e *Engine) Resolve(ctx context.Context, req models.RunRequest) (*Plan, error) {
	if errs := req.Validate(); errs != nil {
		return nil, errs
	}

	plan := &Plan{RunID: uuid.NewString()}
	sourceID := req.SourceID.Value

	if req.JobID.Set {
		job, err := e.jobs.Get(ctx, req.JobID.Value)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, errors.Wrapf(ErrJobNotFound, "job %d", req.JobID.Value)
			}
			return nil, errors.Wrap(err, "loading job")
		}
		if req.SourceID.Set && job.SourceID != sourceID {
			return nil, models.FieldErrors{"job_id": {
				fmt.Sprintf("Job %d does not belong to source connection %d.", job.ID, sourceID),
			}}
		}
		sourceID = job.SourceID
		plan.JobID = job.ID
		plan.Jobs = []*models.Job{job}
	}

	conn, err := e.conns.Get(ctx, sourceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errors.Wrapf(ErrSourceNotFound, "source connection %d", sourceID)
		}
		return nil, errors.Wrap(err, "loading source connection")
	}
	if !conn.IsActive {
		return nil, errors.Wrapf(ErrConnectionInactive, "source connection %d", sourceID)
	}
	plan.SourceID = conn.ID
	plan.Connection = conn

	if plan.Jobs == nil {
		jobs, err := e.jobs.ListBySource(ctx, conn.ID)
		if err != nil {
			return nil, errors.Wrap(err, "listing jobs")
		}
		plan.Jobs = jobs
	}
	return plan, nil
}

func (e *Engine) Run(ctx context.Context, req models.RunRequest) (models.RunResult, error) {
	plan, err := e.Resolve(ctx, req)
	if err != nil {
		return models.RunResult{}, err
	}

	if !e.lock(plan.SourceID) {
		return models.RunResult{}, errors.Wrapf(ErrRunInProgress, "source connection %d", plan.SourceID)
	}
	defer e.unlock(plan.SourceID)

	if err := e.slots.Acquire(ctx, 1); err != nil {
		return models.RunResult{}, errors.Wrap(err, "waiting for a run slot")
	}
	defer e.slots.Release(1)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return e.Execute(ctx, plan)
}

// Execute runs the plan's jobs in order and stops at the first failure.
func (e *Engine) Execute(ctx context.Context, plan *Plan) (models.RunResult, error) {
	logger := e.logger.With().Str("run_id", plan.RunID).Int64("source_id", plan.SourceID).Logger()
	logger.Info().Int("jobs", len(plan.Jobs)).Msg("run started")

	result := plan.NewResult(e.now())
	for _, job := range plan.Jobs {
		jr, err := e.RunJob(ctx, plan.Connection, job)
		result.Jobs = append(result.Jobs, jr)
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				err = errors.Wrap(context.DeadlineExceeded, "run deadline exceeded")
			}
			result.Fail(fmt.Sprintf("job %q failed: %v", job.JobName, err))
			result.Finish(e.now())
			logger.Error().Err(err).Int64("job_id", job.ID).Int64("records_processed", result.RecordsProcessed).Msg("run failed")
			return result, &RunError{JobID: job.ID, Err: err}
		}
	}

	result.Finish(e.now())
	result.Message = fmt.Sprintf("%d job(s) completed, %d records processed", len(result.Jobs), result.RecordsProcessed)
	logger.Info().Int64("records_processed", result.RecordsProcessed).Int64("duration_ms", result.DurationMs).Msg("run finished")
	return result, nil
}

// RunJob extracts one job's rows and loads them into its target table,
// recording the job's status in the registry before and after.
func (e *Engine) RunJob(ctx context.Context, conn *models.Connection, job *models.Job) (models.JobRunResult, error) {
	started := e.now()
	res := models.JobRunResult{
		JobID:       job.ID,
		JobName:     job.JobName,
		TargetTable: job.TargetTable,
		Status:      models.RunStatusRunning,
	}
	logger := e.logger.With().Int64("job_id", job.ID).Str("target_table", job.TargetTable).Logger()

	if err := e.jobs.MarkRunning(ctx, job.ID); err != nil {
		res.Status = models.RunStatusError
		res.Message = err.Error()
		return res, errors.Wrap(err, "marking job running")
	}

	n, err := e.load(ctx, conn, job)
	res.RecordsProcessed = n
	res.DurationMs = e.now().Sub(started).Milliseconds()

	status, errMsg := models.JobStatusSuccess, ""
	res.Status = models.RunStatusSuccess
	if err != nil {
		status, errMsg = models.JobStatusError, err.Error()
		res.Status = models.RunStatusError
		res.Message = errMsg
	}

	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()
	if merr := e.jobs.MarkFinished(bctx, job.ID, status, n, errMsg); merr != nil {
		logger.Error().Err(merr).Msg("failed to record job outcome")
	}

	if err != nil {
		logger.Warn().Err(err).Msg("job failed")
		return res, err
	}
	logger.Info().Int64("records_processed", n).Int64("duration_ms", res.DurationMs).Msg("job finished")
	return res, nil
}

func (e *Engine) load(ctx context.Context, conn *models.Connection, job *models.Job) (int64, error) {
	password, err := e.cipher.DecryptPassword(conn.PasswordEncrypted)
	if err != nil {
		return 0, errors.Wrap(err, "decrypting source password")
	}
	src, err := e.extractor.Extract(ctx, conn, password, job)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	n, err := e.loader.Load(ctx, job.TargetTable, src)
	if err != nil {
		return n, err
	}
	return n, nil
}

// TestConnection opens and pings the source with its stored credentials.
func (e *Engine) TestConnection(ctx context.Context, conn *models.Connection) error {
	password, err := e.cipher.DecryptPassword(conn.PasswordEncrypted)
	if err != nil {
		return errors.Wrap(err, "decrypting source password")
	}
	return e.extractor.Ping(ctx, conn, password)
}

func (e *Engine) lock(sourceID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.active[sourceID]; busy {
		return false
	}
	e.active[sourceID] = struct{}{}
	return true
}

func (e *Engine) unlock(sourceID int64) {
	e.mu.Lock()
	delete(e.active, sourceID)
	e.mu.Unlock()
}
