package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/crasbi/crasbi-api/internal/models"
)

// JobFilter narrows List results.
type JobFilter struct {
	ListOptions
	SourceID *int64
}

type JobRepository interface {
	List(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	ListBySource(ctx context.Context, sourceID int64) ([]*models.Job, error)
	Get(ctx context.Context, id int64) (*models.Job, error)
	Create(ctx context.Context, job *models.Job) (*models.Job, error)
	Update(ctx context.Context, job *models.Job) (*models.Job, error)
	Delete(ctx context.Context, id int64) error

	// Run bookkeeping
	MarkRunning(ctx context.Context, id int64) error
	MarkFinished(ctx context.Context, id int64, status models.JobStatus, recordsProcessed int64, errMsg string) error
}

type jobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) JobRepository {
	return &jobRepository{db: db}
}

const jobSelect = `
	SELECT j.id, j.job_name, j.source_id, sc.source_name, j.source_table, j.target_table, j.job_query,
		j.status, j.last_run_at, j.last_records_processed, j.last_error, j.created_at, j.updated_at
	FROM etl.jobs j
	JOIN etl.source_connections sc ON sc.id = j.source_id`

var jobOrdering = map[string]string{
	"job_name":     "j.job_name",
	"source_table": "j.source_table",
	"target_table": "j.target_table",
	"status":       "j.status",
	"created_at":   "j.created_at",
	"last_run_at":  "j.last_run_at",
}

func scanJob(row rowScanner) (*models.Job, error) {
	job := &models.Job{}
	var (
		status    string
		lastRunAt sql.NullTime
		records   sql.NullInt64
		lastError sql.NullString
	)
	err := row.Scan(
		&job.ID, &job.JobName, &job.SourceID, &job.SourceName, &job.SourceTable, &job.TargetTable, &job.JobQuery,
		&status, &lastRunAt, &records, &lastError, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = models.JobStatus(status)
	if lastRunAt.Valid {
		job.LastRunAt = &lastRunAt.Time
	}
	if records.Valid {
		job.LastRecordsProcessed = &records.Int64
	}
	if lastError.Valid {
		job.LastError = &lastError.String
	}
	return job, nil
}

func (r *jobRepository) List(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	w := &whereBuilder{}
	w.search(filter.Search, "j.job_name", "j.source_table", "j.target_table")
	if filter.SourceID != nil {
		w.add("j.source_id = ?", *filter.SourceID)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM etl.jobs j" + w.sql()
	if err := r.db.QueryRowContext(ctx, countQuery, w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting jobs: %w", err)
	}

	limit, offset := filter.page()
	query := fmt.Sprintf("%s%s ORDER BY %s LIMIT %d OFFSET %d",
		jobSelect, w.sql(), orderBy(filter.Ordering, jobOrdering, "j.id", "j.created_at DESC, j.id DESC"), limit, offset)

	jobs, err := r.query(ctx, query, w.args...)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

func (r *jobRepository) ListBySource(ctx context.Context, sourceID int64) ([]*models.Job, error) {
	return r.query(ctx, jobSelect+" WHERE j.source_id = $1 ORDER BY j.created_at ASC, j.id ASC", sourceID)
}

func (r *jobRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *jobRepository) Get(ctx context.Context, id int64) (*models.Job, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, jobSelect+" WHERE j.id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// Create inserts the job only if its source connection exists.
func (r *jobRepository) Create(ctx context.Context, job *models.Job) (*models.Job, error) {
	query := `
		INSERT INTO etl.jobs (job_name, source_id, source_table, target_table, job_query, status)
		SELECT $1, sc.id, $3, $4, $5, $6
		FROM etl.source_connections sc
		WHERE sc.id = $2
		RETURNING id`
	var id int64
	err := r.db.QueryRowContext(ctx, query,
		job.JobName, job.SourceID, job.SourceTable, job.TargetTable, job.JobQuery, string(models.JobStatusReady),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidReference
		}
		return nil, translate(err)
	}
	return r.Get(ctx, id)
}

func (r *jobRepository) Update(ctx context.Context, job *models.Job) (*models.Job, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE etl.jobs
		SET job_name = $1, source_id = $2, source_table = $3, target_table = $4, job_query = $5, updated_at = NOW()
		WHERE id = $6`,
		job.JobName, job.SourceID, job.SourceTable, job.TargetTable, job.JobQuery, job.ID,
	)
	if err != nil {
		return nil, translate(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, job.ID)
}

func (r *jobRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM etl.jobs WHERE id = $1", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *jobRepository) MarkRunning(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE etl.jobs SET status = $1, last_run_at = NOW(), updated_at = NOW() WHERE id = $2`,
		string(models.JobStatusRunning), id)
	return err
}

func (r *jobRepository) MarkFinished(ctx context.Context, id int64, status models.JobStatus, recordsProcessed int64, errMsg string) error {
	var lastError interface{}
	if errMsg != "" {
		lastError = errMsg
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE etl.jobs
		SET status = $1, last_records_processed = $2, last_error = $3, updated_at = NOW()
		WHERE id = $4`,
		string(status), recordsProcessed, lastError, id)
	return err
}
