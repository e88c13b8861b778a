package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/crasbi/crasbi-api/internal/models"
	"github.com/crasbi/crasbi-api/internal/repository"
)

type JobHandler struct {
	repo   repository.JobRepository
	logger zerolog.Logger
}

func NewJobHandler(repo repository.JobRepository, logger zerolog.Logger) *JobHandler {
	return &JobHandler{
		repo:   repo,
		logger: logger.With().Str("handler", "jobs").Logger(),
	}
}

func invalidSource(id int64) models.FieldErrors {
	return models.FieldErrors{"source": {fmt.Sprintf("Invalid pk \"%d\" - object does not exist.", id)}}
}

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := repository.JobFilter{ListOptions: listOptions(r)}
	if v := r.URL.Query().Get("source"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeFieldErrors(w, models.FieldErrors{"source": {models.MsgInvalidInteger}})
			return
		}
		filter.SourceID = &id
	}

	jobs, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		writeInternal(w, h.logger, err, "list jobs")
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	writeJSON(w, http.StatusOK, newPage(r, filter.ListOptions, total, jobs))
}

func (h *JobHandler) load(w http.ResponseWriter, r *http.Request) (*models.Job, bool) {
	id, ok := pathID(r)
	if !ok {
		writeNotFound(w)
		return nil, false
	}
	job, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeNotFound(w)
		return nil, false
	}
	if err != nil {
		writeInternal(w, h.logger, err, "get job")
		return nil, false
	}
	return job, true
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in models.JobInput
	if err := decodeJSON(r, &in); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	job, errs := in.NewJob()
	if errs != nil {
		writeFieldErrors(w, errs)
		return
	}

	created, err := h.repo.Create(r.Context(), job)
	switch {
	case errors.Is(err, repository.ErrInvalidReference):
		writeFieldErrors(w, invalidSource(job.SourceID))
		return
	case errors.Is(err, repository.ErrInvalidValue):
		writeFieldErrors(w, storageErrors(err))
		return
	case err != nil:
		writeInternal(w, h.logger, err, "create job")
		return
	}

	h.logger.Info().Int64("job_id", created.ID).Int64("source_id", created.SourceID).Msg("job created")
	writeJSON(w, http.StatusCreated, created)
}

// Replace handles PUT: every field is required, as on create.
func (h *JobHandler) Replace(w http.ResponseWriter, r *http.Request) {
	current, ok := h.load(w, r)
	if !ok {
		return
	}
	var in models.JobInput
	if err := decodeJSON(r, &in); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	job, errs := in.NewJob()
	if errs != nil {
		writeFieldErrors(w, errs)
		return
	}
	job.ID = current.ID
	h.save(w, r, job)
}

// Patch handles PATCH: only the fields present are changed.
func (h *JobHandler) Patch(w http.ResponseWriter, r *http.Request) {
	job, ok := h.load(w, r)
	if !ok {
		return
	}
	var in models.JobInput
	if err := decodeJSON(r, &in); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := in.Apply(job); errs != nil {
		writeFieldErrors(w, errs)
		return
	}
	h.save(w, r, job)
}

func (h *JobHandler) save(w http.ResponseWriter, r *http.Request, job *models.Job) {
	updated, err := h.repo.Update(r.Context(), job)
	switch {
	case errors.Is(err, repository.ErrInvalidReference):
		writeFieldErrors(w, invalidSource(job.SourceID))
	case errors.Is(err, repository.ErrInvalidValue):
		writeFieldErrors(w, storageErrors(err))
	case errors.Is(err, repository.ErrNotFound):
		writeNotFound(w)
	case err != nil:
		writeInternal(w, h.logger, err, "update job")
	default:
		writeJSON(w, http.StatusOK, updated)
	}
}

func (h *JobHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeNotFound(w)
		return
	}
	err := h.repo.Delete(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeNotFound(w)
		return
	}
	if err != nil {
		writeInternal(w, h.logger, err, "delete job")
		return
	}
	h.logger.Info().Int64("job_id", id).Msg("job deleted")
	w.WriteHeader(http.StatusNoContent)
}
