package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/crasbi/crasbi-api/internal/engine"
	"github.com/crasbi/crasbi-api/internal/models"
)

// runResponse is the body of every run trigger response. Rejected requests
// carry an error result, plus the field errors when the input was invalid.
type runResponse struct {
	models.RunResult
	Errors models.FieldErrors `json:"errors,omitempty"`
}

type ETLHandler struct {
	runner engine.Runner
	logger zerolog.Logger
	now    func() time.Time
}

func NewETLHandler(runner engine.Runner, logger zerolog.Logger) *ETLHandler {
	return &ETLHandler{
		runner: runner,
		logger: logger.With().Str("handler", "etl").Logger(),
		now:    time.Now,
	}
}

// RunETL runs the jobs of a source connection, or a single job, and blocks
// until the run reaches a terminal status.
func (h *ETLHandler) RunETL(w http.ResponseWriter, r *http.Request) {
	var req models.RunRequest
	if err := decodeJSON(r, &req); err != nil {
		h.reject(w, req, http.StatusBadRequest, err.Error(), nil)
		return
	}

	result, err := h.runner.Run(r.Context(), req)
	if err == nil {
		h.logger.Info().Str("run_id", result.RunID).Int64("source_id", result.SourceID).
			Int64("records_processed", result.RecordsProcessed).Msg("run finished")
		writeJSON(w, http.StatusOK, runResponse{RunResult: result})
		return
	}

	var (
		fieldErrs models.FieldErrors
		runErr    *engine.RunError
	)
	switch {
	case errors.As(err, &fieldErrs):
		h.reject(w, req, http.StatusBadRequest, "Invalid run request.", fieldErrs)
	case errors.Is(err, engine.ErrSourceNotFound), errors.Is(err, engine.ErrJobNotFound):
		h.reject(w, req, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, engine.ErrConnectionInactive), errors.Is(err, engine.ErrRunInProgress):
		h.reject(w, req, http.StatusConflict, err.Error(), nil)
	case errors.As(err, &runErr):
		status := http.StatusBadGateway
		if runErr.Timeout() {
			status = http.StatusGatewayTimeout
		}
		h.logger.Warn().Err(err).Str("run_id", result.RunID).Int64("source_id", result.SourceID).Msg("run failed")
		writeJSON(w, status, runResponse{RunResult: result})
	default:
		h.logger.Error().Err(err).Msg("failed to run etl")
		h.reject(w, req, http.StatusInternalServerError, "Failed to run ETL.", nil)
	}
}

// reject answers a run that never started with a terminal error result.
func (h *ETLHandler) reject(w http.ResponseWriter, req models.RunRequest, status int, msg string, errs models.FieldErrors) {
	result := models.RunResult{}
	if req.SourceID.Check() == "" {
		result.SourceID = req.SourceID.Value
	}
	if req.JobID.Check() == "" {
		result.JobID = req.JobID.Value
	}
	result.Fail(msg)
	result.Finish(h.now())
	writeJSON(w, status, runResponse{RunResult: result, Errors: errs})
}
