package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/crasbi/crasbi-api/internal/models"
	"github.com/crasbi/crasbi-api/internal/repository"
)

const (
	msgUniqueConnection = "The fields source_name, host, port must make a unique set."
	msgInvalidValue     = "One or more values are too long or contain invalid characters."
)

// ConnectionTester checks that a stored connection can be reached.
type ConnectionTester interface {
	TestConnection(ctx context.Context, conn *models.Connection) error
}

type ConnectionHandler struct {
	repo   repository.ConnectionRepository
	tester ConnectionTester
	logger zerolog.Logger
}

func NewConnectionHandler(repo repository.ConnectionRepository, tester ConnectionTester, logger zerolog.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		repo:   repo,
		tester: tester,
		logger: logger.With().Str("handler", "connections").Logger(),
	}
}

type connectionInfo struct {
	ID               int64         `json:"id"`
	SourceName       string        `json:"source_name"`
	DBType           models.DBType `json:"db_type"`
	Host             string        `json:"host"`
	Port             int           `json:"port"`
	DatabaseName     string        `json:"database_name"`
	Username         string        `json:"username"`
	IsActive         bool          `json:"is_active"`
	ConnectionString string        `json:"connection_string"`
}

func maskAll(conns []*models.Connection) []models.Connection {
	out := make([]models.Connection, len(conns))
	for i, c := range conns {
		out[i] = c.Masked()
	}
	return out
}

func (h *ConnectionHandler) list(w http.ResponseWriter, r *http.Request, filter repository.ConnectionFilter) {
	conns, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		writeInternal(w, h.logger, err, "list connections")
		return
	}
	writeJSON(w, http.StatusOK, newPage(r, filter.ListOptions, total, maskAll(conns)))
}

// filterFromQuery reads the db_type and is_active filters.
func filterFromQuery(r *http.Request) (repository.ConnectionFilter, models.FieldErrors) {
	q := r.URL.Query()
	filter := repository.ConnectionFilter{ListOptions: listOptions(r)}
	errs := models.FieldErrors{}

	if v := q.Get("db_type"); v != "" {
		t, err := models.ParseDBType(v)
		if err != nil {
			errs.Add("db_type", err.Error())
		} else {
			filter.DBType = &t
		}
	}
	if v := q.Get("is_active"); v != "" {
		active, ok := models.ParseBool(v)
		if !ok {
			errs.Add("is_active", models.MsgInvalidBoolean)
		} else {
			filter.IsActive = &active
		}
	}
	if !errs.Empty() {
		return filter, errs
	}
	return filter, nil
}

func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, errs := filterFromQuery(r)
	if errs != nil {
		writeFieldErrors(w, errs)
		return
	}
	h.list(w, r, filter)
}

func (h *ConnectionHandler) ActiveConnections(w http.ResponseWriter, r *http.Request) {
	active := true
	h.list(w, r, repository.ConnectionFilter{ListOptions: listOptions(r), IsActive: &active})
}

// ByDBType lists connections of the type named by ?db_type, or all of them
// when the parameter is absent.
func (h *ConnectionHandler) ByDBType(w http.ResponseWriter, r *http.Request) {
	filter, errs := filterFromQuery(r)
	if errs != nil {
		writeFieldErrors(w, errs)
		return
	}
	filter.IsActive = nil
	h.list(w, r, filter)
}

// load fetches the connection addressed by the route, writing the error
// response itself when it cannot.
func (h *ConnectionHandler) load(w http.ResponseWriter, r *http.Request) (*models.Connection, bool) {
	id, ok := pathID(r)
	if !ok {
		writeNotFound(w)
		return nil, false
	}
	conn, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeNotFound(w)
		return nil, false
	}
	if err != nil {
		writeInternal(w, h.logger, err, "get connection")
		return nil, false
	}
	return conn, true
}

func (h *ConnectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, conn.Masked())
}

func (h *ConnectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in models.ConnectionInput
	if err := decodeJSON(r, &in); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	conn, errs := in.NewConnection()
	if errs != nil {
		writeFieldErrors(w, errs)
		return
	}

	created, err := h.repo.Create(r.Context(), conn)
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		writeFieldErrors(w, nonField(msgUniqueConnection))
		return
	case errors.Is(err, repository.ErrInvalidValue):
		writeFieldErrors(w, storageErrors(err))
		return
	case err != nil:
		writeInternal(w, h.logger, err, "create connection")
		return
	}

	h.logger.Info().Int64("connection_id", created.ID).Str("db_type", string(created.DBType)).Msg("connection created")
	writeJSON(w, http.StatusCreated, created.Masked())
}

// Update serves both PUT and PATCH. Fields absent from the payload keep
// their stored values, the password included.
func (h *ConnectionHandler) Update(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.load(w, r)
	if !ok {
		return
	}
	var in models.ConnectionInput
	if err := decodeJSON(r, &in); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := in.Apply(conn); errs != nil {
		writeFieldErrors(w, errs)
		return
	}

	updated, err := h.repo.Update(r.Context(), conn)
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		writeFieldErrors(w, nonField(msgUniqueConnection))
		return
	case errors.Is(err, repository.ErrInvalidValue):
		writeFieldErrors(w, storageErrors(err))
		return
	case errors.Is(err, repository.ErrNotFound):
		writeNotFound(w)
		return
	case err != nil:
		writeInternal(w, h.logger, err, "update connection")
		return
	}
	writeJSON(w, http.StatusOK, updated.Masked())
}

// Delete refuses to remove a connection that jobs still reference.
func (h *ConnectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeNotFound(w)
		return
	}

	err := h.repo.Delete(r.Context(), id)
	var depErr *repository.DependentJobsError
	switch {
	case err == nil:
		h.logger.Info().Int64("connection_id", id).Msg("connection deleted")
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, repository.ErrNotFound):
		writeNotFound(w)
	case errors.As(err, &depErr):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"detail": fmt.Sprintf("Cannot delete connection %d: it is used by %d job(s). Delete or reassign those jobs first.",
				depErr.ConnectionID, depErr.Count),
			"dependent_jobs": depErr.Count,
		})
	case errors.Is(err, repository.ErrConflict):
		writeDetail(w, http.StatusConflict, "Cannot delete connection: it is used by other records.")
	default:
		writeInternal(w, h.logger, err, "delete connection")
	}
}

func (h *ConnectionHandler) ToggleActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeNotFound(w)
		return
	}
	conn, err := h.repo.ToggleActive(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeNotFound(w)
		return
	}
	if err != nil {
		writeInternal(w, h.logger, err, "toggle connection")
		return
	}
	h.logger.Info().Int64("connection_id", id).Bool("is_active", conn.IsActive).Msg("connection toggled")
	writeJSON(w, http.StatusOK, conn.Masked())
}

// ConnectionInfo returns the connection's address details and a connection
// string with the password masked.
func (h *ConnectionHandler) ConnectionInfo(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.load(w, r)
	if !ok {
		return
	}
	connStr, err := conn.GenerateConnString(models.PasswordMask)
	if err != nil {
		writeInternal(w, h.logger, err, "generate connection string")
		return
	}
	writeJSON(w, http.StatusOK, connectionInfo{
		ID:               conn.ID,
		SourceName:       conn.SourceName,
		DBType:           conn.DBType,
		Host:             conn.Host,
		Port:             conn.Port,
		DatabaseName:     conn.DatabaseName,
		Username:         conn.Username,
		IsActive:         conn.IsActive,
		ConnectionString: connStr,
	})
}

// Test pings the source with the stored credentials.
func (h *ConnectionHandler) Test(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := h.tester.TestConnection(r.Context(), conn); err != nil {
		h.logger.Warn().Err(err).Int64("connection_id", conn.ID).Msg("connection test failed")
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func nonField(msg string) models.FieldErrors {
	errs := models.FieldErrors{}
	errs.AddNonField(msg)
	return errs
}

// storageErrors returns the field errors carried by a rejected write, or a
// generic message when the store could not name the field.
func storageErrors(err error) models.FieldErrors {
	var fe models.FieldErrors
	if errors.As(err, &fe) && !fe.Empty() {
		return fe
	}
	return nonField(msgInvalidValue)
}
