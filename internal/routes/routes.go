package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/crasbi/crasbi-api/internal/handlers"
)

// NewRouter sets up the API routes. Paths keep the trailing slash the
// console calls them with.
func NewRouter(health http.Handler, conn *handlers.ConnectionHandler, job *handlers.JobHandler, etl *handlers.ETLHandler) *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(handlers.NotFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(handlers.MethodNotAllowed)

	// Health check route
	router.Handle("/health", health).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()

	// Source connections
	api.HandleFunc("/source-connections/", conn.List).Methods(http.MethodGet)
	api.HandleFunc("/source-connections/", conn.Create).Methods(http.MethodPost)
	api.HandleFunc("/source-connections/active_connections/", conn.ActiveConnections).Methods(http.MethodGet)
	api.HandleFunc("/source-connections/by_db_type/", conn.ByDBType).Methods(http.MethodGet)
	api.HandleFunc("/source-connections/{id:[0-9]+}/", conn.Get).Methods(http.MethodGet)
	api.HandleFunc("/source-connections/{id:[0-9]+}/", conn.Update).Methods(http.MethodPut, http.MethodPatch)
	api.HandleFunc("/source-connections/{id:[0-9]+}/", conn.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/source-connections/{id:[0-9]+}/toggle_active/", conn.ToggleActive).Methods(http.MethodPost)
	api.HandleFunc("/source-connections/{id:[0-9]+}/connection_info/", conn.ConnectionInfo).Methods(http.MethodGet)
	api.HandleFunc("/source-connections/{id:[0-9]+}/test/", conn.Test).Methods(http.MethodPost)

	// Jobs
	api.HandleFunc("/jobs/", job.List).Methods(http.MethodGet)
	api.HandleFunc("/jobs/", job.Create).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id:[0-9]+}/", job.Get).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id:[0-9]+}/", job.Replace).Methods(http.MethodPut)
	api.HandleFunc("/jobs/{id:[0-9]+}/", job.Patch).Methods(http.MethodPatch)
	api.HandleFunc("/jobs/{id:[0-9]+}/", job.Delete).Methods(http.MethodDelete)

	// Runs
	api.HandleFunc("/etl/run_etl/", etl.RunETL).Methods(http.MethodPost)

	return router
}
