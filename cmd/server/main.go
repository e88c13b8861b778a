package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/crasbi/crasbi-api/internal/config"
	"github.com/crasbi/crasbi-api/internal/engine"
	"github.com/crasbi/crasbi-api/internal/handlers"
	"github.com/crasbi/crasbi-api/internal/middleware"
	"github.com/crasbi/crasbi-api/internal/migration"
	"github.com/crasbi/crasbi-api/internal/repository"
	"github.com/crasbi/crasbi-api/internal/routes"
	"github.com/crasbi/crasbi-api/internal/temporal"
	"github.com/crasbi/crasbi-api/internal/temporal/activities"
	"github.com/crasbi/crasbi-api/internal/temporal/dispatch"
	"github.com/crasbi/crasbi-api/internal/temporal/workflows"
	"github.com/crasbi/crasbi-api/internal/utils"

	_ "github.com/lib/pq" // PostgreSQL driver
	tc "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

type application struct {
	config         *config.Config
	db             *sql.DB
	engine         *engine.Engine
	runner         engine.Runner
	temporalClient tc.Client
	logger         zerolog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger sets up structured, level-based logging and routes the standard
// library and goose loggers through it.
func newLogger(debug bool) zerolog.Logger {
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.SetFlags(0)
	log.SetOutput(logger)

	goose.SetLogger(migration.NewGooseAdapter(logger))
	return logger
}

func serve(cfg *config.Config, logger zerolog.Logger) error {
	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to the database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Run database migrations.
	if err := migration.RunMigrations(cfg.DatabaseURL, logger); err != nil {
		return err
	}

	cipher, err := utils.NewPasswordCipher(cfg.EncryptionKey)
	if err != nil {
		return err
	}
	connRepo := repository.NewConnectionRepository(db, cipher)
	jobRepo := repository.NewJobRepository(db)

	loader, err := engine.NewWarehouseLoader(context.Background(), cfg.ETL.WarehouseURL, engine.LoaderOptions{
		CreateMissingTables: cfg.ETL.CreateMissingTables,
		TruncateBeforeLoad:  cfg.ETL.TruncateBeforeLoad,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to the warehouse: %w", err)
	}
	defer loader.Close()

	eng := engine.New(connRepo, jobRepo, cipher, engine.NewDriverExtractor(), loader, engine.Options{
		RunTimeout:        cfg.ETL.RunTimeout,
		MaxConcurrentRuns: cfg.ETL.MaxConcurrentRuns,
	}, logger)

	app := &application{
		config: cfg,
		db:     db,
		engine: eng,
		runner: eng,
		logger: logger,
	}

	var temporalWorker worker.Worker
	if cfg.ETL.Mode == config.ModeTemporal {
		temporalClient, err := tc.Dial(tc.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
			Logger:    temporal.NewLogAdapter(logger),
		})
		if err != nil {
			return fmt.Errorf("unable to create Temporal client: %w", err)
		}
		defer temporalClient.Close()

		app.temporalClient = temporalClient
		app.runner = dispatch.NewDispatcher(temporalClient, eng, cfg.Temporal.TaskQueue, cfg.ETL.RunTimeout, logger)
		temporalWorker = app.startTemporalWorker(connRepo, jobRepo)
	}
	logger.Info().Str("mode", cfg.ETL.Mode).Dur("run_timeout", cfg.ETL.RunTimeout).
		Int64("max_concurrent_runs", cfg.ETL.MaxConcurrentRuns).Msg("ETL engine ready")

	// Initialize the HTTP router and middleware.
	router := app.initRouter(connRepo, jobRepo)
	loggedRouter := middleware.LoggingMiddleware(logger)(middleware.RecoverMiddleware(logger)(router))
	corsHandler := h.CORS(
		h.AllowedOrigins(cfg.CORS.AllowedOrigins),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, temporalWorker)

	logger.Info().Msg("Application terminated.")
	return nil
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(connRepo repository.ConnectionRepository, jobRepo repository.JobRepository) http.Handler {
	connHandler := handlers.NewConnectionHandler(connRepo, app.engine, app.logger)
	jobHandler := handlers.NewJobHandler(jobRepo, app.logger)
	etlHandler := handlers.NewETLHandler(app.runner, app.logger)

	return routes.NewRouter(handlers.HealthCheck(app.db, app.logger), connHandler, jobHandler, etlHandler)
}

func (app *application) startTemporalWorker(connRepo repository.ConnectionRepository, jobRepo repository.JobRepository) worker.Worker {
	activityImpl := &activities.Activities{
		Engine:   app.engine,
		ConnRepo: connRepo,
		JobRepo:  jobRepo,
	}

	taskQueue := app.config.Temporal.TaskQueue
	if taskQueue == "" {
		taskQueue = temporal.DefaultTaskQueue
	}
	w := worker.New(app.temporalClient, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: int(app.config.ETL.MaxConcurrentRuns),
	})

	w.RegisterWorkflow(workflows.RunWorkflow)
	w.RegisterActivity(activityImpl)

	// Start the worker in a goroutine so it doesn't block.
	go func() {
		app.logger.Info().Str("task_queue", taskQueue).Msg("Starting Temporal worker...")
		if err := w.Run(worker.InterruptCh()); err != nil {
			app.logger.Fatal().Err(err).Msg("Unable to start worker")
		}
	}()

	return w
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, temporalWorker worker.Worker) {
	logger := app.logger
	server := &http.Server{
		Addr:              ":" + app.config.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Runs are synchronous requests, so in-flight ones get up to the run
	// timeout to finish.
	ctx, cancel := context.WithTimeout(context.Background(), app.config.ETL.RunTimeout+10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}

	if temporalWorker != nil {
		logger.Info().Msg("Stopping Temporal worker...")
		temporalWorker.Stop()
		logger.Info().Msg("Temporal worker stopped.")
	}
}
