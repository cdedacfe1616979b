package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	apihandler "github.com/taskforge/dispatchd/internal/api/handler"
	"github.com/taskforge/dispatchd/internal/api/router"
	"github.com/taskforge/dispatchd/internal/config"
	"github.com/taskforge/dispatchd/internal/dispatch"
	"github.com/taskforge/dispatchd/internal/reaper"
	"github.com/taskforge/dispatchd/internal/reaper/domain"
	reaperstorage "github.com/taskforge/dispatchd/internal/reaper/storage"
	"github.com/taskforge/dispatchd/shared/logger"
	"github.com/taskforge/dispatchd/shared/postgresql"
	"github.com/taskforge/dispatchd/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("DISPATCHERD_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/dispatcherd/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	hostname := cfg.App.Hostname
	if hostname == "" {
		if hostname, err = os.Hostname(); err != nil {
			return fmt.Errorf("failed to resolve hostname: %w", err)
		}
	}

	appLogger.Info("Starting dispatcher",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("hostname", hostname),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	// Job store and reaper
	jobStore := reaperstorage.NewStorage(dbClient.GetDB(), appLogger.Logger)
	jobReaper := reaper.New(&reaper.Config{
		Store:       jobStore,
		GraceWindow: cfg.Reaper.GraceWindow,
		Logger:      appLogger.Logger,
	})

	// Worker pool consuming the registered task set
	pool := dispatch.NewAutoscalePool(&dispatch.PoolConfig{
		MinWorkers: cfg.Dispatcher.MinWorkers,
		MaxWorkers: cfg.Dispatcher.MaxWorkers,
		QueueDepth: cfg.Dispatcher.QueueDepth,
		Logger:     appLogger.Logger,
	})

	// Workers execute out of the process-wide registry. Task packages add
	// themselves with dispatch.Register / dispatch.RegisterRunnable at init
	// time; a delivery naming an unregistered task fails with ErrTaskNotFound
	// and is logged, never retried.
	taskHandler := &dispatch.TaskHandler{
		Worker: dispatch.NewTaskWorker(nil),
		Logger: appLogger.Logger,
	}

	if err := pool.InitWorkers(taskHandler); err != nil {
		return fmt.Errorf("failed to initialize worker pool: %w", err)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reclaim jobs orphaned by a previous run of this node before consuming
	if err := jobReaper.Reap(ctx, domain.Instance{Hostname: hostname}); err != nil {
		appLogger.Warn("Startup reap failed",
			slog.Any("error", err),
		)
	}

	consumer := dispatch.NewConsumer(&dispatch.ConsumerConfig{
		Source:      rabbitClient,
		Pool:        pool,
		Queue:       cfg.Dispatcher.QueueName,
		ConsumerTag: "dispatcherd-" + hostname,
		Prefetch:    cfg.RabbitMQ.Consumer.PrefetchCount,
		Logger:      appLogger.Logger,
	})

	// Start consumer in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := consumer.Run(ctx); err != nil {
			errChan <- err
		}
	}()

	// Periodic maintenance: pool cleanup, cluster heartbeat, lost-node sweep
	go runMaintenance(ctx, &maintenanceDeps{
		logger:   appLogger.Logger,
		pool:     pool,
		store:    jobStore,
		reaper:   jobReaper,
		hostname: hostname,
		cfg:      cfg,
	})

	// Status HTTP server
	deps := &apihandler.Dependencies{
		Logger:   appLogger.Logger,
		Pool:     pool,
		DBClient: dbClient,
		Rabbit:   rabbitClient,
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router.SetupRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		appLogger.Info("Status server listening",
			slog.Int("port", cfg.Server.Port),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("status server error: %w", err)
		}
	}()

	appLogger.Info("Dispatcher started successfully",
		slog.String("queue", cfg.Dispatcher.QueueName),
		slog.Int("min_workers", cfg.Dispatcher.MinWorkers),
		slog.Int("max_workers", cfg.Dispatcher.MaxWorkers),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Dispatcher error",
			slog.Any("error", err),
		)
		cancel()
		pool.Stop()
		return err
	}

	// Cancel context to stop consumer and maintenance loops
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("Status server shutdown error",
			slog.Any("error", err),
		)
	}

	// Give in-flight tasks time to drain before terminating workers
	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker pool shutdown timeout exceeded, forcing exit")
	}

	// Cleanup function to close all resources
	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	cleanup()

	appLogger.Info("Dispatcher shutdown complete")
	return nil
}

type maintenanceDeps struct {
	logger   *slog.Logger
	pool     *dispatch.AutoscalePool
	store    *reaperstorage.Storage
	reaper   *reaper.Reaper
	hostname string
	cfg      *config.Config
}

// runMaintenance drives the periodic loops: idle-worker cleanup, the node's
// cluster heartbeat, and the sweep that fails jobs stranded on lost nodes.
func runMaintenance(ctx context.Context, deps *maintenanceDeps) {
	cleanupTicker := time.NewTicker(deps.cfg.Dispatcher.CleanupInterval)
	defer cleanupTicker.Stop()

	heartbeatTicker := time.NewTicker(deps.cfg.Reaper.HeartbeatInterval)
	defer heartbeatTicker.Stop()

	sweepTicker := time.NewTicker(deps.cfg.Reaper.ScanInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanupTicker.C:
			deps.pool.Cleanup()
		case <-heartbeatTicker.C:
			if err := deps.store.UpsertHeartbeat(ctx, deps.hostname); err != nil {
				deps.logger.Error("Heartbeat failed",
					slog.Any("error", err),
				)
			}
		case <-sweepTicker.C:
			if err := deps.reaper.ReapLostInstances(ctx, deps.cfg.Reaper.InstanceLostAfter); err != nil {
				deps.logger.Error("Lost-instance sweep failed",
					slog.Any("error", err),
				)
			}
		}
	}
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
