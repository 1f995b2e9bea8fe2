// Package main provides the Gjallarhorn test-report ingestion service.
//
// The service accepts quality-gate reports from code analysis servers and end-to-end
// scenario runs from test runners, and persists them to PostgreSQL.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/gjallarhorn-io/gjallarhorn/internal/api"
	"github.com/gjallarhorn-io/gjallarhorn/internal/api/middleware"
	"github.com/gjallarhorn-io/gjallarhorn/internal/config"
	"github.com/gjallarhorn-io/gjallarhorn/internal/ingestion"
	"github.com/gjallarhorn-io/gjallarhorn/internal/notify"
	"github.com/gjallarhorn-io/gjallarhorn/internal/storage"
	"github.com/gjallarhorn-io/gjallarhorn/migrations"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "gjallarhorn"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if err := run(); err != nil {
		os.Exit(1)
	}
}

// run wires every component and blocks until the server stops. Failures are logged
// before they are returned.
func run() error {
	serverConfig := api.LoadServerConfig(version)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting Gjallarhorn service",
		slog.String("service", name),
		slog.String("version", version),
	)

	if err := serverConfig.Validate(); err != nil {
		logger.Error("Invalid server configuration", slog.String("error", err.Error()))

		return err
	}

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.Int64("max_request_size", serverConfig.MaxRequestSize),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	storageConfig := storage.LoadConfig()
	if err := storageConfig.Validate(); err != nil {
		logger.Error("Invalid storage configuration", slog.String("error", err.Error()))

		return err
	}

	// The schema must be current before the pool serves requests.
	if err := migrations.Apply(context.Background(), storageConfig.DatabaseURL(), logger); err != nil {
		logger.Error("Failed to apply database migrations",
			slog.String("database_url", storageConfig.MaskDatabaseURL()),
			slog.String("error", err.Error()),
		)

		return err
	}

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))

		return err
	}

	store, err := storage.NewIngestionStore(dbConn, storageConfig.TxTimeout, storage.WithLogger(logger))
	if err != nil {
		logger.Error("Failed to create ingestion store", slog.String("error", err.Error()))
		_ = dbConn.Close()

		return err
	}

	logger.Info("Ingestion store initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
		slog.Duration("database_conn_max_lifetime", storageConfig.ConnMaxLifetime),
		slog.Duration("database_conn_max_idle_time", storageConfig.ConnMaxIdleTime),
		slog.Duration("tx_timeout", storageConfig.TxTimeout),
	)

	rules, err := ingestion.LoadRulesFromEnv()
	if err != nil {
		logger.Error("Failed to load validation rules", slog.String("error", err.Error()))
		_ = dbConn.Close()

		return err
	}

	notifier, closers, err := newNotifier(logger)
	if err != nil {
		_ = dbConn.Close()

		return err
	}

	// The pool closes last, after in-flight requests and pending events are done.
	closers = append(closers, dbConn)

	firstOnly := config.GetEnvBool("GJALLARHORN_QUALITY_GATE_FIRST_ONLY", false)

	upserter, err := ingestion.NewQualityGateUpserter(store,
		ingestion.WithQualityGateValidator(rules.QualityGateValidator()),
		ingestion.WithFirstConditionOnly(firstOnly),
		ingestion.WithUpserterNotifier(notifier),
		ingestion.WithUpserterLogger(logger),
	)
	if err != nil {
		logger.Error("Failed to create quality gate upserter", slog.String("error", err.Error()))
		closeAll(closers)

		return err
	}

	writer, err := ingestion.NewScenarioTreeWriter(store,
		ingestion.WithScenarioValidator(rules.ScenarioValidator()),
		ingestion.WithWriterNotifier(notifier),
		ingestion.WithWriterLogger(logger),
	)
	if err != nil {
		logger.Error("Failed to create scenario tree writer", slog.String("error", err.Error()))
		closeAll(closers)

		return err
	}

	middlewareConfig := middleware.LoadConfig()

	// Closed by the server during shutdown.
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("global_burst", middlewareConfig.GlobalBurst),
		slog.Int("client_rps", middlewareConfig.ClientRPS),
		slog.Int("client_burst", middlewareConfig.ClientBurst),
		slog.Int("unknown_client_rps", middlewareConfig.UnknownClientRPS),
		slog.Int("max_clients", middlewareConfig.MaxClients),
	)

	server, err := api.NewServer(serverConfig, logger, api.Dependencies{
		QualityGates:  upserter,
		Scenarios:     writer,
		HealthChecker: store,
		RateLimiter:   rateLimiter,
		Closers:       closers,
	})
	if err != nil {
		logger.Error("Failed to create server", slog.String("error", err.Error()))
		_ = rateLimiter.Close()
		closeAll(closers)

		return err
	}

	if err := server.Start(); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))

		return err
	}

	logger.Info("Gjallarhorn service stopped")

	return nil
}

// newNotifier returns the Kafka notifier when brokers are configured, otherwise a no-op.
func newNotifier(logger *slog.Logger) (ingestion.Notifier, []io.Closer, error) {
	notifyConfig := notify.LoadConfig()
	if !notifyConfig.Enabled() {
		logger.Info("Ingestion events disabled", slog.String("note", "Set KAFKA_BROKERS to publish events"))

		return ingestion.NopNotifier{}, nil, nil
	}

	notifier, err := notify.NewKafkaNotifier(notifyConfig, logger)
	if err != nil {
		logger.Error("Failed to create Kafka notifier", slog.String("error", err.Error()))

		return nil, nil, err
	}

	logger.Info("Ingestion events enabled",
		slog.Any("brokers", notifyConfig.Brokers),
		slog.String("topic", notifyConfig.Topic),
	)

	return notifier, []io.Closer{notifier}, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}
