package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gjallarhorn-io/gjallarhorn/internal/api/middleware"
	"github.com/gjallarhorn-io/gjallarhorn/internal/ingestion"
)

type (
	// QualityGateIngester upserts quality-gate reports. *ingestion.QualityGateUpserter implements it.
	QualityGateIngester interface {
		Upsert(ctx context.Context, report *ingestion.QualityGateReport) (*ingestion.UpsertResult, error)
	}

	// ScenarioIngester persists scenario batches. *ingestion.ScenarioTreeWriter implements it.
	ScenarioIngester interface {
		SaveEntities(ctx context.Context, scenarios []ingestion.ScenarioInput) (*ingestion.SaveResult, error)
	}

	// HealthChecker reports whether a backing service is reachable.
	HealthChecker interface {
		HealthCheck(ctx context.Context) error
	}

	// Dependencies are the runtime collaborators of a Server.
	//
	// HealthChecker and RateLimiter are optional. Closers are closed in order
	// after the HTTP server has drained, for example the Kafka notifier.
	Dependencies struct {
		QualityGates  QualityGateIngester
		Scenarios     ScenarioIngester
		HealthChecker HealthChecker
		RateLimiter   middleware.RateLimiter
		Closers       []io.Closer
	}

	// Server represents the HTTP API server.
	Server struct {
		httpServer    *http.Server
		logger        *slog.Logger
		config        *ServerConfig
		startTime     time.Time
		qualityGates  QualityGateIngester
		scenarios     ScenarioIngester
		healthChecker HealthChecker
		rateLimiter   middleware.RateLimiter
		closers       []io.Closer
	}
)

// ErrMissingIngester is returned when a Server is built without one of its ingesters.
var ErrMissingIngester = errors.New("quality gate and scenario ingesters are required")

// NewServer creates an HTTP server with its routes and middleware chain.
// Configuration (what) is kept apart from dependencies (how).
func NewServer(cfg *ServerConfig, logger *slog.Logger, deps Dependencies) (*Server, error) {
	if deps.QualityGates == nil || deps.Scenarios == nil {
		return nil, ErrMissingIngester
	}

	if logger == nil {
		logger = slog.Default()
	}

	server := &Server{
		logger:        logger,
		config:        cfg,
		qualityGates:  deps.QualityGates,
		scenarios:     deps.Scenarios,
		healthChecker: deps.HealthChecker,
		rateLimiter:   deps.RateLimiter,
		closers:       deps.Closers,
	}

	mux := http.NewServeMux()
	server.setupRoutes(mux)

	if deps.RateLimiter != nil {
		logger.Info("Rate limiting middleware enabled")
	} else {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	// Middleware executes top to bottom:
	//   1. CorrelationID - every response, including rejections, carries an id
	//   2. Recovery - catches panics in everything below
	//   3. RateLimit - rejects before any decoding or storage work
	//   4. RequestLogger - logs requests that passed the limiter
	//   5. CORS
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithRateLimit(deps.RateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:              cfg.Address(),
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	return server, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves HTTP and blocks until SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return s.Run(ctx)
}

// Run serves HTTP until ctx is cancelled or the listener fails, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	s.startTime = time.Now()

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting Gjallarhorn API server",
			slog.String("address", s.config.Address()),
			slog.String("version", s.config.Version),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		s.logger.Error("Server failed",
			slog.String("address", s.config.Address()),
			slog.String("error", err.Error()),
		)
		s.closeDependencies()

		return err
	case <-ctx.Done():
		s.logger.Info("Received shutdown signal", slog.String("cause", context.Cause(ctx).Error()))

		return s.shutdown()
	}
}

// shutdown drains in-flight requests, then releases dependencies.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		s.logger.Error("Server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		err = fmt.Errorf("server shutdown failed: %w", err)
	}

	s.closeDependencies()

	if err == nil {
		s.logger.Info("Server shutdown completed successfully")
	}

	return err
}

func (s *Server) closeDependencies() {
	if limiter, ok := s.rateLimiter.(io.Closer); ok {
		if err := limiter.Close(); err != nil {
			s.logger.Error("Failed to close rate limiter", slog.String("error", err.Error()))
		}
	}

	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			s.logger.Error("Failed to close dependency",
				slog.String("type", fmt.Sprintf("%T", c)),
				slog.String("error", err.Error()),
			)
		}
	}
}
