package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc/health"

	"github.com/pesio-ai/be-scm-requisitions/internal/catalog"
	"github.com/pesio-ai/be-scm-requisitions/internal/client"
	"github.com/pesio-ai/be-scm-requisitions/internal/config"
	"github.com/pesio-ai/be-scm-requisitions/internal/database"
	"github.com/pesio-ai/be-scm-requisitions/internal/handler"
	"github.com/pesio-ai/be-scm-requisitions/internal/logger"
	"github.com/pesio-ai/be-scm-requisitions/internal/metrics"
	"github.com/pesio-ai/be-scm-requisitions/internal/middleware"
	"github.com/pesio-ai/be-scm-requisitions/internal/repository"
	"github.com/pesio-ai/be-scm-requisitions/internal/seed"
	"github.com/pesio-ai/be-scm-requisitions/internal/service"
	"github.com/pesio-ai/be-scm-requisitions/internal/telemetry"
	"github.com/pesio-ai/be-scm-requisitions/internal/workflow"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("REQ_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Logger.Level,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("database_driver", cfg.Database.Driver).
		Msg("Starting Requisitions Service")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize tracing
	tp, err := telemetry.NewProvider(telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		SampleRate:  cfg.Telemetry.SampleRate,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	// Initialize metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// Initialize storage
	store, closeStore := openStore(ctx, cfg, log)
	defer closeStore()

	// Initialize notification publisher
	var broker client.MessagePublisher
	if cfg.NATS.URL != "" {
		natsClient, err := client.NewNATSClient(client.NATSConfig{
			URL:       cfg.NATS.URL,
			Name:      cfg.Service.Name,
			JetStream: cfg.NATS.JetStream,
		}, log.Logger)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable; notifications disabled")
		} else {
			defer natsClient.Close()
			broker = natsClient
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}
	publisher := client.NewNotificationPublisher(broker, cfg.NATS.SubjectPrefix, log.WithComponent("notifications").Logger)

	// Initialize services
	cat := catalog.New(store, cfg.Catalog.TTL, log.WithComponent("catalog"))
	if n, err := cat.Reload(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to warm category catalog")
	} else {
		log.Info().Int("categories", n).Msg("Category catalog warmed")
	}

	requisitionService := service.NewRequisitionService(
		store,
		cat,
		workflow.NewEngine(),
		publisher,
		collector,
		tp.Tracer(),
		log.WithComponent("requisitions"),
	)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(requisitionService, collector, log)
	mux := http.NewServeMux()
	mux.Handle("GET /health", handler.HealthHandler(store))
	mux.Handle("GET /metrics", collector.Handler())
	httpHandler.Register(mux)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS(cfg.Server.CORSOrigins)(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	healthServer := health.NewServer()
	grpcServer := handler.NewGRPCServer(healthServer, log.WithComponent("grpc").Logger)
	go handler.WatchHealth(ctx, healthServer, store, 15*time.Second, log.Logger)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.GRPC.Port).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop gRPC server gracefully
	grpcServer.GracefulStop()

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Tracer shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

// openStore builds the configured store. The memory store is seeded with the
// reference categories; PostgreSQL is migrated when auto_migrate is set.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.Store, func()) {
	if cfg.Database.Driver == "memory" {
		store := repository.NewMemoryStore()
		defs, err := seed.Reference()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load reference categories")
		}
		if _, err := seed.Apply(ctx, store, defs, log.WithComponent("seed")); err != nil {
			log.Fatal().Err(err).Msg("Failed to seed memory store")
		}
		log.Warn().Msg("Using in-memory store; state is lost on restart")
		return store, func() {}
	}

	dbCfg := database.ConfigFrom(cfg.Database)
	if cfg.Database.AutoMigrate {
		if err := database.MigrateUp(dbCfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to run database migrations")
		}
		log.Info().Msg("Database migrations applied")
	}

	db, err := database.New(ctx, dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	log.Info().Msg("Database connection established")
	return repository.NewPostgresStore(db), db.Close
}
