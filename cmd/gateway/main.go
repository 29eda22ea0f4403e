package main

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"

	"paymentgw/internal/checkout"
	"paymentgw/internal/common/database"
	"paymentgw/internal/common/middleware"
	"paymentgw/internal/common/nats"
	"paymentgw/internal/gateway/api"
	"paymentgw/internal/host"
	"paymentgw/internal/payment"
	"paymentgw/internal/paymentinfo"
	"paymentgw/internal/provider"
	"paymentgw/internal/reconcile"
	"paymentgw/internal/webhook"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"GATEWAY_PORT" default:"8086"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// PublicURL is the externally reachable base URL; the provider's
	// webhook callback and redirect return URLs are derived from it.
	PublicURL string `envconfig:"GATEWAY_PUBLIC_URL" required:"true"`

	Database database.Config
	NATS     nats.Config
	Provider provider.Config
	Host     host.Config
	Mops     reconcile.MopConfig
}

func main() {
	// Load configuration
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	// Create context that listens for shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Apply migrations and connect to database
	if err := database.Migrate(cfg.Database, migrations, logger); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to NATS; event publishing is best-effort
	bus, err := nats.New(cfg.NATS, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	// Clients
	hostClient := host.NewClient(cfg.Host, logger)
	providerClient := provider.NewClient(cfg.Provider, logger)

	// Stores
	records := checkout.NewPostgresRecordStore(db)
	infoStore := paymentinfo.NewPostgresStore(db)

	// Services
	mops := reconcile.NewMopRegistry(cfg.Mops.Methods())
	engine := reconcile.NewEngine(hostClient, hostClient, hostClient, hostClient, mops, bus, logger)
	builder := checkout.NewBuilder(hostClient, hostClient, hostClient, records, cfg.Provider.PrivateKey, logger)
	orchestrator := payment.NewOrchestrator(
		builder, records, providerClient, hostClient, engine, infoStore,
		payment.Strategies(cfg.PublicURL+"/api/v1/gateway"), logger,
	)
	dispatcher := webhook.NewDispatcher(hostClient, engine, orchestrator, bus, logger)
	registrar := webhook.NewRegistrar(providerClient, cfg.PublicURL+"/api/v1/gateway/webhooks", logger)

	// Expired correlation records are swept in the background; a record
	// only matters while its checkout attempt can still complete.
	go sweepExpiredRecords(ctx, records, logger)

	// Handlers
	gatewayHandler := api.NewHandler(orchestrator, dispatcher, registrar)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Compress(5))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Ready check
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// API routes
	r.Route("/api/v1/gateway", func(r chi.Router) {
		r.Mount("/", gatewayHandler.Routes())
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting payment gateway",
			"port", cfg.Port,
			"environment", cfg.Environment,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

// sweepExpiredRecords deletes expired checkout correlation records
// periodically until the context is canceled.
func sweepExpiredRecords(ctx context.Context, records checkout.RecordStore, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := records.DeleteExpired(ctx)
			if err != nil {
				logger.Error("failed to sweep expired checkout records", "error", err)
				continue
			}
			if deleted > 0 {
				logger.Info("swept expired checkout records", "deleted", deleted)
			}
		}
	}
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
