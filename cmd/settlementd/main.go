package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"

	"marketcore/internal/backends"
	"marketcore/internal/chain"
	"marketcore/internal/common/database"
	"marketcore/internal/common/middleware"
	natsclient "marketcore/internal/common/nats"
	"marketcore/internal/contentstore"
	"marketcore/internal/settlement"
	"marketcore/internal/settlement/api"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"SETTLEMENT_PORT" default:"8086"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// SellerAddress and SellerProxy configure the on-chain identity used
	// for escrow transitions. Proxy is optional.
	SellerAddress string `envconfig:"SELLER_ADDRESS" default:""`
	SellerProxy   string `envconfig:"SELLER_PROXY" default:""`

	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	// ChainEnabled gates the ledger integration; escrowed payment types
	// are rejected when disabled.
	ChainEnabled bool `envconfig:"CHAIN_ENABLED" default:"false"`

	Database   database.Config
	NATS       natsclient.Config
	Content    contentstore.Config
	Chain      chain.Config
	Processor  backends.Config
	Settlement settlement.Config
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

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Run migrations, then connect
	if err := database.Migrate(cfg.Database.URL); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to NATS and ensure the event stream
	nc, err := natsclient.New(ctx, cfg.NATS, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	if _, err := nc.EnsureStream(ctx, "SETTLEMENT", []string{"events.settlement.>"}); err != nil {
		logger.Error("failed to ensure event stream", "error", err)
		os.Exit(1)
	}
	publisher := natsclient.NewPublisher(nc, logger)

	// Content store client
	content := contentstore.New(cfg.Content, logger)

	// Ledger orchestrator (optional)
	var offers settlement.OfferClient
	if cfg.ChainEnabled {
		submitter, err := chain.NewEthSubmitter(ctx, cfg.Chain, logger)
		if err != nil {
			logger.Error("failed to connect to ledger node", "error", err)
			os.Exit(1)
		}
		defer submitter.Close()

		offers = chain.NewOrchestrator(submitter, content, submitter.Marketplace(), cfg.Chain.PollInterval, logger)
	}

	seller := chain.Identity{Address: common.HexToAddress(cfg.SellerAddress)}
	if cfg.SellerProxy != "" {
		proxy := common.HexToAddress(cfg.SellerProxy)
		seller.Proxy = &proxy
	}

	// Create services
	store := settlement.NewPostgresStore(db)
	settlementService := settlement.NewService(store, content, offers, publisher, seller, cfg.Settlement, logger)
	settlementService.SetProcessor(backends.NewNATSProcessor(nc.Conn(), cfg.Processor, logger))

	// Create handlers
	settlementHandler := api.NewHandler(settlementService, logger)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.ShopExtractor)
	r.Use(chimw.Compress(5))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		if err := nc.HealthCheck(); err != nil {
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

	// API routes. Mutating settlement calls replay under Idempotency-Key.
	idempotency := middleware.Idempotency(
		middleware.NewCacheIdempotencyStore(cfg.IdempotencyTTL), cfg.IdempotencyTTL)
	r.Route("/api/v1/settlement", func(r chi.Router) {
		r.Use(idempotency)
		r.Mount("/", settlementHandler.Routes())
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
		logger.Info("starting settlement service",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"chain_enabled", cfg.ChainEnabled,
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
