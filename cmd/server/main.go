// @title           Model-Based Configuration Framework API
// @version         1.0.0
// @description     Multi-tenant engineering data backend with organizations, projects, branches, model elements, artifact storage, and webhooks
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                        Authorization
// @description                 "JWT session token: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health, readiness, and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics are served on a dedicated side-channel port (default: 9090) separate from the main API server, keeping the scrape path off the public ingress and outside rate-limiting middleware. Configure the port with MCF_TELEMETRY_METRICS_PROMETHEUS_PORT. The endpoint path is always GET /metrics.

// Package main is the entry point for the MCF server binary. It dispatches
// three subcommands — serve, migrate, and version — via a simple switch on
// os.Args so the binary's full CLI surface is readable in one place without
// requiring a cobra dependency. The serve command runs auto-migration on
// startup so freshly deployed containers never need a separate migration step.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmco/mcf-sub003/internal/api"
	"github.com/lmco/mcf-sub003/internal/auth"
	"github.com/lmco/mcf-sub003/internal/config"
	"github.com/lmco/mcf-sub003/internal/db"
	"github.com/lmco/mcf-sub003/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	version = "0.1.0"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "version":
		fmt.Printf("MCF v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

func serve(cfg *config.Config) error {
	// Initialise structured logging first so all subsequent output uses the
	// configured format (json / text) and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Fails in production if the JWT secret is unset or a known default.
	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	slog.Info("database config",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"user", cfg.Database.User,
		"dbname", cfg.Database.Name,
		"sslmode", cfg.Database.SSLMode)

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("connected to database")

	// Begin exporting DB pool statistics to Prometheus.
	telemetry.StartDBStatsCollector(database.DB)

	// Migrations run automatically on startup so a fresh deploy needs no
	// separate migration step.
	if err := db.RunMigrations(database.DB, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	schemaVersion, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema version", "version", schemaVersion, "dirty", dirty)
	}

	// Prometheus metrics listen on a dedicated port so the scrape path is not
	// reachable through the public API ingress.
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	router, bgServices := api.NewRouter(cfg, database)

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting server",
			"addr", cfg.Server.GetAddress(),
			"base_url", cfg.Server.BaseURL,
			"storage_backend", cfg.Storage.DefaultBackend,
			"default_org", cfg.Tenancy.DefaultOrganization)

		var err error
		if cfg.Security.TLS.Enabled {
			slog.Info("TLS enabled", "cert", cfg.Security.TLS.CertFile, "key", cfg.Security.TLS.KeyFile)
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Stop background jobs, audit shippers, and rate limiter goroutines.
	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)

	if err := db.RunMigrations(database.DB, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	schemaVersion, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	slog.Info("migration completed", "version", schemaVersion, "dirty", dirty)
	return nil
}
