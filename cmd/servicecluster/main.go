// Package main is the entry point for the service-cluster service.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/limiquantix/servicecluster/internal/config"
	"github.com/limiquantix/servicecluster/internal/repository/etcd"
	"github.com/limiquantix/servicecluster/internal/repository/postgres"
	"github.com/limiquantix/servicecluster/internal/repository/redis"
	"github.com/limiquantix/servicecluster/internal/repository/sqlite"
	"github.com/limiquantix/servicecluster/internal/server"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		println("Service Cluster")
		println("Version:", version)
		println("Commit:", commit)
		println("Build Date:", buildDate)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		println("Failed to load config:", err.Error())
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("Starting Service Cluster",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("registry_backend", cfg.Registry.Backend),
	)

	// Setup signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := connectInfrastructure(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize infrastructure", zap.Error(err))
	}

	// Create server
	srv := server.New(cfg, logger, opts...)

	// Run server
	if err := srv.Run(ctx); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}

	logger.Info("Goodbye!")
}

// connectInfrastructure opens the configured registry backend and the optional
// Redis and etcd connections. The server closes them when it stops.
func connectInfrastructure(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]server.ServerOption, error) {
	var opts []server.ServerOption

	switch cfg.Registry.Backend {
	case config.BackendPostgres:
		db, err := postgres.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, server.WithPostgreSQL(db))
	case config.BackendSQLite:
		db, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		logger.Info("Opened SQLite database", zap.String("path", cfg.SQLite.Path))
		opts = append(opts, server.WithSQLite(db))
	}

	if cfg.Redis.Enabled() {
		cache, err := redis.NewCache(cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis unavailable, continuing without cache", zap.Error(err))
		} else {
			opts = append(opts, server.WithRedis(cache))
		}
	}

	if cfg.Etcd.Enabled() {
		client, err := etcd.NewClient(cfg.Etcd, logger)
		if err != nil {
			logger.Warn("etcd unavailable, continuing without service registration", zap.Error(err))
		} else {
			opts = append(opts, server.WithEtcd(client))
		}
	}

	return opts, nil
}

// setupLogger configures the zap logger based on configuration.
func setupLogger(cfg config.LoggingConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapConfig.Build()
	if err != nil {
		panic("Failed to create logger: " + err.Error())
	}

	return logger
}
