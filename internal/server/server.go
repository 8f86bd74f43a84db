// Package server provides the HTTP server for the service-cluster API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/limiquantix/servicecluster/internal/config"
	"github.com/limiquantix/servicecluster/internal/repository/etcd"
	"github.com/limiquantix/servicecluster/internal/repository/memory"
	"github.com/limiquantix/servicecluster/internal/repository/postgres"
	"github.com/limiquantix/servicecluster/internal/repository/redis"
	"github.com/limiquantix/servicecluster/internal/repository/sqlite"
	"github.com/limiquantix/servicecluster/internal/scheduler"
	"github.com/limiquantix/servicecluster/internal/services/host"
	"github.com/limiquantix/servicecluster/internal/services/placement"
	"github.com/limiquantix/servicecluster/internal/services/provisioning"
	"github.com/limiquantix/servicecluster/internal/validation"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "SERVICE-CLUSTER"

// Server represents the main HTTP server.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	mux        *http.ServeMux
	instanceID string

	// Infrastructure
	db     *postgres.DB
	sqlite *gorm.DB
	cache  *redis.Cache
	etcd   *etcd.Client

	// Host registry backend
	hostRepo host.Repository

	scheduler        *scheduler.Scheduler
	hostService      *host.Service
	placementService *placement.Service
	events           *EventHub
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithPostgreSQL stores hosts in PostgreSQL.
func WithPostgreSQL(db *postgres.DB) ServerOption {
	return func(s *Server) {
		s.db = db
	}
}

// WithSQLite stores hosts in an embedded SQLite database.
func WithSQLite(db *gorm.DB) ServerOption {
	return func(s *Server) {
		s.sqlite = db
	}
}

// WithRedis enables the host cache and cross-instance event delivery.
func WithRedis(cache *redis.Cache) ServerOption {
	return func(s *Server) {
		s.cache = cache
	}
}

// WithEtcd registers this instance in etcd while the server runs.
func WithEtcd(client *etcd.Client) ServerOption {
	return func(s *Server) {
		s.etcd = client
	}
}

// WithHostRepository overrides the host registry backend.
func WithHostRepository(repo host.Repository) ServerOption {
	return func(s *Server) {
		s.hostRepo = repo
	}
}

// New creates a new server instance.
func New(cfg *config.Config, logger *zap.Logger, opts ...ServerOption) *Server {
	mux := http.NewServeMux()

	s := &Server{
		config:     cfg,
		logger:     logger,
		mux:        mux,
		instanceID: uuid.NewString(),
		events:     NewEventHub(logger),
	}

	// Apply options
	for _, opt := range opts {
		opt(s)
	}

	s.initRepositories()
	s.initServices()
	if cfg.Registry.SeedDemoData {
		s.seedDemoData()
	}
	s.registerRoutes()

	handler := s.setupMiddleware(mux)
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

// initRepositories selects the host registry backend.
func (s *Server) initRepositories() {
	switch {
	case s.hostRepo != nil:
	case s.db != nil:
		s.logger.Info("Initializing PostgreSQL host registry")
		s.hostRepo = postgres.NewHostRepository(s.db, s.logger)
	case s.sqlite != nil:
		s.logger.Info("Initializing SQLite host registry")
		s.hostRepo = sqlite.NewHostRepository(s.sqlite, s.logger)
	default:
		s.logger.Info("Initializing in-memory host registry")
		s.hostRepo = memory.NewHostRepository()
	}

	s.logger.Info("Repositories initialized",
		zap.Bool("postgres", s.db != nil),
		zap.Bool("sqlite", s.sqlite != nil),
		zap.Bool("redis", s.cache != nil),
		zap.Bool("etcd", s.etcd != nil),
	)
}

// initServices initializes business logic services.
func (s *Server) initServices() {
	schedulerConfig := scheduler.DefaultConfig()
	if s.config.Scheduler.PlacementStrategy != "" {
		schedulerConfig.PlacementStrategy = s.config.Scheduler.PlacementStrategy
	}
	if s.config.Scheduler.CPUPercentPerCore > 0 {
		schedulerConfig.CPUPercentPerCore = s.config.Scheduler.CPUPercentPerCore
	}
	s.scheduler = scheduler.New(s.hostRepo, schedulerConfig, s.logger)

	v := validation.New()

	// With Redis, events travel through the shared channel and come back to the
	// local hub through the relay started in Run.
	var publisher host.EventPublisher = s.events
	hostOpts := []host.Option{}
	if s.cache != nil {
		publisher = s.cache
		hostOpts = append(hostOpts, host.WithCache(s.cache))
	}
	hostOpts = append(hostOpts, host.WithPublisher(publisher))

	s.hostService = host.NewService(s.hostRepo, v, s.logger, hostOpts...)
	s.placementService = placement.NewService(
		v,
		s.scheduler,
		provisioning.NewClient(s.config.Provisioning, s.logger),
		publisher,
		s.logger,
	)

	s.logger.Info("Services initialized",
		zap.String("scheduler_strategy", schedulerConfig.PlacementStrategy),
		zap.Int("provisioning_port", s.config.Provisioning.Port),
		zap.Duration("provisioning_timeout", s.config.Provisioning.Timeout),
	)
}

// seedDemoData fills an empty registry with the demo fleet, whatever the backend.
func (s *Server) seedDemoData() {
	n, err := s.hostService.Seed(context.Background(), memory.DemoHosts())
	if err != nil {
		s.logger.Warn("Failed to seed demo hosts", zap.Error(err))
		return
	}
	s.logger.Info("Demo data seeded", zap.Int("hosts", n))
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes() {
	// Health endpoints
	s.mux.HandleFunc("GET /api/health", s.healthHandler)
	s.mux.HandleFunc("GET /api/health/", s.healthHandler)
	s.mux.HandleFunc("GET /health", s.healthHandler)
	s.mux.HandleFunc("GET /ready", s.readyHandler)
	s.mux.HandleFunc("GET /live", s.liveHandler)

	NewHostHandler(s.hostService, s.placementService, s.logger).RegisterRoutes(s.mux)
	NewEventStreamHandler(s.events, s.logger).RegisterRoutes(s.mux)

	s.logger.Info("All routes registered")
}

// setupMiddleware configures middleware chain.
func (s *Server) setupMiddleware(handler http.Handler) http.Handler {
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.config.CORS.AllowedOrigins,
		AllowedMethods:   s.config.CORS.AllowedMethods,
		AllowedHeaders:   s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           86400, // 24 hours
	})

	handler = corsHandler.Handler(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.requestIDMiddleware(handler)
	handler = s.recoveryMiddleware(handler)

	return handler
}

// Handler returns the HTTP handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Events returns the in-process event hub.
func (s *Server) Events() *EventHub {
	return s.events
}

// healthHandler returns health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "UP",
		"service": ServiceName,
	}, s.logger)
}

// readyHandler returns readiness status.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ready := true
	details := map[string]string{}

	check := func(name string, err error) {
		if err != nil {
			ready = false
			details[name] = "unhealthy"
			return
		}
		details[name] = "healthy"
	}

	if s.db != nil {
		check("postgres", s.db.Health(ctx))
	}
	if s.sqlite != nil {
		sqlDB, err := s.sqlite.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		check("sqlite", err)
	}
	if s.cache != nil {
		check("redis", s.cache.Health(ctx))
	}
	if s.etcd != nil {
		check("etcd", s.etcd.Health(ctx))
		if instances, err := s.etcd.Instances(ctx, s.config.Discovery.AppName); err == nil {
			details["registered_instances"] = strconv.Itoa(len(instances))
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"ready":      ready,
		"components": details,
	}, s.logger)
}

// liveHandler returns liveness status.
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"alive": true}, s.logger)
}

// Run starts the HTTP server and blocks until ctx is cancelled or a component fails.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting server",
		zap.String("address", s.config.Server.Address()),
		zap.String("instance_id", s.instanceID),
	)

	g, gctx := errgroup.WithContext(ctx)
	s.httpServer.BaseContext = func(net.Listener) context.Context { return gctx }

	g.Go(func() error {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutdown signal received")
		return s.shutdownHTTP()
	})

	if s.cache != nil {
		g.Go(func() error {
			for event := range s.cache.Subscribe(gctx) {
				_ = s.events.Publish(gctx, event)
			}
			return nil
		})
	}

	if s.etcd != nil {
		g.Go(func() error {
			return s.register(gctx)
		})
	}

	err := g.Wait()
	s.closeInfrastructure()
	return err
}

// register announces this instance in etcd and withdraws it when ctx ends.
// Registration failures are logged and do not stop the server.
func (s *Server) register(ctx context.Context) error {
	reg, err := s.etcd.Register(ctx, s.instance(), s.config.Discovery.LeaseTTL)
	if err != nil {
		s.logger.Warn("Failed to register in service registry", zap.Error(err))
		return nil
	}
	s.logger.Info("Registered in service registry", zap.String("key", reg.Key()))

	<-ctx.Done()

	deregCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	if err := reg.Deregister(deregCtx); err != nil {
		s.logger.Warn("Failed to deregister from service registry", zap.Error(err))
	}
	return nil
}

// instance describes this process for the service registry.
func (s *Server) instance() etcd.Instance {
	hostName := s.config.Discovery.InstanceHost
	if hostName == "" || hostName == "0.0.0.0" {
		if h, err := os.Hostname(); err == nil {
			hostName = h
		}
	}

	base := "http://" + net.JoinHostPort(hostName, strconv.Itoa(s.config.Server.Port))
	return etcd.Instance{
		InstanceID: s.instanceID,
		App:        s.config.Discovery.AppName,
		Host:       hostName,
		Port:       s.config.Server.Port,
		Status:     "UP",
		StatusURL:  base + "/api/health/",
		HealthURL:  base + "/api/health/",
	}
}

func (s *Server) shutdownHTTP() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down server...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	return nil
}

// closeInfrastructure closes infrastructure connections.
func (s *Server) closeInfrastructure() {
	if s.etcd != nil {
		if err := s.etcd.Close(); err != nil {
			s.logger.Warn("Failed to close etcd", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("Failed to close Redis", zap.Error(err))
		}
	}
	if s.sqlite != nil {
		if sqlDB, err := s.sqlite.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if s.db != nil {
		s.db.Close()
	}

	s.logger.Info("Server stopped gracefully")
}
