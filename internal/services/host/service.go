package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/servicecluster/internal/domain"
)

// Validator checks a payload and returns a *domain.ValidationError on failure.
type Validator interface {
	Struct(s interface{}) error
}

// Cache is a read-through cache of host records.
type Cache interface {
	GetHost(ctx context.Context, id int64) (*domain.Host, error)
	SetHost(ctx context.Context, h *domain.Host) error
	InvalidateHost(ctx context.Context, id int64) error
}

// EventPublisher receives registry events.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Service implements the host registry operations used by the API.
type Service struct {
	repo      Repository
	validator Validator
	cache     Cache
	publisher EventPublisher
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables the host cache.
func WithCache(c Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithPublisher sends registry events to p.
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// NewService creates a new host service.
func NewService(repo Repository, validator Validator, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		validator: validator,
		logger:    logger.With(zap.String("service", "host")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates the host or overwrites the one registered under the same
// MAC address. The boolean reports whether a new record was created.
func (s *Service) Register(ctx context.Context, h *domain.Host) (*domain.Host, bool, error) {
	h.Normalize()
	logger := s.logger.With(
		zap.String("method", "Register"),
		zap.String("mac_address", h.MACAddress),
	)

	if err := s.validator.Struct(h); err != nil {
		logger.Debug("Validation failed", zap.Error(err))
		return nil, false, err
	}

	stored, created, err := s.repo.UpsertByMAC(ctx, h)
	if err != nil {
		logger.Warn("Failed to register host", zap.Error(err))
		return nil, false, fmt.Errorf("failed to register host: %w", err)
	}

	eventType := domain.EventHostUpdated
	if created {
		eventType = domain.EventHostCreated
	}
	logger.Info("Host registered",
		zap.Int64("host_id", stored.ID),
		zap.String("name", stored.Name),
		zap.Bool("created", created),
	)

	s.cacheHost(ctx, stored)
	s.publish(ctx, eventType, stored.ID, stored)

	return stored, created, nil
}

// Get returns a host by ID.
func (s *Service) Get(ctx context.Context, id int64) (*domain.Host, error) {
	if s.cache != nil {
		if h, err := s.cache.GetHost(ctx, id); err == nil {
			return h, nil
		}
	}

	h, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheHost(ctx, h)
	return h, nil
}

// Update overwrites all mutable fields of an existing host.
func (s *Service) Update(ctx context.Context, id int64, h *domain.Host) (*domain.Host, error) {
	logger := s.logger.With(
		zap.String("method", "Update"),
		zap.Int64("host_id", id),
	)

	h.Normalize()
	if err := s.validator.Struct(h); err != nil {
		logger.Debug("Validation failed", zap.Error(err))
		return nil, err
	}

	updated, err := s.repo.Update(ctx, id, h)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		logger.Warn("Failed to update host", zap.Error(err))
		return nil, fmt.Errorf("failed to update host: %w", err)
	}

	logger.Info("Host updated", zap.String("name", updated.Name))

	s.cacheHost(ctx, updated)
	s.publish(ctx, domain.EventHostUpdated, updated.ID, updated)

	return updated, nil
}

// Delete removes a host by ID.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("Host deleted", zap.Int64("host_id", id))

	if s.cache != nil {
		if err := s.cache.InvalidateHost(ctx, id); err != nil {
			s.logger.Warn("Failed to invalidate cached host", zap.Int64("host_id", id), zap.Error(err))
		}
	}
	s.publish(ctx, domain.EventHostDeleted, id, nil)

	return nil
}

// Seed registers hosts when the registry is empty and returns how many were
// stored. A registry that already holds hosts is left untouched.
func (s *Service) Seed(ctx context.Context, hosts []*domain.Host) (int, error) {
	existing, err := s.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list hosts: %w", err)
	}
	if len(existing) > 0 {
		s.logger.Debug("Registry not empty, skipping seed", zap.Int("hosts", len(existing)))
		return 0, nil
	}

	for _, h := range hosts {
		if _, _, err := s.repo.UpsertByMAC(ctx, h.Clone()); err != nil {
			return 0, fmt.Errorf("failed to seed host %s: %w", h.Name, err)
		}
	}

	s.logger.Info("Seeded host registry", zap.Int("hosts", len(hosts)))
	return len(hosts), nil
}

// List returns all hosts.
func (s *Service) List(ctx context.Context) ([]*domain.Host, error) {
	return s.repo.List(ctx)
}

// Search returns hosts whose name contains pattern.
func (s *Service) Search(ctx context.Context, pattern string) ([]*domain.Host, error) {
	return s.repo.SearchByName(ctx, pattern)
}

// ListAvailable returns hosts with free disk, memory and CPU.
func (s *Service) ListAvailable(ctx context.Context) ([]*domain.Host, error) {
	return s.repo.ListAvailable(ctx)
}

// ============================================================================
// Helper Functions
// ============================================================================

func (s *Service) cacheHost(ctx context.Context, h *domain.Host) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetHost(ctx, h); err != nil {
		s.logger.Warn("Failed to cache host", zap.Int64("host_id", h.ID), zap.Error(err))
		// An older copy may still be cached.
		if err := s.cache.InvalidateHost(ctx, h.ID); err != nil {
			s.logger.Warn("Failed to invalidate cached host", zap.Int64("host_id", h.ID), zap.Error(err))
		}
	}
}

func (s *Service) publish(ctx context.Context, eventType domain.EventType, id int64, data interface{}) {
	if s.publisher == nil {
		return
	}
	event := domain.Event{
		Type:       eventType,
		ResourceID: id,
		Data:       data,
		Timestamp:  time.Now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event", zap.String("type", string(eventType)), zap.Error(err))
	}
}
