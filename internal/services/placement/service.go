// Package placement selects a host for a VM request and, when the request
// carries the VM parameters, forwards the creation to that host.
package placement

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/servicecluster/internal/domain"
	"github.com/limiquantix/servicecluster/internal/scheduler"
	"github.com/limiquantix/servicecluster/internal/services/provisioning"
)

// Validator checks a payload and returns a *domain.ValidationError on failure.
type Validator interface {
	Struct(s interface{}) error
}

// Matcher picks a host for a request.
type Matcher interface {
	FindSuitableHost(ctx context.Context, req *domain.PlacementRequest) (*scheduler.Result, error)
}

// Forwarder sends a VM creation request to a host.
type Forwarder interface {
	CreateVM(ctx context.Context, host *domain.Host, req *domain.PlacementRequest) *provisioning.Outcome
}

// EventPublisher receives placement events.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Result is the outcome of a placement. Provisioning is nil when the request
// did not ask for VM creation.
type Result struct {
	Host         *domain.Host
	Score        float64
	Provisioning *provisioning.Outcome
}

// Service orchestrates validation, host selection and VM creation.
type Service struct {
	validator Validator
	matcher   Matcher
	forwarder Forwarder
	publisher EventPublisher
	logger    *zap.Logger
}

// NewService creates a new placement service. publisher may be nil.
func NewService(validator Validator, matcher Matcher, forwarder Forwarder, publisher EventPublisher, logger *zap.Logger) *Service {
	return &Service{
		validator: validator,
		matcher:   matcher,
		forwarder: forwarder,
		publisher: publisher,
		logger:    logger.With(zap.String("service", "placement")),
	}
}

// selectionEvent is the payload of placement events.
type selectionEvent struct {
	HostID    int64   `json:"host_id,omitempty"`
	Score     float64 `json:"score,omitempty"`
	CPUCount  int32   `json:"cpu_count"`
	MemoryMiB int64   `json:"memory_size_mib"`
	DiskGB    int64   `json:"disk_size_gb"`
	Forwarded bool    `json:"forwarded"`
	Error     string  `json:"error,omitempty"`
}

// Place validates req, selects a host and forwards VM creation when req names
// the VM, its user and its OS type. A failed forwarding is reported in the
// result, not as an error. Selection is not a reservation: nothing is
// decremented on the chosen host.
func (s *Service) Place(ctx context.Context, req *domain.PlacementRequest) (*Result, error) {
	logger := s.logger.With(
		zap.Int32("cpu_count", req.CPUCount),
		zap.Int64("memory_size_mib", req.MemorySizeMiB),
		zap.Int64("disk_size_gb", req.DiskSizeGB),
	)

	if err := s.validator.Struct(req); err != nil {
		logger.Debug("Validation failed", zap.Error(err))
		return nil, err
	}

	event := selectionEvent{
		CPUCount:  req.CPUCount,
		MemoryMiB: req.MemorySizeMiB,
		DiskGB:    req.DiskSizeGB,
	}

	selected, err := s.matcher.FindSuitableHost(ctx, req)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			event.Error = err.Error()
			s.publish(ctx, domain.EventPlacementFailed, 0, event)
		}
		return nil, err
	}

	result := &Result{Host: selected.Host, Score: selected.Score}
	event.HostID = selected.Host.ID
	event.Score = selected.Score

	if req.WantsProvisioning() {
		logger.Info("Forwarding VM creation",
			zap.Int64("host_id", selected.Host.ID),
			zap.String("vm_name", req.Name),
		)
		result.Provisioning = s.forwarder.CreateVM(ctx, selected.Host, req)
		event.Forwarded = true
		if !result.Provisioning.OK() {
			event.Error = result.Provisioning.Err.Error()
		}
	}

	s.publish(ctx, domain.EventPlacementSelected, selected.Host.ID, event)

	return result, nil
}

func (s *Service) publish(ctx context.Context, eventType domain.EventType, id int64, data interface{}) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(ctx, domain.Event{
		Type:       eventType,
		ResourceID: id,
		Data:       data,
		Timestamp:  time.Now(),
	})
	if err != nil {
		s.logger.Warn("Failed to publish event", zap.String("type", string(eventType)), zap.Error(err))
	}
}
