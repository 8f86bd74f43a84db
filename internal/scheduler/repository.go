package scheduler

import (
	"context"

	"github.com/limiquantix/servicecluster/internal/domain"
)

// HostRepository defines the host data access needed by the scheduler.
type HostRepository interface {
	// List returns all registered hosts ordered by ID.
	List(ctx context.Context) ([]*domain.Host, error)
}
