// Package host provides the host registry service.
package host

import (
	"context"

	"github.com/limiquantix/servicecluster/internal/domain"
)

// Repository defines the data access interface for host records.
// Every method runs as a single atomic operation in the backing store.
type Repository interface {
	// UpsertByMAC overwrites the host registered under h.MACAddress, or creates it.
	// The boolean reports whether a new record was created.
	UpsertByMAC(ctx context.Context, h *domain.Host) (*domain.Host, bool, error)

	// Get retrieves a host by ID.
	Get(ctx context.Context, id int64) (*domain.Host, error)

	// Update overwrites all mutable fields of an existing host.
	Update(ctx context.Context, id int64, h *domain.Host) (*domain.Host, error)

	// Delete removes a host by ID.
	Delete(ctx context.Context, id int64) error

	// List returns all hosts ordered by ID.
	List(ctx context.Context) ([]*domain.Host, error)

	// SearchByName returns hosts whose name contains pattern (case-sensitive).
	SearchByName(ctx context.Context, pattern string) ([]*domain.Host, error)

	// ListAvailable returns hosts with non-zero disk, memory and CPU availability.
	ListAvailable(ctx context.Context) ([]*domain.Host, error)
}
