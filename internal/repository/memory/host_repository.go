// Package memory provides in-memory repository implementations for development and testing.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/limiquantix/servicecluster/internal/domain"
	"github.com/limiquantix/servicecluster/internal/services/host"
)

// Ensure HostRepository implements host.Repository
var _ host.Repository = (*HostRepository)(nil)

// HostRepository is an in-memory implementation of the host registry.
type HostRepository struct {
	mu     sync.RWMutex
	data   map[int64]*domain.Host
	nextID int64
}

// NewHostRepository creates a new in-memory host repository.
func NewHostRepository() *HostRepository {
	return &HostRepository{
		data:   make(map[int64]*domain.Host),
		nextID: 1,
	}
}

// UpsertByMAC overwrites the host registered under the same MAC address or creates a new one.
func (r *HostRepository) UpsertByMAC(ctx context.Context, h *domain.Host) (*domain.Host, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.findByMAC(h.MACAddress)

	var selfID int64
	if existing != nil {
		selfID = existing.ID
	}
	if r.ipTaken(h.IPAddress, selfID) {
		return nil, false, domain.ErrConflict
	}

	now := time.Now()
	if existing != nil {
		existing.CopyMutableFrom(h)
		existing.UpdatedAt = now
		return existing.Clone(), false, nil
	}

	stored := h.Clone()
	stored.ID = r.nextID
	r.nextID++
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.data[stored.ID] = stored

	return stored.Clone(), true, nil
}

// Get retrieves a host by ID.
func (r *HostRepository) Get(ctx context.Context, id int64) (*domain.Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return h.Clone(), nil
}

// Update overwrites all mutable fields of an existing host.
func (r *HostRepository) Update(ctx context.Context, id int64, h *domain.Host) (*domain.Host, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	if other := r.findByMAC(h.MACAddress); other != nil && other.ID != id {
		return nil, domain.ErrConflict
	}
	if r.ipTaken(h.IPAddress, id) {
		return nil, domain.ErrConflict
	}

	existing.CopyMutableFrom(h)
	existing.UpdatedAt = time.Now()

	return existing.Clone(), nil
}

// Delete removes a host by ID.
func (r *HostRepository) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[id]; !ok {
		return domain.ErrNotFound
	}

	delete(r.data, id)
	return nil
}

// List returns all hosts ordered by ID.
func (r *HostRepository) List(ctx context.Context) ([]*domain.Host, error) {
	return r.collect(func(*domain.Host) bool { return true }), nil
}

// SearchByName returns hosts whose name contains pattern.
func (r *HostRepository) SearchByName(ctx context.Context, pattern string) ([]*domain.Host, error) {
	return r.collect(func(h *domain.Host) bool {
		return strings.Contains(h.Name, pattern)
	}), nil
}

// ListAvailable returns hosts with free disk, memory and CPU.
func (r *HostRepository) ListAvailable(ctx context.Context) ([]*domain.Host, error) {
	return r.collect((*domain.Host).HasAvailableCapacity), nil
}

// SeedDemoData registers the demo fleet. It is a no-op when hosts already exist.
func (r *HostRepository) SeedDemoData() {
	r.mu.RLock()
	populated := len(r.data) > 0
	r.mu.RUnlock()
	if populated {
		return
	}

	for _, h := range DemoHosts() {
		// Demo MACs and IPs are distinct, so the upsert cannot conflict.
		_, _, _ = r.UpsertByMAC(context.Background(), h)
	}
}

// DemoHosts returns the three-host demo fleet.
func DemoHosts() []*domain.Host {
	return []*domain.Host{
		{
			Name:                "Cluster-1",
			MACAddress:          "00:1A:2B:3C:4D:5E",
			IPAddress:           "192.168.1.100",
			TotalDiskGB:         1000,
			AvailableDiskGB:     800,
			TotalMemoryGB:       64,
			AvailableMemoryGB:   48,
			CPUModel:            "Intel Xeon E5-2680",
			AvailableCPUPercent: 75.5,
			CoreCount:           12,
		},
		{
			Name:                "Cluster-2",
			MACAddress:          "00:1A:2B:3C:4D:5F",
			IPAddress:           "192.168.1.101",
			TotalDiskGB:         2000,
			AvailableDiskGB:     1500,
			TotalMemoryGB:       128,
			AvailableMemoryGB:   96,
			CPUModel:            "AMD EPYC 7742",
			AvailableCPUPercent: 85.0,
			CoreCount:           64,
		},
		{
			Name:                "Cluster-3",
			MACAddress:          "00:1A:2B:3C:4D:60",
			IPAddress:           "192.168.1.102",
			TotalDiskGB:         500,
			AvailableDiskGB:     200,
			TotalMemoryGB:       32,
			AvailableMemoryGB:   16,
			CPUModel:            "Intel Xeon E7-8890",
			AvailableCPUPercent: 50.0,
			CoreCount:           24,
		},
	}
}

// ============================================================================
// Helper Functions
// ============================================================================

// findByMAC returns the stored host with the given MAC. Callers must hold the lock.
func (r *HostRepository) findByMAC(mac string) *domain.Host {
	for _, h := range r.data {
		if h.MACAddress == mac {
			return h
		}
	}
	return nil
}

// ipTaken reports whether another host than selfID owns ip. Callers must hold the lock.
func (r *HostRepository) ipTaken(ip string, selfID int64) bool {
	for _, h := range r.data {
		if h.IPAddress == ip && h.ID != selfID {
			return true
		}
	}
	return false
}

func (r *HostRepository) collect(match func(*domain.Host) bool) []*domain.Host {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Host, 0, len(r.data))
	for _, h := range r.data {
		if match(h) {
			result = append(result, h.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result
}
