// Package host provides tests for the host service.
package host

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/limiquantix/servicecluster/internal/domain"
	"github.com/limiquantix/servicecluster/internal/validation"
)

// MockRepository is a mock implementation of the Repository interface.
type MockRepository struct {
	hosts    map[int64]*domain.Host
	nextID   int64
	upsertFn func(ctx context.Context, h *domain.Host) (*domain.Host, bool, error)
	getCalls int
}

func NewMockRepository() *MockRepository {
	return &MockRepository{hosts: make(map[int64]*domain.Host), nextID: 1}
}

func (m *MockRepository) UpsertByMAC(ctx context.Context, h *domain.Host) (*domain.Host, bool, error) {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, h)
	}
	for _, existing := range m.hosts {
		if existing.MACAddress == h.MACAddress {
			existing.CopyMutableFrom(h)
			return existing.Clone(), false, nil
		}
	}
	stored := h.Clone()
	stored.ID = m.nextID
	m.nextID++
	m.hosts[stored.ID] = stored
	return stored.Clone(), true, nil
}

func (m *MockRepository) Get(ctx context.Context, id int64) (*domain.Host, error) {
	m.getCalls++
	h, ok := m.hosts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return h.Clone(), nil
}

func (m *MockRepository) Update(ctx context.Context, id int64, h *domain.Host) (*domain.Host, error) {
	existing, ok := m.hosts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	existing.CopyMutableFrom(h)
	return existing.Clone(), nil
}

func (m *MockRepository) Delete(ctx context.Context, id int64) error {
	if _, ok := m.hosts[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.hosts, id)
	return nil
}

func (m *MockRepository) List(ctx context.Context) ([]*domain.Host, error) {
	var result []*domain.Host
	for _, h := range m.hosts {
		result = append(result, h.Clone())
	}
	return result, nil
}

func (m *MockRepository) SearchByName(ctx context.Context, pattern string) ([]*domain.Host, error) {
	return nil, nil
}

func (m *MockRepository) ListAvailable(ctx context.Context) ([]*domain.Host, error) {
	return nil, nil
}

// MockCache is an in-memory Cache.
type MockCache struct {
	hosts  map[int64]*domain.Host
	setErr error
}

func NewMockCache() *MockCache {
	return &MockCache{hosts: make(map[int64]*domain.Host)}
}

func (c *MockCache) GetHost(ctx context.Context, id int64) (*domain.Host, error) {
	h, ok := c.hosts[id]
	if !ok {
		return nil, errors.New("cache miss")
	}
	return h.Clone(), nil
}

func (c *MockCache) SetHost(ctx context.Context, h *domain.Host) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.hosts[h.ID] = h.Clone()
	return nil
}

func (c *MockCache) InvalidateHost(ctx context.Context, id int64) error {
	delete(c.hosts, id)
	return nil
}

// RecordingPublisher records published events.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *RecordingPublisher) Publish(ctx context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *RecordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.EventType
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func testHost() *domain.Host {
	return &domain.Host{
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
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestService_Register(t *testing.T) {
	repo := NewMockRepository()
	pub := &RecordingPublisher{}
	logger, _ := zap.NewDevelopment()
	service := NewService(repo, validation.New(), logger, WithPublisher(pub))
	ctx := context.Background()

	created, isNew, err := service.Register(ctx, testHost())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !isNew || created.ID != 1 {
		t.Fatalf("Expected new host 1, got new=%v id=%d", isNew, created.ID)
	}

	again := testHost()
	again.Name = "Cluster-1b"
	updated, isNew, err := service.Register(ctx, again)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if isNew || updated.ID != 1 || updated.Name != "Cluster-1b" {
		t.Errorf("Expected host 1 overwritten, got new=%v id=%d name=%s", isNew, updated.ID, updated.Name)
	}

	types := pub.types()
	if len(types) != 2 || types[0] != domain.EventHostCreated || types[1] != domain.EventHostUpdated {
		t.Errorf("Unexpected events: %v", types)
	}
}

func TestService_Register_Validation(t *testing.T) {
	repo := NewMockRepository()
	logger, _ := zap.NewDevelopment()
	service := NewService(repo, validation.New(), logger)

	bad := testHost()
	bad.AvailableMemoryGB = 100

	_, _, err := service.Register(context.Background(), bad)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if verr.Field != "available_memory_gb" {
		t.Errorf("Expected field available_memory_gb, got %s", verr.Field)
	}
	if len(repo.hosts) != 0 {
		t.Error("Expected nothing to be stored")
	}
}

func TestService_Register_Conflict(t *testing.T) {
	repo := NewMockRepository()
	repo.upsertFn = func(ctx context.Context, h *domain.Host) (*domain.Host, bool, error) {
		return nil, false, domain.ErrConflict
	}
	logger, _ := zap.NewDevelopment()
	service := NewService(repo, validation.New(), logger)

	_, _, err := service.Register(context.Background(), testHost())
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}
}

func TestService_Get_UsesCache(t *testing.T) {
	repo := NewMockRepository()
	cache := NewMockCache()
	logger, _ := zap.NewDevelopment()
	service := NewService(repo, validation.New(), logger, WithCache(cache))
	ctx := context.Background()

	h, _, err := service.Register(ctx, testHost())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, err := service.Get(ctx, h.ID); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if repo.getCalls != 0 {
		t.Errorf("Expected cached read, repository was called %d times", repo.getCalls)
	}

	if err := service.Delete(ctx, h.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := service.Get(ctx, h.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if repo.getCalls != 1 {
		t.Errorf("Expected repository read after invalidation, got %d calls", repo.getCalls)
	}
}

func TestService_UpdateAndDelete(t *testing.T) {
	repo := NewMockRepository()
	pub := &RecordingPublisher{}
	logger, _ := zap.NewDevelopment()
	service := NewService(repo, validation.New(), logger, WithPublisher(pub))
	ctx := context.Background()

	if _, err := service.Update(ctx, 9, testHost()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	h, _, _ := service.Register(ctx, testHost())
	changes := testHost()
	changes.AvailableCPUPercent = 10
	updated, err := service.Update(ctx, h.ID, changes)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.AvailableCPUPercent != 10 {
		t.Errorf("Expected 10%% CPU, got %f", updated.AvailableCPUPercent)
	}

	if err := service.Delete(ctx, h.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := service.Delete(ctx, h.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}

	types := pub.types()
	want := []domain.EventType{domain.EventHostCreated, domain.EventHostUpdated, domain.EventHostDeleted}
	if len(types) != len(want) {
		t.Fatalf("Expected %d events, got %v", len(want), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], types[i])
		}
	}
}

func TestService_Register_CanonicalMAC(t *testing.T) {
	repo := NewMockRepository()
	logger, _ := zap.NewDevelopment()
	service := NewService(repo, validation.New(), logger)
	ctx := context.Background()

	first, _, err := service.Register(ctx, testHost())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Same MAC in hyphenated lower-case notation.
	again := testHost()
	again.MACAddress = "00-1a-2b-3c-4d-5e"
	again.Name = "Cluster-1b"
	second, isNew, err := service.Register(ctx, again)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if isNew || second.ID != first.ID {
		t.Errorf("Expected host %d overwritten, got new=%v id=%d", first.ID, isNew, second.ID)
	}
	if second.MACAddress != "00:1A:2B:3C:4D:5E" {
		t.Errorf("Expected canonical MAC, got %s", second.MACAddress)
	}
	if len(repo.hosts) != 1 {
		t.Errorf("Expected 1 stored host, got %d", len(repo.hosts))
	}
}

func TestService_Register_RejectsEUI64(t *testing.T) {
	repo := NewMockRepository()
	logger, _ := zap.NewDevelopment()
	service := NewService(repo, validation.New(), logger)

	h := testHost()
	h.MACAddress = "00:1A:2B:FF:FE:3C:4D:5E"
	_, _, err := service.Register(context.Background(), h)

	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "mac_address" {
		t.Fatalf("Expected mac_address ValidationError, got %v", err)
	}
}

func TestService_Update_CacheFailureInvalidates(t *testing.T) {
	repo := NewMockRepository()
	cache := NewMockCache()
	logger, _ := zap.NewDevelopment()
	service := NewService(repo, validation.New(), logger, WithCache(cache))
	ctx := context.Background()

	h, _, err := service.Register(ctx, testHost())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	cache.setErr = errors.New("redis down")
	changes := testHost()
	changes.AvailableMemoryGB = 4
	if _, err := service.Update(ctx, h.ID, changes); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if _, ok := cache.hosts[h.ID]; ok {
		t.Fatal("Expected stale cache entry to be removed")
	}
	got, err := service.Get(ctx, h.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.AvailableMemoryGB != 4 {
		t.Errorf("Expected fresh memory 4, got %d", got.AvailableMemoryGB)
	}
}

func TestService_Seed(t *testing.T) {
	repo := NewMockRepository()
	logger, _ := zap.NewDevelopment()
	service := NewService(repo, validation.New(), logger)
	ctx := context.Background()

	second := testHost()
	second.Name = "Cluster-2"
	second.MACAddress = "00:1A:2B:3C:4D:5F"
	second.IPAddress = "192.168.1.101"

	n, err := service.Seed(ctx, []*domain.Host{testHost(), second})
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if n != 2 || len(repo.hosts) != 2 {
		t.Fatalf("Expected 2 seeded hosts, got n=%d stored=%d", n, len(repo.hosts))
	}

	n, err = service.Seed(ctx, []*domain.Host{testHost()})
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if n != 0 || len(repo.hosts) != 2 {
		t.Errorf("Expected populated registry to be left alone, got n=%d stored=%d", n, len(repo.hosts))
	}
}
