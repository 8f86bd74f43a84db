package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/servicecluster/internal/domain"
)

func setup(t *testing.T) *HostRepository {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewHostRepository(db, zap.NewNop())
}

func sampleHost(name, mac, ip string) *domain.Host {
	return &domain.Host{
		Name:                name,
		MACAddress:          mac,
		IPAddress:           ip,
		TotalDiskGB:         1000,
		AvailableDiskGB:     500,
		TotalMemoryGB:       64,
		AvailableMemoryGB:   32,
		CPUModel:            "Intel Xeon E5-2680",
		AvailableCPUPercent: 60,
		CoreCount:           16,
	}
}

func TestHostRepository_UpsertByMAC(t *testing.T) {
	repo := setup(t)
	ctx := context.Background()

	first, created, err := repo.UpsertByMAC(ctx, sampleHost("node-a", "AA:BB:CC:DD:EE:01", "10.0.0.1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, first.ID)

	again := sampleHost("node-a-renamed", "AA:BB:CC:DD:EE:01", "10.0.0.9")
	again.AvailableDiskGB = 100
	second, created, err := repo.UpsertByMAC(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "node-a-renamed", second.Name)
	assert.Equal(t, "10.0.0.9", second.IPAddress)
	assert.Equal(t, int64(100), second.AvailableDiskGB)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestHostRepository_UpsertByMAC_IPConflict(t *testing.T) {
	repo := setup(t)
	ctx := context.Background()

	_, _, err := repo.UpsertByMAC(ctx, sampleHost("node-a", "AA:BB:CC:DD:EE:01", "10.0.0.1"))
	require.NoError(t, err)

	_, _, err = repo.UpsertByMAC(ctx, sampleHost("node-b", "AA:BB:CC:DD:EE:02", "10.0.0.1"))
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestHostRepository_GetUpdateDelete(t *testing.T) {
	repo := setup(t)
	ctx := context.Background()

	h, _, err := repo.UpsertByMAC(ctx, sampleHost("node-a", "AA:BB:CC:DD:EE:01", "10.0.0.1"))
	require.NoError(t, err)
	_, _, err = repo.UpsertByMAC(ctx, sampleHost("node-b", "AA:BB:CC:DD:EE:02", "10.0.0.2"))
	require.NoError(t, err)

	got, err := repo.Get(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, "node-a", got.Name)

	changes := sampleHost("node-a2", "AA:BB:CC:DD:EE:01", "10.0.0.3")
	updated, err := repo.Update(ctx, h.ID, changes)
	require.NoError(t, err)
	assert.Equal(t, "node-a2", updated.Name)
	assert.Equal(t, got.CreatedAt.Unix(), updated.CreatedAt.Unix())

	_, err = repo.Update(ctx, h.ID, sampleHost("node-a2", "AA:BB:CC:DD:EE:02", "10.0.0.3"))
	assert.ErrorIs(t, err, domain.ErrConflict, "MAC owned by node-b")

	_, err = repo.Update(ctx, 999, changes)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, repo.Delete(ctx, h.ID))
	assert.ErrorIs(t, repo.Delete(ctx, h.ID), domain.ErrNotFound)

	_, err = repo.Get(ctx, h.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHostRepository_SearchAndAvailable(t *testing.T) {
	repo := setup(t)
	ctx := context.Background()

	busy := sampleHost("Cluster-busy", "AA:BB:CC:DD:EE:03", "10.0.0.3")
	busy.AvailableMemoryGB = 0

	for _, h := range []*domain.Host{
		sampleHost("Cluster-1", "AA:BB:CC:DD:EE:01", "10.0.0.1"),
		sampleHost("edge-2", "AA:BB:CC:DD:EE:02", "10.0.0.2"),
		busy,
	} {
		_, _, err := repo.UpsertByMAC(ctx, h)
		require.NoError(t, err)
	}

	found, err := repo.SearchByName(ctx, "Cluster")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "Cluster-1", found[0].Name)
	assert.Equal(t, "Cluster-busy", found[1].Name)

	found, err = repo.SearchByName(ctx, "cluster")
	require.NoError(t, err)
	assert.Empty(t, found, "search is case-sensitive")

	found, err = repo.SearchByName(ctx, "%")
	require.NoError(t, err)
	assert.Empty(t, found, "pattern is literal")

	available, err := repo.ListAvailable(ctx)
	require.NoError(t, err)
	require.Len(t, available, 2)
	assert.Equal(t, "Cluster-1", available[0].Name)
	assert.Equal(t, "edge-2", available[1].Name)
}
