package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/servicecluster/internal/config"
	"github.com/limiquantix/servicecluster/internal/domain"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	cache, err := NewCache(config.RedisConfig{
		Host:    mr.Host(),
		Port:    port,
		HostTTL: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	return cache, mr
}

func TestCache_HostRoundTrip(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	h := &domain.Host{
		ID:                  7,
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

	_, err := cache.GetHost(ctx, 7)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, cache.SetHost(ctx, h))
	assert.True(t, mr.Exists("service-cluster:host:7"))

	got, err := cache.GetHost(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, h.Name, got.Name)
	assert.Equal(t, h.MACAddress, got.MACAddress)
	assert.Equal(t, h.AvailableCPUPercent, got.AvailableCPUPercent)
	assert.Equal(t, h.CoreCount, got.CoreCount)

	require.NoError(t, cache.InvalidateHost(ctx, 7))
	_, err = cache.GetHost(ctx, 7)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCache_HostExpires(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SetHost(ctx, &domain.Host{ID: 1, Name: "Cluster-1"}))
	mr.FastForward(2 * time.Minute)

	_, err := cache.GetHost(ctx, 1)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCache_SubscribeRelaysEvents(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := cache.Subscribe(ctx)
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(HostEventsChannel)[HostEventsChannel] == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Payloads that are not events are dropped.
	mr.Publish(HostEventsChannel, "not json")
	require.NoError(t, cache.Publish(ctx, domain.Event{Type: domain.EventHostDeleted, ResourceID: 3}))

	select {
	case event := <-events:
		assert.Equal(t, domain.EventHostDeleted, event.Type)
		assert.Equal(t, int64(3), event.ResourceID)
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("event not relayed")
	}

	cancel()
	select {
	case _, ok := <-events:
		assert.False(t, ok, "channel should close when the context ends")
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
