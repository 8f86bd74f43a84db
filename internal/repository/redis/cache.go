// Package redis provides Redis caching and pub/sub functionality.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/limiquantix/servicecluster/internal/config"
	"github.com/limiquantix/servicecluster/internal/domain"
)

// ErrCacheMiss indicates the key was not found in cache.
var ErrCacheMiss = errors.New("cache miss")

// HostEventsChannel is the pub/sub channel carrying host and placement events.
const HostEventsChannel = "events:host"

const defaultHostTTL = 1 * time.Minute

// Cache wraps a Redis client for caching operations.
type Cache struct {
	client  *redis.Client
	hostTTL time.Duration
	logger  *zap.Logger
}

// NewCache creates a new Redis cache connection.
func NewCache(cfg config.RedisConfig, logger *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger = logger.Named("redis")
	logger.Info("Connected to Redis", zap.String("addr", cfg.Address()))

	ttl := cfg.HostTTL
	if ttl <= 0 {
		ttl = defaultHostTTL
	}

	return &Cache{client: client, hostTTL: ttl, logger: logger}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Health checks if Redis is reachable.
func (c *Cache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// =============================================================================
// Generic Cache Operations
// =============================================================================

// Get retrieves a value from cache and unmarshals it into dest.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get error: %w", err)
	}

	return json.Unmarshal(val, dest)
}

// Set stores a value in cache with a TTL.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}

// Delete removes a key from cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// =============================================================================
// Host Cache Operations
// =============================================================================

func hostKey(id int64) string {
	return fmt.Sprintf("service-cluster:host:%d", id)
}

// GetHost retrieves a host from cache.
func (c *Cache) GetHost(ctx context.Context, id int64) (*domain.Host, error) {
	var h domain.Host
	if err := c.Get(ctx, hostKey(id), &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// SetHost stores a host in cache.
func (c *Cache) SetHost(ctx context.Context, h *domain.Host) error {
	return c.Set(ctx, hostKey(h.ID), h, c.hostTTL)
}

// InvalidateHost removes a host from cache.
func (c *Cache) InvalidateHost(ctx context.Context, id int64) error {
	return c.Delete(ctx, hostKey(id))
}

// =============================================================================
// Pub/Sub Operations for Real-time Updates
// =============================================================================

// Publish publishes an event on the host events channel.
func (c *Cache) Publish(ctx context.Context, event domain.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return c.client.Publish(ctx, HostEventsChannel, data).Err()
}

// Subscribe subscribes to the host events channel. The returned channel is
// closed when ctx is done.
func (c *Cache) Subscribe(ctx context.Context) <-chan domain.Event {
	pubsub := c.client.Subscribe(ctx, HostEventsChannel)
	events := make(chan domain.Event, 100)

	go func() {
		defer close(events)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					c.logger.Warn("Failed to unmarshal event", zap.Error(err))
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events
}
