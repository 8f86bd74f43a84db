// Package etcd provides service discovery registration backed by etcd leases.
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/limiquantix/servicecluster/internal/config"
)

// ServicesPrefix is the root under which service instances are registered.
const ServicesPrefix = "/services/"

// Client wraps an etcd client.
type Client struct {
	client *clientv3.Client
	logger *zap.Logger
}

// NewClient creates a new etcd client.
func NewClient(cfg config.EtcdConfig, logger *zap.Logger) (*Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	logger = logger.Named("etcd")
	logger.Info("Connected to etcd", zap.Strings("endpoints", cfg.Endpoints))

	return &Client{client: client, logger: logger}, nil
}

// Close closes the etcd client.
func (c *Client) Close() error {
	return c.client.Close()
}

// Health checks if etcd is reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.Status(ctx, c.client.Endpoints()[0])
	return err
}

// =============================================================================
// Service Registration
// =============================================================================

// Instance describes one running copy of a service.
type Instance struct {
	InstanceID   string    `json:"instance_id"`
	App          string    `json:"app"`
	Host         string    `json:"host"`
	Port         int       `json:"port"`
	Status       string    `json:"status"`
	StatusURL    string    `json:"status_url"`
	HealthURL    string    `json:"health_url"`
	RegisteredAt time.Time `json:"registered_at"`
}

// InstanceKey returns the registry key of an instance.
func InstanceKey(app, instanceID string) string {
	return path.Join(ServicesPrefix, app, instanceID)
}

// Registration is a live service registration. The entry disappears when the
// lease expires or Deregister is called.
type Registration struct {
	client  *Client
	key     string
	leaseID clientv3.LeaseID
	cancel  context.CancelFunc
	done    chan struct{}
}

// Register publishes inst under a lease of ttl and keeps the lease alive until
// Deregister is called. etcd renews a kept-alive lease every ttl/3.
func (c *Client) Register(ctx context.Context, inst Instance, ttl time.Duration) (*Registration, error) {
	if inst.RegisteredAt.IsZero() {
		inst.RegisteredAt = time.Now()
	}
	data, err := json.Marshal(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal instance: %w", err)
	}

	lease, err := c.client.Grant(ctx, int64(ttl/time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to grant lease: %w", err)
	}

	key := InstanceKey(inst.App, inst.InstanceID)
	if _, err := c.client.Put(ctx, key, string(data), clientv3.WithLease(lease.ID)); err != nil {
		return nil, fmt.Errorf("failed to put instance: %w", err)
	}

	keepCtx, cancel := context.WithCancel(context.Background())
	keepAlive, err := c.client.KeepAlive(keepCtx, lease.ID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to keep lease alive: %w", err)
	}

	reg := &Registration{
		client:  c,
		key:     key,
		leaseID: lease.ID,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(reg.done)
		for range keepAlive {
		}
		if keepCtx.Err() == nil {
			c.logger.Warn("Service registration lease lost", zap.String("key", key))
		}
	}()

	c.logger.Info("Registered service instance",
		zap.String("key", key),
		zap.Duration("ttl", ttl),
	)

	return reg, nil
}

// Key returns the registry key of the registration.
func (r *Registration) Key() string {
	return r.key
}

// Deregister stops the keepalive and revokes the lease, removing the entry.
func (r *Registration) Deregister(ctx context.Context) error {
	r.cancel()
	<-r.done

	if _, err := r.client.client.Revoke(ctx, r.leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}

	r.client.logger.Info("Deregistered service instance", zap.String("key", r.key))
	return nil
}

// Instances returns the registered instances of app.
func (c *Client) Instances(ctx context.Context, app string) ([]Instance, error) {
	resp, err := c.client.Get(ctx, path.Join(ServicesPrefix, app)+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	return decodeInstances(resp.Kvs, c.logger), nil
}

// decodeInstances skips entries that are not valid instance records.
func decodeInstances(kvs []*mvccpb.KeyValue, logger *zap.Logger) []Instance {
	instances := make([]Instance, 0, len(kvs))
	for _, kv := range kvs {
		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			logger.Warn("Failed to unmarshal instance", zap.String("key", string(kv.Key)), zap.Error(err))
			continue
		}
		instances = append(instances, inst)
	}
	return instances
}
