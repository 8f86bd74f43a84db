// Package provisioning forwards VM creation requests to the VM service running
// on a selected host.
package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/limiquantix/servicecluster/internal/config"
	"github.com/limiquantix/servicecluster/internal/domain"
)

const (
	defaultPort    = 5003
	defaultPath    = "/vm/create"
	defaultTimeout = 15 * time.Second

	// maxResponseBytes bounds how much of a host response is kept.
	maxResponseBytes = 1 << 20
)

// ForwardingError describes a failed VM creation call. Either StatusCode is
// set (the host answered with an unexpected status) or Cause is (the call
// itself failed).
type ForwardingError struct {
	StatusCode int
	Body       string
	Cause      error
}

func (e *ForwardingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to reach VM host service: %v", e.Cause)
	}
	return fmt.Sprintf("VM creation failed: %d - %s", e.StatusCode, e.Body)
}

func (e *ForwardingError) Unwrap() error {
	return e.Cause
}

// Outcome is the result of a forwarded VM creation. Host is always set.
// Response holds the host's reply on success; Err is set otherwise.
type Outcome struct {
	Host     *domain.Host
	Response json.RawMessage
	Err      *ForwardingError
}

// OK reports whether the host accepted the creation request.
func (o *Outcome) OK() bool {
	return o.Err == nil
}

// Client sends VM creation requests to hosts.
type Client struct {
	http   *http.Client
	port   int
	path   string
	logger *zap.Logger
}

// NewClient creates a provisioning client from configuration.
func NewClient(cfg config.ProvisioningConfig, logger *zap.Logger) *Client {
	if cfg.Port <= 0 {
		cfg.Port = defaultPort
	}
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		port:   cfg.Port,
		path:   cfg.Path,
		logger: logger.With(zap.String("component", "provisioning")),
	}
}

// URL returns the VM creation endpoint of host.
func (c *Client) URL(host *domain.Host) string {
	return "http://" + net.JoinHostPort(host.IPAddress, strconv.Itoa(c.port)) + c.path
}

// CreateVM asks host to create the VM described by req. It makes a single
// attempt. The call is not cancelled with ctx; it ends on completion or timeout.
func (c *Client) CreateVM(ctx context.Context, host *domain.Host, req *domain.PlacementRequest) *Outcome {
	ctx = context.WithoutCancel(ctx)
	url := c.URL(host)
	requestID := uuid.NewString()

	logger := c.logger.With(
		zap.Int64("host_id", host.ID),
		zap.String("url", url),
		zap.String("vm_name", req.Name),
		zap.String("request_id", requestID),
	)

	fail := func(fe *ForwardingError) *Outcome {
		logger.Warn("VM creation forwarding failed", zap.Error(fe))
		return &Outcome{Host: host, Err: fe}
	}

	payload, err := json.Marshal(domain.NewVMCreateRequest(host, req))
	if err != nil {
		return fail(&ForwardingError{Cause: fmt.Errorf("failed to marshal request: %w", err)})
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fail(&ForwardingError{Cause: err})
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fail(&ForwardingError{Cause: err})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fail(&ForwardingError{Cause: fmt.Errorf("failed to read response: %w", err)})
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
	default:
		return fail(&ForwardingError{StatusCode: resp.StatusCode, Body: string(body)})
	}

	logger.Info("VM creation forwarded",
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	return &Outcome{Host: host, Response: asJSON(body)}
}

// asJSON returns body unchanged when it is JSON, and as a JSON string otherwise.
func asJSON(body []byte) json.RawMessage {
	if len(bytes.TrimSpace(body)) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
