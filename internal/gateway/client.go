// Package gateway notifies the MCP gateway that cached credentials for a key
// prefix are no longer valid. Calls are best-effort: the lifecycle service
// logs failures and carries on, because the gateway re-checks credentials
// against the database on cache miss anyway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Sentinel errors for gateway client failures.
var (
	ErrGatewayUnreachable = errors.New("gateway unreachable")
	ErrGatewayTimeout     = errors.New("gateway request timeout")
	ErrGatewayRejected    = errors.New("gateway rejected request")
)

// Notifier is the interface the lifecycle service depends on.
type Notifier interface {
	InvalidatePrefix(ctx context.Context, keyPrefix string) error
}

// HTTPClient implements Notifier against the gateway's internal API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a new gateway client.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// InvalidatePrefix tells the gateway to drop any cached credential state for
// the given key prefix.
func (c *HTTPClient) InvalidatePrefix(ctx context.Context, keyPrefix string) error {
	body, err := json.Marshal(map[string]string{"key_prefix": keyPrefix})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	u := c.baseURL + "/internal/v1/credentials/invalidate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: status %d", ErrGatewayRejected, resp.StatusCode)
	}
	return nil
}

// NoopNotifier is used when no gateway is configured.
type NoopNotifier struct{}

func (NoopNotifier) InvalidatePrefix(context.Context, string) error { return nil }

func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnreachable, err)
}
