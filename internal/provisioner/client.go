// Package provisioner wraps the external tenant-provisioning API that
// registers a domain/credential pair as a sendable tenant and issues DNS
// delegation records. Failures are transient-retryable by default; callers
// wrap every call in the retry executor.
package provisioner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hardik25812/caidene-order-sub000/config"
	"github.com/hardik25812/caidene-order-sub000/internal/util"

	"go.uber.org/zap"
)

// TokenCache stores the short-lived bearer token outside the client so no
// process-wide mutable state hides inside it.
type TokenCache interface {
	GetProvisionerToken(ctx context.Context) (string, error)
	SetProvisionerToken(ctx context.Context, token string, ttl time.Duration) error
}

// APIError is a non-2xx response from the provisioning API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provisioner API error: status=%d message=%s", e.Status, e.Message)
}

// AddOrderRequest creates a remote tenant order for one domain.
type AddOrderRequest struct {
	Domain   string `json:"domain"`
	Provider string `json:"provider"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Client struct {
	baseURL    string
	customerID string
	apiKey     string
	httpClient *http.Client
	cache      TokenCache
	logger     *zap.Logger
}

// NewClient creates a provisioning API client.
func NewClient(cfg config.ProvisionerConfig, cache TokenCache) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		customerID: cfg.CustomerID,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
		logger:     util.GetLogger(),
	}
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// bearer returns a valid bearer token, exchanging the API key for a
// short-lived token and caching it until shortly before expiry.
func (c *Client) bearer(ctx context.Context) (string, error) {
	if c.cache != nil {
		token, err := c.cache.GetProvisionerToken(ctx)
		if err != nil {
			c.logger.Warn("Token cache read failed, falling back to exchange", zap.Error(err))
		} else if token != "" {
			return token, nil
		}
	}

	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/token/", c.apiKey,
		map[string]string{"api_key": c.apiKey}, &resp); err != nil {
		return "", fmt.Errorf("token exchange failed: %w", err)
	}
	if resp.Token == "" {
		// Some tenants authenticate with the static key directly.
		return c.apiKey, nil
	}

	if c.cache != nil && resp.ExpiresIn > 60 {
		ttl := time.Duration(resp.ExpiresIn-60) * time.Second
		if err := c.cache.SetProvisionerToken(ctx, resp.Token, ttl); err != nil {
			c.logger.Warn("Token cache write failed", zap.Error(err))
		}
	}

	return resp.Token, nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provisioner request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read provisioner response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var msg struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &msg) == nil {
			apiErr.Message = msg.Message
		}
		return apiErr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode provisioner response: %w", err)
		}
	}
	return nil
}

func (c *Client) request(ctx context.Context, method, path string, body, out interface{}) error {
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, token, body, out)
}

type addOrderResponse struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Data    struct {
		UnderscoreID string `json:"_id"`
		ID           string `json:"id"`
	} `json:"data"`
}

// AddOrder registers a domain/credential pair as a remote tenant order and
// returns the provider's order id.
func (c *Client) AddOrder(ctx context.Context, req AddOrderRequest) (string, error) {
	path := fmt.Sprintf("/api/v1/simple/customers/%s/orders/add/", c.customerID)

	var resp addOrderResponse
	if err := c.request(ctx, http.MethodPost, path, req, &resp); err != nil {
		util.ProvisionerCallsTotal.WithLabelValues("add_order", "error").Inc()
		return "", err
	}
	util.ProvisionerCallsTotal.WithLabelValues("add_order", "ok").Inc()

	// The provider response shape has drifted across versions.
	switch {
	case resp.Data.UnderscoreID != "":
		return resp.Data.UnderscoreID, nil
	case resp.Data.ID != "":
		return resp.Data.ID, nil
	case resp.OrderID != "":
		return resp.OrderID, nil
	default:
		return resp.ID, nil
	}
}

type nameserversResponse struct {
	Nameservers []string `json:"nameservers"`
	Data        struct {
		Nameservers []string `json:"nameservers"`
	} `json:"data"`
}

// GetNameservers fetches the DNS delegation records for a provider order.
func (c *Client) GetNameservers(ctx context.Context, providerOrderID string) ([]string, error) {
	path := fmt.Sprintf("/api/v1/simple/customers/%s/orders/%s/nameservers/", c.customerID, providerOrderID)

	var resp nameserversResponse
	if err := c.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		util.ProvisionerCallsTotal.WithLabelValues("get_nameservers", "error").Inc()
		return nil, err
	}
	util.ProvisionerCallsTotal.WithLabelValues("get_nameservers", "ok").Inc()

	if len(resp.Nameservers) > 0 {
		return resp.Nameservers, nil
	}
	return resp.Data.Nameservers, nil
}

// RemoveOrder tears down a remote tenant order. Not part of the saga's
// forward path; exposed for operator tooling.
func (c *Client) RemoveOrder(ctx context.Context, providerOrderID string) error {
	path := fmt.Sprintf("/api/v1/simple/customers/%s/orders/%s/remove/", c.customerID, providerOrderID)
	if err := c.request(ctx, http.MethodPost, path, nil, nil); err != nil {
		util.ProvisionerCallsTotal.WithLabelValues("remove_order", "error").Inc()
		return err
	}
	util.ProvisionerCallsTotal.WithLabelValues("remove_order", "ok").Inc()
	return nil
}
