package provisioner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hardik25812/caidene-order-sub000/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memTokenCache struct {
	mu    sync.Mutex
	token string
	sets  int
}

func (m *memTokenCache) GetProvisionerToken(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *memTokenCache) SetProvisionerToken(_ context.Context, token string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.sets++
	return nil
}

func newTestClient(serverURL string, cache TokenCache) *Client {
	return NewClient(config.ProvisionerConfig{
		BaseURL:    serverURL,
		CustomerID: "cust-1",
		APIKey:     "static-key",
		Timeout:    5 * time.Second,
	}, cache)
}

func TestAddOrderExtractsProviderOrderID(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"data underscore id", `{"data":{"_id":"abc123"}}`, "abc123"},
		{"data id", `{"data":{"id":"abc123"}}`, "abc123"},
		{"top level order_id", `{"order_id":"abc123"}`, "abc123"},
		{"top level id", `{"id":"abc123"}`, "abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/api/v1/auth/token/":
					_, _ = w.Write([]byte(`{"token":"tok","expires_in":3600}`))
				case "/api/v1/simple/customers/cust-1/orders/add/":
					var req AddOrderRequest
					assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
					assert.Equal(t, "a.com", req.Domain)
					assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
					_, _ = w.Write([]byte(tt.body))
				default:
					t.Errorf("unexpected path %s", r.URL.Path)
				}
			}))
			defer srv.Close()

			client := newTestClient(srv.URL, &memTokenCache{})
			id, err := client.AddOrder(context.Background(), AddOrderRequest{
				Domain: "a.com", Provider: "outlook", Name: "t1",
				Email: "a@t1.com", Password: "secret",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestBearerTokenIsCached(t *testing.T) {
	exchanges := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/token/":
			exchanges++
			_, _ = w.Write([]byte(`{"token":"tok","expires_in":3600}`))
		default:
			_, _ = w.Write([]byte(`{"id":"x"}`))
		}
	}))
	defer srv.Close()

	cache := &memTokenCache{}
	client := newTestClient(srv.URL, cache)

	_, err := client.AddOrder(context.Background(), AddOrderRequest{Domain: "a.com"})
	require.NoError(t, err)
	_, err = client.AddOrder(context.Background(), AddOrderRequest{Domain: "b.com"})
	require.NoError(t, err)

	assert.Equal(t, 1, exchanges)
	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, "tok", cache.token)
}

func TestBearerFallsBackToStaticKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/token/":
			_, _ = w.Write([]byte(`{}`))
		default:
			assert.Equal(t, "Bearer static-key", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"id":"x"}`))
		}
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, nil)
	_, err := client.AddOrder(context.Background(), AddOrderRequest{Domain: "a.com"})
	require.NoError(t, err)
}

func TestAddOrderSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/auth/token/" {
			_, _ = w.Write([]byte(`{"token":"tok","expires_in":3600}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"maintenance window"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, &memTokenCache{})
	_, err := client.AddOrder(context.Background(), AddOrderRequest{Domain: "a.com"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, "maintenance window", apiErr.Message)
}

func TestGetNameserversReadsBothShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"top level", `{"nameservers":["ns1.infra.email","ns2.infra.email"]}`},
		{"nested data", `{"data":{"nameservers":["ns1.infra.email","ns2.infra.email"]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/api/v1/auth/token/" {
					_, _ = w.Write([]byte(`{"token":"tok","expires_in":3600}`))
					return
				}
				assert.Equal(t, "/api/v1/simple/customers/cust-1/orders/prov-1/nameservers/", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := newTestClient(srv.URL, &memTokenCache{})
			ns, err := client.GetNameservers(context.Background(), "prov-1")
			require.NoError(t, err)
			assert.Equal(t, []string{"ns1.infra.email", "ns2.infra.email"}, ns)
		})
	}
}
