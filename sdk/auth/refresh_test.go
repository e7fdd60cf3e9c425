package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kwanLeeFrmVi/9router/internal/model"
	"github.com/kwanLeeFrmVi/9router/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshIfNeededSkipsFreshToken(t *testing.T) {
	conn := connection("a", 1)
	conn.RefreshToken = "refresh-1"
	conn.ExpiresAt = time.Now().Add(time.Hour)
	doc := &model.MachineData{MachineID: "m1", Providers: map[string]*model.ProviderConnection{"a": conn}}
	pool := NewPool(newMemStore(doc))

	require.NoError(t, pool.RefreshIfNeeded(context.Background(), http.DefaultClient, "m1", "a"))
	assert.Empty(t, conn.AccessToken, "token well within its lifetime should not be refreshed")
}

func TestRefreshIfNeededRefreshesNearExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(oauthTokenResponse{
			AccessToken: "fresh-token", RefreshToken: "fresh-refresh", ExpiresIn: 3600,
		})
	}))
	defer srv.Close()
	registry.Register(registry.Provider{ID: "test-refresh-provider", RefreshURL: srv.URL})

	conn := connection("a", 1)
	conn.Provider = "test-refresh-provider"
	conn.RefreshToken = "refresh-1"
	conn.ExpiresAt = time.Now().Add(1 * time.Minute)
	doc := &model.MachineData{MachineID: "m1", Providers: map[string]*model.ProviderConnection{"a": conn}}
	pool := NewPool(newMemStore(doc))

	require.NoError(t, pool.RefreshIfNeeded(context.Background(), srv.Client(), "m1", "a"))
	assert.Equal(t, "fresh-token", doc.Providers["a"].AccessToken)
	assert.Equal(t, "fresh-refresh", doc.Providers["a"].RefreshToken)
}

func TestRefreshIfNeededSwallowsUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	registry.Register(registry.Provider{ID: "test-refresh-failing", RefreshURL: srv.URL})

	conn := connection("a", 1)
	conn.Provider = "test-refresh-failing"
	conn.RefreshToken = "refresh-1"
	conn.AccessToken = "stale-token"
	conn.ExpiresAt = time.Now().Add(1 * time.Minute)
	doc := &model.MachineData{MachineID: "m1", Providers: map[string]*model.ProviderConnection{"a": conn}}
	pool := NewPool(newMemStore(doc))

	err := pool.RefreshIfNeeded(context.Background(), srv.Client(), "m1", "a")
	require.NoError(t, err, "refresh failures are logged and swallowed, not surfaced")
	assert.Equal(t, "stale-token", doc.Providers["a"].AccessToken)
}
