package grafana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientValidatesAuth(t *testing.T) {
	_, err := NewClient(Options{URL: "http://grafana:3000"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token or username/password")

	_, err = NewClient(Options{URL: "http://grafana:3000", Token: "t", Username: "u", Password: "p"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not both")

	_, err = NewClient(Options{Token: "t"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url is empty")
}

func TestClientBearerAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
	}))
	defer srv.Close()

	client, err := NewClient(Options{URL: srv.URL, Token: "secret"}, nil)
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, client.get(context.Background(), "api/health", requestOptions{}, &out))
	assert.Equal(t, "yes", out["ok"])
}

func TestClientBasicAuthAndOrgHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "pw", pass)
		assert.Equal(t, "3", r.Header.Get("X-Grafana-Org-Id"))
		_ = json.NewEncoder(w).Encode([]any{})
	}))
	defer srv.Close()

	client, err := NewClient(Options{URL: srv.URL, Username: "admin", Password: "pw"}, nil)
	require.NoError(t, err)

	var out []any
	require.NoError(t, client.get(context.Background(), "api/datasources", requestOptions{orgID: 3}, &out))
}

func TestClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"permission denied"}`))
	}))
	defer srv.Close()

	client, err := NewClient(Options{URL: srv.URL, Token: "t"}, nil)
	require.NoError(t, err)

	err = client.get(context.Background(), "api/orgs", requestOptions{}, nil)
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "permission denied")
}

func TestClientTrailingSlashBase(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode([]any{})
	}))
	defer srv.Close()

	client, err := NewClient(Options{URL: srv.URL + "/", Token: "t"}, nil)
	require.NoError(t, err)
	require.NoError(t, client.get(context.Background(), "/api/search", requestOptions{}, nil))
	assert.Equal(t, "/api/search", gotPath)
}
