package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-fleet/fleetctl/internal/config"
	"github.com/compose-fleet/fleetctl/internal/grafana"
	"github.com/compose-fleet/fleetctl/internal/vars"
)

// authServer answers dashboard searches with an empty list and records the
// Authorization header of the last request.
func authServer(t *testing.T) (*httptest.Server, *string) {
	t.Helper()
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([]any{})
	}))
	t.Cleanup(srv.Close)
	return srv, &auth
}

func exportOnce(t *testing.T, client *grafana.Client) {
	t.Helper()
	_, err := client.ExportDashboards(context.Background(), grafana.ExportOptions{OutDir: t.TempDir()})
	require.NoError(t, err)
}

func TestGrafanaClientTokenFlagBeatsTokenVar(t *testing.T) {
	srv, auth := authServer(t)

	s := &session{
		cfg:       &config.FleetConfig{},
		root:      t.TempDir(),
		extraVars: vars.Vars{"grafana_token": "from-vars"},
	}
	gcfg := &config.GrafanaConfig{URL: srv.URL, TokenVar: "grafana_token"}

	client, err := grafanaClient(s, gcfg, grafanaOverrides{token: "from-flag"}, nil)
	require.NoError(t, err)

	exportOnce(t, client)
	assert.Equal(t, "Bearer from-flag", *auth)
}

func TestGrafanaClientTokenVarIndirection(t *testing.T) {
	srv, auth := authServer(t)

	s := &session{
		cfg:       &config.FleetConfig{},
		root:      t.TempDir(),
		extraVars: vars.Vars{"grafana_token": "from-vars"},
	}
	gcfg := &config.GrafanaConfig{URL: srv.URL, TokenVar: "grafana_token"}

	client, err := grafanaClient(s, gcfg, grafanaOverrides{}, nil)
	require.NoError(t, err)

	exportOnce(t, client)
	assert.Equal(t, "Bearer from-vars", *auth)
}

func TestGrafanaClientWithoutConfigSection(t *testing.T) {
	srv, auth := authServer(t)

	s := &session{cfg: &config.FleetConfig{}, root: t.TempDir()}

	// Direct flags suffice when fleet.yaml has no grafana section.
	client, err := grafanaClient(s, nil, grafanaOverrides{url: srv.URL, username: "admin", password: "pw"}, nil)
	require.NoError(t, err)

	exportOnce(t, client)
	assert.Contains(t, *auth, "Basic ")
}

func TestGrafanaClientWithoutConfigNeedsCredentials(t *testing.T) {
	s := &session{cfg: &config.FleetConfig{}, root: t.TempDir()}

	_, err := grafanaClient(s, nil, grafanaOverrides{url: "http://grafana:3000"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--token or --username/--password")

	_, err = grafanaClient(s, nil, grafanaOverrides{token: "t"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url not set")
}

func TestGrafanaClientMissingVar(t *testing.T) {
	s := &session{cfg: &config.FleetConfig{}, root: t.TempDir()}
	gcfg := &config.GrafanaConfig{URL: "http://grafana:3000", TokenVar: "grafana_token"}

	_, err := grafanaClient(s, gcfg, grafanaOverrides{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grafana.tokenVar")
}
