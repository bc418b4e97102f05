package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-fleet/fleetctl/internal/config"
)

func TestNewStoreValidatesBackend(t *testing.T) {
	_, err := NewStore(config.StateConfig{Backend: "redis"}, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported state backend")

	_, err = NewStore(config.StateConfig{Backend: "file"}, t.TempDir())
	assert.NoError(t, err)
}

func TestStoreAppendAndLast(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(config.StateConfig{}, root)
	require.NoError(t, err)

	// Empty log before any deploy.
	records, err := store.Records()
	require.NoError(t, err)
	assert.Empty(t, records)

	require.NoError(t, store.Append(Record{Host: "web1", Role: "web", Digest: "aaa"}))
	require.NoError(t, store.Append(Record{Host: "web1", Role: "web", Digest: "bbb"}))
	require.NoError(t, store.Append(Record{Host: "db1", Role: "db", Digest: "ccc"}))

	rec, ok, err := store.Last("web1", "web")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bbb", rec.Digest)
	assert.False(t, rec.DeployedAt.IsZero())
	assert.NotEmpty(t, rec.By)

	_, ok, err = store.Last("web1", "db")
	require.NoError(t, err)
	assert.False(t, ok)

	records, err = store.Records()
	require.NoError(t, err)
	assert.Len(t, records, 3)

	assert.FileExists(t, filepath.Join(root, ".fleet", "state.json"))
}

func TestStoreAppendValidation(t *testing.T) {
	store, err := NewStore(config.StateConfig{}, t.TempDir())
	require.NoError(t, err)

	assert.Error(t, store.Append(Record{Role: "web"}))
	assert.Error(t, store.Append(Record{Host: "web1"}))
}

func TestStoreKeepsExplicitFields(t *testing.T) {
	store, err := NewStore(config.StateConfig{}, t.TempDir())
	require.NoError(t, err)

	when := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(Record{Host: "web1", Role: "web", DeployedAt: when, By: "ci"}))

	rec, ok, err := store.Last("web1", "web")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, when, rec.DeployedAt)
	assert.Equal(t, "ci", rec.By)
}

func TestStoreAppendConcurrent(t *testing.T) {
	store, err := NewStore(config.StateConfig{}, t.TempDir())
	require.NoError(t, err)

	// Deploys append from one goroutine per host; no record may be lost.
	const hosts = 8
	var wg sync.WaitGroup
	errs := make([]error, hosts)
	for i := 0; i < hosts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = store.Append(Record{Host: fmt.Sprintf("web%d", i), Role: "web", Digest: "d"})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	records, err := store.Records()
	require.NoError(t, err)
	assert.Len(t, records, hosts)

	seen := make(map[string]struct{}, hosts)
	for _, rec := range records {
		seen[rec.Host] = struct{}{}
	}
	assert.Len(t, seen, hosts)
}

func TestStoreRejectsCorruptFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "state.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	store, err := NewStore(config.StateConfig{Path: "state.json"}, root)
	require.NoError(t, err)

	_, err = store.Records()
	assert.Error(t, err)
}
