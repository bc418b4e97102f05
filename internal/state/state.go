// Package state persists the local release log: which role was deployed to
// which host, when, and from what rendered content.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"sync"
	"time"

	"github.com/compose-fleet/fleetctl/internal/config"
)

// Record describes one deploy of a role bundle to a host.
type Record struct {
	// Host is the inventory hostname.
	Host string `json:"host"`
	// Role is the deployed role name.
	Role string `json:"role"`
	// Digest is the SHA-256 over the rendered bundle contents.
	Digest string `json:"digest"`
	// DeployedAt is when the deploy completed.
	DeployedAt time.Time `json:"deployedAt"`
	// By is the local OS user that ran the deploy.
	By string `json:"by,omitempty"`
}

// Store reads and appends release records in a JSON file. Parallel host
// deploys append from separate goroutines, so every load-modify-write of the
// file goes through the mutex.
type Store struct {
	mu   sync.Mutex
	path string
}

type fileState struct {
	Records []Record `json:"records"`
}

// NewStore constructs a Store for the configured state backend. Only the file
// backend is supported; the path is resolved relative to the project root.
func NewStore(cfg config.StateConfig, projectRoot string) (*Store, error) {
	if cfg.Backend != "" && cfg.Backend != "file" {
		return nil, fmt.Errorf("unsupported state backend %q", cfg.Backend)
	}
	path := cfg.Path
	if path == "" {
		path = filepath.Join(".fleet", "state.json")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(projectRoot, path)
	}
	return &Store{path: path}, nil
}

// Records returns all release records in append order.
func (s *Store) Records() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return nil, err
	}
	return st.Records, nil
}

// Last returns the most recent record for a host/role pair.
func (s *Store) Last(host, role string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return Record{}, false, err
	}
	for i := len(st.Records) - 1; i >= 0; i-- {
		rec := st.Records[i]
		if rec.Host == host && rec.Role == role {
			return rec, true, nil
		}
	}
	return Record{}, false, nil
}

// Append adds a record to the release log. The By field is filled from the
// current OS user when empty. The log is written atomically.
func (s *Store) Append(rec Record) error {
	if rec.Host == "" || rec.Role == "" {
		return fmt.Errorf("state record needs host and role")
	}
	if rec.DeployedAt.IsZero() {
		rec.DeployedAt = time.Now().UTC()
	}
	if rec.By == "" {
		if u, err := user.Current(); err == nil {
			rec.By = u.Username
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return err
	}
	st.Records = append(st.Records, rec)
	return s.write(st)
}

func (s *Store) load() (fileState, error) {
	var st fileState
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return st, nil
		}
		return st, fmt.Errorf("read state file %q: %w", s.path, err)
	}
	if len(raw) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return st, fmt.Errorf("parse state file %q: %w", s.path, err)
	}
	return st, nil
}

func (s *Store) write(st fileState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
