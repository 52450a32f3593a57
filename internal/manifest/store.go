// Package manifest persists project and cycle state across CLI runs.
//
// The manifest file is the single source of truth for resumption: a cycle
// whose JulesSessionID is set has an agent session in flight, and a resumed
// run waits on that handle instead of dispatching a new one.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/accdd/internal/logging"
)

// Errors for store operations.
var (
	ErrNoProject       = errors.New("no active project session")
	ErrCycleNotFound   = errors.New("cycle not found")
	ErrInvalidCycleID  = errors.New("invalid cycle id")
	ErrInvalidStatus   = errors.New("invalid cycle status")
	ErrCycleExists     = errors.New("cycle already exists")
	ErrManifestCorrupt = errors.New("manifest file corrupted")
)

var cycleIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,31}$`)

// Committer records a saved manifest in version control.
type Committer interface {
	CommitFiles(ctx context.Context, message string, paths ...string) error
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithCommitter commits every save with the given message.
func WithCommitter(c Committer) StoreOption {
	return func(s *Store) { s.committer = c }
}

// WithClock overrides time.Now for UpdatedAt stamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// Store reads and writes the project manifest file.
//
// Every read-modify-write holds mu, so concurrent updates from parallel
// cycles never lose each other's fields.
type Store struct {
	mu        sync.Mutex
	path      string
	logger    *logging.Logger
	committer Committer
	now       func() time.Time
}

// NewStore creates a store backed by the file at path.
func NewStore(path string, logger *logging.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Store{
		path:   path,
		logger: logger.Named("manifest"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the manifest file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns the manifest, or nil when the file is missing or corrupt.
func (s *Store) Load(ctx context.Context) (*ProjectManifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Store) loadLocked(ctx context.Context) (*ProjectManifest, error) {
	m, err := s.read()
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	case errors.Is(err, ErrManifestCorrupt):
		s.logger.Warn(ctx, "ignoring corrupt manifest", zap.String("path", s.path), zap.Error(err))
		return nil, nil
	case err != nil:
		return nil, err
	}
	return m, nil
}

func (s *Store) read() (*ProjectManifest, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var m ProjectManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestCorrupt, err)
	}
	for i, c := range m.Cycles {
		if c == nil {
			return nil, fmt.Errorf("%w: cycles[%d] is null", ErrManifestCorrupt, i)
		}
	}
	return &m, nil
}

// Save writes m atomically and commits it when a committer is configured.
func (s *Store) Save(ctx context.Context, m *ProjectManifest, commitMessage string) error {
	if m == nil {
		return fmt.Errorf("save manifest: %w", ErrNoProject)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx, m.clone(), commitMessage)
}

func (s *Store) saveLocked(ctx context.Context, m *ProjectManifest, commitMessage string) error {
	if err := s.write(m); err != nil {
		return err
	}
	s.logger.Debug(ctx, "manifest saved", zap.String("path", s.path), zap.Int("cycles", len(m.Cycles)))

	if s.committer != nil && commitMessage != "" {
		if err := s.committer.CommitFiles(ctx, commitMessage, s.path); err != nil {
			return fmt.Errorf("committing manifest: %w", err)
		}
	}
	return nil
}

// write replaces the file via a synced temp file in the same directory.
func (s *Store) write(m *ProjectManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp manifest: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close manifest: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename manifest: %w", err)
	}
	return nil
}

// GetCycle returns a copy of the cycle with id, or nil when the manifest or
// cycle does not exist.
func (s *Store) GetCycle(ctx context.Context, id string) (*CycleManifest, error) {
	m, err := s.Load(ctx)
	if err != nil || m == nil {
		return nil, err
	}
	c := m.Cycle(id)
	if c == nil {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// UpdateCycleState merges the set fields of u into cycle id and saves.
func (s *Store) UpdateCycleState(ctx context.Context, id string, u CycleUpdate) error {
	if u.Status != nil && !u.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, *u.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	if m == nil {
		return ErrNoProject
	}
	c := m.Cycle(id)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrCycleNotFound, id)
	}

	u.apply(c)
	c.UpdatedAt = s.now()

	return s.saveLocked(ctx, m, fmt.Sprintf("Update cycle %s state: %s", id, c.Status))
}

// CreateProject starts a new session with the given cycles in planned state,
// replacing any existing manifest.
func (s *Store) CreateProject(ctx context.Context, sessionID, integrationBranch string, cycleIDs []string) (*ProjectManifest, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}

	m := &ProjectManifest{
		ProjectSessionID:  sessionID,
		IntegrationBranch: integrationBranch,
		Cycles:            make([]*CycleManifest, 0, len(cycleIDs)),
		CreatedAt:         s.now(),
	}
	seen := make(map[string]bool, len(cycleIDs))
	for _, id := range cycleIDs {
		if !cycleIDPattern.MatchString(id) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCycleID, id)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", ErrCycleExists, id)
		}
		seen[id] = true
		m.Cycles = append(m.Cycles, &CycleManifest{ID: id, Status: StatusPlanned, UpdatedAt: s.now()})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveLocked(ctx, m, "Initialize project session "+sessionID); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "project session created",
		zap.String("session", sessionID),
		zap.String("integration_branch", integrationBranch),
		zap.Int("cycles", len(cycleIDs)))
	return m.clone(), nil
}

// AddCycle appends a planned cycle to the current session.
func (s *Store) AddCycle(ctx context.Context, id string) error {
	if !cycleIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidCycleID, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	if m == nil {
		return ErrNoProject
	}
	if m.Cycle(id) != nil {
		return fmt.Errorf("%w: %s", ErrCycleExists, id)
	}
	m.Cycles = append(m.Cycles, &CycleManifest{ID: id, Status: StatusPlanned, UpdatedAt: s.now()})
	return s.saveLocked(ctx, m, "Add cycle "+id)
}

// Clear removes the manifest file. A missing file is not an error.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove manifest: %w", err)
	}
	s.logger.Info(ctx, "project session cleared", zap.String("path", s.path))
	return nil
}
