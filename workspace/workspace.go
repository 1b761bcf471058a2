// Package workspace hands out one private scratch directory per request and
// removes it when the request finishes.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// dirPrefix marks directories owned by a Manager under its root.
const dirPrefix = "req-"

// Errors for workspace operations.
var (
	// ErrSessionLive is returned when a generated session name collides
	// with a live or leftover directory.
	ErrSessionLive = errors.New("workspace session already live")

	// ErrInvalidName is returned by Session.Path for names that would
	// escape the scratch directory.
	ErrInvalidName = errors.New("invalid scratch file name")
)

// Logger is the interface for logging.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: logging must be best-effort and must not panic.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config configures a Manager.
type Config struct {
	// Root is the directory sessions are created under. Required.
	Root string

	// Logger is an optional logger for session events.
	Logger Logger
}

// Session is one request's scratch directory.
type Session struct {
	ID      string
	Dir     string
	Created time.Time
}

// Path returns the absolute path of name inside the session directory.
// name must be a plain file name.
func (s *Session) Path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.Dir, name), nil
}

// WriteFile writes data to name inside the session with mode 0600.
func (s *Session) WriteFile(name string, data []byte) (string, error) {
	path, err := s.Path(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("workspace: write %s: %w", name, err)
	}
	return path, nil
}

// Manager creates and tears down sessions.
type Manager struct {
	root   string
	logger Logger

	mu   sync.Mutex
	live map[string]*Session

	newID func() string
}

// NewManager creates the root directory with mode 0700 if needed.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Root == "" {
		return nil, errors.New("workspace: root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve root: %w", err)
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("workspace: create root: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		root:   root,
		logger: logger,
		live:   make(map[string]*Session),
		newID:  uuid.NewString,
	}, nil
}

// Root returns the absolute root directory.
func (m *Manager) Root() string {
	return m.root
}

// Acquire creates a fresh session directory with mode 0700.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	const attempts = 3
	var lastErr error
	for range attempts {
		id := m.newID()
		dir := filepath.Join(m.root, dirPrefix+id)

		m.mu.Lock()
		if _, exists := m.live[id]; exists {
			m.mu.Unlock()
			lastErr = fmt.Errorf("%w: %s", ErrSessionLive, id)
			continue
		}
		// Mkdir fails if a directory of that name exists on disk.
		if err := os.Mkdir(dir, 0o700); err != nil {
			m.mu.Unlock()
			if errors.Is(err, os.ErrExist) {
				lastErr = fmt.Errorf("%w: %s", ErrSessionLive, id)
				continue
			}
			return nil, fmt.Errorf("workspace: create session: %w", err)
		}
		s := &Session{ID: id, Dir: dir, Created: time.Now()}
		m.live[id] = s
		m.mu.Unlock()
		return s, nil
	}
	return nil, lastErr
}

// Release removes the session directory. Releasing twice is a no-op.
func (m *Manager) Release(s *Session) error {
	if s == nil {
		return nil
	}
	m.mu.Lock()
	_, live := m.live[s.ID]
	delete(m.live, s.ID)
	m.mu.Unlock()
	if !live {
		return nil
	}
	if err := os.RemoveAll(s.Dir); err != nil {
		m.logger.Error("workspace cleanup failed", "session", s.ID, "error", err)
		return fmt.Errorf("workspace: remove session: %w", err)
	}
	return nil
}

// With runs fn with a fresh session and releases it afterwards, including
// when fn panics. A panic is re-raised once the directory is gone.
func (m *Manager) With(ctx context.Context, fn func(*Session) error) (err error) {
	s, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := m.Release(s); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return fn(s)
}

// Live returns the number of sessions not yet released.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Sweep removes session directories under root that no live session owns,
// left behind by a previous process. It returns how many were removed.
func (m *Manager) Sweep() (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("workspace: sweep: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasPrefix(name, dirPrefix) {
			continue
		}
		if _, live := m.live[strings.TrimPrefix(name, dirPrefix)]; live {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, name)); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info("removed stale workspaces", "count", removed)
	}
	return removed, errors.Join(errs...)
}
