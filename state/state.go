// Package state persists user settings between application runs.
package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/grovetools/appshell/logging"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Setting keys.
const (
	KeyProjectDirectory = "projectDirectory"
	KeyChannel          = "channel"
)

// State is the settings document: a generic map of key-value pairs.
type State map[string]interface{}

// Store is a YAML-backed settings store. It loads lazily on first access.
type Store struct {
	path     string
	defaults State
	logger   *logrus.Entry

	mu     sync.Mutex
	state  State
	loaded bool
}

// NewStore returns a store backed by path. defaults seed missing keys.
func NewStore(path string, defaults State) *Store {
	return &Store{
		path:     path,
		defaults: defaults,
		logger:   logging.NewLogger("settings"),
	}
}

// Path returns the settings file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the settings file. A missing file yields the defaults. A file
// that cannot be read or parsed is logged and replaced by the defaults.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Store) loadLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	state := s.defaultState()
	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		var fileState State
		if err := yaml.Unmarshal(data, &fileState); err != nil {
			s.logger.WithError(err).WithField("path", s.path).Error("Failed to parse settings, restoring defaults")
			s.state = state
			s.loaded = true
			return s.saveLocked()
		}
		for k, v := range fileState {
			state[k] = v
		}
	case os.IsNotExist(err):
	default:
		s.logger.WithError(err).WithField("path", s.path).Error("Failed to read settings, restoring defaults")
		s.state = state
		s.loaded = true
		return s.saveLocked()
	}

	s.state = state
	s.loaded = true
	return nil
}

func (s *Store) defaultState() State {
	state := make(State, len(s.defaults))
	for k, v := range s.defaults {
		state[k] = v
	}
	return state
}

func (s *Store) ensureLoaded(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	return s.loadLocked(ctx)
}

// Get retrieves a value by key, loading the store on first use.
func (s *Store) Get(ctx context.Context, key string) (interface{}, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return nil, false, err
	}
	val, ok := s.state[key]
	return val, ok, nil
}

// GetString is a convenience function to get a string value.
// Returns empty string if the key doesn't exist or the value is not a string.
func (s *Store) GetString(ctx context.Context, key string) (string, error) {
	val, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return "", err
	}
	str, _ := val.(string)
	return str, nil
}

// Set sets a value in memory. Call Save to persist it.
func (s *Store) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		if err := s.loadLocked(context.Background()); err != nil {
			s.logger.WithError(err).Warn("Failed to load settings before update")
		}
	}
	if s.state == nil {
		s.state = s.defaultState()
	}
	s.state[key] = value
}

// Delete removes a key in memory. Call Save to persist it.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		_ = s.loadLocked(context.Background())
	}
	delete(s.state, key)
}

// Save writes the settings file.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if s.state == nil {
		s.state = s.defaultState()
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	data, err := yaml.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}
