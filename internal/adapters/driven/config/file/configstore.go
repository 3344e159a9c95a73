// Package file provides a TOML-backed settings store with change
// notification, stored in the testseek config directory.
package file

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/testseek/internal/core/domain"
	"github.com/custodia-labs/testseek/internal/core/ports/driven"
	"github.com/custodia-labs/testseek/internal/logger"
)

// Ensure SettingsStore implements the interface.
var _ driven.SettingsStore = (*SettingsStore)(nil)

// SettingsStore is a file-based implementation of driven.SettingsStore
// using TOML.
type SettingsStore struct {
	mu       sync.RWMutex
	filePath string
	settings domain.Settings

	watcher  *fsnotify.Watcher
	onChange func(domain.Settings)
	done     chan struct{}
}

// NewSettingsStore creates a TOML settings store.
// If configDir is empty, defaults to ~/.testseek/config.toml.
func NewSettingsStore(configDir string) (*SettingsStore, error) {
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		configDir = filepath.Join(home, ".testseek")
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, err
	}

	s := &SettingsStore{
		filePath: filepath.Join(configDir, "config.toml"),
		done:     make(chan struct{}),
	}

	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

// Settings returns the current settings snapshot with defaults applied.
func (s *SettingsStore) Settings() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings := s.settings
	settings.ApplyDefaults()
	return settings
}

// Save persists the given settings with restricted permissions.
func (s *SettingsStore) Save(settings domain.Settings) error {
	data, err := toml.Marshal(settings)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return os.WriteFile(s.filePath, data, 0600)
}

// load reads settings from the TOML file.
func (s *SettingsStore) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file yet - start from defaults.
			s.mu.Lock()
			s.settings = domain.Settings{}
			s.mu.Unlock()
			return nil
		}
		return err
	}

	var loaded domain.Settings
	if err := toml.Unmarshal(data, &loaded); err != nil {
		return err
	}

	s.mu.Lock()
	s.settings = loaded
	s.mu.Unlock()
	return nil
}

// Watch registers a callback invoked whenever the config file changes
// on disk. Only one watcher is supported.
func (s *SettingsStore) Watch(onChange func(domain.Settings)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(s.filePath)); err != nil {
		watcher.Close()
		return err
	}

	s.mu.Lock()
	s.watcher = watcher
	s.onChange = onChange
	s.mu.Unlock()

	go s.watchLoop()
	return nil
}

func (s *SettingsStore) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != s.filePath {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if err := s.load(); err != nil {
				logger.Warn("Config reload failed: %v", err)
				continue
			}
			logger.Info("Config reloaded from %s", s.filePath)
			s.mu.RLock()
			onChange := s.onChange
			s.mu.RUnlock()
			if onChange != nil {
				onChange(s.Settings())
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("Config watcher error: %v", err)
		case <-s.done:
			return
		}
	}
}

// Path returns the configuration file path.
func (s *SettingsStore) Path() string {
	return s.filePath
}

// Close stops the watcher.
func (s *SettingsStore) Close() error {
	close(s.done)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
