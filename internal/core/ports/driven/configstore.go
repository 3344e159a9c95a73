package driven

import (
	"github.com/custodia-labs/testseek/internal/core/domain"
)

// SettingsStore loads and persists service settings.
type SettingsStore interface {
	// Settings returns the current settings snapshot.
	Settings() domain.Settings

	// Save persists the given settings.
	Save(s domain.Settings) error

	// Watch registers a callback invoked whenever the backing file
	// changes on disk. Used to hot-reload the fusion weights.
	Watch(onChange func(domain.Settings)) error

	// Close stops watching and releases resources.
	Close() error
}
