package file

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/testseek/internal/core/domain"
)

func TestSettingsDefaultsWhenNoFile(t *testing.T) {
	store, err := NewSettingsStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	settings := store.Settings()
	assert.Equal(t, "openai", settings.EmbedProvider)
	assert.Equal(t, 25, settings.BatchEmbed)
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSettingsStore(dir)
	require.NoError(t, err)

	settings := store.Settings()
	settings.EmbedProvider = "ollama"
	settings.EmbedDim = 768
	settings.WDoc, settings.WStep = 0.6, 0.4
	require.NoError(t, store.Save(settings))
	require.NoError(t, store.Close())

	// A fresh store picks the values up from disk.
	reopened, err := NewSettingsStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got := reopened.Settings()
	assert.Equal(t, "ollama", got.EmbedProvider)
	assert.Equal(t, 768, got.EmbedDim)
	assert.Equal(t, 0.6, got.WDoc)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("{not toml"), 0600))

	_, err := NewSettingsStore(dir)
	assert.Error(t, err)
}

func TestWatchFiresOnChange(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSettingsStore(dir)
	require.NoError(t, err)
	defer store.Close()

	changed := make(chan domain.Settings, 1)
	require.NoError(t, store.Watch(func(s domain.Settings) {
		select {
		case changed <- s:
		default:
		}
	}))

	settings := store.Settings()
	settings.WDoc, settings.WStep = 0.5, 0.5
	require.NoError(t, store.Save(settings))

	select {
	case got := <-changed:
		assert.Equal(t, 0.5, got.WDoc)
	case <-time.After(2 * time.Second):
		t.Fatal("watch callback not invoked")
	}
}
