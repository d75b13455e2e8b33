package plugins

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir, id string, deps []string) {
	t.Helper()
	pluginDir := filepath.Join(dir, id)
	require.NoError(t, os.MkdirAll(pluginDir, 0o755))
	data, err := json.Marshal(Manifest{ID: id, Dependencies: deps})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, ManifestFilename), data, 0o644))
}

func TestDiscoverLoadsManifestsDisabled(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "alpha", nil)
	writeManifest(t, dir, "beta", []string{"alpha"})

	r := NewRegistry(nil)
	require.NoError(t, r.Discover(dir))

	entries := r.List()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.False(t, e.Enabled)
	}
	assert.Empty(t, r.Enabled())
}

func TestUnresolvedDependencyDoesNotAbort(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "gamma", []string{"missing"})

	r := NewRegistry(nil)
	require.NoError(t, r.Discover(dir))
	require.Len(t, r.List(), 1)
}

func TestEnableDisable(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "alpha", nil)

	r := NewRegistry(nil)
	require.NoError(t, r.Discover(dir))

	require.NoError(t, r.Enable("alpha"))
	require.Len(t, r.Enabled(), 1)

	require.NoError(t, r.Disable("alpha"))
	require.Empty(t, r.Enabled())

	require.Error(t, r.Enable("nonexistent"))
}

func TestDiscoverMissingDirIsNotAnError(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Discover(filepath.Join(t.TempDir(), "does-not-exist")))
	assert.Empty(t, r.List())
}
