package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
}

func TestLoadTolerantJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	// trailing comma and an unquoted-looking comment are json5 features
	// the established loader already tolerates.
	body := "{\n  // a comment\n  \"HOST\": \"0.0.0.0\",\n  \"providers\": [],\n}\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Host)
}

func TestSaveBacksUpPriorConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Host = "1.2.3.4"
	now := time.Unix(1700000000, 0)
	require.NoError(t, Save(path, cfg, now))

	cfg.Host = "5.6.7.8"
	require.NoError(t, Save(path, cfg, now.Add(time.Second)))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	var backups int
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".bak" {
			backups++
		}
	}
	assert.Equal(t, 1, backups)

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "5.6.7.8", reloaded.Host)
}

func TestProviderByName(t *testing.T) {
	cfg := Default()
	cfg.Providers = []Provider{{Name: "openai", Models: []string{"gpt-x"}}}
	p, ok := cfg.ProviderByName("openai")
	require.True(t, ok)
	assert.Equal(t, []string{"gpt-x"}, p.Models)

	_, ok = cfg.ProviderByName("missing")
	assert.False(t, ok)
}
