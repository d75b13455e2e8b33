// Package config implements the on-disk configuration document of §6:
// provider list, routing table, memory/sub-agent/hook/plugin/skill
// blocks, and the top-level server settings. Follows the established
// internal/config/loader.go for the json5-tolerant load path (a
// provider might hand-edit the file with comments or trailing commas)
// and on its config.go for the flat, per-concern sub-struct layout.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

// Provider is one configured upstream model provider.
type Provider struct {
	Name            string   `json:"name"`
	BaseURL         string   `json:"baseUrl"`
	APIKey          string   `json:"apiKey"`
	Models          []string `json:"models"`
	TransformerChain []string `json:"transformerChain,omitempty"`
}

// RouteEntry names a provider+model pair for one routing slot.
type RouteEntry struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Router is the §4.H routing table as it appears on disk.
type Router struct {
	Default              RouteEntry  `json:"default"`
	Background           *RouteEntry `json:"background,omitempty"`
	Think                *RouteEntry `json:"think,omitempty"`
	LongContext          *RouteEntry `json:"longContext,omitempty"`
	LongContextThreshold int         `json:"longContextThreshold,omitempty"`
	WebSearch            *RouteEntry `json:"webSearch,omitempty"`
	Image                *RouteEntry `json:"image,omitempty"`
}

// Memory configures the §4.D/§4.E memory subsystem.
type Memory struct {
	Enabled                bool    `json:"enabled"`
	DBPath                 string  `json:"dbPath"`
	EmbeddingProvider      string  `json:"embeddingProvider,omitempty"`
	EmbeddingAPIKey        string  `json:"embeddingApiKey,omitempty"`
	EmbeddingBaseURL       string  `json:"embeddingBaseUrl,omitempty"`
	EmbeddingModel         string  `json:"embeddingModel,omitempty"`
	AutoInjectMaxResults   int     `json:"autoInjectMaxResults,omitempty"`
	AutoInjectMaxTokens    int     `json:"autoInjectMaxTokens,omitempty"`
	RetentionMinImportance float64 `json:"retentionMinImportance,omitempty"`
	RetentionMaxAgeDays    int     `json:"retentionMaxAgeDays,omitempty"`
}

// SubAgent configures §4.I's bounded recursive sub-agent spawning.
type SubAgent struct {
	Enabled        bool     `json:"enabled"`
	MaxDepth       int      `json:"maxDepth"`
	InheritMemory  bool     `json:"inheritMemory"`
	DefaultTimeout int      `json:"defaultTimeoutSeconds,omitempty"`
	AllowedTypes   []string `json:"allowedTypes,omitempty"`
}

// ExtensionBlock is the shared shape of the hook/plugin/skill blocks:
// an enabled flag plus the directory they're discovered from.
type ExtensionBlock struct {
	Enabled   bool   `json:"enabled"`
	Directory string `json:"directory,omitempty"`
}

// Config is the full on-disk document (§6).
type Config struct {
	Port        int            `json:"PORT,omitempty"`
	Host        string         `json:"HOST,omitempty"`
	APIKey      string         `json:"APIKEY,omitempty"`
	APITimeoutMS int           `json:"API_TIMEOUT_MS,omitempty"`
	Providers   []Provider     `json:"providers"`
	Router      Router         `json:"router"`
	Memory      Memory         `json:"memory"`
	SubAgent    SubAgent       `json:"subAgent"`
	Hooks       ExtensionBlock `json:"hooks"`
	Plugins     ExtensionBlock `json:"plugins"`
	Skills      ExtensionBlock `json:"skills"`
}

// Default returns a config with the loopback-only, no-secret defaults
// the gateway falls back to when no file exists yet.
func Default() *Config {
	return &Config{
		Port: 3456,
		Host: "127.0.0.1",
		SubAgent: SubAgent{
			MaxDepth: 3,
		},
	}
}

// Load reads and json5-decodes the config file at path. A missing file
// is not an error: Default is returned instead, matching first-run
// behavior.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON. If a config file already
// exists at path, it is first copied aside to "<path>.<unix-nano>.bak"
// so the write path in §6's /api/config POST handler can always recover
// the prior document.
func Save(path string, cfg *Config, now time.Time) error {
	if _, err := os.Stat(path); err == nil {
		backupPath := fmt.Sprintf("%s.%d.bak", path, now.UnixNano())
		prior, readErr := os.ReadFile(path)
		if readErr != nil {
			return fmt.Errorf("config: read prior config for backup: %w", readErr)
		}
		if err := os.WriteFile(backupPath, prior, 0o600); err != nil {
			return fmt.Errorf("config: write backup %s: %w", backupPath, err)
		}
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// ProviderByName looks up a configured provider by name.
func (c *Config) ProviderByName(name string) (Provider, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return Provider{}, false
}
