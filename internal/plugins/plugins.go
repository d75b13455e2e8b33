// Package plugins implements §4.K's plugin layer: manifests declaring
// the hooks, skills, commands, and agent files a plugin provides,
// discovered from a directory and validated for unresolved dependencies
// (logged, never fatal to startup). Follows the established
// pkg/pluginsdk/manifest.go (manifest shape, decode/validate split) and
// internal/plugins/discovery.go (directory walk, path-traversal guard
// on plugin paths).
package plugins

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ManifestFilename is the file a plugin directory must contain.
const ManifestFilename = "ccr.plugin.json"

// Manifest describes one plugin's contribution to the gateway.
type Manifest struct {
	ID           string   `json:"id"`
	Name         string   `json:"name,omitempty"`
	Description  string   `json:"description,omitempty"`
	Version      string   `json:"version,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Hooks        []string `json:"hooks,omitempty"`
	Skills       []string `json:"skills,omitempty"`
	Commands     []string `json:"commands,omitempty"`
	AgentFiles   []string `json:"agentFiles,omitempty"`
}

// Validate checks the manifest's own required fields (not its
// dependencies against the rest of the registry; that's ValidateDeps).
func (m *Manifest) Validate() error {
	if m == nil {
		return fmt.Errorf("plugins: manifest is nil")
	}
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("plugins: manifest id is required")
	}
	return nil
}

// DecodeManifest parses a manifest from raw bytes.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("plugins: decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Entry is one discovered plugin: its manifest, the directory it was
// loaded from, and whether an operator has enabled it.
type Entry struct {
	Manifest *Manifest
	Path     string
	Enabled  bool
}

// Registry holds discovered plugins and tracks enable/disable state.
// Per the "Plugin auto-registration" open-question resolution, a
// discovered plugin is parsed and validated but starts disabled; it
// only takes effect once Enable is called.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	logger  *slog.Logger
}

// NewRegistry builds an empty plugin registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{entries: make(map[string]*Entry), logger: logger.With("component", "plugins")}
}

func validatePluginDir(root string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", fmt.Errorf("plugins: empty plugin directory")
	}
	cleaned := filepath.Clean(root)
	for _, seg := range strings.Split(cleaned, string(filepath.Separator)) {
		if seg == ".." {
			return "", fmt.Errorf("plugins: path traversal in plugin directory %q", root)
		}
	}
	abs, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("plugins: resolve plugin directory: %w", err)
	}
	return abs, nil
}

// Discover walks root for ccr.plugin.json manifests at any depth below
// it, parses and validates each, and loads them into
// the registry (disabled). A manifest that fails to parse is logged
// and skipped rather than aborting discovery of the rest.
func (r *Registry) Discover(root string) error {
	abs, err := validatePluginDir(root)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); os.IsNotExist(err) {
		return nil
	}

	var found []*Entry
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != ManifestFilename {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			r.logger.Warn("plugins: read manifest failed", "path", path, "error", readErr)
			return nil
		}
		manifest, decodeErr := DecodeManifest(data)
		if decodeErr != nil {
			r.logger.Warn("plugins: invalid manifest", "path", path, "error", decodeErr)
			return nil
		}
		found = append(found, &Entry{Manifest: manifest, Path: filepath.Dir(path)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("plugins: walk %s: %w", abs, err)
	}

	r.mu.Lock()
	for _, e := range found {
		r.entries[e.Manifest.ID] = e
	}
	r.mu.Unlock()

	r.validateDependencies()
	return nil
}

// validateDependencies logs any plugin dependency that doesn't resolve
// to another discovered plugin id. Unresolved dependencies never abort
// startup (§4.K).
func (r *Registry) validateDependencies() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, e := range r.entries {
		for _, dep := range e.Manifest.Dependencies {
			if _, ok := r.entries[dep]; !ok {
				r.logger.Warn("plugins: unresolved dependency", "plugin", id, "dependency", dep)
			}
		}
	}
}

// Enable activates a discovered plugin.
func (r *Registry) Enable(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("plugins: unknown plugin %q", id)
	}
	e.Enabled = true
	return nil
}

// Disable deactivates a plugin without removing it from the registry.
func (r *Registry) Disable(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("plugins: unknown plugin %q", id)
	}
	e.Enabled = false
	return nil
}

// Get returns one plugin entry by id.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// List returns every discovered plugin, sorted by id.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.ID < out[j].Manifest.ID })
	return out
}

// Enabled returns only the currently enabled plugins, sorted by id.
func (r *Registry) Enabled() []*Entry {
	var out []*Entry
	for _, e := range r.List() {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out
}
