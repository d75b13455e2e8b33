package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ccr-gateway/ccr/internal/hooks"
)

// pluginView is the JSON-serializable projection of a plugins.Entry.
type pluginView struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
	Path        string `json:"path"`
	Enabled     bool   `json:"enabled"`
}

// handlePlugins implements GET /api/plugins (§6): lists every discovered
// plugin and its enabled state.
func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Plugins == nil {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string][]pluginView{"plugins": {}})
		return
	}
	var views []pluginView
	for _, e := range s.deps.Plugins.List() {
		views = append(views, pluginView{
			ID: e.Manifest.ID, Name: e.Manifest.Name, Description: e.Manifest.Description,
			Version: e.Manifest.Version, Path: e.Path, Enabled: e.Enabled,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string][]pluginView{"plugins": views})
}

// handlePluginToggle implements POST /api/plugins/:name/enable|disable.
func (s *Server) handlePluginToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Plugins == nil {
		writeError(w, http.StatusNotFound, "not_found", "plugin registry not configured")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/plugins/")
	id, action, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "expected /api/plugins/:id/enable|disable")
		return
	}

	var err error
	switch action {
	case "enable":
		err = s.deps.Plugins.Enable(id)
	case "disable":
		err = s.deps.Plugins.Disable(id)
	default:
		writeError(w, http.StatusBadRequest, "validation_error", "unknown plugin action "+action)
		return
	}
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// hookView is the JSON-serializable projection of a hooks.Registration.
type hookView struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Source   string `json:"source,omitempty"`
	Priority int    `json:"priority"`
}

// handleHooksList implements GET /api/hooks (§6): every registered
// handler across every event, grouped by event name.
func (s *Server) handleHooksList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	out := make(map[string][]hookView)
	if s.deps.Hooks != nil {
		for _, ev := range s.deps.Hooks.RegisteredEvents() {
			var views []hookView
			for _, reg := range s.deps.Hooks.List(ev) {
				views = append(views, hookView{ID: reg.ID, Name: reg.Name, Source: reg.Source, Priority: int(reg.Priority)})
			}
			out[string(ev)] = views
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// handleHookEvents implements GET /api/hooks/events (§6): the closed set
// of event names a handler may subscribe to.
func (s *Server) handleHookEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	events := []hooks.EventType{
		hooks.PreToolUse, hooks.PostToolUse, hooks.PreRoute, hooks.PostRoute,
		hooks.SessionStart, hooks.SessionEnd, hooks.PreResponse, hooks.PostResponse,
		hooks.PreCompact, hooks.Notification,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string][]hooks.EventType{"events": events})
}

// skillView is the JSON-serializable projection of a skills.Skill.
type skillView struct {
	Name        string `json:"name"`
	TriggerKind string `json:"trigger_kind"`
	Trigger     string `json:"trigger,omitempty"`
}

// handleSkillsList implements GET /api/skills (§6).
func (s *Server) handleSkillsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var views []skillView
	if s.deps.Skills != nil {
		for _, sk := range s.deps.Skills.List() {
			v := skillView{Name: sk.Name, TriggerKind: string(sk.Trigger.Kind)}
			if sk.Trigger.Kind == "prefix" {
				v.Trigger = sk.Trigger.Literal
			} else if sk.Trigger.Regex != nil {
				v.Trigger = sk.Trigger.Regex.String()
			}
			views = append(views, v)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string][]skillView{"skills": views})
}
