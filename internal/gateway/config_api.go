package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ccr-gateway/ccr/internal/config"
)

// sensitiveKeySuffixes mirrors the established isSensitiveKey redaction
// idea: any config key ending in one of these never round-trips in a
// GET response.
var sensitiveKeySuffixes = []string{"apikey", "apiKey", "secret", "token", "password"}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, suffix := range sensitiveKeySuffixes {
		if strings.HasSuffix(lower, strings.ToLower(suffix)) {
			return true
		}
	}
	return false
}

// redactConfig returns a deep-ish copy of cfg with every provider/memory
// API key replaced by a placeholder, so GET /api/config never leaks
// secrets to a caller that only needs routing/memory/hook shape.
func redactConfig(cfg *config.Config) config.Config {
	out := *cfg
	out.Providers = make([]config.Provider, len(cfg.Providers))
	for i, p := range cfg.Providers {
		out.Providers[i] = p
		if p.APIKey != "" {
			out.Providers[i].APIKey = "***redacted***"
		}
	}
	if out.APIKey != "" {
		out.APIKey = "***redacted***"
	}
	if out.Memory.EmbeddingAPIKey != "" {
		out.Memory.EmbeddingAPIKey = "***redacted***"
	}
	return out
}

// handleConfigAPI implements GET/POST /api/config (§6): read the current
// document with secrets redacted, or replace it wholesale. POST writes
// a timestamped backup of the prior document before saving, via
// internal/config.Save.
func (s *Server) handleConfigAPI(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		redacted := redactConfig(s.deps.Config)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(redacted)
	case http.MethodPost, http.MethodPut:
		var cfg config.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "malformed config document: "+err.Error())
			return
		}
		if s.deps.ConfigPath == "" {
			writeError(w, http.StatusInternalServerError, "internal_error", "no config path configured for this process")
			return
		}
		if err := config.Save(s.deps.ConfigPath, &cfg, time.Now()); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to save config: "+err.Error())
			return
		}
		*s.deps.Config = cfg
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]bool{"saved": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRestart implements POST /api/restart (§6): schedules the
// configured restart callback after the reply is flushed, so the caller
// reliably observes the 202 before the process exits/re-execs.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]bool{"restarting": true})
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	if s.deps.RestartFunc != nil {
		go s.deps.RestartFunc()
	}
}
