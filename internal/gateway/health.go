package gateway

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/ccr-gateway/ccr/internal/canonical"
	"github.com/ccr-gateway/ccr/internal/tokencount"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	PID       int    `json:"pid"`
	UptimeMS  int64  `json:"uptime_ms"`
}

// handleHealth implements GET /health (§6): a lightweight liveness probe
// that never touches downstream collaborators, grounded on the
// teacher's handleHealthz fallback path.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   Version,
		PID:       os.Getpid(),
		UptimeMS:  time.Since(s.deps.StartTime).Milliseconds(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleCountTokens implements POST /v1/messages/count_tokens (§6): the
// same request shape as /v1/messages but returning only the
// tokencount estimate, never calling a provider.
func (s *Server) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req canonical.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "malformed request body: "+err.Error())
		return
	}
	n := tokencount.CountRequest(&req)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"input_tokens": n})
}
