// Package routing implements §4.H: per-request model selection across
// the default/long-context/think/background/web-search routes. Table
// also carries the image route, which Resolve does not select.
package routing

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ccr-gateway/ccr/internal/canonical"
	"github.com/ccr-gateway/ccr/internal/gwerrors"
	"github.com/ccr-gateway/ccr/internal/tokencount"
)

const defaultLongContextThreshold = 60000

// RouteTarget is a resolved provider+model pair.
type RouteTarget struct {
	Provider string
	Model    string
}

// Table is the routing table: a required default plus optional named
// routes. LongContextThreshold defaults to 60k when zero.
type Table struct {
	Default              RouteTarget
	LongContext          *RouteTarget
	Background           *RouteTarget
	WebSearch            *RouteTarget
	Think                *RouteTarget
	Image                *RouteTarget
	LongContextThreshold int
}

// ProviderConfig is a configured provider and its known model list, used
// to validate client-pinned "provider,model" selections.
type ProviderConfig struct {
	Name   string
	Models []string
}

// OverrideLoader probes for a per-project or per-session routing table
// override. Reading the override file itself is an external
// collaborator per §1; only this contract lives here.
type OverrideLoader interface {
	Load(projectPath, sessionID string) (*Table, bool)
}

type noopOverrideLoader struct{}

func (noopOverrideLoader) Load(string, string) (*Table, bool) { return nil, false }

// Decision is the resolved route for one request.
type Decision struct {
	Provider string
	Model    string
	Route    string
}

// sessionUsageCache is a small LRU of per-session rolling token usage,
// keyed by session id, per §3's "Session usage" data model entry.
type sessionUsageCache struct {
	mu       sync.Mutex
	entries  map[string]sessionUsageEntry
	order    []string
	capacity int
}

type sessionUsageEntry struct {
	inputTokens  int
	outputTokens int
	expiresAt    time.Time
}

func newSessionUsageCache(capacity int) *sessionUsageCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &sessionUsageCache{entries: make(map[string]sessionUsageEntry), capacity: capacity}
}

func (c *sessionUsageCache) get(sessionID string) (sessionUsageEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sessionID]
	if !ok || time.Now().After(e.expiresAt) {
		return sessionUsageEntry{}, false
	}
	return e, true
}

func (c *sessionUsageCache) set(sessionID string, input, output int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[sessionID] = sessionUsageEntry{inputTokens: input, outputTokens: output, expiresAt: time.Now().Add(1 * time.Hour)}
	for i, id := range c.order {
		if id == sessionID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, sessionID)
	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Router resolves the target provider+model for a canonical request.
type Router struct {
	table        Table
	providers    map[string]ProviderConfig
	sessionUsage *sessionUsageCache
	overrides    OverrideLoader
}

// New builds a Router over the given base table and provider list. If
// overrides is nil, per-project/per-session override probing is a no-op.
func New(table Table, providers []ProviderConfig, overrides OverrideLoader) *Router {
	if overrides == nil {
		overrides = noopOverrideLoader{}
	}
	m := make(map[string]ProviderConfig, len(providers))
	for _, p := range providers {
		m[p.Name] = p
	}
	return &Router{table: table, providers: m, sessionUsage: newSessionUsageCache(1000), overrides: overrides}
}

// RecordUsage updates the rolling session-usage entry used by the
// long-context precedence rule.
func (r *Router) RecordUsage(sessionID string, inputTokens, outputTokens int) {
	if sessionID == "" {
		return
	}
	r.sessionUsage.set(sessionID, inputTokens, outputTokens)
}

func (r *Router) providerHasModel(provider, model string) bool {
	p, ok := r.providers[provider]
	if !ok {
		return false
	}
	for _, m := range p.Models {
		if m == model {
			return true
		}
	}
	return false
}

func splitPinned(model string) (provider, name string, ok bool) {
	idx := strings.Index(model, ",")
	if idx <= 0 || idx == len(model)-1 {
		return "", "", false
	}
	return model[:idx], model[idx+1:], true
}

var subagentTagRe = regexp.MustCompile(`(?s)^<CCR-SUBAGENT-MODEL>(.*?)</CCR-SUBAGENT-MODEL>`)

// extractSubagentTag finds and strips a leading <CCR-SUBAGENT-MODEL> tag
// from the system block sequence, returning the tagged model; the tag is
// removed in place from whichever block carried it.
func extractSubagentTag(sys *canonical.System) (model string, found bool) {
	for i, b := range sys.Blocks {
		m := subagentTagRe.FindStringSubmatch(b.Text)
		if m == nil {
			continue
		}
		model = strings.TrimSpace(m[1])
		sys.Blocks[i].Text = strings.TrimPrefix(b.Text, m[0])
		return model, true
	}
	return "", false
}

func decisionFromTarget(t RouteTarget, route string) Decision {
	return Decision{Provider: t.Provider, Model: t.Model, Route: route}
}

// Resolve picks the target model for req, per the precedence order in
// §4.H: client-pinned, explicit sub-agent tag, long-context, background,
// web search, think, default. Per-project/per-session override files are
// probed first and, if present, replace the routing table for this call.
func (r *Router) Resolve(req *canonical.Request, sessionID, projectPath string) (Decision, error) {
	table := r.table
	if ov, ok := r.overrides.Load(projectPath, sessionID); ok && ov != nil {
		table = *ov
	}

	// 1. client-pinned
	if provider, model, ok := splitPinned(req.Model); ok {
		if r.providerHasModel(provider, model) {
			return Decision{Provider: provider, Model: model, Route: "pinned"}, nil
		}
	}

	// 2. explicit sub-agent tag
	if model, ok := extractSubagentTag(&req.System); ok {
		return Decision{Model: model, Route: "subagent-tag"}, nil
	}

	tokenCount := tokencount.CountRequest(req)
	threshold := table.LongContextThreshold
	if threshold == 0 {
		threshold = defaultLongContextThreshold
	}

	// 3. long-context
	if table.LongContext != nil {
		prev, hasPrev := r.sessionUsage.get(sessionID)
		promoted := hasPrev && prev.inputTokens > threshold && tokenCount > 20000
		if promoted || tokenCount > threshold {
			return decisionFromTarget(*table.LongContext, "longContext"), nil
		}
	}

	// 4. background
	if table.Background != nil && strings.Contains(req.Model, "claude") && strings.Contains(req.Model, "haiku") {
		return decisionFromTarget(*table.Background, "background"), nil
	}

	// 5. web search
	if table.WebSearch != nil {
		for _, tl := range req.Tools {
			if strings.HasPrefix(tl.Type, "web_search") {
				return decisionFromTarget(*table.WebSearch, "webSearch"), nil
			}
		}
	}

	// 6. think
	if table.Think != nil && req.HasThinking() {
		return decisionFromTarget(*table.Think, "think"), nil
	}

	// 7. default
	if table.Default.Model == "" {
		return Decision{}, gwerrors.NewRouterFailedSelectionError("no default route configured")
	}
	return decisionFromTarget(table.Default, "default"), nil
}
