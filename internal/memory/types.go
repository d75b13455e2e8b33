// Package memory implements the gateway's persistent memory store
// (§4.D), its embedding cache and semantic recall (§4.E), over a
// pure-Go SQLite backend.
package memory

import (
	"fmt"
	"time"

	"github.com/ccr-gateway/ccr/internal/gwerrors"
)

// Scope distinguishes a global memory from one pinned to a project path.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeProject Scope = "project"
)

// Category is the closed set of memory categories from §3.
type Category string

const (
	CategoryPreference   Category = "preference"
	CategoryPattern      Category = "pattern"
	CategoryDecision     Category = "decision"
	CategoryArchitecture Category = "architecture"
	CategoryKnowledge    Category = "knowledge"
	CategoryError        Category = "error"
	CategoryWorkflow     Category = "workflow"
	CategoryContext      Category = "context"
	CategoryCode         Category = "code"
)

var validCategories = map[Category]bool{
	CategoryPreference: true, CategoryPattern: true, CategoryDecision: true,
	CategoryArchitecture: true, CategoryKnowledge: true, CategoryError: true,
	CategoryWorkflow: true, CategoryContext: true, CategoryCode: true,
}

// Record is one memory, per the data model in §3.
type Record struct {
	ID             string
	Content        string
	Category       Category
	Scope          Scope
	ProjectPath    string
	Importance     float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessedAt int64 // millis since epoch
	AccessCount    int
	Metadata       map[string]any
}

// Validate enforces the record-level invariants: project-scoped records
// require a non-empty project path, global records forbid one, and the
// category must be one of the closed set.
func (r *Record) Validate() error {
	if !validCategories[r.Category] {
		return gwerrors.NewValidationError(fmt.Sprintf("unknown memory category %q", r.Category))
	}
	switch r.Scope {
	case ScopeProject:
		if r.ProjectPath == "" {
			return gwerrors.NewValidationError("project-scoped memory requires a non-empty project path")
		}
	case ScopeGlobal:
		if r.ProjectPath != "" {
			return gwerrors.NewValidationError("global memory must not carry a project path")
		}
	default:
		return gwerrors.NewValidationError(fmt.Sprintf("unknown memory scope %q", r.Scope))
	}
	if r.Importance < 0 || r.Importance > 1 {
		return gwerrors.NewValidationError("importance must be in [0,1]")
	}
	return nil
}

// EmbeddingEntry is a recall candidate: a vector plus the record fields
// needed to score and render it without a second round trip to the store.
type EmbeddingEntry struct {
	ID        string
	Content   string
	Scope     Scope
	Vector    []float32
	CreatedAt time.Time
}
