package memory

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ccr-gateway/ccr/internal/gwerrors"
)

// Manager is the façade the rest of the gateway talks to: it owns the
// store, the embedding cache, and the embedding provider, and it is the
// boundary across which the crash-atomicity invariant between a record
// and its embedding blob is actually enforced (the store alone can only
// make a single Remember call atomic; the manager decides whether a
// call happens at all).
type Manager struct {
	store    *Store
	cache    *EmbeddingCache
	provider EmbeddingProvider
	log      *slog.Logger
}

// NewManager builds a Manager over an already-open Store. provider may
// be nil, in which case Remember skips embedding generation and recall
// always falls back to the lexical path.
func NewManager(store *Store, provider EmbeddingProvider) *Manager {
	return &Manager{
		store:    store,
		cache:    NewEmbeddingCache(store),
		provider: provider,
		log:      slog.Default().With("component", "memory.manager"),
	}
}

// Remember creates or updates a memory record. If an embedding provider
// is configured, its output is written transactionally with the record;
// if embedding generation fails, the record is still written (keeping
// the store's per-id invariant intact by simply never adding that id's
// embedding row), and the failure is logged and swallowed per §7.
func (m *Manager) Remember(ctx context.Context, r *Record) (*Record, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	var vector []float32
	if m.provider != nil {
		v, err := m.provider.Embed(ctx, r.Content)
		if err != nil {
			m.log.Warn("embedding generation failed, storing without vector",
				"error", err, "id", r.ID)
		} else {
			vector = v
		}
	}

	if err := m.store.Remember(ctx, r, vector); err != nil {
		return nil, err
	}
	m.cache.Invalidate(r.ID, r.Scope, r.ProjectPath)
	return r, nil
}

// Get fetches a record and bumps its access accounting, matching the
// teacher's "touch on read" pattern for recall-adjacent reads.
func (m *Manager) Get(ctx context.Context, id string, scope Scope) (*Record, error) {
	r, err := m.store.Get(ctx, id, scope)
	if err != nil || r == nil {
		return r, err
	}
	if err := m.store.Touch(ctx, id, scope); err != nil {
		m.log.Warn("touch failed after get", "error", err, "id", id)
	}
	return r, nil
}

// Forget deletes a record and its embedding, and invalidates the cache.
func (m *Manager) Forget(ctx context.Context, id string, scope Scope, projectPath string) error {
	if err := m.store.Delete(ctx, id, scope); err != nil {
		return err
	}
	m.cache.Invalidate(id, scope, projectPath)
	return nil
}

// Recall performs semantic recall for query, scoped per selector. When
// the embedding provider is nil or embedding generation for the query
// fails, it falls back to RecallLexical per §4.E's failure semantics.
func (m *Manager) Recall(ctx context.Context, query string, selector ScopeSelector, projectPath string, topK int) ([]RecallResult, error) {
	if m.provider == nil {
		return m.cache.RecallLexical(ctx, query, selector, projectPath, topK)
	}
	vector, err := m.provider.Embed(ctx, query)
	if err != nil {
		m.log.Warn("query embedding failed, falling back to lexical recall", "error", err)
		return m.cache.RecallLexical(ctx, query, selector, projectPath, topK)
	}
	return m.cache.Recall(ctx, vector, selector, projectPath, topK)
}

// Cleanup runs the retention sweep and invalidates the whole cache,
// since it may have deleted entries the cache is still holding.
func (m *Manager) Cleanup(ctx context.Context, minImportance float64, maxAgeDays int) (int, error) {
	n, err := m.store.Cleanup(ctx, minImportance, maxAgeDays)
	if err != nil {
		return 0, err
	}
	m.cache.Reset()
	return n, nil
}

// Store exposes the underlying store for callers that need direct
// access (count, list) beyond the manager's façade.
func (m *Manager) Store() *Store { return m.store }

// ErrProviderRequired is returned when a caller needs an embedding but
// none is configured. It is primarily here for dimension-mismatch
// reporting by WriteEmbedding callers outside this package.
var ErrProviderRequired = gwerrors.NewValidationError("no embedding provider configured")
