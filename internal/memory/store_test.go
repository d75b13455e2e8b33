package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { Reset(path) })
	return s
}

func TestRememberThenGetReturnsWrittenRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &Record{
		ID: "rec-1", Content: "use tabs", Category: CategoryPreference,
		Scope: ScopeGlobal, Importance: 0.8,
	}
	require.NoError(t, s.Remember(ctx, r, []float32{0.1, 0.2, 0.3}))

	got, err := s.Get(ctx, "rec-1", ScopeGlobal)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "use tabs", got.Content)
	assert.Equal(t, CategoryPreference, got.Category)

	vec, err := s.ReadEmbedding(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestRememberSameIDUpdatesInPlacePreservingCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &Record{ID: "rec-2", Content: "v1", Category: CategoryDecision, Scope: ScopeGlobal, Importance: 0.5}
	require.NoError(t, s.Remember(ctx, r, []float32{1}))
	first, err := s.Get(ctx, "rec-2", ScopeGlobal)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	r2 := &Record{ID: "rec-2", Content: "v2", Category: CategoryDecision, Scope: ScopeGlobal, Importance: 0.6}
	require.NoError(t, s.Remember(ctx, r2, []float32{1}))

	second, err := s.Get(ctx, "rec-2", ScopeGlobal)
	require.NoError(t, err)
	assert.Equal(t, "v2", second.Content)
	assert.Equal(t, first.CreatedAt.UnixMilli(), second.CreatedAt.UnixMilli())
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt) || second.UpdatedAt.Equal(first.UpdatedAt))
}

func TestDeleteCascadesEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &Record{ID: "rec-3", Content: "x", Category: CategoryCode, Scope: ScopeGlobal, Importance: 0.3}
	require.NoError(t, s.Remember(ctx, r, []float32{1, 2}))
	require.NoError(t, s.Delete(ctx, "rec-3", ScopeGlobal))

	got, err := s.Get(ctx, "rec-3", ScopeGlobal)
	require.NoError(t, err)
	assert.Nil(t, got)

	vec, err := s.ReadEmbedding(ctx, "rec-3")
	require.NoError(t, err)
	assert.Nil(t, vec)
}

func TestProjectScopedRecordRequiresProjectPath(t *testing.T) {
	r := &Record{ID: "rec-4", Content: "x", Category: CategoryCode, Scope: ScopeProject, Importance: 0.3}
	assert.Error(t, r.Validate())
}

func TestCleanupDeletesLowImportanceOldRarelyAccessed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := &Record{
		ID: "old", Content: "stale", Category: CategoryContext, Scope: ScopeGlobal,
		Importance: 0.1, CreatedAt: time.Now().AddDate(0, 0, -100),
	}
	require.NoError(t, s.Remember(ctx, old, nil))

	fresh := &Record{
		ID: "fresh", Content: "recent", Category: CategoryContext, Scope: ScopeGlobal,
		Importance: 0.1,
	}
	require.NoError(t, s.Remember(ctx, fresh, nil))

	n, err := s.Cleanup(ctx, 0.5, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, "old", ScopeGlobal)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.Get(ctx, "fresh", ScopeGlobal)
	require.NoError(t, err)
	assert.NotNil(t, got)

	n2, err := s.Cleanup(ctx, 0.5, 30)
	require.NoError(t, err)
	assert.Equal(t, 0, n2, "cleanup must be idempotent for fixed inputs")
}

func TestCleanupSparesHighAccessCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &Record{
		ID: "accessed", Content: "hot", Category: CategoryContext, Scope: ScopeGlobal,
		Importance: 0.1, CreatedAt: time.Now().AddDate(0, 0, -100),
	}
	require.NoError(t, s.Remember(ctx, r, nil))
	require.NoError(t, s.Touch(ctx, "accessed", ScopeGlobal))
	require.NoError(t, s.Touch(ctx, "accessed", ScopeGlobal))
	require.NoError(t, s.Touch(ctx, "accessed", ScopeGlobal))

	n, err := s.Cleanup(ctx, 0.5, 30)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestOpenIsSingletonPerPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	t.Cleanup(func() { Reset(path) })

	a, err := Open(path)
	require.NoError(t, err)
	b, err := Open(path)
	require.NoError(t, err)
	assert.Same(t, a, b)
}
