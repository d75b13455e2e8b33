package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecallRanksByCosineSimilarity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Remember(ctx, &Record{
		ID: "close", Content: "close match", Category: CategoryKnowledge, Scope: ScopeGlobal, Importance: 0.5,
	}, []float32{1, 0, 0}))
	require.NoError(t, s.Remember(ctx, &Record{
		ID: "far", Content: "far match", Category: CategoryKnowledge, Scope: ScopeGlobal, Importance: 0.5,
	}, []float32{0, 1, 0}))

	cache := NewEmbeddingCache(s)
	results, err := cache.Recall(ctx, []float32{1, 0, 0}, SelectGlobal, "", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "close", results[0].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestRecallLexicalFallback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Remember(ctx, &Record{
		ID: "m1", Content: "prefers tabs over spaces", Category: CategoryPreference, Scope: ScopeGlobal, Importance: 0.5,
	}, nil))

	cache := NewEmbeddingCache(s)
	results, err := cache.RecallLexical(ctx, "tabs", SelectGlobal, "", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.LessOrEqual(t, results[0].Score, 0.5)
}

func TestEmbeddingCacheInvalidateDropsEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Remember(ctx, &Record{
		ID: "m2", Content: "x", Category: CategoryCode, Scope: ScopeGlobal, Importance: 0.5,
	}, []float32{1, 2, 3}))

	cache := NewEmbeddingCache(s)
	_, err := cache.globalMap(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "m2", ScopeGlobal))
	cache.Invalidate("m2", ScopeGlobal, "")

	g, err := cache.globalMap(ctx)
	require.NoError(t, err)
	_, present := g["m2"]
	assert.False(t, present)
}

func TestManagerRememberFallsBackWithoutProvider(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s, nil)
	ctx := context.Background()

	r, err := m.Remember(ctx, &Record{Content: "no provider here", Category: CategoryContext, Scope: ScopeGlobal, Importance: 0.4})
	require.NoError(t, err)
	require.NotEmpty(t, r.ID)

	results, err := m.Recall(ctx, "no provider", SelectGlobal, "", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestManagerForgetLeavesNoRecordOrEmbedding(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s, nil)
	ctx := context.Background()

	r, err := m.Remember(ctx, &Record{ID: "del-1", Content: "x", Category: CategoryCode, Scope: ScopeGlobal, Importance: 0.2})
	require.NoError(t, err)

	require.NoError(t, m.Forget(ctx, r.ID, ScopeGlobal, ""))
	got, err := s.Get(ctx, r.ID, ScopeGlobal)
	require.NoError(t, err)
	assert.Nil(t, got)
}
