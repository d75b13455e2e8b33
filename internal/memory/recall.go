package memory

import (
	"context"
	"math"
	"sort"
	"strings"
)

// ScopeSelector picks which namespace(s) Recall searches.
type ScopeSelector string

const (
	SelectGlobal  ScopeSelector = "global"
	SelectProject ScopeSelector = "project"
	SelectBoth    ScopeSelector = "both"
)

// RecallResult is one ranked recall hit.
type RecallResult struct {
	ID      string
	Content string
	Scope   Scope
	Score   float64
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (c *EmbeddingCache) candidates(ctx context.Context, selector ScopeSelector, projectPath string) ([]EmbeddingEntry, error) {
	var out []EmbeddingEntry
	if selector == SelectGlobal || selector == SelectBoth {
		g, err := c.globalMap(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range g {
			out = append(out, e)
		}
	}
	if selector == SelectProject || selector == SelectBoth {
		p, err := c.project(ctx, projectPath)
		if err != nil {
			return nil, err
		}
		for _, e := range p {
			out = append(out, e)
		}
	}
	return out, nil
}

// Recall ranks candidate memories against query by cosine similarity,
// returning the top-k sorted descending, ties broken by created-at
// descending then id ascending for determinism (§4.E, §8).
func (c *EmbeddingCache) Recall(ctx context.Context, query []float32, selector ScopeSelector, projectPath string, topK int) ([]RecallResult, error) {
	entries, err := c.candidates(ctx, selector, projectPath)
	if err != nil {
		return nil, err
	}

	results := make([]RecallResult, 0, len(entries))
	for _, e := range entries {
		results = append(results, RecallResult{
			ID:      e.ID,
			Content: e.Content,
			Scope:   e.Scope,
			Score:   cosineSimilarity(query, e.Vector),
		})
	}

	createdAt := make(map[string]int64, len(entries))
	for _, e := range entries {
		createdAt[e.ID] = e.CreatedAt.UnixNano()
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if createdAt[results[i].ID] != createdAt[results[j].ID] {
			return createdAt[results[i].ID] > createdAt[results[j].ID]
		}
		return results[i].ID < results[j].ID
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// RecallLexical is the fallback path used when embedding generation
// fails for the query: a case-insensitive substring match over the
// content of every record in the selected scopes, read from the store
// (records without an embedding row included), scored synthetically in
// [0, 0.5] by match density.
func (c *EmbeddingCache) RecallLexical(ctx context.Context, query string, selector ScopeSelector, projectPath string, topK int) ([]RecallResult, error) {
	var entries []EmbeddingEntry
	for _, sc := range []Scope{ScopeGlobal, ScopeProject} {
		if selector != SelectBoth && string(selector) != string(sc) {
			continue
		}
		recs, err := c.store.List(ctx, sc, projectPath)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			entries = append(entries, EmbeddingEntry{ID: r.ID, Content: r.Content, Scope: r.Scope, CreatedAt: r.CreatedAt})
		}
	}
	needle := strings.ToLower(strings.TrimSpace(query))

	var results []RecallResult
	for _, e := range entries {
		haystack := strings.ToLower(e.Content)
		if needle == "" || !strings.Contains(haystack, needle) {
			continue
		}
		score := 0.5
		if len(haystack) > 0 {
			score = math.Min(0.5, 0.5*float64(len(needle))/float64(len(haystack)))
		}
		results = append(results, RecallResult{ID: e.ID, Content: e.Content, Scope: e.Scope, Score: score})
	}

	createdAt := make(map[string]int64, len(entries))
	for _, e := range entries {
		createdAt[e.ID] = e.CreatedAt.UnixNano()
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if createdAt[results[i].ID] != createdAt[results[j].ID] {
			return createdAt[results[i].ID] > createdAt[results[j].ID]
		}
		return results[i].ID < results[j].ID
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}
