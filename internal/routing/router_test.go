package routing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccr-gateway/ccr/internal/canonical"
)

func baseTable() Table {
	return Table{
		Default:     RouteTarget{Provider: "anthropic", Model: "claude-sonnet"},
		LongContext: &RouteTarget{Provider: "anthropic", Model: "claude-sonnet-long"},
		Background:  &RouteTarget{Provider: "anthropic", Model: "claude-haiku"},
		WebSearch:   &RouteTarget{Provider: "openai", Model: "gpt-4o-search"},
		Think:       &RouteTarget{Provider: "anthropic", Model: "claude-opus-think"},
	}
}

func userMessage(text string) canonical.Message {
	return canonical.Message{Role: canonical.RoleUser, Content: canonical.NewTextContent(text)}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	r := New(baseTable(), nil, nil)
	req := &canonical.Request{Model: "claude-3-sonnet", Messages: []canonical.Message{userMessage("hi")}}
	d, err := r.Resolve(req, "s1", "")
	require.NoError(t, err)
	assert.Equal(t, "default", d.Route)
	assert.Equal(t, "claude-sonnet", d.Model)
}

func TestResolvePrefersClientPinnedModel(t *testing.T) {
	providers := []ProviderConfig{{Name: "openai", Models: []string{"gpt-4o"}}}
	r := New(baseTable(), providers, nil)
	req := &canonical.Request{Model: "openai,gpt-4o", Messages: []canonical.Message{userMessage("hi")}}
	d, err := r.Resolve(req, "s1", "")
	require.NoError(t, err)
	assert.Equal(t, "pinned", d.Route)
	assert.Equal(t, "openai", d.Provider)
	assert.Equal(t, "gpt-4o", d.Model)
}

func TestResolveIgnoresPinnedModelNotInProviderList(t *testing.T) {
	providers := []ProviderConfig{{Name: "openai", Models: []string{"gpt-4o"}}}
	r := New(baseTable(), providers, nil)
	req := &canonical.Request{Model: "openai,gpt-5-ghost", Messages: []canonical.Message{userMessage("hi")}}
	d, err := r.Resolve(req, "s1", "")
	require.NoError(t, err)
	assert.Equal(t, "default", d.Route)
}

func TestResolveExtractsAndStripsSubagentTag(t *testing.T) {
	r := New(baseTable(), nil, nil)
	req := &canonical.Request{
		Model:    "claude-3-sonnet",
		System:   canonical.NewSystemText("<CCR-SUBAGENT-MODEL>gpt-4o-mini</CCR-SUBAGENT-MODEL>rest of prompt"),
		Messages: []canonical.Message{userMessage("hi")},
	}
	d, err := r.Resolve(req, "s1", "")
	require.NoError(t, err)
	assert.Equal(t, "subagent-tag", d.Route)
	assert.Equal(t, "gpt-4o-mini", d.Model)
	assert.Equal(t, "rest of prompt", req.System.JoinedText())
}

func TestResolveLongContextThresholdIsStrictlyGreaterThan(t *testing.T) {
	table := baseTable()
	table.LongContextThreshold = 100
	r := New(table, nil, nil)

	atThreshold := strings.Repeat("a", 400) // ~100 tokens at 4 chars/token
	req := &canonical.Request{Model: "claude-3-sonnet", Messages: []canonical.Message{userMessage(atThreshold)}}
	d, err := r.Resolve(req, "s1", "")
	require.NoError(t, err)
	assert.NotEqual(t, "longContext", d.Route)

	overThreshold := strings.Repeat("a", 404)
	req2 := &canonical.Request{Model: "claude-3-sonnet", Messages: []canonical.Message{userMessage(overThreshold)}}
	d2, err := r.Resolve(req2, "s1", "")
	require.NoError(t, err)
	assert.Equal(t, "longContext", d2.Route)
}

func TestResolveLongContextPromotedByPriorSessionUsage(t *testing.T) {
	table := baseTable()
	table.LongContextThreshold = 60000
	r := New(table, nil, nil)
	r.RecordUsage("s1", 60001, 0)

	text := strings.Repeat("a", 20004*4) // > 20000 tokens
	req := &canonical.Request{Model: "claude-3-sonnet", Messages: []canonical.Message{userMessage(text)}}
	d, err := r.Resolve(req, "s1", "")
	require.NoError(t, err)
	assert.Equal(t, "longContext", d.Route)
}

func TestResolveBackgroundRequiresBothClaudeAndHaikuInModelName(t *testing.T) {
	r := New(baseTable(), nil, nil)
	req := &canonical.Request{Model: "claude-3-haiku-20240307", Messages: []canonical.Message{userMessage("hi")}}
	d, err := r.Resolve(req, "s1", "")
	require.NoError(t, err)
	assert.Equal(t, "background", d.Route)

	req2 := &canonical.Request{Model: "claude-3-sonnet", Messages: []canonical.Message{userMessage("hi")}}
	d2, err := r.Resolve(req2, "s1", "")
	require.NoError(t, err)
	assert.NotEqual(t, "background", d2.Route)
}

func TestResolveWebSearchMatchesToolTypePrefix(t *testing.T) {
	r := New(baseTable(), nil, nil)
	req := &canonical.Request{
		Model:    "claude-3-sonnet",
		Messages: []canonical.Message{userMessage("hi")},
		Tools:    []canonical.Tool{{Type: "web_search_20250101", Name: "web_search"}},
	}
	d, err := r.Resolve(req, "s1", "")
	require.NoError(t, err)
	assert.Equal(t, "webSearch", d.Route)
}

func TestResolveThinkRoute(t *testing.T) {
	r := New(baseTable(), nil, nil)
	req := &canonical.Request{
		Model:    "claude-3-sonnet",
		Messages: []canonical.Message{userMessage("hi")},
		Thinking: []byte(`{"type":"enabled"}`),
	}
	d, err := r.Resolve(req, "s1", "")
	require.NoError(t, err)
	assert.Equal(t, "think", d.Route)
}

func TestResolvePrecedenceClientPinnedBeatsEverythingElse(t *testing.T) {
	providers := []ProviderConfig{{Name: "openai", Models: []string{"gpt-4o"}}}
	r := New(baseTable(), providers, nil)
	req := &canonical.Request{
		Model:    "openai,gpt-4o",
		Messages: []canonical.Message{userMessage("hi")},
		Thinking: []byte(`{"type":"enabled"}`),
		Tools:    []canonical.Tool{{Type: "web_search_20250101", Name: "web_search"}},
	}
	d, err := r.Resolve(req, "s1", "")
	require.NoError(t, err)
	assert.Equal(t, "pinned", d.Route)
}

type fakeOverride struct{ table Table }

func (f fakeOverride) Load(projectPath, sessionID string) (*Table, bool) {
	if projectPath == "" {
		return nil, false
	}
	return &f.table, true
}

func TestResolveUsesProjectOverrideWhenPresent(t *testing.T) {
	override := Table{Default: RouteTarget{Provider: "local", Model: "llama3"}}
	r := New(baseTable(), nil, fakeOverride{table: override})
	req := &canonical.Request{Model: "claude-3-sonnet", Messages: []canonical.Message{userMessage("hi")}}
	d, err := r.Resolve(req, "s1", "/repo/project")
	require.NoError(t, err)
	assert.Equal(t, "llama3", d.Model)
}

func TestResolveErrorsWithoutDefaultRoute(t *testing.T) {
	r := New(Table{}, nil, nil)
	req := &canonical.Request{Model: "claude-3-sonnet", Messages: []canonical.Message{userMessage("hi")}}
	_, err := r.Resolve(req, "s1", "")
	require.Error(t, err)
}
