package contextbuilder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccr-gateway/ccr/internal/canonical"
	"github.com/ccr-gateway/ccr/internal/memory"
)

func userMsg(text string) canonical.Message {
	return canonical.Message{Role: canonical.RoleUser, Content: canonical.NewTextContent(text)}
}

func TestComplexityBoundaryAt500Chars(t *testing.T) {
	exactly500 := strings.Repeat("a", 500)
	over500 := strings.Repeat("a", 501)

	assert.Equal(t, ComplexityModerate, classifyComplexity([]canonical.Message{userMsg(exactly500)}))
	assert.Equal(t, ComplexityComplex, classifyComplexity([]canonical.Message{userMsg(over500)}))
}

func TestClassifyTaskTypeByKeyword(t *testing.T) {
	assert.Equal(t, TaskDebug, classifyTaskType("there's a bug crashing the server"))
	assert.Equal(t, TaskGeneral, classifyTaskType("good morning"))
}

func TestBuildIsDeterministicForFixedInput(t *testing.T) {
	cfg := Config{MemoryEnabled: true, MaxTokens: 100000, ReserveForResponse: 1000}
	messages := []canonical.Message{userMsg("please refactor this function")}
	hits := []memory.RecallResult{{ID: "m1", Content: "prefers small diffs", Scope: memory.ScopeGlobal, Score: 0.9}}
	base := canonical.NewSystemText("You are a careful engineer.")

	r1 := Build(cfg, base, messages, hits)
	r2 := Build(cfg, base, messages, hits)
	assert.Equal(t, r1.Prompt, r2.Prompt)
	assert.Equal(t, TaskRefactor, r1.Analysis.TaskType)
}

func TestAssembleOrdersByFixedCategorySequence(t *testing.T) {
	cfg := Config{MemoryEnabled: true, MaxTokens: 0}
	messages := []canonical.Message{userMsg("explain how routing works")}
	hits := []memory.RecallResult{{ID: "m1", Content: "uses openai dialect", Scope: memory.ScopeGlobal, Score: 0.5}}
	base := canonical.NewSystemText("base prompt text")

	r := Build(cfg, base, messages, hits)
	memIdx := strings.Index(r.Prompt, "uses openai dialect")
	instrIdx := strings.Index(r.Prompt, "remember scope")
	origIdx := strings.Index(r.Prompt, "base prompt text")
	require.True(t, memIdx >= 0 && instrIdx >= 0 && origIdx >= 0)
	assert.Less(t, memIdx, instrIdx)
	assert.Less(t, instrIdx, origIdx)
}

func TestApplyBudgetNeverTrimsCritical(t *testing.T) {
	cfg := Config{MemoryEnabled: false, MaxTokens: 1, ReserveForResponse: 0}
	messages := []canonical.Message{userMsg("hi")}
	base := canonical.NewSystemText(strings.Repeat("word ", 200))

	r := Build(cfg, base, messages, nil)
	assert.Contains(t, r.Prompt, "word")
}
