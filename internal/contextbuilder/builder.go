// Package contextbuilder implements §4.F: request analysis, priority-
// ordered system-prompt sections, and token-budgeted assembly.
package contextbuilder

import (
	"sort"
	"strings"

	"github.com/ccr-gateway/ccr/internal/canonical"
	"github.com/ccr-gateway/ccr/internal/memory"
)

// Config controls how a Builder assembles a prompt.
type Config struct {
	MemoryEnabled      bool
	MaxTokens          int
	ReserveForResponse int
}

// Result is the builder's output: the rewritten prompt, the request
// analysis that drove it, and whether budget trimming still left the
// prompt over budget.
type Result struct {
	Prompt   string
	Analysis Analysis
	Sections []Section
	Overflow bool
}

// Build runs the full §4.F pipeline. memoryHits is the already-computed
// recall result for this request (the caller is responsible for calling
// memory.Manager.Recall beforehand; the builder itself never touches
// the store, keeping it pure and deterministic for a fixed input).
func Build(cfg Config, basePrompt canonical.System, messages []canonical.Message, memoryHits []memory.RecallResult) Result {
	analysis := Analyze(messages)

	var sections []Section
	if cfg.MemoryEnabled {
		sections = append(sections, buildMemorySections(memoryHits)...)
	}
	sections = append(sections, buildInstructionSections(cfg.MemoryEnabled)...)
	sections = append(sections, buildEngineeringSections()...)
	sections = append(sections, buildEmphasisSections(analysis)...)
	sections = append(sections, buildOriginalSection(basePrompt.JoinedText())...)

	sections, overflow := applyBudget(sections, cfg.MaxTokens, cfg.ReserveForResponse)

	return Result{
		Prompt:   assemble(sections),
		Analysis: analysis,
		Sections: sections,
		Overflow: overflow,
	}
}

// applyBudget trims sections in ascending priority order until the
// total fits max-tokens minus reserve-for-response. CRITICAL sections
// are never trimmed; if the budget still can't be met after trimming
// every non-CRITICAL section, the result is returned with overflow=true.
func applyBudget(sections []Section, maxTokens, reserve int) ([]Section, bool) {
	if maxTokens <= 0 {
		return sections, false
	}
	budget := maxTokens - reserve

	total := 0
	for _, s := range sections {
		total += s.TokenEstimate
	}
	if total <= budget {
		return sections, false
	}

	byTrimPriority := append([]Section{}, sections...)
	sort.SliceStable(byTrimPriority, func(i, j int) bool { return byTrimPriority[i].Priority < byTrimPriority[j].Priority })

	removed := make(map[string]bool, len(sections))
	for i := 0; total > budget && i < len(byTrimPriority); i++ {
		s := byTrimPriority[i]
		if s.Priority == PriorityCritical {
			continue
		}
		removed[s.ID] = true
		total -= s.TokenEstimate
	}

	var ordered []Section
	for _, s := range sections {
		if !removed[s.ID] {
			ordered = append(ordered, s)
		}
	}
	return ordered, total > budget
}

// assemble emits sections in the fixed category order, preserving
// declaration order within each category.
func assemble(sections []Section) string {
	byCategory := make(map[SectionCategory][]Section)
	for _, s := range sections {
		byCategory[s.Category] = append(byCategory[s.Category], s)
	}

	var parts []string
	for _, cat := range assemblyOrder {
		for _, s := range byCategory[cat] {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}
