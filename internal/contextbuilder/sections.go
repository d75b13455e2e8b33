package contextbuilder

import (
	"fmt"

	"github.com/ccr-gateway/ccr/internal/memory"
	"github.com/ccr-gateway/ccr/internal/tokencount"
)

// SectionCategory is the fixed assembly bucket a section belongs to.
type SectionCategory string

const (
	CategoryMemory      SectionCategory = "memory"
	CategoryInstruction SectionCategory = "instruction"
	CategoryEngineering SectionCategory = "engineering"
	CategoryEmphasis    SectionCategory = "emphasis"
	CategoryOriginal    SectionCategory = "original"
)

// assemblyOrder is the fixed category order from §4.F step 4.
var assemblyOrder = []SectionCategory{
	CategoryMemory, CategoryInstruction, CategoryEngineering, CategoryEmphasis, CategoryOriginal,
}

// Priority controls which sections survive budget trimming; it does not
// affect assembly order.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// Section is one piece of the rewritten system prompt, per §3.
type Section struct {
	ID            string
	Category      SectionCategory
	Priority      Priority
	TokenEstimate int
	Text          string
}

func newSection(id string, category SectionCategory, priority Priority, text string) Section {
	return Section{
		ID: id, Category: category, Priority: priority, Text: text,
		TokenEstimate: tokencount.CountText(text),
	}
}

// buildMemorySections renders recall hits into one section per hit.
func buildMemorySections(hits []memory.RecallResult) []Section {
	var out []Section
	for i, h := range hits {
		text := fmt.Sprintf("[Memory] %s", h.Content)
		out = append(out, newSection(fmt.Sprintf("memory-%d", i), CategoryMemory, PriorityMedium, text))
	}
	return out
}

const instructionSectionText = `When you learn something worth remembering about this project or the ` +
	`user's preferences, emit it as <remember scope="global|project" category="...">content</remember>. ` +
	`Do not narrate that you are doing this.`

func buildInstructionSections(memoryEnabled bool) []Section {
	if !memoryEnabled {
		return nil
	}
	return []Section{newSection("instruction-remember", CategoryInstruction, PriorityHigh, instructionSectionText)}
}

const engineeringSectionText = `Prefer small, focused changes. Match the surrounding code's style. ` +
	`Never invent APIs that do not exist in the codebase.`

func buildEngineeringSections() []Section {
	return []Section{newSection("engineering-defaults", CategoryEngineering, PriorityLow, engineeringSectionText)}
}

var emphasisByTaskType = map[TaskType]string{
	TaskDebug:    "Focus on root cause, not just the symptom. Reproduce before fixing.",
	TaskRefactor: "Preserve behavior exactly. Do not change public signatures unless asked.",
	TaskTest:     "Cover edge cases and boundary conditions, not just the happy path.",
	TaskReview:   "Flag correctness and security issues before style issues.",
	TaskExplain:  "Explain mechanism and rationale, not just what the code does line by line.",
	TaskCode:     "Write the smallest correct change that satisfies the request.",
}

func buildEmphasisSections(a Analysis) []Section {
	text, ok := emphasisByTaskType[a.TaskType]
	if !ok {
		return nil
	}
	return []Section{newSection("emphasis-"+string(a.TaskType), CategoryEmphasis, PriorityMedium, text)}
}

func buildOriginalSection(basePromptText string) []Section {
	if basePromptText == "" {
		return nil
	}
	return []Section{newSection("original", CategoryOriginal, PriorityCritical, basePromptText)}
}
