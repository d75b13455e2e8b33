package contextbuilder

import (
	"regexp"
	"strings"

	"github.com/ccr-gateway/ccr/internal/canonical"
)

// TaskType classifies the kind of work the last user message is asking for.
type TaskType string

const (
	TaskCode     TaskType = "code"
	TaskDebug    TaskType = "debug"
	TaskRefactor TaskType = "refactor"
	TaskTest     TaskType = "test"
	TaskReview   TaskType = "review"
	TaskExplain  TaskType = "explain"
	TaskGeneral  TaskType = "general"
)

// Complexity buckets the conversation by shape.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Analysis is the result of examining the last user message and the
// surrounding conversation, per §4.F step 1.
type Analysis struct {
	TaskType   TaskType
	Complexity Complexity
	Keywords   []string
	Entities   []string
}

// taskKeywords is checked in order; the first category with a match wins.
var taskKeywords = []struct {
	taskType TaskType
	words    []string
}{
	{TaskDebug, []string{"debug", "bug", "error", "exception", "crash", "stack trace", "traceback"}},
	{TaskRefactor, []string{"refactor", "restructure", "clean up", "cleanup", "simplify"}},
	{TaskTest, []string{"test", "unit test", "spec", "coverage", "assertion"}},
	{TaskReview, []string{"review", "pr", "pull request", "code review"}},
	{TaskExplain, []string{"explain", "what does", "how does", "walk me through", "understand"}},
	{TaskCode, []string{"implement", "write", "add", "build", "create", "function", "code"}},
}

var stopwords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"about": true, "would": true, "could": true, "should": true, "there": true,
	"their": true, "which": true, "where": true, "when": true, "what": true,
	"your": true, "will": true, "they": true, "been": true, "into": true,
}

var (
	filePathRe = regexp.MustCompile(`\b[\w./-]+\.[A-Za-z]{1,8}\b`)
	camelCaseRe = regexp.MustCompile(`\b[A-Z][a-z0-9]+(?:[A-Z][a-zA-Z0-9]*)+\b`)
)

func lastUserText(messages []canonical.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != canonical.RoleUser {
			continue
		}
		var b strings.Builder
		for _, p := range messages[i].Content.AsParts() {
			if p.Type == canonical.PartText {
				b.WriteString(p.Text)
			}
		}
		return b.String()
	}
	return ""
}

func classifyTaskType(text string) TaskType {
	lower := strings.ToLower(text)
	for _, entry := range taskKeywords {
		for _, w := range entry.words {
			if strings.Contains(lower, w) {
				return entry.taskType
			}
		}
	}
	return TaskGeneral
}

func longestMessageLen(messages []canonical.Message) int {
	longest := 0
	for _, m := range messages {
		n := 0
		for _, p := range m.Content.AsParts() {
			if p.Type == canonical.PartText {
				n += len(p.Text)
			}
		}
		if n > longest {
			longest = n
		}
	}
	return longest
}

func classifyComplexity(messages []canonical.Message) Complexity {
	longest := longestMessageLen(messages)
	switch {
	case longest > 500:
		return ComplexityComplex
	case longest >= 500 || len(messages) >= 4:
		return ComplexityModerate
	default:
		return ComplexitySimple
	}
}

func extractKeywords(text string) []string {
	lower := strings.ToLower(text)
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	seen := make(map[string]bool)
	var out []string
	for _, f := range fields {
		if len(f) < 4 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func extractEntities(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range filePathRe.FindAllString(text, -1) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	for _, m := range camelCaseRe.FindAllString(text, -1) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// Analyze runs the full §4.F step-1 analysis over a conversation.
func Analyze(messages []canonical.Message) Analysis {
	text := lastUserText(messages)
	return Analysis{
		TaskType:   classifyTaskType(text),
		Complexity: classifyComplexity(messages),
		Keywords:   extractKeywords(text),
		Entities:   extractEntities(text),
	}
}
