// Package skills implements §4.K's trigger-matched user commands: a
// skill's trigger is a literal prefix or a regex, the first match in
// registration order wins, and execution runs under a default 30s
// timeout. Follows the established internal/skills manager (ordered
// registration, gating-by-config shape). Skills come from two sources:
// in-process registrations via Register, and SKILL.md files discovered
// on disk via DiscoverDir (see discover.go), which follows an
// established frontmatter-plus-markdown-body file format.
package skills

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

const defaultTimeout = 30 * time.Second

// TriggerKind selects how a Trigger matches input.
type TriggerKind string

const (
	TriggerPrefix TriggerKind = "prefix"
	TriggerRegex  TriggerKind = "regex"
)

// Trigger matches a skill against raw command input.
type Trigger struct {
	Kind    TriggerKind
	Literal string
	Regex   *regexp.Regexp
}

// NewPrefixTrigger builds a literal-prefix trigger.
func NewPrefixTrigger(prefix string) Trigger {
	return Trigger{Kind: TriggerPrefix, Literal: prefix}
}

// NewRegexTrigger builds a regex trigger.
func NewRegexTrigger(re *regexp.Regexp) Trigger {
	return Trigger{Kind: TriggerRegex, Regex: re}
}

// Match reports whether input matches the trigger and, for a prefix
// trigger, the remainder of input after the matched prefix.
func (t Trigger) Match(input string) (ok bool, rest string) {
	switch t.Kind {
	case TriggerPrefix:
		if strings.HasPrefix(input, t.Literal) {
			return true, strings.TrimSpace(strings.TrimPrefix(input, t.Literal))
		}
		return false, ""
	case TriggerRegex:
		if t.Regex != nil && t.Regex.MatchString(input) {
			return true, input
		}
		return false, ""
	default:
		return false, ""
	}
}

// Result is a skill's structured return value.
type Result struct {
	Output string
	Data   map[string]any
}

// Handler executes a matched skill against the (trigger-stripped) input.
type Handler func(ctx context.Context, input string) (Result, error)

// Skill is one registered command.
type Skill struct {
	Name    string
	Trigger Trigger
	Handler Handler
	Timeout time.Duration
}

// Manager holds skills in registration order and dispatches the first
// one whose trigger matches.
type Manager struct {
	mu     sync.RWMutex
	skills []*Skill
	logger *slog.Logger
}

// NewManager builds an empty skill manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger.With("component", "skills")}
}

// Register appends a skill, giving it the lowest-priority position
// among equally early triggers: the first-registered, first-matching
// skill always wins (§4.K).
func (m *Manager) Register(s *Skill) {
	if s.Timeout <= 0 {
		s.Timeout = defaultTimeout
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skills = append(m.skills, s)
}

// Match finds the first registered skill whose trigger matches input.
func (m *Manager) Match(input string) (*Skill, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.skills {
		if ok, rest := s.Trigger.Match(input); ok {
			return s, rest, true
		}
	}
	return nil, "", false
}

// List returns all registered skills in registration order.
func (m *Manager) List() []*Skill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Skill, len(m.skills))
	copy(out, m.skills)
	return out
}

// Run matches input against the registered skills and, if one matches,
// executes its handler under its timeout. found is false when no
// skill's trigger matched.
func (m *Manager) Run(ctx context.Context, input string) (result Result, found bool, err error) {
	skill, rest, ok := m.Match(input)
	if !ok {
		return Result{}, false, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, skill.Timeout)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("skill panic: %v", p)}
			}
		}()
		res, err := skill.Handler(runCtx, rest)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		return o.res, true, o.err
	case <-runCtx.Done():
		m.logger.Warn("skill timed out", "skill", skill.Name, "timeout", skill.Timeout)
		return Result{}, true, fmt.Errorf("skills: %s: %w", skill.Name, runCtx.Err())
	}
}
