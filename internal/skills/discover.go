package skills

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// SkillFilename is the expected filename for a directory-discovered
// skill definition, in the same shape as the established SKILL.md convention.
const SkillFilename = "SKILL.md"

const frontmatterDelimiter = "---"

// definition is the YAML frontmatter shape of a SKILL.md file.
type definition struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Trigger     string `yaml:"trigger"`
	TriggerKind string `yaml:"trigger_kind"`
}

// DiscoverDir walks root for SKILL.md files and registers one skill per
// file found. A skill's body becomes its static output template: the
// handler returns the frontmatter-stripped markdown body verbatim, with
// the trigger-stripped input carried in Result.Data["input"] so a
// template-aware caller can interpolate it. Follows the established
// internal/skills/parser.go frontmatter-splitting routine, adapted from
// the established dedicated SkillEntry type to this package's existing
// Skill/Trigger/Handler shape.
func (m *Manager) DiscoverDir(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != SkillFilename {
			return nil
		}
		skill, err := parseSkillFile(path)
		if err != nil {
			m.logger.Warn("failed to parse skill file", "path", path, "error", err)
			return nil
		}
		m.Register(skill)
		return nil
	})
}

func parseSkillFile(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill file: %w", err)
	}
	frontmatter, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("split frontmatter: %w", err)
	}

	var def definition
	if err := yaml.Unmarshal(frontmatter, &def); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if def.Name == "" {
		return nil, fmt.Errorf("skill name is required")
	}
	if def.Trigger == "" {
		return nil, fmt.Errorf("skill %s: trigger is required", def.Name)
	}

	trigger, err := buildTrigger(def)
	if err != nil {
		return nil, fmt.Errorf("skill %s: %w", def.Name, err)
	}

	content := strings.TrimSpace(string(body))
	return &Skill{
		Name:    def.Name,
		Trigger: trigger,
		Handler: func(_ context.Context, input string) (Result, error) {
			return Result{Output: content, Data: map[string]any{"input": input}}, nil
		},
	}, nil
}

func buildTrigger(def definition) (Trigger, error) {
	switch def.TriggerKind {
	case "", string(TriggerPrefix):
		return NewPrefixTrigger(def.Trigger), nil
	case string(TriggerRegex):
		re, err := regexp.Compile(def.Trigger)
		if err != nil {
			return Trigger{}, fmt.Errorf("compile trigger regex: %w", err)
		}
		return NewRegexTrigger(re), nil
	default:
		return Trigger{}, fmt.Errorf("unknown trigger_kind %q", def.TriggerKind)
	}
}

// splitFrontmatter separates leading "---" delimited YAML frontmatter
// from the remaining markdown body.
func splitFrontmatter(data []byte) (frontmatter, body []byte, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	if !scanner.Scan() {
		return nil, nil, fmt.Errorf("empty file")
	}
	if strings.TrimSpace(scanner.Text()) != frontmatterDelimiter {
		return nil, nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	var fmLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == frontmatterDelimiter {
			closed = true
			break
		}
		fmLines = append(fmLines, line)
	}
	if !closed {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}

	return []byte(strings.Join(fmLines, "\n")), []byte(strings.Join(bodyLines, "\n")), nil
}
