package chat

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed skills/*.yaml
var builtinSkills embed.FS

// SkillParam is one parameter of a skill
type SkillParam struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Enum        []string `yaml:"enum,omitempty"`
	Examples    []string `yaml:"examples,omitempty"`
}

// Skill is a structured action the assistant may request
type Skill struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Triggers    []string     `yaml:"triggers"`
	Parameters  []SkillParam `yaml:"parameters"`
}

// Registry holds the available skills
type Registry struct {
	skills []Skill
}

// LoadRegistry loads the built-in skills and then any *.yaml files in dir.
// A file in dir replaces the built-in skill with the same id.
func LoadRegistry(dir string) (*Registry, error) {
	byID := make(map[string]Skill)

	entries, err := fs.Glob(builtinSkills, "skills/*.yaml")
	if err != nil {
		return nil, err
	}
	for _, name := range entries {
		data, err := builtinSkills.ReadFile(name)
		if err != nil {
			return nil, err
		}
		s, err := parseSkill(data)
		if err != nil {
			return nil, fmt.Errorf("skill %s: %w", name, err)
		}
		byID[s.ID] = s
	}

	if dir != "" {
		files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
		if err != nil {
			return nil, err
		}
		for _, name := range files {
			data, err := os.ReadFile(name)
			if err != nil {
				return nil, fmt.Errorf("read skill %s: %w", name, err)
			}
			s, err := parseSkill(data)
			if err != nil {
				return nil, fmt.Errorf("skill %s: %w", name, err)
			}
			byID[s.ID] = s
		}
	}

	r := &Registry{skills: make([]Skill, 0, len(byID))}
	for _, s := range byID {
		r.skills = append(r.skills, s)
	}
	sort.Slice(r.skills, func(i, j int) bool { return r.skills[i].ID < r.skills[j].ID })
	return r, nil
}

func parseSkill(data []byte) (Skill, error) {
	var s Skill
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, err
	}
	if s.ID == "" {
		return s, fmt.Errorf("missing id")
	}
	if s.Name == "" {
		s.Name = s.ID
	}
	return s, nil
}

// Skills returns the loaded skills ordered by id
func (r *Registry) Skills() []Skill {
	if r == nil {
		return nil
	}
	return r.skills
}

// Prompt renders the skills catalog for the system prompt
func (r *Registry) Prompt() string {
	if r == nil || len(r.skills) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## 可用系统操作\n")
	b.WriteString("当用户明确要求执行下列操作时，在回复末尾附上一个 action 指令块。\n\n")

	for _, s := range r.skills {
		fmt.Fprintf(&b, "### %s\n", s.Name)
		fmt.Fprintf(&b, "- 说明：%s\n", s.Description)
		if len(s.Triggers) > 0 {
			fmt.Fprintf(&b, "- 触发词：%s\n", strings.Join(s.Triggers, "、"))
		}

		example := make(map[string]string, len(s.Parameters))
		if len(s.Parameters) > 0 {
			b.WriteString("- 参数：\n")
		}
		for _, p := range s.Parameters {
			fmt.Fprintf(&b, "  - `%s`: %s", p.Name, p.Description)
			if len(p.Enum) > 0 {
				fmt.Fprintf(&b, "（可选值：%s）", strings.Join(p.Enum, ", "))
			}
			b.WriteString("\n")

			switch {
			case len(p.Enum) > 0:
				example[p.Name] = p.Enum[0]
			case len(p.Examples) > 0:
				example[p.Name] = p.Examples[0]
			default:
				example[p.Name] = "<value>"
			}
		}

		block, _ := json.MarshalIndent(map[string]any{"action": s.ID, "params": example}, "", "  ")
		b.WriteString("- 返回格式：\n```action\n")
		b.Write(block)
		b.WriteString("\n```\n\n")
	}

	b.WriteString("执行规则：\n")
	b.WriteString("1. 仅在用户意图明确时生成 action 块。\n")
	b.WriteString("2. action 块放在回复的最末尾，使用 ```action ... ``` 包裹 JSON。\n")
	b.WriteString("3. 正文中用自然语言告知用户正在执行的操作。\n")
	return b.String()
}
