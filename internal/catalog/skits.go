package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrSkitNotFound = errors.New("skit not found")

//go:embed skits.yaml
var defaultSkitsYAML []byte

// Skit pairs one or more animation names with voice lines.
type Skit struct {
	Name       string   `yaml:"name" json:"name"`
	Animations []string `yaml:"animations" json:"animations"`
	Lines      []string `yaml:"lines" json:"lines"`
}

// Script joins the voice lines into a single utterance.
func (s Skit) Script() string {
	return strings.Join(s.Lines, " ")
}

// Category is a named, ordered group of skits.
type Category struct {
	Name  string `yaml:"name" json:"name"`
	Skits []Skit `yaml:"skits" json:"skits"`
}

// Skits is the read-only skit collection.
type Skits struct {
	categories []Category
}

type skitsFile struct {
	Categories []Category `yaml:"categories"`
}

// ParseSkits decodes a skit document and checks every animation against anims.
// A nil anims skips the check.
func ParseSkits(data []byte, anims *Animations) (*Skits, error) {
	var f skitsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse skits: %w", err)
	}

	seen := make(map[string]bool, len(f.Categories))
	for _, c := range f.Categories {
		if c.Name == "" {
			return nil, errors.New("skit category without a name")
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate skit category %q", c.Name)
		}
		seen[c.Name] = true

		for i, s := range c.Skits {
			if len(s.Animations) == 0 {
				return nil, fmt.Errorf("skit %s[%d] has no animations", c.Name, i)
			}
			if len(s.Lines) == 0 {
				return nil, fmt.Errorf("skit %s[%d] has no lines", c.Name, i)
			}
			if anims == nil {
				continue
			}
			for _, a := range s.Animations {
				if !anims.Contains(a) {
					return nil, fmt.Errorf("skit %s[%d]: animation %q not in catalog", c.Name, i, a)
				}
			}
		}
	}

	return &Skits{categories: f.Categories}, nil
}

// DefaultSkits returns the embedded skit collection validated against anims.
func DefaultSkits(anims *Animations) (*Skits, error) {
	return ParseSkits(defaultSkitsYAML, anims)
}

// Categories returns a deep copy of the categories in order.
func (s *Skits) Categories() []Category {
	out := make([]Category, len(s.categories))
	for i, c := range s.categories {
		out[i] = Category{Name: c.Name, Skits: make([]Skit, len(c.Skits))}
		for j, sk := range c.Skits {
			out[i].Skits[j] = Skit{
				Name:       sk.Name,
				Animations: append([]string(nil), sk.Animations...),
				Lines:      append([]string(nil), sk.Lines...),
			}
		}
	}
	return out
}

// Get returns the skit at index within category.
func (s *Skits) Get(category string, index int) (Skit, error) {
	for _, c := range s.categories {
		if c.Name != category {
			continue
		}
		if index < 0 || index >= len(c.Skits) {
			return Skit{}, fmt.Errorf("%w: %s[%d]", ErrSkitNotFound, category, index)
		}
		sk := c.Skits[index]
		return Skit{
			Name:       sk.Name,
			Animations: append([]string(nil), sk.Animations...),
			Lines:      append([]string(nil), sk.Lines...),
		}, nil
	}
	return Skit{}, fmt.Errorf("%w: unknown category %q", ErrSkitNotFound, category)
}
