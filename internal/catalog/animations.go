// Package catalog holds the read-only reference data the avatar runs on:
// the set of animation clip names and the skit collection.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyCatalog   = errors.New("animation catalog is empty")
	ErrDefaultMissing = errors.New("default animation not in catalog")
)

//go:embed animations.yaml
var defaultAnimationsYAML []byte

// Animations is an ordered, deduplicated set of clip names with a default
// idle entry. It is immutable after construction.
type Animations struct {
	names []string
	index map[string]int
	def   string
}

type animationsFile struct {
	Default    string   `yaml:"default"`
	Animations []string `yaml:"animations"`
}

// NewAnimations builds a catalog from names, keeping the first occurrence of
// each name. Blank names are skipped. An empty def selects the first name.
func NewAnimations(names []string, def string) (*Animations, error) {
	a := &Animations{
		names: make([]string, 0, len(names)),
		index: make(map[string]int, len(names)),
	}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := a.index[name]; dup {
			continue
		}
		a.index[name] = len(a.names)
		a.names = append(a.names, name)
	}

	if len(a.names) == 0 {
		return nil, ErrEmptyCatalog
	}

	if def == "" {
		def = a.names[0]
	}
	if _, ok := a.index[def]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrDefaultMissing, def)
	}
	a.def = def

	return a, nil
}

// ParseAnimations decodes a YAML catalog document.
func ParseAnimations(data []byte) (*Animations, error) {
	var f animationsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse animation catalog: %w", err)
	}
	return NewAnimations(f.Animations, f.Default)
}

// DefaultAnimations returns the embedded catalog.
func DefaultAnimations() *Animations {
	a, err := ParseAnimations(defaultAnimationsYAML)
	if err != nil {
		panic(err)
	}
	return a
}

// Names returns the clip names in catalog order.
func (a *Animations) Names() []string {
	out := make([]string, len(a.names))
	copy(out, a.names)
	return out
}

// Default returns the default idle clip name.
func (a *Animations) Default() string {
	return a.def
}

// Len returns the number of clips in the catalog.
func (a *Animations) Len() int {
	return len(a.names)
}

// Contains reports whether name is in the catalog. Matching is case-sensitive.
func (a *Animations) Contains(name string) bool {
	_, ok := a.index[name]
	return ok
}

// Resolve returns name when it is in the catalog, otherwise the default
// entry and false. An empty name resolves to the default with ok=true.
func (a *Animations) Resolve(name string) (resolved string, ok bool) {
	if name == "" {
		return a.def, true
	}
	if a.Contains(name) {
		return name, true
	}
	return a.def, false
}
