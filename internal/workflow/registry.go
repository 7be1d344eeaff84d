package workflow

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

const (
	EntitySale     = "sale"
	EntityDispatch = "dispatch"
)

//go:embed defaults.yaml
var defaultDefinitions []byte

type file struct {
	Workflows []Definition `yaml:"workflows"`
}

// Registry holds validated definitions keyed by entity. It is built once at
// startup and never mutated afterwards.
type Registry struct {
	defs map[string]*Definition
}

// LoadRegistry reads definitions from path, or the embedded defaults when
// path is empty.
func LoadRegistry(path string) (*Registry, error) {
	raw := defaultDefinitions
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read workflows: %w", err)
		}
		raw = b
	}
	return ParseRegistry(raw)
}

func ParseRegistry(raw []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse workflows: %w", err)
	}
	if len(f.Workflows) == 0 {
		return nil, fmt.Errorf("parse workflows: no definitions")
	}

	reg := &Registry{defs: make(map[string]*Definition, len(f.Workflows))}
	for i := range f.Workflows {
		d := f.Workflows[i]
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := reg.defs[d.Entity]; dup {
			return nil, fmt.Errorf("workflow %s: defined twice", d.Entity)
		}
		reg.defs[d.Entity] = &d
	}
	return reg, nil
}

// MustDefaults returns the embedded definitions and panics if they are invalid.
func MustDefaults() *Registry {
	reg, err := ParseRegistry(defaultDefinitions)
	if err != nil {
		panic(err)
	}
	return reg
}

func (r *Registry) Get(entity string) (*Definition, error) {
	d, ok := r.defs[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	return d, nil
}

func (r *Registry) Entities() []string {
	out := make([]string, 0, len(r.defs))
	for k := range r.defs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
