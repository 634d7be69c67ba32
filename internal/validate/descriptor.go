package validate

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v2"
)

// MethodDescriptor is the structured configuration document describing an
// acquisition: which method runs and which vials each injection uses. It is
// parsed from YAML, not from console text.
type MethodDescriptor struct {
	Method     string      `yaml:"method"`
	Injections []Injection `yaml:"injections"`
}

// Injection names the vials one injection touches. A zero or negative id is
// the sentinel for an unused position.
type Injection struct {
	Inlet         int `yaml:"inlet"`
	Outlet        int `yaml:"outlet"`
	Replenishment int `yaml:"replenishment"`
}

// ParseMethodDescriptor parses a YAML method descriptor.
func ParseMethodDescriptor(data []byte) (*MethodDescriptor, error) {
	var desc MethodDescriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("failed to parse method descriptor: %w", err)
	}
	if desc.Method == "" {
		return nil, fmt.Errorf("method descriptor names no method")
	}
	return &desc, nil
}

// RequiredVials returns the sorted, de-duplicated set of vial ids the
// descriptor references, with unused-position sentinels filtered out.
func (d *MethodDescriptor) RequiredVials() []int {
	seen := make(map[int]bool)
	var vials []int

	add := func(id int) {
		if id <= 0 {
			return // sentinel: position unused
		}
		if !seen[id] {
			seen[id] = true
			vials = append(vials, id)
		}
	}

	for _, inj := range d.Injections {
		add(inj.Inlet)
		add(inj.Outlet)
		add(inj.Replenishment)
	}

	sort.Ints(vials)
	return vials
}

// ExtractRequiredVials parses a descriptor and returns its required vial
// set in one step.
func ExtractRequiredVials(data []byte) ([]int, error) {
	desc, err := ParseMethodDescriptor(data)
	if err != nil {
		return nil, err
	}
	return desc.RequiredVials(), nil
}
