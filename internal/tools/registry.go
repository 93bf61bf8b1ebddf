package tools

import "fmt"

// Registry is an ordered collection of tools keyed by unique name.
type Registry struct {
	tools  []Tool
	byName map[string]int
}

// NewRegistry builds a registry in the given order and rejects duplicates.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools:  make([]Tool, 0, len(tools)),
		byName: make(map[string]int, len(tools)),
	}
	for i, tool := range tools {
		if tool.name == "" {
			return nil, fmt.Errorf("tools[%d].name is required", i)
		}
		if _, exists := r.byName[tool.name]; exists {
			return nil, fmt.Errorf("duplicate tool name: %s", tool.name)
		}
		r.byName[tool.name] = len(r.tools)
		r.tools = append(r.tools, tool)
	}
	return r, nil
}

// Lookup finds a tool by exact name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return Tool{}, false
	}
	return r.tools[idx], true
}

// List returns descriptors in registry order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool.Descriptor())
	}
	return out
}

// Tools returns a copy of the tools in registry order.
func (r *Registry) Tools() []Tool {
	return append([]Tool(nil), r.tools...)
}

// Len returns the number of tools.
func (r *Registry) Len() int {
	return len(r.tools)
}
