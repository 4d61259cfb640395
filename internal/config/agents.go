package config

import (
	"fmt"
	"sort"
)

// AgentDefinition holds per-agent request defaults
type AgentDefinition struct {
	Slug        string `json:"slug"` // dispatcher identifier; defaults to the map key
	DisplayName string `json:"displayName"`
	LLMConfigID string `json:"llmConfigId,omitempty"`
	ContextType string `json:"contextType,omitempty"`
}

// AgentRegistry holds agent definitions keyed by shorthand name
type AgentRegistry struct {
	Agents  map[string]AgentDefinition `json:"agents"`
	Default string                     `json:"default"`
}

// AgentInfo is the listable view of an agent
type AgentInfo struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	DisplayName string `json:"displayName"`
	IsDefault   bool   `json:"is_default,omitempty"`
}

// Get returns an agent definition by shorthand name
func (r *AgentRegistry) Get(name string) (AgentDefinition, bool) {
	def, ok := r.Agents[name]
	if ok && def.Slug == "" {
		def.Slug = name
	}
	return def, ok
}

// Resolve maps a shorthand name to its definition. An empty name selects
// the default agent. Names not in the registry are passed through as slugs.
func (r *AgentRegistry) Resolve(name string) (AgentDefinition, error) {
	if name == "" {
		name = r.Default
	}
	if name == "" {
		return AgentDefinition{}, fmt.Errorf("no agent given and agents.default is not set")
	}
	if def, ok := r.Get(name); ok {
		return def, nil
	}
	return AgentDefinition{Slug: name}, nil
}

// List returns all agents sorted by name
func (r *AgentRegistry) List() []AgentInfo {
	agents := make([]AgentInfo, 0, len(r.Agents))
	for name := range r.Agents {
		def, _ := r.Get(name)
		agents = append(agents, AgentInfo{
			Name:        name,
			Slug:        def.Slug,
			DisplayName: def.DisplayName,
			IsDefault:   name == r.Default,
		})
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agents
}

// Validate checks that the default agent, if set, is defined
func (r *AgentRegistry) Validate() error {
	if r.Default == "" {
		return nil
	}
	if _, ok := r.Agents[r.Default]; !ok {
		return fmt.Errorf("agents.default %q is not defined in agents.agents", r.Default)
	}
	return nil
}
