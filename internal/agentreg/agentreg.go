// Package agentreg holds named agent definitions: a role bundling a
// system-prompt addendum, an allowed-tool set, an optional delegation
// whitelist, and a preferred model. Definitions
// are data, loaded from YAML config, so new roles need no code change.
package agentreg

import (
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Mode selects the tool surface an agent exposes to the model: build
// mode offers the full allowlist, plan mode restricts it to read-only
// tools.
type Mode string

const (
	ModeBuild Mode = "build"
	ModePlan  Mode = "plan"
)

// Definition describes one named agent role.
type Definition struct {
	Name string `yaml:"name"`

	// SystemPrompt is appended to the base system prompt when this agent
	// drives a turn.
	SystemPrompt string `yaml:"system_prompt,omitempty"`

	// Tools is the allowlist of tool names this agent may call. Empty means
	// every registered tool.
	Tools []string `yaml:"tools,omitempty"`

	// CanDelegateToAgents names the subagents this agent's task tool may
	// spawn. A subagent not listed here is refused.
	CanDelegateToAgents []string `yaml:"can_delegate_to_agents,omitempty"`

	// Model is the preferred model identifier; empty falls through to the
	// provider's default.
	Model string `yaml:"model,omitempty"`

	// PlanModel optionally remaps the model when the session is in plan
	// mode.
	PlanModel string `yaml:"plan_model,omitempty"`
}

// ResolveModel returns the model identifier for the given mode.
func (d Definition) ResolveModel(mode Mode) string {
	if mode == ModePlan && d.PlanModel != "" {
		return d.PlanModel
	}
	return d.Model
}

// AllowsTool reports whether the agent may call the named tool.
func (d Definition) AllowsTool(name string) bool {
	if len(d.Tools) == 0 {
		return true
	}
	for _, t := range d.Tools {
		if t == name {
			return true
		}
	}
	return false
}

// CanDelegateTo reports whether the agent may spawn the named subagent.
func (d Definition) CanDelegateTo(name string) bool {
	for _, a := range d.CanDelegateToAgents {
		if a == name {
			return true
		}
	}
	return false
}

// ErrUnknownAgent is returned by Registry.Lookup for unregistered names.
var ErrUnknownAgent = fmt.Errorf("agentreg: unknown agent")

// Registry is a read-mostly, process-wide name -> Definition map, RW-locked
// like the tool registry.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Definition
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Definition)}
}

// Register adds or replaces an agent definition.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("agentreg: agent name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[def.Name] = def
	return nil
}

// Lookup resolves an agent by name.
func (r *Registry) Lookup(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.agents[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return def, nil
}

// Names returns every registered agent name, in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for name := range r.agents {
		out = append(out, name)
	}
	return out
}

// configFile is the YAML document shape LoadYAML decodes.
type configFile struct {
	Agents []Definition `yaml:"agents"`
}

// LoadYAML reads agent definitions from a YAML document and registers each.
func (r *Registry) LoadYAML(src io.Reader) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("agentreg: read config: %w", err)
	}
	var cfg configFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("agentreg: parse config: %w", err)
	}
	for _, def := range cfg.Agents {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile reads agent definitions from the YAML file at path.
func (r *Registry) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("agentreg: open config: %w", err)
	}
	defer f.Close()
	return r.LoadYAML(f)
}
