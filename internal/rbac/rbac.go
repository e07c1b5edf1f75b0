// Package rbac resolves a user's role into the tool names and context
// layers they may use. It re-keys internal/tools/policy's free-form
// profile/group model onto the fixed owner/member/guest role vocabulary
// spec.md's data model requires, and adds the context-layer and
// max-sessions axes the tool policy resolver has no notion of.
package rbac

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/graphbot-ai/graphbot/internal/tools/policy"
	"github.com/graphbot-ai/graphbot/pkg/models"
)

// RoleDef is one role entry in the role-definition document.
type RoleDef struct {
	ToolGroups    []string `yaml:"tool_groups"`
	ContextLayers []string `yaml:"context_layers"`
	MaxSessions   int      `yaml:"max_sessions"`
}

// Document is the on-disk role-definition file shape (spec §6's "Role file").
type Document struct {
	ToolGroups  map[string][]string `yaml:"tool_groups"`
	Roles       map[string]RoleDef  `yaml:"roles"`
	DefaultRole string              `yaml:"default_role"`
}

// ContextLayer names the Context Builder's ordered layers (see
// internal/agent/context.LayerName for the canonical list).
const (
	LayerIdentity       = "identity"
	LayerRuntime        = "runtime"
	LayerRole           = "role"
	LayerAgentMemory    = "agent_memory"
	LayerUserContext    = "user_context"
	LayerEvents         = "events"
	LayerSessionSummary = "session_summary"
	LayerSkills         = "skills"
)

// allLayers is the full layer set, used when the policy degrades open.
var allLayers = []string{
	LayerIdentity, LayerRuntime, LayerRole, LayerAgentMemory,
	LayerUserContext, LayerEvents, LayerSessionSummary, LayerSkills,
}

// Permissions resolves roles against a loaded (or absent) role document.
// An absent document degrades open: every role gets every tool and layer,
// matching spec §4.5's backward-compat fallback.
type Permissions struct {
	mu       sync.RWMutex
	doc      *Document
	resolver *policy.Resolver
	logger   *slog.Logger
}

// Load reads a role-definition YAML document from path. A missing file is
// not an error: Permissions simply operates in open-policy mode.
func Load(path string, logger *slog.Logger) (*Permissions, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Permissions{resolver: policy.NewResolver(), logger: logger}

	path = strings.TrimSpace(path)
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("read role file: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse role file: %w", err)
	}
	for name, tools := range doc.ToolGroups {
		p.resolver.AddGroup(name, tools)
	}
	p.doc = &doc
	return p, nil
}

// OpenPolicy reports whether no role document was loaded.
func (p *Permissions) OpenPolicy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.doc == nil
}

// resolveRole returns the role definition for name, falling back to the
// document's default_role, and reports whether a definition was found.
func (p *Permissions) resolveRole(role models.AccessRole) (RoleDef, bool) {
	if p.doc == nil {
		return RoleDef{}, false
	}
	if def, ok := p.doc.Roles[string(role)]; ok {
		return def, true
	}
	if p.doc.DefaultRole != "" {
		if def, ok := p.doc.Roles[p.doc.DefaultRole]; ok {
			return def, true
		}
	}
	return RoleDef{}, false
}

// AllowedTools returns the set of tool names role may use, resolved
// against registry's known tool names. Unknown group names are logged and
// skipped, not fatal.
func (p *Permissions) AllowedTools(role models.AccessRole, registry ToolNamer) map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := registry.Names()
	allowed := make(map[string]bool, len(names))

	def, ok := p.resolveRole(role)
	if !ok {
		for _, n := range names {
			allowed[n] = true
		}
		return allowed
	}

	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}

	for _, group := range def.ToolGroups {
		expanded := p.resolver.ExpandGroups([]string{group})
		matched := false
		for _, tool := range expanded {
			if known[tool] {
				allowed[tool] = true
				matched = true
			}
		}
		if !matched && len(expanded) == 0 {
			p.logger.Warn("rbac: unknown tool group skipped", "group", group, "role", role)
		}
	}
	return allowed
}

// AllowedContextLayers returns the set of Context Builder layers role may
// see. Degrades open to every layer when no role document is loaded.
func (p *Permissions) AllowedContextLayers(role models.AccessRole) map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	layers := make(map[string]bool, len(allLayers))
	def, ok := p.resolveRole(role)
	if !ok {
		for _, l := range allLayers {
			layers[l] = true
		}
		return layers
	}
	for _, l := range def.ContextLayers {
		layers[l] = true
	}
	return layers
}

// MaxSessions returns role's open-session cap, or 0 (unlimited) when
// unset or when the policy degrades open.
func (p *Permissions) MaxSessions(role models.AccessRole) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	def, ok := p.resolveRole(role)
	if !ok {
		return 0
	}
	return def.MaxSessions
}

// ToolNamer is the narrow slice of ToolRegistry's surface Permissions
// needs; satisfied by *agent.ToolRegistry without an import cycle back
// into internal/agent.
type ToolNamer interface {
	Names() []string
}
