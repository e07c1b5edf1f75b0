package context

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tokenwindow "github.com/graphbot-ai/graphbot/internal/context"
	"github.com/graphbot-ai/graphbot/internal/store"
	"github.com/graphbot-ai/graphbot/pkg/models"
)

// Layer names the Context Builder's eight ordered sections. Values match
// the strings internal/rbac's role documents use to gate visibility.
type Layer string

const (
	LayerIdentity       Layer = "identity"
	LayerRuntime        Layer = "runtime"
	LayerRole           Layer = "role"
	LayerAgentMemory    Layer = "agent_memory"
	LayerUserContext    Layer = "user_context"
	LayerEvents         Layer = "events"
	LayerSessionSummary Layer = "session_summary"
	LayerSkills         Layer = "skills"
)

// orderedLayers is the Context Builder's fixed assembly order.
var orderedLayers = []Layer{
	LayerIdentity, LayerRuntime, LayerRole, LayerAgentMemory,
	LayerUserContext, LayerEvents, LayerSessionSummary, LayerSkills,
}

// DefaultBudgets holds each layer's token budget, taken verbatim from the
// documented per-layer limits (skills carries its own ~200 token index on
// top of the 1000 token budget for the full catalog text).
func DefaultBudgets() map[Layer]int {
	return map[Layer]int{
		LayerIdentity:       500,
		LayerRuntime:        100,
		LayerRole:           100,
		LayerAgentMemory:    500,
		LayerUserContext:    1500,
		LayerEvents:         300,
		LayerSessionSummary: 500,
		LayerSkills:         1000,
	}
}

// Identity carries the assistant's persona into the identity layer,
// without pulling internal/agent's Identity type into this package (that
// would create an import cycle once internal/agent imports this builder).
type Identity struct {
	Name     string
	Emoji    string
	Theme    string
	Creature string
	Vibe     string
	Avatar   string
}

// RoleAccess resolves the tool/context permissions for a role; satisfied
// by *rbac.Permissions without an import cycle back into internal/rbac.
type RoleAccess interface {
	AllowedContextLayers(role models.AccessRole) map[string]bool
}

// SkillsIndex renders the current tool catalog as short descriptive
// lines for the skills layer.
type SkillsIndex interface {
	Names() []string
	Describe(name string) string
}

// EventsSource drains a user's undelivered SystemEvents for the events
// layer, marking them delivered as they're rendered; satisfied by
// *events.Bus.
type EventsSource interface {
	DrainForContext(ctx context.Context, userID string) ([]*models.SystemEvent, error)
}

// Config configures one Builder instance; one Builder is constructed at
// startup and reused across turns.
type Config struct {
	Identity  Identity
	Budgets   map[Layer]int
	Skills    SkillsIndex
	Events    EventsSource
	OwnerName string
}

// Builder assembles the eight-layer system prompt per turn, scoping each
// layer's content to the caller's role and per-layer token budget.
type Builder struct {
	store  store.Store
	access RoleAccess
	cfg    Config
}

func NewBuilder(st store.Store, access RoleAccess, cfg Config) *Builder {
	if cfg.Budgets == nil {
		cfg.Budgets = DefaultBudgets()
	}
	return &Builder{store: st, access: access, cfg: cfg}
}

// Build renders the ordered, role-filtered, budget-truncated layers into
// a single system prompt string for the Agent Graph's reason node.
func (b *Builder) Build(ctx context.Context, user *models.User, session *models.Session) (string, error) {
	allowed := b.access.AllowedContextLayers(user.Role)

	var sections []string
	for _, layer := range orderedLayers {
		if !allowed[string(layer)] {
			continue
		}
		text, err := b.renderLayer(ctx, layer, user, session)
		if err != nil {
			return "", fmt.Errorf("context: render %s layer: %w", layer, err)
		}
		if text == "" {
			continue
		}
		budget := b.cfg.Budgets[layer]
		text = truncateToBudget(text, budget)
		sections = append(sections, text)
	}
	return strings.Join(sections, "\n\n"), nil
}

func (b *Builder) renderLayer(ctx context.Context, layer Layer, user *models.User, session *models.Session) (string, error) {
	switch layer {
	case LayerIdentity:
		return b.renderIdentity(), nil
	case LayerRuntime:
		return b.renderRuntime(session), nil
	case LayerRole:
		return fmt.Sprintf("## Role\nYou are speaking with %s, access role: %s.", user.ID, user.Role), nil
	case LayerAgentMemory:
		return b.renderAgentMemory(ctx)
	case LayerUserContext:
		return b.renderUserContext(ctx, user.ID)
	case LayerEvents:
		return b.renderEvents(ctx, user.ID)
	case LayerSessionSummary:
		return b.renderSessionSummary(ctx, user.ID, session)
	case LayerSkills:
		return b.renderSkills(), nil
	default:
		return "", nil
	}
}

func (b *Builder) renderIdentity() string {
	id := b.cfg.Identity
	if id.Name == "" {
		id.Name = "GraphBot"
	}
	var b2 strings.Builder
	b2.WriteString("## Identity\n")
	fmt.Fprintf(&b2, "Name: %s\n", id.Name)
	if id.Creature != "" {
		fmt.Fprintf(&b2, "Type: %s\n", id.Creature)
	}
	if id.Vibe != "" {
		fmt.Fprintf(&b2, "Personality: %s\n", id.Vibe)
	}
	if id.Emoji != "" {
		fmt.Fprintf(&b2, "Signature: %s\n", id.Emoji)
	}
	return b2.String()
}

func (b *Builder) renderRuntime(session *models.Session) string {
	var b2 strings.Builder
	b2.WriteString("## Runtime\n")
	if session != nil {
		fmt.Fprintf(&b2, "channel: %s\n", session.Channel)
		fmt.Fprintf(&b2, "session_started_at: %s\n", session.StartedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	if b.cfg.OwnerName != "" {
		fmt.Fprintf(&b2, "owner: %s\n", b.cfg.OwnerName)
	}
	return b2.String()
}

func (b *Builder) renderAgentMemory(ctx context.Context) (string, error) {
	mem, err := b.store.GetAgentMemory(ctx, "long_term")
	if err != nil {
		if err == store.ErrNotFound {
			return "", nil
		}
		return "", err
	}
	return "## Long-term memory\n" + mem.Value, nil
}

func (b *Builder) renderUserContext(ctx context.Context, userID string) (string, error) {
	notes, err := b.store.ListUserNotes(ctx, userID, 20)
	if err != nil {
		return "", err
	}
	prefs, err := b.store.ListPreferences(ctx, userID)
	if err != nil {
		return "", err
	}
	favs, err := b.store.ListFavorites(ctx, userID, 10)
	if err != nil {
		return "", err
	}
	acts, err := b.store.ListActivity(ctx, userID, 10)
	if err != nil {
		return "", err
	}
	if len(notes)+len(prefs)+len(favs)+len(acts) == 0 {
		return "", nil
	}

	var b2 strings.Builder
	b2.WriteString("## User context\n")
	if len(notes) > 0 {
		b2.WriteString("Notes:\n")
		for _, n := range notes {
			fmt.Fprintf(&b2, "- %s\n", n.Content)
		}
	}
	if len(prefs) > 0 {
		b2.WriteString("Preferences:\n")
		for _, p := range prefs {
			fmt.Fprintf(&b2, "- %s: %s\n", p.Key, p.Value)
		}
	}
	if len(favs) > 0 {
		b2.WriteString("Favorites:\n")
		for _, f := range favs {
			fmt.Fprintf(&b2, "- %s\n", f.Title)
		}
	}
	if len(acts) > 0 {
		b2.WriteString("Recent activity:\n")
		for _, a := range acts {
			fmt.Fprintf(&b2, "- %s %s\n", a.Action, a.Detail)
		}
	}
	return b2.String(), nil
}

func (b *Builder) renderEvents(ctx context.Context, userID string) (string, error) {
	if b.cfg.Events == nil {
		return "", nil
	}
	events, err := b.cfg.Events.DrainForContext(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return "", nil
	}
	var b2 strings.Builder
	b2.WriteString("## Pending events\n")
	for _, e := range events {
		fmt.Fprintf(&b2, "- [%s] %v\n", e.Kind, e.Payload)
	}
	return b2.String(), nil
}

func (b *Builder) renderSessionSummary(ctx context.Context, userID string, session *models.Session) (string, error) {
	if session != nil && session.Summary != nil && *session.Summary != "" {
		return "## Previous session summary\n" + *session.Summary, nil
	}
	return "", nil
}

func (b *Builder) renderSkills() string {
	if b.cfg.Skills == nil {
		return ""
	}
	names := append([]string{}, b.cfg.Skills.Names()...)
	sort.Strings(names)
	if len(names) == 0 {
		return ""
	}
	var b2 strings.Builder
	b2.WriteString("## Available skills\n")
	for _, n := range names {
		fmt.Fprintf(&b2, "- %s: %s\n", n, b.cfg.Skills.Describe(n))
	}
	return b2.String()
}

// truncateToBudget trims text to fit budgetTokens, measured with the
// same EstimateTokens heuristic the Truncator uses for message history.
// A layer is a single blob rather than a message list, so there's no
// oldest/newest message to drop; instead it trims from the tail, since
// every renderLayer method already writes its most important content
// first.
func truncateToBudget(text string, budgetTokens int) string {
	if budgetTokens <= 0 || tokenwindow.EstimateTokens(text) <= budgetTokens {
		return text
	}
	maxChars := int(float64(budgetTokens) / tokenwindow.TokensPerChar)
	runes := []rune(text)
	if maxChars >= len(runes) {
		return text
	}
	if maxChars < 0 {
		maxChars = 0
	}
	return string(runes[:maxChars]) + "\n…(truncated)"
}
