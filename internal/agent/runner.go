package agent

import (
	"context"
	"fmt"

	"github.com/graphbot-ai/graphbot/internal/rbac"
	"github.com/graphbot-ai/graphbot/internal/store"
	"github.com/graphbot-ai/graphbot/pkg/models"
)

// rotateSessionMessageLimit bounds how much history rotate_session reads
// back for summarization and fact extraction.
const rotateSessionMessageLimit = 50

// GraphRunnerConfig configures the per-session token budget a GraphRunner
// enforces after every turn.
type GraphRunnerConfig struct {
	SessionTokenLimit int // default 30000, per assistant.session_token_limit
}

// GraphRunner is the entry point every inbound channel message goes
// through: it resolves identity and session state around the stateless
// Graph, and owns session rotation when a session's token budget is
// exhausted.
type GraphRunner struct {
	store    store.Store
	perms    *rbac.Permissions
	graph    *Graph
	provider ChatProvider
	cfg      GraphRunnerConfig
}

func NewGraphRunner(st store.Store, perms *rbac.Permissions, graph *Graph, provider ChatProvider, cfg GraphRunnerConfig) *GraphRunner {
	if cfg.SessionTokenLimit <= 0 {
		cfg.SessionTokenLimit = 30000
	}
	return &GraphRunner{store: st, perms: perms, graph: graph, provider: provider, cfg: cfg}
}

// Process runs one inbound message through the full turn lifecycle:
// resolve user, open or resume a session, build the transcript, run the
// graph, persist the reply, and rotate the session if its token budget is
// now exhausted. skipContext bypasses the Context Builder for callers
// (background dispatch) that already have a fully-formed prompt.
func (r *GraphRunner) Process(ctx context.Context, userID string, channel models.ChannelType, text string, skipContext bool) (reply string, sessionID string, err error) {
	user, err := r.store.GetOrCreateUser(ctx, userID)
	if err != nil {
		return "", "", fmt.Errorf("graphrunner: get user: %w", err)
	}

	session, err := r.getOrOpenSessionForChannel(ctx, user, channel)
	if err != nil {
		return "", "", fmt.Errorf("graphrunner: open session: %w", err)
	}

	inbound := &models.Message{
		SessionID: session.ID,
		Channel:   channel,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   text,
	}
	if err := r.store.AppendMessage(ctx, inbound); err != nil {
		return "", "", fmt.Errorf("graphrunner: append inbound message: %w", err)
	}

	history, err := r.buildHistory(ctx, session.ID, skipContext)
	if err != nil {
		return "", "", fmt.Errorf("graphrunner: build history: %w", err)
	}
	history = append(history, CompletionMessage{Role: "user", Content: text})

	result, err := r.graph.Run(ctx, user, session, history, channel)
	if err != nil {
		return "", session.ID, fmt.Errorf("graphrunner: run graph: %w", err)
	}

	outbound := &models.Message{
		SessionID: session.ID,
		Channel:   channel,
		Direction: models.DirectionOutbound,
		Role:      models.RoleAssistant,
		Content:   result.Reply,
	}
	if err := r.store.AppendMessage(ctx, outbound); err != nil {
		return "", "", fmt.Errorf("graphrunner: append outbound message: %w", err)
	}

	newTokenCount := session.TokenCount + result.InputTokens + result.OutputTokens
	if newTokenCount >= r.cfg.SessionTokenLimit {
		if err := r.rotateSession(ctx, session.ID, user.ID); err != nil {
			// Rotation failure must not lose the reply already produced.
			return result.Reply, session.ID, fmt.Errorf("graphrunner: rotate session: %w", err)
		}
	}

	return result.Reply, session.ID, nil
}

// getOrOpenSessionForChannel finds the user's open session on channel, or
// opens a new one, enforcing the role's max-open-sessions cap for guests.
func (r *GraphRunner) getOrOpenSessionForChannel(ctx context.Context, user *models.User, channel models.ChannelType) (*models.Session, error) {
	session, err := r.store.GetOpenSession(ctx, user.ID, channel)
	if err == nil {
		return session, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}

	if max := r.perms.MaxSessions(user.Role); max > 0 {
		n, err := r.store.CountOpenSessions(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		if n >= max {
			return nil, fmt.Errorf("graphrunner: %s role is capped at %d open session(s)", user.Role, max)
		}
	}
	return r.store.OpenSession(ctx, user.ID, channel)
}

func (r *GraphRunner) buildHistory(ctx context.Context, sessionID string, skipContext bool) ([]CompletionMessage, error) {
	if skipContext {
		return nil, nil
	}
	messages, err := r.store.RecentMessages(ctx, sessionID, rotateSessionMessageLimit)
	if err != nil {
		return nil, err
	}
	out := make([]CompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
		})
	}
	return out, nil
}

// rotateSession closes the current session once its token budget is
// exhausted: it summarizes recent history and extracts durable facts
// best-effort (neither failure aborts the close), persists the facts as
// user notes, and ends the session with close_reason "token_limit". A
// fresh session opens lazily on the user's next message.
func (r *GraphRunner) rotateSession(ctx context.Context, sessionID, userID string) error {
	messages, err := r.store.RecentMessages(ctx, sessionID, rotateSessionMessageLimit)
	if err != nil {
		return fmt.Errorf("rotate_session: load messages: %w", err)
	}

	var summaryPtr *string
	if summary, err := r.provider.Summarize(ctx, messages, 2000); err == nil && summary != "" {
		summaryPtr = &summary
	}

	if facts, err := r.provider.ExtractFacts(ctx, messages); err == nil {
		for _, fact := range facts {
			_ = r.store.AddUserNote(ctx, &models.UserNote{
				UserID:  userID,
				Content: fact,
				Source:  models.NoteSourceExtraction,
			})
		}
	}

	_, err = r.store.EndSession(ctx, sessionID, summaryPtr, models.CloseReasonTokenLimit)
	return err
}
