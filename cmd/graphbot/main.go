// Package main provides the CLI entry point for GraphBot.
//
// GraphBot connects messaging platforms (Telegram, Discord, Slack,
// WhatsApp) to an LLM provider with tool execution, background
// delegation, and scheduled/recurring jobs.
//
// # Basic usage
//
//	graphbot serve --config graphbot.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/graphbot-ai/graphbot/internal/agent"
	agentcontext "github.com/graphbot-ai/graphbot/internal/agent/context"
	"github.com/graphbot-ai/graphbot/internal/agent/providers"
	"github.com/graphbot-ai/graphbot/internal/channels"
	"github.com/graphbot-ai/graphbot/internal/config"
	"github.com/graphbot-ai/graphbot/internal/cron"
	"github.com/graphbot-ai/graphbot/internal/delegation"
	"github.com/graphbot-ai/graphbot/internal/events"
	"github.com/graphbot-ai/graphbot/internal/rbac"
	"github.com/graphbot-ai/graphbot/internal/store"
	"github.com/graphbot-ai/graphbot/internal/tools/delegate"
	"github.com/graphbot-ai/graphbot/internal/tools/message"
	"github.com/graphbot-ai/graphbot/internal/worker"
	"github.com/graphbot-ai/graphbot/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "graphbot",
		Short:        "GraphBot - multi-channel AI assistant runtime",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var configPath string
	var dbPath string
	var rbacPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant runtime and all configured channel adapters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, dbPath, rbacPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "graphbot.yaml", "path to configuration file")
	cmd.Flags().StringVar(&dbPath, "db", "graphbot.db", "path to the SQLite database file")
	cmd.Flags().StringVar(&rbacPath, "rbac", "rbac.yaml", "path to the RBAC role document")
	return cmd
}

// runServe wires every component in the dependency order the design notes
// require: store before anything that reads/writes it, permissions and the
// provider before the things that consult them, and the scheduler/worker
// last since they're the first callers to actually fire background plans.
func runServe(ctx context.Context, configPath, dbPath, rbacPath string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	perms, err := rbac.Load(rbacPath, slog.Default())
	if err != nil {
		return fmt.Errorf("load rbac document: %w", err)
	}

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	llmProvider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: apiKey})
	if err != nil {
		return fmt.Errorf("init llm provider: %w", err)
	}
	chatProvider := agent.NewChatProvider(llmProvider)

	registry := channels.NewRegistry()
	port := channels.NewPort(registry, st, "")

	bus := events.New(st, nil)
	contextBuilder := agentcontext.NewBuilder(st, perms, agentcontext.Config{
		Identity:  agentcontext.Identity{Name: "GraphBot"},
		Events:    bus,
		OwnerName: cfg.Assistant.OwnerUsername,
	})

	tools := agent.NewToolRegistry()
	tools.Register(message.NewTool("", port, st))

	planner := delegation.NewPlanner(chatProvider, st, tools, delegation.Config{Model: cfg.Background.Delegation.Model})

	lightDispatcher := agent.NewLightAgentDispatcher(chatProvider, tools)
	bgWorker := worker.New(st, port, tools, lightDispatcher)
	tools.Register(delegate.NewTool(planner, st, bgWorker))

	scheduler := cron.NewScheduler(st,
		cron.WithLogger(slog.Default()),
		cron.WithMessageSender(port),
		cron.WithToolExecutor(tools),
		cron.WithAgentDispatcher(lightDispatcher),
	)

	graph := agent.NewGraph(st, perms, tools, contextBuilder, chatProvider, agent.GraphConfig{
		Model:          cfg.Assistant.Model,
		IterationLimit: cfg.Assistant.IterationLimit,
	})
	runner := agent.NewGraphRunner(st, perms, graph, chatProvider, agent.GraphRunnerConfig{
		SessionTokenLimit: cfg.Assistant.SessionTokenLimit,
	})

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer scheduler.Stop()

	if err := registry.StartAll(ctx); err != nil {
		return fmt.Errorf("start channel adapters: %w", err)
	}
	defer registry.StopAll(context.Background())

	slog.Info("graphbot serving", "model", cfg.Assistant.Model)
	dispatchInbound(ctx, registry, runner, port, st)
	return nil
}

// dispatchInbound drains every adapter's inbound stream through the
// GraphRunner, dropping self-authored loop messages before they ever
// reach it — the single loop-break check the Channel Port owns.
func dispatchInbound(ctx context.Context, registry *channels.Registry, runner *agent.GraphRunner, port *channels.Port, st store.Store) {
	for msg := range registry.AggregateMessages(ctx) {
		isFromSelf, _ := msg.Metadata["from_self"].(bool)
		if port.IsSelfLoop(isFromSelf, msg.Content) {
			continue
		}
		go func(m *models.Message) {
			userID, err := resolveSender(ctx, st, m)
			if err != nil {
				slog.Error("resolve inbound sender", "channel", m.Channel, "error", err)
				return
			}
			if _, _, err := runner.Process(ctx, userID, m.Channel, m.Content, false); err != nil {
				slog.Error("process inbound message", "channel", m.Channel, "error", err)
			}
		}(msg)
	}
}

// resolveSender maps an inbound message's platform address to a user_id,
// registering a new user on first contact the same way the Channel Link
// table is meant to grow: lazily, keyed by (channel, address).
func resolveSender(ctx context.Context, st store.Store, msg *models.Message) (string, error) {
	address, _ := msg.Metadata["channel_address"].(string)
	if address == "" {
		address = msg.ChannelID
	}
	if address == "" {
		return "", fmt.Errorf("inbound message has no sender address")
	}
	link, err := st.ResolveChannel(ctx, string(msg.Channel), address)
	if err == nil {
		return link.UserID, nil
	}
	if err != store.ErrNotFound {
		return "", err
	}
	user, err := st.GetOrCreateUser(ctx, fmt.Sprintf("%s:%s", msg.Channel, address))
	if err != nil {
		return "", err
	}
	if err := st.LinkChannel(ctx, &models.ChannelLink{
		UserID:         user.ID,
		Channel:        string(msg.Channel),
		ChannelAddress: address,
	}); err != nil {
		return "", err
	}
	return user.ID, nil
}
