// Command gent starts the Gent core runtime and exposes its steering
// surface over a websocket listener. The terminal UI is a separate client;
// this process owns the sessions, the event log, and the agent loops.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gentcli/gent/internal/actor"
	"github.com/gentcli/gent/internal/agentreg"
	"github.com/gentcli/gent/internal/checkpoint"
	essqlite "github.com/gentcli/gent/internal/eventstore/sqlite"
	"github.com/gentcli/gent/internal/interaction"
	"github.com/gentcli/gent/internal/model"
	"github.com/gentcli/gent/internal/policy"
	"github.com/gentcli/gent/internal/providers/anthropic"
	"github.com/gentcli/gent/internal/providers/openai"
	"github.com/gentcli/gent/internal/rpc"
	sessqlite "github.com/gentcli/gent/internal/session/sqlite"
	"github.com/gentcli/gent/internal/subagent"
	"github.com/gentcli/gent/internal/telemetry"
	"github.com/gentcli/gent/internal/toolrunner"
	"github.com/gentcli/gent/internal/tools"
	"github.com/gentcli/gent/internal/tools/builtin"
	"github.com/gentcli/gent/internal/wideevent"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type serveOptions struct {
	listen     string
	dbPath     string
	provider   string
	modelID    string
	smallModel string
	agentsFile string
	agentName  string
	maxTokens  int
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gent",
		Short: "Terminal-first coding-assistant harness",
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the core runtime and expose the websocket steering surface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.listen, "listen", "127.0.0.1:7433", "address for the websocket listener")
	cmd.Flags().StringVar(&opts.dbPath, "db", "gent.db", "path to the SQLite database")
	cmd.Flags().StringVar(&opts.provider, "provider", "anthropic", "model provider (anthropic or openai)")
	cmd.Flags().StringVar(&opts.modelID, "model", "", "default model identifier")
	cmd.Flags().StringVar(&opts.smallModel, "small-model", "", "model used by the summarizer")
	cmd.Flags().StringVar(&opts.agentsFile, "agents", "", "YAML file of agent definitions")
	cmd.Flags().StringVar(&opts.agentName, "agent", "cowork", "driving agent role")
	cmd.Flags().IntVar(&opts.maxTokens, "max-tokens", 8192, "completion token cap")
	return cmd
}

func serve(ctx context.Context, opts serveOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()

	store, err := sessqlite.Open(ctx, opts.dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	events, err := essqlite.Attach(ctx, store.DB())
	if err != nil {
		return err
	}
	defer events.Close()

	client, err := buildClient(opts)
	if err != nil {
		return err
	}

	agents := agentreg.NewRegistry()
	if opts.agentsFile != "" {
		if err := agents.LoadFile(opts.agentsFile); err != nil {
			return err
		}
	} else {
		registerDefaultAgents(agents)
	}

	checkpoints := checkpoint.New(store, &modelSummarizer{client: client}, 0)

	perms := interaction.NewPermissionHandler(events)
	plans := interaction.NewPlanHandler(events)
	questions := interaction.NewQuestionHandler(events)

	registry := tools.NewRegistry()

	// Subagents run with their own bypass policy; their tool surface is
	// bounded by the agent allowlist instead of interactive approval.
	subRunner := subagent.New(subagent.Config{
		Store:  store,
		Events: events,
		Runner: toolrunner.New(registry, policy.New(true), perms, events, 0),
		Client: client,
		Tools:  registry,
		Agents: agents,
		Logger: logger,
	})
	builtin.RegisterDefaults(registry, builtin.Deps{
		Subagents:   subRunner,
		Plans:       plans,
		Questions:   questions,
		Checkpoints: checkpoints,
	})

	wide := wideevent.New(func(rec wideevent.Record) {
		raw, _ := json.Marshal(rec)
		logger.Info(ctx, "turn telemetry", "record", string(raw))
	})

	manager := actor.NewManager(actor.Deps{
		Store:       store,
		Events:      events,
		Checkpoints: checkpoints,
		Client:      client,
		Tools:       registry,
		Agents:      agents,
		Perms:       perms,
		AgentName:   opts.agentName,
		MaxTokens:   opts.maxTokens,
		Logger:      logger,
		Metrics:     metrics,
		WideEvents:  wide,
	})
	defer manager.Close()

	server := rpc.NewServer(store, events, checkpoints, manager, perms, plans, questions, logger)

	mux := http.NewServeMux()
	mux.Handle("/rpc", server.Handler())
	httpServer := &http.Server{Addr: opts.listen, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()
	logger.Info(ctx, "gent serving", "addr", opts.listen, "db", opts.dbPath)

	select {
	case <-ctx.Done():
		_ = httpServer.Shutdown(context.Background())
		return nil
	case err := <-errCh:
		return err
	}
}

func buildClient(opts serveOptions) (model.Client, error) {
	switch opts.provider {
	case "anthropic":
		modelID := opts.modelID
		if modelID == "" {
			modelID = "claude-sonnet-4-5"
		}
		return anthropic.NewFromAPIKey(os.Getenv("ANTHROPIC_API_KEY"), anthropic.Options{
			DefaultModel: modelID,
			SmallModel:   opts.smallModel,
			MaxTokens:    opts.maxTokens,
		})
	case "openai":
		modelID := opts.modelID
		if modelID == "" {
			modelID = "gpt-4o"
		}
		return openai.NewFromAPIKey(os.Getenv("OPENAI_API_KEY"), openai.Options{
			DefaultModel: modelID,
			SmallModel:   opts.smallModel,
			MaxTokens:    opts.maxTokens,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", opts.provider)
	}
}

// modelSummarizer adapts the provider's non-streaming Complete call to the
// checkpoint service's Summarizer interface, running on the small model
// class.
type modelSummarizer struct {
	client model.Client
}

func (s *modelSummarizer) Summarize(ctx context.Context, messages []*model.Message, maxOutputTokens int) (string, error) {
	prompt := &model.Message{
		Role: model.RoleUser,
		Parts: []model.Part{model.TextPart{
			Text: "Compress the conversation above into a concise summary. Preserve decisions made, open questions, and current state. Do not add commentary.",
		}},
	}
	resp, err := s.client.Complete(ctx, &model.Request{
		ModelClass: model.ModelClassSmall,
		Messages:   append(append([]*model.Message{}, messages...), prompt),
		MaxTokens:  maxOutputTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Message.Text(), nil
}

// registerDefaultAgents installs the stock roles when no agents file is
// given.
func registerDefaultAgents(agents *agentreg.Registry) {
	_ = agents.Register(agentreg.Definition{
		Name:                "cowork",
		SystemPrompt:        "You are a hands-on pair programmer. Prefer small, verifiable steps.",
		CanDelegateToAgents: []string{"explore", "deep", "architect"},
	})
	_ = agents.Register(agentreg.Definition{
		Name:         "explore",
		SystemPrompt: "You explore a repository and report findings. You never modify files.",
		Tools:        []string{"read", "ls", "grep", "fetch"},
	})
	_ = agents.Register(agentreg.Definition{
		Name:         "deep",
		SystemPrompt: "You reason carefully about a single hard problem before answering.",
		Tools:        []string{"read", "ls", "grep", "fetch"},
	})
	_ = agents.Register(agentreg.Definition{
		Name:         "architect",
		SystemPrompt: "You produce implementation plans: files to change, ordering, risks.",
		Tools:        []string{"read", "ls", "grep"},
	})
}
