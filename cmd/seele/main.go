// Command seele runs the conversational agent: it opens the store,
// connects the model providers and MCP servers, seeds the scheduler
// and serves the Telegram loop until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/xonecas/seele/internal/agent"
	"github.com/xonecas/seele/internal/config"
	"github.com/xonecas/seele/internal/llm"
	"github.com/xonecas/seele/internal/mcp"
	"github.com/xonecas/seele/internal/memory"
	"github.com/xonecas/seele/internal/profile"
	"github.com/xonecas/seele/internal/provider"
	"github.com/xonecas/seele/internal/scheduler"
	"github.com/xonecas/seele/internal/store"
	"github.com/xonecas/seele/internal/tools"
	"github.com/xonecas/seele/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seele: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.DebugMode {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := cfg.EnsureStateDir(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath(), cfg.EmbeddingDimension)
	if err != nil {
		return err
	}
	defer st.Close()

	prof, err := profile.Load(cfg.ProfilePath())
	if err != nil {
		return err
	}

	chat := provider.NewOpenAI(cfg.Chat.APIBase, cfg.Chat.APIKey, cfg.Chat.Model, cfg.RequestTimeout)
	toolChat := provider.NewOpenAI(cfg.Tool.APIBase, cfg.Tool.APIKey, cfg.Tool.Model, cfg.RequestTimeout)
	embedder := provider.NewEmbedding(cfg.Embedding.APIBase, cfg.Embedding.APIKey, cfg.Embedding.Model,
		cfg.EmbeddingDimension, cfg.RequestTimeout)
	reranker := provider.NewRerank(cfg.Rerank.APIBase, cfg.Rerank.APIKey, cfg.Rerank.Model, cfg.RequestTimeout)

	curator := llm.NewCurator(toolChat, prof, cfg.Timezone)
	mem, err := memory.NewManager(ctx, cfg, st, embedder, reranker, curator)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewSearchTool(st, mem.SessionID, cfg.Timezone))
	registry.Register(tools.NewTaskTool(st, cfg.Timezone))

	if cfg.EnableMCP {
		mcpPath := cfg.MCPConfigPath
		if mcpPath == "" {
			mcpPath = filepath.Join(cfg.StateDir(), "mcp_servers.json")
		}
		servers, err := mcp.LoadConfig(mcpPath)
		if err != nil {
			return err
		}
		manager := mcp.Connect(ctx, servers, cfg.RequestTimeout)
		defer manager.Close()
		for _, tool := range manager.Tools() {
			registry.Register(tool)
		}
	}

	ag := agent.New(mem,
		llm.NewAssembler(prof, cfg.Timezone),
		llm.NewOrchestrator(chat, cfg.MaxToolRounds),
		registry)

	if err := scheduler.Seed(st, cfg.SeedTasksPath(), cfg.Timezone); err != nil {
		return err
	}

	bot := transport.NewBot(cfg.TelegramBotToken, cfg.TelegramUserID, ag, nil)

	fire := func(ctx context.Context, name, triggerTime, message string) error {
		reply, err := ag.HandleScheduledTask(ctx, name, triggerTime, message)
		if err != nil {
			return err
		}
		bot.Send(ctx, reply)
		return nil
	}
	sched := scheduler.New(st, fire, cfg.PollInterval, cfg.Timezone)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(ctx) })
	g.Go(func() error { return sched.Run(ctx) })

	log.Info().Str("db", cfg.DBPath()).Msg("seele is up")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("seele shut down")
	return nil
}
