package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/agentloom/internal/agent"
	"github.com/user/agentloom/internal/agent/tools"
	"github.com/user/agentloom/internal/config"
	ctxengine "github.com/user/agentloom/internal/context"
	"github.com/user/agentloom/internal/delivery"
	"github.com/user/agentloom/internal/dispatch"
	"github.com/user/agentloom/internal/readmodel"
	"github.com/user/agentloom/internal/relay"
	"github.com/user/agentloom/internal/scheduler"
	"github.com/user/agentloom/internal/server"
	"github.com/user/agentloom/internal/state"
	"github.com/user/agentloom/internal/telegram"
	"github.com/user/agentloom/pkg/llm"
	"github.com/user/agentloom/pkg/llm/openai"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agentloom daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	logger := setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, logger) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	select {
	case err := <-done:
		return err
	case sig := <-sigChan:
		logger.Info("shutting down", "signal", sig)
		cancel()
		err := <-done
		if sig != syscall.SIGHUP {
			return err
		}
	}

	logger.Info("received SIGHUP, restarting")
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	os.Remove(pidPath)
	return syscall.Exec(execPath, os.Args, os.Environ())
}

// newProvider returns nil for providers this build cannot talk to; the
// agent then refuses to start and the failure is reported as an event.
func newProvider(cfg *config.Config) llm.Provider {
	switch cfg.LLM.Provider {
	case "openai", "":
		return openai.New(&llm.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		})
	default:
		return nil
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	workspace := filepath.Join(cfg.DataDir, "workspace")
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	log := state.NewEventLog()
	models, err := readmodel.New(log, state.NewMetaContextFile(filepath.Join(cfg.DataDir, "metacontexts.json")), logger)
	if err != nil {
		return fmt.Errorf("load read models: %w", err)
	}
	defer models.Close()

	mem := tools.NewMemory(filepath.Join(cfg.DataDir, "memory.md"))
	engine := ctxengine.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve, ctxengine.WithMemory(mem.Facts))
	if cfg.SystemPromptPath != "" {
		data, err := os.ReadFile(cfg.SystemPromptPath)
		if err != nil {
			return fmt.Errorf("read system prompt: %w", err)
		}
		if err := engine.SetPrompt(string(data)); err != nil {
			return fmt.Errorf("parse system prompt: %w", err)
		}
	}

	registry := agent.NewRegistry(
		tools.NewReadURL(),
		tools.NewListFiles(workspace),
		tools.NewMemorySave(mem),
		tools.NewMemoryDelete(mem),
		tools.NewMemoryList(mem),
	)

	transcripts := filepath.Join(cfg.DataDir, "transcripts")
	bridge := agent.New(agent.Config{
		Provider:      newProvider(cfg),
		Engine:        engine,
		Index:         state.NewTranscriptIndex(transcripts),
		Transcripts:   state.NewTranscriptStore(transcripts),
		Tools:         registry,
		Replay:        log,
		MaxConcurrent: int64(cfg.MaxConcurrent),
		MaxRounds:     cfg.MaxToolRounds,
		Workspace:     workspace,
		Logger:        logger,
	})

	d := dispatch.New(log, models, bridge, dispatch.WithLogger(logger))
	bridge.Attach(d)

	if err := bridge.Start(ctx); err != nil {
		logger.Error("agent failed to start", "error", err)
		d.ReportStartupFailure(ctx, err)
	} else {
		defer bridge.Stop()
		if err := bridge.Discover(ctx); err != nil {
			logger.Warn("discover sessions", "error", err)
		}
		bridge.RefreshFiles(ctx)
	}

	rl := relay.New(log, models, d, logger)
	defer rl.Close()

	tasks := state.NewTaskStore(filepath.Join(cfg.DataDir, "tasks.json"))
	sched := scheduler.New(tasks, d, scheduler.WithLatest(models.LatestSession), scheduler.WithLogger(logger))
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:              log,
		Registry:         models,
		Dispatcher:       d,
		Relay:            rl,
		Tasks:            tasks,
		WebhookRateLimit: cfg.HTTP.WebhookRateLimit,
		Outbox:           cfg.WebSocket.Outbox,
		HighWater:        cfg.WebSocket.HighWater,
		LowWater:         cfg.WebSocket.LowWater,
		Logger:           logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server started", "listen", cfg.HTTP.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if err := sched.Watch(gctx); err != nil {
			logger.Warn("task file watcher disabled", "error", err)
		}
		return nil
	})

	if cfg.Telegram.Token != "" {
		bindings, err := delivery.Open(filepath.Join(cfg.DataDir, "bindings.json"))
		if err != nil {
			return err
		}
		adapter, err := telegram.New(telegram.Config{
			Token:      cfg.Telegram.Token,
			Dispatcher: d,
			Registry:   models,
			Relay:      rl,
			Log:        log,
			Bindings:   bindings,
			Logger:     logger,
		})
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		g.Go(func() error {
			adapter.Start(gctx)
			return nil
		})
		logger.Info("telegram adapter started")
	} else {
		logger.Warn("telegram adapter disabled (no token)")
	}

	logger.Info("agentloom started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"max_tool_rounds", cfg.MaxToolRounds,
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
		"epoch", d.Epoch(),
	)
	return g.Wait()
}
