package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yushui2022/easy-coding-agents/config"
	"github.com/yushui2022/easy-coding-agents/engine"
	"github.com/yushui2022/easy-coding-agents/llm"
	"github.com/yushui2022/easy-coding-agents/logging"
	"github.com/yushui2022/easy-coding-agents/memory"
	"github.com/yushui2022/easy-coding-agents/tasks"
	"github.com/yushui2022/easy-coding-agents/tools"
)

var (
	configPath string
	modelName  string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "eca [goal]",
	Short: "eca - autonomous task-driven coding assistant",
	Long: `eca plans a natural-language goal into a task list, confirms it with
you, then works through the tasks autonomously, pausing at checkpoints.
Press Ctrl-C once to pause, twice to quit.`,
	Args: cobra.ArbitraryArgs,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to config.yaml")
	rootCmd.Flags().StringVar(&modelName, "model", "", "override the configured model")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "write debug logs to the data dir")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if modelName != "" {
		cfg.Model.Name = modelName
	}

	logger := logging.Discard()
	if cfg.Logging.Enabled || verbose {
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		fileLogger, closeLog, err := logging.NewFileLogger(cfg.DataDir, level)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer closeLog()
		logger = fileLogger
	}

	console := newConsole(os.Stdin, os.Stdout)
	eng, err := wire(cfg, logger, console)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// First Ctrl-C pauses, second quits, third force-exits.
	sigCh := make(chan os.Signal, 3)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		interrupts := 0
		for range sigCh {
			interrupts++
			switch interrupts {
			case 1:
				console.notice("pausing after the current step (Ctrl-C again to quit)")
				eng.Interrupt()
			case 2:
				console.notice("quitting")
				eng.Stop()
				cancel()
			default:
				os.Exit(1)
			}
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })

	idle := make(chan struct{}, 1)
	g.Go(func() error {
		console.renderLoop(ctx, eng.Events(), idle)
		return nil
	})

	g.Go(func() error {
		defer eng.Stop()
		if len(args) > 0 {
			if err := eng.Submit(strings.Join(args, " ")); err != nil {
				return nil
			}
		} else {
			idle <- struct{}{}
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-idle:
			}
			line, err := console.readLine("goal> ")
			if err != nil {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				idle <- struct{}{}
				continue
			}
			if line == "/quit" || line == "/exit" {
				return nil
			}
			if err := eng.Submit(line); err != nil {
				return nil
			}
		}
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// wire builds the engine from config. Everything is injected; no
// component reaches for globals.
func wire(cfg *config.Config, logger *slog.Logger, decider *console) (*engine.Engine, error) {
	client, err := llm.NewGollmClient(cfg.API.Provider, cfg.Model.Name, cfg.API.APIKey)
	if err != nil {
		return nil, fmt.Errorf("model client: %w", err)
	}

	policy := llm.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.Model.MaxAttempts
	policy.BaseDelay = cfg.Model.BaseDelay.Std().Seconds()
	policy.MaxDelay = cfg.Model.MaxDelay.Std().Seconds()
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		logger.Warn("model call retry", "attempt", attempt, "delay", delay, "error", err)
	}
	stream := llm.NewStreamHandler(client, policy, cfg.Model.AttemptTimeout.Std())

	sessions, err := memory.NewSessionStore(filepath.Join(cfg.DataDir, "sessions"), cfg.Memory.RetainMessages)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	longTerm := memory.NewLongTermStore(filepath.Join(cfg.DataDir, "MEMORY.md"))
	mem := memory.NewManager(memory.Config{
		TokenCeiling:    cfg.Memory.TokenCeiling,
		ProtectedTurns:  cfg.Memory.ProtectedTurns,
		StartupMessages: cfg.Memory.StartupMessages,
	}, memory.NewEstimator(), memory.NewCompressor(client, cfg.Model.Name), longTerm, sessions, logger)

	tracker := tasks.NewTracker()
	registry := tools.NewRegistry()
	guard := tools.NewGuard(cfg.Guard.Window, cfg.Guard.Threshold)
	dispatcher := tools.NewDispatcher(registry, guard, decider, tools.DefaultLimits(), logger)
	tools.RegisterBuiltins(registry, tracker, mem, decider)

	temp := cfg.Model.Temperature
	return engine.New(engine.Config{
		Model:                  cfg.Model.Name,
		Temperature:            &temp,
		MaxAutonomousTurns:     cfg.Engine.MaxAutonomousTurns,
		MaxPlanningRounds:      cfg.Engine.MaxPlanningRounds,
		StatusInterval:         cfg.Engine.StatusInterval.Std(),
		IndependentToolBatches: cfg.Engine.IndependentToolBatches,
	}, engine.Deps{
		Stream:     stream,
		Memory:     mem,
		Tracker:    tracker,
		Dispatcher: dispatcher,
		Registry:   registry,
		Decider:    decider,
		Logger:     logger,
	}), nil
}
