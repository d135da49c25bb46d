// Command adpilot runs the conversational ad-campaign assistant: an HTTP
// server processing chat turns, or a local one-shot/interactive chat mode.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/adpilot-ai/adpilot/pkg/action"
	"github.com/adpilot-ai/adpilot/pkg/api"
	"github.com/adpilot-ai/adpilot/pkg/bus"
	"github.com/adpilot-ai/adpilot/pkg/config"
	"github.com/adpilot-ai/adpilot/pkg/conversation"
	"github.com/adpilot-ai/adpilot/pkg/credit"
	"github.com/adpilot-ai/adpilot/pkg/model"
	"github.com/adpilot-ai/adpilot/pkg/orchestrator"
	"github.com/adpilot-ai/adpilot/pkg/reliability"
	"github.com/adpilot-ai/adpilot/pkg/router"
	"github.com/adpilot-ai/adpilot/pkg/storage"
	"github.com/adpilot-ai/adpilot/pkg/telemetry"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--version", "-v", "version":
		fmt.Printf("adpilot %s (%s, built %s)\n", version, commit, buildDate)
	case "--help", "-h", "help":
		printUsage()
	case "serve":
		if err := runServe(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "adpilot serve: %v\n", err)
			os.Exit(1)
		}
	case "chat":
		if err := runChat(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "adpilot chat: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`adpilot - conversational ad-campaign assistant

Usage:
  adpilot serve [-config path] [-addr host:port]
  adpilot chat  [-config path] [-user id] [-session id] [message]
  adpilot version

serve runs the HTTP API server. chat processes a single message (or an
interactive session when no message is given) against a local in-memory
setup.
`)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// buildOrchestrator assembles the turn processor from configuration. Store
// and eventBus may come back nil when not configured.
func buildOrchestrator(cfg *config.Config, log *slog.Logger, persistent bool) (*orchestrator.Orchestrator, *storage.Store, bus.MessageBus, error) {
	retry := &reliability.Strategy{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.BaseDelay,
		MaxDelay:   cfg.Retry.MaxDelay,
		Multiplier: 2.0,
	}

	var client model.Client
	if cfg.Model.APIKey != "" {
		client = model.NewHTTPClient(cfg.Model.BaseURL, cfg.Model.APIKey, cfg.Model.Timeout)
	}
	var classifier *model.Classifier
	if client != nil {
		classifier = model.NewClassifier(client, cfg.Model.Model)
	}

	var credits credit.Service
	if cfg.Credit.BaseURL != "" {
		credits = credit.NewHTTPService(cfg.Credit.BaseURL, cfg.Credit.APIKey, cfg.Credit.Timeout)
	} else {
		mem := credit.NewMemoryService()
		mem.DefaultBalance = cfg.Credit.StartingCredits
		credits = mem
	}

	handlers := action.DefaultHandlers(action.NewMockBackends(), credits, retry, log)
	for _, h := range handlers {
		h.DeductUpfront = cfg.Credit.DeductUpfront
	}

	var store *storage.Store
	var checkpoints orchestrator.CheckpointStore
	if persistent {
		var err error
		store, err = storage.New(cfg.Storage.DatabasePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open storage: %w", err)
		}
		checkpoints = store
	} else {
		checkpoints = orchestrator.NewMemoryCheckpoints()
	}

	var eventBus bus.MessageBus
	if cfg.Bus.URL != "" {
		b, err := bus.NewNATSBus(bus.Config{URL: cfg.Bus.URL, Name: cfg.Bus.Name})
		if err != nil {
			if store != nil {
				store.Close()
			}
			return nil, nil, nil, fmt.Errorf("connect bus: %w", err)
		}
		eventBus = b
	}

	// A typed nil *model.Classifier must not reach the interface fields.
	var routerClassifier router.Classifier
	if classifier != nil {
		routerClassifier = classifier
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Router:      router.New(routerClassifier, retry, log),
		Handlers:    handlers,
		Responder:   orchestrator.NewResponder(classifier, log),
		Compressor:  conversation.NewCompressor(cfg.Conversation.MaxRounds, cfg.Conversation.SummaryRounds),
		Checkpoints: checkpoints,
		Store:       store,
		Bus:         eventBus,
		Log:         log,
	})
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, nil, nil, err
	}
	return orch, store, eventBus, nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	addr := fs.String("addr", "", "listen address (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.ListenAddr = *addr
	}

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(log)

	shutdownTracing, err := telemetry.InitTracing(cfg.Telemetry.TraceStdout)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	orch, store, eventBus, err := buildOrchestrator(cfg, log, true)
	if err != nil {
		return err
	}
	defer func() {
		if store != nil {
			store.Close()
		}
		if eventBus != nil {
			eventBus.Close()
		}
		shutdownTracing(context.Background())
	}()

	server := api.NewServer(api.ServerConfig{
		Address:      cfg.Server.ListenAddr,
		Orchestrator: orch,
		Store:        store,
		Log:          log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api server listening", "addr", cfg.Server.ListenAddr)
		return server.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	userID := fs.String("user", "local", "user id")
	sessionID := fs.String("session", "cli", "session id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	orch, store, eventBus, err := buildOrchestrator(cfg, log, false)
	if err != nil {
		return err
	}
	defer func() {
		if store != nil {
			store.Close()
		}
		if eventBus != nil {
			eventBus.Close()
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One-shot mode with a message argument.
	if msg := strings.TrimSpace(strings.Join(fs.Args(), " ")); msg != "" {
		return processOnce(ctx, orch, *userID, *sessionID, msg)
	}

	// Interactive loop.
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("adpilot chat (ctrl-d to exit)")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := processOnce(ctx, orch, *userID, *sessionID, line); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func processOnce(ctx context.Context, orch *orchestrator.Orchestrator, userID, sessionID, message string) error {
	result, err := orch.ProcessMessage(ctx, userID, sessionID, message)
	if err != nil {
		return err
	}
	fmt.Println(result.ResponseText)
	if result.Suspended {
		fmt.Println("(awaiting confirmation)")
	}
	return nil
}
