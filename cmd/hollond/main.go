// hollond is the control plane: it decomposes goals into tasks, runs agent
// execution cycles, and settles reviews, all over PostgreSQL.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pbc1017/hollon-ai-sub009/pkg/api"
	"github.com/pbc1017/hollon-ai-sub009/pkg/brain"
	"github.com/pbc1017/hollon-ai-sub009/pkg/config"
	"github.com/pbc1017/hollon-ai-sub009/pkg/control"
	"github.com/pbc1017/hollon-ai-sub009/pkg/database"
	"github.com/pbc1017/hollon-ai-sub009/pkg/decompose"
	"github.com/pbc1017/hollon-ai-sub009/pkg/escalation"
	"github.com/pbc1017/hollon-ai-sub009/pkg/events"
	"github.com/pbc1017/hollon-ai-sub009/pkg/execution"
	"github.com/pbc1017/hollon-ai-sub009/pkg/gate"
	"github.com/pbc1017/hollon-ai-sub009/pkg/ident"
	"github.com/pbc1017/hollon-ai-sub009/pkg/knowledge"
	"github.com/pbc1017/hollon-ai-sub009/pkg/prompt"
	"github.com/pbc1017/hollon-ai-sub009/pkg/review"
	"github.com/pbc1017/hollon-ai-sub009/pkg/sandbox"
	"github.com/pbc1017/hollon-ai-sub009/pkg/store"
	"github.com/pbc1017/hollon-ai-sub009/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// chooseEmbedder picks the knowledge embedder: HOLLON_EMBED_PROVIDER if set,
// else the first provider with an embed endpoint, else the offline hash
// embedder.
func chooseEmbedder(registry *config.BrainProviderRegistry, gateway *brain.Gateway) knowledge.Embedder {
	if name := os.Getenv("HOLLON_EMBED_PROVIDER"); name != "" {
		slog.Info("Using configured embed provider", "provider", name)
		return knowledge.NewProviderEmbedder(gateway, name)
	}
	for _, name := range registry.Names() {
		p, err := registry.Get(name)
		if err == nil && p.EmbedURL != "" {
			slog.Info("Using embed-capable provider", "provider", name)
			return knowledge.NewProviderEmbedder(gateway, name)
		}
	}
	slog.Info("No embed provider configured, using hash embedder")
	return knowledge.HashEmbedder{}
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting hollond",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize database (runs pending migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	logger := slog.Default()
	clock := ident.SystemClock{}
	st := store.New(dbClient.Pool())

	// 3. Brain gateway and knowledge retrieval
	gateway := brain.NewGateway(cfg.BrainProviders, logger)
	embedder := chooseEmbedder(cfg.BrainProviders, gateway)
	retriever := knowledge.NewService(st, embedder, cfg.Knowledge, logger)
	composer := prompt.NewComposer(st, retriever)
	slog.Info("Brain gateway initialized", "providers", cfg.BrainProviders.Len())

	// 4. Sandbox manager over the code host. The in-process host serves
	// single-node mode; CI verdicts are reported through its API.
	host := sandbox.NewMemoryHost()
	sandboxes := sandbox.NewManager(cfg.Sandbox, host, logger)

	// 5. Escalation ladder, gate, and execution runner
	publisher := events.NewPublisher(dbClient.Pool(), logger)
	ladder := escalation.New(st, cfg.Escalation, publisher, clock, logger)
	qualityGate := gate.New(cfg.Gate, logger)
	runner := execution.NewRunner(st, composer, gateway, sandboxes, qualityGate,
		ladder, cfg.BrainProviders, cfg.Loops, clock, logger)

	// 6. Decomposer and review service
	decomposer := decompose.New(st, gateway, logger)
	reviews := review.NewService(st, gateway, host, ladder, publisher, logger)

	// 7. Control engine (skipped when the scheduler is disabled)
	governor := control.NewGovernor(st, clock, logger)
	engine := control.NewEngine(st, decomposer, runner, reviews, ladder,
		governor, cfg.Loops, clock, logger)

	engineCtx, engineCancel := context.WithCancel(ctx)
	defer engineCancel()
	engineDone := make(chan struct{})
	if cfg.SchedulerDisabled {
		slog.Warn("Scheduler disabled, control loops will not run")
		close(engineDone)
	} else {
		go func() {
			defer close(engineDone)
			if err := engine.Run(engineCtx); err != nil {
				slog.Error("Control engine stopped with error", "error", err)
			}
		}()
	}

	// 8. Start HTTP server (non-blocking)
	httpServer := &http.Server{
		Addr:    ":" + httpPort,
		Handler: api.NewServer(st, ladder, logger).Router(),
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("hollond started successfully",
		"tick_interval", cfg.Loops.TickInterval,
		"scheduler_disabled", cfg.SchedulerDisabled)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: stop the loops, drain in-flight cycles, then the
	// HTTP server. Engine.Run waits out cycles up to its own timeout.
	engineCancel()
	select {
	case <-engineDone:
		slog.Info("Control engine stopped gracefully")
	case <-time.After(cfg.Loops.GracefulShutdownTimeout + 5*time.Second):
		slog.Warn("Engine shutdown timeout exceeded, in-flight cycles will be orphan-recovered")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
