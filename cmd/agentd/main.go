// Package main provides the CLI entry point for the agent runtime.
//
// agentd binds a configured agent to a model provider and runs generations
// from the command line or an interactive stdin loop.
//
// # Basic Usage
//
// Run a single prompt:
//
//	agentd run "summarize the open tickets"
//
// Start an interactive loop:
//
//	agentd run
//
// # Environment Variables
//
//   - AGENTD_CONFIG: Path to configuration file (default: agentd.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key, referenced from the config file
//   - AGENTD_VAULT_KEY: 32-byte credential vault encryption key
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/deco-cx/agent-runtime/internal/agent"
	"github.com/deco-cx/agent-runtime/internal/agent/providers"
	"github.com/deco-cx/agent-runtime/internal/config"
	"github.com/deco-cx/agent-runtime/internal/observability"
	"github.com/deco-cx/agent-runtime/internal/threads"
	"github.com/deco-cx/agent-runtime/internal/toolset"
	"github.com/deco-cx/agent-runtime/internal/vault"
	"github.com/deco-cx/agent-runtime/internal/wallet"
	"github.com/deco-cx/agent-runtime/pkg/models"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath string
	agentID    string
	principal  string
	threadID   string
	budget     float64
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agentd",
		Short: "Agent runtime",
		Long:  "agentd runs configured agents against LLM providers with MCP tool execution.",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to configuration file")

	runCmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run a generation, or an interactive loop when no prompt is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), strings.Join(args, " "))
		},
	}
	runCmd.Flags().StringVar(&agentID, "agent", "default", "agent identifier")
	runCmd.Flags().StringVar(&principal, "principal", "local", "billing principal")
	runCmd.Flags().StringVar(&threadID, "thread", "", "thread identifier (empty starts a fresh thread)")
	runCmd.Flags().Float64Var(&budget, "budget", 10.0, "ledger deposit in dollars for this session")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentd %s (commit %s, built %s)\n", version, commit, date)
		},
	}

	rootCmd.AddCommand(runCmd, versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if path := os.Getenv("AGENTD_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat("agentd.yaml"); err == nil {
		return "agentd.yaml"
	}
	return ""
}

// agentStore is the storage surface the runtime needs. Both store backends
// provide threads and agent configurations.
type agentStore interface {
	threads.Store
	agent.ConfigStore
}

func runAgent(ctx context.Context, prompt string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Logging)
	logger.Info("starting agentd", "version", version, "agent", agentID)

	tracer, shutdownTracing, err := observability.NewTracer(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	var credentialVault *vault.Vault
	if key := cfg.Vault.EncryptionKey; key != "" {
		credentialVault, err = vault.New([]byte(key))
		if err != nil {
			return fmt.Errorf("init vault: %w", err)
		}
	}

	var store agentStore
	if cfg.Database.Path != "" {
		sqliteStore, err := threads.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer sqliteStore.Close()
		store = sqliteStore
	} else {
		store = threads.NewMemoryStore()
	}

	ledger := wallet.NewLedgerWallet(wallet.LedgerOptions{})
	ledger.Deposit(principal, budget)

	resolver := toolset.NewResolver(toolset.ResolverOptions{
		Dialer:  toolset.NewMCPDialer(nil, cfg.Tools.DiscoveryTimeout, logger),
		Timeout: cfg.Tools.DiscoveryTimeout,
		Logger:  logger,
		Metrics: metrics,
	})

	factory := agent.NewFactory(agent.FactoryOptions{
		Config:    cfg,
		Vault:     credentialVault,
		Providers: providers.NewRegistry(cfg.Providers["gateway"].BaseURL),
		Logger:    logger,
	})

	runtime := agent.NewRuntime(agent.RuntimeOptions{
		AgentID:   agentID,
		Principal: principal,
		Factory:   factory,
		Store:     store,
		Wallet:    ledger,
		Resolver:  resolver,
		Configs:   store,
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    tracer,
	})

	if prompt != "" {
		return generate(ctx, runtime, prompt)
	}
	return interactiveLoop(ctx, runtime)
}

func generate(ctx context.Context, runtime *agent.Runtime, prompt string) error {
	opts := &agent.Options{ThreadID: threadID, ResourceID: principal}
	resp, err := runtime.Stream(ctx, []models.Message{{Role: models.RoleUser, Content: prompt}}, opts)
	if err != nil {
		return err
	}

	for chunk := range resp.Chunks {
		fmt.Print(chunk.Text)
	}
	result, err := resp.Result()
	if err != nil {
		return err
	}
	fmt.Println()

	if threadID == "" {
		threadID = result.ThreadID
	}
	return nil
}

func interactiveLoop(ctx context.Context, runtime *agent.Runtime) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}
		if prompt == "exit" || prompt == "quit" {
			return nil
		}

		if err := generate(ctx, runtime, prompt); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}
