// Tasklight is a conversational to-do list agent.
//
// It exposes a small HTTP chat API backed by an OpenAI-compatible
// language model. The model manages the user's task list through a
// fixed set of tools; all state lives in SQLite, so any number of
// identical processes can serve the same users. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	tasklight serve              Start the API server
//	tasklight init [dir]         Initialize a working directory with defaults
//	tasklight ask <message>      Send a single chat message (for testing)
//	tasklight version            Print version and build information
//	tasklight -o json version    Output version information as JSON
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/tasklight/tasklight/internal/agent"
	"github.com/tasklight/tasklight/internal/api"
	"github.com/tasklight/tasklight/internal/buildinfo"
	"github.com/tasklight/tasklight/internal/config"
	"github.com/tasklight/tasklight/internal/convstore"
	"github.com/tasklight/tasklight/internal/llm"
	"github.com/tasklight/tasklight/internal/snapshot"
	"github.com/tasklight/tasklight/internal/taskstore"
	"github.com/tasklight/tasklight/internal/tools"
	"github.com/tasklight/tasklight/internal/userdir"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run], keeping
// os.Exit and os.Args out of the application logic so the full lifecycle
// can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the tasklight command. Arguments are
// parsed by hand: the flag package relies on package-level globals,
// which makes it impossible to call run() concurrently from tests, and
// the argument surface here is small enough that manual parsing is
// clearer than bringing in a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: tasklight ask <message>")
		}
		return runAsk(ctx, stdout, stderr, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Tasklight - Conversational To-Do List Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: tasklight [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask          Send a single chat message (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./tasklight.yaml, ~/.config/tasklight/tasklight.yaml, /etc/tasklight/tasklight.yaml")
	return nil
}

// runAsk handles the "tasklight ask <message>" subcommand. It boots the
// full agent against the configured database and processes a single
// turn as the first configured user, printing the reply to stdout.
// Useful for smoke tests without starting the server.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if len(cfg.Users) == 0 {
		return fmt.Errorf("no users configured; add at least one user to the config")
	}
	userID := cfg.Users[0].ID

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	loop, _, _, err := buildAgent(cfg, db, logger)
	if err != nil {
		return err
	}

	result, err := loop.HandleTurn(ctx, userID, "", strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	for _, tc := range result.ToolCalls {
		fmt.Fprintf(stderr, "[tool] %s %s\n", tc.Name, tc.Arguments)
	}
	fmt.Fprintln(stdout, result.Reply)
	return nil
}

// runServe handles the "tasklight serve" subcommand. It is the primary
// operating mode: loads config, opens the database, wires the agent
// loop, starts the HTTP server, and blocks until a shutdown signal.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Tasklight", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure logger now that we know the desired level. The initial
	// Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.LLM.Model,
		"users", len(cfg.Users),
	)
	if len(cfg.Users) == 0 {
		logger.Warn("no users configured; every request will be rejected with 401")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database opened", "path", filepath.Join(cfg.DataDir, "tasklight.db"))

	loop, conversations, users, err := buildAgent(cfg, db, logger)
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, loop, conversations, users, logger)

	// SIGINT/SIGTERM cancellation flows through the same ctx used by all
	// components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		_ = server.Shutdown(context.Background())
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Tasklight stopped")
	return nil
}

// buildAgent wires the stores, snapshot pipeline, tool registry, and
// provider client into an orchestrator. Shared between serve and ask so
// both paths exercise identical behavior.
func buildAgent(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*agent.Loop, convstore.Store, userdir.Directory, error) {
	conversations, err := convstore.NewSQLiteStore(db)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open conversation store: %w", err)
	}
	tasks, err := taskstore.NewSQLiteStore(db)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open task store: %w", err)
	}

	users := userdir.NewStaticDirectory(cfg.Users)

	loader := snapshot.NewLoader(conversations, tasks, users, cfg.Context.HistoryLimit, logger)
	optimizer := snapshot.NewOptimizer(cfg.Context.TokenBudget, cfg.Context.KeepRecent, cfg.Context.TaskLimit, nil, logger)
	registry := tools.NewRegistry(tasks)

	client := llm.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLMTimeout(), logger)

	loop := agent.NewLoop(logger, conversations, loader, optimizer, registry, client, agent.Options{
		Model:       cfg.LLM.Model,
		MaxRounds:   cfg.Agent.MaxRounds,
		LLMTimeout:  cfg.LLMTimeout(),
		ToolTimeout: cfg.ToolTimeout(),
		RetryDelay:  cfg.RetryDelay(),
	})

	return loop, conversations, users, nil
}

// openDatabase opens the shared SQLite database. WAL mode and a busy
// timeout let multiple connections from this process interleave reads
// and writes without spurious SQLITE_BUSY errors.
func openDatabase(dataDir string) (*sql.DB, error) {
	path := filepath.Join(dataDir, "tasklight.db")
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return db, nil
}

// newLogger creates a structured text logger writing to w at the given
// level. All log output goes through slog; this helper standardizes the
// handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise
// [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
