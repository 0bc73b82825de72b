package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/hpungsan/compost/internal/config"
	"github.com/hpungsan/compost/internal/db"
	"github.com/hpungsan/compost/internal/logging"
	"github.com/hpungsan/compost/internal/mcp"
	"github.com/hpungsan/compost/internal/ops"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// EnvHome overrides the directory holding config.json, the move ledger, and locks.
const EnvHome = "COMPOST_HOME"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"backup": true, "restore": true, "backups": true,
	"tidy": true, "clean": true, "compost": true,
	"stats": true, "cleanup": true, "history": true, "recover": true,
	"serve": true, "help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	// Known subcommand → CLI
	if cliCommands[arg] {
		return true
	}
	// Global flags and --help or --version → CLI
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "--human" {
		return true
	}
	return false // Default → MCP server
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   ___ ___  _ __ ___  _ __   ___  ___| |_
  / __/ _ \| '_ ` + "`" + ` _ \| '_ \ / _ \/ __| __|
 | (_| (_) | | | | | | |_) | (_) \__ \ |_
  \___\___/|_| |_| |_| .__/ \___/|___/\__|
                     |_|

  Local filesystem lifecycle manager

  Usage: compost <command> [options]
         compost --help

  MCP server mode requires piped input.`)
}

// compostHome returns the state directory: $COMPOST_HOME, else ~/.compost.
func compostHome(lookup func(string) (string, bool)) (string, error) {
	if v, ok := lookup(EnvHome); ok && v != "" {
		return filepath.Abs(v)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".compost"), nil
}

// loadConfig merges the global and repo configs, overlays the environment,
// and resolves roots against cwd.
func loadConfig(baseDir, cwd string, lookup func(string) (string, bool)) (*config.Config, error) {
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Resolve(cwd); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup builds the Env shared by the CLI and the MCP server.
func setup(baseDir, cwd string) (*ops.Env, *sql.DB, error) {
	cfg, err := loadConfig(baseDir, cwd, os.LookupEnv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	database, err := db.Init(baseDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return ops.NewEnv(cfg, database, logger, baseDir, cwd), database, nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		if err := newCLIApp(nil).RunContext(ctx, os.Args); err != nil {
			fail(err)
		}
		return
	}

	baseDir, err := compostHome(os.LookupEnv)
	if err != nil {
		fail(err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		fail(fmt.Errorf("could not determine working directory: %w", err))
	}

	env, database, err := setup(baseDir, cwd)
	if err != nil {
		fail(err)
	}
	defer database.Close()
	defer func() { _ = env.Logger.Sync() }()

	// CLI mode: known subcommand
	if isCLIMode() {
		if err := newCLIApp(env).RunContext(ctx, os.Args); err != nil {
			fail(err)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'compost --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default)
	if err := mcp.Run(env, Version); err != nil {
		env.Logger.Error("mcp server stopped", zap.Error(err))
		fail(err)
	}
}
