// Codewright is an autonomous coding agent runtime.
//
// It drives conversational turns against a model provider, executes
// tools inside a sandboxed workspace under an authorization policy,
// keeps the conversation history within budget through compaction, and
// snapshots state at every turn boundary for rollback. Configuration
// is loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	codewright repl              Start an interactive session
//	codewright ask <question>    Run a single turn and exit
//	codewright snapshots         List stored turn snapshots
//	codewright version           Print version and build information
//	codewright -o json version   Output version information as JSON
package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mlukens/codewright/internal/agent"
	"github.com/mlukens/codewright/internal/buildinfo"
	"github.com/mlukens/codewright/internal/compaction"
	"github.com/mlukens/codewright/internal/config"
	"github.com/mlukens/codewright/internal/events"
	"github.com/mlukens/codewright/internal/llm"
	"github.com/mlukens/codewright/internal/policy"
	"github.com/mlukens/codewright/internal/retry"
	"github.com/mlukens/codewright/internal/router"
	"github.com/mlukens/codewright/internal/snapshot"
	"github.com/mlukens/codewright/internal/tools"
	"github.com/mlukens/codewright/internal/web"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main constructs the OS-level environment and delegates to [run] so
// the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package relies on package-level globals, which interferes with
// calling run concurrently from tests, and the argument surface here
// is small.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
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
	case "repl":
		return runREPL(ctx, stdin, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: codewright ask <question>")
		}
		return runAsk(ctx, stdout, configPath, strings.Join(cmdArgs, " "))
	case "snapshots":
		return runSnapshots(stdout, configPath, outputFmt)
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
	info := buildinfo.Fields()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Codewright - Autonomous Coding Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: codewright [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  repl         Start an interactive session")
	fmt.Fprintln(w, "  ask          Run a single turn and exit")
	fmt.Fprintln(w, "  snapshots    List stored turn snapshots")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./codewright.yaml, ~/.config/codewright/config.yaml, /etc/codewright/config.yaml")
	return nil
}

// session bundles the wired runtime for one process lifetime.
type session struct {
	orchestrator *agent.Orchestrator
	sessions     *tools.SessionStore
	bus          *events.Bus
	snapshots    *snapshot.Manager
	history      *compaction.Engine
	router       *router.Router
	retry        *retry.Manager
	archiveDB    *sql.DB
	logger       *slog.Logger
	cfg          *config.Config
}

func (s *session) close() {
	s.sessions.CloseAll()
	if s.archiveDB != nil {
		s.archiveDB.Close()
	}
}

// buildSession wires every component from configuration. unrestricted
// selects the permission mode; confirmer handles Prompt-gated tools.
func buildSession(cfg *config.Config, logger *slog.Logger, confirmer agent.Confirmer, unrestricted bool) (*session, error) {
	// Every model the router can pick is served by the local Ollama
	// instance today; MultiClient keeps the orchestrator provider-
	// agnostic so additional providers are a registration, not a rewire.
	ollama := llm.NewOllamaClient(cfg.Model.OllamaURL, logger)
	client := llm.NewMultiClient(ollama)
	client.AddProvider("ollama", ollama)
	client.AddModel(cfg.Model.Default, "ollama")
	for _, model := range cfg.Router.Models {
		client.AddModel(model, "ollama")
	}

	history := compaction.NewEngine(compaction.Config{
		MaxUncompressedMessages: cfg.Compaction.MaxUncompressedMessages,
		MaxMessageAge:           cfg.Compaction.MaxMessageAge,
		MaxMemoryBytes:          cfg.Compaction.MaxMemoryBytes,
		CompactionInterval:      cfg.Compaction.CompactionInterval,
		MinContextConfidence:    cfg.Compaction.MinContextConfidence,
		MaxContextAge:           cfg.Compaction.MaxContextAge,
		AutoCompactionEnabled:   cfg.Compaction.AutoCompactionEnabled,
	}, compaction.NewLLMSummarizer(summaryFunc(client, cfg.Model.Default)), logger)

	var archiveDB *sql.DB
	if cfg.Compaction.ArchivePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Compaction.ArchivePath), 0o755); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
		db, err := sql.Open("sqlite3", cfg.Compaction.ArchivePath)
		if err != nil {
			return nil, fmt.Errorf("open archive database: %w", err)
		}
		archive, err := compaction.NewArchive(db)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("init archive: %w", err)
		}
		history.SetArchive(archive)
		archiveDB = db
		logger.Info("compaction archive opened", "path", cfg.Compaction.ArchivePath)
	}

	rt := router.New(logger, router.Config{
		Enabled: cfg.Router.Enabled,
		Models:  cfg.Router.Models,
	})

	rm := retry.NewManager(retry.Config{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		InitialDelay:      cfg.Retry.InitialDelay,
		MaxDelay:          cfg.Retry.MaxDelay,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		ExtraSignatures:   cfg.Retry.RetryableErrors,
	}, logger)

	perTool := make(map[string]policy.Decision, len(cfg.Policy.Tools))
	for name, p := range cfg.Policy.Tools {
		d, err := policy.ParseDecision(p)
		if err != nil {
			return nil, err
		}
		perTool[name] = d
	}
	defaultRule, err := policy.ParseDecision(cfg.Policy.Default)
	if err != nil {
		return nil, err
	}
	mode := policy.ModeStandard
	if unrestricted || cfg.Policy.Unrestricted {
		mode = policy.ModeUnrestricted
	}
	guard := policy.NewGuard(perTool, defaultRule,
		policy.WithMode(mode),
		policy.WithSessionLimit(cfg.Policy.MaxSessions),
	)

	shell := tools.NewShellExec(shellExecConfig(cfg))
	files := tools.NewWorkspace(cfg.Workspace.Path)
	sessions := tools.NewSessionStore(shell, guard.Sessions())
	registry := tools.NewRegistry(shell, files, sessions)

	bus := events.New()

	var snaps *snapshot.Manager
	opts := []agent.Option{agent.WithEvents(bus)}
	if cfg.Snapshots.Enabled {
		snaps = snapshot.NewManager(snapshot.Config{
			Enabled:              true,
			Directory:            cfg.Snapshots.Directory,
			MaxSnapshots:         cfg.Snapshots.MaxSnapshots,
			CompressionThreshold: cfg.Snapshots.CompressionThreshold,
		}, logger)
		opts = append(opts, agent.WithSnapshots(snaps))
	}
	if confirmer != nil {
		opts = append(opts, agent.WithConfirmer(confirmer))
	}

	orch := agent.New(logger, client, history, rt, rm, guard, registry, cfg.Model.Default, opts...)

	return &session{
		orchestrator: orch,
		sessions:     sessions,
		bus:          bus,
		snapshots:    snaps,
		history:      history,
		router:       rt,
		retry:        rm,
		archiveDB:    archiveDB,
		logger:       logger,
		cfg:          cfg,
	}, nil
}

func shellExecConfig(cfg *config.Config) tools.ShellExecConfig {
	sc := tools.DefaultShellExecConfig()
	sc.Enabled = cfg.ShellExec.Enabled
	if cfg.ShellExec.WorkingDir != "" {
		sc.WorkingDir = cfg.ShellExec.WorkingDir
	} else {
		sc.WorkingDir = cfg.Workspace.Path
	}
	if len(cfg.ShellExec.DeniedPatterns) > 0 {
		sc.DeniedPatterns = cfg.ShellExec.DeniedPatterns
	}
	if cfg.ShellExec.DefaultTimeoutSec > 0 {
		sc.DefaultTimeout = time.Duration(cfg.ShellExec.DefaultTimeoutSec) * time.Second
	}
	return sc
}

// summaryFunc adapts the chat client to the single-prompt call the
// compaction summarizer needs.
func summaryFunc(client llm.Client, model string) func(ctx context.Context, prompt string) (string, error) {
	return func(ctx context.Context, prompt string) (string, error) {
		resp, err := client.Chat(ctx, llm.ChatRequest{
			Model:    model,
			Messages: []llm.Message{{Role: "user", Content: prompt}},
		})
		if err != nil {
			return "", err
		}
		return resp.Message.Content, nil
	}
}

// runAsk runs a single turn in unrestricted mode and prints the reply.
func runAsk(ctx context.Context, stdout io.Writer, configPath, question string) error {
	cfg, logger, err := bootstrap(stdout, configPath)
	if err != nil {
		return err
	}

	// One-shot execution has no user to prompt, so the permission table
	// collapses to unrestricted.
	sess, err := buildSession(cfg, logger, nil, true)
	if err != nil {
		return err
	}
	defer sess.close()

	result, err := sess.orchestrator.RunTurn(ctx, question)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, result.Content)
	return nil
}

// runREPL starts an interactive session that reads turns from stdin
// until EOF or an interrupt.
func runREPL(ctx context.Context, stdin io.Reader, stdout io.Writer, configPath string) error {
	cfg, logger, err := bootstrap(stdout, configPath)
	if err != nil {
		return err
	}

	logger.Info("starting codewright",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"model", cfg.Model.Default,
	)

	reader := bufio.NewReader(stdin)
	confirmer := agent.ConfirmerFunc(func(ctx context.Context, toolName string, args map[string]any) (bool, error) {
		fmt.Fprintf(stdout, "Allow tool %q? [y/N] ", toolName)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false, err
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	})

	sess, err := buildSession(cfg, logger, confirmer, false)
	if err != nil {
		return err
	}
	defer sess.close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Listen.Enabled {
		srv := web.NewServer(sess.bus, sess.history, sess.router, sess.retry, sess.snapshots, logger)
		mux := http.NewServeMux()
		srv.RegisterRoutes(mux)
		addr := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
		go func() {
			logger.Info("observability endpoint listening", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("observability endpoint failed", "error", err)
			}
		}()
	}

	fmt.Fprintln(stdout, "codewright ready. Enter a prompt, or Ctrl-D to exit.")
	for {
		fmt.Fprint(stdout, "> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		result, err := sess.orchestrator.RunTurn(ctx, input)
		if err != nil {
			fmt.Fprintf(stdout, "error: %v\n", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		fmt.Fprintln(stdout, result.Content)
	}

	sess.orchestrator.Terminate()
	logger.Info("session ended", "turns", sess.orchestrator.Turn())
	return nil
}

// runSnapshots lists stored turn snapshots.
func runSnapshots(stdout io.Writer, configPath, outputFmt string) error {
	cfg, logger, err := bootstrap(io.Discard, configPath)
	if err != nil {
		return err
	}

	mgr := snapshot.NewManager(snapshot.Config{
		Enabled:      true,
		Directory:    cfg.Snapshots.Directory,
		MaxSnapshots: cfg.Snapshots.MaxSnapshots,
	}, logger)

	list, err := mgr.List()
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	if len(list) == 0 {
		fmt.Fprintln(stdout, "No snapshots.")
		return nil
	}
	for _, s := range list {
		fmt.Fprintf(stdout, "turn %-5d %-22s %8d bytes  %s\n",
			s.TurnNumber, s.CreatedAt.Format("2006-01-02 15:04:05"), s.SizeBytes, s.Filename)
	}
	return nil
}

// bootstrap loads configuration and builds the configured logger.
func bootstrap(logOut io.Writer, configPath string) (*config.Config, *slog.Logger, error) {
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := config.NewLogger(logOut, level)
	logger.Info("config loaded", "path", cfgPath)
	return cfg, logger, nil
}
