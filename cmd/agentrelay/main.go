package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/HyphaGroup/agentrelay/internal/auth"
	"github.com/HyphaGroup/agentrelay/internal/config"
	"github.com/HyphaGroup/agentrelay/internal/dispatcher"
	"github.com/HyphaGroup/agentrelay/internal/logger"
	"github.com/HyphaGroup/agentrelay/internal/mcp"
	"github.com/HyphaGroup/agentrelay/internal/relay"
	"github.com/HyphaGroup/agentrelay/internal/transcript"
	"github.com/HyphaGroup/agentrelay/internal/transport"
	"github.com/HyphaGroup/agentrelay/internal/validation"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "send":
		cmdSend(args)
	case "mcp":
		cmdMCP(args)
	case "serve-echo":
		cmdServeEcho(args)
	case "transcripts":
		cmdTranscripts(args)
	case "login":
		cmdLogin(args)
	case "logout":
		cmdLogout(args)
	case "agents":
		cmdAgents(args)
	case "--version", "-v", "version":
		fmt.Printf("agentrelay %s\n", Version)
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`agentrelay %s - Streaming relay for AI agent generations

Usage: agentrelay <command> [options]

Commands:
  send          Send a message to an agent and stream the reply
  mcp           Serve the execute_agent tool over MCP stdio
  serve-echo    Run the reference echo dispatcher
  transcripts   List, show or prune stored transcripts
  login         Store a bearer token and session id for a profile
  logout        Remove a stored profile
  agents        List configured agents

Global Options (all commands):
  --config <path>    Config file (default: search, see below)

Config Precedence:
  1. --config flag
  2. AGENTRELAY_CONFIG env var
  3. ./config/agentrelay.jsonc
  4. ~/.agentrelay/agentrelay.jsonc
  Built-in defaults apply when no file exists.

Examples:
  agentrelay login --token tok_xxx --session-id 2f6c...
  agentrelay send --agent support "Where is my order?"
  agentrelay send --transport sse --agent writer "Draft a haiku"
  agentrelay serve-echo --addr :8080
  agentrelay transcripts list --limit 10
  agentrelay transcripts prune
`, Version)
}

// loadConfig loads and validates configuration or exits
func loadConfig(path string) *config.Config {
	cfg, _, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// initLogging sets up slog from the log section or exits
func initLogging(cfg *config.Config) {
	if err := logger.InitSlog(cfg.Log.Dir, cfg.Log.JSON, logger.ParseLevel(cfg.Log.Level)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
}

func cmdSend(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	agentName := fs.String("agent", "", "Agent name (default: agents.default)")
	sessionID := fs.String("session", "", "Session id (default: stored profile)")
	conversationID := fs.String("conversation", "", "Conversation id to continue")
	transportName := fs.String("transport", "", "Transport: websocket or sse (default: config)")
	_ = fs.Parse(args)

	message := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(message) == "" {
		fmt.Fprintln(os.Stderr, "Error: a message is required")
		fmt.Fprintln(os.Stderr, "Usage: agentrelay send [options] <message>")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	if *transportName != "" {
		cfg.Transport = *transportName
	}
	initLogging(cfg)
	defer func() { _ = logger.CloseSlog() }()

	def, err := cfg.Agents.Resolve(*agentName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := newRelayDeps(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	done := make(chan error, 1)
	opts := deps.adapterOptions(cfg)
	opts.Callbacks = relay.Callbacks{
		OnChunk:    func(chunk string) { fmt.Print(chunk) },
		OnComplete: func(string) { fmt.Println(); done <- nil },
		OnError:    func(err error) { done <- err },
	}

	t, err := newTransport(cfg, deps.session)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	adapter := relay.New(t, opts)
	defer adapter.Disconnect()

	if err := adapter.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	meta := relay.Metadata{
		SessionID:      *sessionID,
		Agent:          def.Slug,
		LLMConfigID:    def.LLMConfigID,
		ContextType:    def.ContextType,
		ConversationID: *conversationID,
	}
	// SIGINT is turned into Cancel below, so the stream itself must not
	// inherit the signal context
	if err := adapter.Send(context.WithoutCancel(ctx), message, meta); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		printLinkStatus(t)
		os.Exit(1)
	}

	select {
	case err := <-done:
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
			printLinkStatus(t)
			os.Exit(1)
		}
	case <-ctx.Done():
		cancelCtx, cancel := context.WithTimeout(context.Background(), cfg.Send.CancelTimeout())
		defer cancel()
		if err := adapter.Cancel(cancelCtx); err != nil {
			logger.Slog().Warn("server cancel failed", "error", err)
		}
		fmt.Fprintln(os.Stderr, "\nCancelled")
		os.Exit(130)
	}
}

func printLinkStatus(t transport.Transport) {
	if status := linkStatus(t); status != "" {
		fmt.Fprintln(os.Stderr, status)
	}
}

func cmdMCP(args []string) {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	transportName := fs.String("transport", "", "Transport: websocket or sse (default: config)")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)
	if *transportName != "" {
		cfg.Transport = *transportName
	}
	// stdout carries the MCP protocol, so logs go to stderr and the log dir only
	initLogging(cfg)
	defer func() { _ = logger.CloseSlog() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := newRelayDeps(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	t, err := newTransport(cfg, deps.session)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	bridge := mcp.NewBridge(t, deps.adapterOptions(cfg), cfg.Agents, Version)
	defer bridge.Close()

	if err := bridge.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "agentrelay mcp: server error: %v\n", err)
		os.Exit(1)
	}
}

func cmdServeEcho(args []string) {
	fs := flag.NewFlagSet("serve-echo", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	addr := fs.String("addr", "", "Listen address (default: echo.address)")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)
	if *addr != "" {
		cfg.Echo.Address = *addr
	}
	initLogging(cfg)
	defer func() { _ = logger.CloseSlog() }()

	opts := dispatcher.Options{
		ChunkDelay:    cfg.Echo.ChunkDelay(),
		RatePerSecond: cfg.Echo.RatePerSecond,
		Burst:         cfg.Echo.Burst,
	}
	if len(cfg.Echo.Tokens) > 0 {
		opts.Tokens = auth.StaticTokens(cfg.Echo.Tokens)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Slog().Info("starting echo dispatcher",
		"addr", cfg.Echo.Address,
		"auth", opts.Tokens != nil,
		"health", "http://localhost"+cfg.Echo.Address+"/health",
		"metrics", "http://localhost"+cfg.Echo.Address+"/metrics",
	)
	if err := dispatcher.New(opts).Serve(ctx, cfg.Echo.Address); err != nil {
		logger.Slog().Error("dispatcher stopped", "error", err)
		os.Exit(1)
	}
}

func cmdTranscripts(args []string) {
	if len(args) < 1 {
		printTranscriptsUsage()
		os.Exit(1)
	}

	cmd := args[0]
	fs := flag.NewFlagSet("transcripts "+cmd, flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	limit := fs.Int("limit", 20, "Maximum transcripts to list (0 for all)")
	_ = fs.Parse(args[1:])

	cfg := loadConfig(*configPath)
	store, err := transcript.NewStore(cfg.Transcripts.Dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening transcript store: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	switch cmd {
	case "list":
		transcriptsList(store, *limit)
	case "show":
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: agentrelay transcripts show <id>")
			os.Exit(1)
		}
		if err := validation.ValidateTranscriptID(fs.Arg(0)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		transcriptsShow(store, fs.Arg(0))
	case "prune":
		n, err := store.Prune(time.Now().Add(-cfg.Transcripts.Retention()))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error pruning transcripts: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Pruned %d transcript(s) older than %d days\n", n, cfg.Transcripts.RetentionDays)
	case "help", "-h", "--help":
		printTranscriptsUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown transcripts command: %s\n", cmd)
		printTranscriptsUsage()
		os.Exit(1)
	}
}

func printTranscriptsUsage() {
	fmt.Println(`Transcript Management

Usage: agentrelay transcripts <command> [options]

Commands:
  list      List recent transcripts (--limit N)
  show      Print one transcript
  prune     Delete transcripts older than transcripts.retention_days
  help      Show this help`)
}

func transcriptsList(store *transcript.Store, limit int) {
	list, err := store.List(limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing transcripts: %v\n", err)
		os.Exit(1)
	}
	if len(list) == 0 {
		fmt.Println("No transcripts found.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tAGENT\tSTATUS\tENDED\tTEXT")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t-----\t----")
	for _, t := range list {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			t.Agent,
			t.Status,
			t.EndedAt.Local().Format("2006-01-02 15:04"),
			preview(t.Text, 40),
		)
	}
	_ = w.Flush()
}

func transcriptsShow(store *transcript.Store, id string) {
	t, err := store.Get(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("ID:       %s\n", t.ID)
	fmt.Printf("Agent:    %s\n", t.Agent)
	fmt.Printf("Session:  %s\n", t.SessionID)
	fmt.Printf("Stream:   %s\n", t.StreamID)
	fmt.Printf("Status:   %s\n", t.Status)
	fmt.Printf("Duration: %s\n", t.EndedAt.Sub(t.StartedAt).Round(time.Millisecond))
	if t.Error != "" {
		fmt.Printf("Error:    %s\n", t.Error)
	}
	fmt.Println()
	fmt.Println(t.Text)
}

// preview shortens text to one line of at most n runes
func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n-3]) + "..."
}

func cmdLogin(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	token := fs.String("token", "", "Bearer token (required)")
	sessionID := fs.String("session-id", "", "Session id sent with every request")
	profile := fs.String("profile", "", "Profile name (default: auth.profile)")
	_ = fs.Parse(args)

	if *token == "" {
		fmt.Fprintln(os.Stderr, "Error: --token is required")
		fs.PrintDefaults()
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	if *profile == "" {
		*profile = cfg.Auth.Profile
	}
	if err := validation.ValidateProfile(*profile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	store, err := auth.NewStore(cfg.Auth.CredentialsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening credential store: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	if err := store.Save(*profile, auth.State{Token: *token, SessionID: *sessionID}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Saved credentials for profile %q (token %s)\n", *profile, auth.MaskToken(*token))
}

func cmdLogout(args []string) {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	profile := fs.String("profile", "", "Profile name (default: auth.profile)")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)
	if *profile == "" {
		*profile = cfg.Auth.Profile
	}
	if err := validation.ValidateProfile(*profile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	store, err := auth.NewStore(cfg.Auth.CredentialsDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening credential store: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	if err := store.Delete(*profile); err != nil {
		if errors.Is(err, auth.ErrProfileNotFound) {
			fmt.Printf("Profile %q is not logged in\n", *profile)
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Removed credentials for profile %q\n", *profile)
}

func cmdAgents(args []string) {
	fs := flag.NewFlagSet("agents", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)
	agents := cfg.Agents.List()
	if len(agents) == 0 {
		fmt.Println("No agents configured. Any agent slug can still be passed with --agent.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tSLUG\tDISPLAY NAME\tDEFAULT")
	for _, a := range agents {
		def := ""
		if a.IsDefault {
			def = "*"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Name, a.Slug, a.DisplayName, def)
	}
	_ = w.Flush()
}
