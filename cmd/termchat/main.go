// ABOUTME: Entry point for the termchat terminal client
// ABOUTME: Interactive REPL speaking the realtime channel with HTTP fallback

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/promptyourai/termchat/internal/archive"
	"github.com/promptyourai/termchat/internal/channel"
	"github.com/promptyourai/termchat/internal/chat"
	"github.com/promptyourai/termchat/internal/config"
	"github.com/promptyourai/termchat/internal/conn"
	"github.com/promptyourai/termchat/internal/conversation"
	"github.com/promptyourai/termchat/internal/correlator"
	"github.com/promptyourai/termchat/internal/dedupe"
	"github.com/promptyourai/termchat/internal/protocol"
)

// Version is set at build time.
var version = "dev"

// getConfigPath returns the path to the config file.
// Priority: TERMCHAT_CONFIG env var > XDG_CONFIG_HOME/termchat/config.yaml > ~/.config/termchat/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("TERMCHAT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "termchat", "config.yaml")
}

func main() {
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("termchat %s\n", version)
		return
	}

	// Load .env before config so ${VAR} expansion sees it
	_ = godotenv.Load()

	path := *configPath
	if path == "" {
		path = getConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			color.Red("Error loading config: %v", err)
			os.Exit(1)
		}
		cfg = config.Default()
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

// setupLogger builds the slog logger from the logging config. When a file is
// configured, output is rotated with lumberjack so log noise never lands in
// the REPL.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var out io.Writer = os.Stderr
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	userID := cfg.User.ID
	if userID == "" {
		userID = "user_" + uuid.New().String()[:8]
	}

	arch, err := archive.NewSQLite(cfg.Archive.Path, logger)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer arch.Close()

	store := conversation.NewStore(cfg.Chat.HistoryBound, logger)

	settled := dedupe.New(5*time.Minute, 1024)
	defer settled.Close()

	dialer := channel.WebSocketDialer(channel.Params{
		URL:    cfg.Server.WSURL,
		UserID: userID,
	}, logger)

	mgr := conn.NewManager(dialer, conn.Config{
		HeartbeatInterval: cfg.Connection.HeartbeatInterval,
		ReconnectDelay:    cfg.Connection.ReconnectDelay,
		MaxReconnects:     cfg.Connection.MaxReconnects,
		ConnectTimeout:    cfg.Connection.ConnectTimeout,
	}, logger)

	corr := correlator.New(mgr, settled, logger)
	mgr.OnFrame(corr.HandleFrame)

	dim := color.New(color.Faint)
	mgr.OnStateChange(func(state conn.State, err error) {
		if errors.Is(err, conn.ErrMaxReconnectExceeded) {
			color.Yellow("Realtime channel lost; continuing over HTTP.")
			return
		}
		logger.Debug("connection state changed", "state", state.String())
	})

	corr.Subscribe(protocol.TypeProcessingStep, func(env *protocol.Envelope) {
		if env.Message != "" {
			dim.Printf("  %s\n", env.Message)
		}
	})

	fallback := chat.NewHTTPInvoker(cfg.Server.BaseURL, userID, logger)

	orch := chat.NewOrchestrator(corr, fallback, store, arch, chat.Defaults{
		Theme:           cfg.Chat.Theme,
		Audience:        cfg.Chat.Audience,
		ResponseStyle:   cfg.Chat.ResponseStyle,
		HistoryBound:    cfg.Chat.HistoryBound,
		QuickTimeout:    cfg.Timeouts.Quick,
		EnhancedTimeout: cfg.Timeouts.Enhanced,
	}, userID, logger)

	fmt.Printf("termchat %s\n", version)
	if err := mgr.Connect(ctx); err != nil {
		logger.Warn("realtime connect failed", "error", err)
		if herr := fallback.Health(ctx); herr != nil {
			color.Yellow("Backend unreachable at %s: %v", cfg.Server.BaseURL, herr)
		} else {
			color.Yellow("No realtime channel; using HTTP at %s.", cfg.Server.BaseURL)
		}
	} else {
		dim.Printf("connected to %s\n", cfg.Server.WSURL)
	}
	defer mgr.Disconnect()

	fmt.Println("Ask a question and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	return repl(ctx, orch, store, mgr)
}

func repl(ctx context.Context, orch *chat.Orchestrator, store *conversation.Store, mgr *conn.Manager) error {
	scanner := bufio.NewScanner(os.Stdin)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	dim := color.New(color.Faint)

	for {
		fmt.Print("> ")

		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)
		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				if err := scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		switch {
		case input == "/quit" || input == "/exit" || input == "/q":
			return nil

		case input == "/help":
			printHelp()
			fmt.Println()
			continue

		case input == "/new":
			id := orch.NewConversation()
			dim.Printf("started %s\n\n", id)
			continue

		case input == "/stats":
			printStats(store, mgr)
			fmt.Println()
			continue

		case input == "/history":
			printHistory(store)
			fmt.Println()
			continue

		case strings.HasPrefix(input, "/upgrade"):
			opts := parseUpgradeArgs(strings.TrimPrefix(input, "/upgrade"))
			resp, err := orch.Upgrade(ctx, opts)
			if err != nil {
				color.Red("upgrade failed: %v", err)
				fmt.Println()
				continue
			}
			green.Println(resp.Content)
			dim.Printf("[%s via %s, enhanced]\n\n", resp.ModelUsed, resp.Provider)
			continue

		case strings.HasPrefix(input, "/raw "):
			question := strings.TrimSpace(strings.TrimPrefix(input, "/raw "))
			resp, err := orch.AskRaw(ctx, question)
			if err != nil {
				color.Red("request failed: %v", err)
				fmt.Println()
				continue
			}
			green.Println(resp.Content)
			dim.Printf("[%s via %s, raw]\n\n", resp.ModelUsed, resp.Provider)
			continue

		case strings.HasPrefix(input, "/"):
			fmt.Printf("Unknown command %q. /help for commands.\n\n", input)
			continue
		}

		resp, err := orch.Ask(ctx, input)
		if err != nil {
			color.Red("request failed: %v", err)
			fmt.Println()
			continue
		}
		green.Println(resp.Content)
		dim.Printf("[%s via %s, quick]\n", resp.ModelUsed, resp.Provider)
		cyan.Println("/upgrade [theme] [audience] for an enhanced answer")
		fmt.Println()
	}
}

// parseUpgradeArgs reads optional "theme audience" positional arguments.
func parseUpgradeArgs(args string) chat.UpgradeOptions {
	fields := strings.Fields(args)
	var opts chat.UpgradeOptions
	if len(fields) > 0 {
		opts.Theme = fields[0]
	}
	if len(fields) > 1 {
		opts.Audience = fields[1]
	}
	if len(fields) > 2 {
		opts.Context = strings.Join(fields[2:], " ")
	}
	return opts
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /upgrade [theme] [audience] [context...]  Enhanced answer for the last question")
	fmt.Println("  /raw <question>                           Ask without any backend guidance")
	fmt.Println("  /new                                      Start a new conversation")
	fmt.Println("  /history                                  Show the current conversation")
	fmt.Println("  /stats                                    Show session statistics")
	fmt.Println("  /quit                                     Exit")
	fmt.Printf("Themes: %s\n", strings.Join(protocol.Themes, ", "))
	fmt.Printf("Audiences: %s\n", strings.Join(protocol.Audiences, ", "))
}

func printStats(store *conversation.Store, mgr *conn.Manager) {
	fmt.Printf("connection: %s\n", mgr.State().String())

	id := store.ActiveID()
	if id == "" {
		fmt.Println("no active conversation")
		return
	}
	meta, err := store.Get(id)
	if err != nil {
		color.Red("reading conversation: %v", err)
		return
	}
	fmt.Printf("conversation: %s\n", meta.ID)
	fmt.Printf("messages: %d\n", meta.MessageCount)
	fmt.Printf("updated: %s\n", meta.UpdatedAt.Format("15:04:05"))
}

func printHistory(store *conversation.Store) {
	id := store.ActiveID()
	if id == "" {
		fmt.Println("no active conversation")
		return
	}
	msgs, err := store.History(id, 0)
	if err != nil {
		color.Red("reading history: %v", err)
		return
	}
	for _, m := range msgs {
		prefix := "you"
		if m.Role == protocol.RoleAssistant {
			prefix = "ai"
		}
		fmt.Printf("%s%s: %s\n", color.HiBlackString(m.Timestamp.Format("15:04 ")), prefix, m.Content)
	}
}
