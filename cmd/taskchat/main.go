// Command taskchat is a console assistant for Todoist backed by Gemini.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	internal "github.com/covall/todoist-ai-chat/taskchat"
	"github.com/covall/todoist-ai-chat/taskchat/config"
	"github.com/covall/todoist-ai-chat/taskchat/console"
	"github.com/covall/todoist-ai-chat/taskchat/db"
	"github.com/covall/todoist-ai-chat/taskchat/gemini"
	"github.com/covall/todoist-ai-chat/taskchat/harness"
	"github.com/covall/todoist-ai-chat/taskchat/toolservice"
)

// Options are interpreted by github.com/jessevdk/go-flags.
type Options struct {
	Config       string `short:"f" long:"config" description:"config YAML path"`
	LogLevel     string `long:"log-level" description:"override log.level (trace|debug|info|warn|error)"`
	PromptPolicy string `long:"prompt-policy" description:"override harness.prompt_policy (session|turn)"`
	Query        string `short:"q" long:"query" description:"send one message and exit"`
	PrintConfig  bool   `long:"print-config" description:"print the effective config with secrets redacted and exit"`
	Version      bool   `short:"v" long:"version" description:"print version and exit"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts := &Options{}
	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if opts.Version {
		fmt.Printf("%s %s\n", internal.DefaultAppName, internal.DefaultClientVersion)
		return 0
	}

	loader := config.NewLoader(opts.Config)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	applyOverrides(cfg, opts)

	if opts.PrintConfig {
		out, err := yaml.Marshal(cfg.Redacted())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Print(string(out))
		return 0
	}

	logger := newLogger(cfg.Log)
	if used := loader.ConfigFileUsed(); used != "" {
		logger.Info().Str("path", used).Msg("Loaded config file")
	}

	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		fmt.Fprintf(os.Stderr, "Error: %v\n%s", err, config.Remediation(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		// A second interrupt during cleanup terminates the process.
		<-ctx.Done()
		stop()
	}()

	if err := chat(ctx, cfg, loader, opts, logger); err != nil {
		logger.Error().Err(err).Msg("Exiting")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func chat(ctx context.Context, cfg *config.Config, loader *config.Loader, opts *Options, logger zerolog.Logger) error {
	var journalDB *sql.DB
	if cfg.Journal.Enabled {
		conn, err := db.Connect(ctx, cfg.Journal.Path, logger)
		if err != nil {
			return fmt.Errorf("open tool journal: %w", err)
		}
		journalDB = conn
		defer func() {
			if err := journalDB.Close(); err != nil {
				logger.Warn().Err(err).Msg("Failed to close tool journal")
			}
		}()
	}

	temperature := cfg.Gemini.Temperature
	provider, err := gemini.NewProvider(ctx, gemini.Config{
		APIKey:      cfg.Gemini.APIKey,
		Model:       cfg.Gemini.Model,
		Temperature: &temperature,
	}, logger)
	if err != nil {
		return err
	}

	manager := toolservice.NewManager(toolservice.Config{
		Endpoint:       cfg.ToolService.Endpoint,
		Token:          cfg.ToolService.Token,
		ConnectTimeout: cfg.ToolService.ConnectTimeout,
		CallTimeout:    cfg.ToolService.CallTimeout,
		ClientName:     internal.DefaultAppName,
		ClientVersion:  internal.DefaultClientVersion,
	}, logger)
	if err := manager.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close tool service connection")
		}
	}()

	invoker := toolservice.NewInvoker(manager, logger,
		toolservice.WithMaxAttempts(cfg.ToolService.MaxAttempts),
		toolservice.WithBackoff(cfg.ToolService.RetryBackoff),
	)

	orch, err := harness.NewFactory(cfg, journalDB, logger).CreateOrchestrator(provider, manager, invoker, os.Stdout)
	if err != nil {
		return err
	}

	loader.Watch(func(next *config.Config, err error) {
		if err != nil {
			logger.Warn().Err(err).Msg("Ignoring unreadable config change")
			return
		}
		if next.Log.Level != cfg.Log.Level {
			zerolog.SetGlobalLevel(parseLevel(next.Log.Level))
			logger.Info().Str("level", next.Log.Level).Msg("Log level changed")
		}
		cfg.Log.Level = next.Log.Level
	})

	con := console.New(orch, os.Stdin, os.Stdout, logger)
	if opts.Query != "" {
		con.RunOnce(ctx, opts.Query)
		return nil
	}

	go func() {
		<-ctx.Done()
		logger.Info().Msg("Shutting down")
		if err := manager.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close tool service connection")
		}
		if err := os.Stdin.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close console input")
		}
	}()

	fmt.Printf("Todoist assistant ready with %d tools. Type \"help\" for commands.\n", len(manager.Tools()))
	return con.Run(ctx)
}

func applyOverrides(cfg *config.Config, opts *Options) {
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.PromptPolicy != "" {
		cfg.Harness.PromptPolicy = opts.PromptPolicy
	}
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	var w io.Writer = os.Stderr
	if !strings.EqualFold(cfg.Format, "json") {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	return zerolog.New(w).With().Timestamp().Str("app", internal.DefaultAppName).Logger()
}

func parseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return level
}
