// Command poolbot runs the pool market bot, the query server, or one of the
// one-shot maintenance modes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/poolbot/internal/app"
	"github.com/alanyoungcy/poolbot/internal/config"
	"github.com/alanyoungcy/poolbot/internal/domain"
)

// options are the command-line flags.
type options struct {
	configPath string
	mode       string
	market     string
	outcome    string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("poolbot", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "config.toml", "path to configuration file")
	fs.StringVar(&o.mode, "mode", "", "override the configured mode (full, bot, server, approve, resolve)")
	fs.StringVar(&o.market, "market", "", "market id to settle in resolve mode")
	fs.StringVar(&o.outcome, "outcome", "", "resolution outcome in resolve mode: yes or no")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return o, nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger := newLogger("info")
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", opts.configPath),
			slog.String("error", err.Error()),
		)
		return 1
	}
	if opts.mode != "" {
		cfg.Mode = opts.mode
	}

	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return 1
	}

	application := app.New(cfg, logger)
	defer application.Close()

	if strings.EqualFold(cfg.Mode, "resolve") {
		yes, err := parseOutcome(opts.outcome)
		if err != nil {
			logger.Error("invalid resolve arguments", slog.String("error", err.Error()))
			return 1
		}
		application.SetResolveTarget(app.ResolveTarget{MarketID: opts.market, OutcomeYes: yes})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch err := application.Run(ctx); {
	case err == nil:
	case errors.Is(err, context.Canceled):
		logger.Info("shut down on signal")
	default:
		logger.Error("poolbot exited with error", slog.String("error", err.Error()))
		return 1
	}
	logger.Info("poolbot stopped")
	return 0
}

// newLogger builds the JSON logger. Unknown levels fall back to info.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

func parseOutcome(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "1":
		return true, nil
	case "no", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: -outcome must be yes or no, got %q", domain.ErrConfiguration, s)
}
