// Package main is the katalyst command: inline suggestions, chat, and a
// headless collaborative client for the playground editor.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/dshills/katalyst/internal/app"
	"github.com/dshills/katalyst/internal/config"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string) error
}

var commands = []command{
	{"suggest", "request an inline suggestion for a file position", runSuggest},
	{"chat", "chat with the assistant on stdin/stdout", runChat},
	{"join", "join a collaboration room with a file", runJoin},
}

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		usage()
		return 2
	}
	switch os.Args[1] {
	case "-h", "--help", "help":
		usage()
		return 0
	case "-v", "--version", "version":
		fmt.Printf("katalyst %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, c := range commands {
		if c.name != os.Args[1] {
			continue
		}
		err := c.run(ctx, os.Args[2:])
		switch {
		case err == nil, errors.Is(err, pflag.ErrHelp):
			return 0
		case errors.Is(err, context.Canceled):
			return 130
		default:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", os.Args[1])
	usage()
	return 2
}

func usage() {
	fmt.Fprintf(os.Stderr, "Katalyst - AI playground editor tools\n\n")
	fmt.Fprintf(os.Stderr, "Usage: katalyst <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(os.Stderr, "\nRun 'katalyst <command> --help' for command options.\n")
	fmt.Fprintf(os.Stderr, "Settings are read from --config and %s* environment variables.\n", config.EnvPrefix)
}

// common holds the flags every command accepts.
type common struct {
	configPath string
	logLevel   string
	logFormat  string
	fs         *pflag.FlagSet
}

func newFlagSet(name, synopsis string) (*pflag.FlagSet, *common) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	c := &common{fs: fs}
	fs.StringVarP(&c.configPath, "config", "c", "", "path to a TOML or YAML config file")
	fs.StringVar(&c.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&c.logFormat, "log-format", "", "log format (text, json)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: katalyst %s %s\n\nOptions:\n", name, synopsis)
		fs.PrintDefaults()
	}
	return fs, c
}

// load reads configuration and applies command-line overrides.
func (c *common) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, nil, err
	}
	if c.fs.Changed("log-level") {
		cfg.Log.Level = c.logLevel
	}
	if c.fs.Changed("log-format") {
		cfg.Log.Format = c.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := app.NewLogger(app.LoggerConfig{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return cfg, logger, nil
}
