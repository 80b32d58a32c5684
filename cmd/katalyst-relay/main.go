// Package main is katalyst-relay, the websocket rendezvous server that
// collaboration sessions connect to.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/dshills/katalyst/internal/app"
	"github.com/dshills/katalyst/internal/config"
	"github.com/dshills/katalyst/internal/discovery"
	"github.com/dshills/katalyst/internal/relay"
)

// Version information (set via ldflags during build).
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath string
		logLevel   string
		showVer    bool
	)
	fs := pflag.NewFlagSet("katalyst-relay", pflag.ContinueOnError)
	fs.StringVarP(&configPath, "config", "c", "", "path to a TOML or YAML config file")
	addr := fs.StringP("addr", "a", "", "listen address (default from relay.addr)")
	redisURL := fs.String("redis", "", "redis URL for multi-instance fan-out (redis://host:6379/0)")
	backlog := fs.Int("backlog", 0, "retained frames kept per room")
	advertise := fs.Bool("advertise", false, "announce the relay over mDNS")
	instance := fs.String("instance", "", "mDNS instance name")
	fs.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.BoolVarP(&showVer, "version", "v", false, "show version")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: katalyst-relay [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showVer {
		fmt.Printf("katalyst-relay %s\n", version)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	rc := &cfg.Relay
	if fs.Changed("addr") {
		rc.Addr = *addr
	}
	if fs.Changed("redis") {
		rc.RedisURL = *redisURL
	}
	if fs.Changed("backlog") {
		rc.Backlog = *backlog
	}
	if fs.Changed("advertise") {
		rc.Advertise = *advertise
	}
	if fs.Changed("instance") {
		rc.Instance = *instance
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := app.NewLogger(app.LoggerConfig{Level: cfg.Log.Level, Format: cfg.Log.Format})
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg.Relay, logger)
}

func serve(ctx context.Context, rc config.RelayConfig, logger *slog.Logger) error {
	opts := relay.Options{
		Backlog:   rc.Backlog,
		KeyPrefix: rc.KeyPrefix,
		Logger:    app.WithComponent(logger, "relay"),
	}
	if rc.RedisURL != "" {
		ropts, err := redis.ParseURL(rc.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(ropts)
		defer client.Close()
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = client.Ping(pctx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis %s: %w", ropts.Addr, err)
		}
		opts.Redis = client
		logger.Info("redis fan-out enabled", "addr", ropts.Addr)
	}

	srv := relay.New(opts)
	defer srv.Close()

	ln, err := net.Listen("tcp", rc.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", rc.Addr, err)
	}
	httpSrv := &http.Server{
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if rc.Advertise {
		port := ln.Addr().(*net.TCPAddr).Port
		ad, err := discovery.Advertise(rc.Instance, port, "version="+version)
		if err != nil {
			logger.Warn("mdns advertisement failed", "error", err)
		} else {
			defer ad.Shutdown()
			logger.Info("advertising relay", "instance", rc.Instance, "service", discovery.Service, "port", port)
		}
	}

	errc := make(chan error, 1)
	go func() { errc <- httpSrv.Serve(ln) }()
	logger.Info("relay listening", "addr", ln.Addr().String(), "backlog", rc.Backlog)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	// Websocket connections are hijacked, so Shutdown does not wait for
	// them; closing the relay disconnects every peer.
	srv.Close()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(sctx)
}
