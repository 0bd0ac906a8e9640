// Package main implements the vbus command line client. It serves a tree
// described in a file or runs one-shot requests against remote trees.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/veea/vbus"
	"github.com/veea/vbus/config"
	"github.com/veea/vbus/metric"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "vbus"
)

const shutdownTimeout = 5 * time.Second

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("Command failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cli, err := parseFlags(args)
	if err != nil {
		return err
	}
	if cli.ShowVersion {
		fmt.Printf("%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	}
	if cli.ShowHelp {
		return nil
	}
	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	logger := setupLogger(cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cli.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	registry := metric.NewMetricsRegistry()
	opts := []vbus.Option{
		vbus.WithConfig(cfg),
		vbus.WithLogger(logger),
		vbus.WithMetrics(registry),
	}
	if cli.RemoteLog {
		opts = append(opts, vbus.WithRemoteLogging(parseLevel(cli.LogLevel)))
	}

	client, err := vbus.New(cli.AppID, opts...)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := client.Close(ctx); err != nil {
			slog.Warn("Close failed", "error", err)
		}
	}()

	if cli.Command == "serve" && cli.TreePath != "" {
		tree, err := loadTree(cli.TreePath)
		if err != nil {
			return err
		}
		if err := addTree(client, tree); err != nil {
			return err
		}
	}

	if cli.MetricsPort > 0 {
		server := metric.NewServer(fmt.Sprintf(":%d", cli.MetricsPort), "/metrics", registry)
		if err := server.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = server.Stop(ctx)
		}()
		slog.Info("Metrics server started", "address", server.Address())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	slog.Debug("Connected", "root", client.Root())

	return runCommand(ctx, client, cli, os.Stdout)
}

// loadConfig reads path when given, else defaults overridden by the environment.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}
