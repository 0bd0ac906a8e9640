package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath  string
	AppID       string
	TreePath    string
	LogLevel    string
	LogFormat   string
	RemoteLog   bool
	MetricsPort int
	Timeout     time.Duration
	ShowVersion bool
	ShowHelp    bool

	Command string
	Args    []string
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("VBUS_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: VBUS_CONFIG)")

	fs.StringVar(&cfg.AppID, "app",
		getEnv("VBUS_APP", "cli"),
		"Application id, second segment of the client root (env: VBUS_APP)")

	fs.StringVar(&cfg.TreePath, "tree",
		getEnv("VBUS_TREE", ""),
		"YAML or JSON file describing the tree to serve (env: VBUS_TREE)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("VBUS_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: VBUS_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("VBUS_LOG_FORMAT", "text"),
		"Log format: json, text (env: VBUS_LOG_FORMAT)")

	fs.BoolVar(&cfg.RemoteLog, "remote-log",
		getEnvBool("VBUS_REMOTE_LOG", false),
		"Publish logs on the bus while serving (env: VBUS_REMOTE_LOG)")

	fs.IntVar(&cfg.MetricsPort, "metrics-port",
		getEnvInt("VBUS_METRICS_PORT", 0),
		"Prometheus metrics port, 0 to disable (env: VBUS_METRICS_PORT)")

	fs.DurationVar(&cfg.Timeout, "timeout",
		getEnvDuration("VBUS_TIMEOUT", 2*time.Second),
		"Time allowed for one-shot commands and discovery windows (env: VBUS_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")

	fs.Usage = func() { printDetailedHelp(fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		cfg.Command, cfg.Args = rest[0], rest[1:]
	}
	if cfg.ShowHelp {
		fs.Usage()
	}
	return cfg, nil
}

// commandArgs is the number of positional arguments each command accepts.
var commandArgs = map[string][2]int{
	"serve":    {0, 0},
	"discover": {2, 2},
	"modules":  {0, 0},
	"get":      {1, 1},
	"set":      {2, 2},
	"call":     {1, 2},
	"watch":    {1, 1},
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	bounds, ok := commandArgs[cfg.Command]
	if !ok {
		return fmt.Errorf("unknown command: %q", cfg.Command)
	}
	if n := len(cfg.Args); n < bounds[0] || n > bounds[1] {
		return fmt.Errorf("%s: unexpected number of arguments: %d", cfg.Command, n)
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("invalid timeout: %s", cfg.Timeout)
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(os.Stderr, `%s - hierarchical object bus client

Usage: %s [options] <command> [arguments]

Commands:
  serve                     Publish the tree from --tree until interrupted
  discover <domain> <app>   List the hosts of an app and their trees
  modules                   List the clients answering on the bus
  get <path>                Read a remote attribute
  set <path> <json>         Write a remote attribute
  call <path> [json]        Call a remote method
  watch <pattern>           Print notices matching a pattern ("*" is one segment)

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Serve a tree with remote logging
  %s --app=thermo --tree=thermo.yaml --remote-log serve

  # Read a value published by another host
  %s get system.thermo.hub1.sensors.temp1

  # Call a method with JSON arguments
  %s call system.thermo.hub1.pump.start '{"speed": 3}'

Version: %s
`, os.Args[0], os.Args[0], os.Args[0], Version)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
