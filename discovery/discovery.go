package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/veea/vbus/config"
	"github.com/veea/vbus/errors"
	"github.com/veea/vbus/pkg/retry"
)

// MeshDomain is appended to the host name by the default host strategy.
const MeshDomain = "veeamesh.local"

// Strategy yields candidate URLs. Strategies are tried in order.
type Strategy struct {
	Name       string
	Candidates func(ctx context.Context) ([]string, error)
}

// Pinger checks that a NATS server answers at url.
type Pinger func(ctx context.Context, url string) error

// Result is the URL found and the strategy that produced it.
type Result struct {
	URL      string
	Strategy string
}

// Static returns a strategy yielding the given URLs. Empty entries are skipped.
func Static(name string, urls ...string) Strategy {
	return Strategy{
		Name: name,
		Candidates: func(context.Context) ([]string, error) {
			var out []string
			for _, u := range urls {
				if u != "" {
					out = append(out, u)
				}
			}
			return out, nil
		},
	}
}

// Env returns a strategy reading the URL from the environment variable key.
func Env(key string) Strategy {
	return Strategy{
		Name: "env",
		Candidates: func(context.Context) ([]string, error) {
			if u := os.Getenv(key); u != "" {
				return []string{u}, nil
			}
			return nil, nil
		},
	}
}

// DefaultHost returns nats://<hostname>.veeamesh.local:<port>.
func DefaultHost(hostname string, port int) Strategy {
	return Static("default", fmt.Sprintf("nats://%s.%s:%d", hostname, MeshDomain, port))
}

// Localhost returns nats://localhost:<port>.
func Localhost(port int) Strategy {
	return Static("localhost", fmt.Sprintf("nats://localhost:%d", port))
}

// Finder walks strategies until a candidate URL answers a ping.
type Finder struct {
	strategies  []Strategy
	ping        Pinger
	retry       retry.Config
	concurrency int
	logger      *slog.Logger
}

// Option configures a Finder.
type Option func(*Finder)

// WithRetry sets the retry policy applied to each ping.
func WithRetry(cfg retry.Config) Option {
	return func(f *Finder) {
		f.retry = cfg
	}
}

// WithConcurrency bounds how many candidates of one strategy are pinged at once.
func WithConcurrency(n int) Option {
	return func(f *Finder) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Finder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFinder creates a finder pinging candidates with ping.
func NewFinder(ping Pinger, strategies []Strategy, opts ...Option) *Finder {
	f := &Finder{
		strategies:  strategies,
		ping:        ping,
		retry:       retry.Ping(),
		concurrency: 4,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("component", "discovery")
	return f
}

// Find returns the first reachable URL. Candidates of one strategy are pinged
// concurrently; the earliest listed reachable candidate wins. A URL is pinged
// at most once across strategies.
func (f *Finder) Find(ctx context.Context) (Result, error) {
	tried := make(map[string]struct{})
	var order []string

	for _, s := range f.strategies {
		if err := ctx.Err(); err != nil {
			return Result{}, errors.Wrap(err, "Finder", "Find", "discovery cancelled")
		}

		candidates, err := s.Candidates(ctx)
		if err != nil {
			f.logger.Debug("Strategy failed", "strategy", s.Name, "error", err)
			continue
		}

		var fresh []string
		for _, u := range candidates {
			if _, seen := tried[u]; seen {
				continue
			}
			tried[u] = struct{}{}
			order = append(order, u)
			fresh = append(fresh, u)
		}
		if len(fresh) == 0 {
			f.logger.Debug("No candidate", "strategy", s.Name)
			continue
		}

		if u, ok := f.pingAll(ctx, fresh); ok {
			f.logger.Debug("URL found", "strategy", s.Name, "url", u)
			return Result{URL: u, Strategy: s.Name}, nil
		}
		f.logger.Debug("No reachable candidate", "strategy", s.Name, "candidates", fresh)
	}

	return Result{}, errors.WrapTransient(
		fmt.Errorf("%w: no reachable bus url (tried %s)", errors.ErrConnection, strings.Join(order, ", ")),
		"Finder", "Find", "discover bus url")
}

func (f *Finder) pingAll(ctx context.Context, urls []string) (string, bool) {
	reachable := make([]bool, len(urls))

	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, u := range urls {
		g.Go(func() error {
			err := retry.Do(ctx, f.retry, func() error {
				return f.ping(ctx, u)
			})
			if err != nil {
				f.logger.Debug("Ping failed", "url", u, "error", err)
				return nil
			}
			reachable[i] = true
			return nil
		})
	}
	_ = g.Wait()

	for i, ok := range reachable {
		if ok {
			return urls[i], true
		}
	}
	return "", false
}

// Chain returns the standard strategy order: the configured URL, VBUS_URL,
// the URL persisted by a previous run, the mesh host name, localhost, and
// zeroconf when enabled.
func Chain(cfg *config.Config, persisted string) []Strategy {
	chain := []Strategy{
		Static("config", cfg.URL),
		Env(config.EnvURL),
		Static("persisted", persisted),
		DefaultHost(cfg.Hostname, cfg.Discovery.Port),
		Localhost(cfg.Discovery.Port),
	}
	if cfg.Discovery.Zeroconf {
		chain = append(chain, Zeroconf(cfg.Discovery.ZeroconfWindow.Duration()))
	}
	return chain
}
