package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/veea/vbus"
)

func runCommand(ctx context.Context, client *vbus.Client, cli *CLIConfig, out io.Writer) error {
	switch cli.Command {
	case "serve":
		return serve(ctx, client)
	case "watch":
		return watch(ctx, client, cli.Args[0], out)
	}

	ctx, cancel := context.WithTimeout(ctx, cli.Timeout)
	defer cancel()

	switch cli.Command {
	case "discover":
		return discover(ctx, client, cli.Args[0], cli.Args[1], out)
	case "modules":
		modules, err := client.DiscoverModules(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, modules)
	case "get":
		attr, err := client.GetRemoteAttribute(ctx, cli.Args[0])
		if err != nil {
			return err
		}
		value, err := attr.Get(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, value)
	case "set":
		value, err := parseJSONArg(cli.Args[1])
		if err != nil {
			return err
		}
		attr, err := client.GetRemoteAttribute(ctx, cli.Args[0])
		if err != nil {
			return err
		}
		return attr.Set(ctx, value)
	case "call":
		var args any
		if len(cli.Args) > 1 {
			var err error
			if args, err = parseJSONArg(cli.Args[1]); err != nil {
				return err
			}
		}
		method, err := client.GetRemoteMethod(ctx, cli.Args[0])
		if err != nil {
			return err
		}
		result, err := method.Call(ctx, args)
		if err != nil {
			return err
		}
		return printJSON(out, result)
	default:
		return fmt.Errorf("unknown command: %q", cli.Command)
	}
}

func serve(ctx context.Context, client *vbus.Client) error {
	client.Logger().Info("Serving", "root", client.Root(), "elements", client.Nodes().Len())
	for {
		select {
		case <-ctx.Done():
			slog.Info("Received shutdown signal")
			return nil
		case ev, ok := <-client.Events():
			if !ok {
				return nil
			}
			if ev.Err != nil {
				slog.Warn("Connection event", "kind", ev.Kind, "url", ev.URL, "error", ev.Err)
			} else {
				slog.Info("Connection event", "kind", ev.Kind, "url", ev.URL)
			}
		}
	}
}

// noticeLine is the output of watch, one JSON object per line.
type noticeLine struct {
	Verb     string `json:"verb"`
	Path     string `json:"path"`
	Value    any    `json:"value,omitempty"`
	Revision uint64 `json:"revision,omitempty"`
}

// watch prints the notices matching pattern until ctx ends.
func watch(ctx context.Context, client *vbus.Client, pattern string, out io.Writer) error {
	enc := json.NewEncoder(out)
	stop, err := client.WatchPattern(pattern, func(ev vbus.PatternEvent) {
		line := noticeLine{Verb: string(ev.Verb), Path: ev.Path.String(), Value: ev.Value, Revision: ev.Revision}
		if ev.Element != nil {
			line.Value, line.Revision = ev.Element.Value, ev.Element.Revision
		}
		if err := enc.Encode(line); err != nil {
			slog.Warn("Notice not printed", "path", line.Path, "error", err)
		}
	})
	if err != nil {
		return err
	}
	defer stop()

	<-ctx.Done()
	return nil
}

// discover prints every host of the app with its top-level elements.
func discover(ctx context.Context, client *vbus.Client, domain, app string, out io.Writer) error {
	root, err := client.Discover(ctx, domain, app, 2)
	if err != nil {
		return err
	}
	// ctx is spent by the discovery window.
	hosts, err := root.Children(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}

	listing := make(map[string][]string, len(hosts))
	for _, host := range hosts {
		node, err := host.AsNode()
		if err != nil {
			continue
		}
		children, err := node.Children(context.WithoutCancel(ctx))
		if err != nil {
			slog.Debug("Host not listed", "host", host.Path(), "error", err)
			continue
		}
		names := make([]string, 0, len(children))
		for _, child := range children {
			names = append(names, child.Path().Last())
		}
		listing[host.Path().String()] = names
	}
	return printJSON(out, listing)
}

func parseJSONArg(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("invalid JSON argument %q: %w", s, err)
	}
	return v, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
