package vbus

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/veea/vbus/errors"
	"github.com/veea/vbus/node"
)

// UrisNode is the top-level node holding exposed service URIs.
const UrisNode = "uris"

// Expose publishes "<protocol>://<ip>:<port>/<path>" as the attribute
// uris.<name> of the local tree.
func (c *Client) Expose(name, protocol string, port int, path string) (string, error) {
	if port <= 0 || port > 65535 {
		return "", errors.WrapInvalid(fmt.Errorf("%w: port %d", errors.ErrInvalidValue, port), "Client", "Expose", "validate port")
	}
	uri := fmt.Sprintf("%s://%s/%s", protocol, net.JoinHostPort(c.networkIP(), strconv.Itoa(port)), strings.TrimPrefix(path, "/"))

	uris, err := c.manager.Node(UrisNode)
	if err != nil {
		if errors.CodeOf(err) != errors.CodeNotFound {
			return "", err
		}
		if _, err := c.manager.AddNode(UrisNode, node.Def{name: uri}); err != nil {
			return "", err
		}
		return uri, nil
	}
	if _, err := uris.SetAttribute(name, uri); err != nil {
		return "", err
	}
	return uri, nil
}

// networkIP returns the address other hosts reach this one on: the host of the
// connected server URL when it is an IP, else the first non-loopback IPv4.
func (c *Client) networkIP() string {
	if conn, err := c.current(); err == nil && conn.url != "" {
		if u, err := url.Parse(conn.url); err == nil {
			if ip := net.ParseIP(u.Hostname()); ip != nil && !ip.IsLoopback() {
				return ip.String()
			}
		}
	}
	if addrs, err := net.InterfaceAddrs(); err == nil {
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
				return ipNet.IP.String()
			}
		}
	}
	return c.cfg.Hostname
}

// serveStatic returns the base64 content of a file under the static path.
// Unknown files fall back to index.html so that single page apps can route.
func (c *Client) serveStatic(_ context.Context, args any) (any, error) {
	uri, err := staticURI(args)
	if err != nil {
		return nil, err
	}

	// Cleaning a rooted path drops every ".." that would escape the folder.
	rel := strings.TrimPrefix(filepath.Clean("/"+filepath.FromSlash(uri)), string(filepath.Separator))
	file := filepath.Join(c.opts.staticPath, rel)
	if info, err := os.Stat(file); err != nil || info.IsDir() {
		file = filepath.Join(c.opts.staticPath, "index.html")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("%w: static file %s", errors.ErrNotFound, uri)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// staticURI accepts "uri", ["method", "uri"] or {"uri": "uri"}.
func staticURI(args any) (string, error) {
	switch v := args.(type) {
	case string:
		return v, nil
	case []any:
		if len(v) > 0 {
			if s, ok := v[len(v)-1].(string); ok {
				return s, nil
			}
		}
	case map[string]any:
		if s, ok := v["uri"].(string); ok {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: static expects a uri, got %T", errors.ErrInvalidValue, args)
}
