package vbus

import (
	"context"
	"runtime"
	"sort"
	"time"

	"github.com/veea/vbus/address"
	"github.com/veea/vbus/errors"
	"github.com/veea/vbus/proxy"
	"github.com/veea/vbus/transport"
	"github.com/veea/vbus/wire"
)

// Discover asks every client of app in domain for its tree, down to maxDepth
// levels (0 for the whole tree), and returns the node "<domain>.<app>" whose
// children are the answering hosts. Answers are collected until ctx ends or
// the request timeout elapses.
func (c *Client) Discover(ctx context.Context, domain, app string, maxDepth int) (*proxy.NodeProxy, error) {
	target, err := address.New(domain, app)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "Discover", "build app path")
	}
	conn, err := c.current()
	if err != nil {
		return nil, err
	}
	if err := c.watch(target); err != nil {
		return nil, err
	}

	replies, err := conn.requester.Collect(ctx, target.String(),
		&wire.Packet{Verb: wire.VerbDescribe, Path: target.String(), Depth: maxDepth}, c.collectWindow(ctx))
	if err != nil {
		return nil, err
	}

	hosts := make(map[string]*wire.Description)
	for _, reply := range replies {
		if reply.Failed() || reply.Element == nil {
			continue
		}
		host, err := address.Parse(reply.Path)
		if err != nil || host.Len() != rootDepth || !target.IsPrefixOf(host) || host.Equal(c.root) {
			continue
		}
		hosts[host.Last()] = reply.Element
	}
	c.logger.Debug("Discovery done", "app", target, "hosts", len(hosts))

	// ctx usually expired while collecting.
	c.registry.Apply(context.WithoutCancel(ctx), target, wire.NodeDescription(hosts))
	handle, err := c.registry.Lookup(target)
	if err != nil {
		return nil, err
	}
	return handle.AsNode()
}

// DiscoverModules lists the clients answering on the info subject, this one
// included, sorted by id then hostname.
func (c *Client) DiscoverModules(ctx context.Context) ([]ModuleInfo, error) {
	conn, err := c.current()
	if err != nil {
		return nil, err
	}

	replies, err := conn.requester.Collect(ctx, InfoSubject,
		&wire.Packet{Verb: wire.VerbGet, Path: InfoSubject}, c.collectWindow(ctx))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var modules []ModuleInfo
	for _, reply := range replies {
		if reply.Info == nil {
			continue
		}
		key := reply.Info.ID + "@" + reply.Info.Hostname
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		modules = append(modules, *reply.Info)
	}
	sort.Slice(modules, func(i, j int) bool {
		if modules[i].ID != modules[j].ID {
			return modules[i].ID < modules[j].ID
		}
		return modules[i].Hostname < modules[j].Hostname
	})
	return modules, nil
}

func (c *Client) collectWindow(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline)
	}
	return c.cfg.RequestTimeout.Duration()
}

// ModuleInfo describes this client.
func (c *Client) ModuleInfo() ModuleInfo {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return ModuleInfo{
		ID:             c.id,
		Hostname:       c.cfg.Hostname,
		Client:         ClientName,
		HasStaticFiles: c.opts.staticPath != "",
		Status:         wire.ModuleStatus{HeapSize: mem.HeapAlloc},
	}
}

func (c *Client) answerDiscovery(t transport.Transport) transport.MsgHandler {
	return func(ctx context.Context, msg *transport.Msg) {
		if msg.Reply == "" {
			return
		}
		req, err := wire.DecodePacket(c.codec, msg.Data)
		if err != nil {
			c.logger.Debug("Dropping undecodable discovery request", "error", err)
			return
		}
		reply := &wire.Packet{
			Verb:    wire.VerbDescribe,
			Path:    c.root.String(),
			ID:      req.ID,
			Element: c.manager.Describe(req.Depth),
			Sender:  c.root.String(),
		}
		c.reply(ctx, t, msg.Reply, reply)
	}
}

func (c *Client) answerInfo(t transport.Transport) transport.MsgHandler {
	return func(ctx context.Context, msg *transport.Msg) {
		if msg.Reply == "" {
			return
		}
		info := c.ModuleInfo()
		c.reply(ctx, t, msg.Reply, &wire.Packet{Verb: wire.VerbGet, Path: InfoSubject, Info: &info, Sender: c.root.String()})
	}
}

func (c *Client) reply(ctx context.Context, t transport.Transport, subject string, p *wire.Packet) {
	data, err := wire.EncodePacket(c.codec, p)
	if err != nil {
		c.logger.Warn("Reply not encodable", "subject", subject, "error", err)
		return
	}
	if err := t.Publish(ctx, subject, data); err != nil {
		c.logger.Debug("Reply not sent", "subject", subject, "error", err)
	}
}
