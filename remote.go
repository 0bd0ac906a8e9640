package vbus

import (
	"context"
	"fmt"
	"strings"

	"github.com/veea/vbus/address"
	"github.com/veea/vbus/errors"
	"github.com/veea/vbus/proxy"
	"github.com/veea/vbus/transport"
	"github.com/veea/vbus/wire"
)

// rootDepth is the number of segments of a client root: domain, app, host.
const rootDepth = 3

// GetRemote returns the proxy of a remote element, describing it when its
// kind is not known yet. The same proxy is returned for the same path for the
// lifetime of the client.
func (c *Client) GetRemote(ctx context.Context, path string) (*proxy.UnknownProxy, error) {
	p, err := c.remotePath(path)
	if err != nil {
		return nil, err
	}

	if handle, ok := c.registry.Existing(p); ok && handle.Kind() != wire.KindUnknown {
		return handle, nil
	}
	if p.Len() < rootDepth {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s is above a client root, use Discover", errors.ErrInvalidPath, p),
			"Client", "GetRemote", "validate path")
	}

	if c.negative != nil {
		if _, missing := c.negative.Get(p.Key()); missing {
			return nil, errors.NewRemoteError(errors.CodeNotFound, "element not found (cached)", p.String())
		}
	}

	handle, err := c.registry.Lookup(p)
	if err != nil {
		return nil, err
	}
	if err := c.watch(ownerRoot(p)); err != nil {
		return nil, err
	}
	if err := handle.Refresh(ctx); err != nil {
		if c.negative != nil && errors.CodeOf(err) == errors.CodeNotFound {
			_, _ = c.negative.Set(p.Key(), struct{}{})
		}
		return nil, err
	}
	return handle, nil
}

// GetRemoteNode returns the node proxy at path.
func (c *Client) GetRemoteNode(ctx context.Context, path string) (*proxy.NodeProxy, error) {
	handle, err := c.GetRemote(ctx, path)
	if err != nil {
		return nil, err
	}
	return handle.AsNode()
}

// GetRemoteAttribute returns the attribute proxy at path.
func (c *Client) GetRemoteAttribute(ctx context.Context, path string) (*proxy.AttributeProxy, error) {
	handle, err := c.GetRemote(ctx, path)
	if err != nil {
		return nil, err
	}
	return handle.AsAttribute()
}

// GetRemoteMethod returns the method proxy at path.
func (c *Client) GetRemoteMethod(ctx context.Context, path string) (*proxy.MethodProxy, error) {
	handle, err := c.GetRemote(ctx, path)
	if err != nil {
		return nil, err
	}
	return handle.AsMethod()
}

func (c *Client) remotePath(path string) (address.Path, error) {
	p, err := address.Parse(path)
	if err != nil {
		return address.Path{}, errors.WrapInvalid(err, "Client", "GetRemote", "parse path")
	}
	if c.root.IsPrefixOf(p) {
		return address.Path{}, errors.WrapInvalid(fmt.Errorf("%w: %s belongs to the local tree", errors.ErrInvalidPath, p),
			"Client", "GetRemote", "validate path")
	}
	return p, nil
}

// ownerRoot returns the root of the client owning p.
func ownerRoot(p address.Path) address.Path {
	if p.Len() <= rootDepth {
		return p
	}
	root, _ := address.New(p.Segments()[:rootDepth]...)
	return root
}

func (c *Client) handleNotice(ctx context.Context, msg *transport.Msg) {
	if msg.Reply != "" {
		return
	}
	verb, ok := wire.ParseVerb(msg.Subject[strings.LastIndex(msg.Subject, address.Separator)+1:])
	if !ok || !verb.IsNotice() {
		return
	}
	packet, err := wire.DecodePacket(c.codec, msg.Data)
	if err != nil {
		c.logger.Debug("Dropping undecodable notice", "subject", msg.Subject, "error", err)
		return
	}
	if path, err := address.Parse(packet.Path); err != nil || c.root.IsPrefixOf(path) {
		return
	}
	if packet.Verb == wire.VerbAdd && c.negative != nil {
		if n := c.negative.DeletePrefix(packet.Path); n > 0 {
			c.logger.Debug("Negative lookups invalidated", "path", packet.Path, "count", n)
		}
	}
	c.registry.HandleNotice(ctx, packet)
}
