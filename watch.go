package vbus

import (
	"context"
	"fmt"
	"strings"

	"github.com/veea/vbus/address"
	"github.com/veea/vbus/errors"
	"github.com/veea/vbus/transport"
	"github.com/veea/vbus/wire"
)

// watchSet is a group of notice subscriptions that outlives a connection:
// Disconnect drops the subscriptions and Connect restores them.
type watchSet struct {
	subjects []string
	handler  transport.MsgHandler
	subs     []transport.Subscription
}

func (w *watchSet) subscribe(conn *connection) error {
	for _, subject := range w.subjects {
		sub, err := conn.transport.Subscribe(conn.ctx, subject, w.handler)
		if err != nil {
			w.unsubscribe()
			return err
		}
		w.subs = append(w.subs, sub)
	}
	return nil
}

func (w *watchSet) unsubscribe() {
	for _, sub := range w.subs {
		_ = sub.Unsubscribe()
	}
	w.subs = nil
}

// watch subscribes to the notices published under prefix, once. A broader
// subscription replaces the narrower ones it covers.
func (c *Client) watch(prefix address.Path) error {
	conn, err := c.current()
	if err != nil {
		return err
	}

	c.watchMu.Lock()
	defer c.watchMu.Unlock()

	for key := range c.watched {
		if covers(key, prefix.Key()) {
			return nil
		}
	}

	w := &watchSet{subjects: []string{prefix.Wildcard()}, handler: c.handleNotice}
	if err := w.subscribe(conn); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnection, err),
			"Client", "GetRemote", "subscribe "+prefix.Wildcard())
	}
	for key, narrower := range c.watched {
		if covers(prefix.Key(), key) {
			narrower.unsubscribe()
			delete(c.watched, key)
		}
	}
	c.watched[prefix.Key()] = w
	c.logger.Debug("Watching remote tree", "prefix", prefix)
	return nil
}

// covers reports whether the subscription on outer.> receives the notices of inner.
func covers(outer, inner string) bool {
	return outer == inner || strings.HasPrefix(inner, outer+address.Separator)
}

// suspendWatches drops the subscriptions of every watch and keeps the watches.
func (c *Client) suspendWatches() {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()

	for _, w := range c.watched {
		w.unsubscribe()
	}
	for _, w := range c.patterns {
		w.unsubscribe()
	}
}

// resumeWatches subscribes every watch on conn.
func (c *Client) resumeWatches(conn *connection) error {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()

	n := 0
	for _, set := range []map[string]*watchSet{c.watched, c.patterns} {
		for key, w := range set {
			w.unsubscribe()
			if err := w.subscribe(conn); err != nil {
				return errors.Wrap(err, "Client", "Connect", "resubscribe "+key)
			}
			n++
		}
	}
	if n > 0 {
		c.logger.Debug("Watches restored", "count", n)
	}
	return nil
}

// PatternEvent is a notice matched by WatchPattern.
type PatternEvent struct {
	// Verb is wire.VerbAdd, wire.VerbRemove or wire.VerbNotify.
	Verb wire.Verb
	Path address.Path
	// Captures holds the segments matched by each "*" of the pattern.
	Captures []string
	Value    any
	Revision uint64
	// Element describes an added element.
	Element *wire.Description
}

// WatchPattern calls fn for every notice about a remote element whose path
// matches pattern, where "*" stands for one segment: attribute changes, and
// elements added or removed. Callbacks run on the proxy callback dispatcher.
// The watch survives reconnects; the returned function ends it.
func (c *Client) WatchPattern(pattern string, fn func(PatternEvent)) (cancel func(), err error) {
	p, err := address.ParsePattern(pattern)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "WatchPattern", "parse pattern")
	}
	if p.Len() < 2 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: pattern %q needs a parent", errors.ErrInvalidPath, pattern),
			"Client", "WatchPattern", "validate pattern")
	}
	conn, err := c.current()
	if err != nil {
		return nil, err
	}

	// One subscription on the parent keeps ADD, REMOVE and NOTIFY in order.
	w := &watchSet{
		subjects: []string{p.Parent().Subject(">")},
		handler:  c.patternHandler(p, fn),
	}

	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if err := w.subscribe(conn); err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnection, err),
			"Client", "WatchPattern", "subscribe "+pattern)
	}
	c.patternSeq++
	key := fmt.Sprintf("%s#%d", pattern, c.patternSeq)
	c.patterns[key] = w
	c.logger.Debug("Watching pattern", "pattern", pattern)

	return func() {
		c.watchMu.Lock()
		defer c.watchMu.Unlock()
		if w, ok := c.patterns[key]; ok {
			w.unsubscribe()
			delete(c.patterns, key)
		}
	}, nil
}

func (c *Client) patternHandler(p address.Pattern, fn func(PatternEvent)) transport.MsgHandler {
	return func(_ context.Context, msg *transport.Msg) {
		if msg.Reply != "" {
			return
		}
		packet, err := wire.DecodePacket(c.codec, msg.Data)
		if err != nil || !packet.Verb.IsNotice() {
			return
		}
		path, err := address.Parse(packet.Path)
		if err != nil || c.root.IsPrefixOf(path) {
			return
		}
		captures, ok := p.Match(path)
		if !ok {
			return
		}
		ev := PatternEvent{
			Verb:     packet.Verb,
			Path:     path,
			Captures: captures,
			Value:    packet.Value,
			Revision: packet.Revision,
			Element:  packet.Element,
		}
		if err := c.registry.Deliver(func() { fn(ev) }); err != nil {
			c.logger.Warn("Pattern callback dropped", "pattern", p, "path", path, "error", err)
		}
	}
}
