package node

import (
	"context"
	"fmt"

	"github.com/veea/vbus/address"
	"github.com/veea/vbus/errors"
	"github.com/veea/vbus/wire"
)

// HandleRequest serves a GET, SET, CALL or DESCRIBE request against the tree.
// It always returns a reply; failures are carried in reply.Error.
func (m *Manager) HandleRequest(ctx context.Context, req *wire.Packet) *wire.Packet {
	reply, err := m.handle(ctx, req)
	if err != nil {
		reply = wire.ErrorReply(req, err)
		m.logger.Debug("Request failed", "verb", req.Verb, "path", req.Path, "error", err)
	}
	if m.metrics != nil {
		code := ""
		if reply.Error != nil {
			code = string(reply.Error.Code)
		}
		m.metrics.RecordHandled(string(req.Verb), code)
	}
	return reply
}

func (m *Manager) handle(ctx context.Context, req *wire.Packet) (*wire.Packet, error) {
	busPath, err := address.Parse(req.Path)
	if err != nil {
		return nil, err
	}
	path, err := busPath.RelativeTo(m.prefix)
	if err != nil {
		return nil, err
	}

	el := m.Resolve(path)
	if el == nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrNotFound, busPath)
	}

	switch req.Verb {
	case wire.VerbGet:
		return m.handleGet(ctx, req, el)
	case wire.VerbSet:
		return m.handleSet(ctx, req, el)
	case wire.VerbCall:
		method, ok := el.(*Method)
		if !ok {
			return nil, wrongKind(el, wire.KindMethod)
		}
		result, err := method.Call(ctx, req.Value)
		if err != nil {
			return nil, err
		}
		reply := req.Reply()
		reply.Value = result
		return reply, nil
	case wire.VerbDescribe:
		reply := req.Reply()
		reply.Element = el.Describe(req.Depth)
		return reply, nil
	default:
		return nil, fmt.Errorf("%w: verb %q is not a request", errors.ErrInvalidValue, req.Verb)
	}
}

func (m *Manager) handleGet(ctx context.Context, req *wire.Packet, el Element) (*wire.Packet, error) {
	reply := req.Reply()
	switch e := el.(type) {
	case *Attribute:
		m.mu.RLock()
		value, revision, onGet := e.value, e.revision, e.onGet
		m.mu.RUnlock()
		if onGet != nil {
			v, err := onGet(ctx)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", errors.ErrHandlerFailed, err)
			}
			value = v
		}
		reply.Value = value
		reply.Revision = revision
	case *Node:
		reply.Element = e.Describe(req.Depth)
	default:
		return nil, wrongKind(el, wire.KindAttribute)
	}
	return reply, nil
}

func (m *Manager) handleSet(ctx context.Context, req *wire.Packet, el Element) (*wire.Packet, error) {
	attr, ok := el.(*Attribute)
	if !ok {
		return nil, wrongKind(el, wire.KindAttribute)
	}
	if err := m.validator.Validate(attr.schema, req.Value); err != nil {
		return nil, err
	}
	// The hook runs unlocked so it may touch the tree itself.
	if attr.onSet != nil {
		if err := attr.onSet(ctx, req.Value); err != nil {
			return nil, fmt.Errorf("%w: %w", errors.ErrHandlerFailed, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := attr.setLocked(req.Value); err != nil {
		return nil, err
	}
	reply := req.Reply()
	reply.Value = attr.value
	reply.Revision = attr.revision
	return reply, nil
}

func wrongKind(el Element, want wire.Kind) error {
	return fmt.Errorf("%w: %s is a %s, not a %s", errors.ErrWrongKind, el.Path(), el.Kind(), want)
}
