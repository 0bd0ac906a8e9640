package proxy

import (
	"context"
	"fmt"
	"sort"

	"github.com/veea/vbus/address"
	"github.com/veea/vbus/errors"
	"github.com/veea/vbus/wire"
)

// Proxy is the capability shared by every proxy kind.
type Proxy interface {
	Path() address.Path
	Kind() wire.Kind
	Refresh(ctx context.Context) error
}

var (
	_ Proxy = (*UnknownProxy)(nil)
	_ Proxy = (*NodeProxy)(nil)
	_ Proxy = (*AttributeProxy)(nil)
	_ Proxy = (*MethodProxy)(nil)
)

// UnknownProxy is the canonical handle for a remote path. Its kind follows the
// registry, so every holder observes a resolution on next access.
type UnknownProxy struct {
	reg *Registry
	rec *record
}

// Path returns the remote path.
func (p *UnknownProxy) Path() address.Path { return p.rec.path }

// Kind returns the current resolution.
func (p *UnknownProxy) Kind() wire.Kind {
	p.reg.mu.Lock()
	defer p.reg.mu.Unlock()
	return p.rec.kind
}

// Refresh describes the remote element and resolves the handle in place.
func (p *UnknownProxy) Refresh(ctx context.Context) error {
	return p.reg.refresh(ctx, p.rec)
}

// Resolve refreshes when the kind is unknown and returns the typed proxy.
func (p *UnknownProxy) Resolve(ctx context.Context) (Proxy, error) {
	if p.Kind() == wire.KindUnknown {
		if err := p.Refresh(ctx); err != nil {
			return nil, err
		}
	}
	switch p.Kind() {
	case wire.KindNode:
		return p.AsNode()
	case wire.KindAttribute:
		return p.AsAttribute()
	case wire.KindMethod:
		return p.AsMethod()
	}
	return nil, fmt.Errorf("%w: %s", errors.ErrNotResolved, p.Path())
}

// AsNode returns the node view. It fails with ErrNotResolved while the kind is
// unknown and ErrWrongKind when the element is not a node.
func (p *UnknownProxy) AsNode() (*NodeProxy, error) {
	p.reg.mu.Lock()
	defer p.reg.mu.Unlock()
	if err := p.expectLocked(wire.KindNode); err != nil {
		return nil, err
	}
	if p.rec.node == nil {
		p.rec.node = &NodeProxy{reg: p.reg, rec: p.rec}
	}
	return p.rec.node, nil
}

// AsAttribute returns the attribute view.
func (p *UnknownProxy) AsAttribute() (*AttributeProxy, error) {
	p.reg.mu.Lock()
	defer p.reg.mu.Unlock()
	if err := p.expectLocked(wire.KindAttribute); err != nil {
		return nil, err
	}
	if p.rec.attr == nil {
		p.rec.attr = &AttributeProxy{reg: p.reg, rec: p.rec}
	}
	return p.rec.attr, nil
}

// AsMethod returns the method view.
func (p *UnknownProxy) AsMethod() (*MethodProxy, error) {
	p.reg.mu.Lock()
	defer p.reg.mu.Unlock()
	if err := p.expectLocked(wire.KindMethod); err != nil {
		return nil, err
	}
	if p.rec.method == nil {
		p.rec.method = &MethodProxy{reg: p.reg, rec: p.rec}
	}
	return p.rec.method, nil
}

func (p *UnknownProxy) expectLocked(kind wire.Kind) error {
	switch p.rec.kind {
	case kind:
		return nil
	case wire.KindUnknown:
		return fmt.Errorf("%w: %s", errors.ErrNotResolved, p.rec.path)
	default:
		return fmt.Errorf("%w: %s is a %s, not a %s", errors.ErrWrongKind, p.rec.path, p.rec.kind, kind)
	}
}

// checkKind rejects operations on an element known to be of another kind. An
// unknown kind goes through so the remote answers, e.g. with NotFound.
func (r *Registry) checkKind(rec *record, kind wire.Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.kind != kind && rec.kind != wire.KindUnknown {
		return fmt.Errorf("%w: %s is a %s, not a %s", errors.ErrWrongKind, rec.path, rec.kind, kind)
	}
	return nil
}

// NodeProxy is a remote node.
type NodeProxy struct {
	reg *Registry
	rec *record
}

// Path returns the remote path.
func (p *NodeProxy) Path() address.Path { return p.rec.path }

// Kind returns the current kind of the path.
func (p *NodeProxy) Kind() wire.Kind { return p.rec.unknown.Kind() }

// Refresh re-describes the node and its direct children.
func (p *NodeProxy) Refresh(ctx context.Context) error {
	return p.reg.refresh(ctx, p.rec)
}

// Handle returns the canonical handle of the node path.
func (p *NodeProxy) Handle() *UnknownProxy { return p.rec.unknown }

// Children returns handles for the direct children sorted by segment. The first
// call describes the node when its children are not known yet; afterwards the
// list follows ADD and REMOVE notices.
func (p *NodeProxy) Children(ctx context.Context) ([]*UnknownProxy, error) {
	if err := p.reg.checkKind(p.rec, wire.KindNode); err != nil {
		return nil, err
	}

	p.reg.mu.Lock()
	loaded := p.rec.childrenLoaded
	p.reg.mu.Unlock()
	if !loaded {
		if err := p.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	p.reg.mu.Lock()
	defer p.reg.mu.Unlock()

	names := make([]string, 0, len(p.rec.children))
	for name := range p.rec.children {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*UnknownProxy, 0, len(names))
	for _, name := range names {
		childPath, err := p.rec.path.Child(name)
		if err != nil {
			continue
		}
		out = append(out, p.reg.recordLocked(childPath).unknown)
	}
	return out, nil
}

// Child returns the handle for segment below the node, unresolved if never seen.
func (p *NodeProxy) Child(segment string) (*UnknownProxy, error) {
	childPath, err := p.rec.path.Child(segment)
	if err != nil {
		return nil, errors.WrapInvalid(err, "NodeProxy", "Child", "build child path")
	}
	return p.reg.Lookup(childPath)
}

// OnAdd registers cb for elements added below the node. The Change carries
// the child path, its kind and, for attributes, its value.
func (p *NodeProxy) OnAdd(cb func(Change)) (cancel func()) {
	return p.reg.listen(&p.rec.addListeners, cb)
}

// OnRemove registers cb for elements removed from below the node.
func (p *NodeProxy) OnRemove(cb func(Change)) (cancel func()) {
	return p.reg.listen(&p.rec.removeListeners, cb)
}

// AttributeProxy is a remote attribute with a cached value.
type AttributeProxy struct {
	reg *Registry
	rec *record
}

// Path returns the remote path.
func (p *AttributeProxy) Path() address.Path { return p.rec.path }

// Kind returns the current kind of the path.
func (p *AttributeProxy) Kind() wire.Kind { return p.rec.unknown.Kind() }

// Refresh re-describes the attribute.
func (p *AttributeProxy) Refresh(ctx context.Context) error {
	return p.reg.refresh(ctx, p.rec)
}

// Handle returns the canonical handle of the attribute path.
func (p *AttributeProxy) Handle() *UnknownProxy { return p.rec.unknown }

// Value returns the cached value without contacting the remote.
func (p *AttributeProxy) Value() any {
	p.reg.mu.Lock()
	defer p.reg.mu.Unlock()
	return p.rec.value
}

// Revision returns the cached revision.
func (p *AttributeProxy) Revision() uint64 {
	p.reg.mu.Lock()
	defer p.reg.mu.Unlock()
	return p.rec.revision
}

// Schema returns the schema announced by the remote.
func (p *AttributeProxy) Schema() map[string]any {
	p.reg.mu.Lock()
	defer p.reg.mu.Unlock()
	return p.rec.schema
}

// Fresh reports whether the cached value can be served without a GET.
func (p *AttributeProxy) Fresh() bool {
	p.reg.mu.Lock()
	defer p.reg.mu.Unlock()
	return p.freshLocked()
}

func (p *AttributeProxy) freshLocked() bool {
	if p.reg.staleAfter <= 0 || p.rec.removed || p.rec.kind != wire.KindAttribute || p.rec.updated.IsZero() {
		return false
	}
	return p.reg.now().Sub(p.rec.updated) < p.reg.staleAfter
}

// Get returns the cached value when fresh, otherwise fetches it.
func (p *AttributeProxy) Get(ctx context.Context) (any, error) {
	if err := p.reg.checkKind(p.rec, wire.KindAttribute); err != nil {
		return nil, err
	}

	p.reg.mu.Lock()
	if p.freshLocked() {
		v := p.rec.value
		p.reg.mu.Unlock()
		return v, nil
	}
	p.reg.mu.Unlock()

	reply, err := p.reg.request(ctx, p.rec.path, &wire.Packet{Verb: wire.VerbGet})
	if err != nil {
		if errors.CodeOf(err) == errors.CodeNotFound {
			p.reg.mu.Lock()
			changes := p.reg.tombstoneLocked(p.rec.path)
			p.reg.mu.Unlock()
			p.reg.dispatch(changes)
		}
		return nil, err
	}

	p.reg.mu.Lock()
	changes := p.reg.observeLocked(p.rec, reply.Value, reply.Revision)
	value := p.rec.value
	p.reg.mu.Unlock()
	p.reg.dispatch(changes)
	return value, nil
}

// observeLocked records a value read from the remote.
func (r *Registry) observeLocked(rec *record, value any, revision uint64) []delivery {
	rec.kind = wire.KindAttribute
	rec.removed = false
	rec.updated = r.now()
	if revision < rec.revision {
		return nil
	}
	changed := revision > rec.revision
	rec.value = value
	rec.revision = revision
	if !changed {
		return nil
	}
	return []delivery{r.changeLocked(rec, false)}
}

// Set writes value remotely. The cache is updated optimistically and reverted
// when the write fails, unless a newer revision arrived in the meantime.
func (p *AttributeProxy) Set(ctx context.Context, value any) error {
	if err := p.reg.checkKind(p.rec, wire.KindAttribute); err != nil {
		return err
	}

	p.reg.mu.Lock()
	prevValue, prevRevision := p.rec.value, p.rec.revision
	p.rec.value = value
	p.reg.mu.Unlock()

	reply, err := p.reg.request(ctx, p.rec.path, &wire.Packet{Verb: wire.VerbSet, Value: value})
	if err != nil {
		p.reg.mu.Lock()
		if p.rec.revision == prevRevision {
			p.rec.value = prevValue
		}
		p.reg.mu.Unlock()
		return err
	}

	p.reg.mu.Lock()
	changes := p.reg.observeLocked(p.rec, reply.Value, reply.Revision)
	p.reg.mu.Unlock()
	p.reg.dispatch(changes)
	return nil
}

// OnChange registers cb for value changes. Callbacks of one registry run one at
// a time in arrival order, never inline. The returned function unregisters cb.
func (p *AttributeProxy) OnChange(cb func(Change)) (cancel func()) {
	return p.reg.listen(&p.rec.listeners, cb)
}

// MethodProxy is a remote method.
type MethodProxy struct {
	reg *Registry
	rec *record
}

// Path returns the remote path.
func (p *MethodProxy) Path() address.Path { return p.rec.path }

// Kind returns the current kind of the path.
func (p *MethodProxy) Kind() wire.Kind { return p.rec.unknown.Kind() }

// Refresh re-describes the method.
func (p *MethodProxy) Refresh(ctx context.Context) error {
	return p.reg.refresh(ctx, p.rec)
}

// Handle returns the canonical handle of the method path.
func (p *MethodProxy) Handle() *UnknownProxy { return p.rec.unknown }

// ParamsSchema returns the parameter schema announced by the remote.
func (p *MethodProxy) ParamsSchema() map[string]any {
	p.reg.mu.Lock()
	defer p.reg.mu.Unlock()
	return p.rec.params
}

// ReturnsSchema returns the result schema announced by the remote.
func (p *MethodProxy) ReturnsSchema() map[string]any {
	p.reg.mu.Lock()
	defer p.reg.mu.Unlock()
	return p.rec.returns
}

// Call invokes the remote method. A failing handler yields an
// *errors.RemoteError; no reply within the deadline yields errors.ErrTimeout.
func (p *MethodProxy) Call(ctx context.Context, args any) (any, error) {
	if err := p.reg.checkKind(p.rec, wire.KindMethod); err != nil {
		return nil, err
	}
	reply, err := p.reg.request(ctx, p.rec.path, &wire.Packet{Verb: wire.VerbCall, Value: args})
	if err != nil {
		return nil, err
	}
	return reply.Value, nil
}
