package node

import (
	"context"
	"fmt"

	"github.com/veea/vbus/address"
	"github.com/veea/vbus/errors"
	"github.com/veea/vbus/schema"
	"github.com/veea/vbus/wire"
)

// Element is a Node, an Attribute or a Method.
type Element interface {
	// Path is relative to the Manager's root.
	Path() address.Path
	Kind() wire.Kind
	Describe(depth int) *wire.Description
}

// Node owns a single namespace of child elements.
type Node struct {
	m        *Manager
	path     address.Path
	children map[string]Element
}

// Attribute is a named, versioned value.
type Attribute struct {
	m        *Manager
	path     address.Path
	value    any
	revision uint64
	schema   map[string]any
	onSet    func(context.Context, any) error
	onGet    func(context.Context) (any, error)
}

// Method is a named handler callable over the bus.
type Method struct {
	m       *Manager
	path    address.Path
	handler MethodFunc
	params  map[string]any
	returns map[string]any
}

func (m *Manager) newNode(path address.Path) *Node {
	return &Node{m: m, path: path, children: make(map[string]Element)}
}

func (m *Manager) newAttribute(path address.Path, d *AttrDef) (*Attribute, error) {
	if err := m.validator.Validate(d.Schema, d.Value); err != nil {
		return nil, fmt.Errorf("attribute %s: %w", path, err)
	}
	return &Attribute{
		m:        m,
		path:     path,
		value:    d.Value,
		revision: 1,
		schema:   d.Schema,
		onSet:    d.OnSet,
		onGet:    d.OnGet,
	}, nil
}

func (m *Manager) newMethod(path address.Path, d *MethodDef) *Method {
	return &Method{m: m, path: path, handler: d.Handler, params: d.Params, returns: d.Returns}
}

// Path returns the node path.
func (n *Node) Path() address.Path { return n.path }

// Kind returns wire.KindNode.
func (n *Node) Kind() wire.Kind { return wire.KindNode }

// Describe snapshots the node and its subtree down to depth levels; 0 means unlimited.
func (n *Node) Describe(depth int) *wire.Description {
	n.m.mu.RLock()
	defer n.m.mu.RUnlock()
	return n.describeLocked(depth)
}

func (n *Node) describeLocked(depth int) *wire.Description {
	d := wire.NodeDescription(nil)
	if depth == 1 {
		d.Children = nil
		d.Truncated = len(n.children) > 0
		return d
	}
	next := 0
	if depth > 1 {
		next = depth - 1
	}
	for segment, child := range n.children {
		d.Children[segment] = describeLocked(child, next)
	}
	return d
}

func describeLocked(el Element, depth int) *wire.Description {
	switch e := el.(type) {
	case *Node:
		return e.describeLocked(depth)
	case *Attribute:
		return e.describeLocked()
	case *Method:
		return e.describeLocked()
	}
	return &wire.Description{Kind: wire.KindUnknown}
}

// Element returns the child at segment, or nil.
func (n *Node) Element(segment string) Element {
	n.m.mu.RLock()
	defer n.m.mu.RUnlock()
	return n.children[segment]
}

// Node returns the child node at segment, or nil.
func (n *Node) Node(segment string) *Node {
	child, _ := n.Element(segment).(*Node)
	return child
}

// Attribute returns the attribute at segment, or nil.
func (n *Node) Attribute(segment string) *Attribute {
	attr, _ := n.Element(segment).(*Attribute)
	return attr
}

// Method returns the method at segment, or nil.
func (n *Node) Method(segment string) *Method {
	method, _ := n.Element(segment).(*Method)
	return method
}

// Children returns the child elements sorted by segment.
func (n *Node) Children() []Element {
	n.m.mu.RLock()
	defer n.m.mu.RUnlock()

	names := sortedNames(n.children)
	out := make([]Element, len(names))
	for i, name := range names {
		out[i] = n.children[name]
	}
	return out
}

// Resolve walks path below n. A missing path yields nil.
func (n *Node) Resolve(path address.Path) Element {
	n.m.mu.RLock()
	defer n.m.mu.RUnlock()
	return n.resolveLocked(path)
}

func (n *Node) resolveLocked(path address.Path) Element {
	var cur Element = n
	for _, segment := range path.Segments() {
		node, ok := cur.(*Node)
		if !ok {
			return nil
		}
		next, ok := node.children[segment]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// AddChild creates a child node from def and announces it.
func (n *Node) AddChild(segment string, def Def) (*Node, error) {
	if err := checkSegment(segment); err != nil {
		return nil, errors.WrapInvalid(err, "Node", "AddChild", "validate segment")
	}

	n.m.mu.Lock()
	defer n.m.mu.Unlock()

	if _, exists := n.children[segment]; exists {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrDuplicateSegment, n.path.Join(address.MustParse(segment))),
			"Node", "AddChild", "add child")
	}

	child := n.m.newNode(n.path.Join(address.MustParse(segment)))
	if err := n.m.build(child, def); err != nil {
		return nil, errors.WrapInvalid(err, "Node", "AddChild", "build subtree")
	}
	n.attachLocked(segment, child)
	return child, nil
}

// SetAttribute creates the attribute at segment or updates its value. Creation is
// announced with an ADD notice, updates with a NOTIFY.
func (n *Node) SetAttribute(segment string, value any) (*Attribute, error) {
	if err := checkSegment(segment); err != nil {
		return nil, errors.WrapInvalid(err, "Node", "SetAttribute", "validate segment")
	}

	n.m.mu.Lock()
	defer n.m.mu.Unlock()

	switch existing := n.children[segment].(type) {
	case nil:
		attr, err := n.m.newAttribute(n.path.Join(address.MustParse(segment)), &AttrDef{Value: value})
		if err != nil {
			return nil, errors.WrapInvalid(err, "Node", "SetAttribute", "create attribute")
		}
		n.attachLocked(segment, attr)
		return attr, nil
	case *Attribute:
		if err := existing.setLocked(value); err != nil {
			return nil, errors.WrapInvalid(err, "Node", "SetAttribute", "update attribute")
		}
		return existing, nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s is a %s", errors.ErrWrongKind, existing.Path(), existing.Kind()),
			"Node", "SetAttribute", "update attribute")
	}
}

// MethodOption configures AddMethod.
type MethodOption func(*methodOptions)

type methodOptions struct {
	replace bool
	params  map[string]any
	returns map[string]any
}

// Replace allows AddMethod to overwrite an existing method.
func Replace() MethodOption {
	return func(o *methodOptions) { o.replace = true }
}

// WithParams sets the schema the call arguments are validated against.
func WithParams(schema map[string]any) MethodOption {
	return func(o *methodOptions) { o.params = schema }
}

// WithReturns sets the schema advertised for the call result.
func WithReturns(schema map[string]any) MethodOption {
	return func(o *methodOptions) { o.returns = schema }
}

// AddMethod registers handler at segment. An occupied segment fails with
// ErrDuplicateSegment unless Replace is given and the occupant is a method.
func (n *Node) AddMethod(segment string, handler MethodFunc, opts ...MethodOption) (*Method, error) {
	if err := checkSegment(segment); err != nil {
		return nil, errors.WrapInvalid(err, "Node", "AddMethod", "validate segment")
	}
	if handler == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: nil handler", errors.ErrInvalidValue),
			"Node", "AddMethod", "validate handler")
	}

	var o methodOptions
	for _, opt := range opts {
		opt(&o)
	}

	n.m.mu.Lock()
	defer n.m.mu.Unlock()

	if existing, exists := n.children[segment]; exists {
		if _, isMethod := existing.(*Method); !o.replace || !isMethod {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %s", errors.ErrDuplicateSegment, existing.Path()),
				"Node", "AddMethod", "add method")
		}
	}

	method := n.m.newMethod(n.path.Join(address.MustParse(segment)),
		&MethodDef{Handler: handler, Params: o.params, Returns: o.returns})
	n.attachLocked(segment, method)
	return method, nil
}

// RemoveElement detaches the child at segment and its descendants.
func (n *Node) RemoveElement(segment string) error {
	n.m.mu.Lock()
	defer n.m.mu.Unlock()

	if _, exists := n.children[segment]; !exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s.%s", errors.ErrNotFound, n.path, segment),
			"Node", "RemoveElement", "remove element")
	}
	n.detachLocked(segment)
	return nil
}

func (n *Node) attachLocked(segment string, el Element) {
	if old, exists := n.children[segment]; exists {
		n.m.elements -= countLocked(old)
	}
	n.children[segment] = el
	n.m.elements += countLocked(el)
	n.m.announceLocked(el)
}

func (n *Node) detachLocked(segment string) {
	el := n.children[segment]
	delete(n.children, segment)
	n.m.elements -= countLocked(el)
	n.m.retractLocked(el)
}

func countLocked(el Element) int {
	node, ok := el.(*Node)
	if !ok {
		return 1
	}
	total := 1
	for _, child := range node.children {
		total += countLocked(child)
	}
	return total
}

// Path returns the attribute path.
func (a *Attribute) Path() address.Path { return a.path }

// Kind returns wire.KindAttribute.
func (a *Attribute) Kind() wire.Kind { return wire.KindAttribute }

// Describe snapshots the attribute; depth is ignored.
func (a *Attribute) Describe(int) *wire.Description {
	a.m.mu.RLock()
	defer a.m.mu.RUnlock()
	return a.describeLocked()
}

func (a *Attribute) describeLocked() *wire.Description {
	s := a.schema
	if s == nil {
		s = schema.Infer(a.value)
	}
	return &wire.Description{
		Kind:     wire.KindAttribute,
		Value:    a.value,
		Revision: a.revision,
		Schema:   s,
	}
}

// Value returns the current value.
func (a *Attribute) Value() any {
	a.m.mu.RLock()
	defer a.m.mu.RUnlock()
	return a.value
}

// Revision returns the current revision; it starts at 1.
func (a *Attribute) Revision() uint64 {
	a.m.mu.RLock()
	defer a.m.mu.RUnlock()
	return a.revision
}

// Schema returns the declared schema, or nil.
func (a *Attribute) Schema() map[string]any {
	return a.schema
}

// Set validates and stores value, bumps the revision and publishes a NOTIFY.
func (a *Attribute) Set(value any) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()

	if err := a.setLocked(value); err != nil {
		return errors.WrapInvalid(err, "Attribute", "Set", "set "+a.path.String())
	}
	return nil
}

func (a *Attribute) setLocked(value any) error {
	if err := a.m.validator.Validate(a.schema, value); err != nil {
		return err
	}
	a.value = value
	a.revision++
	a.m.notifyLocked(a)
	return nil
}

// Path returns the method path.
func (m *Method) Path() address.Path { return m.path }

// Kind returns wire.KindMethod.
func (m *Method) Kind() wire.Kind { return wire.KindMethod }

// Describe snapshots the method signature; depth is ignored.
func (m *Method) Describe(int) *wire.Description {
	return m.describeLocked()
}

func (m *Method) describeLocked() *wire.Description {
	return &wire.Description{Kind: wire.KindMethod, Params: m.params, Returns: m.returns}
}

// Call validates args and runs the handler. Handler failures and panics wrap
// errors.ErrHandlerFailed.
func (m *Method) Call(ctx context.Context, args any) (result any, err error) {
	if verr := m.m.validator.Validate(m.params, args); verr != nil {
		return nil, verr
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: %s panicked: %v", errors.ErrHandlerFailed, m.path, r)
		}
	}()

	result, err = m.handler(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrHandlerFailed, err)
	}
	return result, nil
}
