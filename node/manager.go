package node

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/veea/vbus/address"
	"github.com/veea/vbus/errors"
	"github.com/veea/vbus/metric"
	"github.com/veea/vbus/schema"
	"github.com/veea/vbus/wire"
)

// Manager owns the local tree. Element paths are relative to the Manager; the
// prefix set with WithPrefix turns them into bus paths.
type Manager struct {
	mu       sync.RWMutex
	root     *Node
	elements int

	prefix    address.Path
	validator schema.Validator
	logger    *slog.Logger
	metrics   *metric.Metrics
	registry  *metric.MetricsRegistry
	store     ValueStore
	queueSize int

	pubMu     sync.RWMutex
	publisher *publisher
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPrefix sets the bus path the tree is published under.
func WithPrefix(prefix address.Path) ManagerOption {
	return func(m *Manager) { m.prefix = prefix }
}

// WithValidator replaces the JSON Schema validator.
func WithValidator(v schema.Validator) ManagerOption {
	return func(m *Manager) {
		if v != nil {
			m.validator = v
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records tree and notice metrics in registry.
func WithMetrics(registry *metric.MetricsRegistry) ManagerOption {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
			m.metrics = registry.CoreMetrics()
		}
	}
}

// WithValueStore retains every attribute value under its bus path.
func WithValueStore(store ValueStore) ManagerOption {
	return func(m *Manager) { m.store = store }
}

// WithQueueSize bounds the notice queue.
func WithQueueSize(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// NewManager creates a Manager with an empty root node.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		validator: schema.NewJSONSchemaValidator(),
		logger:    slog.Default(),
		queueSize: 1024,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "node-manager")
	m.root = m.newNode(address.Root)
	return m
}

// Prefix returns the bus path of the tree root.
func (m *Manager) Prefix() address.Path {
	return m.prefix
}

// Root returns the root node.
func (m *Manager) Root() *Node {
	return m.root
}

// Len returns the number of elements in the tree, root excluded.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.elements
}

// BusPath converts a tree path into its bus path.
func (m *Manager) BusPath(p address.Path) address.Path {
	return m.prefix.Join(p)
}

// AddNode creates or overwrites the node at path, creating missing ancestors.
// A single ADD notice describes the topmost element created.
func (m *Manager) AddNode(path string, def Def) (*Node, error) {
	p, err := address.Parse(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Manager", "AddNode", "parse path")
	}
	if p.IsRoot() {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: cannot replace the root", errors.ErrInvalidPath),
			"Manager", "AddNode", "validate path")
	}
	for _, segment := range p.Segments() {
		if err := checkSegment(segment); err != nil {
			return nil, errors.WrapInvalid(err, "Manager", "AddNode", "validate path")
		}
	}

	built := m.newNode(p)
	if err := m.build(built, def); err != nil {
		return nil, errors.WrapInvalid(err, "Manager", "AddNode", "build subtree")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Find the deepest existing ancestor.
	parent := m.root
	segments := p.Segments()
	i := 0
	for ; i < len(segments)-1; i++ {
		next, ok := parent.children[segments[i]]
		if !ok {
			break
		}
		node, ok := next.(*Node)
		if !ok {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %s is a %s", errors.ErrWrongKind, next.Path(), next.Kind()),
				"Manager", "AddNode", "walk ancestors")
		}
		parent = node
	}

	// Chain the missing ancestors in front of the built node, then attach once.
	var top Element = built
	topSegment := segments[len(segments)-1]
	for j := len(segments) - 2; j >= i; j-- {
		ancestor := m.newNode(pathOf(segments[:j+1]))
		ancestor.children[topSegment] = top
		top = ancestor
		topSegment = segments[j]
	}
	parent.attachLocked(topSegment, top)

	return built, nil
}

func pathOf(segments []string) address.Path {
	p, _ := address.New(segments...)
	return p
}

// RemoveNode removes the element at path, whatever its kind, with its descendants.
func (m *Manager) RemoveNode(path string) error {
	p, err := address.Parse(path)
	if err != nil {
		return errors.WrapInvalid(err, "Manager", "RemoveNode", "parse path")
	}
	if p.IsRoot() {
		return errors.WrapInvalid(fmt.Errorf("%w: cannot remove the root", errors.ErrInvalidPath),
			"Manager", "RemoveNode", "validate path")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	parent, ok := m.root.resolveLocked(p.Parent()).(*Node)
	if !ok || parent.children[p.Last()] == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrNotFound, p),
			"Manager", "RemoveNode", "resolve element")
	}
	parent.detachLocked(p.Last())
	return nil
}

// Resolve returns the element at path or nil.
func (m *Manager) Resolve(path address.Path) Element {
	return m.root.Resolve(path)
}

// Lookup parses path and resolves it.
func (m *Manager) Lookup(path string) (Element, error) {
	p, err := address.Parse(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Manager", "Lookup", "parse path")
	}
	el := m.Resolve(p)
	if el == nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrNotFound, p)
	}
	return el, nil
}

// Node returns the node at path.
func (m *Manager) Node(path string) (*Node, error) {
	return lookupAs[*Node](m, path)
}

// Attribute returns the attribute at path.
func (m *Manager) Attribute(path string) (*Attribute, error) {
	return lookupAs[*Attribute](m, path)
}

// Method returns the method at path.
func (m *Manager) Method(path string) (*Method, error) {
	return lookupAs[*Method](m, path)
}

func lookupAs[T Element](m *Manager, path string) (T, error) {
	var zero T
	el, err := m.Lookup(path)
	if err != nil {
		return zero, err
	}
	typed, ok := el.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is a %s", errors.ErrWrongKind, el.Path(), el.Kind())
	}
	return typed, nil
}

// Describe snapshots the whole tree down to depth levels; 0 means unlimited.
func (m *Manager) Describe(depth int) *wire.Description {
	return m.root.Describe(depth)
}

// Walk calls fn for every element in depth-first order, under the read lock.
func (m *Manager) Walk(fn func(Element)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	walkLocked(m.root, fn)
}

func walkLocked(n *Node, fn func(Element)) {
	for _, name := range sortedNames(n.children) {
		child := n.children[name]
		fn(child)
		if node, ok := child.(*Node); ok {
			walkLocked(node, fn)
		}
	}
}

func sortedNames(children map[string]Element) []string {
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
