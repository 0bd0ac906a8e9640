package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/veea/vbus/address"
	"github.com/veea/vbus/errors"
	"github.com/veea/vbus/metric"
	"github.com/veea/vbus/pkg/worker"
	"github.com/veea/vbus/wire"
)

// DescribeDepth is the depth requested when resolving a path: the element plus
// the kinds of its direct children.
const DescribeDepth = 2

// Requester performs a request/reply exchange. transport.Requester satisfies it.
type Requester interface {
	Request(ctx context.Context, subject string, packet *wire.Packet) (*wire.Packet, error)
}

// Change is delivered to OnChange, OnAdd and OnRemove callbacks.
type Change struct {
	Path     address.Path
	Kind     wire.Kind
	Value    any
	Revision uint64
	// Removed is set when the element disappeared from the remote tree.
	Removed bool
}

type listener struct {
	fn func(Change)
}

// record is the single source of truth for one remote path.
type record struct {
	path     address.Path
	kind     wire.Kind
	removed  bool
	value    any
	revision uint64
	updated  time.Time
	schema   map[string]any
	params   map[string]any
	returns  map[string]any

	children       map[string]struct{}
	childrenLoaded bool

	listeners       []*listener
	addListeners    []*listener
	removeListeners []*listener

	unknown *UnknownProxy
	node    *NodeProxy
	attr    *AttributeProxy
	method  *MethodProxy
}

// Registry is the identity map of remote elements for one client. Every path
// maps to exactly one record and one proxy of each kind.
type Registry struct {
	mu      sync.Mutex
	records map[string]*record

	requester  Requester
	local      *address.Path
	staleAfter time.Duration
	queueSize  int
	now        func() time.Time
	logger     *slog.Logger
	metrics    *metric.Metrics
	registry   *metric.MetricsRegistry

	dispatcher *worker.Pool[func()]
}

// Option configures a Registry.
type Option func(*Registry)

// WithStaleAfter sets how long a cached attribute value is served without a GET.
// Zero, the default, always fetches.
func WithStaleAfter(d time.Duration) Option {
	return func(r *Registry) { r.staleAfter = d }
}

// WithLocalRoot rejects lookups at or below root, the client's own tree.
func WithLocalRoot(root address.Path) Option {
	return func(r *Registry) { r.local = &root }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records request and notice metrics in registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(r *Registry) {
		if registry != nil {
			r.registry = registry
			r.metrics = registry.CoreMetrics()
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithDispatchQueue bounds the callback queue.
func WithDispatchQueue(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// NewRegistry creates a Registry issuing requests through requester.
func NewRegistry(requester Requester, opts ...Option) *Registry {
	r := &Registry{
		records:   make(map[string]*record),
		requester: requester,
		queueSize: 1024,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "proxy-registry")

	dispatchOpts := []worker.Option[func()]{}
	if r.registry != nil {
		dispatchOpts = append(dispatchOpts, worker.WithMetricsRegistry[func()](r.registry, "callbacks"))
	}
	r.dispatcher = worker.NewSerial(r.queueSize, func(_ context.Context, fn func()) error {
		fn()
		return nil
	}, dispatchOpts...)
	return r
}

// Start runs the callback dispatcher until ctx ends or Close is called.
func (r *Registry) Start(ctx context.Context) error {
	if err := r.dispatcher.Start(ctx); err != nil {
		return errors.WrapFatal(err, "Registry", "Start", "start dispatcher")
	}
	return nil
}

// Close stops the dispatcher after delivering queued callbacks.
func (r *Registry) Close(timeout time.Duration) error {
	if err := r.dispatcher.Stop(timeout); err != nil {
		return errors.WrapTransient(err, "Registry", "Close", "drain dispatcher")
	}
	return nil
}

// Len returns the number of tracked paths.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Lookup returns the handle for path, creating an unresolved record on first use.
func (r *Registry) Lookup(path address.Path) (*UnknownProxy, error) {
	if err := r.check(path); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordLocked(path).unknown, nil
}

// Existing returns the handle for path when it is already tracked.
func (r *Registry) Existing(path address.Path) (*UnknownProxy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.existingLocked(path)
	if rec == nil {
		return nil, false
	}
	return rec.unknown, true
}

func (r *Registry) check(path address.Path) error {
	if path.IsRoot() {
		return errors.WrapInvalid(fmt.Errorf("%w: empty remote path", errors.ErrInvalidPath),
			"Registry", "Lookup", "validate path")
	}
	if r.local != nil && r.local.IsPrefixOf(path) {
		return errors.WrapInvalid(fmt.Errorf("%w: %s belongs to the local tree", errors.ErrInvalidPath, path),
			"Registry", "Lookup", "validate path")
	}
	return nil
}

// Resolve returns the handle for path, describing it first when its kind is unknown.
func (r *Registry) Resolve(ctx context.Context, path address.Path) (*UnknownProxy, error) {
	p, err := r.Lookup(path)
	if err != nil {
		return nil, err
	}
	if p.Kind() != wire.KindUnknown {
		return p, nil
	}
	if err := p.Refresh(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Registry) recordLocked(path address.Path) *record {
	key := path.Key()
	rec, ok := r.records[key]
	if ok {
		return rec
	}
	rec = &record{path: path, kind: wire.KindUnknown}
	rec.unknown = &UnknownProxy{reg: r, rec: rec}
	r.records[key] = rec
	if r.metrics != nil {
		r.metrics.SetRemoteProxies(len(r.records))
	}
	return rec
}

func (r *Registry) existingLocked(path address.Path) *record {
	return r.records[path.Key()]
}

// refresh issues a DESCRIBE for rec and applies the answer.
func (r *Registry) refresh(ctx context.Context, rec *record) error {
	reply, err := r.request(ctx, rec.path, &wire.Packet{Verb: wire.VerbDescribe, Depth: DescribeDepth})
	if err != nil {
		if errors.CodeOf(err) == errors.CodeNotFound {
			r.mu.Lock()
			changes := r.tombstoneLocked(rec.path)
			r.mu.Unlock()
			r.dispatch(changes)
		}
		return err
	}
	if reply.Element == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: describe reply without element", errors.ErrInvalidValue),
			"Registry", "Refresh", "describe "+rec.path.String())
	}
	r.Apply(ctx, rec.path, reply.Element)
	return nil
}

func (r *Registry) request(ctx context.Context, path address.Path, packet *wire.Packet) (*wire.Packet, error) {
	packet.Path = path.String()
	start := r.now()
	reply, err := r.requester.Request(ctx, path.Subject(string(packet.Verb)), packet)
	if r.metrics != nil {
		r.metrics.RecordRequest(string(packet.Verb), err, r.now().Sub(start))
	}
	return reply, err
}

// Apply merges a description of the element at path, resolving records in place.
func (r *Registry) Apply(ctx context.Context, path address.Path, desc *wire.Description) {
	r.mu.Lock()
	changes := r.applyLocked(path, desc)
	r.mu.Unlock()
	r.dispatch(changes)
}

type delivery struct {
	listeners []*listener
	change    Change
}

func (r *Registry) applyLocked(path address.Path, desc *wire.Description) []delivery {
	rec := r.recordLocked(path)
	var out []delivery

	if rec.kind != desc.Kind {
		rec.kind = desc.Kind
		rec.children = nil
		rec.childrenLoaded = false
	}
	rec.removed = false

	switch desc.Kind {
	case wire.KindAttribute:
		rec.schema = desc.Schema
		if desc.Revision >= rec.revision || rec.revision == 0 {
			changed := desc.Revision != rec.revision
			rec.value = desc.Value
			rec.revision = desc.Revision
			if changed {
				out = append(out, r.changeLocked(rec, false))
			}
		}
		rec.updated = r.now()
	case wire.KindMethod:
		rec.params = desc.Params
		rec.returns = desc.Returns
	case wire.KindNode:
		if desc.Truncated {
			break
		}
		rec.children = make(map[string]struct{}, len(desc.Children))
		rec.childrenLoaded = true
		for _, name := range desc.ChildNames() {
			rec.children[name] = struct{}{}
			childPath, err := path.Child(name)
			if err != nil {
				r.logger.Warn("Ignoring invalid child segment", "path", path, "segment", name)
				continue
			}
			out = append(out, r.applyLocked(childPath, desc.Children[name])...)
		}
	}
	return out
}

func (r *Registry) changeLocked(rec *record, removed bool) delivery {
	listeners := make([]*listener, len(rec.listeners))
	copy(listeners, rec.listeners)
	return delivery{
		listeners: listeners,
		change:    Change{Path: rec.path, Kind: wire.KindAttribute, Value: rec.value, Revision: rec.revision, Removed: removed},
	}
}

// childLocked reports an added or removed child to the listeners of its parent.
func (r *Registry) childLocked(path address.Path, change Change) []delivery {
	parent := r.existingLocked(path.Parent())
	if parent == nil {
		return nil
	}
	list := parent.addListeners
	if change.Removed {
		list = parent.removeListeners
	}
	if len(list) == 0 {
		return nil
	}
	listeners := make([]*listener, len(list))
	copy(listeners, list)
	return []delivery{{listeners: listeners, change: change}}
}

// listen appends cb to list and returns the function removing it.
func (r *Registry) listen(list *[]*listener, cb func(Change)) (cancel func()) {
	l := &listener{fn: cb}

	r.mu.Lock()
	*list = append(*list, l)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, other := range *list {
			if other == l {
				*list = append((*list)[:i:i], (*list)[i+1:]...)
				return
			}
		}
	}
}

// tombstoneLocked resets every record at or below path to unknown.
func (r *Registry) tombstoneLocked(path address.Path) []delivery {
	var out []delivery
	for _, other := range r.records {
		if !path.IsPrefixOf(other.path) {
			continue
		}
		wasAttr := other.kind == wire.KindAttribute
		other.kind = wire.KindUnknown
		other.removed = true
		other.value = nil
		other.revision = 0
		other.updated = time.Time{}
		other.children = nil
		other.childrenLoaded = false
		if wasAttr {
			out = append(out, r.changeLocked(other, true))
		}
	}
	if parent := r.existingLocked(path.Parent()); parent != nil && parent.children != nil {
		delete(parent.children, path.Last())
	}
	return out
}

// dispatch queues callbacks without blocking: it runs on transport goroutines
// and on the dispatcher itself when a callback issues a request.
func (r *Registry) dispatch(deliveries []delivery) {
	for _, d := range deliveries {
		for _, l := range d.listeners {
			fn, change := l.fn, d.change
			if err := r.dispatcher.Submit(func() { fn(change) }); err != nil {
				r.logger.Warn("Change callback dropped", "path", change.Path, "error", err)
			}
		}
	}
}

// Deliver runs fn on the callback dispatcher, after the callbacks already queued.
func (r *Registry) Deliver(fn func()) error {
	if err := r.dispatcher.Submit(fn); err != nil {
		return errors.WrapTransient(err, "Registry", "Deliver", "queue callback")
	}
	return nil
}

// HandleNotice applies an ADD, REMOVE or NOTIFY notice.
func (r *Registry) HandleNotice(ctx context.Context, packet *wire.Packet) {
	path, err := address.Parse(packet.Path)
	if err != nil || path.IsRoot() {
		r.logger.Debug("Ignoring notice with invalid path", "path", packet.Path)
		return
	}
	if r.metrics != nil {
		r.metrics.RecordNoticeReceived(string(packet.Verb))
	}

	switch packet.Verb {
	case wire.VerbAdd:
		r.ApplyAdd(ctx, path, packet.Element)
	case wire.VerbRemove:
		r.ApplyRemove(ctx, path)
	case wire.VerbNotify:
		r.ApplyNotify(ctx, path, packet.Value, packet.Revision)
	default:
		r.logger.Debug("Ignoring packet that is not a notice", "verb", packet.Verb, "path", packet.Path)
	}
}

// ApplyAdd records a new or replaced element announced by its owner.
func (r *Registry) ApplyAdd(ctx context.Context, path address.Path, desc *wire.Description) {
	if desc == nil {
		return
	}
	r.mu.Lock()
	if parent := r.existingLocked(path.Parent()); parent != nil && parent.childrenLoaded {
		parent.children[path.Last()] = struct{}{}
	}
	changes := r.childLocked(path, Change{Path: path, Kind: desc.Kind, Value: desc.Value, Revision: desc.Revision})
	// Untracked subtrees are left alone; they are described when first referenced.
	if r.existingLocked(path) == nil && !r.trackedParentLocked(path) {
		r.mu.Unlock()
		r.dispatch(changes)
		return
	}
	// A replaced element starts over from the announced snapshot.
	if rec := r.existingLocked(path); rec != nil && desc.Kind == wire.KindAttribute {
		rec.revision = 0
	}
	changes = append(changes, r.applyLocked(path, desc)...)
	r.mu.Unlock()
	r.dispatch(changes)
}

func (r *Registry) trackedParentLocked(path address.Path) bool {
	parent := r.existingLocked(path.Parent())
	return parent != nil && parent.childrenLoaded
}

// ApplyRemove tombstones path and its descendants.
func (r *Registry) ApplyRemove(ctx context.Context, path address.Path) {
	r.mu.Lock()
	kind := wire.KindUnknown
	if rec := r.existingLocked(path); rec != nil {
		kind = rec.kind
	}
	changes := r.childLocked(path, Change{Path: path, Kind: kind, Removed: true})
	changes = append(changes, r.tombstoneLocked(path)...)
	r.mu.Unlock()
	r.dispatch(changes)
}

// ApplyNotify updates a tracked attribute when revision is newer than the cached one.
func (r *Registry) ApplyNotify(ctx context.Context, path address.Path, value any, revision uint64) {
	r.mu.Lock()
	rec := r.existingLocked(path)
	if rec == nil || (rec.kind != wire.KindAttribute && rec.kind != wire.KindUnknown) {
		r.mu.Unlock()
		return
	}
	if revision <= rec.revision && rec.kind == wire.KindAttribute {
		r.mu.Unlock()
		r.logger.Debug("Ignoring stale notice", "path", path, "revision", revision, "cached", rec.revision)
		return
	}
	rec.kind = wire.KindAttribute
	rec.removed = false
	rec.value = value
	rec.revision = revision
	rec.updated = r.now()
	changes := []delivery{r.changeLocked(rec, false)}
	r.mu.Unlock()
	r.dispatch(changes)
}

// Forget drops every record at or below prefix. Proxies already handed out keep
// working but are no longer the canonical handles.
func (r *Registry) Forget(prefix address.Path) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for key, rec := range r.records {
		if prefix.IsPrefixOf(rec.path) {
			delete(r.records, key)
			n++
		}
	}
	if r.metrics != nil {
		r.metrics.SetRemoteProxies(len(r.records))
	}
	return n
}

// Paths returns the tracked paths in order.
func (r *Registry) Paths() []address.Path {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]address.Path, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.path)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}
