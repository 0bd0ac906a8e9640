package proxy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veea/vbus/address"
	"github.com/veea/vbus/errors"
	"github.com/veea/vbus/metric"
	"github.com/veea/vbus/wire"
)

// stubRequester answers from a fixed table keyed by subject.
type stubRequester struct {
	mu      sync.Mutex
	replies map[string]*wire.Packet
	calls   []string
}

func (s *stubRequester) Request(_ context.Context, subject string, p *wire.Packet) (*wire.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, subject)
	reply, ok := s.replies[subject]
	if !ok {
		return nil, errors.NewRemoteError(errors.CodeNotFound, "no such element", p.Path)
	}
	return reply, nil
}

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *stubRequester) {
	t.Helper()
	stub := &stubRequester{replies: make(map[string]*wire.Packet)}
	r := NewRegistry(stub, opts...)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Close(time.Second) })
	return r, stub
}

func attrDesc(v any, rev uint64) *wire.Description {
	return &wire.Description{Kind: wire.KindAttribute, Value: v, Revision: rev}
}

func TestRegistry_LookupRoot(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Lookup(address.Root)
	assert.ErrorIs(t, err, errors.ErrInvalidPath)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ApplyNotifyRevisions(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	p := address.MustParse("a.b.x")

	// Notices for untracked paths are ignored.
	r.ApplyNotify(ctx, p, 1.0, 1)
	assert.Equal(t, 0, r.Len())

	r.Apply(ctx, p, attrDesc(1.0, 3))
	h, err := r.Lookup(p)
	require.NoError(t, err)
	attr, err := h.AsAttribute()
	require.NoError(t, err)

	r.ApplyNotify(ctx, p, 0.5, 2)
	assert.Equal(t, 1.0, attr.Value(), "older revision must be ignored")
	r.ApplyNotify(ctx, p, 0.7, 3)
	assert.Equal(t, 1.0, attr.Value(), "same revision must be ignored")
	r.ApplyNotify(ctx, p, 2.0, 4)
	assert.Equal(t, 2.0, attr.Value())
	assert.Equal(t, uint64(4), attr.Revision())
}

func TestRegistry_HandleNotice(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	r, stub := newTestRegistry(t, WithMetrics(reg))
	ctx := context.Background()
	parent := address.MustParse("a.b")

	r.Apply(ctx, parent, wire.NodeDescription(map[string]*wire.Description{
		"x": attrDesc(1.0, 1),
	}))
	assert.Equal(t, 2, r.Len())

	r.HandleNotice(ctx, &wire.Packet{Verb: wire.VerbAdd, Path: "a.b.y", Element: attrDesc("on", 1)})
	r.HandleNotice(ctx, &wire.Packet{Verb: wire.VerbAdd, Path: "c.d", Element: attrDesc("ignored", 1)})
	r.HandleNotice(ctx, &wire.Packet{Verb: wire.VerbGet, Path: "a.b.x"})
	r.HandleNotice(ctx, &wire.Packet{Verb: wire.VerbNotify, Path: ""})

	h, err := r.Lookup(parent)
	require.NoError(t, err)
	n, err := h.AsNode()
	require.NoError(t, err)
	children, err := n.Children(ctx)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "x", children[0].Path().Last())
	assert.Equal(t, "y", children[1].Path().Last())
	assert.Empty(t, stub.calls, "loaded children need no describe")

	assert.Equal(t, []address.Path{
		address.MustParse("a.b"),
		address.MustParse("a.b.x"),
		address.MustParse("a.b.y"),
	}, r.Paths())

	r.HandleNotice(ctx, &wire.Packet{Verb: wire.VerbRemove, Path: "a.b"})
	for _, p := range r.Paths() {
		h, err := r.Lookup(p)
		require.NoError(t, err)
		assert.Equal(t, wire.KindUnknown, h.Kind(), p.String())
	}

	assert.Equal(t, 3, r.Forget(parent))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ReplacedAttributeStartsOver(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	p := address.MustParse("a.b.x")

	r.Apply(ctx, p, attrDesc(1.0, 7))
	changes := make(chan Change, 2)
	h, err := r.Lookup(p)
	require.NoError(t, err)
	attr, err := h.AsAttribute()
	require.NoError(t, err)
	attr.OnChange(func(c Change) { changes <- c })

	r.ApplyAdd(ctx, p, attrDesc(5.0, 1))
	select {
	case c := <-changes:
		assert.Equal(t, 5.0, c.Value)
		assert.Equal(t, uint64(1), c.Revision)
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}
}

func TestRegistry_KindChange(t *testing.T) {
	r, stub := newTestRegistry(t)
	ctx := context.Background()
	p := address.MustParse("a.b.x")

	r.Apply(ctx, p, attrDesc(1.0, 1))
	h, err := r.Lookup(p)
	require.NoError(t, err)
	attr, err := h.AsAttribute()
	require.NoError(t, err)

	r.ApplyAdd(ctx, p, &wire.Description{Kind: wire.KindMethod})
	assert.Equal(t, wire.KindMethod, h.Kind())

	_, err = attr.Get(ctx)
	assert.ErrorIs(t, err, errors.ErrWrongKind)
	assert.Empty(t, stub.calls)

	m, err := h.AsMethod()
	require.NoError(t, err)
	_, err = m.Call(ctx, nil)
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.Equal(t, []string{"a.b.x.call"}, stub.calls)
}

func TestRegistry_RefreshWithoutElement(t *testing.T) {
	r, stub := newTestRegistry(t)
	p := address.MustParse("a.b")
	stub.replies[p.Subject(string(wire.VerbDescribe))] = &wire.Packet{Verb: wire.VerbDescribe}

	_, err := r.Resolve(context.Background(), p)
	assert.ErrorIs(t, err, errors.ErrInvalidValue)
}

func TestRegistry_DispatchDoesNotBlockNotices(t *testing.T) {
	r, _ := newTestRegistry(t, WithDispatchQueue(1))
	ctx := context.Background()
	p := address.MustParse("a.b.x")

	r.Apply(ctx, p, attrDesc(0.0, 1))
	h, err := r.Lookup(p)
	require.NoError(t, err)
	attr, err := h.AsAttribute()
	require.NoError(t, err)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	attr.OnChange(func(Change) { <-release })

	done := make(chan struct{})
	go func() {
		defer close(done)
		for rev := uint64(2); rev <= 10; rev++ {
			r.ApplyNotify(ctx, p, float64(rev), rev)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notices blocked behind a busy callback")
	}
	assert.Equal(t, 10.0, attr.Value(), "the cache follows notices even when callbacks are dropped")
}

func TestRegistry_ChildListeners(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	parent := address.MustParse("a.b")

	r.Apply(ctx, parent, wire.NodeDescription(map[string]*wire.Description{
		"x": attrDesc(1.0, 1),
	}))
	h, err := r.Lookup(parent)
	require.NoError(t, err)
	n, err := h.AsNode()
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		events []Change
	)
	record := func(c Change) {
		mu.Lock()
		events = append(events, c)
		mu.Unlock()
	}
	cancelAdd := n.OnAdd(record)
	n.OnRemove(record)

	r.HandleNotice(ctx, &wire.Packet{Verb: wire.VerbAdd, Path: "a.b.y", Element: attrDesc("on", 1)})
	r.HandleNotice(ctx, &wire.Packet{Verb: wire.VerbRemove, Path: "a.b.x"})
	r.HandleNotice(ctx, &wire.Packet{Verb: wire.VerbAdd, Path: "a.c.z", Element: attrDesc("other", 1)})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, "a.b.y", events[0].Path.String())
	assert.Equal(t, wire.KindAttribute, events[0].Kind)
	assert.Equal(t, "on", events[0].Value)
	assert.False(t, events[0].Removed)
	assert.Equal(t, "a.b.x", events[1].Path.String())
	assert.Equal(t, wire.KindAttribute, events[1].Kind)
	assert.True(t, events[1].Removed)
	mu.Unlock()

	cancelAdd()
	r.HandleNotice(ctx, &wire.Packet{Verb: wire.VerbAdd, Path: "a.b.w", Element: attrDesc(2.0, 1)})
	done := make(chan struct{})
	require.NoError(t, r.Deliver(func() { close(done) }))
	<-done
	mu.Lock()
	assert.Len(t, events, 2, "cancelled listener must not run")
	mu.Unlock()
}
