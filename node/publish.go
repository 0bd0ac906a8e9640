package node

import (
	"context"
	"encoding/json"
	"time"

	"github.com/veea/vbus/errors"
	"github.com/veea/vbus/pkg/worker"
	"github.com/veea/vbus/wire"
)

// Publisher sends a notice packet on subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, packet *wire.Packet) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, subject string, packet *wire.Packet) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, subject string, packet *wire.Packet) error {
	return f(ctx, subject, packet)
}

// ValueStore retains attribute values by bus path. natsclient.KVStore satisfies it.
type ValueStore interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

type notice struct {
	subject string
	packet  *wire.Packet
	store   ValueStore
	put     map[string]any
	remove  []string
}

type publisher struct {
	out  Publisher
	pool *worker.Pool[*notice]
}

// Start attaches out and begins publishing notices in mutation order. Mutations
// made while no publisher is attached are applied locally only.
func (m *Manager) Start(ctx context.Context, out Publisher) error {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	if m.publisher != nil {
		return nil
	}

	opts := []worker.Option[*notice]{
		worker.WithErrorHandler(func(n *notice, err error) {
			m.logger.Warn("Notice publish failed", "subject", n.subject, "error", err)
			if m.metrics != nil {
				m.metrics.RecordPublishError()
			}
		}),
	}
	if m.registry != nil {
		opts = append(opts, worker.WithMetricsRegistry[*notice](m.registry, "notices"))
	}

	pool := worker.NewSerial(m.queueSize, func(ctx context.Context, n *notice) error {
		return m.deliver(ctx, out, n)
	}, opts...)
	if err := pool.Start(ctx); err != nil {
		return errors.WrapFatal(err, "Manager", "Start", "start notice publisher")
	}

	m.publisher = &publisher{out: out, pool: pool}
	return nil
}

// Stop detaches the publisher after draining queued notices for up to timeout.
func (m *Manager) Stop(timeout time.Duration) error {
	m.pubMu.Lock()
	p := m.publisher
	m.publisher = nil
	m.pubMu.Unlock()

	if p == nil {
		return nil
	}
	if err := p.pool.Stop(timeout); err != nil {
		return errors.WrapTransient(err, "Manager", "Stop", "drain notice publisher")
	}
	return nil
}

// Attached reports whether a publisher is attached.
func (m *Manager) Attached() bool {
	m.pubMu.RLock()
	defer m.pubMu.RUnlock()
	return m.publisher != nil
}

// Republish announces every top-level element again, for instance after a reconnect.
func (m *Manager) Republish() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, name := range sortedNames(m.root.children) {
		m.announceLocked(m.root.children[name])
	}
}

func (m *Manager) deliver(ctx context.Context, out Publisher, n *notice) error {
	if n.store != nil {
		for key, value := range n.put {
			data, err := json.Marshal(value)
			if err != nil {
				m.logger.Warn("Value not storable", "key", key, "error", err)
				continue
			}
			if _, err := n.store.Put(ctx, key, data); err != nil {
				m.logger.Warn("Value store write failed", "key", key, "error", err)
			}
		}
		for _, key := range n.remove {
			if err := n.store.Delete(ctx, key); err != nil {
				m.logger.Debug("Value store delete failed", "key", key, "error", err)
			}
		}
	}

	if err := out.Publish(ctx, n.subject, n.packet); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.RecordNoticePublished(string(n.packet.Verb))
	}
	return nil
}

func (m *Manager) enqueueLocked(n *notice) {
	n.store = m.store
	if m.metrics != nil {
		m.metrics.SetLocalElements(m.elements)
	}

	m.pubMu.RLock()
	defer m.pubMu.RUnlock()

	if m.publisher == nil {
		m.logger.Debug("Notice dropped, no publisher attached", "subject", n.subject)
		return
	}
	// Submitting under the tree lock keeps the queue in mutation order.
	if err := m.publisher.pool.SubmitWait(context.Background(), n); err != nil {
		m.logger.Warn("Notice not queued", "subject", n.subject, "error", err)
	}
}

func (m *Manager) announceLocked(el Element) {
	busPath := m.BusPath(el.Path())
	n := &notice{
		subject: m.BusPath(el.Path().Parent()).Subject(string(wire.VerbAdd)),
		packet: &wire.Packet{
			Verb:    wire.VerbAdd,
			Path:    busPath.String(),
			Element: describeLocked(el, 0),
		},
	}
	if m.store != nil {
		n.put = make(map[string]any)
		m.collectValuesLocked(el, n.put)
	}
	m.enqueueLocked(n)
}

func (m *Manager) retractLocked(el Element) {
	n := &notice{
		subject: m.BusPath(el.Path().Parent()).Subject(string(wire.VerbRemove)),
		packet:  &wire.Packet{Verb: wire.VerbRemove, Path: m.BusPath(el.Path()).String()},
	}
	if m.store != nil {
		values := make(map[string]any)
		m.collectValuesLocked(el, values)
		for key := range values {
			n.remove = append(n.remove, key)
		}
	}
	m.enqueueLocked(n)
}

func (m *Manager) notifyLocked(a *Attribute) {
	busPath := m.BusPath(a.path)
	n := &notice{
		subject: busPath.Subject(string(wire.VerbNotify)),
		packet: &wire.Packet{
			Verb:     wire.VerbNotify,
			Path:     busPath.String(),
			Value:    a.value,
			Revision: a.revision,
		},
	}
	if m.store != nil {
		n.put = map[string]any{busPath.String(): a.value}
	}
	m.enqueueLocked(n)
}

func (m *Manager) collectValuesLocked(el Element, into map[string]any) {
	switch e := el.(type) {
	case *Attribute:
		into[m.BusPath(e.path).String()] = e.value
	case *Node:
		walkLocked(e, func(child Element) {
			if a, ok := child.(*Attribute); ok {
				into[m.BusPath(a.path).String()] = a.value
			}
		})
	}
}

// SetValueStore attaches store for the following mutations. Pass nil to detach.
func (m *Manager) SetValueStore(store ValueStore) {
	m.mu.Lock()
	m.store = store
	m.mu.Unlock()
}

// Restore loads retained values into existing attributes without publishing.
// It returns how many attributes were restored.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store == nil {
		return 0, nil
	}

	restored := 0
	var firstErr error
	walkLocked(m.root, func(el Element) {
		a, ok := el.(*Attribute)
		if !ok || ctx.Err() != nil {
			return
		}
		key := m.BusPath(a.path).String()
		data, err := m.store.Get(ctx, key)
		if err != nil {
			return
		}
		var value any
		if err := json.Unmarshal(data, &value); err != nil {
			if firstErr == nil {
				firstErr = errors.WrapInvalid(err, "Manager", "Restore", "decode "+key)
			}
			return
		}
		if err := m.validator.Validate(a.schema, value); err != nil {
			m.logger.Warn("Retained value rejected by schema", "key", key, "error", err)
			return
		}
		a.value = value
		restored++
	})
	if err := ctx.Err(); err != nil {
		return restored, err
	}
	return restored, firstErr
}
