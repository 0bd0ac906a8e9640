package testutil

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veea/vbus/transport"
)

// Errors returned by bus connections
var (
	ErrOffline = errors.New("testutil: connection offline")
	ErrClosed  = errors.New("testutil: connection closed")
)

// Record is a message seen by the bus.
type Record struct {
	Subject string
	Reply   string
	Data    []byte
}

// Bus is an in-memory message bus with NATS subject semantics. Each subscription
// delivers on its own goroutine in publish order, like a NATS subscription.
type Bus struct {
	mu       sync.RWMutex
	subs     map[int64]*subscription
	nextID   int64
	records  []Record
	drop     func(Record) bool
	inflight atomic.Int64
	inboxSeq atomic.Int64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int64]*subscription)}
}

// Connect returns a new connection implementing transport.Transport.
func (b *Bus) Connect() *Conn {
	return &Conn{bus: b, subs: make(map[int64]*subscription)}
}

// DropIf installs a filter; matching messages are recorded but never delivered.
// Passing nil removes the filter.
func (b *Bus) DropIf(fn func(Record) bool) {
	b.mu.Lock()
	b.drop = fn
	b.mu.Unlock()
}

// Messages returns the recorded messages whose subject matches pattern.
func (b *Bus) Messages(pattern string) []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Record
	for _, r := range b.records {
		if MatchSubject(pattern, r.Subject) {
			out = append(out, r)
		}
	}
	return out
}

// Count returns the number of recorded messages matching pattern.
func (b *Bus) Count(pattern string) int {
	return len(b.Messages(pattern))
}

// Reset forgets the recorded messages.
func (b *Bus) Reset() {
	b.mu.Lock()
	b.records = nil
	b.mu.Unlock()
}

// SubscriptionCount returns the number of live subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// WaitIdle waits until every queued message has been handled.
func (b *Bus) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if b.inflight.Load() == 0 {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return b.inflight.Load() == 0
}

func (b *Bus) publish(msg *transport.Msg) {
	rec := Record{Subject: msg.Subject, Reply: msg.Reply, Data: msg.Data}

	b.mu.Lock()
	b.records = append(b.records, rec)
	drop := b.drop
	var targets []*subscription
	if drop == nil || !drop(rec) {
		for _, s := range b.subs {
			if MatchSubject(s.pattern, msg.Subject) {
				targets = append(targets, s)
			}
		}
	}
	// Enqueue under the bus lock so concurrent publishers keep one global order.
	for _, s := range targets {
		s.enqueue(msg)
	}
	b.mu.Unlock()
}

func (b *Bus) add(s *subscription) {
	b.mu.Lock()
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	b.mu.Unlock()
}

func (b *Bus) remove(s *subscription) {
	b.mu.Lock()
	delete(b.subs, s.id)
	b.mu.Unlock()
}

// Conn is one client's view of the bus.
type Conn struct {
	bus     *Bus
	mu      sync.Mutex
	subs    map[int64]*subscription
	offline atomic.Bool
	closed  atomic.Bool
}

var _ transport.Transport = (*Conn)(nil)

// SetOffline makes publishes fail with ErrOffline until reset.
func (c *Conn) SetOffline(offline bool) {
	c.offline.Store(offline)
}

// Publish implements transport.Transport.
func (c *Conn) Publish(ctx context.Context, subject string, data []byte) error {
	return c.PublishRequest(ctx, subject, "", data)
}

// PublishRequest implements transport.Transport.
func (c *Conn) PublishRequest(_ context.Context, subject, reply string, data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.offline.Load() {
		return ErrOffline
	}
	if subject == "" || strings.ContainsAny(subject, "*> ") {
		return fmt.Errorf("testutil: invalid publish subject %q", subject)
	}
	payload := make([]byte, len(data))
	copy(payload, data)
	c.bus.publish(&transport.Msg{Subject: subject, Reply: reply, Data: payload})
	return nil
}

// Subscribe implements transport.Transport.
func (c *Conn) Subscribe(ctx context.Context, subject string, handler transport.MsgHandler) (transport.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if !validPattern(subject) {
		return nil, fmt.Errorf("testutil: invalid subscription subject %q", subject)
	}

	s := &subscription{
		conn:    c,
		pattern: subject,
		handler: handler,
		ctx:     ctx,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	c.bus.add(s)

	c.mu.Lock()
	c.subs[s.id] = s
	c.mu.Unlock()

	go s.run()
	return s, nil
}

// NewInbox implements transport.Transport.
func (c *Conn) NewInbox() string {
	return "_INBOX." + strconv.FormatInt(c.bus.inboxSeq.Add(1), 10)
}

// Close unsubscribes everything and rejects further use.
func (c *Conn) Close() {
	c.closed.Store(true)

	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
}

type subscription struct {
	id      int64
	conn    *Conn
	pattern string
	handler transport.MsgHandler
	ctx     context.Context

	mu     sync.Mutex
	queue  []*transport.Msg
	closed bool
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Subject() string {
	return s.pattern
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.conn.bus.remove(s)

		s.conn.mu.Lock()
		delete(s.conn.subs, s.id)
		s.conn.mu.Unlock()

		close(s.done)
	})
	return nil
}

func (s *subscription) enqueue(msg *transport.Msg) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, msg)
	s.conn.bus.inflight.Add(1)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			s.mu.Lock()
			s.closed = true
			s.conn.bus.inflight.Add(-int64(len(s.queue)))
			s.queue = nil
			s.mu.Unlock()
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 || s.closed {
				s.mu.Unlock()
				break
			}
			msg := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.handler(s.ctx, msg)
			s.conn.bus.inflight.Add(-1)

			select {
			case <-s.done:
			default:
				continue
			}
			break
		}
	}
}

// MatchSubject reports whether subject matches a NATS subscription pattern.
func MatchSubject(pattern, subject string) bool {
	p := strings.Split(pattern, ".")
	s := strings.Split(subject, ".")

	for i, tok := range p {
		if tok == ">" {
			return len(s) > i
		}
		if i >= len(s) {
			return false
		}
		if tok != "*" && tok != s[i] {
			return false
		}
	}
	return len(p) == len(s)
}

func validPattern(pattern string) bool {
	if pattern == "" || strings.Contains(pattern, " ") {
		return false
	}
	tokens := strings.Split(pattern, ".")
	for i, tok := range tokens {
		if tok == "" {
			return false
		}
		if tok == ">" && i != len(tokens)-1 {
			return false
		}
	}
	return true
}
