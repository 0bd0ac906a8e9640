package transport

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/veea/vbus/errors"
	"github.com/veea/vbus/wire"
)

type result struct {
	packet *wire.Packet
	err    error
}

// Call is an outstanding request registered in the correlation table.
type Call struct {
	ID     string
	result chan result
}

// Pending is the correlation table pairing outstanding requests with replies.
// Entries are removed when resolved, when their wait ends, or on CancelAll.
type Pending struct {
	mu      sync.Mutex
	waiters map[string]*Call
	newID   func() string
	logger  *slog.Logger
}

// PendingOption configures a Pending table.
type PendingOption func(*Pending)

// WithIDGenerator replaces the uuid correlation id generator.
func WithIDGenerator(fn func() string) PendingOption {
	return func(p *Pending) {
		p.newID = fn
	}
}

// WithPendingLogger sets the logger used for discarded replies.
func WithPendingLogger(logger *slog.Logger) PendingOption {
	return func(p *Pending) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPending creates an empty correlation table.
func NewPending(opts ...PendingOption) *Pending {
	p := &Pending{
		waiters: make(map[string]*Call),
		newID:   func() string { return uuid.New().String() },
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register allocates a correlation id and a waiter for it.
func (p *Pending) Register() *Call {
	call := &Call{ID: p.newID(), result: make(chan result, 1)}

	p.mu.Lock()
	p.waiters[call.ID] = call
	p.mu.Unlock()

	return call
}

// Forget drops a waiter without resolving it.
func (p *Pending) Forget(call *Call) {
	p.mu.Lock()
	if p.waiters[call.ID] == call {
		delete(p.waiters, call.ID)
	}
	p.mu.Unlock()
}

// Resolve delivers a reply to the waiter registered under id. It returns false
// when no waiter exists, which is the case for late replies.
func (p *Pending) Resolve(id string, packet *wire.Packet) bool {
	p.mu.Lock()
	call, ok := p.waiters[id]
	if ok {
		delete(p.waiters, id)
	}
	p.mu.Unlock()

	if !ok {
		p.logger.Debug("Discarding reply without waiter", "id", id)
		return false
	}

	call.result <- result{packet: packet}
	return true
}

// Wait blocks until the call is resolved, cancelled, or ctx ends. Deadline expiry
// yields errors.ErrTimeout and cancellation errors.ErrCancelled.
func (p *Pending) Wait(ctx context.Context, call *Call) (*wire.Packet, error) {
	select {
	case r := <-call.result:
		return r.packet, r.err
	case <-ctx.Done():
		p.Forget(call)
		// A reply may have raced the deadline; the caller still gets the timeout.
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.ErrTimeout
		}
		return nil, errors.ErrCancelled
	}
}

// CancelAll fails every outstanding call with err and returns how many there were.
func (p *Pending) CancelAll(err error) int {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = make(map[string]*Call)
	p.mu.Unlock()

	for _, call := range waiters {
		call.result <- result{err: err}
	}
	return len(waiters)
}

// Len returns the number of outstanding calls.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
