package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/veea/vbus/errors"
	"github.com/veea/vbus/wire"
)

// DefaultRequestTimeout applies to requests whose context carries no deadline.
const DefaultRequestTimeout = 2 * time.Second

// Requester performs request/reply exchanges over a Transport. Replies arrive on a
// single inbox subscription and are matched to callers through the Pending table.
type Requester struct {
	transport Transport
	codec     wire.Codec
	pending   *Pending
	timeout   time.Duration
	sender    string
	logger    *slog.Logger

	mu    sync.Mutex
	inbox string
	sub   Subscription
}

// RequesterOption configures a Requester.
type RequesterOption func(*Requester)

// WithRequestTimeout sets the timeout used when a context has no deadline.
func WithRequestTimeout(d time.Duration) RequesterOption {
	return func(r *Requester) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithSender stamps outgoing packets with the sender's root path.
func WithSender(sender string) RequesterOption {
	return func(r *Requester) {
		r.sender = sender
	}
}

// WithRequesterLogger sets the logger.
func WithRequesterLogger(logger *slog.Logger) RequesterOption {
	return func(r *Requester) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithPending shares an existing correlation table.
func WithPending(p *Pending) RequesterOption {
	return func(r *Requester) {
		if p != nil {
			r.pending = p
		}
	}
}

// NewRequester creates a Requester. Call Start before issuing requests.
func NewRequester(t Transport, codec wire.Codec, opts ...RequesterOption) *Requester {
	r := &Requester{
		transport: t,
		codec:     codec,
		timeout:   DefaultRequestTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.pending == nil {
		r.pending = NewPending(WithPendingLogger(r.logger))
	}
	return r
}

// Pending exposes the correlation table.
func (r *Requester) Pending() *Pending {
	return r.pending
}

// Start subscribes to the reply inbox. Calling Start twice is a no-op.
func (r *Requester) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil {
		return nil
	}

	inbox := r.transport.NewInbox()
	sub, err := r.transport.Subscribe(ctx, inbox+".*", r.handleReply)
	if err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnection, err),
			"Requester", "Start", "subscribe reply inbox")
	}
	r.inbox = inbox
	r.sub = sub
	return nil
}

// Stop unsubscribes the inbox and fails every outstanding request with reason.
func (r *Requester) Stop(reason error) error {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.inbox = ""
	r.mu.Unlock()

	if n := r.pending.CancelAll(reason); n > 0 {
		r.logger.Debug("Cancelled outstanding requests", "count", n)
	}
	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

func (r *Requester) handleReply(_ context.Context, msg *Msg) {
	packet, err := wire.DecodePacket(r.codec, msg.Data)
	if err != nil {
		r.logger.Warn("Dropping undecodable reply", "subject", msg.Subject, "error", err)
		return
	}
	id := packet.ID
	if id == "" {
		id = msg.Subject[strings.LastIndex(msg.Subject, ".")+1:]
	}
	r.pending.Resolve(id, packet)
}

// WithDefaultTimeout returns ctx bounded by d unless it already has a deadline.
func WithDefaultTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// Request publishes packet on subject and waits for its reply. A reply carrying an
// error is returned as *errors.RemoteError.
func (r *Requester) Request(ctx context.Context, subject string, packet *wire.Packet) (*wire.Packet, error) {
	r.mu.Lock()
	inbox := r.inbox
	r.mu.Unlock()
	if inbox == "" {
		return nil, errors.ErrNotConnected
	}

	ctx, cancel := WithDefaultTimeout(ctx, r.timeout)
	defer cancel()

	call := r.pending.Register()
	packet.ID = call.ID
	if packet.Sender == "" {
		packet.Sender = r.sender
	}

	data, err := wire.EncodePacket(r.codec, packet)
	if err != nil {
		r.pending.Forget(call)
		return nil, err
	}

	if err := r.transport.PublishRequest(ctx, subject, inbox+"."+call.ID, data); err != nil {
		r.pending.Forget(call)
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnection, err),
			"Requester", "Request", "publish "+subject)
	}

	reply, err := r.pending.Wait(ctx, call)
	if err != nil {
		return nil, err
	}
	if reply.Failed() {
		return nil, reply.Err()
	}
	return reply, nil
}

// Collect publishes packet on subject and gathers every reply received until ctx
// ends or window elapses, whichever comes first. Used for discovery where any
// number of peers may answer.
func (r *Requester) Collect(ctx context.Context, subject string, packet *wire.Packet, window time.Duration) ([]*wire.Packet, error) {
	inbox := r.transport.NewInbox()

	var (
		mu      sync.Mutex
		replies []*wire.Packet
	)
	sub, err := r.transport.Subscribe(ctx, inbox, func(_ context.Context, msg *Msg) {
		p, err := wire.DecodePacket(r.codec, msg.Data)
		if err != nil {
			r.logger.Warn("Dropping undecodable discovery reply", "subject", subject, "error", err)
			return
		}
		mu.Lock()
		replies = append(replies, p)
		mu.Unlock()
	})
	if err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnection, err),
			"Requester", "Collect", "subscribe discovery inbox")
	}
	defer func() { _ = sub.Unsubscribe() }()

	if packet.Sender == "" {
		packet.Sender = r.sender
	}
	data, err := wire.EncodePacket(r.codec, packet)
	if err != nil {
		return nil, err
	}
	if err := r.transport.PublishRequest(ctx, subject, inbox, data); err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnection, err),
			"Requester", "Collect", "publish "+subject)
	}

	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]*wire.Packet, len(replies))
	copy(out, replies)
	return out, nil
}
