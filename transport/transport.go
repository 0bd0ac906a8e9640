// Package transport defines the bus capability the client is built on and the
// request/reply machinery layered over it.
package transport

import "context"

// Msg is a message delivered by a subscription.
type Msg struct {
	Subject string
	Reply   string
	Data    []byte
}

// MsgHandler processes a delivered message. Handlers of one subscription are
// called sequentially in delivery order.
type MsgHandler func(ctx context.Context, msg *Msg)

// Subscription is an active interest in a subject pattern.
type Subscription interface {
	Subject() string
	Unsubscribe() error
}

// Transport is a publish/subscribe bus with NATS subject semantics: '.' separated
// tokens, '*' matching one token and '>' matching one or more trailing tokens.
type Transport interface {
	Publish(ctx context.Context, subject string, data []byte) error
	PublishRequest(ctx context.Context, subject, reply string, data []byte) error
	Subscribe(ctx context.Context, subject string, handler MsgHandler) (Subscription, error)
	NewInbox() string
}
