// Package natsclient is the NATS implementation of transport.Transport, with a
// circuit breaker around connection attempts and a JetStream KV store used to
// retain attribute values.
//
// # Connection Lifecycle
//
// The client moves through Disconnected → Connecting → Connected, and to
// Reconnecting while the underlying connection recovers. After a configurable
// number of failed attempts (default 5) the circuit opens: Connect fails fast
// with ErrCircuitOpen until the backoff elapses, and the backoff doubles up to
// the configured maximum on every further round of failures.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("system.test.host"),
//	    natsclient.WithCredentials(user, password),
//	    natsclient.WithReconnectCallback(func() { manager.Republish() }),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// # Transport
//
// Subscribe delivers the messages of one subscription sequentially, with a
// context that is cancelled when the subscription ends. NewInbox honors
// WithInboxPrefix, which matters when permissions restrict _INBOX subjects.
//
// # KV Store
//
// KVStore satisfies node.ValueStore: Get, Put, Delete and Keys over a
// JetStream KV bucket, with a per-operation timeout and a value size limit.
//
// # Testing
//
// NewTestClient starts a NATS server with testcontainers-go for integration
// tests, which are guarded by the integration build tag:
//
//	tc := natsclient.NewTestClient(t, natsclient.WithKVBuckets("values"))
//	other := tc.Connect(t)
package natsclient
