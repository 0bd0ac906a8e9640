// Package testutil provides an in-memory bus and store for tests.
//
// Bus implements NATS subject matching ('*' and '>') and per-subscription ordered,
// asynchronous delivery, so code written against transport.Transport behaves the
// same as on a real server:
//
//	bus := testutil.NewBus()
//	server := bus.Connect()
//	client := bus.Connect()
//
// DropIf simulates lost messages, Conn.SetOffline simulates a broken connection and
// WaitIdle waits until every queued message was handled.
package testutil
