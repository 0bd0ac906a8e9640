// Package worker provides a generic, bounded worker pool.
//
// Submit never blocks and reports ErrQueueFull under backpressure; SubmitWait
// blocks until the item is queued. A pool built with NewSerial has exactly one
// worker, so items are processed strictly in submission order. The client uses
// serial pools to publish change notices and to deliver change callbacks, and a
// wider pool to answer incoming requests off the transport's delivery goroutine.
//
// Statistics are always tracked with atomics. Prometheus metrics are optional:
//
//	registry := metric.NewMetricsRegistry()
//	pool := worker.NewSerial[*wire.Packet](256, publish,
//	    worker.WithMetricsRegistry[*wire.Packet](registry, "publisher"))
//
// Stop closes the queue and lets the workers drain it; a worker that does not
// finish within the timeout yields ErrStopTimeout.
package worker
