// Package metric holds the Prometheus metrics of a bus client.
//
// A MetricsRegistry wraps its own prometheus.Registry so several clients in one
// process never collide on the default registerer. The bus metrics live under
// the "vbus" namespace:
//
//	vbus_requests_sent_total{verb,status}
//	vbus_requests_duration_seconds{verb}
//	vbus_requests_handled_total{verb,code}
//	vbus_requests_pending
//	vbus_notices_published_total{verb}
//	vbus_notices_received_total{verb}
//	vbus_notices_publish_errors_total
//	vbus_tree_local_elements
//	vbus_tree_remote_proxies
//	vbus_nats_connected, vbus_nats_reconnects_total, vbus_nats_circuit_breaker
//
// Components such as worker pools register extra collectors through the
// MetricsRegistrar methods. Server exposes the registry over HTTP.
package metric
