package vbus

import (
	"log/slog"

	"github.com/veea/vbus/config"
	"github.com/veea/vbus/metric"
	"github.com/veea/vbus/node"
	"github.com/veea/vbus/schema"
	"github.com/veea/vbus/transport"
	"github.com/veea/vbus/wire"
)

// Option configures a Client.
type Option func(*options)

type options struct {
	cfg         *config.Config
	domain      string
	hostname    string
	transport   transport.Transport
	logger      *slog.Logger
	metrics     *metric.MetricsRegistry
	codec       wire.Codec
	validator   schema.Validator
	valueStore  node.ValueStore
	valueBucket string
	staticPath  string
	remoteLog   bool
	remoteLevel slog.Level
}

// WithConfig replaces the configuration built from defaults and VBUS_*
// environment variables. WithDomain and WithHostname still apply on top.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		if cfg != nil {
			o.cfg = cfg.Clone()
		}
	}
}

// WithDomain sets the first segment of the client root. Default is "system".
func WithDomain(domain string) Option {
	return func(o *options) { o.domain = domain }
}

// WithHostname sets the last segment of the client root. Default is the
// machine host name.
func WithHostname(hostname string) Option {
	return func(o *options) { o.hostname = hostname }
}

// WithTransport uses t instead of discovering and dialing a NATS server.
// Credentials and URL discovery are skipped.
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records bus metrics in registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *options) { o.metrics = registry }
}

// WithCodec overrides the codec named in the configuration. Every client on
// a bus must use the same codec.
func WithCodec(codec wire.Codec) Option {
	return func(o *options) { o.codec = codec }
}

// WithValidator replaces the JSON Schema validator of the local tree.
func WithValidator(v schema.Validator) Option {
	return func(o *options) { o.validator = v }
}

// WithValueStore retains local attribute values in store.
func WithValueStore(store node.ValueStore) Option {
	return func(o *options) { o.valueStore = store }
}

// WithValueBucket retains local attribute values in the NATS key-value bucket
// named bucket, created on first connect. Ignored with WithTransport.
func WithValueBucket(bucket string) Option {
	return func(o *options) { o.valueBucket = bucket }
}

// WithStaticPath serves the files under dir through a "static" method at the
// client root.
func WithStaticPath(dir string) Option {
	return func(o *options) { o.staticPath = dir }
}

// WithRemoteLogging publishes records logged through Client.Logger at or
// above level on "<root>.__system__.log.<level>".
func WithRemoteLogging(level slog.Level) Option {
	return func(o *options) {
		o.remoteLog = true
		o.remoteLevel = level
	}
}
