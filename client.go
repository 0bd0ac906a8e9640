package vbus

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veea/vbus/address"
	"github.com/veea/vbus/config"
	"github.com/veea/vbus/errors"
	"github.com/veea/vbus/health"
	"github.com/veea/vbus/logging"
	"github.com/veea/vbus/metric"
	"github.com/veea/vbus/natsclient"
	"github.com/veea/vbus/node"
	"github.com/veea/vbus/pkg/cache"
	"github.com/veea/vbus/pkg/worker"
	"github.com/veea/vbus/proxy"
	"github.com/veea/vbus/transport"
	"github.com/veea/vbus/wire"
)

// Subjects shared by every client on a bus
const (
	InfoSubject        = "info"
	PermissionsSubject = "system.auth.addpermissions"
)

// ClientName is reported in module info.
const ClientName = "golang"

const (
	requestWorkers  = 4
	requestQueue    = 256
	drainTimeout    = 2 * time.Second
	eventBufferSize = 32
)

// ErrClosed is returned by a Client after Close.
var ErrClosed = stderrors.New("vbus: client closed")

// ModuleInfo describes a running client, as answered on the info subject.
type ModuleInfo = wire.ModuleInfo

// Client exposes a local tree under <domain>.<appID>.<hostname> and gives
// access to the trees of other clients through proxies.
type Client struct {
	appID string
	id    string
	root  address.Path
	cfg   *config.Config
	opts  options

	logger     *slog.Logger
	userLogger atomic.Pointer[slog.Logger]
	codec      wire.Codec

	manager  *node.Manager
	registry *proxy.Registry
	negative *cache.TTL[struct{}]
	monitor  *health.Monitor
	started  time.Time

	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	mu              sync.Mutex
	conn            *connection
	registryStarted bool
	closed          bool

	credsMu sync.Mutex
	creds   *config.Credentials
	store   *config.Store

	watchMu    sync.Mutex
	watched    map[string]*watchSet
	patterns   map[string]*watchSet
	patternSeq int

	publishFailed atomic.Bool

	eventsMu     sync.Mutex
	events       chan Event
	eventsClosed bool
}

// connection is the state of one Connect/Disconnect cycle.
type connection struct {
	transport transport.Transport
	nats      *natsclient.Client
	url       string
	requester *transport.Requester
	requests  *worker.Pool[*transport.Msg]
	subs      []transport.Subscription
	busLog    *logging.BusHandler
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a detached client for appID. The local tree can be built before
// Connect; it is published once connected.
func New(appID string, opts ...Option) (*Client, error) {
	if err := address.ValidateSegment(appID); err != nil {
		return nil, errors.WrapInvalid(err, "Client", "New", "validate app id")
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := o.cfg
	if cfg == nil {
		cfg = config.Default()
		if err := cfg.ApplyEnv(); err != nil {
			return nil, err
		}
	}
	if o.domain != "" {
		cfg.Domain = o.domain
	}
	if o.hostname != "" {
		cfg.Hostname = o.hostname
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	codec := o.codec
	if codec == nil {
		var err error
		if codec, err = wire.CodecByName(cfg.Codec); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "New", "select codec")
		}
	}

	root, err := address.New(cfg.Domain, appID, cfg.Hostname)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "New", "build root path")
	}

	c := &Client{
		appID:    appID,
		id:       cfg.Domain + "." + appID,
		root:     root,
		cfg:      cfg,
		opts:     o,
		logger:   o.logger.With("component", "vbus", "root", root.String()),
		codec:    codec,
		monitor:  health.NewMonitor(),
		started:  time.Now(),
		watched:  make(map[string]*watchSet),
		patterns: make(map[string]*watchSet),
		events:   make(chan Event, eventBufferSize),
	}
	c.userLogger.Store(o.logger)
	c.lifeCtx, c.lifeCancel = context.WithCancel(context.Background())

	managerOpts := []node.ManagerOption{
		node.WithPrefix(root),
		node.WithLogger(o.logger),
		node.WithMetrics(o.metrics),
		node.WithValidator(o.validator),
	}
	if o.valueStore != nil {
		managerOpts = append(managerOpts, node.WithValueStore(o.valueStore))
	}
	c.manager = node.NewManager(managerOpts...)

	c.registry = proxy.NewRegistry(requesterFunc(c.request),
		proxy.WithLocalRoot(root),
		proxy.WithStaleAfter(cfg.StaleAfter.Duration()),
		proxy.WithLogger(o.logger),
		proxy.WithMetrics(o.metrics),
	)

	if ttl := cfg.NegativeTTL.Duration(); ttl > 0 {
		cacheOpts := []cache.Option[struct{}]{}
		if o.metrics != nil {
			cacheOpts = append(cacheOpts, cache.WithMetrics[struct{}](o.metrics, "negative_lookup"))
		}
		c.negative, err = cache.NewTTL[struct{}](c.lifeCtx, ttl, ttl, cacheOpts...)
		if err != nil {
			c.lifeCancel()
			return nil, err
		}
	}

	if o.staticPath != "" {
		if _, err := c.manager.Root().AddMethod("static", c.serveStatic); err != nil {
			c.lifeCancel()
			return nil, errors.Wrap(err, "Client", "New", "add static method")
		}
	}

	c.monitor.UpdateDegraded("transport", "not connected")
	return c, nil
}

type requesterFunc func(ctx context.Context, subject string, packet *wire.Packet) (*wire.Packet, error)

func (f requesterFunc) Request(ctx context.Context, subject string, packet *wire.Packet) (*wire.Packet, error) {
	return f(ctx, subject, packet)
}

// ID returns "<domain>.<appID>".
func (c *Client) ID() string { return c.id }

// Hostname returns the host segment of the client root.
func (c *Client) Hostname() string { return c.cfg.Hostname }

// Root returns the bus path of the local tree.
func (c *Client) Root() address.Path { return c.root }

// Nodes returns the manager of the local tree.
func (c *Client) Nodes() *node.Manager { return c.manager }

// Events reports connection status changes. Events are dropped when the
// channel is full. The channel is closed by Close.
func (c *Client) Events() <-chan Event { return c.events }

// Logger returns the logger applications should use. With remote logging
// enabled its records are also published on the bus while connected.
func (c *Client) Logger() *slog.Logger { return c.userLogger.Load() }

// AddNode creates or overwrites the node at path, relative to the client root.
func (c *Client) AddNode(path string, def node.Def) (*node.Node, error) {
	return c.manager.AddNode(path, def)
}

// RemoveNode removes the element at path, relative to the client root.
func (c *Client) RemoveNode(path string) error {
	return c.manager.RemoveNode(path)
}

// Connected reports whether Connect succeeded and Disconnect was not called since.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect attaches the client to the bus: it dials NATS unless a transport was
// injected, subscribes to requests for the local tree, discovery and info
// requests, and publishes the local tree. Connecting twice is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.conn != nil {
		return nil
	}

	if !c.registryStarted {
		if err := c.registry.Start(c.lifeCtx); err != nil {
			return err
		}
		c.registryStarted = true
	}

	conn := &connection{transport: c.opts.transport}
	if conn.transport == nil {
		nc, url, err := c.dial(ctx)
		if err != nil {
			c.monitor.UpdateUnhealthy("transport", health.Sanitize(err.Error()))
			return err
		}
		conn.transport, conn.nats, conn.url = nc, nc, url
	} else {
		c.ensureCredentials()
	}

	if err := c.attach(ctx, conn); err != nil {
		c.release(conn)
		c.monitor.UpdateUnhealthy("transport", health.Sanitize(err.Error()))
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnection, err), "Client", "Connect", "attach to bus")
	}

	c.conn = conn
	c.publishFailed.Store(false)
	c.monitor.UpdateHealthy("transport", "connected")
	c.monitor.UpdateHealthy("publisher", "ok")
	c.logger.Info("Connected", "url", conn.url)
	c.emit(EventConnected, conn.url, nil)
	return nil
}

func (c *Client) attach(ctx context.Context, conn *connection) error {
	runCtx, cancel := context.WithCancel(c.lifeCtx)
	conn.ctx, conn.cancel = runCtx, cancel

	conn.requester = transport.NewRequester(conn.transport, c.codec,
		transport.WithRequestTimeout(c.cfg.RequestTimeout.Duration()),
		transport.WithSender(c.root.String()),
		transport.WithRequesterLogger(c.opts.logger),
	)
	if err := conn.requester.Start(runCtx); err != nil {
		return err
	}

	conn.requests = worker.NewPool(requestWorkers, requestQueue, func(ctx context.Context, msg *transport.Msg) error {
		return c.serveRequest(ctx, conn.transport, msg)
	}, worker.WithErrorHandler(func(msg *transport.Msg, err error) {
		c.logger.Warn("Request not answered", "subject", msg.Subject, "error", err)
	}))
	if err := conn.requests.Start(runCtx); err != nil {
		return err
	}

	handlers := map[string]transport.MsgHandler{
		c.root.Wildcard():                          c.queueRequest(conn),
		c.cfg.Domain + address.Separator + c.appID: c.answerDiscovery(conn.transport),
		InfoSubject: c.answerInfo(conn.transport),
	}
	var (
		g    errgroup.Group
		subM sync.Mutex
	)
	for subject, handler := range handlers {
		g.Go(func() error {
			sub, err := conn.transport.Subscribe(runCtx, subject, handler)
			if err != nil {
				return errors.Wrap(err, "Client", "Connect", "subscribe "+subject)
			}
			subM.Lock()
			conn.subs = append(conn.subs, sub)
			subM.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := c.resumeWatches(conn); err != nil {
		return err
	}

	if conn.nats != nil && c.opts.valueBucket != "" {
		if err := c.attachBucket(ctx, conn.nats); err != nil {
			c.logger.Warn("Value bucket unavailable", "bucket", c.opts.valueBucket, "error", err)
		}
	}
	if n, err := c.manager.Restore(ctx); err != nil {
		c.logger.Warn("Restoring retained values failed", "error", err)
	} else if n > 0 {
		c.logger.Debug("Restored retained values", "count", n)
	}

	if err := c.manager.Start(runCtx, c.publisher(conn)); err != nil {
		return err
	}
	c.manager.Republish()

	if c.opts.remoteLog {
		conn.busLog = logging.NewBusHandler(c.opts.logger.Handler(), conn.transport, c.root.String(),
			logging.WithLevel(c.opts.remoteLevel))
		if err := conn.busLog.Start(runCtx); err != nil {
			return err
		}
		c.userLogger.Store(slog.New(conn.busLog))
	}
	return nil
}

// publisher encodes local notices onto the transport. The first failure after
// a (re)connect is reported on the event channel.
func (c *Client) publisher(conn *connection) node.Publisher {
	return node.PublisherFunc(func(ctx context.Context, subject string, p *wire.Packet) error {
		data, err := wire.EncodePacket(c.codec, p)
		if err != nil {
			return err
		}
		if err := conn.transport.Publish(ctx, subject, data); err != nil {
			if c.publishFailed.CompareAndSwap(false, true) {
				c.monitor.UpdateDegraded("publisher", health.Sanitize(err.Error()))
				c.emit(EventPublishFailed, conn.url, err)
			}
			return err
		}
		return nil
	})
}

func (c *Client) queueRequest(conn *connection) transport.MsgHandler {
	return func(_ context.Context, msg *transport.Msg) {
		// Own notices arrive on the same subscription; only requests carry a reply.
		if msg.Reply == "" {
			return
		}
		if err := conn.requests.Submit(msg); err != nil {
			c.logger.Warn("Request dropped", "subject", msg.Subject, "error", err)
		}
	}
}

func (c *Client) serveRequest(ctx context.Context, t transport.Transport, msg *transport.Msg) error {
	req, err := wire.DecodePacket(c.codec, msg.Data)
	if err != nil {
		return err
	}
	if !req.Verb.IsRequest() {
		return nil
	}
	if req.Path == "" {
		req.Path = strings.TrimSuffix(msg.Subject, address.Separator+string(req.Verb))
	}
	reply := c.manager.HandleRequest(ctx, req)
	data, err := wire.EncodePacket(c.codec, reply)
	if err != nil {
		return err
	}
	return t.Publish(ctx, msg.Reply, data)
}

// Disconnect detaches from the bus. Outstanding requests fail with
// errors.ErrCancelled; the local tree and the proxies are kept.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.release(conn)
	if conn.nats != nil {
		if err := conn.nats.Close(ctx); err != nil {
			c.logger.Warn("Closing NATS connection failed", "error", err)
		}
	}

	c.monitor.UpdateDegraded("transport", "disconnected")
	c.logger.Info("Disconnected")
	c.emit(EventDisconnected, conn.url, nil)
	return nil
}

// release undoes attach. It tolerates a partially attached connection.
func (c *Client) release(conn *connection) {
	if err := c.manager.Stop(drainTimeout); err != nil {
		c.logger.Warn("Draining notices failed", "error", err)
	}
	if conn.busLog != nil {
		c.userLogger.Store(c.opts.logger)
		_ = conn.busLog.Close(drainTimeout)
	}

	c.suspendWatches()
	for _, sub := range conn.subs {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Debug("Unsubscribe failed", "subject", sub.Subject(), "error", err)
		}
	}
	if conn.requester != nil {
		_ = conn.requester.Stop(errors.ErrCancelled)
	}
	if conn.requests != nil {
		_ = conn.requests.Stop(drainTimeout)
	}
	if conn.cancel != nil {
		conn.cancel()
	}
}

// Close disconnects and releases every resource. The client cannot be reused.
func (c *Client) Close(ctx context.Context) error {
	err := c.Disconnect(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return err
	}
	c.closed = true
	started := c.registryStarted
	c.mu.Unlock()

	if started {
		if cerr := c.registry.Close(drainTimeout); cerr != nil && err == nil {
			err = cerr
		}
	}
	if c.negative != nil {
		_ = c.negative.Close()
	}
	c.lifeCancel()

	c.eventsMu.Lock()
	c.eventsClosed = true
	close(c.events)
	c.eventsMu.Unlock()
	return err
}

func (c *Client) current() (*connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, errors.ErrNotConnected
	}
	return c.conn, nil
}

func (c *Client) request(ctx context.Context, subject string, packet *wire.Packet) (*wire.Packet, error) {
	conn, err := c.current()
	if err != nil {
		return nil, err
	}
	return conn.requester.Request(ctx, subject, packet)
}

// Health reports the client status with its counters.
func (c *Client) Health() health.Status {
	pending := 0
	if conn, err := c.current(); err == nil {
		pending = conn.requester.Pending().Len()
	}
	return c.monitor.AggregateHealth("vbus").WithMetrics(&health.Metrics{
		Uptime:          time.Since(c.started),
		ErrorCount:      c.monitor.ErrorCount(),
		PendingRequests: pending,
		LocalElements:   c.manager.Len(),
		RemoteProxies:   c.registry.Len(),
	})
}

// Metrics returns the bus metrics, or nil without WithMetrics.
func (c *Client) Metrics() *metric.Metrics {
	if c.opts.metrics == nil {
		return nil
	}
	return c.opts.metrics.CoreMetrics()
}
