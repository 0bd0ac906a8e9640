package vbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/veea/vbus/config"
	"github.com/veea/vbus/discovery"
	"github.com/veea/vbus/errors"
	"github.com/veea/vbus/natsclient"
	"github.com/veea/vbus/pkg/retry"
	"github.com/veea/vbus/pkg/tlsutil"
)

// authorizationDelay leaves the server time to reload its accounts after an
// authorization request.
const authorizationDelay = time.Second

// AuthorizationSubject returns the subject on which new credentials of an app
// running on hostname are announced.
func AuthorizationSubject(hostname string) string {
	return "system.authorization." + hostname + ".add"
}

// dial finds a reachable server, registers the app credentials on first use
// and connects with them.
func (c *Client) dial(ctx context.Context) (*natsclient.Client, string, error) {
	store := config.NewStore(c.cfg.Path, config.WithStoreLogger(c.opts.logger))
	creds, created, err := store.LoadOrCreate(c.id, c.cfg.Hostname)
	if err != nil {
		return nil, "", errors.Wrap(err, "Client", "Connect", "load credentials")
	}

	tlsConfig, err := tlsutil.LoadClientConfig(c.cfg.TLS)
	if err != nil {
		return nil, "", err
	}
	secure := natsclient.WithTLSConfig(tlsConfig)

	pingTimeout := c.cfg.Discovery.PingTimeout.Duration()
	finder := discovery.NewFinder(func(ctx context.Context, url string) error {
		return natsclient.Ping(ctx, url, natsclient.AnonymousUser, natsclient.AnonymousPassword, pingTimeout, secure)
	}, discovery.Chain(c.cfg, creds.Server.URL), discovery.WithLogger(c.opts.logger))

	found, err := finder.Find(ctx)
	if err != nil {
		return nil, "", err
	}
	c.logger.Debug("Server found", "url", found.URL, "strategy", found.Strategy)

	if created {
		payload, err := json.Marshal(creds.Auth)
		if err != nil {
			return nil, "", errors.WrapFatal(err, "Client", "Connect", "encode authorization")
		}
		subject := AuthorizationSubject(c.cfg.Hostname)
		if err := natsclient.PublishOnce(ctx, found.URL, natsclient.AnonymousUser, natsclient.AnonymousPassword,
			subject, payload, pingTimeout, secure); err != nil {
			return nil, "", errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnection, err),
				"Client", "Connect", "publish authorization")
		}
		c.logger.Info("Authorization requested", "user", creds.Auth.User)

		select {
		case <-time.After(authorizationDelay):
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}

	if creds.Server.URL != found.URL {
		creds.Server.URL = found.URL
		if err := store.Save(c.id, creds); err != nil {
			c.logger.Warn("Persisting server url failed", "error", err)
		}
	}

	c.credsMu.Lock()
	c.creds, c.store = creds, store
	c.credsMu.Unlock()

	policy := retry.Connect()
	natsOpts := []natsclient.ClientOption{
		natsclient.WithCredentials(creds.Auth.User, creds.Private.Key),
		natsclient.WithName(c.id),
		secure,
		natsclient.WithLogger(natsclient.NewSlogLogger(c.opts.logger)),
		natsclient.WithTimeout(pingTimeout),
		natsclient.WithCircuitBreakerThreshold(int32(policy.MaxAttempts) + 1),
		natsclient.WithDisconnectCallback(c.onTransportDown(found.URL)),
		natsclient.WithReconnectCallback(c.onTransportUp(found.URL)),
		natsclient.WithHealthChangeCallback(c.onTransportHealth),
	}
	if c.opts.metrics != nil {
		natsOpts = append(natsOpts, natsclient.WithMetrics(c.opts.metrics))
	}
	nc, err := natsclient.NewClient(found.URL, natsOpts...)
	if err != nil {
		return nil, "", err
	}

	// The server may still be reloading accounts after an authorization request.
	if err := retry.Do(ctx, policy, func() error { return nc.Connect(ctx) }); err != nil {
		return nil, "", errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnection, err),
			"Client", "Connect", "connect to "+found.URL)
	}
	return nc, found.URL, nil
}

func (c *Client) onTransportDown(url string) func(error) {
	return func(err error) {
		c.emit(EventDisconnected, url, err)
	}
}

func (c *Client) onTransportUp(url string) func() {
	return func() {
		c.publishFailed.Store(false)
		c.monitor.UpdateHealthy("publisher", "ok")
		c.emit(EventReconnected, url, nil)
		// Publishes made while disconnected are lost; announce the tree again.
		c.manager.Republish()
	}
}

// onTransportHealth follows the NATS client's own checks: connection events
// and the periodic ping.
func (c *Client) onTransportHealth(healthy bool) {
	if healthy {
		c.monitor.UpdateHealthy("transport", "connected")
		return
	}
	c.monitor.UpdateUnhealthy("transport", "connection lost")
}

// ensureCredentials gives injected transports in-memory credentials so that
// permission requests carry a user.
func (c *Client) ensureCredentials() {
	c.credsMu.Lock()
	defer c.credsMu.Unlock()

	if c.creds != nil {
		return
	}
	c.creds = &config.Credentials{
		Element: config.ElementInfo{Path: c.id, Name: c.id, Host: c.cfg.Hostname},
		Auth:    config.Auth{User: c.cfg.Hostname + "." + c.id},
	}
}

func (c *Client) attachBucket(ctx context.Context, nc *natsclient.Client) error {
	bucket, err := nc.KeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      c.opts.valueBucket,
		Description: "retained attribute values",
		History:     1,
	})
	if err != nil {
		return err
	}
	c.manager.SetValueStore(nc.NewKVStore(bucket))
	return nil
}

// AskPermission grants the client subscribe and publish rights on subject.
// It returns false without publishing when the rights were already granted.
func (c *Client) AskPermission(ctx context.Context, subject string) (bool, error) {
	if subject == "" {
		return false, errors.WrapInvalid(errors.ErrInvalidPath, "Client", "AskPermission", "validate subject")
	}
	conn, err := c.current()
	if err != nil {
		return false, err
	}

	// Serializes requests so the granted set only moves forward.
	c.credsMu.Lock()
	defer c.credsMu.Unlock()

	if c.creds == nil {
		return false, nil
	}
	next := c.creds.Clone()
	if !next.AddPermission(subject) {
		return false, nil
	}
	payload, err := json.Marshal(next.Auth)
	if err != nil {
		return false, errors.WrapFatal(err, "Client", "AskPermission", "encode permissions")
	}
	if err := conn.transport.Publish(ctx, PermissionsSubject, payload); err != nil {
		return false, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnection, err),
			"Client", "AskPermission", "publish "+PermissionsSubject)
	}

	c.creds = next
	if c.store != nil {
		if err := c.store.Save(c.id, next); err != nil {
			c.logger.Warn("Persisting permissions failed", "error", err)
		}
	}
	c.logger.Debug("Permission requested", "subject", subject)
	return true, nil
}
