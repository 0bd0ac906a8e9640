package natsclient

import (
	"context"
	"time"

	"github.com/veea/vbus/errors"
)

// Anonymous credentials accepted by bus servers before an app is authorized.
const (
	AnonymousUser     = "anonymous"
	AnonymousPassword = "anonymous"
)

// Ping reports whether a NATS server accepts user at url within timeout.
// Extra options, such as WithTLSConfig, are applied last.
func Ping(ctx context.Context, url, user, password string, timeout time.Duration, extra ...ClientOption) error {
	opts := append([]ClientOption{
		WithCredentials(user, password),
		WithMaxReconnects(0),
		WithHealthInterval(0),
		WithTimeout(timeout),
		WithName("vbus-ping"),
	}, extra...)
	c, err := NewClient(url, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		return errors.Wrap(err, "Client", "Ping", "connect to "+url)
	}
	return c.Close(context.Background())
}

// PublishOnce connects as user, publishes data on subject, flushes and closes.
// It serves one-shot messages such as authorization requests.
func PublishOnce(ctx context.Context, url, user, password, subject string, data []byte, timeout time.Duration,
	extra ...ClientOption,
) error {
	opts := append([]ClientOption{
		WithCredentials(user, password),
		WithMaxReconnects(0),
		WithHealthInterval(0),
		WithTimeout(timeout),
	}, extra...)
	c, err := NewClient(url, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		return errors.Wrap(err, "Client", "PublishOnce", "connect to "+url)
	}
	defer func() { _ = c.Close(context.Background()) }()

	if err := c.Publish(ctx, subject, data); err != nil {
		return errors.Wrap(err, "Client", "PublishOnce", "publish "+subject)
	}
	return c.Flush(ctx)
}
