package proxy_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veea/vbus/address"
	"github.com/veea/vbus/node"
	"github.com/veea/vbus/proxy"
	"github.com/veea/vbus/testutil"
	"github.com/veea/vbus/transport"
	"github.com/veea/vbus/wire"
)

var ownerRoot = address.MustParse("system.owner.host")

type harness struct {
	bus    *testutil.Bus
	owner  *node.Manager
	reg    *proxy.Registry
	client *testutil.Conn
}

// newHarness serves an owner tree on an in-memory bus and attaches a registry
// to it through a requester, the way a client is wired.
func newHarness(t *testing.T, opts ...proxy.Option) *harness {
	t.Helper()
	ctx := context.Background()
	codec := wire.JSONCodec{}
	bus := testutil.NewBus()

	ownerConn := bus.Connect()
	owner := node.NewManager(node.WithPrefix(ownerRoot))
	require.NoError(t, owner.Start(ctx, node.PublisherFunc(func(ctx context.Context, subject string, p *wire.Packet) error {
		data, err := wire.EncodePacket(codec, p)
		if err != nil {
			return err
		}
		return ownerConn.Publish(ctx, subject, data)
	})))
	t.Cleanup(func() { _ = owner.Stop(time.Second) })

	_, err := ownerConn.Subscribe(ctx, ownerRoot.String()+".>", func(ctx context.Context, msg *transport.Msg) {
		if msg.Reply == "" {
			return
		}
		req, err := wire.DecodePacket(codec, msg.Data)
		if err != nil || !req.Verb.IsRequest() {
			return
		}
		data, err := wire.EncodePacket(codec, owner.HandleRequest(ctx, req))
		if err != nil {
			return
		}
		_ = ownerConn.Publish(ctx, msg.Reply, data)
	})
	require.NoError(t, err)

	clientConn := bus.Connect()
	requester := transport.NewRequester(clientConn, codec, transport.WithRequestTimeout(300*time.Millisecond))
	require.NoError(t, requester.Start(ctx))
	t.Cleanup(func() { _ = requester.Stop(nil) })

	reg := proxy.NewRegistry(requester, opts...)
	require.NoError(t, reg.Start(ctx))
	t.Cleanup(func() { _ = reg.Close(time.Second) })

	_, err = clientConn.Subscribe(ctx, ownerRoot.String()+".>", func(ctx context.Context, msg *transport.Msg) {
		p, err := wire.DecodePacket(codec, msg.Data)
		if err != nil || !p.Verb.IsNotice() {
			return
		}
		reg.HandleNotice(ctx, p)
	})
	require.NoError(t, err)

	return &harness{bus: bus, owner: owner, reg: reg, client: clientConn}
}

func (h *harness) idle(t *testing.T) {
	t.Helper()
	require.True(t, h.bus.WaitIdle(time.Second))
}

// path returns the bus path of a path relative to the owner root.
func path(rel string) address.Path {
	return ownerRoot.Join(address.MustParse(rel))
}
