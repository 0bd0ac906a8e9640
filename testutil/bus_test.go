package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veea/vbus/transport"
)

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"a.b", "a.b", true},
		{"a.b", "a.c", false},
		{"a.*", "a.b", true},
		{"a.*", "a.b.c", false},
		{"a.>", "a.b.c", true},
		{"a.>", "a", false},
		{"*.b.>", "x.b.y", true},
		{">", "anything.at.all", true},
		{"a.b.c", "a.b", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchSubject(tt.pattern, tt.subject))
		})
	}
}

func collect(t *testing.T, conn *Conn, subject string) (*[]string, *sync.Mutex) {
	t.Helper()
	var (
		mu  sync.Mutex
		got []string
	)
	_, err := conn.Subscribe(context.Background(), subject, func(_ context.Context, msg *transport.Msg) {
		mu.Lock()
		got = append(got, string(msg.Data))
		mu.Unlock()
	})
	require.NoError(t, err)
	return &got, &mu
}

func TestBus_DeliversInOrder(t *testing.T) {
	bus := NewBus()
	pub := bus.Connect()
	sub := bus.Connect()

	got, mu := collect(t, sub, "sensors.>")

	ctx := context.Background()
	for _, v := range []string{"1", "2", "3", "4"} {
		require.NoError(t, pub.Publish(ctx, "sensors.temp1.notify", []byte(v)))
	}
	require.NoError(t, pub.Publish(ctx, "actuators.pump", []byte("ignored")))

	require.True(t, bus.WaitIdle(time.Second))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"1", "2", "3", "4"}, *got)
	assert.Equal(t, 5, bus.Count(">"))
}

func TestBus_RequestReply(t *testing.T) {
	bus := NewBus()
	server := bus.Connect()
	client := bus.Connect()
	ctx := context.Background()

	_, err := server.Subscribe(ctx, "svc.echo", func(ctx context.Context, msg *transport.Msg) {
		_ = server.Publish(ctx, msg.Reply, append([]byte("echo:"), msg.Data...))
	})
	require.NoError(t, err)

	inbox := client.NewInbox()
	replies := make(chan string, 1)
	_, err = client.Subscribe(ctx, inbox, func(_ context.Context, msg *transport.Msg) {
		replies <- string(msg.Data)
	})
	require.NoError(t, err)

	require.NoError(t, client.PublishRequest(ctx, "svc.echo", inbox, []byte("hi")))

	select {
	case r := <-replies:
		assert.Equal(t, "echo:hi", r)
	case <-time.After(time.Second):
		t.Fatal("no reply")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	conn := bus.Connect()
	ctx := context.Background()

	sub, err := conn.Subscribe(ctx, "a.b", func(context.Context, *transport.Msg) {
		t.Error("handler must not run after unsubscribe")
	})
	require.NoError(t, err)
	assert.Equal(t, "a.b", sub.Subject())
	assert.Equal(t, 1, bus.SubscriptionCount())

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 0, bus.SubscriptionCount())

	require.NoError(t, conn.Publish(ctx, "a.b", []byte("x")))
	assert.True(t, bus.WaitIdle(time.Second))
}

func TestBus_DropIf(t *testing.T) {
	bus := NewBus()
	conn := bus.Connect()
	got, mu := collect(t, conn, "a.*")

	bus.DropIf(func(r Record) bool { return r.Subject == "a.lost" })
	ctx := context.Background()
	require.NoError(t, conn.Publish(ctx, "a.lost", []byte("1")))
	require.NoError(t, conn.Publish(ctx, "a.kept", []byte("2")))

	require.True(t, bus.WaitIdle(time.Second))
	mu.Lock()
	assert.Equal(t, []string{"2"}, *got)
	mu.Unlock()
	assert.Equal(t, 1, bus.Count("a.lost"), "dropped messages are still recorded")

	bus.Reset()
	assert.Equal(t, 0, bus.Count(">"))
}

func TestConn_OfflineAndClose(t *testing.T) {
	bus := NewBus()
	conn := bus.Connect()
	ctx := context.Background()

	conn.SetOffline(true)
	assert.ErrorIs(t, conn.Publish(ctx, "a", nil), ErrOffline)
	conn.SetOffline(false)
	assert.NoError(t, conn.Publish(ctx, "a", nil))

	_, err := conn.Subscribe(ctx, "a", func(context.Context, *transport.Msg) {})
	require.NoError(t, err)
	conn.Close()
	assert.Equal(t, 0, bus.SubscriptionCount())
	assert.ErrorIs(t, conn.Publish(ctx, "a", nil), ErrClosed)
	_, err = conn.Subscribe(ctx, "a", func(context.Context, *transport.Msg) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConn_InvalidSubjects(t *testing.T) {
	conn := NewBus().Connect()
	ctx := context.Background()

	assert.Error(t, conn.Publish(ctx, "a.*", nil))
	assert.Error(t, conn.Publish(ctx, "", nil))

	_, err := conn.Subscribe(ctx, "a.>.b", func(context.Context, *transport.Msg) {})
	assert.Error(t, err)
	_, err = conn.Subscribe(ctx, "a..b", func(context.Context, *transport.Msg) {})
	assert.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = conn.Subscribe(cancelled, "a", func(context.Context, *transport.Msg) {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConn_NewInboxUnique(t *testing.T) {
	bus := NewBus()
	a, b := bus.Connect(), bus.Connect()
	assert.NotEqual(t, a.NewInbox(), b.NewInbox())
}

func TestMemoryKV(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	rev1, err := kv.Put(ctx, "a", []byte("1"))
	require.NoError(t, err)
	rev2, err := kv.Put(ctx, "b", []byte("2"))
	require.NoError(t, err)
	assert.Greater(t, rev2, rev1)

	v, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
	assert.Equal(t, []string{"a", "b"}, kv.Keys())

	require.NoError(t, kv.Delete(ctx, "a"))
	_, err = kv.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
