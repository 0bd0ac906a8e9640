package vbus

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veea/vbus/address"
	"github.com/veea/vbus/config"
	"github.com/veea/vbus/errors"
	"github.com/veea/vbus/node"
	"github.com/veea/vbus/testutil"
	"github.com/veea/vbus/wire"
)

func TestClient_Discover(t *testing.T) {
	bus := testutil.NewBus()
	a := newTestClient(t, bus, "hostA")
	b := newTestClient(t, bus, "hostB")
	other := newTestClient(t, bus, "hostC", WithDomain("lab"))

	_, err := a.AddNode("sensors", node.Def{"temp1": 21.5, "deep": node.Def{"leaf": 1}})
	require.NoError(t, err)
	connect(t, a, b, other)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	app, err := b.Discover(ctx, "system", "app", 0)
	require.NoError(t, err)
	assert.Equal(t, "system.app", app.Path().String())

	hosts, err := app.Children(context.Background())
	require.NoError(t, err)
	require.Len(t, hosts, 1, "own root and other domains are not listed")
	assert.Equal(t, "system.app.hostA", hosts[0].Path().String())
	assert.Equal(t, wire.KindNode, hosts[0].Kind())

	// The discovered tree resolves without further describe requests.
	describes := bus.Count("system.app.hostA.>")
	temp, err := b.GetRemoteAttribute(context.Background(), "system.app.hostA.sensors.temp1")
	require.NoError(t, err)
	assert.Equal(t, 21.5, temp.Value())
	assert.Equal(t, describes, bus.Count("system.app.hostA.>"))
}

func TestClient_DiscoverDepth(t *testing.T) {
	bus := testutil.NewBus()
	a := newTestClient(t, bus, "hostA")
	b := newTestClient(t, bus, "hostB")
	_, err := a.AddNode("sensors", node.Def{"deep": node.Def{"leaf": 1}})
	require.NoError(t, err)
	connect(t, a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = b.Discover(ctx, "system", "app", 2)
	require.NoError(t, err)

	sensors, err := b.registry.Lookup(address.MustParse("system.app.hostA.sensors"))
	require.NoError(t, err)
	assert.Equal(t, wire.KindNode, sensors.Kind())

	deep, err := b.registry.Lookup(address.MustParse("system.app.hostA.sensors.deep"))
	require.NoError(t, err)
	assert.Equal(t, wire.KindUnknown, deep.Kind(), "elements below the depth stay unresolved")
}

func TestClient_DiscoverRequiresConnection(t *testing.T) {
	c := newTestClient(t, testutil.NewBus(), "hostA")
	_, err := c.Discover(context.Background(), "system", "app", 0)
	assert.ErrorIs(t, err, errors.ErrNotConnected)
}

func TestClient_DiscoverModules(t *testing.T) {
	bus := testutil.NewBus()
	a := newTestClient(t, bus, "hostA", WithStaticPath(t.TempDir()))
	b := newTestClient(t, bus, "hostB")
	connect(t, a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	modules, err := b.DiscoverModules(ctx)
	require.NoError(t, err)
	require.Len(t, modules, 2)

	assert.Equal(t, "hostA", modules[0].Hostname)
	assert.True(t, modules[0].HasStaticFiles)
	assert.Equal(t, "hostB", modules[1].Hostname)
	assert.False(t, modules[1].HasStaticFiles)
	for _, m := range modules {
		assert.Equal(t, "system.app", m.ID)
		assert.Equal(t, ClientName, m.Client)
		assert.NotZero(t, m.Status.HeapSize)
	}
}

func TestClient_Expose(t *testing.T) {
	c := newTestClient(t, testutil.NewBus(), "hostA")

	uri, err := c.Expose("web", "http", 8080, "/ui")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "http://"))
	assert.True(t, strings.HasSuffix(uri, ":8080/ui"))

	_, err = c.Expose("api", "https", 8443, "v1")
	require.NoError(t, err)

	web, err := c.Nodes().Attribute("uris.web")
	require.NoError(t, err)
	assert.Equal(t, uri, web.Value())
	api, err := c.Nodes().Attribute("uris.api")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(api.Value().(string), ":8443/v1"))

	_, err = c.Expose("bad", "http", 0, "")
	assert.True(t, errors.IsInvalid(err))
}

func TestClient_StaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "js"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "js", "app.js"), []byte("run()"), 0o600))

	bus := testutil.NewBus()
	a := newTestClient(t, bus, "hostA", WithStaticPath(dir))
	b := newTestClient(t, bus, "hostB")
	connect(t, a, b)

	ctx := context.Background()
	static, err := b.GetRemoteMethod(ctx, "system.app.hostA.static")
	require.NoError(t, err)

	tests := []struct {
		name string
		args any
		want string
	}{
		{"plain uri", "js/app.js", "run()"},
		{"method and uri", []any{"GET", "/js/app.js"}, "run()"},
		{"object", map[string]any{"uri": "js/app.js"}, "run()"},
		{"missing falls back to index", "route/42", "<html>"},
		{"directory falls back to index", "js", "<html>"},
		{"traversal stays inside", "../../etc/passwd", "<html>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := static.Call(ctx, tt.args)
			require.NoError(t, err)
			decoded, err := base64.StdEncoding.DecodeString(got.(string))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(decoded))
		})
	}

	_, err = static.Call(ctx, 42)
	require.Error(t, err)
}

func TestClient_AskPermission(t *testing.T) {
	bus := testutil.NewBus()
	c := newTestClient(t, bus, "hostA")

	_, err := c.AskPermission(context.Background(), "lab.>")
	assert.ErrorIs(t, err, errors.ErrNotConnected)

	connect(t, c)
	granted, err := c.AskPermission(context.Background(), "lab.>")
	require.NoError(t, err)
	assert.True(t, granted)

	rec := testutil.WaitForMessage(t, bus, PermissionsSubject, testTimeout)
	var auth config.Auth
	require.NoError(t, json.Unmarshal(rec.Data, &auth))
	assert.Equal(t, "hostA.system.app", auth.User)
	assert.Contains(t, auth.Permissions.Subscribe, "lab.>")
	assert.Contains(t, auth.Permissions.Publish, "lab.>")

	granted, err = c.AskPermission(context.Background(), "lab.>")
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, 1, bus.Count(PermissionsSubject))
}

func TestClient_AskPermissionRetriesAfterPublishFailure(t *testing.T) {
	bus := testutil.NewBus()
	conn := bus.Connect()
	c, err := New("app", WithConfig(testConfig(t)), WithHostname("hostA"), WithTransport(conn), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer func() { _ = c.Close(context.Background()) }()
	connect(t, c)

	conn.SetOffline(true)
	granted, err := c.AskPermission(context.Background(), "lab.>")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.False(t, granted)
	assert.NotContains(t, c.creds.Auth.Permissions.Subscribe, "lab.>", "failed request is not recorded")

	conn.SetOffline(false)
	granted, err = c.AskPermission(context.Background(), "lab.>")
	require.NoError(t, err)
	assert.True(t, granted)
	testutil.WaitForMessageCount(t, bus, PermissionsSubject, 1, testTimeout)
}
