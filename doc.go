// Package vbus is a client for a hierarchical object bus carried over NATS.
//
// Every client owns a tree of nodes, attributes and methods published under
// its root "<domain>.<appID>.<hostname>". Other clients reach that tree through
// proxies: they read and write attributes, call methods and follow changes,
// while the owner answers requests and announces every mutation.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│              Client                 │  Connect, discovery, permissions
//	└─────────────────────────────────────┘
//	        ↓ local tree          ↓ remote trees
//	┌──────────────────┐  ┌──────────────────┐
//	│   node.Manager   │  │  proxy.Registry  │  One record per remote path
//	└──────────────────┘  └──────────────────┘
//	        ↓ notices             ↑ requests, notices
//	┌─────────────────────────────────────┐
//	│    transport (NATS or in-memory)    │  Subjects "<path>.<verb>"
//	└─────────────────────────────────────┘
//
// # Quick Start
//
//	client, err := vbus.New("thermo")
//	if err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	_, err = client.AddNode("sensors", node.Def{
//	    "temp1": 21.5,
//	    "reset": node.MethodFunc(func(ctx context.Context, args any) (any, error) {
//	        return nil, nil
//	    }),
//	})
//
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//
//	temp, err := client.GetRemoteAttribute(ctx, "system.thermo.otherhost.sensors.temp1")
//	value, err := temp.Get(ctx)
//
// # Connection
//
// Connect locates a server (environment, persisted URL, well-known hosts, then
// mDNS), creates credentials on first run and registers them with the server.
// Tests and embedders can skip all of this with WithTransport.
//
// # Subpackages
//
//   - address: dotted paths and subjects
//   - node: the local tree
//   - proxy: remote element handles
//   - transport: request/reply over a message bus
//   - wire: packets and codecs
//   - config: settings and credential storage
//   - discovery: server location strategies
//   - natsclient: NATS connection management
//   - schema: JSON Schema validation of values and arguments
//   - logging: slog handler forwarding records to the bus
package vbus
