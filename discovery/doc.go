// Package discovery locates the NATS server of the bus.
//
// A Finder walks an ordered list of strategies. Each strategy yields candidate
// URLs which are pinged with a short retry policy; the first reachable one
// wins. Chain builds the usual order: explicit configuration, VBUS_URL, the URL
// remembered in the credentials file, nats://<hostname>.veeamesh.local:21400,
// nats://localhost:21400 and finally an mDNS browse of _nats._tcp services
// whose instance name starts with "vbus".
//
//	finder := discovery.NewFinder(ping, discovery.Chain(cfg, creds.Server.URL))
//	res, err := finder.Find(ctx)
package discovery
