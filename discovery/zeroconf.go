package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// mDNS service browsed for bus servers.
const (
	ServiceType    = "_nats._tcp"
	ServiceDomain  = "local."
	InstancePrefix = "vbus"
)

// BrowseFunc browses service in domain, sending entries until ctx ends.
type BrowseFunc func(ctx context.Context, service, domain string, entries, removed chan *zeroconf.ServiceEntry) error

func browse(ctx context.Context, service, domain string, entries, removed chan *zeroconf.ServiceEntry) error {
	return zeroconf.Browse(ctx, service, domain, entries, removed)
}

// Zeroconf returns a strategy browsing _nats._tcp for window and yielding the
// IPv4 URL of each instance whose name starts with "vbus".
func Zeroconf(window time.Duration) Strategy {
	return ZeroconfWith(browse, window)
}

// ZeroconfWith is Zeroconf with a custom browse function.
func ZeroconfWith(fn BrowseFunc, window time.Duration) Strategy {
	return Strategy{
		Name: "zeroconf",
		Candidates: func(ctx context.Context) ([]string, error) {
			return browseURLs(ctx, fn, window)
		},
	}
}

func browseURLs(ctx context.Context, fn BrowseFunc, window time.Duration) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	browseErr := make(chan error, 1)
	go func() {
		browseErr <- fn(ctx, ServiceType, ServiceDomain, entries, removed)
	}()

	var urls []string
	seen := make(map[string]struct{})
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			if u, ok := entryURL(entry); ok {
				if _, dup := seen[u]; !dup {
					seen[u] = struct{}{}
					urls = append(urls, u)
				}
			}
		case _, ok := <-removed:
			if !ok {
				removed = nil
			}
		case err := <-browseErr:
			if err != nil && ctx.Err() == nil {
				return urls, err
			}
			browseErr = nil
			if entries == nil {
				return urls, nil
			}
		case <-ctx.Done():
			return urls, nil
		}
	}
}

func entryURL(entry *zeroconf.ServiceEntry) (string, bool) {
	if entry == nil || !strings.HasPrefix(entry.Instance, InstancePrefix) {
		return "", false
	}
	if len(entry.AddrIPv4) == 0 || entry.Port <= 0 {
		return "", false
	}
	return fmt.Sprintf("nats://%s:%d", entry.AddrIPv4[0], entry.Port), true
}
