package discovery

import (
	"context"
	stderrors "errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veea/vbus/config"
	"github.com/veea/vbus/errors"
	"github.com/veea/vbus/pkg/retry"
)

type fakePinger struct {
	mu        sync.Mutex
	reachable map[string]bool
	pinged    map[string]int
}

func newFakePinger(urls ...string) *fakePinger {
	p := &fakePinger{reachable: make(map[string]bool), pinged: make(map[string]int)}
	for _, u := range urls {
		p.reachable[u] = true
	}
	return p
}

func (p *fakePinger) ping(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinged[url]++
	if p.reachable[url] {
		return nil
	}
	return stderrors.New("connection refused")
}

func (p *fakePinger) count(url string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pinged[url]
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestFinder_FirstReachableStrategyWins(t *testing.T) {
	pinger := newFakePinger("nats://localhost:21400", "nats://hub.veeamesh.local:21400")
	finder := NewFinder(pinger.ping, []Strategy{
		Static("config", "nats://down:1"),
		DefaultHost("hub", 21400),
		Localhost(21400),
	}, WithRetry(fastRetry()))

	res, err := finder.Find(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "nats://hub.veeamesh.local:21400", res.URL)
	assert.Equal(t, "default", res.Strategy)

	assert.Equal(t, 2, pinger.count("nats://down:1"), "unreachable candidates are retried")
	assert.Equal(t, 0, pinger.count("nats://localhost:21400"), "later strategies are not pinged")
}

func TestFinder_EarliestCandidateWins(t *testing.T) {
	pinger := newFakePinger("nats://b:1", "nats://c:1")
	finder := NewFinder(pinger.ping, []Strategy{
		Static("many", "nats://a:1", "nats://b:1", "nats://c:1"),
	}, WithRetry(fastRetry()), WithConcurrency(3))

	res, err := finder.Find(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "nats://b:1", res.URL)
}

func TestFinder_DeduplicatesAcrossStrategies(t *testing.T) {
	pinger := newFakePinger()
	finder := NewFinder(pinger.ping, []Strategy{
		Static("config", "nats://x:1"),
		Static("persisted", "nats://x:1"),
		Static("empty", ""),
	}, WithRetry(fastRetry()))

	_, err := finder.Find(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConnection)
	assert.Contains(t, err.Error(), "nats://x:1")
	assert.Equal(t, 2, pinger.count("nats://x:1"), "one ping run with its retries")
}

func TestFinder_StrategyErrorIsSkipped(t *testing.T) {
	pinger := newFakePinger("nats://ok:1")
	finder := NewFinder(pinger.ping, []Strategy{
		{Name: "broken", Candidates: func(context.Context) ([]string, error) {
			return nil, stderrors.New("no network")
		}},
		Static("fallback", "nats://ok:1"),
	}, WithRetry(fastRetry()))

	res, err := finder.Find(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fallback", res.Strategy)
}

func TestFinder_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	finder := NewFinder(newFakePinger().ping, []Strategy{Static("config", "nats://x:1")})
	_, err := finder.Find(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnv(t *testing.T) {
	t.Setenv(config.EnvURL, "nats://from-env:4222")
	urls, err := Env(config.EnvURL).Candidates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"nats://from-env:4222"}, urls)

	t.Setenv(config.EnvURL, "")
	urls, err = Env(config.EnvURL).Candidates(context.Background())
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestChain(t *testing.T) {
	cfg := config.Default()
	cfg.Hostname = "hub"
	cfg.URL = "nats://pinned:1"

	chain := Chain(cfg, "nats://last:2")
	var names []string
	for _, s := range chain {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"config", "env", "persisted", "default", "localhost"}, names)

	cfg.Discovery.Zeroconf = true
	chain = Chain(cfg, "")
	assert.Equal(t, "zeroconf", chain[len(chain)-1].Name)

	urls, err := chain[3].Candidates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"nats://hub.veeamesh.local:21400"}, urls)
}

func TestZeroconf_FiltersInstances(t *testing.T) {
	browse := func(ctx context.Context, service, domain string, entries, _ chan *zeroconf.ServiceEntry) error {
		assert.Equal(t, ServiceType, service)
		assert.Equal(t, ServiceDomain, domain)

		send := func(instance string, ip string, port int) {
			e := &zeroconf.ServiceEntry{Port: port}
			e.Instance = instance
			if ip != "" {
				e.AddrIPv4 = []net.IP{net.ParseIP(ip)}
			}
			select {
			case entries <- e:
			case <-ctx.Done():
			}
		}
		send("vbus-hub1", "192.168.1.10", 21400)
		send("other-nats", "192.168.1.11", 4222)
		send("vbus-noaddr", "", 21400)
		send("vbus-hub1", "192.168.1.10", 21400)
		send("vbus.hub2", "192.168.1.12", 21401)
		<-ctx.Done()
		return nil
	}

	urls, err := ZeroconfWith(browse, 100*time.Millisecond).Candidates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"nats://192.168.1.10:21400", "nats://192.168.1.12:21401"}, urls)
}

func TestZeroconf_BrowseError(t *testing.T) {
	browse := func(context.Context, string, string, chan *zeroconf.ServiceEntry, chan *zeroconf.ServiceEntry) error {
		return stderrors.New("no multicast interface")
	}

	_, err := ZeroconfWith(browse, time.Second).Candidates(context.Background())
	assert.Error(t, err)
}
