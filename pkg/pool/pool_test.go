package pool

import (
	"net"
	"testing"
	"time"

	"github.com/nexthttp/h2engine/internal/telemetry"
)

func TestReleaseReturnsH1ConnectionToIdleList(t *testing.T) {
	p := New(DefaultConfig(), telemetry.Nop())
	defer p.Close()

	client, server := net.Pipe()
	defer server.Close()

	key := "example.com:80"
	hp := p.getOrCreateHostPool(key)
	hp.numActive++

	lease := &Lease{Protocol: "http/1.1", Raw: client, pool: p, key: key}
	lease.Release(true)

	hp.mu.Lock()
	defer hp.mu.Unlock()
	if hp.numActive != 0 {
		t.Fatalf("expected numActive 0, got %d", hp.numActive)
	}
	if len(hp.idleH1) != 1 {
		t.Fatalf("expected 1 idle connection, got %d", len(hp.idleH1))
	}
}

func TestReleaseClosesWhenNotReusable(t *testing.T) {
	p := New(DefaultConfig(), telemetry.Nop())
	defer p.Close()

	client, server := net.Pipe()
	defer server.Close()

	key := "example.com:80"
	hp := p.getOrCreateHostPool(key)
	hp.numActive++

	lease := &Lease{Protocol: "http/1.1", Raw: client, pool: p, key: key}
	lease.Release(false)

	hp.mu.Lock()
	idle := len(hp.idleH1)
	hp.mu.Unlock()
	if idle != 0 {
		t.Fatalf("expected no idle connections after non-reusable release, got %d", idle)
	}

	// the client half should now be closed; writing to it should fail.
	if _, err := client.Write([]byte("x")); err == nil {
		t.Fatal("expected write on closed connection to fail")
	}
}

func TestWaitForSlotRespectsMaxConnsPerHost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnsPerHost = 1
	cfg.WaitTimeout = 50 * time.Millisecond
	p := New(cfg, telemetry.Nop())
	defer p.Close()

	target := Target{Scheme: "http", Host: "example.com", Port: 80}
	hp := p.getOrCreateHostPool(p.hostKey(target))
	hp.numActive = 1 // simulate one outstanding checkout

	if err := p.waitForSlot(hp, target); err == nil {
		t.Fatal("expected waitForSlot to time out when the pool is at capacity")
	}
}

func TestHostKeyDistinguishesProxies(t *testing.T) {
	p := New(DefaultConfig(), telemetry.Nop())
	defer p.Close()

	direct := Target{Host: "example.com", Port: 443}
	viaProxy := Target{Host: "example.com", Port: 443, Proxy: &ProxyConfig{Type: "socks5", Host: "proxy.local", Port: 1080}}

	if p.hostKey(direct) == p.hostKey(viaProxy) {
		t.Fatal("expected direct and proxied targets to use different pool keys")
	}
}
