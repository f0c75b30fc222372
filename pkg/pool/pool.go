// Package pool manages the underlying TCP/TLS sockets that the exchange
// codecs run on. Grounded on the teacher's pkg/transport/transport.go: the
// same per-host idle-list-plus-active-count pooling, proxy dialing (HTTP
// CONNECT, SOCKS4, SOCKS5), TLS/SNI handling and stale-connection liveness
// check, adapted to hand out either a shared *h2conn.Connection (HTTP/2
// multiplexes many calls onto one socket) or an exclusive net.Conn (HTTP/1.1
// needs one socket per in-flight exchange) instead of the teacher's
// protocol-agnostic net.Conn.
package pool

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/sync/errgroup"

	"github.com/nexthttp/h2engine/pkg/errors"
	"github.com/nexthttp/h2engine/pkg/h2conn"
	"github.com/nexthttp/h2engine/pkg/h2frame"
	"github.com/nexthttp/h2engine/pkg/hpack"
	"github.com/nexthttp/h2engine/pkg/tlsconfig"
	"github.com/nexthttp/h2engine/internal/telemetry"
)

// ProxyConfig describes an upstream proxy to dial through before reaching
// the target host.
type ProxyConfig struct {
	Type         string // "http", "https", "socks4", "socks5"
	Host         string
	Port         int
	Username     string
	Password     string
	ConnTimeout  time.Duration
	ProxyHeaders map[string]string
	TLSConfig    *tls.Config
}

// Target identifies the host a caller wants a connection to.
type Target struct {
	Scheme      string // "http" or "https"
	Host        string
	Port        int
	ConnectIP   string
	SNI         string
	DisableSNI  bool
	InsecureTLS bool
	ConnTimeout time.Duration
	DNSTimeout  time.Duration
	Proxy       *ProxyConfig
	CustomCACerts [][]byte
	TLSConfig   *tls.Config
}

func (t Target) addr() string { return net.JoinHostPort(t.Host, strconv.Itoa(t.Port)) }

// Config tunes pooling behavior. Mirrors the teacher's PoolConfig.
type Config struct {
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int // 0 = unlimited
	MaxIdleTime         time.Duration
	WaitTimeout         time.Duration
	TCPKeepAlive        bool
	TCPKeepAlivePeriod  time.Duration
	StaleCheckThreshold time.Duration
	SweepInterval       time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxIdleConnsPerHost: 2,
		MaxConnsPerHost:     0,
		MaxIdleTime:         90 * time.Second,
		TCPKeepAlive:        true,
		TCPKeepAlivePeriod:  30 * time.Second,
		StaleCheckThreshold: time.Second,
		SweepInterval:       30 * time.Second,
	}
}

// Lease is a connection handed out by the pool. Exactly one of H2/Raw is set.
type Lease struct {
	Protocol string // "h2" or "http/1.1"
	H2       *h2conn.Connection
	Raw      net.Conn
	Metadata ConnectionMetadata

	pool *Pool
	key  string
}

// Release returns the lease to the pool. For h2 leases this just drops the
// active-count (the connection itself stays shared and open); for h1 leases,
// reusable=true returns the socket to the idle list, false closes it.
func (l *Lease) Release(reusable bool) {
	l.pool.release(l, reusable)
}

// ConnectionMetadata records what actually happened during dialing, mirroring
// the teacher's ConnectionMetadata.
type ConnectionMetadata struct {
	ConnectedIP        string
	ConnectedPort      int
	NegotiatedProtocol string
	TLSVersion         string
	TLSCipherSuite     string
	TLSResumed         bool
	ProxyUsed          bool
	ProxyAddr          string
	ConnectionReused   bool
	SANCoalesced       bool
}

type pooledConn struct {
	raw       net.Conn          // set for h1 idle entries
	h2        *h2conn.Connection // set for h2 entries (kept even while active: shared)
	metadata  ConnectionMetadata
	lastUsed  time.Time
	createdAt time.Time
	sans      []string // certificate SANs, for coalescing lookups
}

type hostPool struct {
	mu        sync.Mutex
	cond      *sync.Cond
	idleH1    []*pooledConn
	h2Conns   []*pooledConn // shared HTTP/2 connections for this host
	numActive int           // h1 active checkouts only
}

func newHostPool() *hostPool {
	hp := &hostPool{}
	hp.cond = sync.NewCond(&hp.mu)
	return hp
}

// listener satisfies h2conn.Listener for pool-owned connections; GOAWAY and
// close notifications retire the connection from the pool instead of the
// caller having to poll for it.
type poolListener struct {
	pool *Pool
	key  string
}

func (l poolListener) OnGoAway(uint32, h2frame.ErrCode) { l.pool.retireHost(l.key) }
func (l poolListener) OnClosed(error)                   { l.pool.retireHost(l.key) }
func (l poolListener) OnPushPromise(uint32, []hpack.HeaderField) bool { return false }

// Pool owns dialing, TLS, proxying and connection reuse for all hosts.
// Lifecycle (the sweep goroutine) runs on an errgroup.Group instead of the
// teacher's stopChan+sync.WaitGroup pair, so Close can propagate the first
// real error instead of silently swallowing it.
type Pool struct {
	config Config

	hosts   sync.Map // string -> *hostPool
	sanIdx  sync.Map // san -> host key, for coalescing

	connectionIDCounter uint64
	statsReused         uint64
	statsCreated        uint64
	statsWaitTimeouts   uint64

	group  *errgroup.Group
	cancel context.CancelFunc
	log    *telemetry.Logger
}

func New(cfg Config, log *telemetry.Logger) *Pool {
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 2
	}
	if cfg.MaxIdleTime <= 0 {
		cfg.MaxIdleTime = 90 * time.Second
	}
	if cfg.StaleCheckThreshold <= 0 {
		cfg.StaleCheckThreshold = time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	p := &Pool{config: cfg, group: g, cancel: cancel, log: log}
	g.Go(func() error { return p.sweepLoop(gctx) })
	return p
}

func (p *Pool) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.sweepIdle()
		}
	}
}

func (p *Pool) sweepIdle() {
	now := time.Now()
	p.hosts.Range(func(_, v interface{}) bool {
		hp := v.(*hostPool)
		hp.mu.Lock()
		kept := hp.idleH1[:0]
		for _, pc := range hp.idleH1 {
			if now.Sub(pc.lastUsed) > p.config.MaxIdleTime {
				pc.raw.Close()
			} else {
				kept = append(kept, pc)
			}
		}
		hp.idleH1 = kept
		hp.mu.Unlock()
		return true
	})
}

// Close stops the sweep goroutine and closes every pooled connection.
func (p *Pool) Close() error {
	p.cancel()
	err := p.group.Wait()
	p.hosts.Range(func(_, v interface{}) bool {
		hp := v.(*hostPool)
		hp.mu.Lock()
		for _, pc := range hp.idleH1 {
			pc.raw.Close()
		}
		for _, pc := range hp.h2Conns {
			pc.h2.Close(h2frame.ErrCodeNo)
		}
		hp.mu.Unlock()
		return true
	})
	return err
}

func (p *Pool) hostKey(t Target) string {
	if t.Proxy != nil {
		return fmt.Sprintf("%s:%s:%d->%s:%d", t.Proxy.Type, t.Proxy.Host, t.Proxy.Port, t.Host, t.Port)
	}
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

func (p *Pool) getOrCreateHostPool(key string) *hostPool {
	v, _ := p.hosts.LoadOrStore(key, newHostPool())
	return v.(*hostPool)
}

func (p *Pool) retireHost(key string) {
	v, ok := p.hosts.Load(key)
	if !ok {
		return
	}
	hp := v.(*hostPool)
	hp.mu.Lock()
	kept := hp.h2Conns[:0]
	for _, pc := range hp.h2Conns {
		if pc.h2.IsClosed() {
			continue
		}
		kept = append(kept, pc)
	}
	hp.h2Conns = kept
	hp.mu.Unlock()
}

// EvictTarget forcibly closes every pooled connection (idle h1 sockets and
// shared h2 connections alike) for target's host, per SPEC_FULL §4.9's 421
// (Misdirected Request) handling: a coalesced connection that turns out not
// to serve this authority must not be reused.
func (p *Pool) EvictTarget(t Target) {
	key := p.hostKey(t)
	v, ok := p.hosts.Load(key)
	if !ok {
		return
	}
	hp := v.(*hostPool)
	hp.mu.Lock()
	idle := hp.idleH1
	h2s := hp.h2Conns
	hp.idleH1 = nil
	hp.h2Conns = nil
	hp.mu.Unlock()
	for _, pc := range idle {
		pc.raw.Close()
	}
	for _, pc := range h2s {
		pc.h2.Close(h2frame.ErrCodeNo)
	}
}

// Acquire returns a usable connection for target, reusing a pooled one when
// possible: an existing live *h2conn.Connection for this host (or, per RFC
// 7540 §9.1.1, one coalesced via a matching certificate SAN), else an idle
// HTTP/1.1 socket, else a freshly dialed connection.
func (p *Pool) Acquire(ctx context.Context, t Target) (*Lease, error) {
	key := p.hostKey(t)
	hp := p.getOrCreateHostPool(key)

	if strings.EqualFold(t.Scheme, "https") {
		if lease := p.tryReuseH2(hp, key, t); lease != nil {
			return lease, nil
		}
		if coalesced := p.tryCoalesce(t, key); coalesced != nil {
			return coalesced, nil
		}
	} else if lease := p.tryReuseH1(hp, key); lease != nil {
		return lease, nil
	}

	if err := p.waitForSlot(hp, t); err != nil {
		return nil, err
	}
	return p.dial(ctx, t, key, hp)
}

func (p *Pool) tryReuseH2(hp *hostPool, key string, t Target) *Lease {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	for _, pc := range hp.h2Conns {
		if goneAway, _ := pc.h2.GoAwayReceived(); pc.h2.IsClosed() || goneAway || !pc.h2.CanOpenStream() {
			continue
		}
		atomic.AddUint64(&p.statsReused, 1)
		meta := pc.metadata
		meta.ConnectionReused = true
		return &Lease{Protocol: "h2", H2: pc.h2, Metadata: meta, pool: p, key: key}
	}
	return nil
}

func (p *Pool) tryCoalesce(t Target, skipKey string) *Lease {
	v, ok := p.sanIdx.Load(strings.ToLower(t.Host))
	if !ok {
		return nil
	}
	altKey := v.(string)
	if altKey == skipKey {
		return nil
	}
	alt, ok := p.hosts.Load(altKey)
	if !ok {
		return nil
	}
	hp := alt.(*hostPool)
	hp.mu.Lock()
	defer hp.mu.Unlock()
	for _, pc := range hp.h2Conns {
		if goneAway, _ := pc.h2.GoAwayReceived(); pc.h2.IsClosed() || goneAway || !pc.h2.CanOpenStream() {
			continue
		}
		atomic.AddUint64(&p.statsReused, 1)
		meta := pc.metadata
		meta.ConnectionReused = true
		meta.SANCoalesced = true
		return &Lease{Protocol: "h2", H2: pc.h2, Metadata: meta, pool: p, key: altKey}
	}
	return nil
}

func (p *Pool) tryReuseH1(hp *hostPool, key string) *Lease {
	hp.mu.Lock()
	defer hp.mu.Unlock()
	for len(hp.idleH1) > 0 {
		n := len(hp.idleH1)
		pc := hp.idleH1[n-1]
		hp.idleH1 = hp.idleH1[:n-1]

		if time.Since(pc.lastUsed) > p.config.MaxIdleTime {
			pc.raw.Close()
			continue
		}
		recent := time.Since(pc.lastUsed) < p.config.StaleCheckThreshold
		if !recent && !isConnectionAlive(pc.raw) {
			pc.raw.Close()
			continue
		}
		hp.numActive++
		atomic.AddUint64(&p.statsReused, 1)
		meta := pc.metadata
		meta.ConnectionReused = true
		return &Lease{Protocol: "http/1.1", Raw: pc.raw, Metadata: meta, pool: p, key: key}
	}
	return nil
}

func (p *Pool) waitForSlot(hp *hostPool, t Target) error {
	max := p.config.MaxConnsPerHost
	if max <= 0 {
		return nil
	}
	hp.mu.Lock()
	defer hp.mu.Unlock()
	deadline := time.Now().Add(p.config.WaitTimeout)
	for hp.numActive >= max {
		if p.config.WaitTimeout <= 0 {
			return errors.NewConnectionError(t.Host, t.Port, fmt.Errorf("connection pool exhausted (max %d per host)", max))
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			atomic.AddUint64(&p.statsWaitTimeouts, 1)
			return errors.NewConnectionError(t.Host, t.Port, fmt.Errorf("timed out waiting for a pool slot"))
		}
		timer := time.AfterFunc(wait, func() { hp.mu.Lock(); hp.cond.Broadcast(); hp.mu.Unlock() })
		hp.cond.Wait()
		timer.Stop()
	}
	hp.numActive++
	return nil
}

func (p *Pool) dial(ctx context.Context, t Target, key string, hp *hostPool) (*Lease, error) {
	connTimeout := t.ConnTimeout
	if connTimeout <= 0 {
		connTimeout = 10 * time.Second
	}

	dialAddr := t.addr()
	if t.ConnectIP != "" {
		dialAddr = net.JoinHostPort(t.ConnectIP, strconv.Itoa(t.Port))
	}

	var conn net.Conn
	var err error
	meta := ConnectionMetadata{}
	if t.Proxy != nil {
		conn, err = p.dialViaProxy(ctx, t, dialAddr, connTimeout, &meta)
	} else {
		conn, err = dialTCP(ctx, dialAddr, connTimeout, p.config)
	}
	if err != nil {
		return nil, errors.NewConnectionError(t.Host, t.Port, err)
	}

	atomic.AddUint64(&p.connectionIDCounter, 1)

	if strings.EqualFold(t.Scheme, "https") {
		tlsConn, sans, err := upgradeTLS(ctx, conn, t, connTimeout, &meta)
		if err != nil {
			conn.Close()
			return nil, errors.NewTLSError(t.Host, t.Port, err)
		}
		conn = tlsConn

		if meta.NegotiatedProtocol == "h2" {
			h2c, err := h2conn.Dial(ctx, conn, h2conn.DefaultConfig(), poolListener{pool: p, key: key})
			if err != nil {
				conn.Close()
				return nil, errors.NewConnectionError(t.Host, t.Port, err)
			}
			pc := &pooledConn{h2: h2c, metadata: meta, createdAt: time.Now(), lastUsed: time.Now(), sans: sans}
			hp.mu.Lock()
			hp.h2Conns = append(hp.h2Conns, pc)
			hp.mu.Unlock()
			for _, s := range sans {
				p.sanIdx.Store(strings.ToLower(s), key)
			}
			atomic.AddUint64(&p.statsCreated, 1)
			return &Lease{Protocol: "h2", H2: h2c, Metadata: meta, pool: p, key: key}, nil
		}
	} else {
		meta.NegotiatedProtocol = "http/1.1"
	}

	atomic.AddUint64(&p.statsCreated, 1)
	return &Lease{Protocol: "http/1.1", Raw: conn, Metadata: meta, pool: p, key: key}, nil
}

func (p *Pool) release(l *Lease, reusable bool) {
	if l.Protocol == "h2" {
		return // shared connection stays pooled until GOAWAY/close retires it
	}

	hp := p.getOrCreateHostPool(l.key)
	hp.mu.Lock()
	defer hp.mu.Unlock()
	hp.numActive--

	if !reusable || len(hp.idleH1) >= p.config.MaxIdleConnsPerHost {
		l.Raw.Close()
		hp.cond.Signal()
		return
	}
	hp.idleH1 = append(hp.idleH1, &pooledConn{raw: l.Raw, metadata: l.Metadata, lastUsed: time.Now()})
	hp.cond.Signal()
}

// Stats mirrors the teacher's PoolStats for diagnostics/telemetry.
type Stats struct {
	TotalCreated int
	TotalReused  int
	WaitTimeouts int
}

func (p *Pool) Stats() Stats {
	return Stats{
		TotalCreated: int(atomic.LoadUint64(&p.statsCreated)),
		TotalReused:  int(atomic.LoadUint64(&p.statsReused)),
		WaitTimeouts: int(atomic.LoadUint64(&p.statsWaitTimeouts)),
	}
}

func dialTCP(ctx context.Context, addr string, timeout time.Duration, cfg Config) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if cfg.TCPKeepAlive {
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(cfg.TCPKeepAlivePeriod)
		}
	}
	return conn, nil
}

func upgradeTLS(ctx context.Context, conn net.Conn, t Target, timeout time.Duration, meta *ConnectionMetadata) (net.Conn, []string, error) {
	tlsCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var tlsConfig *tls.Config
	if t.TLSConfig != nil {
		tlsConfig = t.TLSConfig.Clone()
	} else {
		tlsConfig = &tls.Config{}
		tlsconfig.ApplyVersionProfile(tlsConfig, tlsconfig.ProfileSecure)
		tlsconfig.ApplyCipherSuites(tlsConfig, tlsconfig.VersionTLS12)
		if len(t.CustomCACerts) > 0 {
			pool := x509.NewCertPool()
			for _, ca := range t.CustomCACerts {
				pool.AppendCertsFromPEM(ca)
			}
			tlsConfig.RootCAs = pool
		}
	}
	tlsConfig.InsecureSkipVerify = tlsConfig.InsecureSkipVerify || t.InsecureTLS
	if len(tlsConfig.NextProtos) == 0 {
		tlsConfig.NextProtos = []string{"h2", "http/1.1"}
	}
	if !t.DisableSNI {
		if t.SNI != "" {
			tlsConfig.ServerName = t.SNI
		} else if tlsConfig.ServerName == "" {
			tlsConfig.ServerName = t.Host
		}
	}

	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(tlsCtx); err != nil {
		return nil, nil, err
	}

	state := tlsConn.ConnectionState()
	meta.TLSVersion = tlsconfig.GetVersionName(state.Version)
	meta.TLSCipherSuite = tls.CipherSuiteName(state.CipherSuite)
	meta.TLSResumed = state.DidResume
	meta.NegotiatedProtocol = state.NegotiatedProtocol
	if meta.NegotiatedProtocol == "" {
		meta.NegotiatedProtocol = "http/1.1"
	}

	var sans []string
	if len(state.PeerCertificates) > 0 {
		sans = append(sans, state.PeerCertificates[0].DNSNames...)
	}
	return tlsConn, sans, nil
}


// isConnectionAlive is a best-effort liveness probe: an idle HTTP/1.1
// connection should time out on a 1ms read (nothing pending); any other
// outcome (EOF, or unexpected data arriving) means treat it as dead rather
// than risk handing back a half-closed socket.
func isConnectionAlive(conn net.Conn) bool {
	conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	defer conn.SetReadDeadline(time.Time{})
	one := make([]byte, 1)
	_, err := conn.Read(one)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	return false
}

func (p *Pool) dialViaProxy(ctx context.Context, t Target, targetAddr string, timeout time.Duration, meta *ConnectionMetadata) (net.Conn, error) {
	pc := t.Proxy
	proxyPort := pc.Port
	if proxyPort == 0 {
		switch pc.Type {
		case "http", "https":
			proxyPort = 8080
		default:
			proxyPort = 1080
		}
	}
	proxyAddr := net.JoinHostPort(pc.Host, strconv.Itoa(proxyPort))
	meta.ProxyUsed = true
	meta.ProxyAddr = proxyAddr

	switch pc.Type {
	case "http", "https":
		return connectViaHTTPProxy(ctx, pc, proxyAddr, t, targetAddr, timeout)
	case "socks4":
		return connectViaSOCKS4(ctx, pc, proxyAddr, targetAddr, timeout)
	case "socks5":
		return connectViaSOCKS5(ctx, pc, proxyAddr, targetAddr, timeout)
	default:
		return nil, fmt.Errorf("unsupported proxy type: %s", pc.Type)
	}
}

// connectViaHTTPProxy tunnels through an HTTP(S) CONNECT proxy. Grounded
// verbatim in the teacher's connectViaHTTPProxy.
func connectViaHTTPProxy(ctx context.Context, pc *ProxyConfig, proxyAddr string, t Target, targetAddr string, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("connecting to proxy: %w", err)
	}

	if pc.Type == "https" {
		tlsConfig := pc.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{ServerName: pc.Host, InsecureSkipVerify: t.InsecureTLS}
		} else {
			tlsConfig = tlsConfig.Clone()
			if t.InsecureTLS {
				tlsConfig.InsecureSkipVerify = true
			}
		}
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("proxy TLS handshake: %w", err)
		}
		conn = tlsConn
	}

	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\nConnection: keep-alive\r\n", targetAddr, t.Host)
	for k, v := range pc.ProxyHeaders {
		req += fmt.Sprintf("%s: %s\r\n", k, v)
	}
	if pc.Username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(pc.Username + ":" + pc.Password))
		req += fmt.Sprintf("Proxy-Authorization: Basic %s\r\n", auth)
	}
	req += "\r\n"

	if _, err := conn.Write([]byte(req)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending CONNECT: %w", err)
	}

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading CONNECT response: %w", err)
	}
	if !strings.Contains(statusLine, " 200") {
		conn.Close()
		return nil, fmt.Errorf("proxy CONNECT failed: %s", strings.TrimSpace(statusLine))
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("reading CONNECT headers: %w", err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}
	return conn, nil
}

// connectViaSOCKS4 speaks SOCKS4 directly: golang.org/x/net/proxy has no
// SOCKS4 dialer, so this stays hand-rolled, grounded in the teacher's
// connectViaSOCKS4Proxy.
func connectViaSOCKS4(ctx context.Context, pc *ProxyConfig, proxyAddr, targetAddr string, timeout time.Duration) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(targetAddr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolving %s for SOCKS4: %w", host, err)
	}
	var ip4 net.IP
	for _, a := range ips {
		if v4 := a.IP.To4(); v4 != nil {
			ip4 = v4
			break
		}
	}
	if ip4 == nil {
		return nil, fmt.Errorf("no IPv4 address for %s (SOCKS4 requires IPv4)", host)
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("connecting to SOCKS4 proxy: %w", err)
	}

	req := []byte{0x04, 0x01, byte(port >> 8), byte(port & 0xFF)}
	req = append(req, ip4...)
	if pc.Username != "" {
		req = append(req, []byte(pc.Username)...)
	}
	req = append(req, 0x00)
	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending SOCKS4 request: %w", err)
	}

	resp := make([]byte, 8)
	if _, err := io.ReadFull(conn, resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading SOCKS4 response: %w", err)
	}
	if resp[1] != 0x5A {
		conn.Close()
		return nil, fmt.Errorf("SOCKS4 request failed, status 0x%02x", resp[1])
	}
	return conn, nil
}

// connectViaSOCKS5 uses golang.org/x/net/proxy's SOCKS5 dialer, as the
// teacher does.
func connectViaSOCKS5(ctx context.Context, pc *ProxyConfig, proxyAddr, targetAddr string, timeout time.Duration) (net.Conn, error) {
	var auth *proxy.Auth
	if pc.Username != "" {
		auth = &proxy.Auth{User: pc.Username, Password: pc.Password}
	}
	dialer, err := proxy.SOCKS5("tcp", proxyAddr, auth, &net.Dialer{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("creating SOCKS5 dialer: %w", err)
	}
	if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
		return ctxDialer.DialContext(ctx, "tcp", targetAddr)
	}
	return dialer.Dial("tcp", targetAddr)
}
