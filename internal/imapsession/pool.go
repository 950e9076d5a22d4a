package imapsession

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chrispatten/haven-collector/internal/logging"
)

// PoolConfig configures the per-collector connection pool.
type PoolConfig struct {
	MaxConnections int
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
	WaiterTimeout  time.Duration
}

// DefaultPoolConfig returns conservative per-collector pool defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnections: 3,
		IdleTimeout:    5 * time.Minute,
		ConnectTimeout: 30 * time.Second,
		WaiterTimeout:  2 * time.Minute,
	}
}

// pooledConnection wraps a Client with pool bookkeeping.
type pooledConnection struct {
	client     *Client
	collector  string
	lastUsed   time.Time
	inUse      bool
	mu         sync.Mutex
}

func (pc *pooledConnection) healthyLocked() bool {
	return pc.client != nil && pc.client.client != nil
}

// Pool manages IMAP connections across collectors, each collector
// getting its own bounded sub-pool.
type Pool struct {
	config      PoolConfig
	connections map[string][]*pooledConnection
	waiters     map[string][]chan *pooledConnection
	mu          sync.Mutex
	log         zerolog.Logger

	getConfig func(collector string) (*ClientConfig, error)
}

// NewPool builds a Pool; getConfig resolves a collector's connection
// parameters (host, port, resolved secret) on demand.
func NewPool(config PoolConfig, getConfig func(collector string) (*ClientConfig, error)) *Pool {
	return &Pool{
		config:      config,
		connections: make(map[string][]*pooledConnection),
		waiters:     make(map[string][]chan *pooledConnection),
		log:         logging.WithComponent("imap-pool"),
		getConfig:   getConfig,
	}
}

// Acquire returns an available connection for collector, creating one if
// under the per-collector cap, or waiting if at capacity.
func (p *Pool) Acquire(ctx context.Context, collector string) (*pooledConnection, error) {
	p.mu.Lock()
	for _, conn := range p.connections[collector] {
		conn.mu.Lock()
		if !conn.inUse && conn.healthyLocked() {
			conn.inUse = true
			conn.lastUsed = time.Now()
			conn.mu.Unlock()
			p.mu.Unlock()
			return conn, nil
		}
		conn.mu.Unlock()
	}

	current := len(p.connections[collector])
	if current < p.config.MaxConnections {
		p.mu.Unlock()
		return p.create(ctx, collector)
	}

	waiter := make(chan *pooledConnection, 1)
	p.waiters[collector] = append(p.waiters[collector], waiter)
	p.mu.Unlock()

	select {
	case conn := <-waiter:
		if conn == nil {
			return nil, fmt.Errorf("imap pool closed for collector %s", collector)
		}
		return conn, nil
	case <-ctx.Done():
		p.removeWaiter(collector, waiter)
		return nil, ctx.Err()
	case <-time.After(p.config.WaiterTimeout):
		p.removeWaiter(collector, waiter)
		return nil, fmt.Errorf("timed out waiting for imap connection for collector %s", collector)
	}
}

func (p *Pool) removeWaiter(collector string, waiter chan *pooledConnection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	waiters := p.waiters[collector]
	for i, w := range waiters {
		if w == waiter {
			p.waiters[collector] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
}

func (p *Pool) create(ctx context.Context, collector string) (*pooledConnection, error) {
	cfg, err := p.getConfig(collector)
	if err != nil {
		return nil, fmt.Errorf("resolve imap config for %s: %w", collector, err)
	}

	client := NewClient(*cfg)
	done := make(chan error, 1)
	go func() {
		if err := client.Connect(); err != nil {
			done <- err
			return
		}
		if err := client.Login(); err != nil {
			client.ForceClose()
			done <- err
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("connect collector %s: %w", collector, err)
		}
	case <-ctx.Done():
		go client.ForceClose()
		return nil, ctx.Err()
	}

	conn := &pooledConnection{client: client, collector: collector, lastUsed: time.Now(), inUse: true}

	p.mu.Lock()
	p.connections[collector] = append(p.connections[collector], conn)
	p.mu.Unlock()
	return conn, nil
}

// Release returns conn to the pool, handing it directly to a waiter if one
// exists.
func (p *Pool) Release(conn *pooledConnection) {
	if conn == nil {
		return
	}

	conn.mu.Lock()
	conn.inUse = false
	conn.lastUsed = time.Now()
	healthy := conn.healthyLocked()
	conn.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if !healthy {
		return
	}

	if waiters, ok := p.waiters[conn.collector]; ok && len(waiters) > 0 {
		waiter := waiters[0]
		p.waiters[conn.collector] = waiters[1:]
		conn.mu.Lock()
		conn.inUse = true
		conn.mu.Unlock()
		waiter <- conn
	}
}

// Discard force-closes conn and removes it from the pool, for use after a
// transient connection error (§4.8).
func (p *Pool) Discard(conn *pooledConnection) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	conn.mu.Lock()
	if conn.client != nil {
		conn.client.ForceClose()
		conn.client = nil
	}
	conn.mu.Unlock()

	conns := p.connections[conn.collector]
	for i, c := range conns {
		if c == conn {
			p.connections[conn.collector] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(p.connections[conn.collector]) == 0 {
		delete(p.connections, conn.collector)
	}
}

// CloseCollector force-closes every connection for one collector, e.g. on
// run cancellation.
func (p *Pool) CloseCollector(collector string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, conn := range p.connections[collector] {
		conn.mu.Lock()
		if conn.client != nil {
			conn.client.ForceClose()
			conn.client = nil
		}
		conn.mu.Unlock()
	}
	delete(p.connections, collector)

	for _, w := range p.waiters[collector] {
		close(w)
	}
	delete(p.waiters, collector)
}

// CloseAll force-closes every pooled connection, across all collectors.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	collectors := make([]string, 0, len(p.connections))
	for c := range p.connections {
		collectors = append(collectors, c)
	}
	p.mu.Unlock()

	for _, c := range collectors {
		p.CloseCollector(c)
	}
}

// Client exposes the underlying session client from a pooled connection.
func (pc *pooledConnection) Client() *Client { return pc.client }
