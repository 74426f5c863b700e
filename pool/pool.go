// Package pool implements a single-tenant connection pool for mysqlclient
// connections, grounded on JeelKantaria-db-bouncer/internal/pool/pool.go's
// TenantPool but reworked around promises instead of a blocking
// sync.Cond: Acquire returns a *promise.Promise that settles once a
// connection is idle, newly dialed, or the pool gives up (spec §4.6).
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/brindlecore/reactor/asyncerr"
	"github.com/brindlecore/reactor/loop"
	"github.com/brindlecore/reactor/mysqlclient"
	"github.com/brindlecore/reactor/promise"
)

// Metrics receives pool observability events. PromMetrics (metrics.go) is
// the Prometheus-backed implementation; nil is a valid no-op.
type Metrics interface {
	SetPoolStats(active, idle, total, waiting int)
	PoolExhausted()
}

// Config configures a Pool. yaml tags let callers load it via LoadConfig,
// grounded on JeelKantaria-db-bouncer/internal/config/config.go's approach
// to pool/tenant configuration.
type Config struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	Database       string        `yaml:"database"`
	Size           int           `yaml:"size"`            // max connections, default 10
	WarmUp         int           `yaml:"warm_up"`         // connections to pre-dial, default 0
	ConnectTimeout time.Duration `yaml:"connect_timeout"` // default 10s
	SocketTimeout  time.Duration `yaml:"socket_timeout"`  // default 30s
	AcquireTimeout time.Duration `yaml:"acquire_timeout"` // default 30s
	IdleTimeout    time.Duration `yaml:"idle_timeout"`    // default 5m, also used for values <= 0
	MaxLifetime    time.Duration `yaml:"max_lifetime"`    // default 0 (unbounded)
}

func (c *Config) setDefaults() {
	if c.Size <= 0 {
		c.Size = 10
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.SocketTimeout <= 0 {
		c.SocketTimeout = 30 * time.Second
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
}

func (c Config) connConfig() mysqlclient.Config {
	return mysqlclient.Config{
		Host:           c.Host,
		Port:           c.Port,
		User:           c.User,
		Password:       c.Password,
		Database:       c.Database,
		ConnectTimeout: c.ConnectTimeout,
		SocketTimeout:  c.SocketTimeout,
	}
}

type idleConn struct {
	conn     *mysqlclient.Connection
	sinceIdle time.Time
	born     time.Time
}

type waiter struct {
	resolve func(promise.Result)
	reject  func(error)
}

// Pool manages a bounded set of mysqlclient connections for one logical
// backend. Acquire/Release pairs are FIFO-fair: the oldest waiter is woken
// first (spec §4.6 "waiters are served in FIFO order").
type Pool struct {
	loop    *loop.Loop
	cfg     Config
	metrics Metrics

	mu      sync.Mutex
	idle    []*idleConn
	active  map[*mysqlclient.Connection]time.Time
	total   int
	waiters []*waiter
	closed  bool

	reapStop chan struct{}
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithMetrics attaches a Metrics sink.
func WithMetrics(m Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// New creates a pool bound to l and begins an optional warm-up dial burst
// in the background.
func New(l *loop.Loop, cfg Config, opts ...Option) *Pool {
	cfg.setDefaults()
	p := &Pool{
		loop:     l,
		cfg:      cfg,
		active:   make(map[*mysqlclient.Connection]time.Time),
		reapStop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	if cfg.IdleTimeout > 0 {
		go p.reapLoop()
	}
	if cfg.WarmUp > 0 {
		for i := 0; i < cfg.WarmUp; i++ {
			p.warmOne()
		}
	}
	return p
}

func (p *Pool) warmOne() {
	p.mu.Lock()
	if p.closed || p.total >= p.cfg.Size {
		p.mu.Unlock()
		return
	}
	p.total++
	p.mu.Unlock()

	mysqlclient.Connect(p.loop, p.cfg.connConfig()).Then(
		func(v promise.Result) promise.Result {
			conn := v.(*mysqlclient.Connection)
			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				conn.Close()
				return nil
			}
			p.idle = append(p.idle, &idleConn{conn: conn, sinceIdle: time.Now(), born: time.Now()})
			p.mu.Unlock()
			p.reportStats()
			return nil
		},
		func(err error) promise.Result {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			return nil
		},
	)
}

// Acquire returns a promise of a ready connection. If an idle connection is
// available it is returned on the next microtask tick; if the pool is
// under capacity a new connection is dialed; otherwise the caller is
// enqueued and served FIFO as connections are released (spec §4.6
// "acquire").
func (p *Pool) Acquire(ctx context.Context) *promise.Promise {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return promise.Rejected(p.loop, asyncerr.New(asyncerr.KindPoolClosed, "pool is closed"))
	}

	for len(p.idle) > 0 {
		ic := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if p.cfg.MaxLifetime > 0 && time.Since(ic.born) > p.cfg.MaxLifetime {
			p.total--
			p.mu.Unlock()
			ic.conn.Close()
			p.mu.Lock()
			continue
		}
		if ic.conn.State() == mysqlclient.StateErrored {
			p.total--
			p.mu.Unlock()
			ic.conn.Close()
			p.mu.Lock()
			continue
		}
		p.active[ic.conn] = time.Now()
		p.mu.Unlock()
		p.reportStats()
		return promise.Resolved(p.loop, ic.conn)
	}

	if p.total < p.cfg.Size {
		p.total++
		p.mu.Unlock()
		return p.dialAndTrack()
	}

	if p.metrics != nil {
		p.metrics.PoolExhausted()
	}
	np, resolve, reject := promise.New(p.loop)
	w := &waiter{resolve: resolve, reject: reject}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()
	p.reportStats()

	if p.cfg.AcquireTimeout > 0 {
		timerID := p.loop.ScheduleAfter(p.cfg.AcquireTimeout, func() {
			p.removeWaiter(w, asyncerr.New(asyncerr.KindPoolExhausted, "acquire timed out waiting for a connection"))
		})
		np.Finally(func() { p.loop.CancelTimer(timerID) })
	}
	return np
}

func (p *Pool) dialAndTrack() *promise.Promise {
	return mysqlclient.Connect(p.loop, p.cfg.connConfig()).Then(
		func(v promise.Result) promise.Result {
			conn := v.(*mysqlclient.Connection)
			p.mu.Lock()
			p.active[conn] = time.Now()
			p.mu.Unlock()
			p.reportStats()
			return conn
		},
		func(err error) promise.Result {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			p.reportStats()
			return nil
		},
	)
}

func (p *Pool) removeWaiter(w *waiter, err error) {
	p.mu.Lock()
	for i, cur := range p.waiters {
		if cur == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			w.reject(err)
			return
		}
	}
	p.mu.Unlock()
}

// Release returns conn to the pool, waking the oldest waiter if one is
// queued, or discarding the connection if it errored or the pool is
// closed (spec §4.6 "release").
func (p *Pool) Release(conn *mysqlclient.Connection) {
	p.mu.Lock()
	delete(p.active, conn)

	unhealthy := p.closed || conn.State() == mysqlclient.StateErrored || conn.State() == mysqlclient.StateClosed
	if unhealthy {
		p.total--
		p.mu.Unlock()
		conn.Close()
		p.reportStats()
		return
	}

	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.active[conn] = time.Now()
		p.mu.Unlock()
		w.resolve(conn)
		p.reportStats()
		return
	}

	p.idle = append(p.idle, &idleConn{conn: conn, sinceIdle: time.Now()})
	p.mu.Unlock()
	p.reportStats()
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Active  int
	Idle    int
	Total   int
	Waiting int
}

// Stats reports current pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Active: len(p.active), Idle: len(p.idle), Total: p.total, Waiting: len(p.waiters)}
}

func (p *Pool) reportStats() {
	if p.metrics == nil {
		return
	}
	s := p.Stats()
	p.metrics.SetPoolStats(s.Active, s.Idle, s.Total, s.Waiting)
}

// Close rejects all waiters, closes idle connections, and marks the pool
// closed; connections already active are closed as they are released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.reapStop)
	waiters := p.waiters
	p.waiters = nil
	idle := p.idle
	p.idle = nil
	p.total -= len(idle)
	p.mu.Unlock()

	for _, w := range waiters {
		w.reject(asyncerr.New(asyncerr.KindPoolClosed, "pool closed while waiting for a connection"))
	}
	for _, ic := range idle {
		ic.conn.Close()
	}
}

func (p *Pool) reapLoop() {
	ticker := time.NewTicker(p.cfg.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reapIdle()
		case <-p.reapStop:
			return
		}
	}
}

func (p *Pool) reapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := make([]*idleConn, 0, len(p.idle))
	for _, ic := range p.idle {
		if time.Since(ic.sinceIdle) > p.cfg.IdleTimeout {
			p.total--
			ic.conn.Close()
			continue
		}
		kept = append(kept, ic)
	}
	p.idle = kept
}
