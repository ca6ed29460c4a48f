// Package dbpool implements the wallet-authenticated connection pool (C1):
// a bounded set of long-lived Oracle sessions vended to short-lived
// borrowers. It generalizes the teacher's internal/pool.TenantPool —
// idle/active bookkeeping behind one mutex, sync.Cond wait-with-timeout on
// Acquire, Signal (not Broadcast) on Release to avoid a thundering herd,
// and an idle reaper — from a raw TCP handle to a *sql.Conn borrowed from
// a godror-backed *sql.DB.
package dbpool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godror/godror"
)

// ErrPoolExhausted is returned by Acquire when wait_timeout elapses with no
// session available (get_mode = wait | timed-wait).
var ErrPoolExhausted = errors.New("dbpool: pool exhausted")

// ErrClosed is returned by Acquire once Close has been called.
var ErrClosed = errors.New("dbpool: closed")

// OnPoolExhausted is invoked (off the pool's lock) whenever a caller must
// wait because the pool is at max_sessions.
type OnPoolExhausted func()

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Open           int
	Busy           int
	AcquiredTotal  int64
	ReleasedTotal  int64
	ErrorTotal     int64
	Waiting        int
}

// Pool is the homogeneous, wallet-authenticated session pool.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	db     *sql.DB
	cfg    Config

	idle    []*Session
	active  map[*Session]struct{}
	total   int
	waiting int

	acquiredTotal int64
	releasedTotal int64
	errorTotal    int64

	closed          bool
	stopCh          chan struct{}
	onPoolExhausted OnPoolExhausted

	// dialFunc creates a new session; overridable in tests to avoid a real
	// Oracle connection (see TestAcquire* in pool_test.go), defaults to
	// p.dial for production use.
	dialFunc func(ctx context.Context) (*Session, error)
}

// DialParams carries the wallet-derived connection parameters.
type DialParams struct {
	// TNSName is the connect descriptor alias resolved from the wallet's
	// tnsnames.ora (ORACLE_TNS_NAME).
	TNSName string
	// WalletDir is the directory holding cwallet.sso (and optionally
	// ewallet.p12/tnsnames.ora/sqlnet.ora), produced by internal/walletauth
	// from either ORACLE_WALLET_LOCATION or an extracted
	// ORACLE_WALLET_BASE64 archive.
	WalletDir string
	// Username/Password are empty for pure auto-login wallet auth; godror
	// uses the wallet's auto-login store when both are blank.
	Username string
	Password string
	// SSLServerDNMatch toggles ORACLE_SSL_SERVER_DN_MATCH (§6 truthy/falsy set).
	SSLServerDNMatch bool
}

func (p DialParams) connectionParams() (godror.ConnectionParams, error) {
	cp := godror.ConnectionParams{}
	cp.Username = p.Username
	cp.Password = godror.NewPassword(p.Password)
	cp.ConnectString = p.TNSName
	cp.ConfigDir = p.WalletDir
	cp.Walletdir = p.WalletDir
	cp.SSL = true
	cp.SSLVerify = p.SSLServerDNMatch
	if cp.ConnectString == "" {
		return cp, fmt.Errorf("dbpool: ORACLE_TNS_NAME is required")
	}
	return cp, nil
}

func modeFromConfig(m GetMode) godror.PoolGetMode {
	switch m {
	case GetModeNoWait:
		return godror.PoolGetModeNoWait
	case GetModeForceGet:
		return godror.PoolGetModeForceGet
	case GetModeWait, GetModeTimedWait:
		return godror.PoolGetModeTimedWait
	default:
		return godror.PoolGetModeTimedWait
	}
}

// New opens the driver context and configures the underlying session pool.
// It does not eagerly acquire min_sessions — that happens lazily on first
// Acquire, matching godror's own lazy pool warm-up.
func New(params DialParams, cfg Config) (*Pool, error) {
	cp, err := params.connectionParams()
	if err != nil {
		return nil, err
	}
	cp.PoolParams = godror.PoolParams{
		MinSessions:      cfg.MinSessions,
		MaxSessions:      cfg.MaxSessions,
		SessionIncrement: cfg.SessionIncrement,
		WaitTimeout:      cfg.WaitTimeout,
		MaxLifeTime:      cfg.MaxLifetimeSession,
		GetMode:          modeFromConfig(cfg.GetMode),
		Heterogeneous:    !cfg.Homogeneous,
	}

	db := sql.OpenDB(godror.NewConnector(cp))
	db.SetMaxOpenConns(cfg.MaxSessions)
	db.SetMaxIdleConns(cfg.MaxSessions)
	db.SetConnMaxLifetime(cfg.MaxLifetimeSession)

	p := &Pool{
		db:     db,
		cfg:    cfg,
		active: make(map[*Session]struct{}),
		stopCh: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	p.dialFunc = p.dial

	go p.reapLoop()

	return p, nil
}

// SetOnPoolExhausted wires the exhaustion callback (e.g. a metrics counter).
func (p *Pool) SetOnPoolExhausted(cb OnPoolExhausted) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPoolExhausted = cb
}

// SetTuning applies a reloaded pool configuration (MinSessions, MaxSessions,
// PingInterval, WaitTimeout, MaxLifetimeSession) without rebuilding the
// underlying *sql.DB, for config.Watcher's hot-reload path. Existing idle
// and active sessions are left alone; the new limits take effect on the
// next Acquire/reap pass.
func (p *Pool) SetTuning(cfg Config) {
	p.mu.Lock()
	p.cfg.MinSessions = cfg.MinSessions
	p.cfg.MaxSessions = cfg.MaxSessions
	p.cfg.PingInterval = cfg.PingInterval
	p.cfg.WaitTimeout = cfg.WaitTimeout
	p.cfg.MaxLifetimeSession = cfg.MaxLifetimeSession
	p.cond.Broadcast()
	p.mu.Unlock()

	if p.db != nil {
		p.db.SetMaxOpenConns(cfg.MaxSessions)
		p.db.SetMaxIdleConns(cfg.MaxSessions)
		p.db.SetConnMaxLifetime(cfg.MaxLifetimeSession)
	}
}

// Acquire returns a healthy session, blocking up to wait_timeout (or the
// context's deadline, whichever is sooner) when the pool is exhausted.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	deadlineAt := time.Now().Add(p.cfg.WaitTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadlineAt) {
		deadlineAt = d
	}

	p.mu.Lock()
	for {
		select {
		case <-ctx.Done():
			p.mu.Unlock()
			return nil, ctx.Err()
		default:
		}

		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}

		for len(p.idle) > 0 {
			s := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]

			if s.isExpired(p.cfg.MaxLifetimeSession) {
				p.total--
				p.mu.Unlock()
				s.destroy()
				p.mu.Lock()
				continue
			}

			if s.idleFor() > p.cfg.PingInterval {
				p.mu.Unlock()
				pingErr := s.conn.PingContext(ctx)
				p.mu.Lock()
				if pingErr != nil {
					p.total--
					p.mu.Unlock()
					s.destroy()
					p.mu.Lock()
					p.errorTotal++
					continue
				}
			}

			s.markActive()
			p.active[s] = struct{}{}
			p.acquiredTotal++
			p.mu.Unlock()
			return s, nil
		}

		if p.total < p.cfg.MaxSessions || p.cfg.GetMode == GetModeForceGet {
			p.total++
			p.mu.Unlock()

			s, err := p.dialFunc(ctx)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.errorTotal++
				p.mu.Unlock()
				return nil, fmt.Errorf("dbpool: dialing session: %w", err)
			}

			s.markActive()
			p.mu.Lock()
			p.active[s] = struct{}{}
			p.acquiredTotal++
			p.mu.Unlock()
			return s, nil
		}

		if p.cfg.GetMode == GetModeNoWait {
			p.mu.Unlock()
			return nil, ErrPoolExhausted
		}

		p.waiting++
		cb := p.onPoolExhausted
		p.mu.Unlock()
		if cb != nil {
			cb()
		}

		p.mu.Lock()
		remaining := time.Until(deadlineAt)
		if remaining <= 0 {
			p.waiting--
			p.mu.Unlock()
			return nil, ErrPoolExhausted
		}

		timer := time.AfterFunc(remaining, func() { p.cond.Broadcast() })
		p.cond.Wait()
		timer.Stop()
		p.waiting--

		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}
		if time.Now().After(deadlineAt) {
			p.mu.Unlock()
			return nil, ErrPoolExhausted
		}
		// retry from the top, mu held
	}
}

// Release returns a session to the pool unconditionally. A session tagged
// for retirement (non-recoverable driver error) is discarded instead of
// recycled.
func (p *Pool) Release(s *Session) {
	p.mu.Lock()
	delete(p.active, s)
	p.releasedTotal++

	if p.closed || s.retireRequested || s.isExpired(p.cfg.MaxLifetimeSession) {
		p.total--
		p.cond.Signal()
		p.mu.Unlock()
		s.destroy()
		return
	}

	s.markIdle()
	p.idle = append(p.idle, s)
	p.cond.Signal() // wake exactly one waiter; Broadcast is reserved for Close/timeout
	p.mu.Unlock()
}

// Stats reports current pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Open:          p.total,
		Busy:          len(p.active),
		AcquiredTotal: p.acquiredTotal,
		ReleasedTotal: p.releasedTotal,
		ErrorTotal:    p.errorTotal,
		Waiting:       p.waiting,
	}
}

// Close drains outstanding sessions best-effort then destroys the driver
// context. After Close, Acquire always fails with ErrClosed.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopCh)
	p.cond.Broadcast()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, s := range idle {
		s.destroy()
	}

	p.drainActive(30 * time.Second)

	if p.db != nil {
		if err := p.db.Close(); err != nil {
			slog.Warn("dbpool: error closing driver context", "err", err)
		}
	}
}

func (p *Pool) drainActive(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		p.mu.Lock()
		n := len(p.active)
		p.mu.Unlock()
		if n == 0 {
			return
		}
		if time.Now().After(deadline) {
			p.mu.Lock()
			for s := range p.active {
				s.destroy()
			}
			p.active = make(map[*Session]struct{})
			p.mu.Unlock()
			slog.Warn("dbpool: force-closed active sessions after drain timeout", "count", n)
			return
		}
		<-ticker.C
	}
}

func (p *Pool) dial(ctx context.Context) (*Session, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return newSession(conn), nil
}

func (p *Pool) reapLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reapIdle()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) reapIdle() {
	p.mu.Lock()
	if len(p.idle) <= p.cfg.MinSessions {
		p.mu.Unlock()
		return
	}

	excess := len(p.idle) - p.cfg.MinSessions
	kept := make([]*Session, 0, len(p.idle))
	var toClose []*Session
	for i, s := range p.idle {
		if i < excess && s.isExpired(p.cfg.MaxLifetimeSession) {
			toClose = append(toClose, s)
			p.total--
		} else {
			kept = append(kept, s)
		}
	}
	p.idle = kept
	p.mu.Unlock()

	for _, s := range toClose {
		s.destroy()
	}
}
