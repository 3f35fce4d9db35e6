package imap

import (
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/vexmail/mailsync/config"
	mailsync_errors "github.com/vexmail/mailsync/errors"
	"github.com/vexmail/mailsync/interfaces"
	"github.com/vexmail/mailsync/internal/logger"
	"github.com/vexmail/mailsync/internal/tracing"
	"github.com/vexmail/mailsync/internal/utils"
)

// ConnectionPool maintains a bounded set of authenticated IMAP sessions.
// Sessions are created lazily on demand, probed with NOOP before reuse, and
// retired once they exceed the maximum session age.
type ConnectionPool struct {
	dialer        interfaces.MailDialer
	log           logger.Logger
	maxConns      int
	leaseTimeout  time.Duration
	maxSessionAge time.Duration

	mu     sync.Mutex
	idle   []interfaces.MailConnection
	ages   map[interfaces.MailConnection]time.Time
	total  int
	closed bool

	notify    chan struct{}
	stopSweep chan struct{}
	closeOnce sync.Once
}

func NewConnectionPool(dialer interfaces.MailDialer, cfg *config.SyncConfig, log logger.Logger) *ConnectionPool {
	p := &ConnectionPool{
		dialer:        dialer,
		log:           log,
		maxConns:      cfg.PoolMaxConnections,
		leaseTimeout:  time.Duration(cfg.PoolLeaseTimeoutSec) * time.Second,
		maxSessionAge: time.Duration(cfg.PoolMaxSessionAgeMin) * time.Minute,
		ages:          make(map[interfaces.MailConnection]time.Time),
		notify:        make(chan struct{}, cfg.PoolMaxConnections+1),
		stopSweep:     make(chan struct{}),
	}
	go p.sweepStaleSessions()
	return p
}

// Lease hands out an exclusive session. It reuses an idle session when one
// is available, dials a new one while under the cap, and otherwise waits a
// bounded time for a release before giving up.
func (p *ConnectionPool) Lease(ctx context.Context) (interfaces.MailConnection, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ConnectionPool.Lease")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	deadline := time.NewTimer(p.leaseTimeout)
	defer deadline.Stop()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, mailsync_errors.ErrPoolClosed
		}

		if n := len(p.idle); n > 0 {
			conn := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.mu.Unlock()
			span.SetTag("reused", true)
			return conn, nil
		}

		if p.total < p.maxConns {
			p.total++
			p.mu.Unlock()

			// Dial outside the lock so a slow handshake does not stall
			// other lessees.
			conn, err := p.dialer.Dial(ctx)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				p.signal()
				tracing.TraceErr(span, err)
				return nil, err
			}

			p.mu.Lock()
			p.ages[conn] = utils.Now()
			p.mu.Unlock()
			span.SetTag("reused", false)
			return conn, nil
		}
		p.mu.Unlock()

		select {
		case <-p.notify:
		case <-deadline.C:
			tracing.TraceErr(span, mailsync_errors.ErrPoolExhausted)
			return nil, mailsync_errors.ErrPoolExhausted
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns a session to the pool. The session is probed with NOOP
// first; dead or over-age sessions are retired instead of reused.
func (p *ConnectionPool) Release(conn interfaces.MailConnection) {
	if conn == nil {
		return
	}

	if err := conn.Noop(); err != nil {
		p.log.Warnf("releasing dead session: %v", err)
		p.Discard(conn)
		return
	}

	p.mu.Lock()
	if p.closed || p.sessionExpiredLocked(conn) {
		p.mu.Unlock()
		p.retire(conn)
		return
	}
	p.idle = append(p.idle, conn)
	p.mu.Unlock()
	p.signal()
}

// Discard removes a broken session from the pool without reuse.
func (p *ConnectionPool) Discard(conn interfaces.MailConnection) {
	if conn == nil {
		return
	}
	p.retire(conn)
}

func (p *ConnectionPool) Stats() interfaces.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return interfaces.PoolStats{
		Idle:  len(p.idle),
		Total: p.total,
		Max:   p.maxConns,
	}
}

// Close logs out all idle sessions and rejects further leases. Sessions
// currently leased are retired as they are returned.
func (p *ConnectionPool) Close() {
	p.closeOnce.Do(func() {
		close(p.stopSweep)

		p.mu.Lock()
		p.closed = true
		idle := p.idle
		p.idle = nil
		p.total -= len(idle)
		for _, conn := range idle {
			delete(p.ages, conn)
		}
		p.mu.Unlock()

		for _, conn := range idle {
			if err := conn.Logout(); err != nil {
				p.log.Warnf("logout during pool close: %v", err)
			}
		}
	})
}

func (p *ConnectionPool) retire(conn interfaces.MailConnection) {
	p.mu.Lock()
	p.total--
	delete(p.ages, conn)
	p.mu.Unlock()

	if err := conn.Logout(); err != nil {
		p.log.Debugf("logout of retired session: %v", err)
	}
	p.signal()
}

func (p *ConnectionPool) sessionExpiredLocked(conn interfaces.MailConnection) bool {
	created, ok := p.ages[conn]
	if !ok {
		return false
	}
	return time.Since(created) > p.maxSessionAge
}

func (p *ConnectionPool) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// sweepStaleSessions retires idle sessions that have outlived the maximum
// session age so the pool never hands out a connection the server has
// likely dropped.
func (p *ConnectionPool) sweepStaleSessions() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopSweep:
			return
		case <-ticker.C:
			p.mu.Lock()
			var kept, expired []interfaces.MailConnection
			for _, conn := range p.idle {
				if p.sessionExpiredLocked(conn) {
					expired = append(expired, conn)
				} else {
					kept = append(kept, conn)
				}
			}
			p.idle = kept
			p.total -= len(expired)
			for _, conn := range expired {
				delete(p.ages, conn)
			}
			p.mu.Unlock()

			for _, conn := range expired {
				if err := conn.Logout(); err != nil {
					p.log.Debugf("logout of stale session: %v", err)
				}
				p.signal()
			}
			if len(expired) > 0 {
				p.log.Infof("retired %d stale imap sessions", len(expired))
			}
		}
	}
}
