package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/vexmail/mailsync/config"
	"github.com/vexmail/mailsync/interfaces"
	"github.com/vexmail/mailsync/internal/enum"
	"github.com/vexmail/mailsync/internal/logger"
	"github.com/vexmail/mailsync/internal/tracing"
	"github.com/vexmail/mailsync/services/events"
)

// Listener holds a dedicated IMAP session in IDLE and schedules a reconcile
// pass whenever the server reports activity. Reconnects use capped
// exponential backoff. Signals are latched: activity during a running pass
// queues exactly one follow-up pass.
type Listener struct {
	dialer interfaces.MailDialer
	engine *Engine
	bus    *events.EventBus
	cfg    *config.SyncConfig
	log    logger.Logger
	folder string

	mu      gosync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	pendingSignal chan struct{}
	status        enum.ConnectionStatus
}

func NewListener(dialer interfaces.MailDialer, engine *Engine, bus *events.EventBus, imapCfg *config.IMAPConfig, syncCfg *config.SyncConfig, log logger.Logger) *Listener {
	return &Listener{
		dialer:        dialer,
		engine:        engine,
		bus:           bus,
		cfg:           syncCfg,
		log:           log,
		folder:        imapCfg.Folder,
		pendingSignal: make(chan struct{}, 1),
		status:        enum.ConnectionNotActive,
	}
}

// Start launches the watch and reconcile goroutines. Calling Start on a
// running listener is a no-op.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true

	go l.run(runCtx)
}

// Stop shuts the listener down and waits for its goroutines to exit.
// Calling Stop on a stopped listener is a no-op.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	cancel := l.cancel
	done := l.done
	l.mu.Unlock()

	cancel()
	<-done
}

func (l *Listener) Status() enum.ConnectionStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// TriggerSync latches a reconcile request. Multiple triggers while a pass is
// running collapse into a single follow-up pass.
func (l *Listener) TriggerSync() {
	select {
	case l.pendingSignal <- struct{}{}:
	default:
	}
}

func (l *Listener) setStatus(status enum.ConnectionStatus) {
	l.mu.Lock()
	l.status = status
	l.mu.Unlock()
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)
	defer tracing.RecoverAndLogToJaeger(l.log)

	reconcileDone := make(chan struct{})
	go func() {
		defer close(reconcileDone)
		l.reconcileLoop(ctx)
	}()

	l.watchLoop(ctx)
	<-reconcileDone
}

// reconcileLoop drains latched signals one pass at a time.
func (l *Listener) reconcileLoop(ctx context.Context) {
	defer tracing.RecoverAndLogToJaeger(l.log)

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.pendingSignal:
			result, err := l.engine.Reconcile(ctx, 0)
			if err != nil {
				if ctx.Err() == nil {
					l.log.Errorf("reconcile pass failed: %v", err)
				}
				continue
			}
			if l.bus != nil {
				l.bus.Publish(ctx, enum.EventNewActivity, map[string]interface{}{
					"folder":  l.folder,
					"fetched": result.Fetched,
					"skipped": result.Skipped,
				})
			}
		}
	}
}

// watchLoop keeps one session in IDLE, reconnecting with capped backoff.
func (l *Listener) watchLoop(ctx context.Context) {
	backoff := time.Second
	maxBackoff := time.Duration(l.cfg.ListenerMaxBackoffSec) * time.Second

	for {
		if ctx.Err() != nil {
			l.setStatus(enum.ConnectionNotActive)
			return
		}

		conn, err := l.dialer.Dial(ctx)
		if err != nil {
			l.setStatus(enum.ConnectionNotActive)
			l.log.Warnf("listener dial failed: %v, retrying in %v", err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		err = l.watch(ctx, conn)
		conn.Logout()
		l.setStatus(enum.ConnectionNotActive)

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			l.log.Warnf("listener session ended: %v", err)
		}
	}
}

// watch runs the IDLE cycle on an established session until the session
// fails or the context is cancelled.
func (l *Listener) watch(ctx context.Context, conn interfaces.MailConnection) error {
	if _, err := conn.Select(l.folder); err != nil {
		return err
	}
	l.setStatus(enum.ConnectionActive)

	// Sync once on (re)connect to cover anything missed while offline.
	l.TriggerSync()

	stop := make(chan struct{})
	stopOnce := gosync.Once{}
	closeStop := func() { stopOnce.Do(func() { close(stop) }) }
	defer closeStop()

	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-ctx.Done():
			closeStop()
		case <-sessionDone:
		}
	}()

	for {
		if err := conn.Idle(stop); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		l.TriggerSync()
	}
}
