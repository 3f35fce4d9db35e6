package imap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexmail/mailsync/config"
	mailsync_errors "github.com/vexmail/mailsync/errors"
	"github.com/vexmail/mailsync/interfaces"
	"github.com/vexmail/mailsync/internal/logger"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

type fakeConn struct {
	mu        sync.Mutex
	noopErr   error
	loggedOut bool
}

func (c *fakeConn) Select(folder string) (*interfaces.RemoteMailboxStatus, error) {
	return &interfaces.RemoteMailboxStatus{}, nil
}
func (c *fakeConn) UidSearchAll() ([]uint32, error)                      { return nil, nil }
func (c *fakeConn) UidFetch(uids []uint32) ([]*interfaces.RawMessage, error) { return nil, nil }
func (c *fakeConn) AddFlags(uid uint32, flags ...string) error           { return nil }
func (c *fakeConn) RemoveFlags(uid uint32, flags ...string) error        { return nil }
func (c *fakeConn) Expunge() error                                       { return nil }
func (c *fakeConn) Idle(stop <-chan struct{}) error                      { <-stop; return nil }

func (c *fakeConn) Noop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.noopErr
}

func (c *fakeConn) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	return nil
}

func (c *fakeConn) isLoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
}

func (d *fakeDialer) Dial(ctx context.Context) (interfaces.MailConnection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	conn := &fakeConn{}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func testSyncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		PoolMaxConnections:   2,
		PoolLeaseTimeoutSec:  1,
		PoolMaxSessionAgeMin: 30,
	}
}

func TestConnectionPool_LeaseReusesReleasedSession(t *testing.T) {
	dialer := &fakeDialer{}
	pool := NewConnectionPool(dialer, testSyncConfig(), getLogger())
	defer pool.Close()

	conn, err := pool.Lease(context.Background())
	require.NoError(t, err)
	pool.Release(conn)

	again, err := pool.Lease(context.Background())
	require.NoError(t, err)
	assert.Same(t, conn, again)
	assert.Equal(t, 1, dialer.dialCount())
}

func TestConnectionPool_LeaseGrowsUpToCap(t *testing.T) {
	dialer := &fakeDialer{}
	pool := NewConnectionPool(dialer, testSyncConfig(), getLogger())
	defer pool.Close()

	first, err := pool.Lease(context.Background())
	require.NoError(t, err)
	second, err := pool.Lease(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, dialer.dialCount())

	stats := pool.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 0, stats.Idle)
}

func TestConnectionPool_LeaseTimesOutWhenExhausted(t *testing.T) {
	dialer := &fakeDialer{}
	pool := NewConnectionPool(dialer, testSyncConfig(), getLogger())
	defer pool.Close()

	_, err := pool.Lease(context.Background())
	require.NoError(t, err)
	_, err = pool.Lease(context.Background())
	require.NoError(t, err)

	start := time.Now()
	_, err = pool.Lease(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, mailsync_errors.ErrPoolExhausted)
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)

	// The cap holds: no third session was ever dialed.
	assert.Equal(t, 2, dialer.dialCount())
}

func TestConnectionPool_WaiterWakesOnRelease(t *testing.T) {
	dialer := &fakeDialer{}
	pool := NewConnectionPool(dialer, testSyncConfig(), getLogger())
	defer pool.Close()

	first, err := pool.Lease(context.Background())
	require.NoError(t, err)
	second, err := pool.Lease(context.Background())
	require.NoError(t, err)

	leased := make(chan interfaces.MailConnection, 1)
	go func() {
		conn, err := pool.Lease(context.Background())
		if err == nil {
			leased <- conn
		}
	}()

	time.Sleep(50 * time.Millisecond)
	pool.Release(first)

	select {
	case conn := <-leased:
		assert.Same(t, first, conn)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by release")
	}

	pool.Release(second)
}

func TestConnectionPool_ReleaseDiscardsDeadSession(t *testing.T) {
	dialer := &fakeDialer{}
	pool := NewConnectionPool(dialer, testSyncConfig(), getLogger())
	defer pool.Close()

	conn, err := pool.Lease(context.Background())
	require.NoError(t, err)

	fake := conn.(*fakeConn)
	fake.mu.Lock()
	fake.noopErr = assert.AnError
	fake.mu.Unlock()

	pool.Release(conn)
	assert.True(t, fake.isLoggedOut())

	stats := pool.Stats()
	assert.Equal(t, 0, stats.Total)

	// A fresh session replaces the dead one.
	replacement, err := pool.Lease(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, conn, replacement)
	assert.Equal(t, 2, dialer.dialCount())
}

func TestConnectionPool_DiscardFreesCapacity(t *testing.T) {
	dialer := &fakeDialer{}
	pool := NewConnectionPool(dialer, testSyncConfig(), getLogger())
	defer pool.Close()

	first, err := pool.Lease(context.Background())
	require.NoError(t, err)
	_, err = pool.Lease(context.Background())
	require.NoError(t, err)

	pool.Discard(first)
	assert.True(t, first.(*fakeConn).isLoggedOut())

	_, err = pool.Lease(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, dialer.dialCount())
}

func TestConnectionPool_CloseRejectsLeases(t *testing.T) {
	dialer := &fakeDialer{}
	pool := NewConnectionPool(dialer, testSyncConfig(), getLogger())

	conn, err := pool.Lease(context.Background())
	require.NoError(t, err)
	pool.Release(conn)

	pool.Close()
	assert.True(t, conn.(*fakeConn).isLoggedOut())

	_, err = pool.Lease(context.Background())
	assert.ErrorIs(t, err, mailsync_errors.ErrPoolClosed)
}

func TestConnectionPool_FailedDialReleasesSlot(t *testing.T) {
	dialer := &fakeDialer{err: assert.AnError}
	pool := NewConnectionPool(dialer, testSyncConfig(), getLogger())
	defer pool.Close()

	_, err := pool.Lease(context.Background())
	require.Error(t, err)

	dialer.mu.Lock()
	dialer.err = nil
	dialer.mu.Unlock()

	conn, err := pool.Lease(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, conn)
}
