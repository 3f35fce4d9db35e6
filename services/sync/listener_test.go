package sync

import (
	"context"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexmail/mailsync/config"
	"github.com/vexmail/mailsync/interfaces"
	"github.com/vexmail/mailsync/internal/enum"
	"github.com/vexmail/mailsync/services/events"
)

type fakeListenerDialer struct {
	mu       gosync.Mutex
	conn     *fakeConn
	failures int
	dials    int
}

func (d *fakeListenerDialer) Dial(ctx context.Context) (interfaces.MailConnection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failures > 0 {
		d.failures--
		return nil, assert.AnError
	}
	return d.conn, nil
}

func (d *fakeListenerDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func newListenerFixture(f *engineFixture, failures int) (*Listener, *fakeListenerDialer) {
	dialer := &fakeListenerDialer{conn: f.conn, failures: failures}
	listener := NewListener(
		dialer,
		f.engine,
		f.bus,
		&config.IMAPConfig{Folder: "INBOX"},
		&config.SyncConfig{ListenerMaxBackoffSec: 2},
		getLogger(),
	)
	return listener, dialer
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestListener_SyncsOnConnect(t *testing.T) {
	f := newEngineFixture(100)
	f.conn.addMessage(1, rawMessage("m1@example.com", "hello"))

	listener, _ := newListenerFixture(f, 0)
	listener.Start(context.Background())
	defer listener.Stop()

	waitFor(t, 3*time.Second, func() bool { return f.emails.count() == 1 })
	waitFor(t, time.Second, func() bool { return listener.Status() == enum.ConnectionActive })
}

func TestListener_SyncsOnRemoteActivity(t *testing.T) {
	f := newEngineFixture(100)
	listener, _ := newListenerFixture(f, 0)
	listener.Start(context.Background())
	defer listener.Stop()

	waitFor(t, time.Second, func() bool { return listener.Status() == enum.ConnectionActive })

	f.conn.addMessage(1, rawMessage("m1@example.com", "new mail"))
	f.conn.idleWake <- struct{}{}

	waitFor(t, 3*time.Second, func() bool { return f.emails.count() == 1 })
}

func TestListener_PublishesNewActivityAfterReconcile(t *testing.T) {
	f := newEngineFixture(100)
	listener, _ := newListenerFixture(f, 0)

	ctx := context.Background()
	subscriberID := f.bus.Subscribe(ctx, enum.EventNewActivity)

	listener.Start(ctx)
	defer listener.Stop()

	waitFor(t, time.Second, func() bool { return listener.Status() == enum.ConnectionActive })

	f.conn.addMessage(1, rawMessage("m1@example.com", "new mail"))
	f.conn.idleWake <- struct{}{}

	var observed []events.Event
	waitFor(t, 3*time.Second, func() bool {
		polled, err := f.bus.Poll(ctx, subscriberID, 50*time.Millisecond)
		require.NoError(t, err)
		for _, event := range polled {
			if event.Category == enum.EventNewActivity {
				observed = append(observed, event)
			}
		}
		return len(observed) > 0
	})

	assert.Equal(t, "INBOX", observed[0].Payload["folder"])
}

func TestListener_ReconnectsAfterDialFailure(t *testing.T) {
	f := newEngineFixture(100)
	f.conn.addMessage(1, rawMessage("m1@example.com", "hello"))

	listener, dialer := newListenerFixture(f, 2)
	listener.Start(context.Background())
	defer listener.Stop()

	waitFor(t, 10*time.Second, func() bool { return f.emails.count() == 1 })
	assert.GreaterOrEqual(t, dialer.dialCount(), 3)
}

func TestListener_StartAndStopAreIdempotent(t *testing.T) {
	f := newEngineFixture(100)
	listener, dialer := newListenerFixture(f, 0)

	listener.Start(context.Background())
	listener.Start(context.Background())

	waitFor(t, time.Second, func() bool { return listener.Status() == enum.ConnectionActive })
	assert.Equal(t, 1, dialer.dialCount())

	listener.Stop()
	listener.Stop()
	assert.Equal(t, enum.ConnectionNotActive, listener.Status())
}

func TestListener_LatchedTriggersCollapse(t *testing.T) {
	f := newEngineFixture(100)
	listener, _ := newListenerFixture(f, 0)

	// Many triggers before the listener runs collapse into one latched
	// signal.
	for i := 0; i < 10; i++ {
		listener.TriggerSync()
	}

	require.Len(t, listener.pendingSignal, 1)
}
