package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/vexmail/mailsync/config"
	"github.com/vexmail/mailsync/interfaces"
	"github.com/vexmail/mailsync/internal/logger"
	"github.com/vexmail/mailsync/internal/tracing"
)

// Dialer establishes authenticated IMAP sessions from static configuration.
type Dialer struct {
	cfg *config.IMAPConfig
	log logger.Logger
}

func NewDialer(cfg *config.IMAPConfig, log logger.Logger) interfaces.MailDialer {
	return &Dialer{cfg: cfg, log: log}
}

func (d *Dialer) Dial(ctx context.Context) (interfaces.MailConnection, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Dialer.Dial")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("server", d.cfg.Server)
	span.SetTag("port", d.cfg.Port)
	span.SetTag("tls", d.cfg.TLS)

	serverAddr := fmt.Sprintf("%s:%d", d.cfg.Server, d.cfg.Port)

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	var c *client.Client
	var err error

	if d.cfg.TLS {
		tlsConfig := &tls.Config{
			ServerName: d.cfg.Server,
		}
		c, err = client.DialWithDialerTLS(dialer, serverAddr, tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, serverAddr)
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "failed to connect to %s", serverAddr)
	}

	c.Timeout = 30 * time.Second
	if err := c.Login(d.cfg.Username, d.cfg.Password); err != nil {
		c.Logout()
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "failed to login as %s", d.cfg.Username)
	}
	c.Timeout = 0 // no timeout for long running commands like IDLE

	d.log.Infof("connected and logged in to %s", serverAddr)

	return &imapConnection{client: c}, nil
}

// imapConnection adapts an emersion client to the MailConnection surface.
// Not safe for concurrent use; the pool serializes access.
type imapConnection struct {
	client *client.Client
}

func (c *imapConnection) Select(folder string) (*interfaces.RemoteMailboxStatus, error) {
	mbox, err := c.client.Select(folder, false)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to select folder %s", folder)
	}
	return &interfaces.RemoteMailboxStatus{
		UIDValidity: mbox.UidValidity,
		Messages:    mbox.Messages,
		Unseen:      mbox.Unseen,
	}, nil
}

func (c *imapConnection) UidSearchAll() ([]uint32, error) {
	criteria := goimap.NewSearchCriteria()
	uids, err := c.client.UidSearch(criteria)
	if err != nil {
		return nil, errors.Wrap(err, "uid search failed")
	}
	return uids, nil
}

func (c *imapConnection) UidFetch(uids []uint32) ([]*interfaces.RawMessage, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(goimap.SeqSet)
	seqSet.AddNum(uids...)

	section := &goimap.BodySectionName{Peek: true}
	items := []goimap.FetchItem{
		goimap.FetchUid,
		goimap.FetchFlags,
		section.FetchItem(),
	}

	messages := make(chan *goimap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	var result []*interfaces.RawMessage
	for msg := range messages {
		raw := &interfaces.RawMessage{
			UID:   msg.Uid,
			Flags: msg.Flags,
		}
		if body := msg.GetBody(section); body != nil {
			if buf, err := io.ReadAll(body); err == nil {
				raw.Body = buf
			}
		}
		result = append(result, raw)
	}

	if err := <-done; err != nil {
		return nil, errors.Wrap(err, "uid fetch failed")
	}
	return result, nil
}

func (c *imapConnection) AddFlags(uid uint32, flags ...string) error {
	return c.storeFlags(uid, goimap.AddFlags, flags)
}

func (c *imapConnection) RemoveFlags(uid uint32, flags ...string) error {
	return c.storeFlags(uid, goimap.RemoveFlags, flags)
}

func (c *imapConnection) storeFlags(uid uint32, op goimap.FlagsOp, flags []string) error {
	seqSet := new(goimap.SeqSet)
	seqSet.AddNum(uid)

	storeFlags := make([]interface{}, len(flags))
	for i, flag := range flags {
		storeFlags[i] = flag
	}

	item := goimap.FormatFlagsOp(op, true)
	if err := c.client.UidStore(seqSet, item, storeFlags, nil); err != nil {
		return errors.Wrapf(err, "failed to store flags for uid %d", uid)
	}
	return nil
}

func (c *imapConnection) Expunge() error {
	if err := c.client.Expunge(nil); err != nil {
		return errors.Wrap(err, "expunge failed")
	}
	return nil
}

// Idle blocks until the server reports mailbox activity, the stop channel
// closes, or the session fails. A nil return after activity lets the caller
// schedule a reconcile pass.
func (c *imapConnection) Idle(stop <-chan struct{}) error {
	updates := make(chan client.Update, 8)
	c.client.Updates = updates
	defer func() { c.client.Updates = nil }()

	innerStop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.client.Idle(innerStop, &client.IdleOptions{})
	}()

	var once sync.Once
	stopIdle := func() { once.Do(func() { close(innerStop) }) }

	for {
		select {
		case <-updates:
			stopIdle()
		case <-stop:
			stopIdle()
		case err := <-done:
			return err
		}
	}
}

func (c *imapConnection) Noop() error {
	return c.client.Noop()
}

func (c *imapConnection) Logout() error {
	return c.client.Logout()
}
