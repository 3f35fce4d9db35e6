package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	mailsync_errors "github.com/vexmail/mailsync/errors"
	"github.com/vexmail/mailsync/interfaces"
	"github.com/vexmail/mailsync/internal/enum"
	"github.com/vexmail/mailsync/internal/logger"
	"github.com/vexmail/mailsync/internal/models"
	"github.com/vexmail/mailsync/internal/utils"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

// fakeConn is a scripted remote mailbox.
type fakeConn struct {
	mu          gosync.Mutex
	uidValidity uint32
	messages    map[uint32]*interfaces.RawMessage
	selectErr   error
	fetchErr    error
	flagCalls   []string
	expunged    bool
	loggedOut   bool
	idleWake    chan struct{}
	idleErr     chan error
}

func newFakeConn(uidValidity uint32) *fakeConn {
	return &fakeConn{
		uidValidity: uidValidity,
		messages:    make(map[uint32]*interfaces.RawMessage),
		idleWake:    make(chan struct{}, 1),
		idleErr:     make(chan error, 1),
	}
}

func (c *fakeConn) addMessage(uid uint32, body string, flags ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[uid] = &interfaces.RawMessage{UID: uid, Flags: flags, Body: []byte(body)}
}

func (c *fakeConn) Select(folder string) (*interfaces.RemoteMailboxStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selectErr != nil {
		return nil, c.selectErr
	}
	return &interfaces.RemoteMailboxStatus{
		UIDValidity: c.uidValidity,
		Messages:    uint32(len(c.messages)),
	}, nil
}

func (c *fakeConn) UidSearchAll() ([]uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	uids := make([]uint32, 0, len(c.messages))
	for uid := range c.messages {
		uids = append(uids, uid)
	}
	return uids, nil
}

func (c *fakeConn) UidFetch(uids []uint32) ([]*interfaces.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	var result []*interfaces.RawMessage
	for _, uid := range uids {
		if msg, ok := c.messages[uid]; ok {
			result = append(result, msg)
		}
	}
	return result, nil
}

func (c *fakeConn) AddFlags(uid uint32, flags ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, flag := range flags {
		c.flagCalls = append(c.flagCalls, "+"+flag)
		if msg, ok := c.messages[uid]; ok {
			msg.Flags = append(msg.Flags, flag)
		}
	}
	return nil
}

func (c *fakeConn) RemoveFlags(uid uint32, flags ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, flag := range flags {
		c.flagCalls = append(c.flagCalls, "-"+flag)
	}
	return nil
}

func (c *fakeConn) Expunge() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expunged = true
	return nil
}

func (c *fakeConn) Idle(stop <-chan struct{}) error {
	select {
	case <-stop:
		return nil
	case <-c.idleWake:
		return nil
	case err := <-c.idleErr:
		return err
	}
}

func (c *fakeConn) Noop() error { return nil }

func (c *fakeConn) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	return nil
}

// fakePool hands out a single scripted connection.
type fakePool struct {
	conn      interfaces.MailConnection
	leases    int
	discarded int
}

func (p *fakePool) Lease(ctx context.Context) (interfaces.MailConnection, error) {
	p.leases++
	return p.conn, nil
}
func (p *fakePool) Release(conn interfaces.MailConnection) {}
func (p *fakePool) Discard(conn interfaces.MailConnection) { p.discarded++ }
func (p *fakePool) Stats() interfaces.PoolStats            { return interfaces.PoolStats{} }
func (p *fakePool) Close()                                 {}

// fakeEmailRepo is an in-memory EmailRepository.
type fakeEmailRepo struct {
	mu     gosync.Mutex
	emails map[string]*models.Email
}

func newFakeEmailRepo() *fakeEmailRepo {
	return &fakeEmailRepo{emails: make(map[string]*models.Email)}
}

func (r *fakeEmailRepo) Upsert(ctx context.Context, email *models.Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.emails[email.Fingerprint]; ok {
		existing.Folder = email.Folder
		existing.ImapUID = email.ImapUID
		existing.UIDValidity = email.UIDValidity
		return nil
	}
	// The message_id column carries a unique index; NULLs never collide.
	if email.MessageID != nil {
		for _, other := range r.emails {
			if other.MessageID != nil && *other.MessageID == *email.MessageID {
				return fmt.Errorf("duplicate key value violates unique constraint on message_id: %s", *email.MessageID)
			}
		}
	}
	clone := *email
	r.emails[email.Fingerprint] = &clone
	return nil
}

func (r *fakeEmailRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*models.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if email, ok := r.emails[fingerprint]; ok {
		clone := *email
		return &clone, nil
	}
	return nil, nil
}

func (r *fakeEmailRepo) List(ctx context.Context, filter interfaces.EmailFilter) ([]*models.Email, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.Email
	for _, email := range r.emails {
		if filter.Folder != "" && email.Folder != filter.Folder {
			continue
		}
		if !filter.IncludeDeleted && email.IsDeleted {
			continue
		}
		if filter.UnreadOnly && email.IsRead {
			continue
		}
		if filter.StarredOnly && !email.IsStarred {
			continue
		}
		clone := *email
		result = append(result, &clone)
	}
	return result, int64(len(result)), nil
}

func (r *fakeEmailRepo) KnownUIDs(ctx context.Context, folder string, uidValidity uint32) (map[uint32]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	known := make(map[uint32]bool)
	for _, email := range r.emails {
		if email.Folder == folder && email.UIDValidity == uidValidity && email.ImapUID > 0 {
			known[email.ImapUID] = true
		}
	}
	return known, nil
}

func (r *fakeEmailRepo) UpdateFlags(ctx context.Context, fingerprint string, flags map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email, ok := r.emails[fingerprint]
	if !ok {
		return mailsync_errors.ErrEmailNotFound
	}
	for column, value := range flags {
		boolValue, isBool := value.(bool)
		if !isBool {
			continue
		}
		switch column {
		case "is_read":
			email.IsRead = boolValue
		case "is_starred":
			email.IsStarred = boolValue
		case "is_flagged":
			email.IsFlagged = boolValue
		case "is_deleted":
			email.IsDeleted = boolValue
		}
	}
	return nil
}

func (r *fakeEmailRepo) MarkDeleted(ctx context.Context, fingerprint string) error {
	return r.UpdateFlags(ctx, fingerprint, map[string]interface{}{"is_deleted": true})
}

func (r *fakeEmailRepo) ClearUIDIndex(ctx context.Context, folder string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, email := range r.emails {
		if email.Folder == folder {
			email.ImapUID = 0
			email.UIDValidity = 0
		}
	}
	return nil
}

func (r *fakeEmailRepo) CountUnread(ctx context.Context, folder string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, email := range r.emails {
		if !email.IsRead && !email.IsDeleted {
			count++
		}
	}
	return count, nil
}

func (r *fakeEmailRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.emails)
}

// fakeOperationRepo is an in-memory EmailOperationRepository.
type fakeOperationRepo struct {
	mu  gosync.Mutex
	ops map[string]*models.EmailOperation
}

func newFakeOperationRepo() *fakeOperationRepo {
	return &fakeOperationRepo{ops: make(map[string]*models.EmailOperation)}
}

func (r *fakeOperationRepo) Create(ctx context.Context, operation *models.EmailOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if operation.ID == "" {
		operation.ID = utils.GenerateNanoIDWithPrefix("op", 24)
	}
	if operation.Status == "" {
		operation.Status = enum.OperationPending
	}
	if operation.CreatedAt.IsZero() {
		operation.CreatedAt = utils.Now()
	}
	clone := *operation
	r.ops[operation.ID] = &clone
	return nil
}

func (r *fakeOperationRepo) GetByID(ctx context.Context, id string) (*models.EmailOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if op, ok := r.ops[id]; ok {
		clone := *op
		return &clone, nil
	}
	return nil, nil
}

func (r *fakeOperationRepo) ListRunnable(ctx context.Context, limit int) ([]*models.EmailOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.EmailOperation
	for _, op := range r.ops {
		if op.Status == enum.OperationPending {
			clone := *op
			result = append(result, &clone)
		}
	}
	sortOperationsByCreatedAt(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *fakeOperationRepo) ListPendingForEmail(ctx context.Context, fingerprint string) ([]*models.EmailOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.EmailOperation
	for _, op := range r.ops {
		if op.Fingerprint == fingerprint && !op.Status.Terminal() {
			clone := *op
			result = append(result, &clone)
		}
	}
	sortOperationsByCreatedAt(result)
	return result, nil
}

func (r *fakeOperationRepo) UpdateStatus(ctx context.Context, id string, status enum.OperationStatus, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return mailsync_errors.ErrOperationNotFound
	}
	op.Status = status
	if lastError != "" {
		op.LastError = lastError
	}
	return nil
}

func (r *fakeOperationRepo) IncrementRetry(ctx context.Context, id string, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return mailsync_errors.ErrOperationNotFound
	}
	op.Status = enum.OperationPending
	op.RetryCount++
	op.LastError = lastError
	return nil
}

func (r *fakeOperationRepo) RequeueStalled(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var requeued int64
	for _, op := range r.ops {
		if op.Status == enum.OperationInFlight && op.UpdatedAt.Before(cutoff) {
			op.Status = enum.OperationPending
			op.UpdatedAt = utils.Now()
			requeued++
		}
	}
	return requeued, nil
}

func (r *fakeOperationRepo) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, op := range r.ops {
		if op.Status.Terminal() && op.UpdatedAt.Before(cutoff) {
			delete(r.ops, id)
			removed++
		}
	}
	return removed, nil
}

func sortOperationsByCreatedAt(ops []*models.EmailOperation) {
	for i := 1; i < len(ops); i++ {
		for j := i; j > 0 && ops[j].CreatedAt.Before(ops[j-1].CreatedAt); j-- {
			ops[j], ops[j-1] = ops[j-1], ops[j]
		}
	}
}

// fakeSyncRepo is an in-memory MailboxSyncRepository.
type fakeSyncRepo struct {
	mu      gosync.Mutex
	states  map[string]*models.MailboxSyncState
	deletes int
}

func newFakeSyncRepo() *fakeSyncRepo {
	return &fakeSyncRepo{states: make(map[string]*models.MailboxSyncState)}
}

func (r *fakeSyncRepo) GetSyncState(ctx context.Context, folderName string) (*models.MailboxSyncState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.states[folderName]; ok {
		clone := *state
		return &clone, nil
	}
	return nil, nil
}

func (r *fakeSyncRepo) SaveSyncState(ctx context.Context, state *models.MailboxSyncState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	state.LastSync = utils.Now()
	clone := *state
	r.states[state.FolderName] = &clone
	return nil
}

func (r *fakeSyncRepo) DeleteSyncState(ctx context.Context, folderName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, folderName)
	r.deletes++
	return nil
}

func (r *fakeSyncRepo) GetAllSyncStates(ctx context.Context) (map[string]uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make(map[string]uint32)
	for folder, state := range r.states {
		result[folder] = state.LastUID
	}
	return result, nil
}

// fakeAttachmentRepo records stored attachments in memory.
type fakeAttachmentRepo struct {
	mu          gosync.Mutex
	attachments map[string]*models.EmailAttachment
	data        map[string][]byte
}

func newFakeAttachmentRepo() *fakeAttachmentRepo {
	return &fakeAttachmentRepo{
		attachments: make(map[string]*models.EmailAttachment),
		data:        make(map[string][]byte),
	}
}

func (r *fakeAttachmentRepo) GetByID(ctx context.Context, id string) (*models.EmailAttachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if att, ok := r.attachments[id]; ok {
		clone := *att
		return &clone, nil
	}
	return nil, nil
}

func (r *fakeAttachmentRepo) ListByEmail(ctx context.Context, fingerprint string) ([]*models.EmailAttachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.EmailAttachment
	for _, att := range r.attachments {
		if att.EmailFingerprint == fingerprint {
			clone := *att
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (r *fakeAttachmentRepo) Store(ctx context.Context, attachment *models.EmailAttachment, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if attachment.ID == "" {
		attachment.ID = utils.GenerateNanoIDWithPrefix("att", 24)
	}
	clone := *attachment
	r.attachments[attachment.ID] = &clone
	r.data[attachment.ID] = data
	return nil
}

func (r *fakeAttachmentRepo) DownloadAttachment(ctx context.Context, id string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.data[id]
	if !ok {
		return nil, mailsync_errors.ErrAttachmentNotFound
	}
	return data, nil
}

func (r *fakeAttachmentRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attachments, id)
	delete(r.data, id)
	return nil
}
