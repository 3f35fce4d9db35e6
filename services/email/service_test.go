package email

import (
	"context"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexmail/mailsync/config"
	mailsync_errors "github.com/vexmail/mailsync/errors"
	"github.com/vexmail/mailsync/interfaces"
	"github.com/vexmail/mailsync/internal/enum"
	"github.com/vexmail/mailsync/internal/logger"
	"github.com/vexmail/mailsync/internal/models"
	"github.com/vexmail/mailsync/internal/repository"
	"github.com/vexmail/mailsync/internal/utils"
	"github.com/vexmail/mailsync/services/events"
	"github.com/vexmail/mailsync/services/operations"
	"github.com/vexmail/mailsync/services/sync"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

type flagEmailRepo struct {
	mu        gosync.Mutex
	emails    map[string]*models.Email
	flagCalls []map[string]interface{}
}

func (r *flagEmailRepo) Upsert(ctx context.Context, email *models.Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *email
	r.emails[email.Fingerprint] = &clone
	return nil
}

func (r *flagEmailRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*models.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if email, ok := r.emails[fingerprint]; ok {
		clone := *email
		return &clone, nil
	}
	return nil, nil
}

func (r *flagEmailRepo) List(ctx context.Context, filter interfaces.EmailFilter) ([]*models.Email, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.Email
	for _, email := range r.emails {
		if filter.UnreadOnly && email.IsRead {
			continue
		}
		clone := *email
		result = append(result, &clone)
	}
	return result, int64(len(result)), nil
}

func (r *flagEmailRepo) KnownUIDs(ctx context.Context, folder string, uidValidity uint32) (map[uint32]bool, error) {
	return map[uint32]bool{}, nil
}

func (r *flagEmailRepo) UpdateFlags(ctx context.Context, fingerprint string, flags map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flagCalls = append(r.flagCalls, flags)
	email, ok := r.emails[fingerprint]
	if !ok {
		return nil
	}
	if v, ok := flags["is_read"]; ok {
		email.IsRead = v.(bool)
	}
	if v, ok := flags["is_starred"]; ok {
		email.IsStarred = v.(bool)
	}
	if v, ok := flags["is_flagged"]; ok {
		email.IsFlagged = v.(bool)
	}
	return nil
}

func (r *flagEmailRepo) MarkDeleted(ctx context.Context, fingerprint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if email, ok := r.emails[fingerprint]; ok {
		email.IsDeleted = true
	}
	return nil
}

func (r *flagEmailRepo) ClearUIDIndex(ctx context.Context, folder string) error { return nil }

func (r *flagEmailRepo) CountUnread(ctx context.Context, folder string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var unread int64
	for _, email := range r.emails {
		if !email.IsRead && !email.IsDeleted {
			unread++
		}
	}
	return unread, nil
}

type recordingOperationRepo struct {
	mu      gosync.Mutex
	created []*models.EmailOperation
}

func (r *recordingOperationRepo) Create(ctx context.Context, operation *models.EmailOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if operation.ID == "" {
		operation.ID = utils.GenerateNanoIDWithPrefix("op", 24)
	}
	clone := *operation
	r.created = append(r.created, &clone)
	return nil
}

func (r *recordingOperationRepo) GetByID(ctx context.Context, id string) (*models.EmailOperation, error) {
	return nil, nil
}

func (r *recordingOperationRepo) ListRunnable(ctx context.Context, limit int) ([]*models.EmailOperation, error) {
	return nil, nil
}

func (r *recordingOperationRepo) ListPendingForEmail(ctx context.Context, fingerprint string) ([]*models.EmailOperation, error) {
	return nil, nil
}

func (r *recordingOperationRepo) UpdateStatus(ctx context.Context, id string, status enum.OperationStatus, lastError string) error {
	return nil
}

func (r *recordingOperationRepo) IncrementRetry(ctx context.Context, id string, lastError string) error {
	return nil
}

func (r *recordingOperationRepo) RequeueStalled(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (r *recordingOperationRepo) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type stubAttachmentRepo struct {
	attachments map[string][]*models.EmailAttachment
}

func (r *stubAttachmentRepo) GetByID(ctx context.Context, id string) (*models.EmailAttachment, error) {
	return nil, nil
}

func (r *stubAttachmentRepo) ListByEmail(ctx context.Context, fingerprint string) ([]*models.EmailAttachment, error) {
	return r.attachments[fingerprint], nil
}

func (r *stubAttachmentRepo) Store(ctx context.Context, attachment *models.EmailAttachment, data []byte) error {
	return nil
}

func (r *stubAttachmentRepo) DownloadAttachment(ctx context.Context, id string) ([]byte, error) {
	return nil, mailsync_errors.ErrAttachmentNotFound
}

func (r *stubAttachmentRepo) Delete(ctx context.Context, id string) error { return nil }

type stubSyncRepo struct {
	states map[string]uint32
}

func (r *stubSyncRepo) GetSyncState(ctx context.Context, folderName string) (*models.MailboxSyncState, error) {
	return nil, nil
}

func (r *stubSyncRepo) SaveSyncState(ctx context.Context, state *models.MailboxSyncState) error {
	return nil
}

func (r *stubSyncRepo) DeleteSyncState(ctx context.Context, folderName string) error { return nil }

func (r *stubSyncRepo) GetAllSyncStates(ctx context.Context) (map[string]uint32, error) {
	return r.states, nil
}

type noopPool struct{}

func (p *noopPool) Lease(ctx context.Context) (interfaces.MailConnection, error) {
	return nil, mailsync_errors.ErrPoolClosed
}
func (p *noopPool) Release(conn interfaces.MailConnection) {}
func (p *noopPool) Discard(conn interfaces.MailConnection) {}
func (p *noopPool) Stats() interfaces.PoolStats            { return interfaces.PoolStats{Max: 3} }
func (p *noopPool) Close()                                 {}

type serviceFixture struct {
	emails      *flagEmailRepo
	ops         *recordingOperationRepo
	attachments *stubAttachmentRepo
	syncStates  *stubSyncRepo
	service     *EmailService
}

func newServiceFixture() *serviceFixture {
	log := getLogger()
	f := &serviceFixture{
		emails:      &flagEmailRepo{emails: make(map[string]*models.Email)},
		ops:         &recordingOperationRepo{},
		attachments: &stubAttachmentRepo{attachments: make(map[string][]*models.EmailAttachment)},
		syncStates:  &stubSyncRepo{states: make(map[string]uint32)},
	}

	syncCfg := &config.SyncConfig{
		OperationMaxRetries:      3,
		EventQueueSize:           16,
		SubscriberIdleTimeoutMin: 5,
	}
	imapCfg := &config.IMAPConfig{Folder: "INBOX"}
	bus := events.NewEventBus(syncCfg, nil, log)
	pool := &noopPool{}

	repos := &repository.Repositories{
		EmailRepository:           f.emails,
		EmailAttachmentRepository: f.attachments,
		EmailOperationRepository:  f.ops,
		MailboxSyncRepository:     f.syncStates,
	}

	queue := operations.NewQueue(pool, repos, bus, imapCfg, syncCfg, log)
	f.service = NewEmailService(repos, queue, nil, nil, pool, imapCfg, log)
	return f
}

func (f *serviceFixture) seedEmail(fingerprint string) {
	f.emails.Upsert(context.Background(), &models.Email{
		Fingerprint: fingerprint,
		Folder:      "INBOX",
		ImapUID:     5,
		UIDValidity: 100,
	})
}

func TestRequestMutation_AppliesOptimisticUpdate(t *testing.T) {
	f := newServiceFixture()
	f.seedEmail("fp1")

	operation, err := f.service.RequestMutation(context.Background(), "fp1", enum.OperationMarkRead)
	require.NoError(t, err)
	require.NotNil(t, operation)

	// The local row flips before the remote has acknowledged anything.
	email, err := f.emails.GetByFingerprint(context.Background(), "fp1")
	require.NoError(t, err)
	assert.True(t, email.IsRead)

	// And the replay is durably queued.
	require.Len(t, f.ops.created, 1)
	assert.Equal(t, enum.OperationMarkRead, f.ops.created[0].Kind)
	assert.Equal(t, enum.OperationPending, f.ops.created[0].Status)
}

func TestRequestMutation_DeleteTombstonesLocally(t *testing.T) {
	f := newServiceFixture()
	f.seedEmail("fp1")

	_, err := f.service.RequestMutation(context.Background(), "fp1", enum.OperationDelete)
	require.NoError(t, err)

	email, err := f.emails.GetByFingerprint(context.Background(), "fp1")
	require.NoError(t, err)
	assert.True(t, email.IsDeleted)
}

func TestRequestMutation_UnknownEmail(t *testing.T) {
	f := newServiceFixture()

	_, err := f.service.RequestMutation(context.Background(), "missing", enum.OperationStar)
	assert.ErrorIs(t, err, mailsync_errors.ErrEmailNotFound)
	assert.Empty(t, f.ops.created)
}

func TestRequestMutation_UnknownKind(t *testing.T) {
	f := newServiceFixture()
	f.seedEmail("fp1")

	_, err := f.service.RequestMutation(context.Background(), "fp1", enum.OperationKind("archive"))
	assert.ErrorIs(t, err, mailsync_errors.ErrUnknownOperationKind)
}

func TestGetDetail_NotFound(t *testing.T) {
	f := newServiceFixture()

	_, err := f.service.GetDetail(context.Background(), "missing")
	assert.ErrorIs(t, err, mailsync_errors.ErrEmailNotFound)
}

func TestGetDetail_IncludesAttachments(t *testing.T) {
	f := newServiceFixture()
	f.seedEmail("fp1")
	f.attachments.attachments["fp1"] = []*models.EmailAttachment{
		{ID: "att_1", EmailFingerprint: "fp1", Filename: "report.pdf"},
	}

	detail, err := f.service.GetDetail(context.Background(), "fp1")
	require.NoError(t, err)
	assert.Equal(t, "fp1", detail.Email.Fingerprint)
	require.Len(t, detail.Attachments, 1)
	assert.Equal(t, "report.pdf", detail.Attachments[0].Filename)
}

func TestStatus_ReportsUnreadAndPool(t *testing.T) {
	f := newServiceFixture()
	f.seedEmail("fp1")
	f.seedEmail("fp2")
	f.syncStates.states["INBOX"] = 42

	f.service.listener = sync.NewListener(nil, nil, nil, &config.IMAPConfig{Folder: "INBOX"}, &config.SyncConfig{}, getLogger())

	snapshot, err := f.service.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "INBOX", snapshot.Folder)
	assert.Equal(t, int64(2), snapshot.UnreadCount)
	assert.Equal(t, uint32(42), snapshot.Watermarks["INBOX"])
	assert.Equal(t, 3, snapshot.Pool.Max)
}
