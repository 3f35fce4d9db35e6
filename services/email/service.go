package email

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"github.com/vexmail/mailsync/config"
	mailsync_errors "github.com/vexmail/mailsync/errors"
	"github.com/vexmail/mailsync/interfaces"
	"github.com/vexmail/mailsync/internal/enum"
	"github.com/vexmail/mailsync/internal/logger"
	"github.com/vexmail/mailsync/internal/models"
	"github.com/vexmail/mailsync/internal/repository"
	"github.com/vexmail/mailsync/internal/tracing"
	"github.com/vexmail/mailsync/services/operations"
	"github.com/vexmail/mailsync/services/sync"
)

// EmailDetail bundles an email with its attachment metadata.
type EmailDetail struct {
	Email       *models.Email             `json:"email"`
	Attachments []*models.EmailAttachment `json:"attachments"`
}

// StatusSnapshot reports the health of the replica at a point in time.
// Watermarks maps each synced folder to the highest UID observed in it.
type StatusSnapshot struct {
	Folder      string               `json:"folder"`
	Listener    string               `json:"listener"`
	UnreadCount int64                `json:"unreadCount"`
	Watermarks  map[string]uint32    `json:"watermarks"`
	Pool        interfaces.PoolStats `json:"pool"`
}

type EmailService struct {
	repos    *repository.Repositories
	queue    *operations.Queue
	engine   *sync.Engine
	listener *sync.Listener
	pool     interfaces.ConnectionPool
	folder   string
	log      logger.Logger
}

func NewEmailService(
	repos *repository.Repositories,
	queue *operations.Queue,
	engine *sync.Engine,
	listener *sync.Listener,
	pool interfaces.ConnectionPool,
	imapCfg *config.IMAPConfig,
	log logger.Logger,
) *EmailService {
	return &EmailService{
		repos:    repos,
		queue:    queue,
		engine:   engine,
		listener: listener,
		pool:     pool,
		folder:   imapCfg.Folder,
		log:      log,
	}
}

// GetPage lists emails matching the filter, newest first, with the total
// count of matching rows.
func (s *EmailService) GetPage(ctx context.Context, filter interfaces.EmailFilter) ([]*models.Email, int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EmailService.GetPage")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagFolder(span, filter.Folder)

	emails, total, err := s.repos.EmailRepository.List(ctx, filter)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, err
	}
	return emails, total, nil
}

// GetDetail loads a single email with its attachment rows.
func (s *EmailService) GetDetail(ctx context.Context, fingerprint string) (*EmailDetail, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EmailService.GetDetail")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagFingerprint(span, fingerprint)

	email, err := s.repos.EmailRepository.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if email == nil {
		return nil, mailsync_errors.ErrEmailNotFound
	}

	attachments, err := s.repos.EmailAttachmentRepository.ListByEmail(ctx, fingerprint)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	return &EmailDetail{Email: email, Attachments: attachments}, nil
}

// RequestMutation applies the mutation locally right away and enqueues the
// remote replay. The local row reflects the requested state before the
// server has acknowledged anything.
func (s *EmailService) RequestMutation(ctx context.Context, fingerprint string, kind enum.OperationKind) (*models.EmailOperation, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EmailService.RequestMutation")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagFingerprint(span, fingerprint)
	span.SetTag("kind", kind.String())

	if err := s.applyLocal(ctx, fingerprint, kind); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	operation, err := s.queue.Enqueue(ctx, fingerprint, kind)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return operation, nil
}

func (s *EmailService) applyLocal(ctx context.Context, fingerprint string, kind enum.OperationKind) error {
	email, err := s.repos.EmailRepository.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		return err
	}
	if email == nil {
		return mailsync_errors.ErrEmailNotFound
	}

	switch kind {
	case enum.OperationMarkRead:
		return s.repos.EmailRepository.UpdateFlags(ctx, fingerprint, map[string]interface{}{"is_read": true})
	case enum.OperationMarkUnread:
		return s.repos.EmailRepository.UpdateFlags(ctx, fingerprint, map[string]interface{}{"is_read": false})
	case enum.OperationStar:
		return s.repos.EmailRepository.UpdateFlags(ctx, fingerprint, map[string]interface{}{"is_starred": true})
	case enum.OperationUnstar:
		return s.repos.EmailRepository.UpdateFlags(ctx, fingerprint, map[string]interface{}{"is_starred": false})
	case enum.OperationFlag:
		return s.repos.EmailRepository.UpdateFlags(ctx, fingerprint, map[string]interface{}{"is_flagged": true})
	case enum.OperationUnflag:
		return s.repos.EmailRepository.UpdateFlags(ctx, fingerprint, map[string]interface{}{"is_flagged": false})
	case enum.OperationDelete:
		return s.repos.EmailRepository.MarkDeleted(ctx, fingerprint)
	default:
		return mailsync_errors.ErrUnknownOperationKind
	}
}

// DownloadAttachment fetches the attachment payload from object storage.
func (s *EmailService) DownloadAttachment(ctx context.Context, id string) (*models.EmailAttachment, []byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EmailService.DownloadAttachment")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, id)

	attachment, err := s.repos.EmailAttachmentRepository.GetByID(ctx, id)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, nil, err
	}
	if attachment == nil {
		return nil, nil, mailsync_errors.ErrAttachmentNotFound
	}

	data, err := s.repos.EmailAttachmentRepository.DownloadAttachment(ctx, id)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, nil, err
	}
	return attachment, data, nil
}

// TriggerSync runs one reconciliation pass immediately.
func (s *EmailService) TriggerSync(ctx context.Context, limit int) (*sync.Result, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EmailService.TriggerSync")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	result, err := s.engine.Reconcile(ctx, limit)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return result, nil
}

// Status returns a snapshot of listener state, pool usage and unread count.
func (s *EmailService) Status(ctx context.Context) (*StatusSnapshot, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "EmailService.Status")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	unread, err := s.repos.EmailRepository.CountUnread(ctx, s.folder)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	watermarks, err := s.repos.MailboxSyncRepository.GetAllSyncStates(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	return &StatusSnapshot{
		Folder:      s.folder,
		Listener:    s.listener.Status().String(),
		UnreadCount: unread,
		Watermarks:  watermarks,
		Pool:        s.pool.Stats(),
	}, nil
}
