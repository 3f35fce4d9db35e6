package operations

import (
	"context"
	"sync"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/vexmail/mailsync/config"
	mailsync_errors "github.com/vexmail/mailsync/errors"
	"github.com/vexmail/mailsync/interfaces"
	"github.com/vexmail/mailsync/internal/enum"
	"github.com/vexmail/mailsync/internal/logger"
	"github.com/vexmail/mailsync/internal/models"
	"github.com/vexmail/mailsync/internal/repository"
	"github.com/vexmail/mailsync/internal/tracing"
	"github.com/vexmail/mailsync/services/events"
)

const (
	drainBatchSize = 50

	// Interval drains cover operations whose kick was lost, e.g. across a
	// restart.
	defaultDrainInterval = time.Minute

	// An in_flight operation older than this was stranded by a crash
	// mid-drain and goes back to pending.
	stalledAfter = 10 * time.Minute
)

// Queue pushes locally recorded mutations to the remote mailbox. Operations
// are durable rows first; the queue drains them oldest first so mutations on
// the same message replay in order. A mutation that cannot reach the remote
// is retried with a bounded retry budget before being marked failed.
type Queue struct {
	pool   interfaces.ConnectionPool
	repos  *repository.Repositories
	bus    *events.EventBus
	cfg    *config.SyncConfig
	log    logger.Logger
	folder string

	kick          chan struct{}
	drainInterval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	drainMu sync.Mutex
}

func NewQueue(
	pool interfaces.ConnectionPool,
	repos *repository.Repositories,
	bus *events.EventBus,
	imapCfg *config.IMAPConfig,
	syncCfg *config.SyncConfig,
	log logger.Logger,
) *Queue {
	return &Queue{
		pool:          pool,
		repos:         repos,
		bus:           bus,
		cfg:           syncCfg,
		log:           log,
		folder:        imapCfg.Folder,
		kick:          make(chan struct{}, 1),
		drainInterval: defaultDrainInterval,
	}
}

// Enqueue records a mutation and kicks the drain worker. The caller is
// expected to have applied the optimistic local update already.
func (q *Queue) Enqueue(ctx context.Context, fingerprint string, kind enum.OperationKind) (*models.EmailOperation, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Queue.Enqueue")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagFingerprint(span, fingerprint)
	span.SetTag("kind", kind.String())

	if kind == "" {
		return nil, mailsync_errors.ErrUnknownOperationKind
	}

	email, err := q.repos.EmailRepository.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if email == nil {
		return nil, mailsync_errors.ErrEmailNotFound
	}

	operation := &models.EmailOperation{
		Fingerprint: fingerprint,
		Kind:        kind,
		Status:      enum.OperationPending,
		MaxRetries:  q.cfg.OperationMaxRetries,
	}
	if err := q.repos.EmailOperationRepository.Create(ctx, operation); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	q.Kick()
	return operation, nil
}

// Kick latches a drain request. Kicks while a drain is running collapse into
// a single follow-up drain.
func (q *Queue) Kick() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// Start launches the drain worker. Idempotent.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	q.running = true

	go q.run(runCtx)
}

// Stop shuts the drain worker down. Idempotent.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	cancel := q.cancel
	done := q.done
	q.mu.Unlock()

	cancel()
	<-done
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	defer tracing.RecoverAndLogToJaeger(q.log)

	ticker := time.NewTicker(q.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.kick:
		case <-ticker.C:
		}
		if _, err := q.Drain(ctx); err != nil && ctx.Err() == nil {
			q.log.Errorf("drain failed: %v", err)
		}
	}
}

// Drain replays runnable operations against the remote mailbox. It returns
// the number of operations that reached a terminal state this pass.
func (q *Queue) Drain(ctx context.Context) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Queue.Drain")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	requeued, err := q.repos.EmailOperationRepository.RequeueStalled(ctx, time.Now().UTC().Add(-stalledAfter))
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}
	if requeued > 0 {
		q.log.Warnf("requeued %d stalled in-flight operations", requeued)
	}

	runnable, err := q.repos.EmailOperationRepository.ListRunnable(ctx, drainBatchSize)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}
	if len(runnable) == 0 {
		return 0, nil
	}

	conn, err := q.pool.Lease(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}

	if _, err := conn.Select(q.folder); err != nil {
		q.pool.Discard(conn)
		tracing.TraceErr(span, err)
		return 0, err
	}

	settled := 0
	for _, operation := range runnable {
		terminal, connBroken := q.process(ctx, conn, operation)
		if terminal {
			settled++
		}
		if connBroken {
			q.pool.Discard(conn)
			span.SetTag("settled", settled)
			return settled, nil
		}
	}

	q.pool.Release(conn)
	span.SetTag("settled", settled)
	return settled, nil
}

// process pushes one operation. It returns whether the operation reached a
// terminal state and whether the connection must be discarded.
func (q *Queue) process(ctx context.Context, conn interfaces.MailConnection, operation *models.EmailOperation) (bool, bool) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Queue.process")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, operation.ID)
	tracing.TagFingerprint(span, operation.Fingerprint)
	span.SetTag("kind", operation.Kind.String())

	email, err := q.repos.EmailRepository.GetByFingerprint(ctx, operation.Fingerprint)
	if err != nil {
		tracing.TraceErr(span, err)
		return q.retryOrFail(ctx, operation, err), false
	}
	if email == nil {
		q.settle(ctx, operation, enum.OperationFailed, mailsync_errors.ErrEmailNotFound.Error())
		return true, false
	}

	// The UID mapping disappears after a UIDVALIDITY change and comes back
	// once reconciliation re-observes the message. Until then the operation
	// is retryable, not failed.
	if email.ImapUID == 0 {
		tracing.TraceErr(span, mailsync_errors.ErrUIDNotMapped)
		return q.retryOrFail(ctx, operation, mailsync_errors.ErrUIDNotMapped), false
	}

	if err := q.repos.EmailOperationRepository.UpdateStatus(ctx, operation.ID, enum.OperationInFlight, ""); err != nil {
		tracing.TraceErr(span, err)
		return false, false
	}

	if err := q.apply(conn, email.ImapUID, operation.Kind); err != nil {
		tracing.TraceErr(span, err)
		// The session state is unknown after a failed command.
		return q.retryOrFail(ctx, operation, err), true
	}

	if operation.Kind == enum.OperationDelete {
		if err := q.repos.EmailRepository.MarkDeleted(ctx, operation.Fingerprint); err != nil {
			q.log.Errorf("failed to tombstone %s: %v", operation.Fingerprint, err)
		}
		q.deleteAttachments(ctx, operation.Fingerprint)
	}

	q.settle(ctx, operation, enum.OperationSucceeded, "")
	return true, false
}

// deleteAttachments drops the stored attachments of a message that was
// expunged remotely. The tombstoned email row stays; the blobs do not.
func (q *Queue) deleteAttachments(ctx context.Context, fingerprint string) {
	attachments, err := q.repos.EmailAttachmentRepository.ListByEmail(ctx, fingerprint)
	if err != nil {
		q.log.Errorf("failed to list attachments for %s: %v", fingerprint, err)
		return
	}
	for _, attachment := range attachments {
		if err := q.repos.EmailAttachmentRepository.Delete(ctx, attachment.ID); err != nil {
			q.log.Errorf("failed to delete attachment %s: %v", attachment.ID, err)
		}
	}
}

// apply executes the remote side of a mutation.
func (q *Queue) apply(conn interfaces.MailConnection, uid uint32, kind enum.OperationKind) error {
	switch kind {
	case enum.OperationMarkRead:
		return conn.AddFlags(uid, goimap.SeenFlag)
	case enum.OperationMarkUnread:
		return conn.RemoveFlags(uid, goimap.SeenFlag)
	case enum.OperationStar:
		return conn.AddFlags(uid, goimap.FlaggedFlag)
	case enum.OperationUnstar:
		return conn.RemoveFlags(uid, goimap.FlaggedFlag)
	case enum.OperationFlag:
		return conn.AddFlags(uid, interfaces.ImportantKeyword)
	case enum.OperationUnflag:
		return conn.RemoveFlags(uid, interfaces.ImportantKeyword)
	case enum.OperationDelete:
		if err := conn.AddFlags(uid, goimap.DeletedFlag); err != nil {
			return err
		}
		return conn.Expunge()
	default:
		return errors.Wrap(mailsync_errors.ErrUnknownOperationKind, kind.String())
	}
}

// retryOrFail returns the operation to pending or, once the retry budget is
// spent, marks it failed. Returns true when the operation is now terminal.
func (q *Queue) retryOrFail(ctx context.Context, operation *models.EmailOperation, cause error) bool {
	if operation.RetryCount+1 >= operation.MaxRetries {
		q.settle(ctx, operation, enum.OperationFailed, cause.Error())
		return true
	}
	if err := q.repos.EmailOperationRepository.IncrementRetry(ctx, operation.ID, cause.Error()); err != nil {
		q.log.Errorf("failed to record retry for %s: %v", operation.ID, err)
	}
	return false
}

func (q *Queue) settle(ctx context.Context, operation *models.EmailOperation, status enum.OperationStatus, lastError string) {
	if err := q.repos.EmailOperationRepository.UpdateStatus(ctx, operation.ID, status, lastError); err != nil {
		q.log.Errorf("failed to settle operation %s: %v", operation.ID, err)
		return
	}

	q.bus.Publish(ctx, enum.EventMutationResult, map[string]interface{}{
		"operationId": operation.ID,
		"fingerprint": operation.Fingerprint,
		"kind":        operation.Kind.String(),
		"status":      status.String(),
		"error":       lastError,
	})
}

// PurgeTerminal removes settled operations older than the retention window.
func (q *Queue) PurgeTerminal(ctx context.Context) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Queue.PurgeTerminal")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	cutoff := time.Now().UTC().Add(-time.Duration(q.cfg.FailedOpRetentionDays) * 24 * time.Hour)
	removed, err := q.repos.EmailOperationRepository.DeleteTerminalOlderThan(ctx, cutoff)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}
	if removed > 0 {
		q.log.Infof("purged %d settled operations", removed)
	}
	return removed, nil
}
