package sync

import (
	"context"
	"sort"
	gosync "sync"

	goimap "github.com/emersion/go-imap"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/vexmail/mailsync/config"
	"github.com/vexmail/mailsync/interfaces"
	"github.com/vexmail/mailsync/internal/enum"
	"github.com/vexmail/mailsync/internal/logger"
	"github.com/vexmail/mailsync/internal/models"
	"github.com/vexmail/mailsync/internal/repository"
	"github.com/vexmail/mailsync/internal/tracing"
	"github.com/vexmail/mailsync/internal/utils"
	"github.com/vexmail/mailsync/services/events"
)

// Result summarizes a reconciliation pass.
type Result struct {
	Fetched    int  `json:"fetched"`
	Skipped    int  `json:"skipped"`
	FullResync bool `json:"fullResync"`
}

// Engine reconciles the local replica against the remote folder. Passes are
// serialized: a second caller blocks until the running pass finishes.
type Engine struct {
	pool    interfaces.ConnectionPool
	parser  interfaces.EmailParser
	repos   *repository.Repositories
	bus     *events.EventBus
	cfg     *config.SyncConfig
	log     logger.Logger
	folder  string
	noStore bool

	mu gosync.Mutex
}

func NewEngine(
	pool interfaces.ConnectionPool,
	parser interfaces.EmailParser,
	repos *repository.Repositories,
	bus *events.EventBus,
	imapCfg *config.IMAPConfig,
	syncCfg *config.SyncConfig,
	storageCfg *config.StorageConfig,
	log logger.Logger,
) *Engine {
	return &Engine{
		pool:    pool,
		parser:  parser,
		repos:   repos,
		bus:     bus,
		cfg:     syncCfg,
		log:     log,
		folder:  imapCfg.Folder,
		noStore: storageCfg != nil && storageCfg.DisableAttachments,
	}
}

// Reconcile brings the local replica up to date with the remote folder. At
// most limit new messages are fetched per pass, newest first; older mail is
// picked up by subsequent passes.
func (e *Engine) Reconcile(ctx context.Context, limit int) (*Result, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.Reconcile")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagFolder(span, e.folder)

	e.mu.Lock()
	defer e.mu.Unlock()

	if limit <= 0 {
		limit = e.cfg.SyncLimit
	}

	conn, err := e.pool.Lease(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	result, err := e.reconcileWithConn(ctx, conn, limit)
	if err != nil {
		// The session state is unknown after a protocol error.
		e.pool.Discard(conn)
		tracing.TraceErr(span, err)
		return nil, err
	}
	e.pool.Release(conn)

	span.SetTag("fetched", result.Fetched)
	span.SetTag("skipped", result.Skipped)
	span.SetTag("fullResync", result.FullResync)

	e.bus.Publish(ctx, enum.EventSyncStatus, map[string]interface{}{
		"folder":     e.folder,
		"fetched":    result.Fetched,
		"skipped":    result.Skipped,
		"fullResync": result.FullResync,
	})

	return result, nil
}

func (e *Engine) reconcileWithConn(ctx context.Context, conn interfaces.MailConnection, limit int) (*Result, error) {
	result := &Result{}

	status, err := conn.Select(e.folder)
	if err != nil {
		return nil, err
	}

	state, err := e.repos.MailboxSyncRepository.GetSyncState(ctx, e.folder)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &models.MailboxSyncState{FolderName: e.folder}
	}

	// A changed UIDVALIDITY invalidates every stored UID. Message rows and
	// local flags survive; only the UID index is rebuilt.
	if state.UIDValidity != 0 && state.UIDValidity != status.UIDValidity {
		e.log.Warnf("uidvalidity changed for %s (%d -> %d), clearing uid index",
			e.folder, state.UIDValidity, status.UIDValidity)
		if err := e.repos.EmailRepository.ClearUIDIndex(ctx, e.folder); err != nil {
			return nil, err
		}
		// Drop the stale watermark row; this pass rebuilds it from scratch.
		if err := e.repos.MailboxSyncRepository.DeleteSyncState(ctx, e.folder); err != nil {
			return nil, err
		}
		state = &models.MailboxSyncState{FolderName: e.folder}
		result.FullResync = true
	}
	state.UIDValidity = status.UIDValidity

	uids, err := conn.UidSearchAll()
	if err != nil {
		return nil, err
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })

	known, err := e.repos.EmailRepository.KnownUIDs(ctx, e.folder, status.UIDValidity)
	if err != nil {
		return nil, err
	}

	var fetchUIDs []uint32
	for _, uid := range uids {
		if known[uid] {
			continue
		}
		fetchUIDs = append(fetchUIDs, uid)
		if len(fetchUIDs) >= limit {
			break
		}
	}

	var highest uint32
	for _, uid := range uids {
		if uid > highest {
			highest = uid
		}
	}

	if len(fetchUIDs) > 0 {
		messages, err := conn.UidFetch(fetchUIDs)
		if err != nil {
			return nil, err
		}

		for _, raw := range messages {
			if err := e.storeMessage(ctx, raw, status.UIDValidity); err != nil {
				e.log.Warnf("skipping message uid %d: %v", raw.UID, err)
				result.Skipped++
				continue
			}
			result.Fetched++
		}
	}

	if highest > state.LastUID {
		state.LastUID = highest
	}
	if err := e.repos.MailboxSyncRepository.SaveSyncState(ctx, state); err != nil {
		return nil, err
	}

	return result, nil
}

// storeMessage parses one fetched message and upserts it into the replica,
// merging remote flags against any pending local mutations.
func (e *Engine) storeMessage(ctx context.Context, raw *interfaces.RawMessage, uidValidity uint32) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Engine.storeMessage")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	parsed, err := e.parser.Parse(ctx, raw.Body)
	if err != nil {
		return errors.Wrap(err, "parse failed")
	}

	fingerprint := utils.Fingerprint(parsed.MessageID, raw.UID, uidValidity)
	tracing.TagFingerprint(span, fingerprint)

	existing, err := e.repos.EmailRepository.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		return err
	}

	remoteFlags := remoteFlagColumns(raw.Flags)

	if existing == nil {
		email := &models.Email{
			Fingerprint:       fingerprint,
			MessageID:         utils.StringPtrNillable(parsed.MessageID),
			Folder:            e.folder,
			ImapUID:           raw.UID,
			UIDValidity:       uidValidity,
			Subject:           parsed.Subject,
			FromAddress:       parsed.FromAddress,
			FromName:          parsed.FromName,
			ToAddresses:       parsed.ToAddresses,
			CcAddresses:       parsed.CcAddresses,
			SentAt:            parsed.SentAt,
			BodyText:          parsed.BodyText,
			BodyHTML:          parsed.BodyHTML,
			PreviewText:       parsed.PreviewText,
			IsRead:            remoteFlags["is_read"].(bool),
			IsStarred:         remoteFlags["is_starred"].(bool),
			IsFlagged:         remoteFlags["is_flagged"].(bool),
			IsSuspicious:      parsed.Suspicious,
			SuspiciousReasons: parsed.SuspiciousReasons,
			HasAttachment:     len(parsed.Attachments) > 0,
			AttachmentCount:   len(parsed.Attachments),
		}
		if err := e.repos.EmailRepository.Upsert(ctx, email); err != nil {
			return err
		}

		e.storeAttachments(ctx, fingerprint, parsed.Attachments)

		e.bus.Publish(ctx, enum.EventEmailReceived, map[string]interface{}{
			"fingerprint": fingerprint,
			"folder":      e.folder,
			"subject":     parsed.Subject,
			"from":        parsed.FromAddress,
			"preview":     parsed.PreviewText,
			"suspicious":  parsed.Suspicious,
		})
		return nil
	}

	// Known message seen again, typically after a UIDVALIDITY change.
	// Refresh the UID mapping, then merge remote flags: a flag touched by a
	// pending local operation keeps its local value.
	existing.Folder = e.folder
	existing.ImapUID = raw.UID
	existing.UIDValidity = uidValidity
	if err := e.repos.EmailRepository.Upsert(ctx, existing); err != nil {
		return err
	}

	pending, err := e.repos.EmailOperationRepository.ListPendingForEmail(ctx, fingerprint)
	if err != nil {
		return err
	}
	locked := lockedFlagColumns(pending)

	updates := map[string]interface{}{}
	for column, value := range remoteFlags {
		if locked[column] {
			continue
		}
		updates[column] = value
	}
	if len(updates) > 0 {
		if err := e.repos.EmailRepository.UpdateFlags(ctx, fingerprint, updates); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) storeAttachments(ctx context.Context, fingerprint string, attachments []interfaces.ParsedAttachment) {
	if e.noStore {
		return
	}
	for _, att := range attachments {
		record := &models.EmailAttachment{
			EmailFingerprint: fingerprint,
			Filename:         att.Filename,
			ContentType:      att.ContentType,
		}
		if err := e.repos.EmailAttachmentRepository.Store(ctx, record, att.Content); err != nil {
			e.log.Warnf("failed to store attachment %s for %s: %v", att.Filename, fingerprint, err)
		}
	}
}

// remoteFlagColumns maps IMAP flags onto the replica's flag columns.
func remoteFlagColumns(flags []string) map[string]interface{} {
	columns := map[string]interface{}{
		"is_read":    false,
		"is_starred": false,
		"is_flagged": false,
	}
	for _, flag := range flags {
		switch flag {
		case goimap.SeenFlag:
			columns["is_read"] = true
		case goimap.FlaggedFlag:
			columns["is_starred"] = true
		case interfaces.ImportantKeyword:
			columns["is_flagged"] = true
		}
	}
	return columns
}

// lockedFlagColumns returns the flag columns owned by pending operations.
func lockedFlagColumns(pending []*models.EmailOperation) map[string]bool {
	locked := make(map[string]bool)
	for _, op := range pending {
		switch op.Kind {
		case enum.OperationMarkRead, enum.OperationMarkUnread:
			locked["is_read"] = true
		case enum.OperationStar, enum.OperationUnstar:
			locked["is_starred"] = true
		case enum.OperationFlag, enum.OperationUnflag:
			locked["is_flagged"] = true
		case enum.OperationDelete:
			locked["is_read"] = true
			locked["is_starred"] = true
			locked["is_flagged"] = true
		}
	}
	return locked
}
