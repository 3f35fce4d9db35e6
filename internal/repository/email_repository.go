package repository

import (
	"context"
	"errors"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vexmail/mailsync/interfaces"
	"github.com/vexmail/mailsync/internal/models"
	"github.com/vexmail/mailsync/internal/tracing"
	"github.com/vexmail/mailsync/internal/utils"
)

type emailRepository struct {
	db *gorm.DB
}

func NewEmailRepository(db *gorm.DB) interfaces.EmailRepository {
	return &emailRepository{
		db: db,
	}
}

// Upsert inserts the email or refreshes its remote-owned columns. Local flag
// columns are only written on insert; reconciliation merges flags separately
// through UpdateFlags so pending local mutations are not clobbered.
func (r *emailRepository) Upsert(ctx context.Context, email *models.Email) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.Upsert")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFingerprint(span, email.Fingerprint)

	now := utils.Now()
	email.SyncedAt = &now

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "fingerprint"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"folder", "imap_uid", "uid_validity", "synced_at", "updated_at",
		}),
	}).Create(email)

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}

	return nil
}

func (r *emailRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*models.Email, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.GetByFingerprint")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFingerprint(span, fingerprint)

	var email models.Email
	if err := r.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &email, nil
}

func (r *emailRepository) List(ctx context.Context, filter interfaces.EmailFilter) ([]*models.Email, int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.List")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFolder(span, filter.Folder)

	query := r.db.WithContext(ctx).Model(&models.Email{})
	if filter.Folder != "" {
		query = query.Where("folder = ?", filter.Folder)
	}
	if filter.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}
	if filter.StarredOnly {
		query = query.Where("is_starred = ?", true)
	}
	if !filter.IncludeDeleted {
		query = query.Where("is_deleted = ?", false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, err
	}

	query = query.Order("sent_at DESC NULLS LAST")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var emails []*models.Email
	if err := query.Find(&emails).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, err
	}
	return emails, total, nil
}

// KnownUIDs returns the UIDs already stored for a folder under the given
// UIDVALIDITY generation. UIDs from other generations are stale and excluded.
func (r *emailRepository) KnownUIDs(ctx context.Context, folder string, uidValidity uint32) (map[uint32]bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.KnownUIDs")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFolder(span, folder)

	var uids []uint32
	if err := r.db.WithContext(ctx).
		Model(&models.Email{}).
		Where("folder = ? AND uid_validity = ? AND imap_uid > 0", folder, uidValidity).
		Pluck("imap_uid", &uids).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	known := make(map[uint32]bool, len(uids))
	for _, uid := range uids {
		known[uid] = true
	}
	return known, nil
}

func (r *emailRepository) UpdateFlags(ctx context.Context, fingerprint string, flags map[string]interface{}) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.UpdateFlags")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFingerprint(span, fingerprint)

	if len(flags) == 0 {
		return nil
	}

	now := utils.Now()
	flags["flags_updated_at"] = now
	flags["updated_at"] = now

	result := r.db.WithContext(ctx).
		Model(&models.Email{}).
		Where("fingerprint = ?", fingerprint).
		Updates(flags)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}

	return nil
}

// MarkDeleted tombstones an email. The row is kept so the fingerprint stays
// known and the message is not resurrected by a later sync.
func (r *emailRepository) MarkDeleted(ctx context.Context, fingerprint string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.MarkDeleted")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFingerprint(span, fingerprint)

	result := r.db.WithContext(ctx).
		Model(&models.Email{}).
		Where("fingerprint = ?", fingerprint).
		Updates(map[string]interface{}{
			"is_deleted": true,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}

	return nil
}

// ClearUIDIndex zeroes stored UIDs for a folder after a UIDVALIDITY change.
// Message content and local flags survive; only the UID mapping is invalid.
func (r *emailRepository) ClearUIDIndex(ctx context.Context, folder string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.ClearUIDIndex")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFolder(span, folder)

	result := r.db.WithContext(ctx).
		Model(&models.Email{}).
		Where("folder = ?", folder).
		Updates(map[string]interface{}{
			"imap_uid":     0,
			"uid_validity": 0,
			"updated_at":   utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}

	return nil
}

func (r *emailRepository) CountUnread(ctx context.Context, folder string) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.CountUnread")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFolder(span, folder)

	query := r.db.WithContext(ctx).
		Model(&models.Email{}).
		Where("is_read = ? AND is_deleted = ?", false, false)
	if folder != "" {
		query = query.Where("folder = ?", folder)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}
	return count, nil
}
