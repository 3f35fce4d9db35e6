package repository

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/vexmail/mailsync/interfaces"
	mailsync_errors "github.com/vexmail/mailsync/errors"
	"github.com/vexmail/mailsync/internal/models"
	"github.com/vexmail/mailsync/internal/tracing"
)

type emailAttachmentRepository struct {
	db      *gorm.DB
	storage interfaces.StorageService
}

func NewEmailAttachmentRepository(db *gorm.DB, storageService interfaces.StorageService) interfaces.EmailAttachmentRepository {
	return &emailAttachmentRepository{
		db:      db,
		storage: storageService,
	}
}

// GetByID retrieves an attachment by its ID
func (r *emailAttachmentRepository) GetByID(ctx context.Context, id string) (*models.EmailAttachment, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailAttachmentRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	var attachment models.EmailAttachment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&attachment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &attachment, nil
}

// ListByEmail retrieves all attachments for a specific email
func (r *emailAttachmentRepository) ListByEmail(ctx context.Context, fingerprint string) ([]*models.EmailAttachment, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailAttachmentRepository.ListByEmail")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFingerprint(span, fingerprint)

	var attachments []*models.EmailAttachment
	err := r.db.WithContext(ctx).
		Where("email_fingerprint = ?", fingerprint).
		Find(&attachments).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return attachments, nil
}

// Store saves attachment data to the configured storage service and records
// the metadata row.
func (r *emailAttachmentRepository) Store(ctx context.Context, attachment *models.EmailAttachment, data []byte) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailAttachmentRepository.Store")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFingerprint(span, attachment.EmailFingerprint)

	if attachment.StorageKey == "" {
		attachment.StorageKey = fmt.Sprintf("%s/%s", attachment.EmailFingerprint, attachment.Filename)
	}

	if err := r.storage.Upload(ctx, attachment.StorageKey, data, attachment.ContentType); err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to upload attachment: %w", err)
	}

	sum := md5.Sum(data)
	attachment.SizeBytes = int64(len(data))
	attachment.Checksum = hex.EncodeToString(sum[:])

	return r.db.WithContext(ctx).Save(attachment).Error
}

// DownloadAttachment retrieves the attachment bytes from storage
func (r *emailAttachmentRepository) DownloadAttachment(ctx context.Context, id string) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailAttachmentRepository.DownloadAttachment")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	attachment, err := r.GetByID(ctx, id)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if attachment == nil {
		return nil, mailsync_errors.ErrAttachmentNotFound
	}

	data, err := r.storage.Download(ctx, attachment.StorageKey)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to download attachment: %w", err)
	}

	return data, nil
}

// Delete removes an attachment from both database and storage
func (r *emailAttachmentRepository) Delete(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailAttachmentRepository.Delete")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	attachment, err := r.GetByID(ctx, id)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if attachment == nil {
		return nil
	}

	if attachment.StorageKey != "" {
		if err := r.storage.Delete(ctx, attachment.StorageKey); err != nil {
			tracing.TraceErr(span, err)
			return fmt.Errorf("failed to delete attachment data: %w", err)
		}
	}

	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.EmailAttachment{}).Error
}
