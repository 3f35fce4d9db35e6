package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/vexmail/mailsync/interfaces"
	"github.com/vexmail/mailsync/internal/models"
	"github.com/vexmail/mailsync/internal/tracing"
)

type mailboxSyncRepository struct {
	db *gorm.DB
}

func NewMailboxSyncRepository(db *gorm.DB) interfaces.MailboxSyncRepository {
	return &mailboxSyncRepository{db: db}
}

// GetSyncState retrieves the sync state for a folder
func (r *mailboxSyncRepository) GetSyncState(ctx context.Context, folderName string) (*models.MailboxSyncState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailboxSyncRepository.GetSyncState")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFolder(span, folderName)

	var state models.MailboxSyncState
	result := r.db.WithContext(ctx).
		Where("folder_name = ?", folderName).
		First(&state)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil // No sync state yet
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get sync state: %w", result.Error)
	}

	return &state, nil
}

// SaveSyncState saves the sync state for a folder
func (r *mailboxSyncRepository) SaveSyncState(ctx context.Context, state *models.MailboxSyncState) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailboxSyncRepository.SaveSyncState")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFolder(span, state.FolderName)

	state.LastSync = time.Now()

	// Try to update first
	result := r.db.WithContext(ctx).
		Model(&models.MailboxSyncState{}).
		Where("folder_name = ?", state.FolderName).
		Updates(map[string]interface{}{
			"uid_validity": state.UIDValidity,
			"last_uid":     state.LastUID,
			"last_sync":    state.LastSync,
			"updated_at":   time.Now(),
		})

	// If no record was updated, create a new one
	if result.RowsAffected == 0 {
		result = r.db.WithContext(ctx).Create(state)
	}

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save sync state: %w", result.Error)
	}

	return nil
}

// DeleteSyncState deletes the sync state for a folder
func (r *mailboxSyncRepository) DeleteSyncState(ctx context.Context, folderName string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailboxSyncRepository.DeleteSyncState")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFolder(span, folderName)

	result := r.db.WithContext(ctx).
		Where("folder_name = ?", folderName).
		Delete(&models.MailboxSyncState{})

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete sync state: %w", result.Error)
	}

	return nil
}

// GetAllSyncStates gets the last seen UID per folder
func (r *mailboxSyncRepository) GetAllSyncStates(ctx context.Context) (map[string]uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailboxSyncRepository.GetAllSyncStates")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var states []models.MailboxSyncState
	if err := r.db.WithContext(ctx).Find(&states).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get all sync states: %w", err)
	}

	result := make(map[string]uint32)
	for _, state := range states {
		result[state.FolderName] = state.LastUID
	}

	return result, nil
}
