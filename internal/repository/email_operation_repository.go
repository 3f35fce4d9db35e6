package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/vexmail/mailsync/interfaces"
	"github.com/vexmail/mailsync/internal/enum"
	"github.com/vexmail/mailsync/internal/models"
	"github.com/vexmail/mailsync/internal/tracing"
	"github.com/vexmail/mailsync/internal/utils"
)

type emailOperationRepository struct {
	db *gorm.DB
}

func NewEmailOperationRepository(db *gorm.DB) interfaces.EmailOperationRepository {
	return &emailOperationRepository{db: db}
}

func (r *emailOperationRepository) Create(ctx context.Context, operation *models.EmailOperation) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailOperationRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFingerprint(span, operation.Fingerprint)

	if operation.Status == "" {
		operation.Status = enum.OperationPending
	}

	result := r.db.WithContext(ctx).Create(operation)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to create operation: %w", result.Error)
	}
	return nil
}

func (r *emailOperationRepository) GetByID(ctx context.Context, id string) (*models.EmailOperation, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailOperationRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	var operation models.EmailOperation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&operation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &operation, nil
}

// ListRunnable returns pending operations oldest first so mutations against
// the same message replay in the order the user issued them.
func (r *emailOperationRepository) ListRunnable(ctx context.Context, limit int) ([]*models.EmailOperation, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailOperationRepository.ListRunnable")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	query := r.db.WithContext(ctx).
		Where("status = ?", enum.OperationPending).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var operations []*models.EmailOperation
	if err := query.Find(&operations).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return operations, nil
}

func (r *emailOperationRepository) ListPendingForEmail(ctx context.Context, fingerprint string) ([]*models.EmailOperation, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailOperationRepository.ListPendingForEmail")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagFingerprint(span, fingerprint)

	var operations []*models.EmailOperation
	if err := r.db.WithContext(ctx).
		Where("fingerprint = ? AND status IN ?", fingerprint,
			[]enum.OperationStatus{enum.OperationPending, enum.OperationInFlight}).
		Order("created_at ASC").
		Find(&operations).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return operations, nil
}

func (r *emailOperationRepository) UpdateStatus(ctx context.Context, id string, status enum.OperationStatus, lastError string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailOperationRepository.UpdateStatus")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	now := utils.Now()
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": now,
	}
	if status == enum.OperationInFlight {
		updates["last_attempt_at"] = now
	}
	if lastError != "" {
		updates["last_error"] = utils.TruncateString(lastError, 2000)
	}

	result := r.db.WithContext(ctx).
		Model(&models.EmailOperation{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}
	return nil
}

// IncrementRetry bumps the retry counter and returns the operation to the
// pending state for a later drain.
func (r *emailOperationRepository) IncrementRetry(ctx context.Context, id string, lastError string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailOperationRepository.IncrementRetry")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagEntity(span, id)

	result := r.db.WithContext(ctx).
		Model(&models.EmailOperation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      enum.OperationPending,
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  utils.TruncateString(lastError, 2000),
			"updated_at":  utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}
	return nil
}

// RequeueStalled returns in_flight operations last touched before the cutoff
// to the pending state. Such rows were stranded by a crash mid-drain.
func (r *emailOperationRepository) RequeueStalled(ctx context.Context, cutoff time.Time) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailOperationRepository.RequeueStalled")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	result := r.db.WithContext(ctx).
		Model(&models.EmailOperation{}).
		Where("status = ? AND updated_at < ?", enum.OperationInFlight, cutoff).
		Updates(map[string]interface{}{
			"status":     enum.OperationPending,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// DeleteTerminalOlderThan removes succeeded and failed operations older than
// the cutoff. Failed operations are kept for a while for inspection.
func (r *emailOperationRepository) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailOperationRepository.DeleteTerminalOlderThan")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	result := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?",
			[]enum.OperationStatus{enum.OperationSucceeded, enum.OperationFailed}, cutoff).
		Delete(&models.EmailOperation{})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
