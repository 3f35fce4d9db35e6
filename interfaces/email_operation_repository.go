package interfaces

import (
	"context"
	"time"

	"github.com/vexmail/mailsync/internal/enum"
	"github.com/vexmail/mailsync/internal/models"
)

type EmailOperationRepository interface {
	Create(ctx context.Context, operation *models.EmailOperation) error
	GetByID(ctx context.Context, id string) (*models.EmailOperation, error)
	ListRunnable(ctx context.Context, limit int) ([]*models.EmailOperation, error)
	ListPendingForEmail(ctx context.Context, fingerprint string) ([]*models.EmailOperation, error)
	UpdateStatus(ctx context.Context, id string, status enum.OperationStatus, lastError string) error
	IncrementRetry(ctx context.Context, id string, lastError string) error
	RequeueStalled(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
