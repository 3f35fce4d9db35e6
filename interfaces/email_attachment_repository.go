package interfaces

import (
	"context"

	"github.com/vexmail/mailsync/internal/models"
)

type EmailAttachmentRepository interface {
	GetByID(ctx context.Context, id string) (*models.EmailAttachment, error)
	ListByEmail(ctx context.Context, fingerprint string) ([]*models.EmailAttachment, error)
	Store(ctx context.Context, attachment *models.EmailAttachment, data []byte) error
	DownloadAttachment(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}
