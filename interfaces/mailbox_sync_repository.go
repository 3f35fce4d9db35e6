package interfaces

import (
	"context"

	"github.com/vexmail/mailsync/internal/models"
)

type MailboxSyncRepository interface {
	GetSyncState(ctx context.Context, folderName string) (*models.MailboxSyncState, error)
	SaveSyncState(ctx context.Context, state *models.MailboxSyncState) error
	DeleteSyncState(ctx context.Context, folderName string) error
	GetAllSyncStates(ctx context.Context) (map[string]uint32, error)
}
