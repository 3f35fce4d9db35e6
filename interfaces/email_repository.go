package interfaces

import (
	"context"

	"github.com/vexmail/mailsync/internal/models"
)

// EmailFilter narrows List queries. Zero values mean "no restriction".
type EmailFilter struct {
	Folder         string
	UnreadOnly     bool
	StarredOnly    bool
	IncludeDeleted bool
	Limit          int
	Offset         int
}

type EmailRepository interface {
	Upsert(ctx context.Context, email *models.Email) error
	GetByFingerprint(ctx context.Context, fingerprint string) (*models.Email, error)
	List(ctx context.Context, filter EmailFilter) ([]*models.Email, int64, error)
	KnownUIDs(ctx context.Context, folder string, uidValidity uint32) (map[uint32]bool, error)
	UpdateFlags(ctx context.Context, fingerprint string, flags map[string]interface{}) error
	MarkDeleted(ctx context.Context, fingerprint string) error
	ClearUIDIndex(ctx context.Context, folder string) error
	CountUnread(ctx context.Context, folder string) (int64, error)
}
