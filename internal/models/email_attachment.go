package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/vexmail/mailsync/internal/utils"
)

// EmailAttachment describes an attachment extracted from a message. The
// attachment bytes themselves live in object storage under StorageKey.
type EmailAttachment struct {
	ID               string `gorm:"column:id;type:varchar(50);primaryKey"`
	EmailFingerprint string `gorm:"column:email_fingerprint;type:varchar(64);index;not null"`
	Filename         string `gorm:"column:filename;type:varchar(255)"`
	ContentType      string `gorm:"column:content_type;type:varchar(255)"`
	SizeBytes        int64  `gorm:"column:size_bytes"`
	StorageKey       string `gorm:"column:storage_key;type:varchar(500)"`
	Checksum         string `gorm:"column:checksum;type:varchar(64)"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
}

func (EmailAttachment) TableName() string {
	return "email_attachments"
}

func (a *EmailAttachment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("att", 24)
	}
	a.CreatedAt = utils.Now()
	return nil
}
