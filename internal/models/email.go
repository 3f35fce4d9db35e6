package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/vexmail/mailsync/internal/utils"
)

// Email represents a locally replicated email message. The fingerprint is
// stable across UIDVALIDITY changes, while ImapUID is only valid for the
// UIDValidity generation it was observed under.
type Email struct {
	Fingerprint string `gorm:"column:fingerprint;type:varchar(64);primaryKey"`
	// Nullable so messages without a Message-Id header do not collide on the
	// unique index.
	MessageID   *string `gorm:"column:message_id;type:varchar(255);uniqueIndex"`
	Folder      string  `gorm:"column:folder;type:varchar(100);index;not null"`
	ImapUID     uint32  `gorm:"column:imap_uid;index"`
	UIDValidity uint32  `gorm:"column:uid_validity"`

	// Core email metadata
	Subject     string         `gorm:"column:subject;type:varchar(1000)"`
	FromAddress string         `gorm:"column:from_address;type:varchar(255);index"`
	FromName    string         `gorm:"column:from_name;type:varchar(255)"`
	ToAddresses pq.StringArray `gorm:"column:to_addresses;type:text[]"`
	CcAddresses pq.StringArray `gorm:"column:cc_addresses;type:text[]"`

	SentAt *time.Time `gorm:"column:sent_at;type:timestamp;index"`

	// Content
	BodyText    string `gorm:"column:body_text;type:text"`
	BodyHTML    string `gorm:"column:body_html;type:text"`
	PreviewText string `gorm:"column:preview_text;type:varchar(500)"`

	HasAttachment   bool `gorm:"column:has_attachment;default:false"`
	AttachmentCount int  `gorm:"column:attachment_count;default:0"`

	// Flags
	IsRead    bool `gorm:"column:is_read;default:false;index"`
	IsStarred bool `gorm:"column:is_starred;default:false"`
	IsFlagged bool `gorm:"column:is_flagged;default:false"`
	IsDeleted bool `gorm:"column:is_deleted;default:false;index"`

	// Screening
	IsSuspicious      bool           `gorm:"column:is_suspicious;default:false"`
	SuspiciousReasons pq.StringArray `gorm:"column:suspicious_reasons;type:text[]"`

	FlagsUpdatedAt *time.Time `gorm:"column:flags_updated_at;type:timestamp"`
	SyncedAt       *time.Time `gorm:"column:synced_at;type:timestamp"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (Email) TableName() string {
	return "emails"
}

func (e *Email) BeforeCreate(tx *gorm.DB) error {
	e.CreatedAt = utils.Now()
	return nil
}
