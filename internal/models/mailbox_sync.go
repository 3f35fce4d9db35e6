package models

import (
	"time"
)

// MailboxSyncState tracks the synchronization watermark for a mailbox folder.
// UIDValidity identifies the UID generation the stored ImapUID values belong
// to; when the server reports a different value a full resync is required.
type MailboxSyncState struct {
	ID          string    `gorm:"column:id;type:uuid;primaryKey;default:gen_random_uuid()"`
	FolderName  string    `gorm:"column:folder_name;type:varchar(100);uniqueIndex;not null"`
	UIDValidity uint32    `gorm:"column:uid_validity;not null"`
	LastUID     uint32    `gorm:"column:last_uid;not null"`
	LastSync    time.Time `gorm:"column:last_sync;type:timestamp;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt   time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (MailboxSyncState) TableName() string {
	return "mailbox_sync_states"
}
