package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/vexmail/mailsync/internal/enum"
	"github.com/vexmail/mailsync/internal/utils"
)

// EmailOperation is a durable record of a local mutation that still has to be
// pushed to the remote mailbox.
type EmailOperation struct {
	ID          string               `gorm:"column:id;type:varchar(50);primaryKey"`
	Fingerprint string               `gorm:"column:fingerprint;type:varchar(64);index;not null"`
	Kind        enum.OperationKind   `gorm:"column:kind;type:varchar(50);not null"`
	Status      enum.OperationStatus `gorm:"column:status;type:varchar(50);index;not null"`

	RetryCount    int        `gorm:"column:retry_count;default:0"`
	MaxRetries    int        `gorm:"column:max_retries;default:3"`
	LastError     string     `gorm:"column:last_error;type:text"`
	LastAttemptAt *time.Time `gorm:"column:last_attempt_at;type:timestamp"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (EmailOperation) TableName() string {
	return "email_operations"
}

func (o *EmailOperation) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = utils.GenerateNanoIDWithPrefix("op", 24)
	}
	o.CreatedAt = utils.Now()
	return nil
}
