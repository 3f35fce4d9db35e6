package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/vexmail/mailsync/config"
	"github.com/vexmail/mailsync/interfaces"
	"github.com/vexmail/mailsync/internal/models"
)

type Repositories struct {
	EmailRepository           interfaces.EmailRepository
	EmailAttachmentRepository interfaces.EmailAttachmentRepository
	EmailOperationRepository  interfaces.EmailOperationRepository
	MailboxSyncRepository     interfaces.MailboxSyncRepository
}

func InitRepositories(db *gorm.DB, attachmentStorage interfaces.StorageService) *Repositories {
	return &Repositories{
		EmailRepository:           NewEmailRepository(db),
		EmailAttachmentRepository: NewEmailAttachmentRepository(db, attachmentStorage),
		EmailOperationRepository:  NewEmailOperationRepository(db),
		MailboxSyncRepository:     NewMailboxSyncRepository(db),
	}
}

func MigrateDB(dbConfig *config.DatabaseConfig, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	sqlDB.SetMaxOpenConns(5)

	err = db.AutoMigrate(
		&models.Email{},
		&models.EmailAttachment{},
		&models.EmailOperation{},
		&models.MailboxSyncState{},
	)
	if err != nil {
		return err
	}

	sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConn)
	sqlDB.SetMaxOpenConns(dbConfig.MaxConn)
	sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Minute)

	return nil
}
