package services

import (
	"github.com/vexmail/mailsync/config"
	"github.com/vexmail/mailsync/interfaces"
	"github.com/vexmail/mailsync/internal/logger"
	"github.com/vexmail/mailsync/internal/repository"
	"github.com/vexmail/mailsync/services/email"
	"github.com/vexmail/mailsync/services/events"
	"github.com/vexmail/mailsync/services/imap"
	"github.com/vexmail/mailsync/services/operations"
	"github.com/vexmail/mailsync/services/parser"
	"github.com/vexmail/mailsync/services/storage"
	"github.com/vexmail/mailsync/services/storage/aws_client"
	"github.com/vexmail/mailsync/services/sync"
)

type Services struct {
	ConnectionPool interfaces.ConnectionPool
	EventBus       *events.EventBus
	Engine         *sync.Engine
	Listener       *sync.Listener
	Queue          *operations.Queue
	EmailService   *email.EmailService
}

// InitStorage builds the attachment store. It is separate from InitServices
// because the repositories need it first.
func InitStorage(cfg *config.StorageConfig) interfaces.StorageService {
	if cfg.DisableAttachments {
		return nil
	}
	return storage.NewStorageService(aws_client.NewS3Client(cfg), cfg.AttachmentBucket)
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories) (*Services, error) {
	dialer := imap.NewDialer(cfg.IMAPConfig, log)
	pool := imap.NewConnectionPool(dialer, cfg.SyncConfig, log)
	emailParser := parser.NewEmailParser(log)

	// The RabbitMQ mirror is optional; without it events stay in-process.
	var mirror interfaces.EventPublisher
	if cfg.AppConfig.RabbitMQURL != "" {
		publisher, err := events.NewRabbitMQPublisher(cfg.AppConfig.RabbitMQURL, log, nil)
		if err != nil {
			return nil, err
		}
		mirror = publisher
	}
	bus := events.NewEventBus(cfg.SyncConfig, mirror, log)

	engine := sync.NewEngine(pool, emailParser, repos, bus, cfg.IMAPConfig, cfg.SyncConfig, cfg.StorageConfig, log)
	listener := sync.NewListener(dialer, engine, bus, cfg.IMAPConfig, cfg.SyncConfig, log)
	queue := operations.NewQueue(pool, repos, bus, cfg.IMAPConfig, cfg.SyncConfig, log)

	services := Services{
		ConnectionPool: pool,
		EventBus:       bus,
		Engine:         engine,
		Listener:       listener,
		Queue:          queue,
		EmailService:   email.NewEmailService(repos, queue, engine, listener, pool, cfg.IMAPConfig, log),
	}

	return &services, nil
}
