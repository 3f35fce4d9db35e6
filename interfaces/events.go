package interfaces

import (
	"context"

	"github.com/vexmail/mailsync/internal/enum"
)

// EventPublisher mirrors bus events onto an external broker so other
// services can react without polling this one.
type EventPublisher interface {
	PublishFanoutEvent(ctx context.Context, category enum.EventCategory, message interface{}) error
	Close() error
}
