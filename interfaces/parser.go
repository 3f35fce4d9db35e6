package interfaces

import (
	"context"
	"time"
)

// ParsedAttachment is an attachment decoded out of a raw message body.
type ParsedAttachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// ParsedEmail is the structured form of a raw RFC 5322 message.
type ParsedEmail struct {
	MessageID   string
	Subject     string
	FromAddress string
	FromName    string
	ToAddresses []string
	CcAddresses []string
	SentAt      *time.Time
	BodyText    string
	BodyHTML    string
	PreviewText string
	Attachments []ParsedAttachment

	Suspicious        bool
	SuspiciousReasons []string
}

type EmailParser interface {
	Parse(ctx context.Context, raw []byte) (*ParsedEmail, error)
}
