package parser

import (
	"bytes"
	"context"
	"net/mail"
	"path/filepath"
	"strings"

	"github.com/jhillyerd/enmime"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/vexmail/mailsync/interfaces"
	"github.com/vexmail/mailsync/internal/logger"
	"github.com/vexmail/mailsync/internal/tracing"
	"github.com/vexmail/mailsync/internal/utils"
)

const previewLength = 200

// Attachment extensions that are never legitimate in this mailbox.
var dangerousExtensions = map[string]bool{
	".exe": true,
	".scr": true,
	".bat": true,
	".cmd": true,
	".js":  true,
	".vbs": true,
	".jar": true,
}

type emailParser struct {
	log logger.Logger
}

func NewEmailParser(log logger.Logger) interfaces.EmailParser {
	return &emailParser{log: log}
}

func (p *emailParser) Parse(ctx context.Context, raw []byte) (*interfaces.ParsedEmail, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "emailParser.Parse")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("size", len(raw))

	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to parse message")
	}

	parsed := &interfaces.ParsedEmail{
		MessageID: strings.Trim(envelope.GetHeader("Message-Id"), "<> "),
		Subject:   envelope.GetHeader("Subject"),
		BodyText:  envelope.Text,
		BodyHTML:  envelope.HTML,
	}

	if from, err := mail.ParseAddress(envelope.GetHeader("From")); err == nil {
		parsed.FromAddress = from.Address
		parsed.FromName = from.Name
	} else {
		parsed.FromAddress = envelope.GetHeader("From")
	}

	parsed.ToAddresses = addressList(envelope, "To")
	parsed.CcAddresses = addressList(envelope, "Cc")

	if sentAt, err := mail.ParseDate(envelope.GetHeader("Date")); err == nil {
		utc := sentAt.UTC()
		parsed.SentAt = &utc
	}

	parsed.PreviewText = buildPreview(envelope.Text)

	for _, part := range envelope.Attachments {
		parsed.Attachments = append(parsed.Attachments, interfaces.ParsedAttachment{
			Filename:    part.FileName,
			ContentType: part.ContentType,
			Content:     part.Content,
		})
	}

	p.screen(envelope, parsed)

	return parsed, nil
}

// screen flags messages that carry common abuse markers. Flagged messages
// are still stored; the flag only surfaces them to the reader.
func (p *emailParser) screen(envelope *enmime.Envelope, parsed *interfaces.ParsedEmail) {
	var reasons []string

	authResults := strings.ToLower(envelope.GetHeader("Authentication-Results"))
	if strings.Contains(authResults, "spf=fail") || strings.Contains(authResults, "dkim=fail") {
		reasons = append(reasons, "authentication failure")
	}

	if replyTo, err := mail.ParseAddress(envelope.GetHeader("Reply-To")); err == nil && parsed.FromAddress != "" {
		if emailDomain(replyTo.Address) != emailDomain(parsed.FromAddress) {
			reasons = append(reasons, "reply-to domain differs from sender")
		}
	}

	for _, attachment := range parsed.Attachments {
		ext := strings.ToLower(filepath.Ext(attachment.Filename))
		if dangerousExtensions[ext] {
			reasons = append(reasons, "dangerous attachment type "+ext)
		}
	}

	if len(reasons) > 0 {
		parsed.Suspicious = true
		parsed.SuspiciousReasons = reasons
	}
}

func addressList(envelope *enmime.Envelope, header string) []string {
	list, err := envelope.AddressList(header)
	if err != nil {
		return nil
	}
	addresses := make([]string, 0, len(list))
	for _, addr := range list {
		addresses = append(addresses, addr.Address)
	}
	return addresses
}

func buildPreview(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	return utils.TruncateString(collapsed, previewLength)
}

func emailDomain(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}
