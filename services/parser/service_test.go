package parser

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexmail/mailsync/internal/logger"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

const simpleMessage = "Message-Id: <abc123@example.com>\r\n" +
	"From: Ada Lovelace <ada@example.com>\r\n" +
	"To: grace@example.com, alan@example.com\r\n" +
	"Cc: linus@example.com\r\n" +
	"Subject: Weekly report\r\n" +
	"Date: Mon, 05 Jan 2026 10:30:00 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Here is the   weekly\r\nreport body.\r\n"

func TestParse_SimpleMessage(t *testing.T) {
	p := NewEmailParser(getLogger())

	parsed, err := p.Parse(context.Background(), []byte(simpleMessage))
	require.NoError(t, err)

	assert.Equal(t, "abc123@example.com", parsed.MessageID)
	assert.Equal(t, "Weekly report", parsed.Subject)
	assert.Equal(t, "ada@example.com", parsed.FromAddress)
	assert.Equal(t, "Ada Lovelace", parsed.FromName)
	assert.Equal(t, []string{"grace@example.com", "alan@example.com"}, parsed.ToAddresses)
	assert.Equal(t, []string{"linus@example.com"}, parsed.CcAddresses)
	require.NotNil(t, parsed.SentAt)
	assert.Equal(t, 2026, parsed.SentAt.Year())
	assert.Contains(t, parsed.BodyText, "weekly")
	assert.False(t, parsed.Suspicious)
}

func TestParse_PreviewCollapsesWhitespace(t *testing.T) {
	p := NewEmailParser(getLogger())

	parsed, err := p.Parse(context.Background(), []byte(simpleMessage))
	require.NoError(t, err)

	assert.Equal(t, "Here is the weekly report body.", parsed.PreviewText)
}

func TestParse_LongPreviewTruncated(t *testing.T) {
	body := strings.Repeat("word ", 100)
	message := "Message-Id: <long@example.com>\r\n" +
		"From: a@example.com\r\n" +
		"Subject: Long\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" + body

	p := NewEmailParser(getLogger())
	parsed, err := p.Parse(context.Background(), []byte(message))
	require.NoError(t, err)

	assert.LessOrEqual(t, len(parsed.PreviewText), previewLength+3)
	assert.True(t, strings.HasSuffix(parsed.PreviewText, "..."))
}

func TestParse_ScreensAuthenticationFailure(t *testing.T) {
	message := "Message-Id: <spf@example.com>\r\n" +
		"From: spoof@example.com\r\n" +
		"Authentication-Results: mx.example.com; spf=fail smtp.mailfrom=example.com\r\n" +
		"Subject: Hello\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"body\r\n"

	p := NewEmailParser(getLogger())
	parsed, err := p.Parse(context.Background(), []byte(message))
	require.NoError(t, err)

	assert.True(t, parsed.Suspicious)
	assert.Contains(t, parsed.SuspiciousReasons, "authentication failure")
}

func TestParse_ScreensReplyToMismatch(t *testing.T) {
	message := "Message-Id: <rt@example.com>\r\n" +
		"From: ceo@company.com\r\n" +
		"Reply-To: attacker@evil.net\r\n" +
		"Subject: Urgent\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"wire the money\r\n"

	p := NewEmailParser(getLogger())
	parsed, err := p.Parse(context.Background(), []byte(message))
	require.NoError(t, err)

	assert.True(t, parsed.Suspicious)
	assert.Contains(t, parsed.SuspiciousReasons, "reply-to domain differs from sender")
}

func TestParse_MissingMessageIDLeftEmpty(t *testing.T) {
	message := "From: anon@example.com\r\n" +
		"Subject: no id\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"body\r\n"

	p := NewEmailParser(getLogger())
	parsed, err := p.Parse(context.Background(), []byte(message))
	require.NoError(t, err)

	assert.Empty(t, parsed.MessageID)
}
