package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	mailsync_errors "github.com/vexmail/mailsync/errors"
	"github.com/vexmail/mailsync/internal/tracing"
	"github.com/vexmail/mailsync/services/email"
)

// DownloadAttachment streams an attachment payload from object storage.
func DownloadAttachment(emailService *email.EmailService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DownloadAttachment", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		attachment, data, err := emailService.DownloadAttachment(ctx, c.Param("id"))
		if err != nil {
			if errors.Is(err, mailsync_errors.ErrAttachmentNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		contentType := attachment.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Header("Content-Disposition", `attachment; filename="`+attachment.Filename+`"`)
		c.Data(http.StatusOK, contentType, data)
	}
}
