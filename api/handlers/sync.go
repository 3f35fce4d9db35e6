package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vexmail/mailsync/internal/tracing"
	"github.com/vexmail/mailsync/services/email"
)

// HealthCheck reports process liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status reports listener state, pool usage and unread count.
func Status(emailService *email.EmailService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "Status", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		snapshot, err := emailService.Status(ctx)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, snapshot)
	}
}

type syncRequest struct {
	Limit int `json:"limit"`
}

// TriggerSync runs one reconciliation pass and reports what it did.
func TriggerSync(emailService *email.EmailService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "TriggerSync", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		var request syncRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&request); err != nil {
				tracing.TraceErr(span, err)
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		result, err := emailService.TriggerSync(ctx, request.Limit)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, result)
	}
}
