package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	mailsync_errors "github.com/vexmail/mailsync/errors"
	"github.com/vexmail/mailsync/interfaces"
	"github.com/vexmail/mailsync/internal/enum"
	"github.com/vexmail/mailsync/internal/tracing"
	"github.com/vexmail/mailsync/services/email"
)

const defaultPageSize = 50

// ListEmails returns a page of the local replica, newest first.
func ListEmails(emailService *email.EmailService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ListEmails", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		filter := interfaces.EmailFilter{
			Folder:         c.Query("folder"),
			UnreadOnly:     c.Query("unread") == "true",
			StarredOnly:    c.Query("starred") == "true",
			IncludeDeleted: c.Query("includeDeleted") == "true",
			Limit:          queryInt(c, "limit", defaultPageSize),
			Offset:         queryInt(c, "offset", 0),
		}

		emails, total, err := emailService.GetPage(ctx, filter)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"emails": emails,
			"total":  total,
			"limit":  filter.Limit,
			"offset": filter.Offset,
		})
	}
}

// GetEmail returns one email with its attachment metadata.
func GetEmail(emailService *email.EmailService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "GetEmail", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		detail, err := emailService.GetDetail(ctx, c.Param("fingerprint"))
		if err != nil {
			if errors.Is(err, mailsync_errors.ErrEmailNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, detail)
	}
}

type emailActionRequest struct {
	Kind string `json:"kind" binding:"required"`
}

// RequestEmailAction applies a mutation locally and queues the remote replay.
func RequestEmailAction(emailService *email.EmailService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "RequestEmailAction", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		var request emailActionRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		kind := enum.DecodeOperationKind(request.Kind)
		if kind == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": mailsync_errors.ErrUnknownOperationKind.Error()})
			return
		}

		operation, err := emailService.RequestMutation(ctx, c.Param("fingerprint"), kind)
		if err != nil {
			if errors.Is(err, mailsync_errors.ErrEmailNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, operation)
	}
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
