package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	mailsync_errors "github.com/vexmail/mailsync/errors"
	"github.com/vexmail/mailsync/internal/enum"
	"github.com/vexmail/mailsync/internal/tracing"
	"github.com/vexmail/mailsync/services/events"
)

type subscribeRequest struct {
	Categories []string `json:"categories"`
}

const (
	defaultPollWait = 25 * time.Second
	maxPollWait     = 60 * time.Second
)

// Subscribe registers a long-poll consumer and returns its id. An optional
// body lists the event categories to receive; an empty body subscribes to all
// of them.
func Subscribe(bus *events.EventBus) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "Subscribe", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		var request subscribeRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&request); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
				return
			}
		}

		categories := make([]enum.EventCategory, 0, len(request.Categories))
		for _, raw := range request.Categories {
			category := enum.DecodeEventCategory(raw)
			if category == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event category: " + raw})
				return
			}
			categories = append(categories, category)
		}

		subscriberID := bus.Subscribe(ctx, categories...)
		c.JSON(http.StatusCreated, gin.H{"subscriberId": subscriberID})
	}
}

// Unsubscribe drops a long-poll consumer and its queued events.
func Unsubscribe(bus *events.EventBus) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "Unsubscribe", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		if err := bus.Unsubscribe(ctx, c.Param("id")); err != nil {
			if errors.Is(err, mailsync_errors.ErrSubscriberNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "unsubscribed"})
	}
}

// PollEvents blocks until the subscriber has events or the wait expires.
func PollEvents(bus *events.EventBus) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "PollEvents", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		wait := defaultPollWait
		if raw := c.Query("waitSec"); raw != "" {
			seconds, err := strconv.Atoi(raw)
			if err != nil || seconds < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "waitSec must be a non-negative integer"})
				return
			}
			wait = time.Duration(seconds) * time.Second
			if wait > maxPollWait {
				wait = maxPollWait
			}
		}

		received, err := bus.Poll(ctx, c.Param("id"), wait)
		if err != nil {
			if errors.Is(err, mailsync_errors.ErrSubscriberNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"events": received})
	}
}
