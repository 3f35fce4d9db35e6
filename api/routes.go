package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/vexmail/mailsync/api/handlers"
	"github.com/vexmail/mailsync/api/middleware"
	"github.com/vexmail/mailsync/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(ctx context.Context, r *gin.Engine, s *services.Services, apikey string) {
	if s == nil {
		panic("Services cannot be nil")
	}

	r.Use(gin.Recovery())

	// Health check and status endpoints (no auth needed)
	r.GET("/health", handlers.HealthCheck)
	r.GET("/status", handlers.Status(s.EmailService))

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  "X-MAILSYNC-API-KEY",
		ValidAPIKey: apikey,
	})

	// API group with version
	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	api.Use(middleware.TracingMiddleware())
	{
		emails := api.Group("/emails")
		{
			emails.GET("", handlers.ListEmails(s.EmailService))
			emails.GET("/:fingerprint", handlers.GetEmail(s.EmailService))
			emails.POST("/:fingerprint/actions", handlers.RequestEmailAction(s.EmailService))
		}

		attachments := api.Group("/attachments")
		{
			attachments.GET("/:id/download", handlers.DownloadAttachment(s.EmailService))
		}

		events := api.Group("/events")
		{
			events.POST("/subscribe", handlers.Subscribe(s.EventBus))
			events.DELETE("/subscribe/:id", handlers.Unsubscribe(s.EventBus))
			events.GET("/poll/:id", handlers.PollEvents(s.EventBus))
		}

		api.POST("/sync", handlers.TriggerSync(s.EmailService))
	}
}
