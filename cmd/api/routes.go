package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"outdial-platform/internal/httpapi"
	"outdial-platform/internal/metrics"
	"outdial-platform/internal/rbac"
	"outdial-platform/internal/telephony"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDeps struct {
	AuthMW  gin.HandlerFunc
	API     httpapi.Handlers
	Webhook telephony.WebhookHandler
	Answer  telephony.AnswerHandler
	Metrics *metrics.Metrics
	DB      *sql.DB
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic; handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if d.DB != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := d.DB.PingContext(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Metrics.Registry(), promhttp.HandlerOpts{})))

	// Provider webhooks (public by necessity; validated at the parser).
	r.POST("/webhooks/twilio/status", d.Webhook.HandleStatusCallback)
	r.POST("/webhooks/twilio/answer", d.Answer.HandleAnswer)

	v1 := r.Group("/v1")
	v1.POST("/auth/login", d.API.Login)

	protected := v1.Group("")
	protected.Use(d.AuthMW, rbac.RequireWorkspace())
	{
		campaignsGroup := protected.Group("/campaigns")

		// reads: any known role
		campaignsGroup.GET("/:campaign_id",
			rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleViewer), d.API.GetCampaign)
		campaignsGroup.GET("/:campaign_id/calls",
			rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleViewer), d.API.ListCampaignCalls)

		// writes: operators and admins
		opOnly := rbac.RequireAnyRole(rbac.RoleOperator)
		campaignsGroup.POST("", opOnly, d.API.CreateCampaign)
		campaignsGroup.POST("/:campaign_id/start", opOnly, d.API.StartCampaign())
		campaignsGroup.POST("/:campaign_id/pause", opOnly, d.API.PauseCampaign())
		campaignsGroup.POST("/:campaign_id/resume", opOnly, d.API.ResumeCampaign())
		campaignsGroup.POST("/:campaign_id/stop", opOnly, d.API.StopCampaign())

		protected.GET("/events",
			rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleViewer), d.API.StreamEvents)
	}
}
