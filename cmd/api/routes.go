package main

import (
	"database/sql"
	"net/http"
	"time"

	"callmerge/internal/audit"
	"callmerge/internal/auth"
	"callmerge/internal/calls"
	"callmerge/internal/events"
	"callmerge/internal/httpapi"
	"callmerge/internal/merge"
	"callmerge/internal/metrics"
	"callmerge/internal/rbac"
	"callmerge/internal/reporting"
	"callmerge/internal/telephony"
	"callmerge/pkg/utils"

	"github.com/gin-gonic/gin"
)

type deps struct {
	db           *sql.DB
	auth         *auth.Manager
	metrics      *metrics.Metrics
	events       events.Store
	records      calls.Store
	orchestrator *merge.Orchestrator
	passTimeout  time.Duration
	reports      *reporting.Service
	audit        *audit.Service
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d deps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), d.db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(d.metrics.Handler()))

	// Platform webhooks (public). Events are stored as received; merging is the pass's job.
	{
		h := telephony.WebhookHandler{Events: d.events, Observe: d.metrics.ObserveWebhook}
		r.POST("/webhooks/calls", h.HandleCallEvent)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(d.auth))
	{
		h := httpapi.Handlers{
			Merger:  d.orchestrator,
			Records: d.records,
			Reports: d.reports,
			Audit:   d.audit,

			PassTimeout: d.passTimeout,
		}

		mergeGroup := v1.Group("/merge")
		mergeGroup.Use(rbac.RequireAnyRole(rbac.RoleOperator))
		{
			mergeGroup.POST("/run", h.RunMerge)
			mergeGroup.POST("/calls/:call_id", h.ReprocessCall)
		}

		read := rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleViewer)

		callsGroup := v1.Group("/calls")
		callsGroup.Use(read)
		{
			callsGroup.GET("", h.ListCalls)
			callsGroup.GET("/:call_id", h.GetCall)
		}

		reports := v1.Group("/reports")
		reports.Use(read)
		{
			reports.GET("/summary", h.CallsSummary)
		}
	}
}
