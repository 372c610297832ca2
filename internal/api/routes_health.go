package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/liveclass/internal/app"
	"github.com/charlesng35/liveclass/internal/monitoring"
)

const serviceName = "liveclass"

type healthProbe func(*monitoring.HealthManager, context.Context) monitoring.HealthReport

// registerHealthRoutes mounts the probes at the root and under /api, outside bearer auth.
// With health disabled every probe answers 404 so orchestrators notice the misconfiguration.
func registerHealthRoutes(r *gin.Engine, cfg *app.Config, mon *monitoring.Module) {
	var manager *monitoring.HealthManager
	if cfg != nil && cfg.Monitoring.Health.Enabled && mon != nil {
		manager = mon.Health()
	}

	for _, group := range []gin.IRouter{r, r.Group("/api")} {
		group.GET("/health", healthHandler(manager, (*monitoring.HealthManager).EvaluateReadiness, false))
		group.GET("/health/live", healthHandler(manager, (*monitoring.HealthManager).EvaluateLiveness, true))
		group.GET("/health/ready", healthHandler(manager, (*monitoring.HealthManager).EvaluateReadiness, true))
	}
}

func healthHandler(manager *monitoring.HealthManager, probe healthProbe, withChecks bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if manager == nil {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "status": "disabled", "service": serviceName})
			return
		}

		report := probe(manager, c.Request.Context())
		status := http.StatusOK
		if !report.Success {
			status = http.StatusServiceUnavailable
		}
		body := gin.H{
			"success":    report.Success,
			"status":     report.Status,
			"service":    serviceName,
			"checked_at": time.Now().UTC(),
		}
		if withChecks {
			body["checks"] = report.Checks
		}
		c.JSON(status, body)
	}
}
