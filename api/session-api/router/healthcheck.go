package session_routers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/coachlyai/api/session-api/config"
	"github.com/coachlyai/pkg/commons"
	"github.com/coachlyai/pkg/connectors"
)

func HealthCheckRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger, postgres connectors.PostgresConnector) {
	logger.Info("Internal HealthCheckRoutes and Connectors added to engine.")
	apiv1 := engine.Group("")
	{
		apiv1.GET("/healthz/", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.Name, "version": cfg.Version})
		})
		apiv1.GET("/readiness/", func(c *gin.Context) {
			sqlDB, err := postgres.DB(c.Request.Context()).DB()
			if err == nil {
				err = sqlDB.PingContext(c.Request.Context())
			}
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
		})
	}
}
