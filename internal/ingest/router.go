package ingest

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/vigil/internal/api"
	"github.com/your-org/vigil/internal/auth"
)

// NewRouter builds the gateway's HTTP surface: the trigger intake plus the
// usual health and metrics endpoints.
func NewRouter(apiKey string, intake *Intake) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(api.LoggingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(apiKey))
	v1.POST("/triggers", intake.HandleTrigger)

	return r
}
