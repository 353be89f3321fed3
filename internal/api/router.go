package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/vigil/internal/api/handlers"
	"github.com/your-org/vigil/internal/api/ws"
	"github.com/your-org/vigil/internal/auth"
	"github.com/your-org/vigil/internal/queue"
	"github.com/your-org/vigil/internal/storage"
)

type RouterConfig struct {
	APIKey   string
	DB       *storage.PostgresStore
	MinIO    *storage.MinIOStore
	Producer *queue.Producer
	Hub      *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Events
	eventH := handlers.NewEventHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	v1.GET("/events", eventH.List)
	v1.GET("/events/:id", eventH.Get)
	v1.GET("/events/:id/frame", eventH.Frame)
	v1.POST("/events/:id/reanalyze", eventH.Reanalyze)

	// Entities
	entityH := handlers.NewEntityHandler(cfg.DB)
	v1.GET("/entities", entityH.List)
	v1.GET("/entities/:id", entityH.Get)
	v1.PATCH("/entities/:id", entityH.Update)
	v1.DELETE("/entities/:id", entityH.Delete)
	v1.GET("/entities/:id/events", entityH.Events)

	// Alert rules
	ruleH := handlers.NewRuleHandler(cfg.DB)
	v1.POST("/rules", ruleH.Create)
	v1.GET("/rules", ruleH.List)
	v1.GET("/rules/:id", ruleH.Get)
	v1.PUT("/rules/:id", ruleH.Update)
	v1.DELETE("/rules/:id", ruleH.Delete)
	v1.GET("/rules/:id/events", ruleH.Events)

	// Camera baselines and spend accounting
	v1.GET("/cameras/:id/baseline", systemH.CameraBaseline)
	v1.GET("/system/spend", systemH.Spend)

	return r
}
