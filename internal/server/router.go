package server

import (
  "github.com/gin-contrib/cors"
  "github.com/gin-gonic/gin"
  "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

  "github.com/yungbote/callbridge-backend/internal/handlers"
)

type RouterConfig struct {
  QueueHandler *handlers.QueueHandler
  CallsHandler *handlers.CallsHandler
  CacheHandler *handlers.CacheHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
  router := gin.Default()

  router.Use(otelgin.Middleware("callbridge"))

  router.Use(cors.New(cors.Config{
    AllowOrigins: []string{
      "http://localhost:80",
      "http://localhost:3000",
    },
    AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
    AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
    AllowCredentials: true,
  }))

  router.GET("/healthcheck", handlers.HealthCheck)

  api := router.Group("/api")
  {
    api.GET("/queue/counts", cfg.QueueHandler.Counts)
    api.GET("/queue/repeatable", cfg.QueueHandler.Repeatable)
    api.POST("/queue/sync-now", cfg.QueueHandler.SyncNow)

    api.GET("/calls/:id", cfg.CallsHandler.GetCall)
    api.GET("/calls/:id/logs", cfg.CallsHandler.GetCallLogs)
    api.POST("/calls/link", cfg.CallsHandler.LinkCalls)
    api.POST("/calls/:id/unlink", cfg.CallsHandler.UnlinkCall)

    api.GET("/cache/keys", cfg.CacheHandler.Keys)
  }

  return router
}
