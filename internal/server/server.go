// Package server assembles the gin engine: middleware, health endpoint,
// server-level handlers and every module's routes.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mantonx/chunkstream/internal/config"
	"github.com/mantonx/chunkstream/internal/logger"
	"github.com/mantonx/chunkstream/internal/middleware"
	"github.com/mantonx/chunkstream/internal/modules/modulemanager"
	"github.com/mantonx/chunkstream/internal/server/handlers"
)

// SetupRouter builds the HTTP router with all routes registered.
func SetupRouter(cfg *config.Config) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger.Named("http")))
	if cfg.Server.EnableCORS {
		router.Use(middleware.CORS())
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/api/system/status", handlers.SystemStatus)
	router.GET("/api/events/ws", handlers.EventsWebSocket)

	modulemanager.RegisterAllRoutes(router)

	return router
}
