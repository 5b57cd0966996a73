package http

import (
	"log/slog"

	"ozzus/sbe-monitor/internal/api/http/middleware"

	"github.com/gin-gonic/gin"
)

func NewRouter(log *slog.Logger, healthController *HealthController) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Logger(log), gin.Recovery())

	router.GET("/health", healthController.Health)
	router.GET("/status", healthController.Status)
	router.GET("/ready", healthController.Ready)
	router.GET("/info", healthController.Info)

	return router
}
