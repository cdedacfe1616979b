package router

import (
	"github.com/gin-gonic/gin"

	"github.com/taskforge/dispatchd/internal/api/handler"
)

// SetupRouter configures and returns the Gin router for the status server
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))

	statusHandler := handler.NewStatusHandler(deps)

	// Health check endpoint
	r.GET("/health", statusHandler.GetHealth)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// GET /api/v1/status - pool size and per-worker snapshot
		v1.GET("/status", statusHandler.GetStatus)
	}

	return r
}
