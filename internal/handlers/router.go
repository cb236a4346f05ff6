package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/mossy-p/webrtc-camera/config"
	"github.com/mossy-p/webrtc-camera/internal/middleware"
)

// NewRouter builds the status API
func NewRouter(cfg *config.Config, cam Camera) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS for browser dashboards
	router.Use(middleware.OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/status", GetStatus(cam))

		// Hang up a peer (requires JWT)
		apiGroup.DELETE("/sessions/:peerId", middleware.JWTAuth(cfg.JWTSecret), HangUpSession(cam))
	}

	return router
}
