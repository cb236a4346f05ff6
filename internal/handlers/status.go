package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/webrtc-camera/internal/loop"
	"github.com/mossy-p/webrtc-camera/internal/models"
)

const requestTimeout = 5 * time.Second

// Camera is what the status API needs from the running camera
type Camera interface {
	Snapshot(ctx context.Context) (models.CameraStatus, error)
	HangUp(ctx context.Context, peerID string) (bool, error)
}

// GetStatus returns the connection state, call state and every session
func GetStatus(cam Camera) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		status, err := cam.Snapshot(ctx)
		if err != nil {
			c.JSON(errorStatus(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, status)
	}
}

// HangUpSession ends the call with one peer (requires authentication)
func HangUpSession(cam Camera) gin.HandlerFunc {
	return func(c *gin.Context) {
		peerID := c.Param("peerId")
		if peerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "peerId is required"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
		defer cancel()

		removed, err := cam.HangUp(ctx, peerID)
		if err != nil {
			c.JSON(errorStatus(err), gin.H{"error": err.Error()})
			return
		}
		if !removed {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}

		c.JSON(http.StatusOK, models.HangUpResponse{Identifier: peerID, Removed: true})
	}
}

// errorStatus maps a stopped camera to 503 and anything else to 500
func errorStatus(err error) int {
	if errors.Is(err, loop.ErrStopped) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
