package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/homedav/internal/tunnel"
)

func handleTunnelStart(supervisor *tunnel.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := supervisor.Start()
		if err != nil {
			if errors.Is(err, tunnel.ErrBinaryUnavailable) {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"error":  err.Error(),
					"status": status,
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start tunnel", "status": status})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func handleTunnelStop(supervisor *tunnel.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, supervisor.Stop())
	}
}

func handleTunnelStatus(supervisor *tunnel.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, supervisor.Status())
	}
}
