package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/homedav/internal/discovery"
	"github.com/homedav/internal/models"
)

func handleNetwork(manager *discovery.Manager, ident identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"self": gin.H{
				"device_id":    ident.DeviceID,
				"display_name": ident.DisplayName,
				"best_ip":      discovery.LanIP(),
			},
			"peers": manager.Peers(),
		})
	}
}

func handleManualConnect(manager *discovery.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ManualConnectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		peer := manager.AddManualPeer(req.DeviceID, req.DisplayName, req.IP, req.Port)
		c.JSON(http.StatusOK, gin.H{"peer": peer})
	}
}
