package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/homedav/internal/access"
	"github.com/homedav/internal/models"
)

func handleAccessRequest(accessService *access.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CreateAccessRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		created, err := accessService.CreateRequest(req.DeviceName, req.Fingerprint, c.Request.UserAgent(), c.ClientIP())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"request_id": created.ID,
			"status":     created.Status,
		})
	}
}

func handleAccessStatus(accessService *access.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Query("request_id")
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "request_id is required"})
			return
		}

		req, err := accessService.GetRequest(id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "access request not found"})
			return
		}

		resp := gin.H{
			"request_id": req.ID,
			"status":     req.Status,
		}
		if req.Status == models.RequestApproved {
			resp["session_token"] = req.SessionToken
		}
		c.JSON(http.StatusOK, resp)
	}
}

func handleApproveAccess(accessService *access.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.AccessDecisionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		approval, err := accessService.Approve(req.RequestID)
		if err != nil {
			if err == access.ErrRequestNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "access request not found"})
				return
			}
			if err == access.ErrNotPending {
				c.JSON(http.StatusConflict, gin.H{"error": "access request is not pending"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to approve request"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":        approval.Request.Status,
			"session_token": approval.SessionToken,
			"expires_at":    approval.ExpiresAt,
		})
	}
}

func handleDenyAccess(accessService *access.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.AccessDecisionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		denied, err := accessService.Deny(req.RequestID)
		if err != nil {
			if err == access.ErrRequestNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "access request not found"})
				return
			}
			if err == access.ErrNotPending {
				c.JSON(http.StatusConflict, gin.H{"error": "access request is not pending"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deny request"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": denied.Status})
	}
}

func handlePendingRequests(accessService *access.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"requests": accessService.GetPending()})
	}
}

func handleListDevices(accessService *access.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"devices": accessService.ListApprovedDevices()})
	}
}

func handleRemoveDevice(accessService *access.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.RemoveDeviceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		removed := accessService.RemoveApprovedDevice(req.Fingerprint)
		c.JSON(http.StatusOK, gin.H{"removed": removed})
	}
}
