package middleware

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/homedav/internal/access"
)

// isLoopback reports whether the request came in over the loopback
// interface. Owner requests are implicitly trusted only from there.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// OwnerOnly rejects requests that do not originate from the local
// loopback interface.
func OwnerOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isLoopback(c.Request.RemoteAddr) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "owner-only endpoint"})
			return
		}
		c.Set("owner", true)
		c.Next()
	}
}

// DeviceAuth admits the owner from loopback directly, and remote
// devices only with a fingerprint plus a valid session token (header or
// query parameter). The session is pinned to the fingerprint inside the
// access service.
func DeviceAuth(accessService *access.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isLoopback(c.Request.RemoteAddr) {
			c.Set("owner", true)
			c.Next()
			return
		}

		fingerprint := c.GetHeader("X-Device-Fingerprint")
		token := c.GetHeader("X-Session-Token")
		if token == "" {
			token = c.Query("token")
		}
		if fingerprint == "" || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing device credentials"})
			return
		}

		v := accessService.ValidateSession(token, fingerprint)
		if !v.Authorized {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": v.Reason})
			return
		}

		c.Set("session", v.Session)
		c.Next()
	}
}
