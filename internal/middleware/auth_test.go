package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homedav/internal/access"
)

func newAccessService(t *testing.T) *access.Service {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	svc, err := access.NewService(filepath.Join(t.TempDir(), "access.json"), 10*time.Minute, time.Hour, log)
	require.NoError(t, err)
	return svc
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback("127.0.0.1:54321"))
	assert.True(t, isLoopback("[::1]:54321"))
	assert.False(t, isLoopback("192.168.1.9:54321"))
	assert.False(t, isLoopback("not-an-addr"))
}

func TestOwnerOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/x", OwnerOnly(), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "192.168.1.9:1234"
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDeviceAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newAccessService(t)

	reqModel, err := svc.CreateRequest("phone", "fp-1", "ua", "ip")
	require.NoError(t, err)
	approval, err := svc.Approve(reqModel.ID)
	require.NoError(t, err)

	engine := gin.New()
	engine.GET("/x", DeviceAuth(svc), func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(remote, fingerprint, token string) int {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = remote
		if fingerprint != "" {
			req.Header.Set("X-Device-Fingerprint", fingerprint)
		}
		if token != "" {
			req.Header.Set("X-Session-Token", token)
		}
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		return w.Code
	}

	// Owner over loopback needs no credentials.
	assert.Equal(t, http.StatusOK, send("127.0.0.1:1", "", ""))

	// Remote device with valid session.
	assert.Equal(t, http.StatusOK, send("192.168.1.9:1", "fp-1", approval.SessionToken))

	// Missing credentials, bad token, wrong device.
	assert.Equal(t, http.StatusUnauthorized, send("192.168.1.9:1", "", ""))
	assert.Equal(t, http.StatusUnauthorized, send("192.168.1.9:1", "fp-1", "bogus"))
	assert.Equal(t, http.StatusUnauthorized, send("192.168.1.9:1", "fp-other", approval.SessionToken))
}

func TestDeviceAuthQueryToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newAccessService(t)

	reqModel, err := svc.CreateRequest("phone", "fp-1", "ua", "ip")
	require.NoError(t, err)
	approval, err := svc.Approve(reqModel.ID)
	require.NoError(t, err)

	engine := gin.New()
	engine.GET("/x", DeviceAuth(svc), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x?token="+approval.SessionToken, nil)
	req.RemoteAddr = "192.168.1.9:1"
	req.Header.Set("X-Device-Fingerprint", "fp-1")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
