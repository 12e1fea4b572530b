package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homedav/internal/tunnel"
)

func newTunnelRig(t *testing.T, cfg tunnel.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logrus.New()
	log.SetOutput(io.Discard)

	supervisor := tunnel.New(cfg, log)
	t.Cleanup(func() { supervisor.Stop() })

	engine := gin.New()
	engine.POST("/public-access/start", handleTunnelStart(supervisor))
	engine.POST("/public-access/stop", handleTunnelStop(supervisor))
	engine.GET("/public-access/status", handleTunnelStatus(supervisor))
	return engine
}

func TestTunnelStatusEndpoint(t *testing.T) {
	engine := newTunnelRig(t, tunnel.Config{Binary: "sh"})

	req := httptest.NewRequest(http.MethodGet, "/public-access/status", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var status struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "stopped", status.Status)
}

func TestTunnelStartMissingBinary(t *testing.T) {
	engine := newTunnelRig(t, tunnel.Config{Binary: "definitely-not-a-real-binary-xyz"})

	req := httptest.NewRequest(http.MethodPost, "/public-access/start", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "failed")
}

func TestTunnelStartStopEndpoints(t *testing.T) {
	engine := newTunnelRig(t, tunnel.Config{
		Binary:         "sh",
		Args:           []string{"-c", "sleep 30"},
		StartupTimeout: time.Minute,
	})

	req := httptest.NewRequest(http.MethodPost, "/public-access/start", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "starting")

	req = httptest.NewRequest(http.MethodPost, "/public-access/stop", nil)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "stopped")
}
