package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/homedav/internal/access"
	"github.com/homedav/internal/config"
	"github.com/homedav/internal/dav"
	"github.com/homedav/internal/discovery"
	"github.com/homedav/internal/history"
	"github.com/homedav/internal/middleware"
	"github.com/homedav/internal/share"
	"github.com/homedav/internal/store"
	"github.com/homedav/internal/tunnel"
)

const version = "1"

// identity is this host's stable device identity, generated on first
// boot and persisted under the data dir.
type identity struct {
	DeviceID    string `json:"device_id"`
	DisplayName string `json:"display_name"`
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup logger
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	// Prepare directories
	if err := os.MkdirAll(cfg.App.DataDir, 0o700); err != nil {
		logger.Fatalf("Failed to create data dir: %v", err)
	}
	if err := os.MkdirAll(cfg.App.RootDir, 0o700); err != nil {
		logger.Fatalf("Failed to create storage root: %v", err)
	}

	ident, err := loadIdentity(cfg)
	if err != nil {
		logger.Fatalf("Failed to load device identity: %v", err)
	}
	logger.WithFields(logrus.Fields{
		"device_id":    ident.DeviceID,
		"display_name": ident.DisplayName,
	}).Info("device identity loaded")

	// Initialize services
	shareService, err := share.NewService(cfg.App.RootDir, cfg.StorePath("shares.json"), cfg.Share.DefaultTTL, logger)
	if err != nil {
		logger.Fatalf("Failed to create share service: %v", err)
	}
	shareService.StartSweeper(cfg.Share.SweepInterval)
	defer shareService.Stop()
	logger.Info("share service initialized")

	accessService, err := access.NewService(cfg.StorePath("access.json"), cfg.Access.PendingTTL, cfg.Access.SessionTTL, logger)
	if err != nil {
		logger.Fatalf("Failed to create access service: %v", err)
	}
	logger.Info("access service initialized")

	historyStore, err := history.NewStore(cfg.StorePath("history.db"), logger)
	if err != nil {
		logger.Fatalf("Failed to open history store: %v", err)
	}
	defer historyStore.Close()

	manager := discovery.NewManager(discovery.Config{
		Service:        cfg.Discovery.Service,
		Domain:         cfg.Discovery.Domain,
		DeviceID:       ident.DeviceID,
		DisplayName:    ident.DisplayName,
		Version:        version,
		Port:           listenPort(cfg.Server.Address),
		LivenessWindow: cfg.Discovery.LivenessWindow,
		SweepInterval:  cfg.Discovery.SweepInterval,
	}, logger)
	if cfg.Discovery.Enabled {
		if err := manager.StartAdvertise(); err != nil {
			logger.WithError(err).Warn("presence advertisement unavailable")
		}
		if err := manager.StartBrowse(); err != nil {
			logger.WithError(err).Warn("peer browsing unavailable")
		}
		manager.StartSweeper()
	}
	defer manager.Stop()

	supervisor := tunnel.New(tunnel.Config{
		Binary:         cfg.Tunnel.Binary,
		Args:           cfg.Tunnel.Args,
		StartupTimeout: cfg.Tunnel.StartupTimeout,
		ProbeTimeout:   cfg.Tunnel.ProbeTimeout,
		BackoffBase:    cfg.Tunnel.BackoffBase,
		BackoffMax:     cfg.Tunnel.BackoffMax,
		RestartCap:     cfg.Tunnel.RestartCap,
		RestartWindow:  cfg.Tunnel.RestartWindow,
	}, logger)
	defer supervisor.Stop()

	davRouter := dav.NewRouter(shareService, logger)

	// Setup Gin
	gin.SetMode(cfg.GINMode())
	router := gin.New()

	// Global middleware
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.CORSMiddleware())

	// Health check
	startedAt := time.Now()
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"device_id":      ident.DeviceID,
			"display_name":   ident.DisplayName,
			"version":        version,
			"lan_ip":         discovery.LanIP(),
			"port":           listenPort(cfg.Server.Address),
			"uptime_s":       int64(time.Since(startedAt).Seconds()),
			"sharing_paused": shareService.Paused(),
		})
	})

	// Owner API
	api := router.Group("/api")
	api.Use(middleware.OwnerOnly())
	{
		api.POST("/shares", handleCreateShare(shareService))
		api.GET("/shares", handleListShares(shareService))
		api.DELETE("/shares/:id", handleRevokeShare(shareService, davRouter))
		api.POST("/shares/revoke", handleRevokeManyShares(shareService, davRouter))
		api.POST("/shares/revoke-all", handleRevokeAllShares(shareService, davRouter))
		api.POST("/sharing/pause", handlePauseSharing(shareService))
		api.POST("/sharing/resume", handleResumeSharing(shareService))
		api.GET("/share-activity", handleShareActivity(historyStore))
	}

	// Device pairing
	accessGroup := router.Group("/access")
	{
		accessGroup.POST("/request", handleAccessRequest(accessService))
		accessGroup.GET("/status", handleAccessStatus(accessService))
		accessGroup.GET("/pending", middleware.OwnerOnly(), handlePendingRequests(accessService))
		accessGroup.POST("/approve", middleware.OwnerOnly(), handleApproveAccess(accessService))
		accessGroup.POST("/deny", middleware.OwnerOnly(), handleDenyAccess(accessService))
		accessGroup.GET("/devices", middleware.OwnerOnly(), handleListDevices(accessService))
		accessGroup.POST("/devices/remove", middleware.OwnerOnly(), handleRemoveDevice(accessService))
	}

	// Peer discovery
	networkGroup := router.Group("/network")
	networkGroup.Use(middleware.OwnerOnly())
	{
		networkGroup.GET("", handleNetwork(manager, ident))
		networkGroup.POST("/manual-connect", handleManualConnect(manager))
	}

	// Public tunnel
	tunnelGroup := router.Group("/public-access")
	{
		tunnelGroup.POST("/start", middleware.OwnerOnly(), handleTunnelStart(supervisor))
		tunnelGroup.POST("/stop", middleware.OwnerOnly(), handleTunnelStop(supervisor))
		tunnelGroup.GET("/status", handleTunnelStatus(supervisor))
	}

	// Guest share surface
	guest := router.Group("/share/:id")
	{
		guest.GET("/meta", handleShareMeta(shareService, historyStore))
		guest.GET("/files", handleShareFiles(shareService, historyStore))
		guest.GET("/download", handleShareDownload(shareService, historyStore))
		guest.GET("/download.zip", handleShareZip(shareService, historyStore))
		guest.GET("/preview", handleSharePreview(shareService, historyStore))
	}

	// Protocol mounts: owner full-access endpoint and per-share scoped
	// endpoints. Gin needs each WebDAV verb registered explicitly.
	deviceAuth := middleware.DeviceAuth(accessService)
	for _, m := range dav.Methods {
		router.Handle(m, dav.OwnerPrefix, deviceAuth, davRouter.ServeOwner)
		router.Handle(m, dav.OwnerPrefix+"/*path", deviceAuth, davRouter.ServeOwner)
		router.Handle(m, share.MountPrefix+"/:id", davRouter.ServeShare)
		router.Handle(m, share.MountPrefix+"/:id/*path", davRouter.ServeShare)
	}

	// Setup HTTP server
	srv := &http.Server{
		Addr:           cfg.Server.Address,
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	// Graceful shutdown
	go func() {
		logger.Infof("Starting server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

// loadIdentity reads the persisted device identity, creating one on
// first boot. The display name follows config changes.
func loadIdentity(cfg *config.Config) (identity, error) {
	path := cfg.StorePath("device.json")

	var ident identity
	if err := store.Load(path, &ident); err != nil {
		return identity{}, err
	}

	dirty := false
	if ident.DeviceID == "" {
		ident.DeviceID = uuid.New().String()
		dirty = true
	}
	if cfg.App.DisplayName != "" && ident.DisplayName != cfg.App.DisplayName {
		ident.DisplayName = cfg.App.DisplayName
		dirty = true
	}
	if dirty {
		if err := store.Save(path, &ident); err != nil {
			return identity{}, err
		}
	}
	return ident, nil
}

// listenPort extracts the numeric port from a listen address.
func listenPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}
