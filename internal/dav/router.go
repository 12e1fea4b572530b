package dav

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/webdav"

	"github.com/homedav/internal/models"
	"github.com/homedav/internal/share"
)

// OwnerPrefix is the mount point of the owner's full-access endpoint.
const OwnerPrefix = "/dav"

// Methods is the set of verbs a WebDAV mount answers. Gin has no
// catch-all for extension methods, so routes register each explicitly.
var Methods = []string{
	"OPTIONS", "GET", "HEAD", "POST", "PUT", "DELETE",
	"PROPFIND", "PROPPATCH", "MKCOL", "COPY", "MOVE", "LOCK", "UNLOCK",
}

// writeMethods are rejected on read-only mounts before dispatch.
var writeMethods = map[string]bool{
	"POST": true, "PUT": true, "DELETE": true, "PROPPATCH": true,
	"MKCOL": true, "COPY": true, "MOVE": true, "LOCK": true, "UNLOCK": true,
}

// Router dispatches requests between the owner's long-lived full-access
// endpoint and lazily-built scoped endpoints, one per active share.
// Scoped endpoints are cached by share id and evicted when the share
// stops resolving; ids are never reused, so a stale endpoint cannot
// silently regain validity.
type Router struct {
	shares *share.Service
	log    *logrus.Logger

	owner *webdav.Handler

	mu     sync.Mutex
	mounts map[string]*mount
}

type mount struct {
	handler  *webdav.Handler
	readOnly bool
}

// NewRouter builds the owner endpoint over the share service's root and
// an empty scoped-endpoint cache.
func NewRouter(shares *share.Service, log *logrus.Logger) *Router {
	return &Router{
		shares: shares,
		log:    log,
		owner: &webdav.Handler{
			Prefix:     OwnerPrefix,
			FileSystem: DirFS(shares.Root()),
			LockSystem: webdav.NewMemLS(),
		},
		mounts: make(map[string]*mount),
	}
}

// ServeOwner handles a request on the owner mount with full rights.
func (r *Router) ServeOwner(c *gin.Context) {
	r.owner.ServeHTTP(c.Writer, c.Request)
}

// ServeShare resolves the share id in the path and dispatches to its
// scoped endpoint. The pause gate, lazy expiry and password check all
// happen inside the share service's Resolve.
func (r *Router) ServeShare(c *gin.Context) {
	id := c.Param("id")
	password := c.GetHeader("X-Share-Password")
	if password == "" {
		password = c.Query("password")
	}

	sh, err := r.shares.Resolve(id, password)
	if err != nil {
		r.Evict(id)
		switch err {
		case share.ErrPaused:
			c.JSON(http.StatusLocked, gin.H{"error": "sharing is paused"})
		case share.ErrRevoked:
			c.JSON(http.StatusGone, gin.H{"error": "share no longer available"})
		case share.ErrBadPassword:
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid share password"})
		default:
			c.JSON(http.StatusNotFound, gin.H{"error": "share not found"})
		}
		return
	}

	m := r.mountFor(sh)
	if m.readOnly && writeMethods[c.Request.Method] {
		c.JSON(http.StatusForbidden, gin.H{"error": "share is read-only"})
		return
	}
	m.handler.ServeHTTP(c.Writer, c.Request)
}

// mountFor returns the cached scoped endpoint for the share, building
// it on first use.
func (r *Router) mountFor(sh *models.Share) *mount {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.mounts[sh.ID]; ok {
		return m
	}

	var fs webdav.FileSystem
	if sh.TargetType == models.TargetFolder {
		fs = DirFS(sh.TargetPath)
	} else {
		fs = FileFS(sh.TargetPath)
	}
	m := &mount{
		handler: &webdav.Handler{
			Prefix:     share.MountPrefix + "/" + sh.ID,
			FileSystem: fs,
			LockSystem: webdav.NewMemLS(),
		},
		readOnly: sh.Permission != models.PermissionReadWrite,
	}
	r.mounts[sh.ID] = m

	r.log.WithFields(logrus.Fields{
		"share_id":  sh.ID,
		"target":    sh.TargetPath,
		"read_only": m.readOnly,
	}).Debug("scoped endpoint mounted")
	return m
}

// Evict drops the cached scoped endpoint for a share id.
func (r *Router) Evict(id string) {
	r.mu.Lock()
	delete(r.mounts, id)
	r.mu.Unlock()
}

// EvictAll clears the scoped endpoint cache, used after bulk revokes.
func (r *Router) EvictAll() {
	r.mu.Lock()
	r.mounts = make(map[string]*mount)
	r.mu.Unlock()
}
