package main

import (
	"archive/zip"
	"bytes"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/homedav/internal/dav"
	"github.com/homedav/internal/fsutil"
	"github.com/homedav/internal/history"
	"github.com/homedav/internal/models"
	"github.com/homedav/internal/share"
)

// previewLimit caps inline previews so a guest cannot stream an
// arbitrarily large file through the preview path.
const previewLimit = 10 << 20

func handleCreateShare(shareService *share.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CreateShareRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sh, err := shareService.Create(&req)
		if err != nil {
			switch err {
			case share.ErrTargetMissing, fsutil.ErrPathEscape:
				c.JSON(http.StatusBadRequest, gin.H{"error": "path does not exist inside the storage root"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create share"})
			}
			return
		}

		c.JSON(http.StatusCreated, models.CreateShareResponse{
			ShareID:   sh.ID,
			URL:       share.MountPrefix + "/" + sh.ID,
			ExpiresAt: sh.ExpiresAt,
		})
	}
}

func handleListShares(shareService *share.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"shares": shareService.List()})
	}
}

func handleRevokeShare(shareService *share.Service, router *dav.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		revoked := shareService.Revoke(id)
		router.Evict(id)
		c.JSON(http.StatusOK, gin.H{"revoked": revoked})
	}
}

func handleRevokeManyShares(shareService *share.Service, router *dav.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.RevokeManyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		count := shareService.RevokeMany(req.ShareIDs)
		for _, id := range req.ShareIDs {
			router.Evict(id)
		}
		c.JSON(http.StatusOK, gin.H{"revoked": count})
	}
}

func handleRevokeAllShares(shareService *share.Service, router *dav.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		count := shareService.RevokeAll()
		router.EvictAll()
		c.JSON(http.StatusOK, gin.H{"revoked": count})
	}
}

func handlePauseSharing(shareService *share.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		shareService.Pause()
		c.JSON(http.StatusOK, gin.H{"paused": true})
	}
}

func handleResumeSharing(shareService *share.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		shareService.Resume()
		c.JSON(http.StatusOK, gin.H{"paused": false})
	}
}

func handleShareActivity(historyStore *history.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		entries, err := historyStore.Recent(c.Query("share_id"), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read share activity"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"activity": entries})
	}
}

// resolveGuestShare runs the guest gate for share content routes: pause
// flag first, then share resolution, then the optional password. It
// writes the error response itself and returns nil when the caller
// should stop.
func resolveGuestShare(c *gin.Context, shareService *share.Service) *models.Share {
	password := c.GetHeader("X-Share-Password")
	if password == "" {
		password = c.Query("password")
	}

	sh, err := shareService.Resolve(c.Param("id"), password)
	if err != nil {
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
		return nil
	}
	return sh
}

func handleShareMeta(shareService *share.Service, historyStore *history.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sh := resolveGuestShare(c, shareService)
		if sh == nil {
			return
		}

		info, err := os.Stat(sh.TargetPath)
		if err != nil {
			// The share outlived its target.
			c.JSON(http.StatusNotFound, gin.H{"error": "share target no longer exists"})
			return
		}

		historyStore.Record(sh.ID, c.ClientIP(), c.Request.UserAgent(), "/", "meta")
		c.JSON(http.StatusOK, gin.H{
			"name":        sh.Name,
			"target_type": sh.TargetType,
			"permission":  sh.Permission,
			"size":        info.Size(),
			"modified_at": info.ModTime(),
			"expires_at":  sh.ExpiresAt,
		})
	}
}

func handleShareFiles(shareService *share.Service, historyStore *history.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sh := resolveGuestShare(c, shareService)
		if sh == nil {
			return
		}
		if sh.TargetType != models.TargetFolder {
			c.JSON(http.StatusBadRequest, gin.H{"error": "share is not a folder"})
			return
		}

		dir, err := fsutil.Resolve(sh.TargetPath, c.Query("path"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}

		type fileEntry struct {
			Name     string `json:"name"`
			Type     string `json:"type"`
			Size     int64  `json:"size"`
			Modified int64  `json:"modified"`
		}
		files := make([]fileEntry, 0, len(entries))
		for _, e := range entries {
			info, err := e.Info()
			if err != nil {
				continue
			}
			kind := models.TargetFile
			if e.IsDir() {
				kind = models.TargetFolder
			}
			files = append(files, fileEntry{
				Name:     e.Name(),
				Type:     kind,
				Size:     info.Size(),
				Modified: info.ModTime().UnixMilli(),
			})
		}
		sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

		historyStore.Record(sh.ID, c.ClientIP(), c.Request.UserAgent(), c.Query("path"), "list")
		c.JSON(http.StatusOK, gin.H{"files": files})
	}
}

// guestFilePath maps a guest request onto a concrete file inside the
// share, re-applying the path guard for folder shares.
func guestFilePath(c *gin.Context, sh *models.Share) (string, bool) {
	if sh.TargetType == models.TargetFile {
		return sh.TargetPath, true
	}
	p, err := fsutil.Resolve(sh.TargetPath, c.Query("path"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return "", false
	}
	return p, true
}

func handleShareDownload(shareService *share.Service, historyStore *history.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sh := resolveGuestShare(c, shareService)
		if sh == nil {
			return
		}
		path, ok := guestFilePath(c, sh)
		if !ok {
			return
		}

		info, err := os.Stat(path)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		if info.IsDir() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "use download.zip for folders"})
			return
		}

		historyStore.Record(sh.ID, c.ClientIP(), c.Request.UserAgent(), c.Query("path"), "download")
		c.FileAttachment(path, filepath.Base(path))
	}
}

func handleShareZip(shareService *share.Service, historyStore *history.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sh := resolveGuestShare(c, shareService)
		if sh == nil {
			return
		}
		if sh.TargetType != models.TargetFolder {
			c.JSON(http.StatusBadRequest, gin.H{"error": "share is not a folder"})
			return
		}

		historyStore.Record(sh.ID, c.ClientIP(), c.Request.UserAgent(), "/", "download.zip")

		c.Header("Content-Type", "application/zip")
		c.Header("Content-Disposition", `attachment; filename="`+sh.Name+`.zip"`)
		c.Status(http.StatusOK)

		zw := zip.NewWriter(c.Writer)
		defer zw.Close()

		ctx := c.Request.Context()
		root := sh.TargetPath
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // skip unreadable entries
			}
			// Abort the walk when the client goes away.
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			// Symlinks could lead outside the share root.
			if d.Type()&fs.ModeSymlink != 0 {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return nil
			}
			w, err := zw.Create(filepath.ToSlash(rel))
			if err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return nil
			}
			defer f.Close()
			_, err = io.Copy(w, f)
			return err
		})
	}
}

func handleSharePreview(shareService *share.Service, historyStore *history.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sh := resolveGuestShare(c, shareService)
		if sh == nil {
			return
		}
		path, ok := guestFilePath(c, sh)
		if !ok {
			return
		}

		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		if info.Size() > previewLimit {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large to preview"})
			return
		}

		f, err := os.Open(path)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		defer f.Close()

		head := make([]byte, 512)
		n, _ := io.ReadFull(f, head)
		head = head[:n]

		historyStore.Record(sh.ID, c.ClientIP(), c.Request.UserAgent(), c.Query("path"), "preview")
		c.Header("Content-Disposition", "inline")
		c.DataFromReader(http.StatusOK, info.Size(), http.DetectContentType(head),
			io.MultiReader(bytes.NewReader(head), f), nil)
	}
}
