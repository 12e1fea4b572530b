package share

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/homedav/internal/fsutil"
	"github.com/homedav/internal/models"
	"github.com/homedav/internal/store"
	"github.com/homedav/internal/token"
)

// MountPrefix is the URL prefix under which scoped share endpoints are
// served. List/create responses build share URLs from it.
const MountPrefix = "/d"

// Service owns the share records, their expiry, and their persistence.
// Every mutation is serialized to one JSON document with atomic
// write-replace.
type Service struct {
	log        *logrus.Logger
	root       string
	storePath  string
	defaultTTL time.Duration
	now        func() time.Time

	mu     sync.Mutex
	shares map[string]*models.Share
	paused bool

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// document is the persisted on-disk shape of the share store.
type document struct {
	Shares []*models.Share `json:"shares"`
	Paused bool            `json:"paused"`
}

// NewService loads the share store from disk. Records missing a target
// type (older documents) are backfilled by re-statting their path,
// soft-failing to file.
func NewService(root, storePath string, defaultTTL time.Duration, log *logrus.Logger) (*Service, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var doc document
	if err := store.Load(storePath, &doc); err != nil {
		return nil, err
	}

	shares := make(map[string]*models.Share, len(doc.Shares))
	for _, sh := range doc.Shares {
		if sh.TargetType == "" {
			sh.TargetType = models.TargetFile
			if info, err := os.Stat(sh.TargetPath); err == nil && info.IsDir() {
				sh.TargetType = models.TargetFolder
			}
		}
		shares[sh.ID] = sh
	}

	return &Service{
		log:        log,
		root:       filepath.Clean(rootAbs),
		storePath:  storePath,
		defaultTTL: defaultTTL,
		now:        time.Now,
		shares:     shares,
		paused:     doc.Paused,
		stopSweep:  make(chan struct{}),
	}, nil
}

// Root returns the owner storage root the service validates against.
func (s *Service) Root() string {
	return s.root
}

// Create validates the target path against the owner root (resolving
// symlinks), determines the target type, normalizes permission and
// scope, and persists the new share. The containment check runs once,
// here: a share survives its target moving, access just starts failing.
func (s *Service) Create(req *models.CreateShareRequest) (*models.Share, error) {
	target, err := s.resolveTarget(req.Path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(target)
	if err != nil {
		return nil, ErrTargetMissing
	}
	targetType := models.TargetFile
	if info.IsDir() {
		targetType = models.TargetFolder
	}

	now := s.now()
	expires := now.Add(s.defaultTTL)
	if req.ExpiresAt != nil {
		expires = time.UnixMilli(*req.ExpiresAt)
	} else if req.TTLMs > 0 {
		expires = now.Add(time.Duration(req.TTLMs) * time.Millisecond)
	}

	name := req.Name
	if name == "" {
		name = filepath.Base(target)
	}

	sh := &models.Share{
		ID:         token.New(token.ShareBytes),
		Name:       name,
		TargetPath: target,
		TargetType: targetType,
		Permission: token.NormalizePermission(req.Permission),
		Scope:      token.NormalizeScope(req.Scope),
		CreatedAt:  now,
		ExpiresAt:  expires,
	}

	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		sh.PasswordHash = string(hash)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.shares[sh.ID] = sh
	if err := s.persistLocked(); err != nil {
		delete(s.shares, sh.ID)
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"share_id":   sh.ID,
		"target":     sh.TargetPath,
		"permission": sh.Permission,
		"scope":      sh.Scope,
		"expires_at": sh.ExpiresAt,
	}).Info("share created")

	out := *sh
	return &out, nil
}

// Get returns the share only while it is active. A share found past its
// expiry is flipped to revoked and persisted before the not-found is
// reported, so no caller ever observes a logically-expired share as
// available even if the periodic sweep has not run yet.
func (s *Service) Get(id string) (*models.Share, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shares[id]
	if !ok {
		return nil, ErrNotFound
	}
	if sh.Revoked {
		return nil, ErrRevoked
	}
	if !sh.ExpiresAt.After(s.now()) {
		sh.Revoked = true
		if err := s.persistLocked(); err != nil {
			s.log.WithError(err).Warn("persist lazy share expiry")
		}
		return nil, ErrRevoked
	}

	out := *sh
	return &out, nil
}

// Resolve is the single guest-facing gate: the global pause flag is
// evaluated first, then the share lookup, then the optional password.
func (s *Service) Resolve(id, password string) (*models.Share, error) {
	if s.Paused() {
		return nil, ErrPaused
	}
	sh, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if sh.PasswordHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(sh.PasswordHash), []byte(password)) != nil {
			return nil, ErrBadPassword
		}
	}
	return sh, nil
}

// Revoke flips the share to revoked. It reports true only for the
// active-to-revoked transition, repeated calls are no-ops.
func (s *Service) Revoke(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revokeLocked(id, true)
}

// RevokeMany revokes the given ids and returns how many transitioned.
func (s *Service) RevokeMany(ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, id := range ids {
		if s.revokeLocked(id, false) {
			count++
		}
	}
	if count > 0 {
		if err := s.persistLocked(); err != nil {
			s.log.WithError(err).Warn("persist revoke-many")
		}
	}
	return count
}

// RevokeAll revokes every active share and returns the count.
func (s *Service) RevokeAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id := range s.shares {
		if s.revokeLocked(id, false) {
			count++
		}
	}
	if count > 0 {
		if err := s.persistLocked(); err != nil {
			s.log.WithError(err).Warn("persist revoke-all")
		}
	}
	return count
}

func (s *Service) revokeLocked(id string, persist bool) bool {
	sh, ok := s.shares[id]
	if !ok || sh.Revoked {
		return false
	}
	// Revoking an already-expired share is terminal housekeeping, only
	// the active->revoked transition counts.
	wasActive := sh.ExpiresAt.After(s.now())
	sh.Revoked = true
	if persist {
		if err := s.persistLocked(); err != nil {
			s.log.WithError(err).Warn("persist revoke")
		}
	}
	if wasActive {
		s.log.WithField("share_id", id).Info("share revoked")
	}
	return wasActive
}

// List returns every record annotated with its derived status, newest
// first. URLs are only populated for active shares.
func (s *Service) List() []models.ShareView {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]models.ShareView, 0, len(s.shares))
	for _, sh := range s.shares {
		view := models.ShareView{
			ID:          sh.ID,
			Name:        sh.Name,
			TargetPath:  sh.TargetPath,
			TargetType:  sh.TargetType,
			Permission:  sh.Permission,
			Scope:       sh.Scope,
			HasPassword: sh.PasswordHash != "",
			CreatedAt:   sh.CreatedAt,
			ExpiresAt:   sh.ExpiresAt,
			Status:      sh.Status(now),
		}
		if view.Status == models.ShareActive {
			url := MountPrefix + "/" + sh.ID
			view.URL = &url
		}
		out = append(out, view)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Pause disables all guest share access until Resume.
func (s *Service) Pause() {
	s.setPaused(true)
}

// Resume re-enables guest share access.
func (s *Service) Resume() {
	s.setPaused(false)
}

// Paused reports the global pause flag.
func (s *Service) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Service) setPaused(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused == v {
		return
	}
	s.paused = v
	if err := s.persistLocked(); err != nil {
		s.log.WithError(err).Warn("persist pause flag")
	}
}

// StartSweeper runs the periodic expiry sweep until Stop is called.
// Each sweep persists at most once, however many records it revokes.
func (s *Service) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.SweepExpired()
			case <-s.stopSweep:
				return
			}
		}
	}()
}

// Stop halts the periodic sweep.
func (s *Service) Stop() {
	s.sweepOnce.Do(func() { close(s.stopSweep) })
}

// SweepExpired revokes every share past its expiry and returns how many
// it flipped.
func (s *Service) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for _, sh := range s.shares {
		if !sh.Revoked && !sh.ExpiresAt.After(now) {
			sh.Revoked = true
			count++
		}
	}
	if count > 0 {
		if err := s.persistLocked(); err != nil {
			s.log.WithError(err).Warn("persist expiry sweep")
		}
		s.log.WithField("count", count).Info("expired shares revoked")
	}
	return count
}

// resolveTarget maps the requested path into the owner root, accepting
// either an absolute path inside the root or a path relative to it.
func (s *Service) resolveTarget(p string) (string, error) {
	if filepath.IsAbs(p) {
		clean := filepath.Clean(p)
		if !fsutil.Within(s.root, clean) {
			return "", fsutil.ErrPathEscape
		}
		rel, err := filepath.Rel(s.root, clean)
		if err != nil {
			return "", fsutil.ErrPathEscape
		}
		p = rel
	}
	return fsutil.Resolve(s.root, filepath.ToSlash(p))
}

func (s *Service) persistLocked() error {
	doc := document{
		Shares: make([]*models.Share, 0, len(s.shares)),
		Paused: s.paused,
	}
	for _, sh := range s.shares {
		doc.Shares = append(doc.Shares, sh)
	}
	sort.Slice(doc.Shares, func(i, j int) bool {
		return doc.Shares[i].CreatedAt.Before(doc.Shares[j].CreatedAt)
	})
	return store.Save(s.storePath, &doc)
}

// Error definitions.
var (
	ErrNotFound      = Error("share not found")
	ErrRevoked       = Error("share revoked")
	ErrPaused        = Error("sharing is paused")
	ErrTargetMissing = Error("share target does not exist")
	ErrBadPassword   = Error("invalid share password")
)

type Error string

func (e Error) Error() string {
	return string(e)
}
