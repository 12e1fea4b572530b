package access

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/homedav/internal/models"
	"github.com/homedav/internal/store"
	"github.com/homedav/internal/token"
)

// Service owns device pairing requests, the sessions they mint, and the
// approved-device roster derived from them. All state lives in one JSON
// document; lazy cleanup at the head of every public method keeps the
// store self-bounding without a background timer.
type Service struct {
	log        *logrus.Logger
	storePath  string
	pendingTTL time.Duration
	sessionTTL time.Duration
	now        func() time.Time

	mu       sync.Mutex
	requests map[string]*models.AccessRequest
	sessions map[string]*models.Session
}

type document struct {
	Requests []*models.AccessRequest `json:"requests"`
	Sessions []*models.Session       `json:"sessions"`
}

// NewService loads the access-control store from disk.
func NewService(storePath string, pendingTTL, sessionTTL time.Duration, log *logrus.Logger) (*Service, error) {
	var doc document
	if err := store.Load(storePath, &doc); err != nil {
		return nil, err
	}

	requests := make(map[string]*models.AccessRequest, len(doc.Requests))
	for _, r := range doc.Requests {
		requests[r.ID] = r
	}
	sessions := make(map[string]*models.Session, len(doc.Sessions))
	for _, ses := range doc.Sessions {
		sessions[ses.Token] = ses
	}

	return &Service{
		log:        log,
		storePath:  storePath,
		pendingTTL: pendingTTL,
		sessionTTL: sessionTTL,
		now:        time.Now,
		requests:   requests,
		sessions:   sessions,
	}, nil
}

// CreateRequest records a new pending pairing attempt. Repeated requests
// from the same fingerprint simply add more pending entries: callers
// poll by request id.
func (s *Service) CreateRequest(deviceName, fingerprint, userAgent, ip string) (*models.AccessRequest, error) {
	if strings.TrimSpace(fingerprint) == "" {
		return nil, ErrMissingFingerprint
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()

	req := &models.AccessRequest{
		ID:          uuid.New().String(),
		DeviceName:  deviceName,
		Fingerprint: fingerprint,
		UserAgent:   userAgent,
		IP:          ip,
		CreatedAt:   s.now(),
		Status:      models.RequestPending,
	}
	s.requests[req.ID] = req
	if err := s.persistLocked(); err != nil {
		delete(s.requests, req.ID)
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"request_id":  req.ID,
		"device_name": deviceName,
		"ip":          ip,
	}).Info("pairing request created")

	out := *req
	return &out, nil
}

// GetRequest returns the request with the given id, for status polling.
func (s *Service) GetRequest(id string) (*models.AccessRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()

	req, ok := s.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	out := *req
	return &out, nil
}

// GetPending returns all pending requests, newest first.
func (s *Service) GetPending() []models.AccessRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()

	out := make([]models.AccessRequest, 0)
	for _, req := range s.requests {
		if req.Status == models.RequestPending {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Approval is the result of approving a pairing request. The session is
// persisted before Approval is returned, so a caller can never observe
// an approval without a retrievable session.
type Approval struct {
	Request      models.AccessRequest `json:"request"`
	SessionToken string               `json:"session_token"`
	ExpiresAt    time.Time            `json:"expires_at"`
}

// Approve transitions pending->approved and mints a session bound to the
// request's fingerprint. Approving a non-pending request is a no-op.
func (s *Service) Approve(id string) (*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()

	req, ok := s.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if req.Status != models.RequestPending {
		return nil, ErrNotPending
	}

	now := s.now()
	ses := &models.Session{
		Token:       token.New(token.SessionBytes),
		Fingerprint: req.Fingerprint,
		DeviceName:  req.DeviceName,
		CreatedAt:   now,
		ApprovedAt:  now,
		LastSeenAt:  now,
		ExpiresAt:   now.Add(s.sessionTTL),
	}

	req.Status = models.RequestApproved
	req.ApprovedAt = &now
	req.SessionToken = ses.Token
	s.sessions[ses.Token] = ses

	if err := s.persistLocked(); err != nil {
		req.Status = models.RequestPending
		req.ApprovedAt = nil
		req.SessionToken = ""
		delete(s.sessions, ses.Token)
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"request_id":  req.ID,
		"device_name": req.DeviceName,
		"expires_at":  ses.ExpiresAt,
	}).Info("pairing request approved")

	return &Approval{
		Request:      *req,
		SessionToken: ses.Token,
		ExpiresAt:    ses.ExpiresAt,
	}, nil
}

// Deny transitions pending->denied. Denying a non-pending request is a
// no-op.
func (s *Service) Deny(id string) (*models.AccessRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()

	req, ok := s.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if req.Status != models.RequestPending {
		return nil, ErrNotPending
	}

	req.Status = models.RequestDenied
	if err := s.persistLocked(); err != nil {
		req.Status = models.RequestPending
		return nil, err
	}

	s.log.WithField("request_id", req.ID).Info("pairing request denied")
	out := *req
	return &out, nil
}

// Validation is the outcome of a session check.
type Validation struct {
	Authorized bool            `json:"authorized"`
	Reason     string          `json:"reason,omitempty"`
	Session    *models.Session `json:"session,omitempty"`
}

// ValidateSession checks the token and pins it to the presented
// fingerprint: a correct token from the wrong device fails. A successful
// validation writes last_seen_at through to disk.
func (s *Service) ValidateSession(tok, fingerprint string) Validation {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()

	ses, ok := s.sessions[tok]
	if !ok {
		return Validation{Reason: "unknown or expired session"}
	}
	now := s.now()
	if !ses.ExpiresAt.After(now) {
		return Validation{Reason: "unknown or expired session"}
	}
	if ses.Fingerprint != fingerprint {
		return Validation{Reason: "fingerprint mismatch"}
	}

	ses.LastSeenAt = now
	if err := s.persistLocked(); err != nil {
		s.log.WithError(err).Warn("persist session activity")
	}

	out := *ses
	return Validation{Authorized: true, Session: &out}
}

// ListApprovedDevices groups sessions by fingerprint into one roster row
// per physical device, sorted by most recent activity.
func (s *Service) ListApprovedDevices() []models.ApprovedDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()

	byFingerprint := make(map[string]*models.ApprovedDevice)
	for _, ses := range s.sessions {
		dev, ok := byFingerprint[ses.Fingerprint]
		if !ok {
			dev = &models.ApprovedDevice{
				Fingerprint: ses.Fingerprint,
				DeviceName:  ses.DeviceName,
			}
			byFingerprint[ses.Fingerprint] = dev
		}
		dev.Sessions++
		if ses.ApprovedAt.After(dev.LastApprovedAt) {
			dev.LastApprovedAt = ses.ApprovedAt
			dev.DeviceName = ses.DeviceName
		}
		if ses.LastSeenAt.After(dev.LastActiveAt) {
			dev.LastActiveAt = ses.LastSeenAt
		}
	}

	out := make([]models.ApprovedDevice, 0, len(byFingerprint))
	for _, dev := range byFingerprint {
		out = append(out, *dev)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActiveAt.After(out[j].LastActiveAt)
	})
	return out
}

// RemoveApprovedDevice purges every session sharing the fingerprint and
// flips any still-approved request for it to denied. Returns the number
// of sessions removed.
func (s *Service) RemoveApprovedDevice(fingerprint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()

	removed := 0
	for tok, ses := range s.sessions {
		if ses.Fingerprint == fingerprint {
			delete(s.sessions, tok)
			removed++
		}
	}
	for _, req := range s.requests {
		if req.Fingerprint == fingerprint && req.Status == models.RequestApproved {
			req.Status = models.RequestDenied
			req.SessionToken = ""
		}
	}
	if err := s.persistLocked(); err != nil {
		s.log.WithError(err).Warn("persist device removal")
	}

	if removed > 0 {
		s.log.WithFields(logrus.Fields{
			"fingerprint": fingerprint,
			"sessions":    removed,
		}).Info("approved device removed")
	}
	return removed
}

// cleanupLocked purges pending requests past the pending TTL, approved
// requests whose approval outlived the session TTL, and expired
// sessions. Callers hold s.mu.
func (s *Service) cleanupLocked() {
	now := s.now()
	dirty := false

	for id, req := range s.requests {
		switch req.Status {
		case models.RequestPending:
			if now.Sub(req.CreatedAt) > s.pendingTTL {
				delete(s.requests, id)
				dirty = true
			}
		case models.RequestApproved:
			if req.ApprovedAt != nil && now.Sub(*req.ApprovedAt) > s.sessionTTL {
				delete(s.requests, id)
				dirty = true
			}
		}
	}
	for tok, ses := range s.sessions {
		if !ses.ExpiresAt.After(now) {
			delete(s.sessions, tok)
			dirty = true
		}
	}

	if dirty {
		if err := s.persistLocked(); err != nil {
			s.log.WithError(err).Warn("persist access cleanup")
		}
	}
}

func (s *Service) persistLocked() error {
	doc := document{
		Requests: make([]*models.AccessRequest, 0, len(s.requests)),
		Sessions: make([]*models.Session, 0, len(s.sessions)),
	}
	for _, req := range s.requests {
		doc.Requests = append(doc.Requests, req)
	}
	for _, ses := range s.sessions {
		doc.Sessions = append(doc.Sessions, ses)
	}
	sort.Slice(doc.Requests, func(i, j int) bool {
		return doc.Requests[i].CreatedAt.Before(doc.Requests[j].CreatedAt)
	})
	sort.Slice(doc.Sessions, func(i, j int) bool {
		return doc.Sessions[i].CreatedAt.Before(doc.Sessions[j].CreatedAt)
	})
	return store.Save(s.storePath, &doc)
}

// Error definitions.
var (
	ErrMissingFingerprint = Error("fingerprint is required")
	ErrRequestNotFound    = Error("access request not found")
	ErrNotPending         = Error("access request is not pending")
)

type Error string

func (e Error) Error() string {
	return string(e)
}
