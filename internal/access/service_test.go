package access

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homedav/internal/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(filepath.Join(t.TempDir(), "access.json"), 10*time.Minute, time.Hour, testLogger())
	require.NoError(t, err)
	return svc
}

func TestCreateRequest(t *testing.T) {
	svc := newTestService(t)

	req, err := svc.CreateRequest("alice-phone", "fp-1", "ua", "192.168.1.9")
	require.NoError(t, err)

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, models.RequestPending, req.Status)
	assert.Equal(t, "fp-1", req.Fingerprint)

	got, err := svc.GetRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)
}

func TestCreateRequestRequiresFingerprint(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateRequest("phone", "", "ua", "ip")
	assert.ErrorIs(t, err, ErrMissingFingerprint)
	_, err = svc.CreateRequest("phone", "   ", "ua", "ip")
	assert.ErrorIs(t, err, ErrMissingFingerprint)
}

func TestApprove(t *testing.T) {
	svc := newTestService(t)

	req, err := svc.CreateRequest("phone", "fp-1", "ua", "ip")
	require.NoError(t, err)

	approval, err := svc.Approve(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestApproved, approval.Request.Status)
	assert.NotEmpty(t, approval.SessionToken)
	assert.True(t, approval.ExpiresAt.After(time.Now()))

	// The decision is final: a second approve must fail.
	_, err = svc.Approve(req.ID)
	assert.ErrorIs(t, err, ErrNotPending)
	_, err = svc.Deny(req.ID)
	assert.ErrorIs(t, err, ErrNotPending)

	// Polling sees the minted token.
	got, err := svc.GetRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.SessionToken, got.SessionToken)
}

func TestDeny(t *testing.T) {
	svc := newTestService(t)

	req, err := svc.CreateRequest("phone", "fp-1", "ua", "ip")
	require.NoError(t, err)

	denied, err := svc.Deny(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestDenied, denied.Status)

	_, err = svc.Approve(req.ID)
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestApproveUnknown(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Approve("nope")
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestValidateSession(t *testing.T) {
	svc := newTestService(t)

	req, err := svc.CreateRequest("phone", "fp-1", "ua", "ip")
	require.NoError(t, err)
	approval, err := svc.Approve(req.ID)
	require.NoError(t, err)

	ok := svc.ValidateSession(approval.SessionToken, "fp-1")
	assert.True(t, ok.Authorized)
	require.NotNil(t, ok.Session)

	// Correct token presented by a different device fails.
	bad := svc.ValidateSession(approval.SessionToken, "fp-other")
	assert.False(t, bad.Authorized)
	assert.Equal(t, "fingerprint mismatch", bad.Reason)

	unknown := svc.ValidateSession("not-a-token", "fp-1")
	assert.False(t, unknown.Authorized)
}

func TestValidateSessionExpiry(t *testing.T) {
	svc := newTestService(t)

	req, err := svc.CreateRequest("phone", "fp-1", "ua", "ip")
	require.NoError(t, err)
	approval, err := svc.Approve(req.ID)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	v := svc.ValidateSession(approval.SessionToken, "fp-1")
	assert.False(t, v.Authorized)
}

func TestPendingTTLCleanup(t *testing.T) {
	svc := newTestService(t)

	req, err := svc.CreateRequest("phone", "fp-1", "ua", "ip")
	require.NoError(t, err)
	assert.Len(t, svc.GetPending(), 1)

	svc.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	assert.Empty(t, svc.GetPending())
	_, err = svc.GetRequest(req.ID)
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestListApprovedDevices(t *testing.T) {
	svc := newTestService(t)

	// Two sessions for the same physical device, one for another.
	for i := 0; i < 2; i++ {
		req, err := svc.CreateRequest("laptop", "fp-laptop", "ua", "ip")
		require.NoError(t, err)
		_, err = svc.Approve(req.ID)
		require.NoError(t, err)
	}
	req, err := svc.CreateRequest("phone", "fp-phone", "ua", "ip")
	require.NoError(t, err)
	_, err = svc.Approve(req.ID)
	require.NoError(t, err)

	devices := svc.ListApprovedDevices()
	require.Len(t, devices, 2)

	byFP := make(map[string]models.ApprovedDevice)
	for _, d := range devices {
		byFP[d.Fingerprint] = d
	}
	assert.Equal(t, 2, byFP["fp-laptop"].Sessions)
	assert.Equal(t, 1, byFP["fp-phone"].Sessions)
}

func TestRemoveApprovedDevice(t *testing.T) {
	svc := newTestService(t)

	req, err := svc.CreateRequest("laptop", "fp-laptop", "ua", "ip")
	require.NoError(t, err)
	approval, err := svc.Approve(req.ID)
	require.NoError(t, err)

	removed := svc.RemoveApprovedDevice("fp-laptop")
	assert.Equal(t, 1, removed)

	// Session is gone and the request no longer reads approved.
	v := svc.ValidateSession(approval.SessionToken, "fp-laptop")
	assert.False(t, v.Authorized)
	got, err := svc.GetRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestDenied, got.Status)

	assert.Equal(t, 0, svc.RemoveApprovedDevice("fp-laptop"))
}

func TestPersistenceAcrossRestart(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "access.json")

	svc, err := NewService(storePath, 10*time.Minute, time.Hour, testLogger())
	require.NoError(t, err)
	req, err := svc.CreateRequest("phone", "fp-1", "ua", "ip")
	require.NoError(t, err)
	approval, err := svc.Approve(req.ID)
	require.NoError(t, err)

	reloaded, err := NewService(storePath, 10*time.Minute, time.Hour, testLogger())
	require.NoError(t, err)

	v := reloaded.ValidateSession(approval.SessionToken, "fp-1")
	assert.True(t, v.Authorized)
}
