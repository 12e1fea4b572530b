package discovery

import (
	"io"
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

func TestBestIP(t *testing.T) {
	tests := []struct {
		name       string
		candidates []string
		want       string
	}{
		{
			name:       "private beats public",
			candidates: []string{"8.8.8.8", "192.168.1.5", "10.0.0.2"},
			want:       "10.0.0.2",
		},
		{
			name:       "172.16/12 beats 192.168/16",
			candidates: []string{"192.168.1.5", "172.20.0.7"},
			want:       "172.20.0.7",
		},
		{
			name:       "172 outside the private block is public",
			candidates: []string{"172.32.0.1", "192.168.0.1"},
			want:       "192.168.0.1",
		},
		{
			name:       "public beats unparseable",
			candidates: []string{"not-an-ip", "203.0.113.9"},
			want:       "203.0.113.9",
		},
		{
			name:       "ties broken by input order",
			candidates: []string{"10.0.0.1", "10.0.0.2"},
			want:       "10.0.0.1",
		},
		{
			name:       "ipv6 ranks below ipv4",
			candidates: []string{"fe80::1", "203.0.113.9"},
			want:       "203.0.113.9",
		},
		{
			name:       "empty input",
			candidates: nil,
			want:       "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BestIP(tt.candidates))
		})
	}
}

func TestAddManualPeer(t *testing.T) {
	m := NewManager(Config{DeviceID: "self"}, testLogger())

	peer := m.AddManualPeer("", "", "192.168.1.42", 7345)
	assert.Equal(t, "manual-192.168.1.42", peer.DeviceID)
	assert.Equal(t, "192.168.1.42", peer.DisplayName)
	assert.Equal(t, "192.168.1.42", peer.BestIP)
	assert.Equal(t, models.PeerManual, peer.Source)
	assert.Equal(t, models.PeerOnline, peer.Status)

	peers := m.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, peer.DeviceID, peers[0].DeviceID)
}

func TestSweepStale(t *testing.T) {
	m := NewManager(Config{DeviceID: "self", LivenessWindow: 10 * time.Second}, testLogger())

	m.AddManualPeer("fresh", "fresh", "192.168.1.2", 7345)
	m.AddManualPeer("stale", "stale", "192.168.1.3", 7345)

	// Age only the stale peer past the liveness window.
	m.mu.Lock()
	m.peers["stale"].LastSeenAt = time.Now().Add(-time.Minute)
	m.mu.Unlock()

	assert.Equal(t, 1, m.SweepStale())
	assert.Equal(t, 0, m.SweepStale(), "sweep is idempotent")

	byID := make(map[string]models.Peer)
	for _, p := range m.Peers() {
		byID[p.DeviceID] = p
	}
	// Offline peers stay in the table, they are never deleted.
	require.Len(t, byID, 2)
	assert.Equal(t, models.PeerOffline, byID["stale"].Status)
	assert.Equal(t, models.PeerOnline, byID["fresh"].Status)
}

func TestSweepRevivesOnUpsert(t *testing.T) {
	m := NewManager(Config{DeviceID: "self", LivenessWindow: 10 * time.Second}, testLogger())

	m.AddManualPeer("peer", "peer", "192.168.1.2", 7345)
	m.mu.Lock()
	m.peers["peer"].LastSeenAt = time.Now().Add(-time.Minute)
	m.mu.Unlock()
	require.Equal(t, 1, m.SweepStale())

	// A fresh observation flips the peer back online.
	m.AddManualPeer("peer", "peer", "192.168.1.2", 7345)
	assert.Equal(t, models.PeerOnline, m.Peers()[0].Status)
}

func TestSubscribe(t *testing.T) {
	m := NewManager(Config{DeviceID: "self", LivenessWindow: 10 * time.Second}, testLogger())

	calls := 0
	m.Subscribe(func() { calls++ })

	m.AddManualPeer("a", "a", "10.0.0.1", 7345)
	assert.Equal(t, 1, calls)

	m.mu.Lock()
	m.peers["a"].LastSeenAt = time.Now().Add(-time.Minute)
	m.mu.Unlock()
	m.SweepStale()
	assert.Equal(t, 2, calls)
}

func TestInstanceNameStable(t *testing.T) {
	a := NewManager(Config{DeviceID: "device-1"}, testLogger())
	b := NewManager(Config{DeviceID: "device-1"}, testLogger())
	c := NewManager(Config{DeviceID: "device-2"}, testLogger())

	assert.Equal(t, a.InstanceName(), b.InstanceName())
	assert.NotEqual(t, a.InstanceName(), c.InstanceName())
}

func TestTxtToMap(t *testing.T) {
	got := txtToMap([]string{"device_id=abc", "display_name=My NAS", "malformed", "=nokey", " role = host "})
	assert.Equal(t, "abc", got["device_id"])
	assert.Equal(t, "My NAS", got["display_name"])
	assert.Equal(t, "host", got["role"])
	_, ok := got[""]
	assert.False(t, ok)
}
